package worker

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/spec-kit/membership-backend/internal/service"
)

const defaultQueueSize = 256

// NotificationWorker drains notifications on a background goroutine so event handlers never
// wait on delivery. Delivery itself is a logging stub.
type NotificationWorker struct {
	queue  chan service.Notification
	logger *zap.Logger
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewNotificationWorker creates a worker with a bounded queue.
func NewNotificationWorker(logger *zap.Logger, queueSize int) *NotificationWorker {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &NotificationWorker{queue: make(chan service.Notification, queueSize), logger: logger}
}

// Deliver enqueues n. When the queue is full the notification is dropped and logged.
func (w *NotificationWorker) Deliver(_ context.Context, n service.Notification) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return
	}
	select {
	case w.queue <- n:
	default:
		w.logger.Warn("notification queue full; dropping",
			zap.String("channel", string(n.Channel)),
			zap.String("template", n.Template),
			zap.String("event_id", n.EventID))
	}
}

// Start launches the drain loop. It stops when ctx is cancelled or Stop is called.
func (w *NotificationWorker) Start(ctx context.Context) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case n, ok := <-w.queue:
				if !ok {
					return
				}
				w.send(n)
			}
		}
	}()
}

// Stop closes the queue and waits for queued notifications to drain.
func (w *NotificationWorker) Stop() {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.queue)
	}
	w.mu.Unlock()
	w.wg.Wait()
}

func (w *NotificationWorker) send(n service.Notification) {
	w.logger.Info("notification sent",
		zap.String("channel", string(n.Channel)),
		zap.String("recipient", n.Recipient),
		zap.String("template", n.Template),
		zap.String("subject_id", n.SubjectID),
		zap.String("event_id", n.EventID))
}

// StartNotificationWorker registers notification handlers and starts draining.
func StartNotificationWorker(ctx context.Context, notificationService *service.NotificationService, w *NotificationWorker) {
	if notificationService == nil || w == nil {
		return
	}
	notificationService.RegisterHandlers()
	w.Start(ctx)
}
