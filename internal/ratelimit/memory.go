package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryLimiter is a process-local sliding log. A janitor goroutine evicts keys whose
// events have all aged out of the window.
type MemoryLimiter struct {
	Window time.Duration

	mu     sync.Mutex
	events map[string][]time.Time
	now    func() time.Time
	stop   chan struct{}
	once   sync.Once
}

// NewInMemory starts a limiter and its janitor. Call Close to stop the janitor.
func NewInMemory(window time.Duration) *MemoryLimiter {
	l := &MemoryLimiter{
		Window: window,
		events: make(map[string][]time.Time),
		now:    time.Now,
		stop:   make(chan struct{}),
	}
	go l.janitor(window)
	return l
}

func (l *MemoryLimiter) Allow(_ context.Context, key string, limit int) (Decision, error) {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	live := prune(l.events[key], now.Add(-l.Window))
	resetAt := now.Add(l.Window)
	if len(live) > 0 {
		resetAt = live[0].Add(l.Window)
	}

	if len(live) >= limit {
		l.events[key] = live
		return Decision{Allowed: false, Remaining: 0, ResetAt: resetAt}, nil
	}

	live = append(live, now)
	l.events[key] = live
	return Decision{Allowed: true, Remaining: limit - len(live), ResetAt: live[0].Add(l.Window)}, nil
}

// Sweep drops expired events and empty keys.
func (l *MemoryLimiter) Sweep() {
	cutoff := l.now().Add(-l.Window)

	l.mu.Lock()
	defer l.mu.Unlock()
	for key, events := range l.events {
		live := prune(events, cutoff)
		if len(live) == 0 {
			delete(l.events, key)
			continue
		}
		l.events[key] = live
	}
}

// Close stops the janitor.
func (l *MemoryLimiter) Close() {
	l.once.Do(func() { close(l.stop) })
}

func (l *MemoryLimiter) keys() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.events)
}

func (l *MemoryLimiter) janitor(interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.Sweep()
		case <-l.stop:
			return
		}
	}
}

// prune drops events at or before cutoff. Events are kept in arrival order.
func prune(events []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(events) && !events[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return events
	}
	return append(events[:0:0], events[i:]...)
}
