package worker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/spec-kit/membership-backend/internal/service"
)

func TestNotificationWorkerDrainsOnStop(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	w := NewNotificationWorker(zap.New(core), 4)

	w.Deliver(context.Background(), service.Notification{Channel: service.ChannelEmail, Recipient: "u-1", Template: "ticket_resolved"})
	w.Deliver(context.Background(), service.Notification{Channel: service.ChannelWebhook, Recipient: "http://hook", Template: "ticket_created"})
	w.Start(context.Background())
	w.Stop()

	assert.Equal(t, 2, logs.FilterMessage("notification sent").Len())

	w.Deliver(context.Background(), service.Notification{Template: "late"})
	assert.Equal(t, 2, logs.FilterMessage("notification sent").Len())
}

func TestNotificationWorkerDropsWhenFull(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	w := NewNotificationWorker(zap.New(core), 1)

	w.Deliver(context.Background(), service.Notification{Template: "a"})
	w.Deliver(context.Background(), service.Notification{Template: "b"})

	assert.Equal(t, 1, logs.FilterMessage("notification queue full; dropping").Len())
	w.Stop()
}
