package service

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/spec-kit/membership-backend/internal/config"
	"github.com/spec-kit/membership-backend/internal/domain"
	"github.com/spec-kit/membership-backend/internal/events"
)

// NotificationChannel names a delivery medium.
type NotificationChannel string

const (
	ChannelEmail   NotificationChannel = "email"
	ChannelWebhook NotificationChannel = "webhook"
)

// Notification is a single message decided by the notification rules.
type Notification struct {
	Channel   NotificationChannel
	Recipient string
	Template  string
	SubjectID string
	EventID   string
}

// Notifier delivers notifications. Delivery is best-effort.
type Notifier interface {
	Deliver(ctx context.Context, n Notification)
}

// NotificationService turns domain events into notifications.
type NotificationService struct {
	dispatcher events.Dispatcher
	notifier   Notifier
	logger     *zap.Logger
	cfg        config.NotificationConfig
}

// NewNotificationService creates the service.
func NewNotificationService(dispatcher events.Dispatcher, notifier Notifier, logger *zap.Logger, cfg config.NotificationConfig) *NotificationService {
	return &NotificationService{
		dispatcher: dispatcher,
		notifier:   notifier,
		logger:     logger,
		cfg:        cfg,
	}
}

// RegisterHandlers subscribes to events.
func (n *NotificationService) RegisterHandlers() {
	if n.dispatcher == nil {
		return
	}
	n.dispatcher.Subscribe(events.EventTicketCreated, n.handleTicketCreated)
	n.dispatcher.Subscribe(events.EventTicketStatusChanged, n.handleTicketStatusChanged)
	n.dispatcher.Subscribe(events.EventTicketAssigned, n.handleTicketAssigned)
	n.dispatcher.Subscribe(events.EventTicketResponseAdded, n.handleTicketResponseAdded)
	n.dispatcher.Subscribe(events.EventPaymentCompleted, n.handlePaymentCompleted)
}

func (n *NotificationService) handleTicketCreated(ctx context.Context, event events.Event) error {
	n.logger.Info("TicketCreated", zap.String("ticket_id", event.SubjectID), zap.Any("payload", event.Payload))
	n.sendWebhook(ctx, event, "ticket_created")
	return nil
}

// Owners hear about resolution and closure only.
func (n *NotificationService) handleTicketStatusChanged(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.TicketStatusChangedPayload)
	if !ok {
		return nil
	}
	n.logger.Info("TicketStatusChanged",
		zap.String("ticket_id", event.SubjectID),
		zap.String("from", string(payload.OldStatus)),
		zap.String("to", string(payload.NewStatus)))
	n.sendWebhook(ctx, event, "ticket_status_changed")
	if payload.NewStatus.IsFinished() {
		n.sendEmail(ctx, event, payload.OwnerID, "ticket_"+string(payload.NewStatus))
	}
	return nil
}

func (n *NotificationService) handleTicketAssigned(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.TicketAssignedPayload)
	if !ok {
		return nil
	}
	n.logger.Info("TicketAssigned", zap.String("ticket_id", event.SubjectID), zap.String("agent_id", payload.AgentID))
	n.sendEmail(ctx, event, payload.AgentID, "ticket_assigned_agent")
	n.sendEmail(ctx, event, payload.OwnerID, "ticket_assigned_owner")
	return nil
}

// Customers are told when an agent replies; agent-side alerts go through the webhook.
func (n *NotificationService) handleTicketResponseAdded(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.TicketResponseAddedPayload)
	if !ok {
		return nil
	}
	n.logger.Info("TicketResponseAdded", zap.String("ticket_id", event.SubjectID), zap.String("response_id", payload.ResponseID))
	if payload.Responder.Type == domain.ResponderAgent {
		n.sendEmail(ctx, event, payload.OwnerID, "ticket_agent_reply")
		return nil
	}
	n.sendWebhook(ctx, event, "ticket_customer_reply")
	return nil
}

func (n *NotificationService) handlePaymentCompleted(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.PaymentPayload)
	if !ok {
		return nil
	}
	n.logger.Info("PaymentCompleted",
		zap.String("subject_id", event.SubjectID),
		zap.String("flavor", payload.Flavor),
		zap.String("gateway_order_id", payload.GatewayOrderID))
	n.sendEmail(ctx, event, payload.UserID, payload.Flavor+"_receipt")
	return nil
}

func (n *NotificationService) sendEmail(ctx context.Context, event events.Event, recipient, template string) {
	if strings.TrimSpace(n.cfg.EmailFrom) == "" || recipient == "" || n.notifier == nil {
		return
	}
	n.notifier.Deliver(ctx, Notification{
		Channel:   ChannelEmail,
		Recipient: recipient,
		Template:  template,
		SubjectID: event.SubjectID,
		EventID:   event.ID,
	})
}

func (n *NotificationService) sendWebhook(ctx context.Context, event events.Event, template string) {
	if strings.TrimSpace(n.cfg.WebhookURL) == "" || n.notifier == nil {
		return
	}
	n.notifier.Deliver(ctx, Notification{
		Channel:   ChannelWebhook,
		Recipient: n.cfg.WebhookURL,
		Template:  template,
		SubjectID: event.SubjectID,
		EventID:   event.ID,
	})
}
