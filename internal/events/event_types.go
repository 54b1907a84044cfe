package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/spec-kit/membership-backend/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventTicketCreated         EventType = "ticket_created"
	EventTicketResponseAdded   EventType = "ticket_response_added"
	EventTicketStatusChanged   EventType = "ticket_status_changed"
	EventTicketAssigned        EventType = "ticket_assigned"
	EventTicketPriorityChanged EventType = "ticket_priority_changed"
	EventTicketRated           EventType = "ticket_rated"
	EventTicketDeleted         EventType = "ticket_deleted"
	EventPaymentCompleted      EventType = "payment_completed"
	EventPaymentFailed         EventType = "payment_failed"
)

// Actor identifies who triggered an event.
type Actor struct {
	Role domain.Role `json:"role"`
	ID   string      `json:"id"`
}

// ActorFrom converts an authenticated principal.
func ActorFrom(p domain.Principal) Actor {
	return Actor{Role: p.Role, ID: p.ID}
}

// Event represents a domain event emitted by services. SubjectID is the ticket, purchase or
// order the event concerns.
type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	SubjectID string      `json:"subject_id"`
	Actor     Actor       `json:"actor"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// New stamps an event with a fresh id.
func New(eventType EventType, subjectID string, actor Actor, at time.Time, payload interface{}) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		SubjectID: subjectID,
		Actor:     actor,
		Timestamp: at,
		Payload:   payload,
	}
}

// TicketCreatedPayload payload.
type TicketCreatedPayload struct {
	OwnerID  string                `json:"owner_id"`
	Subject  string                `json:"subject"`
	Category domain.TicketCategory `json:"category"`
	Priority domain.TicketPriority `json:"priority"`
}

// TicketResponseAddedPayload payload.
type TicketResponseAddedPayload struct {
	ResponseID  string           `json:"response_id"`
	Responder   domain.Responder `json:"responder"`
	OwnerID     string           `json:"owner_id"`
	Attachments int              `json:"attachments"`
}

// TicketStatusChangedPayload payload.
type TicketStatusChangedPayload struct {
	OwnerID   string              `json:"owner_id"`
	Subject   string              `json:"subject"`
	OldStatus domain.TicketStatus `json:"old_status"`
	NewStatus domain.TicketStatus `json:"new_status"`
}

// TicketAssignedPayload payload.
type TicketAssignedPayload struct {
	OwnerID         string  `json:"owner_id"`
	AgentID         string  `json:"agent_id"`
	PreviousAgentID *string `json:"previous_agent_id,omitempty"`
}

// TicketPriorityChangedPayload payload.
type TicketPriorityChangedPayload struct {
	OldPriority domain.TicketPriority `json:"old_priority"`
	NewPriority domain.TicketPriority `json:"new_priority"`
}

// TicketRatedPayload payload.
type TicketRatedPayload struct {
	Rating int `json:"rating"`
}

// TicketDeletedPayload payload.
type TicketDeletedPayload struct {
	OwnerID     string `json:"owner_id"`
	Attachments int    `json:"attachments"`
}

// PaymentPayload describes a finalized course purchase or order payment.
type PaymentPayload struct {
	Flavor         string `json:"flavor"`
	UserID         string `json:"user_id"`
	GatewayOrderID string `json:"gateway_order_id"`
	PaymentID      string `json:"payment_id"`
	AmountMinor    int64  `json:"amount_minor"`
	Currency       string `json:"currency"`
}
