package dto

import (
	"time"

	"github.com/spec-kit/membership-backend/internal/domain"
)

// CreateTicketRequest is bound from JSON or multipart form fields.
type CreateTicketRequest struct {
	Subject     string `json:"subject" form:"subject"`
	Description string `json:"description" form:"description"`
	Category    string `json:"category" form:"category"`
	Priority    string `json:"priority" form:"priority"`
}

// RespondRequest is bound from JSON or multipart form fields.
type RespondRequest struct {
	Message string `json:"message" form:"message"`
}

// UpdateStatusRequest payload.
type UpdateStatusRequest struct {
	Status domain.TicketStatus `json:"status"`
}

// RateTicketRequest payload.
type RateTicketRequest struct {
	Rating int `json:"rating"`
}

// AssignTicketRequest payload.
type AssignTicketRequest struct {
	AgentID string `json:"agent_id"`
}

// UpdatePriorityRequest payload.
type UpdatePriorityRequest struct {
	Priority domain.TicketPriority `json:"priority"`
}

// TicketSummary is the list view of a ticket without its thread.
type TicketSummary struct {
	ID                 string                `json:"id"`
	UserID             string                `json:"user_id"`
	AssignedAgentID    *string               `json:"assigned_agent_id"`
	Subject            string                `json:"subject"`
	Status             domain.TicketStatus   `json:"status"`
	Priority           domain.TicketPriority `json:"priority"`
	Category           domain.TicketCategory `json:"category"`
	ResponseCount      int                   `json:"response_count"`
	AttachmentCount    int                   `json:"attachment_count"`
	SatisfactionRating *int                  `json:"satisfaction_rating"`
	CreatedAt          time.Time             `json:"created_at"`
	UpdatedAt          time.Time             `json:"updated_at"`
	ClosedAt           *time.Time            `json:"closed_at"`
}

// Pagination describes the page returned by list endpoints.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
}

// NewTicketSummary maps a ticket to its list view.
func NewTicketSummary(t *domain.Ticket) TicketSummary {
	return TicketSummary{
		ID:                 t.ID,
		UserID:             t.UserID,
		AssignedAgentID:    t.AssignedAgentID,
		Subject:            t.Subject,
		Status:             t.Status,
		Priority:           t.Priority,
		Category:           t.Category,
		ResponseCount:      len(t.Responses),
		AttachmentCount:    len(t.AllAttachments()),
		SatisfactionRating: t.SatisfactionRating,
		CreatedAt:          t.CreatedAt,
		UpdatedAt:          t.UpdatedAt,
		ClosedAt:           t.ClosedAt,
	}
}

// NewTicketSummaries maps a page of tickets.
func NewTicketSummaries(tickets []domain.Ticket) []TicketSummary {
	items := make([]TicketSummary, 0, len(tickets))
	for i := range tickets {
		items = append(items, NewTicketSummary(&tickets[i]))
	}
	return items
}
