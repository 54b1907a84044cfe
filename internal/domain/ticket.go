package domain

import "time"

// TicketStatus enumerates lifecycle states for tickets.
type TicketStatus string

const (
	TicketStatusOpen       TicketStatus = "open"
	TicketStatusInProgress TicketStatus = "in-progress"
	TicketStatusResolved   TicketStatus = "resolved"
	TicketStatusClosed     TicketStatus = "closed"
)

// TicketStatuses lists every status in display order.
var TicketStatuses = []TicketStatus{TicketStatusOpen, TicketStatusInProgress, TicketStatusResolved, TicketStatusClosed}

// Valid reports whether s is a known status.
func (s TicketStatus) Valid() bool {
	switch s {
	case TicketStatusOpen, TicketStatusInProgress, TicketStatusResolved, TicketStatusClosed:
		return true
	}
	return false
}

// IsFinished reports whether the status counts as resolved for closedAt and rating purposes.
func (s TicketStatus) IsFinished() bool {
	return s == TicketStatusResolved || s == TicketStatusClosed
}

// TicketPriority enumerates SLA urgency.
type TicketPriority string

const (
	TicketPriorityLow    TicketPriority = "low"
	TicketPriorityMedium TicketPriority = "medium"
	TicketPriorityHigh   TicketPriority = "high"
	TicketPriorityUrgent TicketPriority = "urgent"
)

// TicketPriorities lists every priority from lowest to highest.
var TicketPriorities = []TicketPriority{TicketPriorityLow, TicketPriorityMedium, TicketPriorityHigh, TicketPriorityUrgent}

// Valid reports whether p is a known priority.
func (p TicketPriority) Valid() bool {
	switch p {
	case TicketPriorityLow, TicketPriorityMedium, TicketPriorityHigh, TicketPriorityUrgent:
		return true
	}
	return false
}

// TicketCategory groups tickets by topic.
type TicketCategory string

const (
	TicketCategoryTechnical TicketCategory = "technical"
	TicketCategoryBilling   TicketCategory = "billing"
	TicketCategoryProduct   TicketCategory = "product"
	TicketCategoryGeneral   TicketCategory = "general"
)

// Valid reports whether c is a known category.
func (c TicketCategory) Valid() bool {
	switch c {
	case TicketCategoryTechnical, TicketCategoryBilling, TicketCategoryProduct, TicketCategoryGeneral:
		return true
	}
	return false
}

// Field limits enforced on write.
const (
	MaxSubjectLength     = 200
	MaxDescriptionLength = 2000
	MaxMessageLength     = 5000
	MinRating            = 1
	MaxRating            = 5
)

// Ticket is the aggregate for support requests. Responses and attachments are owned sub-records.
type Ticket struct {
	ID                 string         `json:"id"`
	UserID             string         `json:"user_id"`
	AssignedAgentID    *string        `json:"assigned_agent_id"`
	Subject            string         `json:"subject"`
	Description        string         `json:"description"`
	Status             TicketStatus   `json:"status"`
	Priority           TicketPriority `json:"priority"`
	Category           TicketCategory `json:"category"`
	Attachments        []Attachment   `json:"attachments"`
	Responses          []Response     `json:"responses"`
	SatisfactionRating *int           `json:"satisfaction_rating"`
	Version            int64          `json:"-"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
	ClosedAt           *time.Time     `json:"closed_at"`
}

// SetStatus moves the ticket to status and recomputes ClosedAt: it is set when the
// ticket becomes resolved or closed and cleared for any other status.
func (t *Ticket) SetStatus(status TicketStatus, now time.Time) {
	t.Status = status
	if status.IsFinished() {
		closed := now
		t.ClosedAt = &closed
	} else {
		t.ClosedAt = nil
	}
}

// IsOwnedBy reports whether userID created the ticket.
func (t *Ticket) IsOwnedBy(userID string) bool {
	return userID != "" && t.UserID == userID
}

// AllAttachments collects the ticket's own attachments and those of every response.
func (t *Ticket) AllAttachments() []Attachment {
	all := make([]Attachment, 0, len(t.Attachments))
	all = append(all, t.Attachments...)
	for _, resp := range t.Responses {
		all = append(all, resp.Attachments...)
	}
	return all
}

// TicketStats summarizes ticket volume for the staff overview.
type TicketStats struct {
	Total      int64                    `json:"total"`
	ByStatus   map[TicketStatus]int64   `json:"by_status"`
	ByPriority map[TicketPriority]int64 `json:"by_priority"`
	AvgRating  *float64                 `json:"avg_rating"`
}
