package service

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/membership-backend/internal/attachment"
	"github.com/spec-kit/membership-backend/internal/domain"
	"github.com/spec-kit/membership-backend/internal/events"
	"github.com/spec-kit/membership-backend/internal/observability"
	"github.com/spec-kit/membership-backend/internal/repository"
	apperrors "github.com/spec-kit/membership-backend/pkg/util/errorutil"
)

const (
	maxUpdateAttempts = 3
	defaultPageSize   = 10
	maxPageSize       = 100

	// AssignedUnassigned selects tickets without an agent in TicketFilter.AssignedAgentID.
	AssignedUnassigned = "unassigned"
)

// AttachmentStore persists uploaded files for tickets and responses.
type AttachmentStore interface {
	StoreMany(ctx context.Context, files []attachment.File) ([]domain.Attachment, error)
	Discard(ctx context.Context, attachments []domain.Attachment)
}

// TextSanitizer cleans user-supplied text before storage.
type TextSanitizer interface {
	Plain(input string) string
	Message(input string) string
}

// TicketService coordinates ticket workflows.
type TicketService struct {
	tickets     repository.TicketRepository
	attachments AttachmentStore
	sanitizer   TextSanitizer
	dispatcher  events.Dispatcher
	metrics     *observability.Metrics
	logger      *zap.Logger
	now         func() time.Time
}

// TicketDependencies bundles collaborators for the ticket service.
type TicketDependencies struct {
	TicketRepo  repository.TicketRepository
	Attachments AttachmentStore
	Sanitizer   TextSanitizer
	Dispatcher  events.Dispatcher
	Metrics     *observability.Metrics
	Logger      *zap.Logger
	Clock       func() time.Time
}

// CreateTicketInput describes ticket creation payload.
type CreateTicketInput struct {
	Subject     string
	Description string
	Category    domain.TicketCategory
	Priority    domain.TicketPriority
}

// TicketFilter describes list filters. Empty fields are ignored.
type TicketFilter struct {
	Status          domain.TicketStatus
	Priority        domain.TicketPriority
	Category        domain.TicketCategory
	AssignedAgentID string
	OwnerID         string
	SearchText      string
}

// TicketPage is one page of a ticket listing.
type TicketPage struct {
	Items      []domain.Ticket `json:"items"`
	Total      int64           `json:"total"`
	TotalPages int             `json:"total_pages"`
	Page       int             `json:"page"`
	PageSize   int             `json:"page_size"`
}

// NewTicketService constructs the service.
func NewTicketService(deps TicketDependencies) *TicketService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	return &TicketService{
		tickets:     deps.TicketRepo,
		attachments: deps.Attachments,
		sanitizer:   deps.Sanitizer,
		dispatcher:  deps.Dispatcher,
		metrics:     deps.Metrics,
		logger:      logger,
		now:         clock,
	}
}

// CreateTicket opens a ticket for ownerID. Files are stored first and discarded again if the
// ticket cannot be persisted.
func (s *TicketService) CreateTicket(ctx context.Context, ownerID string, input CreateTicketInput, files []attachment.File) (*domain.Ticket, error) {
	subject := s.sanitizer.Plain(input.Subject)
	description := s.sanitizer.Plain(input.Description)
	priority := input.Priority
	if priority == "" {
		priority = domain.TicketPriorityMedium
	}

	details := map[string]any{}
	switch {
	case subject == "":
		details["subject"] = "required"
	case utf8.RuneCountInString(subject) > domain.MaxSubjectLength:
		details["subject"] = "too long"
	}
	switch {
	case description == "":
		details["description"] = "required"
	case utf8.RuneCountInString(description) > domain.MaxDescriptionLength:
		details["description"] = "too long"
	}
	if input.Category == "" {
		details["category"] = "required"
	} else if !input.Category.Valid() {
		details["category"] = "invalid"
	}
	if !priority.Valid() {
		details["priority"] = "invalid"
	}
	if len(details) > 0 {
		return nil, apperrors.NewValidationError("invalid ticket", details)
	}

	stored, err := s.attachments.StoreMany(ctx, files)
	if err != nil {
		return nil, err
	}

	now := s.now()
	ticket := &domain.Ticket{
		ID:          uuid.NewString(),
		UserID:      ownerID,
		Subject:     subject,
		Description: description,
		Status:      domain.TicketStatusOpen,
		Priority:    priority,
		Category:    input.Category,
		Attachments: stored,
		Responses:   []domain.Response{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.tickets.Create(ctx, ticket); err != nil {
		s.attachments.Discard(ctx, stored)
		return nil, apperrors.MapError(err)
	}

	s.publishEvent(ctx, events.New(events.EventTicketCreated, ticket.ID,
		events.Actor{Role: domain.RoleCustomer, ID: ownerID}, now,
		events.TicketCreatedPayload{
			OwnerID:  ownerID,
			Subject:  ticket.Subject,
			Category: ticket.Category,
			Priority: ticket.Priority,
		}))
	return ticket, nil
}

// GetTicket returns a ticket to its owner or any agent.
func (s *TicketService) GetTicket(ctx context.Context, ticketID string, actor domain.Principal) (*domain.Ticket, error) {
	ticket, err := s.load(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if !canAccess(ticket, actor) {
		return nil, apperrors.NewForbidden("access denied")
	}
	return ticket, nil
}

// Respond appends a response from the owner or an agent. An agent replying to an open ticket
// moves it to in-progress and the owner replying to a resolved ticket reopens it. Closed
// tickets keep their status.
func (s *TicketService) Respond(ctx context.Context, ticketID string, actor domain.Principal, message string, files []attachment.File) (*domain.Ticket, error) {
	if strings.TrimSpace(message) == "" {
		return nil, apperrors.NewValidationError("message is required", map[string]any{"message": "required"})
	}
	clean := s.sanitizer.Message(message)
	if clean == "" {
		return nil, apperrors.NewValidationError("message is required", map[string]any{"message": "empty after sanitization"})
	}
	if utf8.RuneCountInString(clean) > domain.MaxMessageLength {
		return nil, apperrors.NewValidationError("message too long", map[string]any{"message": "too long"})
	}

	ticket, err := s.load(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if !canAccess(ticket, actor) {
		return nil, apperrors.NewForbidden("access denied")
	}

	stored, err := s.attachments.StoreMany(ctx, files)
	if err != nil {
		return nil, err
	}

	response := domain.Response{
		ID:          uuid.NewString(),
		Responder:   domain.ResponderFor(actor),
		Message:     clean,
		Attachments: stored,
	}
	var oldStatus domain.TicketStatus
	updated, err := s.update(ctx, ticket, func(t *domain.Ticket, now time.Time) error {
		oldStatus = t.Status
		response.CreatedAt = now
		t.Responses = append(t.Responses, response)
		switch {
		case actor.IsAgent() && t.Status == domain.TicketStatusOpen:
			t.SetStatus(domain.TicketStatusInProgress, now)
		case !actor.IsAgent() && t.IsOwnedBy(actor.ID) && t.Status == domain.TicketStatusResolved:
			t.SetStatus(domain.TicketStatusOpen, now)
		}
		return nil
	})
	if err != nil {
		s.attachments.Discard(ctx, stored)
		return nil, err
	}

	now := updated.UpdatedAt
	s.publishEvent(ctx, events.New(events.EventTicketResponseAdded, updated.ID, events.ActorFrom(actor), now,
		events.TicketResponseAddedPayload{
			ResponseID:  response.ID,
			Responder:   response.Responder,
			OwnerID:     updated.UserID,
			Attachments: len(stored),
		}))
	s.recordTransition(ctx, updated, actor, oldStatus)
	return updated, nil
}

// SetStatus changes the status. Agents may set any status; the owner may only resolve.
func (s *TicketService) SetStatus(ctx context.Context, ticketID string, actor domain.Principal, status domain.TicketStatus) (*domain.Ticket, error) {
	if !status.Valid() {
		return nil, apperrors.NewValidationError("invalid status", map[string]any{"status": string(status)})
	}

	var oldStatus domain.TicketStatus
	updated, err := s.mutate(ctx, ticketID, func(t *domain.Ticket, now time.Time) error {
		if !actor.IsAgent() {
			if !t.IsOwnedBy(actor.ID) {
				return apperrors.NewForbidden("access denied")
			}
			if status != domain.TicketStatusResolved {
				return apperrors.NewForbidden("owners may only mark a ticket resolved")
			}
		}
		oldStatus = t.Status
		if t.Status == status {
			return errNoChange
		}
		t.SetStatus(status, now)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.recordTransition(ctx, updated, actor, oldStatus)
	return updated, nil
}

// Assign sets the responsible agent and starts work on open tickets.
func (s *TicketService) Assign(ctx context.Context, ticketID string, actor domain.Principal, agentID string) (*domain.Ticket, error) {
	agentID = strings.TrimSpace(agentID)
	if agentID == "" {
		return nil, apperrors.NewValidationError("agent id is required", map[string]any{"agent_id": "required"})
	}

	var (
		oldStatus domain.TicketStatus
		previous  *string
	)
	updated, err := s.mutate(ctx, ticketID, func(t *domain.Ticket, now time.Time) error {
		oldStatus = t.Status
		previous = t.AssignedAgentID
		assignee := agentID
		t.AssignedAgentID = &assignee
		if t.Status == domain.TicketStatusOpen {
			t.SetStatus(domain.TicketStatusInProgress, now)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publishEvent(ctx, events.New(events.EventTicketAssigned, updated.ID, events.ActorFrom(actor), updated.UpdatedAt,
		events.TicketAssignedPayload{
			OwnerID:         updated.UserID,
			AgentID:         agentID,
			PreviousAgentID: previous,
		}))
	s.recordTransition(ctx, updated, actor, oldStatus)
	return updated, nil
}

// SetPriority changes ticket priority.
func (s *TicketService) SetPriority(ctx context.Context, ticketID string, actor domain.Principal, priority domain.TicketPriority) (*domain.Ticket, error) {
	if !priority.Valid() {
		return nil, apperrors.NewValidationError("invalid priority", map[string]any{"priority": string(priority)})
	}

	var oldPriority domain.TicketPriority
	updated, err := s.mutate(ctx, ticketID, func(t *domain.Ticket, _ time.Time) error {
		oldPriority = t.Priority
		if t.Priority == priority {
			return errNoChange
		}
		t.Priority = priority
		return nil
	})
	if err != nil {
		return nil, err
	}
	if oldPriority != updated.Priority {
		s.publishEvent(ctx, events.New(events.EventTicketPriorityChanged, updated.ID, events.ActorFrom(actor), updated.UpdatedAt,
			events.TicketPriorityChangedPayload{OldPriority: oldPriority, NewPriority: updated.Priority}))
	}
	return updated, nil
}

// Rate records the owner's satisfaction rating on a resolved or closed ticket.
func (s *TicketService) Rate(ctx context.Context, ticketID, ownerID string, rating int) (*domain.Ticket, error) {
	if rating < domain.MinRating || rating > domain.MaxRating {
		return nil, apperrors.NewValidationError("rating must be between 1 and 5", map[string]any{"rating": rating})
	}

	updated, err := s.mutate(ctx, ticketID, func(t *domain.Ticket, _ time.Time) error {
		if !t.IsOwnedBy(ownerID) {
			return apperrors.NewForbidden("only the ticket owner may rate it")
		}
		if !t.Status.IsFinished() {
			return apperrors.NewInvalidState("ticket must be resolved or closed before rating",
				map[string]any{"status": string(t.Status)})
		}
		value := rating
		t.SatisfactionRating = &value
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publishEvent(ctx, events.New(events.EventTicketRated, updated.ID,
		events.Actor{Role: domain.RoleCustomer, ID: ownerID}, updated.UpdatedAt,
		events.TicketRatedPayload{Rating: rating}))
	return updated, nil
}

// DeleteTicket discards every attachment of the ticket and its responses, then removes the record.
func (s *TicketService) DeleteTicket(ctx context.Context, ticketID string, actor domain.Principal) error {
	ticket, err := s.load(ctx, ticketID)
	if err != nil {
		return err
	}

	all := ticket.AllAttachments()
	s.attachments.Discard(ctx, all)

	if err := s.tickets.Delete(ctx, ticketID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.NewNotFound("ticket", map[string]any{"ticket_id": ticketID})
		}
		return apperrors.MapError(err)
	}

	s.publishEvent(ctx, events.New(events.EventTicketDeleted, ticketID, events.ActorFrom(actor), s.now(),
		events.TicketDeletedPayload{OwnerID: ticket.UserID, Attachments: len(all)}))
	return nil
}

// List returns a page of tickets, newest first. pageSize is clamped to [1,100] with a default
// of 10 and page to at least 1.
func (s *TicketService) List(ctx context.Context, filter TicketFilter, page, pageSize int) (*TicketPage, error) {
	repoFilter, err := toRepositoryFilter(filter)
	if err != nil {
		return nil, err
	}

	page, pageSize = clampPage(page, pageSize)
	repoFilter.Limit = pageSize
	repoFilter.Offset = (page - 1) * pageSize

	items, total, err := s.tickets.List(ctx, repoFilter)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	if items == nil {
		items = []domain.Ticket{}
	}
	return &TicketPage{
		Items:      items,
		Total:      total,
		TotalPages: int(math.Ceil(float64(total) / float64(pageSize))),
		Page:       page,
		PageSize:   pageSize,
	}, nil
}

// Stats returns counts by status and priority and the average rating.
func (s *TicketService) Stats(ctx context.Context) (*domain.TicketStats, error) {
	stats, err := s.tickets.Stats(ctx)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	if stats.AvgRating != nil {
		rounded := math.Round(*stats.AvgRating*10) / 10
		stats.AvgRating = &rounded
	}
	return stats, nil
}

var errNoChange = errors.New("no change")

// mutate loads the ticket and applies fn under optimistic concurrency.
func (s *TicketService) mutate(ctx context.Context, ticketID string, fn func(*domain.Ticket, time.Time) error) (*domain.Ticket, error) {
	ticket, err := s.load(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	return s.update(ctx, ticket, fn)
}

// update applies fn to ticket and writes it. On a version conflict the ticket is reloaded and
// fn is applied again, so appends made by concurrent writers are never lost. fn returning
// errNoChange skips the write.
func (s *TicketService) update(ctx context.Context, ticket *domain.Ticket, fn func(*domain.Ticket, time.Time) error) (*domain.Ticket, error) {
	for attempt := 1; ; attempt++ {
		now := s.now()
		if err := fn(ticket, now); err != nil {
			if errors.Is(err, errNoChange) {
				return ticket, nil
			}
			return nil, err
		}
		ticket.UpdatedAt = now

		err := s.tickets.Update(ctx, ticket)
		if err == nil {
			return ticket, nil
		}
		if !errors.Is(err, repository.ErrVersionConflict) {
			return nil, apperrors.MapError(err)
		}
		if attempt >= maxUpdateAttempts {
			s.logger.Warn("ticket update conflict retries exhausted", zap.String("ticket_id", ticket.ID))
			return nil, apperrors.NewConflict("ticket was modified concurrently, please retry",
				map[string]any{"ticket_id": ticket.ID})
		}
		if ticket, err = s.load(ctx, ticket.ID); err != nil {
			return nil, err
		}
	}
}

func (s *TicketService) load(ctx context.Context, ticketID string) (*domain.Ticket, error) {
	ticket, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("ticket", map[string]any{"ticket_id": ticketID})
		}
		return nil, apperrors.MapError(err)
	}
	return ticket, nil
}

func (s *TicketService) recordTransition(ctx context.Context, ticket *domain.Ticket, actor domain.Principal, from domain.TicketStatus) {
	if from == "" || from == ticket.Status {
		return
	}
	s.metrics.RecordTicketTransition(string(from), string(ticket.Status))
	s.publishEvent(ctx, events.New(events.EventTicketStatusChanged, ticket.ID, events.ActorFrom(actor), ticket.UpdatedAt,
		events.TicketStatusChangedPayload{
			OwnerID:   ticket.UserID,
			Subject:   ticket.Subject,
			OldStatus: from,
			NewStatus: ticket.Status,
		}))
}

func (s *TicketService) publishEvent(ctx context.Context, event events.Event) {
	if s.dispatcher == nil {
		return
	}
	if err := s.dispatcher.Publish(ctx, event); err != nil {
		s.logger.Warn("event publish failed", zap.String("event_type", string(event.Type)), zap.Error(err))
	}
}

func canAccess(ticket *domain.Ticket, actor domain.Principal) bool {
	return actor.IsAgent() || ticket.IsOwnedBy(actor.ID)
}

func clampPage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	switch {
	case pageSize == 0:
		pageSize = defaultPageSize
	case pageSize < 1:
		pageSize = 1
	case pageSize > maxPageSize:
		pageSize = maxPageSize
	}
	return page, pageSize
}

func toRepositoryFilter(filter TicketFilter) (repository.TicketFilter, error) {
	var out repository.TicketFilter
	details := map[string]any{}

	if filter.Status != "" {
		if !filter.Status.Valid() {
			details["status"] = "invalid"
		}
		status := filter.Status
		out.Status = &status
	}
	if filter.Priority != "" {
		if !filter.Priority.Valid() {
			details["priority"] = "invalid"
		}
		priority := filter.Priority
		out.Priority = &priority
	}
	if filter.Category != "" {
		if !filter.Category.Valid() {
			details["category"] = "invalid"
		}
		category := filter.Category
		out.Category = &category
	}
	if len(details) > 0 {
		return out, apperrors.NewValidationError("invalid filter", details)
	}

	switch filter.AssignedAgentID {
	case "":
	case AssignedUnassigned:
		out.Unassigned = true
	default:
		agent := filter.AssignedAgentID
		out.AssignedAgentID = &agent
	}
	if filter.OwnerID != "" {
		owner := filter.OwnerID
		out.OwnerID = &owner
	}
	out.SearchText = filter.SearchText
	return out, nil
}
