package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/membership-backend/internal/domain"
)

// TicketFilter captures list parameters. Nil fields are not filtered on.
type TicketFilter struct {
	Status          *domain.TicketStatus
	Priority        *domain.TicketPriority
	Category        *domain.TicketCategory
	AssignedAgentID *string
	Unassigned      bool
	OwnerID         *string
	SearchText      string
	Limit           int
	Offset          int
}

// TicketRepository encapsulates ticket persistence.
type TicketRepository interface {
	Create(ctx context.Context, ticket *domain.Ticket) error
	Update(ctx context.Context, ticket *domain.Ticket) error
	GetByID(ctx context.Context, id string) (*domain.Ticket, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, filter TicketFilter) ([]domain.Ticket, int64, error)
	Stats(ctx context.Context) (*domain.TicketStats, error)
}

type ticketRepository struct {
	db DBTX
}

// NewTicketRepository instantiates repository.
func NewTicketRepository(db DBTX) TicketRepository {
	return &ticketRepository{db: db}
}

const ticketColumns = `id, user_id, assigned_agent_id, subject, description, status, priority, category,
               attachments, responses, satisfaction_rating, version, created_at, updated_at, closed_at`

func (r *ticketRepository) Create(ctx context.Context, ticket *domain.Ticket) error {
	attachments, responses, err := encodeThread(ticket)
	if err != nil {
		return err
	}
	const query = `
        INSERT INTO tickets (id, user_id, assigned_agent_id, subject, description, status, priority, category,
            attachments, responses, satisfaction_rating, version, created_at, updated_at, closed_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,1,$12,$13,$14)`
	if _, err := r.db.Exec(ctx, query,
		ticket.ID,
		ticket.UserID,
		ticket.AssignedAgentID,
		ticket.Subject,
		ticket.Description,
		ticket.Status,
		ticket.Priority,
		ticket.Category,
		attachments,
		responses,
		ticket.SatisfactionRating,
		ticket.CreatedAt,
		ticket.UpdatedAt,
		ticket.ClosedAt,
	); err != nil {
		return err
	}
	ticket.Version = 1
	return nil
}

// Update writes every mutable column when the stored version still matches ticket.Version.
// On success ticket.Version is advanced; a stale or missing row yields ErrVersionConflict.
func (r *ticketRepository) Update(ctx context.Context, ticket *domain.Ticket) error {
	attachments, responses, err := encodeThread(ticket)
	if err != nil {
		return err
	}
	const query = `
        UPDATE tickets SET assigned_agent_id=$1, subject=$2, description=$3, status=$4, priority=$5,
            category=$6, attachments=$7, responses=$8, satisfaction_rating=$9, closed_at=$10,
            updated_at=$11, version=version+1
        WHERE id=$12 AND version=$13`
	cmd, err := r.db.Exec(ctx, query,
		ticket.AssignedAgentID,
		ticket.Subject,
		ticket.Description,
		ticket.Status,
		ticket.Priority,
		ticket.Category,
		attachments,
		responses,
		ticket.SatisfactionRating,
		ticket.ClosedAt,
		ticket.UpdatedAt,
		ticket.ID,
		ticket.Version,
	)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrVersionConflict
	}
	ticket.Version++
	return nil
}

func (r *ticketRepository) GetByID(ctx context.Context, id string) (*domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE id=$1`
	ticket, err := scanTicket(r.db.QueryRow(ctx, query, id))
	if err != nil {
		return nil, err
	}
	return ticket, nil
}

func (r *ticketRepository) Delete(ctx context.Context, id string) error {
	cmd, err := r.db.Exec(ctx, `DELETE FROM tickets WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *ticketRepository) List(ctx context.Context, filter TicketFilter) ([]domain.Ticket, int64, error) {
	where, args := buildTicketWhere(filter)

	var total int64
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM tickets WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit, offset := clampLimit(filter.Limit, filter.Offset)
	query := fmt.Sprintf(`SELECT %s FROM tickets WHERE %s ORDER BY created_at DESC LIMIT %d OFFSET %d`,
		ticketColumns, where, limit, offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	tickets := make([]domain.Ticket, 0, limit)
	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			return nil, 0, err
		}
		tickets = append(tickets, *ticket)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return tickets, total, nil
}

func (r *ticketRepository) Stats(ctx context.Context) (*domain.TicketStats, error) {
	stats := &domain.TicketStats{
		ByStatus:   make(map[domain.TicketStatus]int64, len(domain.TicketStatuses)),
		ByPriority: make(map[domain.TicketPriority]int64, len(domain.TicketPriorities)),
	}
	for _, s := range domain.TicketStatuses {
		stats.ByStatus[s] = 0
	}
	for _, p := range domain.TicketPriorities {
		stats.ByPriority[p] = 0
	}

	statusRows, err := r.db.Query(ctx, `SELECT status, COUNT(*) FROM tickets GROUP BY status`)
	if err != nil {
		return nil, err
	}
	for statusRows.Next() {
		var status domain.TicketStatus
		var count int64
		if err := statusRows.Scan(&status, &count); err != nil {
			statusRows.Close()
			return nil, err
		}
		stats.ByStatus[status] = count
		stats.Total += count
	}
	statusRows.Close()
	if err := statusRows.Err(); err != nil {
		return nil, err
	}

	priorityRows, err := r.db.Query(ctx, `SELECT priority, COUNT(*) FROM tickets GROUP BY priority`)
	if err != nil {
		return nil, err
	}
	for priorityRows.Next() {
		var priority domain.TicketPriority
		var count int64
		if err := priorityRows.Scan(&priority, &count); err != nil {
			priorityRows.Close()
			return nil, err
		}
		stats.ByPriority[priority] = count
	}
	priorityRows.Close()
	if err := priorityRows.Err(); err != nil {
		return nil, err
	}

	var avg *float64
	const avgQuery = `SELECT ROUND(AVG(satisfaction_rating)::numeric, 1)::float8 FROM tickets WHERE satisfaction_rating IS NOT NULL`
	if err := r.db.QueryRow(ctx, avgQuery).Scan(&avg); err != nil {
		return nil, err
	}
	stats.AvgRating = avg
	return stats, nil
}

func buildTicketWhere(filter TicketFilter) (string, []any) {
	clauses := []string{"1=1"}
	args := []any{}

	if filter.Status != nil {
		args = append(args, *filter.Status)
		clauses = append(clauses, fmt.Sprintf("status=$%d", len(args)))
	}
	if filter.Priority != nil {
		args = append(args, *filter.Priority)
		clauses = append(clauses, fmt.Sprintf("priority=$%d", len(args)))
	}
	if filter.Category != nil {
		args = append(args, *filter.Category)
		clauses = append(clauses, fmt.Sprintf("category=$%d", len(args)))
	}
	if filter.Unassigned {
		clauses = append(clauses, "assigned_agent_id IS NULL")
	} else if filter.AssignedAgentID != nil {
		args = append(args, *filter.AssignedAgentID)
		clauses = append(clauses, fmt.Sprintf("assigned_agent_id=$%d", len(args)))
	}
	if filter.OwnerID != nil {
		args = append(args, *filter.OwnerID)
		clauses = append(clauses, fmt.Sprintf("user_id=$%d", len(args)))
	}
	if term := strings.TrimSpace(filter.SearchText); term != "" {
		args = append(args, "%"+escapeLike(term)+"%")
		placeholder := fmt.Sprintf("$%d", len(args))
		clauses = append(clauses, fmt.Sprintf(`(subject ILIKE %s ESCAPE '\' OR description ILIKE %s ESCAPE '\')`, placeholder, placeholder))
	}
	return strings.Join(clauses, " AND "), args
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(term string) string {
	return likeEscaper.Replace(term)
}

func encodeThread(ticket *domain.Ticket) ([]byte, []byte, error) {
	attachments := ticket.Attachments
	if attachments == nil {
		attachments = []domain.Attachment{}
	}
	responses := ticket.Responses
	if responses == nil {
		responses = []domain.Response{}
	}
	a, err := json.Marshal(attachments)
	if err != nil {
		return nil, nil, fmt.Errorf("encode attachments: %w", err)
	}
	rs, err := json.Marshal(responses)
	if err != nil {
		return nil, nil, fmt.Errorf("encode responses: %w", err)
	}
	return a, rs, nil
}

func scanTicket(row pgx.Row) (*domain.Ticket, error) {
	var (
		ticket      domain.Ticket
		attachments []byte
		responses   []byte
		closedAt    *time.Time
	)
	if err := row.Scan(
		&ticket.ID,
		&ticket.UserID,
		&ticket.AssignedAgentID,
		&ticket.Subject,
		&ticket.Description,
		&ticket.Status,
		&ticket.Priority,
		&ticket.Category,
		&attachments,
		&responses,
		&ticket.SatisfactionRating,
		&ticket.Version,
		&ticket.CreatedAt,
		&ticket.UpdatedAt,
		&closedAt,
	); err != nil {
		return nil, err
	}
	ticket.ClosedAt = closedAt
	if len(attachments) > 0 {
		if err := json.Unmarshal(attachments, &ticket.Attachments); err != nil {
			return nil, fmt.Errorf("decode attachments: %w", err)
		}
	}
	if len(responses) > 0 {
		if err := json.Unmarshal(responses, &ticket.Responses); err != nil {
			return nil, fmt.Errorf("decode responses: %w", err)
		}
	}
	return &ticket, nil
}
