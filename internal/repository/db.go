package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is the subset of pgxpool.Pool used by repositories. pgx transactions and
// pgxmock pools satisfy it as well.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var (
	// ErrVersionConflict is returned when an optimistic update lost a race with another writer.
	ErrVersionConflict = errors.New("repository: version conflict")
	// ErrNotPending is returned when a conditional claim found no pending row to transition.
	ErrNotPending = errors.New("repository: no pending record")
	// ErrDuplicate is returned when a write hit a unique constraint.
	ErrDuplicate = errors.New("repository: duplicate record")
)

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func clampLimit(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
