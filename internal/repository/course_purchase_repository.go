package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/membership-backend/internal/domain"
)

// CoursePurchaseRepository persists single-course purchases and their reconciliation state.
type CoursePurchaseRepository interface {
	Create(ctx context.Context, purchase *domain.CoursePurchase) error
	GetByGatewayOrder(ctx context.Context, userID, gatewayOrderID string) (*domain.CoursePurchase, error)
	HasCompleted(ctx context.Context, userID, courseID string) (bool, error)
	MarkCompleted(ctx context.Context, userID, gatewayOrderID, paymentID string, at time.Time) (*domain.CoursePurchase, error)
	MarkFailed(ctx context.Context, userID, gatewayOrderID, paymentID string, at time.Time) (bool, error)
	ListCompletedByUser(ctx context.Context, userID string) ([]domain.CoursePurchase, error)
}

type coursePurchaseRepository struct {
	db DBTX
}

// NewCoursePurchaseRepository returns a Postgres-backed implementation.
func NewCoursePurchaseRepository(db DBTX) CoursePurchaseRepository {
	return &coursePurchaseRepository{db: db}
}

const purchaseColumns = `id, user_id, course_id, amount_minor, currency, gateway_order_id, gateway_payment_id,
               status, purchased_at, created_at, updated_at`

func (r *coursePurchaseRepository) Create(ctx context.Context, purchase *domain.CoursePurchase) error {
	const query = `
        INSERT INTO course_purchases (id, user_id, course_id, amount_minor, currency, gateway_order_id, status, created_at, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`
	_, err := r.db.Exec(ctx, query,
		purchase.ID,
		purchase.UserID,
		purchase.CourseID,
		purchase.AmountMinor,
		purchase.Currency,
		purchase.GatewayOrderID,
		purchase.Status,
		purchase.CreatedAt,
		purchase.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

func (r *coursePurchaseRepository) GetByGatewayOrder(ctx context.Context, userID, gatewayOrderID string) (*domain.CoursePurchase, error) {
	query := `SELECT ` + purchaseColumns + ` FROM course_purchases WHERE gateway_order_id=$1 AND user_id=$2`
	return scanPurchase(r.db.QueryRow(ctx, query, gatewayOrderID, userID))
}

func (r *coursePurchaseRepository) HasCompleted(ctx context.Context, userID, courseID string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM course_purchases WHERE user_id=$1 AND course_id=$2 AND status='completed')`
	var exists bool
	if err := r.db.QueryRow(ctx, query, userID, courseID).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

// MarkCompleted claims the pending purchase for gatewayOrderID. It returns ErrNotPending when
// no pending row matched and ErrDuplicate when the user already completed the same course.
func (r *coursePurchaseRepository) MarkCompleted(ctx context.Context, userID, gatewayOrderID, paymentID string, at time.Time) (*domain.CoursePurchase, error) {
	query := `
        UPDATE course_purchases SET status='completed', gateway_payment_id=$1, purchased_at=$2, updated_at=$2
        WHERE gateway_order_id=$3 AND user_id=$4 AND status='pending'
        RETURNING ` + purchaseColumns
	purchase, err := scanPurchase(r.db.QueryRow(ctx, query, paymentID, at, gatewayOrderID, userID))
	switch {
	case err == nil:
		return purchase, nil
	case errors.Is(err, pgx.ErrNoRows):
		return nil, ErrNotPending
	case isUniqueViolation(err):
		return nil, ErrDuplicate
	default:
		return nil, err
	}
}

// MarkFailed moves a pending purchase to failed and reports whether a row was claimed.
func (r *coursePurchaseRepository) MarkFailed(ctx context.Context, userID, gatewayOrderID, paymentID string, at time.Time) (bool, error) {
	const query = `
        UPDATE course_purchases SET status='failed', gateway_payment_id=$1, updated_at=$2
        WHERE gateway_order_id=$3 AND user_id=$4 AND status='pending'`
	cmd, err := r.db.Exec(ctx, query, paymentID, at, gatewayOrderID, userID)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() > 0, nil
}

func (r *coursePurchaseRepository) ListCompletedByUser(ctx context.Context, userID string) ([]domain.CoursePurchase, error) {
	query := `SELECT ` + purchaseColumns + ` FROM course_purchases
        WHERE user_id=$1 AND status='completed' ORDER BY purchased_at DESC`
	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.CoursePurchase
	for rows.Next() {
		purchase, err := scanPurchase(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *purchase)
	}
	return result, rows.Err()
}

func scanPurchase(row pgx.Row) (*domain.CoursePurchase, error) {
	var purchase domain.CoursePurchase
	if err := row.Scan(
		&purchase.ID,
		&purchase.UserID,
		&purchase.CourseID,
		&purchase.AmountMinor,
		&purchase.Currency,
		&purchase.GatewayOrderID,
		&purchase.GatewayPaymentID,
		&purchase.Status,
		&purchase.PurchasedAt,
		&purchase.CreatedAt,
		&purchase.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &purchase, nil
}
