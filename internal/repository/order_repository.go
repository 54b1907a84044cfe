package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/membership-backend/internal/domain"
)

// OrderRepository persists multi-item orders and their gateway transactions.
type OrderRepository interface {
	Create(ctx context.Context, order *domain.Order) error
	GetByID(ctx context.Context, id string) (*domain.Order, error)
	GetByGatewayOrder(ctx context.Context, userID, gatewayOrderID string) (*domain.Order, error)
	MarkPaid(ctx context.Context, userID, gatewayOrderID, paymentID, signature string, status domain.OrderStatus, at time.Time) (*domain.Order, error)
	MarkFailed(ctx context.Context, userID, gatewayOrderID, paymentID, signature string, at time.Time) (bool, error)
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]domain.Order, error)
	ListAll(ctx context.Context, limit, offset int) ([]domain.Order, int64, error)
	UpdateStatus(ctx context.Context, id string, status domain.OrderStatus, at time.Time) (*domain.Order, error)
}

type orderRepository struct {
	db DBTX
}

// NewOrderRepository returns a Postgres-backed implementation.
func NewOrderRepository(db DBTX) OrderRepository {
	return &orderRepository{db: db}
}

const orderColumns = `id, user_id, items, total_amount_minor, currency, shipping_info, is_digital_order, status,
               gateway_order_id, gateway_payment_id, gateway_signature, transaction_status, created_at, updated_at`

func (r *orderRepository) Create(ctx context.Context, order *domain.Order) error {
	items, err := json.Marshal(order.Items)
	if err != nil {
		return fmt.Errorf("encode items: %w", err)
	}
	var shipping []byte
	if order.ShippingInfo != nil {
		if shipping, err = json.Marshal(order.ShippingInfo); err != nil {
			return fmt.Errorf("encode shipping info: %w", err)
		}
	}
	const query = `
        INSERT INTO orders (id, user_id, items, total_amount_minor, currency, shipping_info, is_digital_order, status,
            gateway_order_id, transaction_status, created_at, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`
	_, err = r.db.Exec(ctx, query,
		order.ID,
		order.UserID,
		items,
		order.TotalAmountMinor,
		order.Currency,
		shipping,
		order.IsDigitalOrder,
		order.Status,
		order.Transaction.GatewayOrderID,
		order.Transaction.Status,
		order.CreatedAt,
		order.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

func (r *orderRepository) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id=$1`
	return scanOrder(r.db.QueryRow(ctx, query, id))
}

func (r *orderRepository) GetByGatewayOrder(ctx context.Context, userID, gatewayOrderID string) (*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE gateway_order_id=$1 AND user_id=$2`
	return scanOrder(r.db.QueryRow(ctx, query, gatewayOrderID, userID))
}

// MarkPaid claims the pending transaction for gatewayOrderID, recording the payment and moving the
// order to status. It returns ErrNotPending when the transaction was already finalized.
func (r *orderRepository) MarkPaid(ctx context.Context, userID, gatewayOrderID, paymentID, signature string, status domain.OrderStatus, at time.Time) (*domain.Order, error) {
	query := `
        UPDATE orders SET transaction_status='success', gateway_payment_id=$1, gateway_signature=$2,
            status=$3, updated_at=$4
        WHERE gateway_order_id=$5 AND user_id=$6 AND transaction_status='pending'
        RETURNING ` + orderColumns
	order, err := scanOrder(r.db.QueryRow(ctx, query, paymentID, signature, status, at, gatewayOrderID, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotPending
	}
	return order, err
}

// MarkFailed moves a pending transaction to failed and reports whether a row was claimed.
func (r *orderRepository) MarkFailed(ctx context.Context, userID, gatewayOrderID, paymentID, signature string, at time.Time) (bool, error) {
	const query = `
        UPDATE orders SET transaction_status='failed', gateway_payment_id=$1, gateway_signature=$2, updated_at=$3
        WHERE gateway_order_id=$4 AND user_id=$5 AND transaction_status='pending'`
	cmd, err := r.db.Exec(ctx, query, paymentID, signature, at, gatewayOrderID, userID)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() > 0, nil
}

func (r *orderRepository) ListByUser(ctx context.Context, userID string, limit, offset int) ([]domain.Order, error) {
	limit, offset = clampLimit(limit, offset)
	query := fmt.Sprintf(`SELECT %s FROM orders WHERE user_id=$1 ORDER BY created_at DESC LIMIT %d OFFSET %d`,
		orderColumns, limit, offset)
	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanOrders(rows)
}

func (r *orderRepository) ListAll(ctx context.Context, limit, offset int) ([]domain.Order, int64, error) {
	var total int64
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM orders`).Scan(&total); err != nil {
		return nil, 0, err
	}
	limit, offset = clampLimit(limit, offset)
	query := fmt.Sprintf(`SELECT %s FROM orders ORDER BY created_at DESC LIMIT %d OFFSET %d`,
		orderColumns, limit, offset)
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	orders, err := scanOrders(rows)
	if err != nil {
		return nil, 0, err
	}
	return orders, total, nil
}

func (r *orderRepository) UpdateStatus(ctx context.Context, id string, status domain.OrderStatus, at time.Time) (*domain.Order, error) {
	query := `UPDATE orders SET status=$1, updated_at=$2 WHERE id=$3 RETURNING ` + orderColumns
	return scanOrder(r.db.QueryRow(ctx, query, status, at, id))
}

func scanOrders(rows pgx.Rows) ([]domain.Order, error) {
	var result []domain.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *order)
	}
	return result, rows.Err()
}

func scanOrder(row pgx.Row) (*domain.Order, error) {
	var (
		order    domain.Order
		items    []byte
		shipping []byte
	)
	if err := row.Scan(
		&order.ID,
		&order.UserID,
		&items,
		&order.TotalAmountMinor,
		&order.Currency,
		&shipping,
		&order.IsDigitalOrder,
		&order.Status,
		&order.Transaction.GatewayOrderID,
		&order.Transaction.GatewayPaymentID,
		&order.Transaction.GatewaySignature,
		&order.Transaction.Status,
		&order.CreatedAt,
		&order.UpdatedAt,
	); err != nil {
		return nil, err
	}
	order.Transaction.AmountMinor = order.TotalAmountMinor
	if err := json.Unmarshal(items, &order.Items); err != nil {
		return nil, fmt.Errorf("decode items: %w", err)
	}
	if len(shipping) > 0 {
		order.ShippingInfo = &domain.ShippingInfo{}
		if err := json.Unmarshal(shipping, order.ShippingInfo); err != nil {
			return nil, fmt.Errorf("decode shipping info: %w", err)
		}
	}
	return &order, nil
}
