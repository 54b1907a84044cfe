package domain

import "time"

// PurchaseStatus tracks the reconciliation state of a course purchase.
type PurchaseStatus string

const (
	PurchaseStatusPending   PurchaseStatus = "pending"
	PurchaseStatusCompleted PurchaseStatus = "completed"
	PurchaseStatusFailed    PurchaseStatus = "failed"
)

// CoursePurchase is a single-item purchase tied to one gateway order.
type CoursePurchase struct {
	ID               string         `json:"id"`
	UserID           string         `json:"user_id"`
	CourseID         string         `json:"course_id"`
	AmountMinor      int64          `json:"amount_minor"`
	Currency         string         `json:"currency"`
	GatewayOrderID   string         `json:"gateway_order_id"`
	GatewayPaymentID *string        `json:"gateway_payment_id"`
	Status           PurchaseStatus `json:"status"`
	PurchasedAt      *time.Time     `json:"purchased_at"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// GatewayOrder is the payment-provider side record of an intent to collect an amount.
type GatewayOrder struct {
	ID          string `json:"id"`
	AmountMinor int64  `json:"amount"`
	Currency    string `json:"currency"`
	Receipt     string `json:"receipt"`
}

// PaymentConfirmation is the client-supplied proof of payment returned by the gateway checkout.
type PaymentConfirmation struct {
	GatewayOrderID   string
	GatewayPaymentID string
	Signature        string
}
