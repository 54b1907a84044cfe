package dto

import (
	"github.com/shopspring/decimal"

	"github.com/spec-kit/membership-backend/internal/domain"
)

// VerifyPaymentRequest carries the fields returned by the gateway checkout.
type VerifyPaymentRequest struct {
	GatewayOrderID   string `json:"razorpay_order_id"`
	GatewayPaymentID string `json:"razorpay_payment_id"`
	Signature        string `json:"razorpay_signature"`
}

// Confirmation converts the request to the domain value.
func (r VerifyPaymentRequest) Confirmation() domain.PaymentConfirmation {
	return domain.PaymentConfirmation{
		GatewayOrderID:   r.GatewayOrderID,
		GatewayPaymentID: r.GatewayPaymentID,
		Signature:        r.Signature,
	}
}

// OrderItemRequest is one requested line item.
type OrderItemRequest struct {
	ProductID          string                     `json:"product_id"`
	Name               string                     `json:"name"`
	Price              decimal.Decimal            `json:"price"`
	Quantity           int                        `json:"quantity"`
	IsDigital          bool                       `json:"is_digital"`
	DigitalContentType *domain.DigitalContentType `json:"digital_content_type"`
}

// CreateOrderRequest payload.
type CreateOrderRequest struct {
	Items        []OrderItemRequest   `json:"items"`
	ShippingInfo *domain.ShippingInfo `json:"shipping_info"`
}

// UpdateOrderStatusRequest payload.
type UpdateOrderStatusRequest struct {
	Status domain.OrderStatus `json:"status"`
}

// CourseAccessResponse reports whether the caller owns a course.
type CourseAccessResponse struct {
	CourseID  string `json:"course_id"`
	HasAccess bool   `json:"has_access"`
}
