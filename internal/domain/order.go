package domain

import "time"

// OrderStatus is the fulfilment status of a multi-item order.
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusPaid       OrderStatus = "paid"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCancelled  OrderStatus = "cancelled"
)

// AgentSettable reports whether an agent may set s directly. Paid is reserved for reconciliation.
func (s OrderStatus) AgentSettable() bool {
	switch s {
	case OrderStatusPending, OrderStatusProcessing, OrderStatusShipped, OrderStatusDelivered, OrderStatusCancelled:
		return true
	}
	return false
}

// TransactionStatus tracks the gateway transaction attached to an order.
type TransactionStatus string

const (
	TransactionPending TransactionStatus = "pending"
	TransactionSuccess TransactionStatus = "success"
	TransactionFailed  TransactionStatus = "failed"
)

// DigitalContentType classifies digital line items.
type DigitalContentType string

const (
	DigitalCourse   DigitalContentType = "course"
	DigitalCoaching DigitalContentType = "coaching"
	DigitalWebinar  DigitalContentType = "webinar"
	DigitalEbook    DigitalContentType = "ebook"
	DigitalVideo    DigitalContentType = "video"
	DigitalOther    DigitalContentType = "other"
)

// OrderItem is a snapshot of a product at purchase time.
type OrderItem struct {
	ProductID          string              `json:"product_id"`
	Name               string              `json:"name"`
	PriceMinor         int64               `json:"price_minor"`
	Quantity           int                 `json:"quantity"`
	IsDigital          bool                `json:"is_digital"`
	DigitalContentType *DigitalContentType `json:"digital_content_type,omitempty"`
}

// ShippingInfo holds the delivery address for physical goods.
type ShippingInfo struct {
	Address string `json:"address"`
	City    string `json:"city"`
	State   string `json:"state"`
	Country string `json:"country"`
	PinCode string `json:"pin_code"`
	Phone   string `json:"phone"`
}

// Transaction records the gateway side of an order payment.
type Transaction struct {
	GatewayOrderID   string            `json:"gateway_order_id"`
	GatewayPaymentID *string           `json:"gateway_payment_id"`
	GatewaySignature *string           `json:"-"`
	AmountMinor      int64             `json:"amount_minor"`
	Status           TransactionStatus `json:"status"`
}

// Order is a multi-item purchase reconciled against one gateway order.
type Order struct {
	ID               string        `json:"id"`
	UserID           string        `json:"user_id"`
	Items            []OrderItem   `json:"items"`
	TotalAmountMinor int64         `json:"total_amount_minor"`
	Currency         string        `json:"currency"`
	ShippingInfo     *ShippingInfo `json:"shipping_info,omitempty"`
	IsDigitalOrder   bool          `json:"is_digital_order"`
	Status           OrderStatus   `json:"status"`
	Transaction      Transaction   `json:"transaction"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

// NewOrder builds a pending order and derives IsDigitalOrder and the item total.
func NewOrder(userID string, items []OrderItem, shipping *ShippingInfo, currency string) *Order {
	order := &Order{
		UserID:       userID,
		Items:        items,
		Currency:     currency,
		ShippingInfo: shipping,
		Status:       OrderStatusPending,
	}
	order.IsDigitalOrder = AllDigital(items)
	order.TotalAmountMinor = ItemsTotal(items)
	order.Transaction = Transaction{AmountMinor: order.TotalAmountMinor, Status: TransactionPending}
	return order
}

// AllDigital reports whether every item is digital. An empty order is not digital.
func AllDigital(items []OrderItem) bool {
	if len(items) == 0 {
		return false
	}
	for _, item := range items {
		if !item.IsDigital {
			return false
		}
	}
	return true
}

// ItemsTotal sums price times quantity in minor units.
func ItemsTotal(items []OrderItem) int64 {
	var total int64
	for _, item := range items {
		total += item.PriceMinor * int64(item.Quantity)
	}
	return total
}

// PaidStatus is the fulfilment status applied when payment verification succeeds.
func (o *Order) PaidStatus() OrderStatus {
	if o.IsDigitalOrder {
		return OrderStatusDelivered
	}
	return OrderStatusPaid
}
