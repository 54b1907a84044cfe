package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/spec-kit/membership-backend/internal/domain"
	"github.com/spec-kit/membership-backend/internal/events"
	"github.com/spec-kit/membership-backend/internal/observability"
	"github.com/spec-kit/membership-backend/internal/payment"
	"github.com/spec-kit/membership-backend/internal/repository"
	apperrors "github.com/spec-kit/membership-backend/pkg/util/errorutil"
)

const (
	flavorCourse = "course"
	flavorOrder  = "order"
)

// SignatureVerifier checks a client-supplied payment signature.
type SignatureVerifier interface {
	Verify(orderID, paymentID, signature string) bool
}

// OrderService reconciles course purchases and multi-item orders against the payment gateway.
type OrderService struct {
	purchases  repository.CoursePurchaseRepository
	courses    repository.CourseCatalog
	orders     repository.OrderRepository
	gateway    payment.Gateway
	verifier   SignatureVerifier
	dispatcher events.Dispatcher
	metrics    *observability.Metrics
	logger     *zap.Logger
	currency   string
	now        func() time.Time
}

// OrderDependencies bundles collaborators for the order service.
type OrderDependencies struct {
	PurchaseRepo repository.CoursePurchaseRepository
	Courses      repository.CourseCatalog
	OrderRepo    repository.OrderRepository
	Gateway      payment.Gateway
	Verifier     SignatureVerifier
	Dispatcher   events.Dispatcher
	Metrics      *observability.Metrics
	Logger       *zap.Logger
	Currency     string
	Clock        func() time.Time
}

// PurchaseInitiation is returned to the client to open the gateway checkout. Amount is the
// charged price in major units.
type PurchaseInitiation struct {
	Purchase     *domain.CoursePurchase `json:"purchase"`
	GatewayOrder domain.GatewayOrder    `json:"gateway_order"`
	Amount       decimal.Decimal        `json:"amount"`
}

// OrderItemInput is one requested line item. Price is in major units.
type OrderItemInput struct {
	ProductID          string
	Name               string
	Price              decimal.Decimal
	Quantity           int
	IsDigital          bool
	DigitalContentType *domain.DigitalContentType
}

// CreateOrderInput describes a multi-item order.
type CreateOrderInput struct {
	Items        []OrderItemInput
	ShippingInfo *domain.ShippingInfo
}

// OrderInitiation is returned to the client to open the gateway checkout for an order.
type OrderInitiation struct {
	Order        *domain.Order       `json:"order"`
	GatewayOrder domain.GatewayOrder `json:"gateway_order"`
	Amount       decimal.Decimal     `json:"amount"`
}

// OrderPage is one page of the agent order listing.
type OrderPage struct {
	Items []domain.Order `json:"items"`
	Total int64          `json:"total"`
}

// NewOrderService constructs the service.
func NewOrderService(deps OrderDependencies) *OrderService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	currency := deps.Currency
	if currency == "" {
		currency = "INR"
	}
	return &OrderService{
		purchases:  deps.PurchaseRepo,
		courses:    deps.Courses,
		orders:     deps.OrderRepo,
		gateway:    deps.Gateway,
		verifier:   deps.Verifier,
		dispatcher: deps.Dispatcher,
		metrics:    deps.Metrics,
		logger:     logger,
		currency:   currency,
		now:        clock,
	}
}

// InitiatePurchase prices the course from the catalog, creates the gateway order and then
// records a pending purchase for it. A gateway failure therefore never leaves a local pending
// row behind.
func (s *OrderService) InitiatePurchase(ctx context.Context, userID, courseID string) (*PurchaseInitiation, error) {
	courseID = strings.TrimSpace(courseID)
	if courseID == "" {
		return nil, apperrors.NewValidationError("course id is required", map[string]any{"course_id": "required"})
	}
	amountMinor, err := s.courses.PriceMinor(ctx, courseID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("course", map[string]any{"course_id": courseID})
		}
		return nil, apperrors.MapError(err)
	}
	if amountMinor <= 0 {
		return nil, apperrors.NewInvalidState("course is not for sale", map[string]any{"course_id": courseID})
	}

	owned, err := s.purchases.HasCompleted(ctx, userID, courseID)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	if owned {
		return nil, apperrors.NewAlreadyPurchased(map[string]any{"course_id": courseID})
	}

	purchaseID := uuid.NewString()
	gatewayOrder, err := s.gateway.CreateOrder(ctx, amountMinor, s.currency, receiptFor(flavorCourse, purchaseID))
	if err != nil {
		return nil, err
	}
	if err := s.checkGatewayAmount(flavorCourse, gatewayOrder, amountMinor); err != nil {
		return nil, err
	}

	now := s.now()
	purchase := &domain.CoursePurchase{
		ID:             purchaseID,
		UserID:         userID,
		CourseID:       courseID,
		AmountMinor:    gatewayOrder.AmountMinor,
		Currency:       s.currency,
		GatewayOrderID: gatewayOrder.ID,
		Status:         domain.PurchaseStatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.purchases.Create(ctx, purchase); err != nil {
		s.logger.Error("failed to persist pending purchase",
			zap.String("gateway_order_id", gatewayOrder.ID),
			zap.String("user_id", userID),
			zap.Error(err))
		return nil, apperrors.MapError(err)
	}
	return &PurchaseInitiation{
		Purchase:     purchase,
		GatewayOrder: gatewayOrder,
		Amount:       payment.FromMinorUnits(gatewayOrder.AmountMinor),
	}, nil
}

// VerifyPurchasePayment finalizes the purchase behind a gateway order exactly once. A bad
// signature fails the pending purchase; a second verification of the same order is rejected
// with AlreadyFinalized.
func (s *OrderService) VerifyPurchasePayment(ctx context.Context, userID string, confirmation domain.PaymentConfirmation) (*domain.CoursePurchase, error) {
	if err := validateConfirmation(confirmation); err != nil {
		return nil, err
	}

	existing, err := s.purchases.GetByGatewayOrder(ctx, userID, confirmation.GatewayOrderID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("purchase", map[string]any{"gateway_order_id": confirmation.GatewayOrderID})
		}
		return nil, apperrors.MapError(err)
	}

	now := s.now()
	if !s.verifier.Verify(confirmation.GatewayOrderID, confirmation.GatewayPaymentID, confirmation.Signature) {
		claimed, err := s.purchases.MarkFailed(ctx, userID, confirmation.GatewayOrderID, confirmation.GatewayPaymentID, now)
		if err != nil {
			return nil, apperrors.MapError(err)
		}
		if claimed {
			s.publishPayment(ctx, events.EventPaymentFailed, existing.ID, userID, flavorCourse, confirmation, existing.AmountMinor, existing.Currency, now)
		}
		s.metrics.RecordPaymentOutcome(flavorCourse, "signature_mismatch")
		s.logger.Warn("payment signature mismatch",
			zap.String("flavor", flavorCourse),
			zap.String("gateway_order_id", confirmation.GatewayOrderID),
			zap.String("user_id", userID))
		return nil, apperrors.NewSignatureMismatch()
	}

	purchase, err := s.purchases.MarkCompleted(ctx, userID, confirmation.GatewayOrderID, confirmation.GatewayPaymentID, now)
	switch {
	case errors.Is(err, repository.ErrNotPending):
		s.metrics.RecordPaymentOutcome(flavorCourse, "already_finalized")
		return nil, apperrors.NewAlreadyFinalized(map[string]any{"gateway_order_id": confirmation.GatewayOrderID})
	case errors.Is(err, repository.ErrDuplicate):
		s.metrics.RecordPaymentOutcome(flavorCourse, "already_purchased")
		return nil, apperrors.NewAlreadyPurchased(map[string]any{"course_id": existing.CourseID})
	case err != nil:
		return nil, apperrors.MapError(err)
	}

	s.metrics.RecordPaymentOutcome(flavorCourse, "completed")
	s.publishPayment(ctx, events.EventPaymentCompleted, purchase.ID, userID, flavorCourse, confirmation, purchase.AmountMinor, purchase.Currency, now)
	return purchase, nil
}

// ListCompletedPurchases returns the user's completed course purchases.
func (s *OrderService) ListCompletedPurchases(ctx context.Context, userID string) ([]domain.CoursePurchase, error) {
	purchases, err := s.purchases.ListCompletedByUser(ctx, userID)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	if purchases == nil {
		purchases = []domain.CoursePurchase{}
	}
	return purchases, nil
}

// HasCourseAccess reports whether the user completed a purchase of courseID.
func (s *OrderService) HasCourseAccess(ctx context.Context, userID, courseID string) (bool, error) {
	owned, err := s.purchases.HasCompleted(ctx, userID, courseID)
	if err != nil {
		return false, apperrors.MapError(err)
	}
	return owned, nil
}

// CreateOrder prices the items, creates the gateway order and records the pending order.
func (s *OrderService) CreateOrder(ctx context.Context, userID string, input CreateOrderInput) (*OrderInitiation, error) {
	items, err := s.buildItems(input.Items)
	if err != nil {
		return nil, err
	}

	order := domain.NewOrder(userID, items, input.ShippingInfo, s.currency)
	if !order.IsDigitalOrder && input.ShippingInfo == nil {
		return nil, apperrors.NewValidationError("shipping info is required for physical items",
			map[string]any{"shipping_info": "required"})
	}
	if order.TotalAmountMinor <= 0 {
		return nil, apperrors.NewValidationError("order total must be greater than zero", nil)
	}

	order.ID = uuid.NewString()
	gatewayOrder, err := s.gateway.CreateOrder(ctx, order.TotalAmountMinor, s.currency, receiptFor(flavorOrder, order.ID))
	if err != nil {
		return nil, err
	}
	if err := s.checkGatewayAmount(flavorOrder, gatewayOrder, order.TotalAmountMinor); err != nil {
		return nil, err
	}

	now := s.now()
	order.Transaction.GatewayOrderID = gatewayOrder.ID
	order.CreatedAt = now
	order.UpdatedAt = now
	if err := s.orders.Create(ctx, order); err != nil {
		s.logger.Error("failed to persist pending order",
			zap.String("gateway_order_id", gatewayOrder.ID),
			zap.String("user_id", userID),
			zap.Error(err))
		return nil, apperrors.MapError(err)
	}
	return &OrderInitiation{
		Order:        order,
		GatewayOrder: gatewayOrder,
		Amount:       payment.FromMinorUnits(order.TotalAmountMinor),
	}, nil
}

// checkGatewayAmount rejects a gateway order whose amount differs from the local price, so no
// pending row is recorded for a charge the user was not quoted.
func (s *OrderService) checkGatewayAmount(flavor string, gatewayOrder domain.GatewayOrder, wantMinor int64) error {
	if gatewayOrder.AmountMinor == wantMinor {
		return nil
	}
	s.logger.Error("gateway order amount mismatch",
		zap.String("flavor", flavor),
		zap.String("gateway_order_id", gatewayOrder.ID),
		zap.Int64("expected_minor", wantMinor),
		zap.Int64("gateway_minor", gatewayOrder.AmountMinor))
	return apperrors.NewGatewayError(fmt.Errorf("gateway order %s amount %d does not match %d",
		gatewayOrder.ID, gatewayOrder.AmountMinor, wantMinor))
}

// VerifyOrderPayment finalizes an order payment exactly once. Digital orders become delivered
// and physical orders paid.
func (s *OrderService) VerifyOrderPayment(ctx context.Context, userID string, confirmation domain.PaymentConfirmation) (*domain.Order, error) {
	if err := validateConfirmation(confirmation); err != nil {
		return nil, err
	}

	existing, err := s.orders.GetByGatewayOrder(ctx, userID, confirmation.GatewayOrderID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("order", map[string]any{"gateway_order_id": confirmation.GatewayOrderID})
		}
		return nil, apperrors.MapError(err)
	}

	now := s.now()
	if !s.verifier.Verify(confirmation.GatewayOrderID, confirmation.GatewayPaymentID, confirmation.Signature) {
		claimed, err := s.orders.MarkFailed(ctx, userID, confirmation.GatewayOrderID, confirmation.GatewayPaymentID, confirmation.Signature, now)
		if err != nil {
			return nil, apperrors.MapError(err)
		}
		if claimed {
			s.publishPayment(ctx, events.EventPaymentFailed, existing.ID, userID, flavorOrder, confirmation, existing.TotalAmountMinor, existing.Currency, now)
		}
		s.metrics.RecordPaymentOutcome(flavorOrder, "signature_mismatch")
		s.logger.Warn("payment signature mismatch",
			zap.String("flavor", flavorOrder),
			zap.String("gateway_order_id", confirmation.GatewayOrderID),
			zap.String("user_id", userID))
		return nil, apperrors.NewSignatureMismatch()
	}

	order, err := s.orders.MarkPaid(ctx, userID, confirmation.GatewayOrderID, confirmation.GatewayPaymentID,
		confirmation.Signature, existing.PaidStatus(), now)
	switch {
	case errors.Is(err, repository.ErrNotPending):
		s.metrics.RecordPaymentOutcome(flavorOrder, "already_finalized")
		return nil, apperrors.NewAlreadyFinalized(map[string]any{"gateway_order_id": confirmation.GatewayOrderID})
	case err != nil:
		return nil, apperrors.MapError(err)
	}

	s.metrics.RecordPaymentOutcome(flavorOrder, "completed")
	s.publishPayment(ctx, events.EventPaymentCompleted, order.ID, userID, flavorOrder, confirmation, order.TotalAmountMinor, order.Currency, now)
	return order, nil
}

// GetOrder returns an order to its owner or any agent.
func (s *OrderService) GetOrder(ctx context.Context, orderID string, actor domain.Principal) (*domain.Order, error) {
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("order", map[string]any{"order_id": orderID})
		}
		return nil, apperrors.MapError(err)
	}
	if !actor.IsAgent() && order.UserID != actor.ID {
		return nil, apperrors.NewForbidden("access denied")
	}
	return order, nil
}

// ListOrdersForUser returns the user's orders, newest first.
func (s *OrderService) ListOrdersForUser(ctx context.Context, userID string, page, pageSize int) ([]domain.Order, error) {
	page, pageSize = clampPage(page, pageSize)
	orders, err := s.orders.ListByUser(ctx, userID, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	if orders == nil {
		orders = []domain.Order{}
	}
	return orders, nil
}

// ListAllOrders returns every order for agents.
func (s *OrderService) ListAllOrders(ctx context.Context, page, pageSize int) (*OrderPage, error) {
	page, pageSize = clampPage(page, pageSize)
	orders, total, err := s.orders.ListAll(ctx, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	if orders == nil {
		orders = []domain.Order{}
	}
	return &OrderPage{Items: orders, Total: total}, nil
}

// UpdateFulfillmentStatus lets an agent move an order through fulfilment. Paid is reserved for
// payment verification.
func (s *OrderService) UpdateFulfillmentStatus(ctx context.Context, orderID string, status domain.OrderStatus) (*domain.Order, error) {
	if !status.AgentSettable() {
		return nil, apperrors.NewValidationError("invalid order status", map[string]any{"status": string(status)})
	}
	order, err := s.orders.UpdateStatus(ctx, orderID, status, s.now())
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("order", map[string]any{"order_id": orderID})
		}
		return nil, apperrors.MapError(err)
	}
	return order, nil
}

func (s *OrderService) buildItems(inputs []OrderItemInput) ([]domain.OrderItem, error) {
	if len(inputs) == 0 {
		return nil, apperrors.NewValidationError("order must contain at least one item", map[string]any{"items": "required"})
	}
	items := make([]domain.OrderItem, 0, len(inputs))
	for i, in := range inputs {
		if strings.TrimSpace(in.ProductID) == "" || strings.TrimSpace(in.Name) == "" {
			return nil, apperrors.NewValidationError("item product id and name are required", map[string]any{"item": i})
		}
		if in.Quantity < 1 {
			return nil, apperrors.NewValidationError("item quantity must be at least 1", map[string]any{"item": i})
		}
		price, err := payment.ToMinorUnits(in.Price)
		if err != nil {
			return nil, apperrors.NewValidationError("item price must be greater than zero", map[string]any{"item": i})
		}
		items = append(items, domain.OrderItem{
			ProductID:          in.ProductID,
			Name:               strings.TrimSpace(in.Name),
			PriceMinor:         price,
			Quantity:           in.Quantity,
			IsDigital:          in.IsDigital,
			DigitalContentType: in.DigitalContentType,
		})
	}
	return items, nil
}

func (s *OrderService) publishPayment(ctx context.Context, eventType events.EventType, subjectID, userID, flavor string,
	confirmation domain.PaymentConfirmation, amountMinor int64, currency string, at time.Time) {
	if s.dispatcher == nil {
		return
	}
	event := events.New(eventType, subjectID, events.Actor{Role: domain.RoleCustomer, ID: userID}, at,
		events.PaymentPayload{
			Flavor:         flavor,
			UserID:         userID,
			GatewayOrderID: confirmation.GatewayOrderID,
			PaymentID:      confirmation.GatewayPaymentID,
			AmountMinor:    amountMinor,
			Currency:       currency,
		})
	if err := s.dispatcher.Publish(ctx, event); err != nil {
		s.logger.Warn("event publish failed", zap.String("event_type", string(eventType)), zap.Error(err))
	}
}

func validateConfirmation(c domain.PaymentConfirmation) error {
	details := map[string]any{}
	if strings.TrimSpace(c.GatewayOrderID) == "" {
		details["gateway_order_id"] = "required"
	}
	if strings.TrimSpace(c.GatewayPaymentID) == "" {
		details["gateway_payment_id"] = "required"
	}
	if strings.TrimSpace(c.Signature) == "" {
		details["signature"] = "required"
	}
	if len(details) > 0 {
		return apperrors.NewValidationError("incomplete payment confirmation", details)
	}
	return nil
}

// Razorpay caps receipts at 40 characters.
func receiptFor(flavor, id string) string {
	receipt := flavor + "_" + strings.ReplaceAll(id, "-", "")
	if len(receipt) > 40 {
		receipt = receipt[:40]
	}
	return receipt
}
