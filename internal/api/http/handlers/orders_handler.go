package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/membership-backend/internal/api/dto"
	"github.com/spec-kit/membership-backend/internal/service"
	apperrors "github.com/spec-kit/membership-backend/pkg/util/errorutil"
)

// OrdersHandler serves multi-item order endpoints.
type OrdersHandler struct {
	payments PaymentWorkflow
}

// NewOrdersHandler constructs handler.
func NewOrdersHandler(payments PaymentWorkflow) *OrdersHandler {
	return &OrdersHandler{payments: payments}
}

// CreateOrder POST /orders.
func (h *OrdersHandler) CreateOrder(c *fiber.Ctx) error {
	caller, err := principal(c)
	if err != nil {
		return err
	}
	var req dto.CreateOrderRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	input := service.CreateOrderInput{ShippingInfo: req.ShippingInfo}
	for _, item := range req.Items {
		input.Items = append(input.Items, service.OrderItemInput{
			ProductID:          item.ProductID,
			Name:               item.Name,
			Price:              item.Price,
			Quantity:           item.Quantity,
			IsDigital:          item.IsDigital,
			DigitalContentType: item.DigitalContentType,
		})
	}
	started, err := h.payments.CreateOrder(c.UserContext(), caller.ID, input)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": started})
}

// VerifyPayment POST /orders/payments/verify.
func (h *OrdersHandler) VerifyPayment(c *fiber.Ctx) error {
	caller, err := principal(c)
	if err != nil {
		return err
	}
	var req dto.VerifyPaymentRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	order, err := h.payments.VerifyOrderPayment(c.UserContext(), caller.ID, req.Confirmation())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": order})
}

// ListMine GET /orders/mine.
func (h *OrdersHandler) ListMine(c *fiber.Ctx) error {
	caller, err := principal(c)
	if err != nil {
		return err
	}
	orders, err := h.payments.ListOrdersForUser(c.UserContext(), caller.ID, parseIntQuery(c, "page", 1), parseIntQuery(c, "page_size", 0))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": orders})
}

// GetOrder GET /orders/:id.
func (h *OrdersHandler) GetOrder(c *fiber.Ctx) error {
	caller, err := principal(c)
	if err != nil {
		return err
	}
	order, err := h.payments.GetOrder(c.UserContext(), c.Params("id"), caller)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": order})
}

// ListAll GET /staff/orders.
func (h *OrdersHandler) ListAll(c *fiber.Ctx) error {
	page, err := h.payments.ListAllOrders(c.UserContext(), parseIntQuery(c, "page", 1), parseIntQuery(c, "page_size", 0))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": page.Items, "total": page.Total})
}

// UpdateStatus PATCH /staff/orders/:id/status.
func (h *OrdersHandler) UpdateStatus(c *fiber.Ctx) error {
	var req dto.UpdateOrderStatusRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	order, err := h.payments.UpdateFulfillmentStatus(c.UserContext(), c.Params("id"), req.Status)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": order})
}
