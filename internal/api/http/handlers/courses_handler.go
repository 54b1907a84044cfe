package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/membership-backend/internal/api/dto"
	apperrors "github.com/spec-kit/membership-backend/pkg/util/errorutil"
)

// CoursesHandler serves course purchase endpoints.
type CoursesHandler struct {
	payments PaymentWorkflow
}

// NewCoursesHandler constructs handler.
func NewCoursesHandler(payments PaymentWorkflow) *CoursesHandler {
	return &CoursesHandler{payments: payments}
}

// CreatePurchaseOrder POST /courses/:id/purchase-orders. The price comes from the course
// catalog; any request body is ignored.
func (h *CoursesHandler) CreatePurchaseOrder(c *fiber.Ctx) error {
	caller, err := principal(c)
	if err != nil {
		return err
	}
	started, err := h.payments.InitiatePurchase(c.UserContext(), caller.ID, c.Params("id"))
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": started})
}

// VerifyPayment POST /courses/payments/verify.
func (h *CoursesHandler) VerifyPayment(c *fiber.Ctx) error {
	caller, err := principal(c)
	if err != nil {
		return err
	}
	var req dto.VerifyPaymentRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	purchase, err := h.payments.VerifyPurchasePayment(c.UserContext(), caller.ID, req.Confirmation())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": purchase})
}

// ListMine GET /courses/purchases/mine.
func (h *CoursesHandler) ListMine(c *fiber.Ctx) error {
	caller, err := principal(c)
	if err != nil {
		return err
	}
	purchases, err := h.payments.ListCompletedPurchases(c.UserContext(), caller.ID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": purchases})
}

// Access GET /courses/:id/access.
func (h *CoursesHandler) Access(c *fiber.Ctx) error {
	caller, err := principal(c)
	if err != nil {
		return err
	}
	courseID := c.Params("id")
	owned, err := h.payments.HasCourseAccess(c.UserContext(), caller.ID, courseID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.CourseAccessResponse{CourseID: courseID, HasAccess: owned}})
}
