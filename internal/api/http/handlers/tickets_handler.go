package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/membership-backend/internal/api/dto"
	"github.com/spec-kit/membership-backend/internal/domain"
	"github.com/spec-kit/membership-backend/internal/service"
	apperrors "github.com/spec-kit/membership-backend/pkg/util/errorutil"
)

// TicketsHandler manages customer-facing ticket endpoints.
type TicketsHandler struct {
	tickets TicketWorkflow
}

// NewTicketsHandler constructs handler.
func NewTicketsHandler(tickets TicketWorkflow) *TicketsHandler {
	return &TicketsHandler{tickets: tickets}
}

// CreateTicket POST /tickets.
func (h *TicketsHandler) CreateTicket(c *fiber.Ctx) error {
	caller, err := principal(c)
	if err != nil {
		return err
	}
	var req dto.CreateTicketRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	files, err := uploadedFiles(c)
	if err != nil {
		return err
	}

	ticket, err := h.tickets.CreateTicket(c.UserContext(), caller.ID, service.CreateTicketInput{
		Subject:     req.Subject,
		Description: req.Description,
		Category:    domain.TicketCategory(req.Category),
		Priority:    domain.TicketPriority(req.Priority),
	}, files)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": ticket})
}

// ListMine GET /tickets/mine.
func (h *TicketsHandler) ListMine(c *fiber.Ctx) error {
	caller, err := principal(c)
	if err != nil {
		return err
	}
	filter := service.TicketFilter{
		OwnerID:    caller.ID,
		Status:     domain.TicketStatus(c.Query("status")),
		SearchText: c.Query("search"),
	}
	page, err := h.tickets.List(c.UserContext(), filter, parseIntQuery(c, "page", 1), parseIntQuery(c, "page_size", 0))
	if err != nil {
		return err
	}
	return c.JSON(ticketPageResponse(page))
}

// GetTicket GET /tickets/:id.
func (h *TicketsHandler) GetTicket(c *fiber.Ctx) error {
	caller, err := principal(c)
	if err != nil {
		return err
	}
	ticket, err := h.tickets.GetTicket(c.UserContext(), c.Params("id"), caller)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": ticket})
}

// Respond POST /tickets/:id/responses.
func (h *TicketsHandler) Respond(c *fiber.Ctx) error {
	caller, err := principal(c)
	if err != nil {
		return err
	}
	var req dto.RespondRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	files, err := uploadedFiles(c)
	if err != nil {
		return err
	}
	ticket, err := h.tickets.Respond(c.UserContext(), c.Params("id"), caller, req.Message, files)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": ticket})
}

// UpdateStatus PATCH /tickets/:id/status.
func (h *TicketsHandler) UpdateStatus(c *fiber.Ctx) error {
	caller, err := principal(c)
	if err != nil {
		return err
	}
	var req dto.UpdateStatusRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	ticket, err := h.tickets.SetStatus(c.UserContext(), c.Params("id"), caller, req.Status)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": ticket})
}

// Rate PATCH /tickets/:id/rating.
func (h *TicketsHandler) Rate(c *fiber.Ctx) error {
	caller, err := principal(c)
	if err != nil {
		return err
	}
	var req dto.RateTicketRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	ticket, err := h.tickets.Rate(c.UserContext(), c.Params("id"), caller.ID, req.Rating)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": ticket})
}

func ticketPageResponse(page *service.TicketPage) fiber.Map {
	return fiber.Map{
		"data": dto.NewTicketSummaries(page.Items),
		"pagination": dto.Pagination{
			Page:       page.Page,
			PageSize:   page.PageSize,
			Total:      page.Total,
			TotalPages: page.TotalPages,
		},
	}
}
