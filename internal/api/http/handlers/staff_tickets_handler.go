package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/membership-backend/internal/api/dto"
	"github.com/spec-kit/membership-backend/internal/domain"
	"github.com/spec-kit/membership-backend/internal/service"
	apperrors "github.com/spec-kit/membership-backend/pkg/util/errorutil"
)

// StaffTicketsHandler handles agent ticket endpoints.
type StaffTicketsHandler struct {
	tickets TicketWorkflow
}

// NewStaffTicketsHandler constructs handler.
func NewStaffTicketsHandler(tickets TicketWorkflow) *StaffTicketsHandler {
	return &StaffTicketsHandler{tickets: tickets}
}

// ListTickets GET /staff/tickets.
func (h *StaffTicketsHandler) ListTickets(c *fiber.Ctx) error {
	filter := service.TicketFilter{
		Status:          domain.TicketStatus(c.Query("status")),
		Priority:        domain.TicketPriority(c.Query("priority")),
		Category:        domain.TicketCategory(c.Query("category")),
		AssignedAgentID: c.Query("assigned"),
		SearchText:      c.Query("search"),
	}
	page, err := h.tickets.List(c.UserContext(), filter, parseIntQuery(c, "page", 1), parseIntQuery(c, "page_size", 0))
	if err != nil {
		return err
	}
	return c.JSON(ticketPageResponse(page))
}

// Stats GET /staff/tickets/stats.
func (h *StaffTicketsHandler) Stats(c *fiber.Ctx) error {
	stats, err := h.tickets.Stats(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": stats})
}

// Assign PATCH /staff/tickets/:id/assign.
func (h *StaffTicketsHandler) Assign(c *fiber.Ctx) error {
	agent, err := principal(c)
	if err != nil {
		return err
	}
	var req dto.AssignTicketRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	ticket, err := h.tickets.Assign(c.UserContext(), c.Params("id"), agent, req.AgentID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": ticket})
}

// UpdatePriority PATCH /staff/tickets/:id/priority.
func (h *StaffTicketsHandler) UpdatePriority(c *fiber.Ctx) error {
	agent, err := principal(c)
	if err != nil {
		return err
	}
	var req dto.UpdatePriorityRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	ticket, err := h.tickets.SetPriority(c.UserContext(), c.Params("id"), agent, req.Priority)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": ticket})
}

// DeleteTicket DELETE /staff/tickets/:id.
func (h *StaffTicketsHandler) DeleteTicket(c *fiber.Ctx) error {
	agent, err := principal(c)
	if err != nil {
		return err
	}
	if err := h.tickets.DeleteTicket(c.UserContext(), c.Params("id"), agent); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}
