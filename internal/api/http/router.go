package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"go.uber.org/zap"

	"github.com/spec-kit/membership-backend/internal/api/http/handlers"
	"github.com/spec-kit/membership-backend/internal/auth"
	"github.com/spec-kit/membership-backend/internal/observability"
	"github.com/spec-kit/membership-backend/internal/ratelimit"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Tickets        *handlers.TicketsHandler
	StaffTickets   *handlers.StaffTicketsHandler
	Courses        *handlers.CoursesHandler
	Orders         *handlers.OrdersHandler
	AuthMiddleware *auth.AuthMiddleware
	Metrics        *observability.Metrics
	Logger         *zap.Logger
	CreateLimit    ratelimit.Policy
	RespondLimit   ratelimit.Policy
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	if cfg.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(cfg.Metrics.Handler()))
	}

	customer := auth.RequireCustomer()
	agent := auth.RequireAgent()

	tickets := app.Group("/tickets", cfg.AuthMiddleware.Handle, auth.RequireAnyRole())
	tickets.Post("/", customer, RateLimit(cfg.CreateLimit, cfg.Metrics, logger), cfg.Tickets.CreateTicket)
	tickets.Get("/mine", customer, cfg.Tickets.ListMine)
	tickets.Get("/:id", cfg.Tickets.GetTicket)
	tickets.Post("/:id/responses", RateLimit(cfg.RespondLimit, cfg.Metrics, logger), cfg.Tickets.Respond)
	tickets.Patch("/:id/status", cfg.Tickets.UpdateStatus)
	tickets.Patch("/:id/rating", customer, cfg.Tickets.Rate)

	staff := app.Group("/staff", cfg.AuthMiddleware.Handle, agent)
	staff.Get("/tickets", cfg.StaffTickets.ListTickets)
	staff.Get("/tickets/stats", cfg.StaffTickets.Stats)
	staff.Patch("/tickets/:id/assign", cfg.StaffTickets.Assign)
	staff.Patch("/tickets/:id/priority", cfg.StaffTickets.UpdatePriority)
	staff.Delete("/tickets/:id", cfg.StaffTickets.DeleteTicket)
	staff.Get("/orders", cfg.Orders.ListAll)
	staff.Patch("/orders/:id/status", cfg.Orders.UpdateStatus)

	courses := app.Group("/courses", cfg.AuthMiddleware.Handle, customer)
	courses.Post("/payments/verify", cfg.Courses.VerifyPayment)
	courses.Get("/purchases/mine", cfg.Courses.ListMine)
	courses.Post("/:id/purchase-orders", cfg.Courses.CreatePurchaseOrder)
	courses.Get("/:id/access", cfg.Courses.Access)

	orders := app.Group("/orders", cfg.AuthMiddleware.Handle, auth.RequireAnyRole())
	orders.Post("/", customer, cfg.Orders.CreateOrder)
	orders.Post("/payments/verify", customer, cfg.Orders.VerifyPayment)
	orders.Get("/mine", customer, cfg.Orders.ListMine)
	orders.Get("/:id", cfg.Orders.GetOrder)
}
