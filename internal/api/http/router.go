package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/spec-kit/approval-service/internal/api/http/handlers"
	"github.com/spec-kit/approval-service/internal/auth"
	"github.com/spec-kit/approval-service/internal/observability"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Tickets        *handlers.TicketsHandler
	Approvals      *handlers.ApprovalsHandler
	Admin          *handlers.AdminHandler
	AuthMiddleware fiber.Handler
	Metrics        *observability.Metrics
	AdminRoleIDs   []int64
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	if registry := cfg.Metrics.Registry(); registry != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	}

	api := app.Group("/api/v1", cfg.AuthMiddleware, auth.RequireAccount())

	tickets := api.Group("/tickets")
	tickets.Post("/", cfg.Tickets.CreateTicket)
	tickets.Get("/", cfg.Tickets.ListTickets)
	tickets.Get("/:id", cfg.Tickets.GetTicket)
	tickets.Get("/:id/history", cfg.Tickets.History)
	tickets.Get("/:id/trigger-logs", cfg.Tickets.TriggerLogs)
	tickets.Post("/:id/approve", cfg.Approvals.Approve)
	tickets.Post("/:id/reject", cfg.Approvals.Reject)
	tickets.Post("/:id/fulfil", cfg.Tickets.Fulfil)
	tickets.Post("/:id/cancel", cfg.Tickets.Cancel)

	api.Get("/approvals/pending", cfg.Tickets.PendingApprovals)

	if cfg.Admin != nil {
		admin := api.Group("/admin", auth.RequireRole(cfg.AdminRoleIDs...))
		admin.Post("/services/:id/triggers/invalidate", cfg.Admin.InvalidateTriggers)
	}
}
