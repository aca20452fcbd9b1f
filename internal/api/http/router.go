package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/deskline/support-bot/internal/api/http/handlers"
	"github.com/deskline/support-bot/internal/auth"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health            *handlers.HealthHandler
	Webhook           *handlers.WebhookHandler
	Metrics           *handlers.MetricsHandler
	WebhookMiddleware *auth.WebhookMiddleware
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	app.Get("/metrics", cfg.Metrics.Snapshot)

	telegram := app.Group("/telegram", cfg.WebhookMiddleware.Handle)
	telegram.Post("/webhook", cfg.Webhook.Receive)
}
