package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ticketguard/ticketing/internal/api/http/handlers"
	"github.com/ticketguard/ticketing/internal/auth"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Users          *handlers.UsersHandler
	Events         *handlers.EventsHandler
	Tickets        *handlers.TicketsHandler
	Waitlist       *handlers.WaitlistHandler
	AuthMiddleware *auth.AuthMiddleware
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	app.Post("/auth/register", cfg.Users.Register)
	app.Post("/auth/login", cfg.Users.Login)

	app.Get("/events", cfg.Events.List)
	app.Get("/events/:id", cfg.Events.Get)

	authed := app.Group("", cfg.AuthMiddleware.Handle, auth.RequireUser())
	authed.Get("/users/me", cfg.Users.Me)

	authed.Post("/tickets", cfg.Tickets.Purchase)
	authed.Get("/tickets", cfg.Tickets.ListMine)
	authed.Get("/tickets/:id", cfg.Tickets.Get)
	authed.Get("/tickets/:id/chain", cfg.Tickets.ChainInfo)
	authed.Post("/tickets/:id/refund", cfg.Tickets.Refund)

	authed.Post("/waitlist", cfg.Waitlist.Join)
	authed.Get("/waitlist/:eventId", cfg.Waitlist.MyStatus)
	authed.Delete("/waitlist/:eventId", cfg.Waitlist.Leave)

	admin := app.Group("", cfg.AuthMiddleware.Handle, auth.RequireAdmin())
	admin.Post("/events", cfg.Events.Create)
	admin.Patch("/events/:id", cfg.Events.Update)
	admin.Delete("/events/:id", cfg.Events.Delete)
	admin.Get("/events/:id/waitlist", cfg.Waitlist.EventQueue)
}
