package routes

import (
	"time"

	"github.com/commentpilot/user-service/internal/config"
	"github.com/commentpilot/user-service/internal/handlers"
	"github.com/commentpilot/user-service/internal/middleware"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"
)

type Handlers struct {
	Auth    *handlers.AuthHandler
	Trial   *handlers.TrialHandler
	Health  *handlers.HealthHandler
	Webhook *handlers.WebhookHandler
	Admin   *handlers.AdminHandler
}

func Setup(app *fiber.App, cfg *config.Config, db *gorm.DB, h Handlers) {
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	api := app.Group("/api")

	// General API rate limiter: 60 req/min per IP
	api.Use(limiter.New(limiter.Config{
		Max:               60,
		Expiration:        1 * time.Minute,
		LimiterMiddleware: limiter.SlidingWindow{},
		KeyGenerator:      func(c *fiber.Ctx) string { return c.IP() },
	}))

	api.Get("/health", h.Health.Check)
	api.Get("/plans", h.Trial.Plans)

	// Auth-specific rate limit: 10 req/min per IP (stricter)
	auth := api.Group("/auth")
	auth.Use(limiter.New(limiter.Config{
		Max:               10,
		Expiration:        1 * time.Minute,
		LimiterMiddleware: limiter.SlidingWindow{},
		KeyGenerator:      func(c *fiber.Ctx) string { return c.IP() },
	}))
	auth.Post("/register", h.Auth.Register)
	auth.Post("/login", h.Auth.Login)
	auth.Post("/refresh", h.Auth.Refresh)

	// Protected routes get the JWT middleware one by one so public routes
	// stay public.
	api.Post("/auth/logout", middleware.JWTProtected(cfg), h.Auth.Logout)
	api.Delete("/auth/account", middleware.JWTProtected(cfg), h.Auth.DeleteAccount)
	api.Get("/auth/me", middleware.JWTProtected(cfg), h.Auth.Me)

	api.Post("/trial/start", middleware.JWTProtected(cfg), h.Trial.Start)
	api.Get("/trial/status", middleware.JWTProtected(cfg), h.Trial.Status)

	admin := api.Group("/admin", middleware.AdminRequired(db, cfg))
	admin.Get("/users/:id/role-history", h.Admin.RoleHistory)
	admin.Get("/users/:id/trial-status", h.Admin.TrialStatus)
	admin.Post("/trials/sweep", h.Admin.RunSweep)

	webhooks := api.Group("/webhooks")
	webhooks.Post("/billing", h.Webhook.HandleBilling)
}
