package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	sentryfiber "github.com/getsentry/sentry-go/fiber"

	"github.com/commentpilot/user-service/internal/analytics"
	"github.com/commentpilot/user-service/internal/cache"
	"github.com/commentpilot/user-service/internal/config"
	"github.com/commentpilot/user-service/internal/database"
	"github.com/commentpilot/user-service/internal/handlers"
	"github.com/commentpilot/user-service/internal/logging"
	"github.com/commentpilot/user-service/internal/middleware"
	"github.com/commentpilot/user-service/internal/notify"
	"github.com/commentpilot/user-service/internal/routes"
	"github.com/commentpilot/user-service/internal/scheduler"
	"github.com/commentpilot/user-service/internal/services"
	"github.com/gofiber/fiber/v2"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "error", err)
		os.Exit(1)
	}

	// Structured logging (JSON to stdout)
	logging.Setup(cfg.AppEnv)

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	// Database
	if err := database.Connect(cfg); err != nil {
		slog.Error("database connection failed", "error", err)
		os.Exit(1)
	}
	if err := database.Migrate(database.DB); err != nil {
		slog.Error("migration failed", "error", err)
		os.Exit(1)
	}

	// PostgreSQL log handler (ERROR+ async batch)
	pgLogHandler := logging.NewPGHandler(database.DB)
	slog.SetDefault(slog.New(logging.NewMultiHandler(
		logging.NewStdoutHandler(slog.LevelInfo),
		pgLogHandler,
	)))

	// Sentry error tracking
	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.SentryDSN,
			EnableTracing:    true,
			TracesSampleRate: 0.2,
			Environment:      cfg.AppEnv,
		}); err != nil {
			slog.Error("sentry init failed", "error", err)
		} else {
			defer sentry.Flush(2 * time.Second)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Collaborators
	sender := newSender(cfg)
	sink, closeSink := analytics.Open(cfg.AMQPURL, cfg.AMQPExchange)
	defer closeSink()
	locker, closeLocker := newLocker(ctx, cfg)
	defer closeLocker()

	// Services
	mailer := notify.NewMailer(sender, cfg.FrontendURL)
	recorder := services.NewRoleRecorder(database.DB)
	trialService := services.NewTrialService(database.DB, recorder, services.UserFieldBilling{}, mailer, sink)
	reconciler := services.NewReconciler(trialService)
	authService := services.NewAuthService(database.DB, cfg, recorder, reconciler)
	subscriptionService := services.NewSubscriptionService(database.DB, recorder, sink)
	sweeper := services.NewTrialSweeper(database.DB, trialService, mailer, locker, cfg.ReminderRatePerSec, cfg.SweepLockTTL)

	// Background jobs
	sweepDone := sweeper.Start(ctx, cfg.SweepInterval)
	cleanupDone := scheduler.Every(ctx, "system_log_cleanup", 24*time.Hour, true, func(ctx context.Context) {
		deleted, err := logging.PurgeSystemLogs(ctx, database.DB, cfg.LogRetentionDays, time.Now())
		if err != nil {
			slog.Error("system log cleanup failed", "error", err)
			return
		}
		if deleted > 0 {
			slog.Info("system logs purged", "deleted", deleted)
		}
	})

	// Fiber app
	app := fiber.New(fiber.Config{
		BodyLimit:    1 * 1024 * 1024,
		ErrorHandler: customErrorHandler,
	})

	app.Use(sentryfiber.New(sentryfiber.Options{
		Repanic:         true,
		WaitForDelivery: false,
	}))

	// Global middleware
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(fiberlogger.New(fiberlogger.Config{
		Format: "${time} | ${status} | ${latency} | ${ip} | ${method} | ${path}\n",
	}))
	app.Use(middleware.CORS(cfg))
	app.Use(func(c *fiber.Ctx) error {
		c.Set("X-Content-Type-Options", "nosniff")
		c.Set("X-Frame-Options", "DENY")
		c.Set("X-XSS-Protection", "1; mode=block")
		return c.Next()
	})

	routes.Setup(app, cfg, database.DB, routes.Handlers{
		Auth:    handlers.NewAuthHandler(authService, trialService),
		Trial:   handlers.NewTrialHandler(authService, trialService),
		Health:  handlers.NewHealthHandler(database.Ping),
		Webhook: handlers.NewWebhookHandler(subscriptionService, cfg.BillingWebhookSecret),
		Admin:   handlers.NewAdminHandler(database.DB, recorder, trialService, sweeper),
	})

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("server starting", "port", cfg.Port)
		if err := app.Listen(":" + cfg.Port); err != nil {
			slog.Error("server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	<-quit
	slog.Info("shutting down server...")

	cancel()
	<-sweepDone
	<-cleanupDone

	if err := app.Shutdown(); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	pgLogHandler.Stop()
	sentry.Flush(2 * time.Second)

	if err := database.Close(); err != nil {
		slog.Error("database close error", "error", err)
	}

	slog.Info("server stopped")
}

func newSender(cfg *config.Config) notify.Sender {
	if cfg.SMTPHost == "" {
		slog.Warn("SMTP_HOST not set, lifecycle emails are only logged")
		return notify.LogSender{}
	}
	return notify.NewSMTPSender(notify.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		User:     cfg.SMTPUser,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		Timeout:  cfg.SMTPTimeout,
	})
}

func newLocker(ctx context.Context, cfg *config.Config) (cache.Locker, func()) {
	if cfg.RedisAddr == "" {
		return cache.NoopLocker{}, func() {}
	}
	locker, err := cache.NewRedisLocker(ctx, cache.RedisOptions{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		slog.Error("redis unavailable, sweep runs without a distributed lock", "error", err)
		return cache.NoopLocker{}, func() {}
	}
	return locker, func() { _ = locker.Close() }
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal server error"
	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	// Only expose error details for client errors (4xx), not server errors (5xx)
	if code >= 500 {
		slog.Error("unhandled server error", "method", c.Method(), "path", c.Path(), "request_id", c.GetRespHeader(fiber.HeaderXRequestID), "error", err.Error())
		sentry.CaptureException(err)
		message = "Internal server error"
	}

	return c.Status(code).JSON(fiber.Map{
		"error":   true,
		"message": message,
	})
}
