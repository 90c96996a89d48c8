package config

import (
	"fmt"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

type Config struct {
	// Database
	DBHost     string `env:"DB_HOST" env-default:"localhost"`
	DBPort     string `env:"DB_PORT" env-default:"5432"`
	DBUser     string `env:"DB_USER" env-default:"postgres"`
	DBPassword string `env:"DB_PASSWORD"`
	DBName     string `env:"DB_NAME" env-default:"commentpilot_users"`
	DBSSLMode  string `env:"DB_SSLMODE" env-default:"disable"`

	// JWT
	JWTSecret        string        `env:"JWT_SECRET"`
	JWTAccessExpiry  time.Duration `env:"JWT_ACCESS_EXPIRY" env-default:"15m"`
	JWTRefreshExpiry time.Duration `env:"JWT_REFRESH_EXPIRY" env-default:"168h"`

	// Admin
	AdminEmails  string `env:"ADMIN_EMAILS"`
	AdminUserIDs string `env:"ADMIN_USER_IDS"`
	AdminToken   string `env:"ADMIN_TOKEN"`

	// Server
	Port        string `env:"PORT" env-default:"8080"`
	CORSOrigins string `env:"CORS_ORIGINS" env-default:"*"`
	AppEnv      string `env:"APP_ENV" env-default:"development"`
	FrontendURL string `env:"FRONTEND_URL" env-default:"https://commentpilot.app"`
	SentryDSN   string `env:"SENTRY_DSN"`

	// Billing collaborator
	BillingWebhookSecret string `env:"BILLING_WEBHOOK_SECRET"`

	// Notifications (SMTP). Empty host means emails are only logged.
	SMTPHost     string        `env:"SMTP_HOST"`
	SMTPPort     string        `env:"SMTP_PORT" env-default:"587"`
	SMTPUser     string        `env:"SMTP_USER"`
	SMTPPassword string        `env:"SMTP_PASSWORD"`
	SMTPFrom     string        `env:"SMTP_FROM" env-default:"CommentPilot <hello@commentpilot.app>"`
	SMTPTimeout  time.Duration `env:"SMTP_TIMEOUT" env-default:"10s"`

	// Analytics (RabbitMQ). Empty URL means events are only logged.
	AMQPURL      string `env:"AMQP_URL"`
	AMQPExchange string `env:"AMQP_EXCHANGE" env-default:"analytics"`

	// Redis, used for the cross-instance sweep lock. Optional.
	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" env-default:"0"`

	// Trial lifecycle
	SweepInterval      time.Duration `env:"SWEEP_INTERVAL" env-default:"24h"`
	SweepLockTTL       time.Duration `env:"SWEEP_LOCK_TTL" env-default:"30m"`
	ReminderRatePerSec float64       `env:"REMINDER_RATE_PER_SEC" env-default:"5"`

	// Logging
	LogRetentionDays int `env:"LOG_RETENTION_DAYS" env-default:"30"`
}

// Load reads configuration from the environment, after loading .env when
// one exists in the working directory.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) DSN() string {
	return "host=" + c.DBHost +
		" user=" + c.DBUser +
		" password=" + c.DBPassword +
		" dbname=" + c.DBName +
		" port=" + c.DBPort +
		" sslmode=" + c.DBSSLMode +
		" TimeZone=UTC"
}

// Validate checks the settings the HTTP server cannot start without.
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET environment variable is required")
	}
	if c.DBPassword == "" {
		return fmt.Errorf("DB_PASSWORD environment variable is required")
	}
	return nil
}
