// Package config handles application configuration from environment variables
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/mbd888/dealdesk/internal/ledger"
	"github.com/mbd888/dealdesk/internal/money"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port      string
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string // "text" or "json"

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Marketplace
	AdminID               string
	CommissionRecipientID string // Defaults to AdminID
	CommissionRate        decimal.Decimal

	// Security
	APIKeys             string // Comma-separated keys accepted from the messaging adapter
	StripeWebhookSecret string
	CORSOrigins         []string

	// Event delivery
	AMQPURL      string // RabbitMQ URL (optional, events are only logged and streamed if not set)
	AMQPExchange string

	// Observability
	OTLPEndpoint      string
	ReconcileInterval time.Duration
}

const (
	DefaultPort              = "8080"
	DefaultEnv               = "development"
	DefaultLogLevel          = "info"
	DefaultLogFormat         = "text"
	DefaultAdminID           = "admin"
	DefaultCommissionRate    = "0.08"
	DefaultAMQPExchange      = "dealdesk.events"
	DefaultReconcileInterval = 5 * time.Minute
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	rate, err := money.ParseRate(getEnv("COMMISSION_RATE", DefaultCommissionRate))
	if err != nil {
		return nil, fmt.Errorf("COMMISSION_RATE: %w", err)
	}
	interval, err := getEnvDuration("RECONCILE_INTERVAL", DefaultReconcileInterval)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Port:                  getEnv("PORT", DefaultPort),
		Env:                   getEnv("ENV", DefaultEnv),
		LogLevel:              getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:             getEnv("LOG_FORMAT", DefaultLogFormat),
		DatabaseURL:           os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		AdminID:               getEnv("ADMIN_ID", DefaultAdminID),
		CommissionRecipientID: os.Getenv("COMMISSION_RECIPIENT_ID"),
		CommissionRate:        rate,
		APIKeys:               os.Getenv("API_KEY"),
		StripeWebhookSecret:   os.Getenv("STRIPE_WEBHOOK_SECRET"),
		CORSOrigins:           splitList(os.Getenv("CORS_ORIGINS")),
		AMQPURL:               os.Getenv("AMQP_URL"),
		AMQPExchange:          getEnv("AMQP_EXCHANGE", DefaultAMQPExchange),
		OTLPEndpoint:          os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		ReconcileInterval:     interval,
	}
	if cfg.CommissionRecipientID == "" {
		cfg.CommissionRecipientID = cfg.AdminID
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present and sane.
func (c *Config) Validate() error {
	var errs []error
	if err := ledger.ValidAccountID(c.AdminID); err != nil {
		errs = append(errs, fmt.Errorf("ADMIN_ID: %w", err))
	}
	if c.CommissionRecipientID != "" {
		if err := ledger.ValidAccountID(c.CommissionRecipientID); err != nil {
			errs = append(errs, fmt.Errorf("COMMISSION_RECIPIENT_ID: %w", err))
		}
	}
	if err := money.ValidRate(c.CommissionRate); err != nil {
		errs = append(errs, fmt.Errorf("COMMISSION_RATE: %w", err))
	}
	if _, err := strconv.Atoi(c.Port); err != nil {
		errs = append(errs, fmt.Errorf("PORT must be numeric, got %q", c.Port))
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("LOG_FORMAT must be text or json, got %q", c.LogFormat))
	}
	if c.ReconcileInterval <= 0 {
		errs = append(errs, fmt.Errorf("RECONCILE_INTERVAL must be positive"))
	}
	if c.IsProduction() {
		if strings.TrimSpace(c.APIKeys) == "" {
			errs = append(errs, fmt.Errorf("API_KEY is required in production"))
		}
		if c.DatabaseURL == "" {
			errs = append(errs, fmt.Errorf("DATABASE_URL is required in production"))
		}
	}
	return errors.Join(errs...)
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
