package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"client-portal/internal/logger"

	"github.com/shopspring/decimal"
)

// Config holds every environment-driven setting of the billing pipeline.
type Config struct {
	// Database
	DatabaseURL string

	// HTTP server
	ServerPort     string
	AllowedOrigins string
	JWTSecret      string

	// Payment provider
	StripeWebhookSecret string

	// Invoicing
	InvoicePrefix  string
	InvoiceDueDays int
	DefaultVATRate decimal.Decimal
	CatalogFile    string

	// Notifications
	NotifyTimeout    time.Duration
	SMTPHost         string
	SMTPPort         int
	SMTPUsername     string
	SMTPPassword     string
	MailFrom         string
	AdminEmail       string
	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFromNumber string
	AlertSMSTo       string
	CRMBaseURL       string
	CRMAPIToken      string
	OverdueSweepSpec string

	// Logging
	LogLevel  string
	LogFormat string
	LogOutput string
}

// Load reads the configuration from the process environment. Callers are expected
// to have run godotenv.Load beforehand when a .env file should be honoured.
func Load() (*Config, error) {
	dueDays, err := strconv.Atoi(getEnv("INVOICE_DUE_DAYS", "30"))
	if err != nil {
		return nil, fmt.Errorf("INVOICE_DUE_DAYS must be an integer: %w", err)
	}

	vatRate, err := decimal.NewFromString(getEnv("DEFAULT_VAT_RATE", "7.7"))
	if err != nil {
		return nil, fmt.Errorf("DEFAULT_VAT_RATE must be a decimal: %w", err)
	}

	smtpPort, err := strconv.Atoi(getEnv("SMTP_PORT", "587"))
	if err != nil {
		return nil, fmt.Errorf("SMTP_PORT must be an integer: %w", err)
	}

	notifyTimeout, err := time.ParseDuration(getEnv("NOTIFY_TIMEOUT", "10s"))
	if err != nil {
		return nil, fmt.Errorf("NOTIFY_TIMEOUT must be a duration: %w", err)
	}

	cfg := &Config{
		DatabaseURL:         getEnv("DATABASE_URL", ""),
		ServerPort:          getEnv("SERVER_PORT", "8080"),
		AllowedOrigins:      getEnv("ALLOWED_ORIGINS", ""),
		JWTSecret:           getEnv("JWT_SECRET", ""),
		StripeWebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),
		InvoicePrefix:       getEnv("INVOICE_PREFIX", "RE"),
		InvoiceDueDays:      dueDays,
		DefaultVATRate:      vatRate,
		CatalogFile:         getEnv("CATALOG_FILE", ""),
		NotifyTimeout:       notifyTimeout,
		SMTPHost:            getEnv("SMTP_HOST", ""),
		SMTPPort:            smtpPort,
		SMTPUsername:        getEnv("SMTP_USERNAME", ""),
		SMTPPassword:        getEnv("SMTP_PASSWORD", ""),
		MailFrom:            getEnv("MAIL_FROM", "billing@localhost"),
		AdminEmail:          getEnv("ADMIN_EMAIL", ""),
		TwilioAccountSID:    getEnv("TWILIO_ACCOUNT_SID", ""),
		TwilioAuthToken:     getEnv("TWILIO_AUTH_TOKEN", ""),
		TwilioFromNumber:    getEnv("TWILIO_FROM_NUMBER", ""),
		AlertSMSTo:          getEnv("ALERT_SMS_TO", ""),
		CRMBaseURL:          getEnv("CRM_BASE_URL", ""),
		CRMAPIToken:         getEnv("CRM_API_TOKEN", ""),
		OverdueSweepSpec:    getEnv("OVERDUE_SWEEP_SCHEDULE", "@hourly"),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		LogFormat:           getEnv("LOG_FORMAT", "json"),
		LogOutput:           getEnv("LOG_OUTPUT", "stdout"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks the settings that have no safe default.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.InvoicePrefix == "" {
		return fmt.Errorf("INVOICE_PREFIX must not be empty")
	}
	if c.InvoiceDueDays <= 0 {
		return fmt.Errorf("INVOICE_DUE_DAYS must be positive, got %d", c.InvoiceDueDays)
	}
	if c.DefaultVATRate.IsNegative() || c.DefaultVATRate.GreaterThanOrEqual(decimal.NewFromInt(100)) {
		return fmt.Errorf("DEFAULT_VAT_RATE must be within [0, 100), got %s", c.DefaultVATRate)
	}
	if c.NotifyTimeout <= 0 {
		return fmt.Errorf("NOTIFY_TIMEOUT must be positive")
	}
	if c.TwilioAccountSID != "" && (c.TwilioAuthToken == "" || c.TwilioFromNumber == "" || c.AlertSMSTo == "") {
		return fmt.Errorf("TWILIO_AUTH_TOKEN, TWILIO_FROM_NUMBER and ALERT_SMS_TO are required when TWILIO_ACCOUNT_SID is set")
	}
	return nil
}

// WebhookVerificationEnabled reports whether inbound webhooks are signature-checked.
func (c *Config) WebhookVerificationEnabled() bool {
	return c.StripeWebhookSecret != ""
}

// GetLoggerConfig returns the logger configuration derived from this config.
func (c *Config) GetLoggerConfig() logger.LogConfig {
	return logger.LogConfig{
		Level:      c.LogLevel,
		Format:     c.LogFormat,
		TimeFormat: time.RFC3339,
		Output:     c.LogOutput,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
