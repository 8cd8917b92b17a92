package app_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"client-portal/internal/app"
	"client-portal/internal/config"
	"client-portal/internal/logger"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func wireConfig() *config.Config {
	return &config.Config{
		DatabaseURL:      "postgres://billing@127.0.0.1:1/billing",
		InvoicePrefix:    "RE",
		InvoiceDueDays:   30,
		DefaultVATRate:   decimal.RequireFromString("7.7"),
		NotifyTimeout:    time.Second,
		MailFrom:         "billing@example.ch",
		OverdueSweepSpec: "@hourly",
	}
}

// lazyPool never dials until a query runs.
func lazyPool(t *testing.T, cfg *config.Config) *pgxpool.Pool {
	t.Helper()
	pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

func TestWire(t *testing.T) {
	cfg := wireConfig()
	cfg.AdminEmail = "ops@example.ch"
	cfg.CRMBaseURL = "https://crm.example.ch"
	cfg.TwilioAccountSID = "AC123"
	cfg.TwilioAuthToken = "token"
	cfg.TwilioFromNumber = "+41000000000"
	cfg.AlertSMSTo = "+41000000001"

	svc, err := app.Wire(cfg, lazyPool(t, cfg), logger.Nop())
	require.NoError(t, err)
	assert.NotNil(t, svc)
}

func TestWire_Errors(t *testing.T) {
	cfg := wireConfig()
	cfg.CatalogFile = filepath.Join(t.TempDir(), "missing.yaml")
	_, err := app.Wire(cfg, lazyPool(t, cfg), logger.Nop())
	assert.ErrorContains(t, err, "catalog")

	cfg = wireConfig()
	bad := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("products:\n  - id: x\n    name: X\n    type: barter\n"), 0o600))
	cfg.CatalogFile = bad
	_, err = app.Wire(cfg, lazyPool(t, cfg), logger.Nop())
	assert.ErrorContains(t, err, "catalog")

	cfg = wireConfig()
	cfg.SMTPHost = "smtp.example.ch"
	cfg.MailFrom = ""
	_, err = app.Wire(cfg, lazyPool(t, cfg), logger.Nop())
	assert.ErrorContains(t, err, "smtp")
}
