package app

import (
	"context"

	"client-portal/internal/core"
)

// ApplicationService is the single interface the HTTP and CLI adapters call. It
// holds no presentation logic.
type ApplicationService interface {
	// HandleWebhook verifies a payment-provider delivery and runs the issuance
	// pipeline. A returned error means the provider should retry; everything after
	// the order transition is contained and reported in the result.
	HandleWebhook(ctx context.Context, payload []byte, signature string) (*WebhookResult, error)

	// ReissueInvoice issues the missing invoice of a completed order and runs the
	// notification fan-out for it.
	ReissueInvoice(ctx context.Context, orderID int) (*InvoiceResult, error)

	// ResendNotification re-runs a single notification channel for an issued invoice.
	ResendNotification(ctx context.Context, invoiceNumber, channel string) (*NotificationResult, error)

	GetInvoice(ctx context.Context, invoiceNumber string) (*InvoiceResult, error)

	// UpdateInvoiceStatus applies a manual status transition (paid, cancelled, ...).
	UpdateInvoiceStatus(ctx context.Context, req UpdateInvoiceStatusRequest) (*InvoiceResult, error)

	// SweepOverdue marks sent invoices past their due date as overdue.
	SweepOverdue(ctx context.Context) (*SweepResult, error)

	// PreviewNextNumber returns the next invoice number of a scope without consuming it.
	PreviewNextNumber(ctx context.Context, tenantID *int, year int) (string, error)

	// Ping reports whether the database is reachable.
	Ping(ctx context.Context) error
}

// Services bundles the collaborators of the application service.
type Services struct {
	Orders    core.OrderService
	Invoices  core.InvoiceService
	Allocator core.InvoiceNumberAllocator
	Customers core.CustomerDirectory
	Catalog   *core.Catalog
	Verifier  EventVerifier
	Notifier  *Notifier
	Pinger    Pinger
}

// Pinger is satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}
