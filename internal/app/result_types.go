package app

import (
	"client-portal/internal/core"
	"client-portal/internal/notify"
)

// Outcome summarises what the pipeline did with one webhook delivery.
type Outcome string

const (
	OutcomeSynthetic     Outcome = "synthetic"
	OutcomeIgnored       Outcome = "ignored"
	OutcomeUnknownOrder  Outcome = "unknown_order"
	OutcomeDuplicate     Outcome = "duplicate"
	OutcomeOrderFailed   Outcome = "order_failed"
	OutcomeInvoiced      Outcome = "invoiced"
	OutcomeInvoiceFailed Outcome = "invoice_failed"
)

// WebhookResult is returned by HandleWebhook. The delivery is acknowledged whenever
// HandleWebhook returns no error.
type WebhookResult struct {
	EventID       string
	EventType     string
	Outcome       Outcome
	Order         *core.Order
	Invoice       *core.Invoice
	Notifications []notify.Result
}

// InvoiceResult is returned by invoice operations.
type InvoiceResult struct {
	Invoice       *core.Invoice
	Notifications []notify.Result
}

// NotificationResult is returned by ResendNotification.
type NotificationResult struct {
	InvoiceNumber string
	Channel       string
	Result        notify.Result
}

// SweepResult is returned by SweepOverdue.
type SweepResult struct {
	Overdue []string
}
