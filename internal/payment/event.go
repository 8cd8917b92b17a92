// Package payment turns signed payment-provider webhooks into typed events.
package payment

import (
	"client-portal/internal/core"

	"github.com/shopspring/decimal"
)

// Event is one of PaymentCompleted, PaymentFailed or OtherEvent.
type Event interface {
	EventID() string
	EventType() string
}

type envelope struct {
	ID   string
	Type string
}

func (e envelope) EventID() string   { return e.ID }
func (e envelope) EventType() string { return e.Type }

// PaymentCompleted is a checkout session whose payment has been collected.
type PaymentCompleted struct {
	envelope
	SessionID string
	Details   core.PaymentDetails
	Amount    decimal.Decimal
	Currency  string
}

// PaymentFailed is a failed payment attempt.
type PaymentFailed struct {
	envelope
	Ref    core.OrderRef
	Reason string
}

// OtherEvent is any event the pipeline acknowledges without acting on.
type OtherEvent struct {
	envelope
}

var syntheticEventIDs = map[string]struct{}{
	"evt_00000000000000": {},
	"evt_test_webhook":   {},
}

// IsSynthetic reports whether id belongs to a provider connectivity check rather
// than a business event.
func IsSynthetic(id string) bool {
	_, ok := syntheticEventIDs[id]
	return ok
}
