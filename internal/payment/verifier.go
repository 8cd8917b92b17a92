package payment

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"client-portal/internal/core"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
	"golang.org/x/text/currency"
)

const (
	EventCheckoutCompleted = "checkout.session.completed"
	EventPaymentFailed     = "payment_intent.payment_failed"

	// SignatureHeader carries the provider's HMAC signature.
	SignatureHeader = "Stripe-Signature"
)

var (
	// ErrSignatureInvalid is returned when a configured secret does not verify the body.
	ErrSignatureInvalid = errors.New("webhook signature invalid")

	// ErrMalformedEvent is returned when the body is not a decodable event.
	ErrMalformedEvent = errors.New("malformed webhook event")
)

// Verifier authenticates webhook deliveries and decodes them into Events.
type Verifier struct {
	secret string
	log    zerolog.Logger
}

// NewVerifier builds a verifier. An empty secret disables signature checks, which
// is only meant for local and test setups.
func NewVerifier(secret string, log zerolog.Logger) *Verifier {
	if secret == "" {
		log.Warn().Msg("webhook secret not configured, signature verification disabled")
	}
	return &Verifier{secret: secret, log: log}
}

// Verify checks the signature over the raw body and returns the typed event.
func (v *Verifier) Verify(payload []byte, signature string) (Event, error) {
	var (
		evt stripe.Event
		err error
	)
	if v.secret != "" {
		if signature == "" {
			return nil, fmt.Errorf("%w: missing %s header", ErrSignatureInvalid, SignatureHeader)
		}
		evt, err = webhook.ConstructEventWithOptions(payload, signature, v.secret, webhook.ConstructEventOptions{
			IgnoreAPIVersionMismatch: true,
		})
		if err != nil {
			if isSignatureError(err) {
				return nil, fmt.Errorf("%w: %w", ErrSignatureInvalid, err)
			}
			return nil, fmt.Errorf("%w: %w", ErrMalformedEvent, err)
		}
	} else if err := json.Unmarshal(payload, &evt); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedEvent, err)
	}

	if evt.ID == "" || evt.Type == "" {
		return nil, fmt.Errorf("%w: missing id or type", ErrMalformedEvent)
	}
	return decode(evt)
}

func isSignatureError(err error) bool {
	return errors.Is(err, webhook.ErrNotSigned) ||
		errors.Is(err, webhook.ErrInvalidHeader) ||
		errors.Is(err, webhook.ErrNoValidSignature) ||
		errors.Is(err, webhook.ErrTooOld)
}

func decode(evt stripe.Event) (Event, error) {
	env := envelope{ID: evt.ID, Type: string(evt.Type)}
	if IsSynthetic(evt.ID) {
		return OtherEvent{env}, nil
	}
	if evt.Data == nil || len(evt.Data.Raw) == 0 {
		if evt.Type == EventCheckoutCompleted || evt.Type == EventPaymentFailed {
			return nil, fmt.Errorf("%w: %s without data", ErrMalformedEvent, evt.Type)
		}
		return OtherEvent{env}, nil
	}

	switch evt.Type {
	case EventCheckoutCompleted:
		var cs stripe.CheckoutSession
		if err := json.Unmarshal(evt.Data.Raw, &cs); err != nil {
			return nil, fmt.Errorf("%w: checkout session: %w", ErrMalformedEvent, err)
		}
		if cs.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
			return OtherEvent{env}, nil
		}
		if cs.ID == "" {
			return nil, fmt.Errorf("%w: checkout session without id", ErrMalformedEvent)
		}
		return completedFromSession(env, &cs), nil

	case EventPaymentFailed:
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(evt.Data.Raw, &pi); err != nil {
			return nil, fmt.Errorf("%w: payment intent: %w", ErrMalformedEvent, err)
		}
		ref := refFromMetadata(pi.Metadata)
		ref.PaymentID = pi.ID
		if ref.IsZero() {
			return nil, fmt.Errorf("%w: payment intent without id", ErrMalformedEvent)
		}
		failed := PaymentFailed{envelope: env, Ref: ref}
		if pi.LastPaymentError != nil {
			failed.Reason = pi.LastPaymentError.Msg
		}
		return failed, nil
	}

	return OtherEvent{env}, nil
}

func completedFromSession(env envelope, cs *stripe.CheckoutSession) PaymentCompleted {
	out := PaymentCompleted{
		envelope:  env,
		SessionID: cs.ID,
		Currency:  strings.ToUpper(string(cs.Currency)),
		Details:   core.PaymentDetails{CustomerEmail: cs.CustomerEmail},
	}
	if cs.PaymentIntent != nil {
		out.Details.PaymentID = cs.PaymentIntent.ID
	}
	if cs.Customer != nil {
		out.Details.CustomerID = cs.Customer.ID
	}
	if cd := cs.CustomerDetails; cd != nil {
		out.Details.CustomerName = cd.Name
		if cd.Email != "" {
			out.Details.CustomerEmail = cd.Email
		}
	}
	out.Amount = fromMinorUnits(cs.AmountTotal, out.Currency)
	return out
}

// fromMinorUnits converts a provider amount in the currency's smallest unit.
func fromMinorUnits(amount int64, code string) decimal.Decimal {
	scale := 2
	if unit, err := currency.ParseISO(code); err == nil {
		scale, _ = currency.Standard.Rounding(unit)
	}
	return decimal.New(amount, int32(-scale))
}

func refFromMetadata(md map[string]string) core.OrderRef {
	var ref core.OrderRef
	if id, err := strconv.Atoi(md["order_id"]); err == nil && id > 0 {
		ref.ID = id
	}
	ref.SessionID = md["checkout_session_id"]
	return ref
}
