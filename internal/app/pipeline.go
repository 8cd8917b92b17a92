package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"client-portal/internal/core"
	"client-portal/internal/payment"
)

// issuanceTimeout bounds invoice issuance and its escalation once an order is paid.
const issuanceTimeout = 30 * time.Second

// EventVerifier is satisfied by *payment.Verifier.
type EventVerifier interface {
	Verify(payload []byte, signature string) (payment.Event, error)
}

// HandleWebhook runs verifier → guard → order transition → invoice → fan-out.
func (s *appService) HandleWebhook(ctx context.Context, payload []byte, signature string) (*WebhookResult, error) {
	evt, err := s.verifier.Verify(payload, signature)
	if err != nil {
		return nil, err
	}

	res := &WebhookResult{EventID: evt.EventID(), EventType: evt.EventType()}
	log := s.log.With().Str("event_id", res.EventID).Str("event_type", res.EventType).Logger()

	// Connectivity checks from the provider never touch business state.
	if payment.IsSynthetic(evt.EventID()) {
		log.Info().Msg("synthetic webhook acknowledged")
		res.Outcome = OutcomeSynthetic
		return res, nil
	}

	switch e := evt.(type) {
	case payment.PaymentCompleted:
		order, changed, err := s.orders.CompleteOrder(ctx, e.SessionID, e.Details)
		if err != nil {
			if errors.Is(err, core.ErrUnknownOrder) {
				log.Warn().Str("session_id", e.SessionID).Msg("completed payment for unknown order, dropping")
				res.Outcome = OutcomeUnknownOrder
				return res, nil
			}
			return nil, fmt.Errorf("failed to complete order: %w", err)
		}
		res.Order = order
		if !changed {
			log.Info().Int("order_id", order.ID).Msg("duplicate delivery, order already completed")
			res.Outcome = OutcomeDuplicate
			return res, nil
		}
		if !e.Amount.IsZero() && !e.Amount.Equal(order.Amount) {
			log.Warn().Int("order_id", order.ID).
				Str("charged", e.Amount.StringFixed(2)).Str("expected", order.Amount.StringFixed(2)).
				Msg("charged amount differs from order amount")
		}

		// The order is durably completed from here on; nothing below may fail the delivery
		// or be cut short by the provider hanging up.
		detached := context.WithoutCancel(ctx)
		issueCtx, cancel := context.WithTimeout(detached, issuanceTimeout)
		defer cancel()

		inv, notifications, err := s.issueAndNotify(issueCtx, order)
		if err != nil {
			log.Error().Err(err).Int("order_id", order.ID).Msg("invoice issuance failed")
			alertCtx, cancelAlert := context.WithTimeout(detached, issuanceTimeout)
			defer cancelAlert()
			s.notifier.escalate(alertCtx, "Invoice issuance failed",
				fmt.Sprintf("Order #%d (session %s) is paid but has no invoice: %v. Reissue it manually.", order.ID, e.SessionID, err))
			res.Outcome = OutcomeInvoiceFailed
			return res, nil
		}
		res.Invoice = inv
		res.Notifications = notifications
		res.Outcome = OutcomeInvoiced
		return res, nil

	case payment.PaymentFailed:
		order, changed, err := s.orders.FailOrder(ctx, e.Ref)
		if err != nil {
			if errors.Is(err, core.ErrUnknownOrder) {
				log.Warn().Interface("ref", e.Ref).Msg("payment failure for unknown order, dropping")
				res.Outcome = OutcomeUnknownOrder
				return res, nil
			}
			return nil, fmt.Errorf("failed to record payment failure: %w", err)
		}
		res.Order = order
		if !changed {
			res.Outcome = OutcomeDuplicate
			return res, nil
		}
		log.Info().Int("order_id", order.ID).Str("reason", e.Reason).Msg("order payment failed")
		res.Outcome = OutcomeOrderFailed
		return res, nil
	}

	log.Debug().Msg("event ignored")
	res.Outcome = OutcomeIgnored
	return res, nil
}
