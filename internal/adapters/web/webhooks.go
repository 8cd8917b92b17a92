package web

import (
	"errors"
	"io"
	"net/http"

	"client-portal/internal/payment"
)

type webhookResponse struct {
	Received bool   `json:"received"`
	Outcome  string `json:"outcome,omitempty"`
}

// paymentWebhook handles POST /api/webhooks/payment.
//
// Forged or malformed deliveries get 400 and are never retried by the provider.
// Only failures before the order transition is committed return 5xx.
func (h *Handler) paymentWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			writeError(w, r, "request body too large", "REQUEST_TOO_LARGE", http.StatusRequestEntityTooLarge)
			return
		}
		writeError(w, r, "failed to read body", "BAD_REQUEST", http.StatusBadRequest)
		return
	}

	result, err := h.svc.HandleWebhook(r.Context(), payload, r.Header.Get(payment.SignatureHeader))
	switch {
	case errors.Is(err, payment.ErrSignatureInvalid):
		h.log.Warn().Str("request_id", requestIDFromContext(r.Context())).Msg("webhook signature rejected")
		writeError(w, r, "invalid signature", "INVALID_SIGNATURE", http.StatusBadRequest)
		return
	case errors.Is(err, payment.ErrMalformedEvent):
		writeError(w, r, err.Error(), "MALFORMED_EVENT", http.StatusBadRequest)
		return
	case err != nil:
		h.log.Error().Err(err).Str("request_id", requestIDFromContext(r.Context())).Msg("webhook processing failed")
		writeError(w, r, "webhook processing failed", "INTERNAL_ERROR", http.StatusInternalServerError)
		return
	}

	writeJSON(w, webhookResponse{Received: true, Outcome: string(result.Outcome)})
}
