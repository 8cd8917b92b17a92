package web

import (
	"encoding/json"
	"errors"
	"net/http"

	"client-portal/internal/app"
	"client-portal/internal/core"
)

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"request_id,omitempty"`
}

// writeError writes a structured JSON error response.
func writeError(w http.ResponseWriter, r *http.Request, message, code string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	resp := errorResponse{
		Error:     message,
		Code:      code,
		RequestID: requestIDFromContext(r.Context()),
	}
	_ = json.NewEncoder(w).Encode(resp)
}

// writeJSON writes a JSON response with status 200.
func writeJSON(w http.ResponseWriter, v any) {
	writeJSONStatus(w, http.StatusOK, v)
}

func writeJSONStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

var errorStatuses = []struct {
	err    error
	code   string
	status int
}{
	{core.ErrUnknownOrder, "ORDER_NOT_FOUND", http.StatusNotFound},
	{core.ErrInvoiceNotFound, "INVOICE_NOT_FOUND", http.StatusNotFound},
	{core.ErrDuplicateInvoice, "DUPLICATE_INVOICE", http.StatusConflict},
	{core.ErrOrderNotCompleted, "ORDER_NOT_COMPLETED", http.StatusConflict},
	{core.ErrInvalidTransition, "INVALID_TRANSITION", http.StatusConflict},
	{core.ErrInvalidInvoice, "INVALID_INVOICE", http.StatusUnprocessableEntity},
	{core.ErrAllocatorUnavailable, "ALLOCATOR_UNAVAILABLE", http.StatusServiceUnavailable},
	{app.ErrUnknownChannel, "UNKNOWN_CHANNEL", http.StatusBadRequest},
}

// writeServiceError maps a service error onto an HTTP status. Unmapped errors are
// logged by the caller and reported as 500 without detail.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	for _, m := range errorStatuses {
		if errors.Is(err, m.err) {
			writeError(w, r, err.Error(), m.code, m.status)
			return
		}
	}
	writeError(w, r, "internal server error", "INTERNAL_ERROR", http.StatusInternalServerError)
}
