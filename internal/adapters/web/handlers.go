package web

import (
	"encoding/json"
	"errors"
	"net/http"

	"client-portal/internal/app"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// maxBodyBytes caps webhook and admin request bodies.
const maxBodyBytes = 1 << 20

// Handler holds the ApplicationService and the chi router.
type Handler struct {
	svc       app.ApplicationService
	router    chi.Router
	jwtSecret string
	log       zerolog.Logger
}

// NewHandler creates and wires the chi router with all routes.
func NewHandler(svc app.ApplicationService, allowedOrigins, jwtSecret string, log zerolog.Logger) http.Handler {
	h := &Handler{
		svc:       svc,
		jwtSecret: jwtSecret,
		log:       log,
	}

	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(Logger(log))
	r.Use(Recoverer(log))
	r.Use(CORS(allowedOrigins))

	// ── Health (public) ───────────────────────────────────────────────────────
	r.Get("/api/health", h.health)

	// ── Payment provider webhooks (signature-authenticated) ──────────────────
	r.With(RequestBodyLimit(maxBodyBytes)).Post("/api/webhooks/payment", h.paymentWebhook)

	// ── Admin API (bearer JWT, role admin) ────────────────────────────────────
	r.Group(func(r chi.Router) {
		r.Use(h.RequireAuth)
		r.Use(RequireRole(roleAdmin))
		r.Use(RequestBodyLimit(maxBodyBytes))

		r.Post("/api/admin/orders/{id}/invoice", h.reissueInvoice)
		r.Get("/api/admin/invoices/{number}", h.getInvoice)
		r.Post("/api/admin/invoices/{number}/status", h.updateInvoiceStatus)
		r.Post("/api/admin/invoices/{number}/notify/{channel}", h.resendNotification)
	})

	h.router = r
	return r
}

// health reports service and database status.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	type response struct {
		Status   string `json:"status"`
		Database string `json:"database"`
	}

	if err := h.svc.Ping(r.Context()); err != nil {
		h.log.Warn().Err(err).Msg("health check: database unreachable")
		writeJSONStatus(w, http.StatusServiceUnavailable, response{Status: "degraded", Database: "unreachable"})
		return
	}
	writeJSON(w, response{Status: "ok", Database: "ok"})
}

// decodeJSON decodes the request body into v and returns false + writes an appropriate
// error response on failure. Returns HTTP 413 when the body exceeds the size limit set
// by RequestBodyLimit middleware; HTTP 400 for all other decode errors.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			writeError(w, r, "request body too large", "REQUEST_TOO_LARGE", http.StatusRequestEntityTooLarge)
			return false
		}
		writeError(w, r, "invalid JSON body: "+err.Error(), "BAD_REQUEST", http.StatusBadRequest)
		return false
	}
	return true
}
