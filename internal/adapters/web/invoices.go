package web

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"client-portal/internal/app"
	"client-portal/internal/core"
	"client-portal/internal/notify"

	"github.com/go-chi/chi/v5"
	"github.com/samber/lo"
)

type invoiceItemResponse struct {
	Position    int    `json:"position"`
	Description string `json:"description"`
	Quantity    string `json:"quantity"`
	Unit        string `json:"unit,omitempty"`
	UnitPrice   string `json:"unit_price"`
	TotalPrice  string `json:"total_price"`
}

type invoiceResponse struct {
	InvoiceNumber     string                `json:"invoice_number"`
	OrderID           int                   `json:"order_id"`
	Type              core.InvoiceType      `json:"type"`
	Status            core.InvoiceStatus    `json:"status"`
	InvoiceDate       string                `json:"invoice_date"`
	DueDate           string                `json:"due_date"`
	Customer          core.CustomerSnapshot `json:"customer"`
	Currency          string                `json:"currency"`
	NetAmount         string                `json:"net_amount"`
	VATRate           string                `json:"vat_rate"`
	VATAmount         string                `json:"vat_amount"`
	GrossAmount       string                `json:"gross_amount"`
	InstallmentNumber *int                  `json:"installment_number,omitempty"`
	InstallmentTotal  *int                  `json:"installment_total,omitempty"`
	Items             []invoiceItemResponse `json:"items"`
}

type notificationResponse struct {
	Channel    string `json:"channel"`
	OK         bool   `json:"ok"`
	Error      string `json:"error,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

type invoiceResultResponse struct {
	Invoice       invoiceResponse        `json:"invoice"`
	Notifications []notificationResponse `json:"notifications,omitempty"`
}

func toInvoiceResponse(inv *core.Invoice) invoiceResponse {
	return invoiceResponse{
		InvoiceNumber:     inv.InvoiceNumber,
		OrderID:           inv.OrderID,
		Type:              inv.Type,
		Status:            inv.Status,
		InvoiceDate:       inv.InvoiceDate.Format(time.DateOnly),
		DueDate:           inv.DueDate.Format(time.DateOnly),
		Customer:          inv.Customer,
		Currency:          inv.Currency,
		NetAmount:         inv.NetAmount.StringFixed(2),
		VATRate:           inv.VATRate.String(),
		VATAmount:         inv.VATAmount.StringFixed(2),
		GrossAmount:       inv.GrossAmount.StringFixed(2),
		InstallmentNumber: inv.InstallmentNumber,
		InstallmentTotal:  inv.InstallmentTotal,
		Items: lo.Map(inv.Items, func(it core.InvoiceItem, _ int) invoiceItemResponse {
			return invoiceItemResponse{
				Position:    it.Position,
				Description: it.Description,
				Quantity:    it.Quantity.String(),
				Unit:        it.Unit,
				UnitPrice:   it.UnitPrice.StringFixed(2),
				TotalPrice:  it.TotalPrice.StringFixed(2),
			}
		}),
	}
}

func toNotificationResponse(r notify.Result) notificationResponse {
	out := notificationResponse{Channel: r.Name, OK: r.Err == nil, DurationMS: r.Duration.Milliseconds()}
	if r.Err != nil {
		out.Error = r.Err.Error()
	}
	return out
}

func toInvoiceResultResponse(res *app.InvoiceResult) invoiceResultResponse {
	return invoiceResultResponse{
		Invoice:       toInvoiceResponse(res.Invoice),
		Notifications: lo.Map(res.Notifications, func(r notify.Result, _ int) notificationResponse { return toNotificationResponse(r) }),
	}
}

// serviceFailed writes the mapped error response and logs unmapped failures.
func (h *Handler) serviceFailed(w http.ResponseWriter, r *http.Request, op string, err error) {
	h.log.Error().Err(err).
		Str("request_id", requestIDFromContext(r.Context())).
		Str("op", op).
		Msg("admin request failed")
	writeServiceError(w, r, err)
}

// reissueInvoice handles POST /api/admin/orders/{id}/invoice.
func (h *Handler) reissueInvoice(w http.ResponseWriter, r *http.Request) {
	orderID, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || orderID <= 0 {
		writeError(w, r, "invalid order id", "BAD_REQUEST", http.StatusBadRequest)
		return
	}

	result, err := h.svc.ReissueInvoice(r.Context(), orderID)
	if err != nil {
		h.serviceFailed(w, r, "reissue_invoice", err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, toInvoiceResultResponse(result))
}

// getInvoice handles GET /api/admin/invoices/{number}.
func (h *Handler) getInvoice(w http.ResponseWriter, r *http.Request) {
	result, err := h.svc.GetInvoice(r.Context(), chi.URLParam(r, "number"))
	if err != nil {
		h.serviceFailed(w, r, "get_invoice", err)
		return
	}
	writeJSON(w, toInvoiceResultResponse(result))
}

// updateInvoiceStatus handles POST /api/admin/invoices/{number}/status.
func (h *Handler) updateInvoiceStatus(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Status core.InvoiceStatus `json:"status"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	if body.Status == "" {
		writeError(w, r, "status is required", "BAD_REQUEST", http.StatusBadRequest)
		return
	}

	result, err := h.svc.UpdateInvoiceStatus(r.Context(), app.UpdateInvoiceStatusRequest{
		InvoiceNumber: chi.URLParam(r, "number"),
		Status:        body.Status,
	})
	if err != nil {
		h.serviceFailed(w, r, "update_invoice_status", err)
		return
	}
	writeJSON(w, toInvoiceResultResponse(result))
}

// resendNotification handles POST /api/admin/invoices/{number}/notify/{channel}.
// A channel that ran and failed is reported as 502 with the channel error.
func (h *Handler) resendNotification(w http.ResponseWriter, r *http.Request) {
	result, err := h.svc.ResendNotification(r.Context(), chi.URLParam(r, "number"), chi.URLParam(r, "channel"))
	if err != nil {
		var nerr *notify.NotificationError
		if result != nil && errors.As(err, &nerr) {
			h.log.Warn().Err(err).Str("invoice", result.InvoiceNumber).Str("channel", result.Channel).Msg("notification resend failed")
			writeError(w, r, err.Error(), "NOTIFICATION_FAILED", http.StatusBadGateway)
			return
		}
		h.serviceFailed(w, r, "resend_notification", err)
		return
	}
	writeJSON(w, toNotificationResponse(result.Result))
}
