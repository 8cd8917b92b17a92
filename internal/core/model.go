package core

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusCompleted OrderStatus = "completed"
	OrderStatusFailed    OrderStatus = "failed"
)

// Order is one purchase attempt. Status progresses through the state machine:
//
//	pending → completed   (paid checkout)
//	pending → failed      (payment failure)
//	failed  → completed   (successful retry inside the same checkout session)
//
// completed is absorbing; re-applying it is a no-op.
type Order struct {
	ID                 int             `json:"id"`
	TenantID           *int            `json:"tenant_id,omitempty"`
	UserID             *int            `json:"user_id,omitempty"`
	ProductID          string          `json:"product_id"`
	Status             OrderStatus     `json:"status"`
	ProviderSessionID  string          `json:"provider_session_id"`
	ProviderPaymentID  *string         `json:"provider_payment_id,omitempty"`
	ProviderCustomerID *string         `json:"provider_customer_id,omitempty"`
	Amount             decimal.Decimal `json:"amount"` // gross, as charged
	Currency           string          `json:"currency"`
	CustomerEmail      string          `json:"customer_email"`
	CustomerName       string          `json:"customer_name"`
	CreatedAt          time.Time       `json:"created_at"`
	PaidAt             *time.Time      `json:"paid_at,omitempty"`
}

// PaymentDetails carries the provider identifiers recorded when an order completes.
// Empty fields leave the stored value untouched.
type PaymentDetails struct {
	PaymentID     string
	CustomerID    string
	CustomerEmail string
	CustomerName  string
}

// OrderRef identifies an order by whichever handle an event carries.
// The first non-zero field wins: ID, then SessionID, then PaymentID.
type OrderRef struct {
	ID        int
	SessionID string
	PaymentID string
}

func (r OrderRef) IsZero() bool {
	return r.ID == 0 && r.SessionID == "" && r.PaymentID == ""
}

type InvoiceType string

const (
	InvoiceTypeAnalysis    InvoiceType = "analysis"
	InvoiceTypeShop        InvoiceType = "shop"
	InvoiceTypeInstallment InvoiceType = "installment"
	InvoiceTypeFinal       InvoiceType = "final"
	InvoiceTypeCreditNote  InvoiceType = "credit_note"
)

var validInvoiceTypes = map[InvoiceType]struct{}{
	InvoiceTypeAnalysis:    {},
	InvoiceTypeShop:        {},
	InvoiceTypeInstallment: {},
	InvoiceTypeFinal:       {},
	InvoiceTypeCreditNote:  {},
}

func (t InvoiceType) Valid() bool {
	_, ok := validInvoiceTypes[t]
	return ok
}

type InvoiceStatus string

const (
	InvoiceStatusDraft     InvoiceStatus = "draft"
	InvoiceStatusSent      InvoiceStatus = "sent"
	InvoiceStatusPaid      InvoiceStatus = "paid"
	InvoiceStatusOverdue   InvoiceStatus = "overdue"
	InvoiceStatusCancelled InvoiceStatus = "cancelled"
)

// remember to keep this in sync with the invoices.status CHECK constraint
var invoiceTransitions = map[InvoiceStatus][]InvoiceStatus{
	InvoiceStatusDraft:   {InvoiceStatusSent, InvoiceStatusCancelled},
	InvoiceStatusSent:    {InvoiceStatusPaid, InvoiceStatusOverdue, InvoiceStatusCancelled},
	InvoiceStatusOverdue: {InvoiceStatusPaid, InvoiceStatusCancelled},
	InvoiceStatusPaid:    {InvoiceStatusCancelled},
}

// CanTransition reports whether an invoice may move from one status to another.
func CanTransition(from, to InvoiceStatus) bool {
	for _, next := range invoiceTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CustomerSnapshot is the billing identity copied onto an invoice at issuance.
// It is never re-read from the customer record afterwards.
type CustomerSnapshot struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Company string `json:"company,omitempty"`
	Address string `json:"address,omitempty"`
	VATID   string `json:"vat_id,omitempty"`
}

// Invoice is an issued financial document, 1:1 with a completed order.
type Invoice struct {
	ID                int              `json:"id"`
	TenantID          *int             `json:"tenant_id,omitempty"`
	OrderID           int              `json:"order_id"`
	InvoiceNumber     string           `json:"invoice_number"`
	InvoiceDate       time.Time        `json:"invoice_date"`
	DueDate           time.Time        `json:"due_date"`
	Type              InvoiceType      `json:"type"`
	Status            InvoiceStatus    `json:"status"`
	Customer          CustomerSnapshot `json:"customer"`
	NetAmount         decimal.Decimal  `json:"net_amount"`
	VATRate           decimal.Decimal  `json:"vat_rate"`
	VATAmount         decimal.Decimal  `json:"vat_amount"`
	GrossAmount       decimal.Decimal  `json:"gross_amount"`
	Currency          string           `json:"currency"`
	InstallmentNumber *int             `json:"installment_number,omitempty"`
	InstallmentTotal  *int             `json:"installment_total,omitempty"`
	Items             []InvoiceItem    `json:"items"`
	CreatedAt         time.Time        `json:"created_at"`
}

// InvoiceItem is one line of an invoice. TotalPrice = Quantity × UnitPrice.
type InvoiceItem struct {
	ID          int             `json:"id"`
	InvoiceID   int             `json:"invoice_id"`
	Position    int             `json:"position"`
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	Unit        string          `json:"unit,omitempty"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	TotalPrice  decimal.Decimal `json:"total_price"`
}

// InvoiceCounter is the running sequence of one (tenant or global, year) scope.
type InvoiceCounter struct {
	TenantID   *int   `json:"tenant_id,omitempty"`
	Year       int    `json:"year"`
	Prefix     string `json:"prefix"`
	LastNumber int64  `json:"last_number"`
}

// AuditEntry is one append-only record of a state transition.
type AuditEntry struct {
	Action     string `json:"action"`
	EntityType string `json:"entity_type"`
	EntityID   string `json:"entity_id"`
	OldValues  any    `json:"old_values,omitempty"`
	NewValues  any    `json:"new_values,omitempty"`
}
