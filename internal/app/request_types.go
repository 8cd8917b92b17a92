package app

import "client-portal/internal/core"

// UpdateInvoiceStatusRequest is the input to UpdateInvoiceStatus.
type UpdateInvoiceStatusRequest struct {
	InvoiceNumber string
	Status        core.InvoiceStatus
}
