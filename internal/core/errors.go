package core

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrUnknownOrder is returned when no order matches the reference carried by an event.
	ErrUnknownOrder = errors.New("unknown order")

	// ErrOrderNotCompleted is returned when invoicing is attempted for an unpaid order.
	ErrOrderNotCompleted = errors.New("order is not completed")

	// ErrDuplicateInvoice is returned when an order already has an invoice.
	ErrDuplicateInvoice = errors.New("invoice already issued for order")

	// ErrAllocatorUnavailable is returned when the invoice counter cannot be advanced.
	// No invoice is created; the caller may retry.
	ErrAllocatorUnavailable = errors.New("invoice number allocator unavailable")

	// ErrInvoiceNotFound is returned by invoice lookups.
	ErrInvoiceNotFound = errors.New("invoice not found")

	// ErrInvalidTransition is returned for a disallowed invoice status change.
	ErrInvalidTransition = errors.New("invalid invoice status transition")

	// ErrInvalidInvoice is returned when composition input is malformed.
	ErrInvalidInvoice = errors.New("invalid invoice input")
)

const uniqueViolation = "23505"

// isUniqueViolation reports whether err is a unique constraint violation on constraint.
// An empty constraint matches any unique violation.
func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != uniqueViolation {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}
