package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// InvoiceNumberAllocator hands out gapless, strictly increasing invoice numbers
// per (tenant or global, calendar year) scope.
type InvoiceNumberAllocator interface {
	// Allocate consumes the next number in its own transaction.
	Allocate(ctx context.Context, tenantID *int, year int) (string, error)
	// AllocateTx consumes the next number inside the caller's transaction, so the
	// number is only burned if the caller commits. Use when issuing an invoice.
	AllocateTx(ctx context.Context, tx pgx.Tx, tenantID *int, year int) (string, error)
	// Peek returns the number the next allocation would produce without consuming it.
	Peek(ctx context.Context, tenantID *int, year int) (string, error)
}

type invoiceNumberAllocator struct {
	pool   *pgxpool.Pool
	prefix string
}

func NewInvoiceNumberAllocator(pool *pgxpool.Pool, prefix string) InvoiceNumberAllocator {
	return &invoiceNumberAllocator{pool: pool, prefix: prefix}
}

// FormatInvoiceNumber renders PREFIX-YEAR-NNNNN.
func FormatInvoiceNumber(prefix string, year int, n int64) string {
	return fmt.Sprintf("%s-%d-%05d", prefix, year, n)
}

// ScopePrefix is the prefix used by a counter scope. Tenant scopes carry the tenant
// id ("RE-T3") so that numbers stay unique across scopes of the same year.
func ScopePrefix(prefix string, tenantID *int) string {
	if tenantID == nil {
		return prefix
	}
	return fmt.Sprintf("%s-T%d", prefix, *tenantID)
}

func (a *invoiceNumberAllocator) Allocate(ctx context.Context, tenantID *int, year int) (string, error) {
	tx, err := a.pool.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: failed to begin transaction: %w", ErrAllocatorUnavailable, err)
	}
	defer tx.Rollback(ctx)

	number, err := a.AllocateTx(ctx, tx, tenantID, year)
	if err != nil {
		return "", err
	}

	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("%w: failed to commit transaction: %w", ErrAllocatorUnavailable, err)
	}
	return number, nil
}

func (a *invoiceNumberAllocator) AllocateTx(ctx context.Context, tx pgx.Tx, tenantID *int, year int) (string, error) {
	if year <= 0 {
		return "", fmt.Errorf("%w: invalid year %d", ErrInvalidInvoice, year)
	}

	// Single-statement read-increment-write: the row lock taken by the upsert
	// serialises concurrent issuers of the same scope. The prefix is fixed by the
	// first allocation of the year.
	var (
		prefix     string
		lastNumber int64
	)
	err := tx.QueryRow(ctx, `
		INSERT INTO invoice_counters (tenant_id, year, prefix, last_number)
		VALUES ($1, $2, $3, 1)
		ON CONFLICT ((COALESCE(tenant_id, -1)), year)
		DO UPDATE SET last_number = invoice_counters.last_number + 1, updated_at = NOW()
		RETURNING prefix, last_number
	`, tenantID, year, ScopePrefix(a.prefix, tenantID)).Scan(&prefix, &lastNumber)
	if err != nil {
		return "", fmt.Errorf("%w: failed to advance counter: %w", ErrAllocatorUnavailable, err)
	}

	return FormatInvoiceNumber(prefix, year, lastNumber), nil
}

func (a *invoiceNumberAllocator) Peek(ctx context.Context, tenantID *int, year int) (string, error) {
	prefix := ScopePrefix(a.prefix, tenantID)
	var lastNumber int64
	err := a.pool.QueryRow(ctx, `
		SELECT prefix, last_number
		FROM invoice_counters
		WHERE COALESCE(tenant_id, -1) = COALESCE($1::int, -1) AND year = $2
	`, tenantID, year).Scan(&prefix, &lastNumber)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("%w: failed to read counter: %w", ErrAllocatorUnavailable, err)
	}
	return FormatInvoiceNumber(prefix, year, lastNumber+1), nil
}
