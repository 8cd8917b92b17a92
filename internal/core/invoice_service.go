package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
)

// IssueInvoiceRequest is the input to invoice composition for one completed order.
type IssueInvoiceRequest struct {
	OrderID           int
	Customer          CustomerSnapshot
	Lines             []LineItemInput
	VATRate           decimal.Decimal
	Currency          string
	Type              InvoiceType
	InstallmentNumber *int
	InstallmentTotal  *int
}

type InvoiceService interface {
	// IssueInvoice composes, numbers and persists the invoice for a completed order in one
	// transaction. A second call for the same order fails with ErrDuplicateInvoice.
	IssueInvoice(ctx context.Context, req IssueInvoiceRequest) (*Invoice, error)

	GetInvoice(ctx context.Context, invoiceNumber string) (*Invoice, error)
	GetInvoiceByOrder(ctx context.Context, orderID int) (*Invoice, error)

	// UpdateStatus applies a status transition allowed by CanTransition.
	UpdateStatus(ctx context.Context, invoiceNumber string, to InvoiceStatus) (*Invoice, error)
	// MarkOverdue moves every sent invoice whose due date is before asOf to overdue and
	// returns the affected invoice numbers.
	MarkOverdue(ctx context.Context, asOf time.Time) ([]string, error)
}

type InvoiceServiceOption func(*invoiceService)

// WithClock overrides the time source used for invoice and due dates.
func WithClock(now func() time.Time) InvoiceServiceOption {
	return func(s *invoiceService) { s.now = now }
}

type invoiceService struct {
	pool      *pgxpool.Pool
	allocator InvoiceNumberAllocator
	audit     AuditLog
	dueDays   int
	now       func() time.Time
	log       zerolog.Logger
}

func NewInvoiceService(pool *pgxpool.Pool, allocator InvoiceNumberAllocator, audit AuditLog, dueDays int, log zerolog.Logger, opts ...InvoiceServiceOption) InvoiceService {
	s := &invoiceService{
		pool:      pool,
		allocator: allocator,
		audit:     audit,
		dueDays:   dueDays,
		now:       time.Now,
		log:       log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *invoiceService) IssueInvoice(ctx context.Context, req IssueInvoiceRequest) (*Invoice, error) {
	if !req.Type.Valid() {
		return nil, fmt.Errorf("%w: unknown invoice type %q", ErrInvalidInvoice, req.Type)
	}
	unit, err := currency.ParseISO(strings.ToUpper(req.Currency))
	if err != nil {
		return nil, fmt.Errorf("%w: currency %q: %w", ErrInvalidInvoice, req.Currency, err)
	}
	totals, err := ComputeTotals(req.Lines, req.VATRate)
	if err != nil {
		return nil, err
	}

	customer := req.Customer
	if customer.Name == "" {
		customer.Name = customer.Email
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var (
		tenantID *int
		status   OrderStatus
	)
	err = tx.QueryRow(ctx, "SELECT tenant_id, status FROM orders WHERE id = $1 FOR UPDATE", req.OrderID).
		Scan(&tenantID, &status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: order %d", ErrUnknownOrder, req.OrderID)
		}
		return nil, fmt.Errorf("failed to lock order %d: %w", req.OrderID, err)
	}
	if status != OrderStatusCompleted {
		return nil, fmt.Errorf("%w: order %d is %s", ErrOrderNotCompleted, req.OrderID, status)
	}

	var exists bool
	if err := tx.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM invoices WHERE order_id = $1)", req.OrderID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("failed to check existing invoice for order %d: %w", req.OrderID, err)
	}
	if exists {
		return nil, fmt.Errorf("%w: order %d", ErrDuplicateInvoice, req.OrderID)
	}

	now := s.now().UTC()
	number, err := s.allocator.AllocateTx(ctx, tx, tenantID, now.Year())
	if err != nil {
		return nil, err
	}

	inv := &Invoice{
		TenantID:          tenantID,
		OrderID:           req.OrderID,
		InvoiceNumber:     number,
		InvoiceDate:       now,
		DueDate:           now.AddDate(0, 0, s.dueDays),
		Type:              req.Type,
		Status:            InvoiceStatusSent,
		Customer:          customer,
		NetAmount:         totals.Net,
		VATRate:           totals.VATRate,
		VATAmount:         totals.VAT,
		GrossAmount:       totals.Gross,
		Currency:          unit.String(),
		InstallmentNumber: req.InstallmentNumber,
		InstallmentTotal:  req.InstallmentTotal,
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO invoices (
			tenant_id, order_id, invoice_number, invoice_date, due_date, type, status,
			customer_name, customer_email, customer_company, customer_address, customer_vat_id,
			net_amount, vat_rate, vat_amount, gross_amount, currency,
			installment_number, installment_total
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		RETURNING id, created_at
	`,
		inv.TenantID, inv.OrderID, inv.InvoiceNumber, inv.InvoiceDate, inv.DueDate, string(inv.Type), string(inv.Status),
		customer.Name, customer.Email, customer.Company, customer.Address, customer.VATID,
		inv.NetAmount, inv.VATRate, inv.VATAmount, inv.GrossAmount, inv.Currency,
		inv.InstallmentNumber, inv.InstallmentTotal,
	).Scan(&inv.ID, &inv.CreatedAt)
	if err != nil {
		if isUniqueViolation(err, "invoices_order_id_key") {
			return nil, fmt.Errorf("%w: order %d", ErrDuplicateInvoice, req.OrderID)
		}
		if isUniqueViolation(err, "invoices_invoice_number_key") {
			return nil, fmt.Errorf("%w: invoice number %s already issued by another scope", ErrAllocatorUnavailable, number)
		}
		return nil, fmt.Errorf("failed to insert invoice %s: %w", number, err)
	}

	inv.Items = make([]InvoiceItem, 0, len(totals.Items))
	for _, item := range totals.Items {
		item.InvoiceID = inv.ID
		err := tx.QueryRow(ctx, `
			INSERT INTO invoice_items (invoice_id, position, description, quantity, unit, unit_price, total_price)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING id
		`, item.InvoiceID, item.Position, item.Description, item.Quantity, item.Unit, item.UnitPrice, item.TotalPrice).Scan(&item.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to insert invoice item %d of %s: %w", item.Position, number, err)
		}
		inv.Items = append(inv.Items, item)
	}

	if err := tx.Commit(ctx); err != nil {
		if isUniqueViolation(err, "") {
			return nil, fmt.Errorf("%w: order %d", ErrDuplicateInvoice, req.OrderID)
		}
		return nil, fmt.Errorf("failed to commit invoice %s: %w", number, err)
	}

	s.appendAudit(ctx, "invoice.issued", inv.InvoiceNumber, nil, map[string]any{
		"order_id":     inv.OrderID,
		"status":       inv.Status,
		"gross_amount": inv.GrossAmount,
		"currency":     inv.Currency,
	})
	return inv, nil
}

const invoiceColumns = `
	id, tenant_id, order_id, invoice_number, invoice_date, due_date, type, status,
	customer_name, customer_email, customer_company, customer_address, customer_vat_id,
	net_amount, vat_rate, vat_amount, gross_amount, currency,
	installment_number, installment_total, created_at`

func scanInvoice(row pgx.Row) (*Invoice, error) {
	var inv Invoice
	err := row.Scan(
		&inv.ID, &inv.TenantID, &inv.OrderID, &inv.InvoiceNumber, &inv.InvoiceDate, &inv.DueDate, &inv.Type, &inv.Status,
		&inv.Customer.Name, &inv.Customer.Email, &inv.Customer.Company, &inv.Customer.Address, &inv.Customer.VATID,
		&inv.NetAmount, &inv.VATRate, &inv.VATAmount, &inv.GrossAmount, &inv.Currency,
		&inv.InstallmentNumber, &inv.InstallmentTotal, &inv.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

func (s *invoiceService) GetInvoice(ctx context.Context, invoiceNumber string) (*Invoice, error) {
	return s.getInvoice(ctx, s.pool, "invoice_number = $1", invoiceNumber)
}

func (s *invoiceService) GetInvoiceByOrder(ctx context.Context, orderID int) (*Invoice, error) {
	return s.getInvoice(ctx, s.pool, "order_id = $1", orderID)
}

type pgxQueryer interface {
	pgxQuerier
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func (s *invoiceService) getInvoice(ctx context.Context, q pgxQueryer, where string, arg any) (*Invoice, error) {
	inv, err := scanInvoice(q.QueryRow(ctx, "SELECT"+invoiceColumns+" FROM invoices WHERE "+where, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %v", ErrInvoiceNotFound, arg)
		}
		return nil, fmt.Errorf("failed to fetch invoice %v: %w", arg, err)
	}

	rows, err := q.Query(ctx, `
		SELECT id, invoice_id, position, description, quantity, unit, unit_price, total_price
		FROM invoice_items
		WHERE invoice_id = $1
		ORDER BY position
	`, inv.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch items of invoice %s: %w", inv.InvoiceNumber, err)
	}
	defer rows.Close()

	for rows.Next() {
		var it InvoiceItem
		if err := rows.Scan(&it.ID, &it.InvoiceID, &it.Position, &it.Description, &it.Quantity, &it.Unit, &it.UnitPrice, &it.TotalPrice); err != nil {
			return nil, fmt.Errorf("failed to scan invoice item: %w", err)
		}
		inv.Items = append(inv.Items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read invoice items: %w", err)
	}
	return inv, nil
}

func (s *invoiceService) UpdateStatus(ctx context.Context, invoiceNumber string, to InvoiceStatus) (*Invoice, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var from InvoiceStatus
	err = tx.QueryRow(ctx, "SELECT status FROM invoices WHERE invoice_number = $1 FOR UPDATE", invoiceNumber).Scan(&from)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrInvoiceNotFound, invoiceNumber)
		}
		return nil, fmt.Errorf("failed to lock invoice %s: %w", invoiceNumber, err)
	}
	if !CanTransition(from, to) {
		return nil, fmt.Errorf("%w: %s → %s", ErrInvalidTransition, from, to)
	}

	if _, err := tx.Exec(ctx, "UPDATE invoices SET status = $1 WHERE invoice_number = $2", string(to), invoiceNumber); err != nil {
		return nil, fmt.Errorf("failed to update invoice %s: %w", invoiceNumber, err)
	}

	inv, err := s.getInvoice(ctx, tx, "invoice_number = $1", invoiceNumber)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit status change of %s: %w", invoiceNumber, err)
	}

	s.appendAudit(ctx, "invoice.status_changed", invoiceNumber,
		map[string]any{"status": from}, map[string]any{"status": to})
	return inv, nil
}

func (s *invoiceService) MarkOverdue(ctx context.Context, asOf time.Time) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		UPDATE invoices
		SET status = 'overdue'
		WHERE status = 'sent' AND due_date < $1
		RETURNING invoice_number
	`, asOf)
	if err != nil {
		return nil, fmt.Errorf("failed to mark overdue invoices: %w", err)
	}
	numbers, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to read overdue invoices: %w", err)
	}

	for _, n := range numbers {
		s.appendAudit(ctx, "invoice.status_changed", n,
			map[string]any{"status": InvoiceStatusSent}, map[string]any{"status": InvoiceStatusOverdue})
	}
	return numbers, nil
}

func (s *invoiceService) appendAudit(ctx context.Context, action, invoiceNumber string, oldValues, newValues any) {
	entry := AuditEntry{
		Action:     action,
		EntityType: "invoice",
		EntityID:   invoiceNumber,
		OldValues:  oldValues,
		NewValues:  newValues,
	}
	if err := s.audit.Append(ctx, entry); err != nil {
		s.log.Warn().Err(err).Str("invoice_number", invoiceNumber).Str("action", action).Msg("audit log append failed")
	}
}
