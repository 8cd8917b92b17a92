package core

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// OrderService is the single source of truth for whether a purchase has been fulfilled.
type OrderService interface {
	// CompleteOrder marks the order behind a checkout session as paid. Re-applying it to a
	// completed order returns the stored order with changed=false and writes nothing.
	CompleteOrder(ctx context.Context, sessionID string, details PaymentDetails) (order *Order, changed bool, err error)
	// FailOrder records a payment failure for a pending order. Completed and failed
	// orders are returned unchanged. provider_payment_id is only written on
	// completion, so a pending order is found by ref.ID or ref.SessionID; a
	// PaymentID-only ref reaches completed orders alone. Checkouts must therefore
	// carry order_id or checkout_session_id in the payment intent metadata.
	FailOrder(ctx context.Context, ref OrderRef) (order *Order, changed bool, err error)

	GetOrder(ctx context.Context, orderID int) (*Order, error)
	GetOrderBySession(ctx context.Context, sessionID string) (*Order, error)
}

type orderService struct {
	pool  *pgxpool.Pool
	audit AuditLog
	log   zerolog.Logger
}

func NewOrderService(pool *pgxpool.Pool, audit AuditLog, log zerolog.Logger) OrderService {
	return &orderService{pool: pool, audit: audit, log: log}
}

// pgxQuerier is satisfied by both *pgxpool.Pool and pgx.Tx, enabling shared query helpers.
type pgxQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const orderColumns = `
	id, tenant_id, user_id, product_id, status, provider_session_id,
	provider_payment_id, provider_customer_id, amount, currency,
	customer_email, customer_name, created_at, paid_at`

func scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	err := row.Scan(
		&o.ID, &o.TenantID, &o.UserID, &o.ProductID, &o.Status, &o.ProviderSessionID,
		&o.ProviderPaymentID, &o.ProviderCustomerID, &o.Amount, &o.Currency,
		&o.CustomerEmail, &o.CustomerName, &o.CreatedAt, &o.PaidAt,
	)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (s *orderService) CompleteOrder(ctx context.Context, sessionID string, details PaymentDetails) (*Order, bool, error) {
	if sessionID == "" {
		return nil, false, fmt.Errorf("%w: empty session id", ErrUnknownOrder)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	before, err := scanOrder(tx.QueryRow(ctx,
		"SELECT"+orderColumns+" FROM orders WHERE provider_session_id = $1 FOR UPDATE",
		sessionID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, fmt.Errorf("%w: session %s", ErrUnknownOrder, sessionID)
		}
		return nil, false, fmt.Errorf("failed to lock order for session %s: %w", sessionID, err)
	}

	if before.Status == OrderStatusCompleted {
		return before, false, nil
	}

	after, err := scanOrder(tx.QueryRow(ctx, `
		UPDATE orders
		SET status               = 'completed',
		    paid_at              = NOW(),
		    provider_payment_id  = COALESCE(NULLIF($1::text, ''), provider_payment_id),
		    provider_customer_id = COALESCE(NULLIF($2::text, ''), provider_customer_id),
		    customer_email       = COALESCE(NULLIF($3::text, ''), customer_email),
		    customer_name        = COALESCE(NULLIF($4::text, ''), customer_name)
		WHERE id = $5
		RETURNING`+orderColumns,
		details.PaymentID, details.CustomerID, details.CustomerEmail, details.CustomerName, before.ID,
	))
	if err != nil {
		return nil, false, fmt.Errorf("failed to complete order %d: %w", before.ID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, fmt.Errorf("failed to commit order completion: %w", err)
	}

	s.appendAudit(ctx, "order.completed", before, after)
	return after, true, nil
}

func (s *orderService) FailOrder(ctx context.Context, ref OrderRef) (*Order, bool, error) {
	if ref.IsZero() {
		return nil, false, fmt.Errorf("%w: empty order reference", ErrUnknownOrder)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	before, err := lockOrderByRef(ctx, tx, ref)
	if err != nil {
		return nil, false, err
	}

	if before.Status != OrderStatusPending {
		return before, false, nil
	}

	after, err := scanOrder(tx.QueryRow(ctx,
		"UPDATE orders SET status = 'failed' WHERE id = $1 RETURNING"+orderColumns,
		before.ID,
	))
	if err != nil {
		return nil, false, fmt.Errorf("failed to mark order %d as failed: %w", before.ID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, fmt.Errorf("failed to commit order failure: %w", err)
	}

	s.appendAudit(ctx, "order.failed", before, after)
	return after, true, nil
}

func lockOrderByRef(ctx context.Context, q pgxQuerier, ref OrderRef) (*Order, error) {
	var (
		where string
		arg   any
	)
	switch {
	case ref.ID != 0:
		where, arg = "id = $1", ref.ID
	case ref.SessionID != "":
		where, arg = "provider_session_id = $1", ref.SessionID
	default:
		where, arg = "provider_payment_id = $1", ref.PaymentID
	}

	o, err := scanOrder(q.QueryRow(ctx,
		"SELECT"+orderColumns+" FROM orders WHERE "+where+" ORDER BY id DESC LIMIT 1 FOR UPDATE",
		arg,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %+v", ErrUnknownOrder, ref)
		}
		return nil, fmt.Errorf("failed to lock order %+v: %w", ref, err)
	}
	return o, nil
}

// appendAudit records a transition after it has been committed. A failure here is
// logged and never undoes the transition.
func (s *orderService) appendAudit(ctx context.Context, action string, before, after *Order) {
	entry := AuditEntry{
		Action:     action,
		EntityType: "order",
		EntityID:   strconv.Itoa(after.ID),
		OldValues:  map[string]any{"status": before.Status, "paid_at": before.PaidAt},
		NewValues: map[string]any{
			"status":              after.Status,
			"paid_at":             after.PaidAt,
			"provider_payment_id": after.ProviderPaymentID,
		},
	}
	if err := s.audit.Append(ctx, entry); err != nil {
		s.log.Warn().Err(err).Int("order_id", after.ID).Str("action", action).Msg("audit log append failed")
	}
}

func (s *orderService) GetOrder(ctx context.Context, orderID int) (*Order, error) {
	o, err := scanOrder(s.pool.QueryRow(ctx, "SELECT"+orderColumns+" FROM orders WHERE id = $1", orderID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: order %d", ErrUnknownOrder, orderID)
		}
		return nil, fmt.Errorf("failed to fetch order %d: %w", orderID, err)
	}
	return o, nil
}

func (s *orderService) GetOrderBySession(ctx context.Context, sessionID string) (*Order, error) {
	o, err := scanOrder(s.pool.QueryRow(ctx,
		"SELECT"+orderColumns+" FROM orders WHERE provider_session_id = $1", sessionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: session %s", ErrUnknownOrder, sessionID)
		}
		return nil, fmt.Errorf("failed to fetch order for session %s: %w", sessionID, err)
	}
	return o, nil
}
