package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// CustomerDirectory resolves the billing identity of the buyer behind an order.
type CustomerDirectory interface {
	// ResolveCustomer looks the buyer up by user id, then by email, and falls back to
	// the name and email captured at checkout for guests.
	ResolveCustomer(ctx context.Context, order *Order) (CustomerSnapshot, error)
}

type customerDirectory struct {
	pool *pgxpool.Pool
}

func NewCustomerDirectory(pool *pgxpool.Pool) CustomerDirectory {
	return &customerDirectory{pool: pool}
}

func (d *customerDirectory) ResolveCustomer(ctx context.Context, order *Order) (CustomerSnapshot, error) {
	if order.UserID != nil {
		c, err := d.findBy(ctx, "id = $1", *order.UserID)
		if err == nil {
			return withCheckoutFallback(c, order), nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return CustomerSnapshot{}, fmt.Errorf("failed to resolve user %d: %w", *order.UserID, err)
		}
	}

	if order.CustomerEmail != "" {
		c, err := d.findBy(ctx, "lower(email) = lower($1)", order.CustomerEmail)
		if err == nil {
			return withCheckoutFallback(c, order), nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return CustomerSnapshot{}, fmt.Errorf("failed to resolve user %s: %w", order.CustomerEmail, err)
		}
	}

	return CheckoutSnapshot(order), nil
}

func (d *customerDirectory) findBy(ctx context.Context, where string, arg any) (CustomerSnapshot, error) {
	var c CustomerSnapshot
	err := d.pool.QueryRow(ctx,
		"SELECT name, email, company, address, vat_id FROM users WHERE "+where+" LIMIT 1", arg,
	).Scan(&c.Name, &c.Email, &c.Company, &c.Address, &c.VATID)
	return c, err
}

// CheckoutSnapshot builds a snapshot from the details captured on the order itself.
func CheckoutSnapshot(order *Order) CustomerSnapshot {
	return CustomerSnapshot{Name: order.CustomerName, Email: order.CustomerEmail}
}

func withCheckoutFallback(c CustomerSnapshot, order *Order) CustomerSnapshot {
	if c.Name == "" {
		c.Name = order.CustomerName
	}
	if c.Email == "" {
		c.Email = order.CustomerEmail
	}
	return c
}
