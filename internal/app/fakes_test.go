package app_test

import (
	"context"
	"fmt"
	"sync"
	"time"

	"client-portal/internal/core"
	"client-portal/internal/notify"

	"github.com/jackc/pgx/v5"
)

type fakeOrders struct {
	mu        sync.Mutex
	bySession map[string]*core.Order
	err       error
	calls     int
	// onCompleted runs after a successful transition, outside the lock.
	onCompleted func()
}

func newFakeOrders(orders ...*core.Order) *fakeOrders {
	f := &fakeOrders{bySession: map[string]*core.Order{}}
	for _, o := range orders {
		f.bySession[o.ProviderSessionID] = o
	}
	return f
}

func (f *fakeOrders) CompleteOrder(_ context.Context, sessionID string, d core.PaymentDetails) (*core.Order, bool, error) {
	order, changed, err := f.completeOrder(sessionID, d)
	if changed && f.onCompleted != nil {
		f.onCompleted()
	}
	return order, changed, err
}

func (f *fakeOrders) completeOrder(sessionID string, d core.PaymentDetails) (*core.Order, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, false, f.err
	}
	o, ok := f.bySession[sessionID]
	if !ok {
		return nil, false, fmt.Errorf("%w: session %s", core.ErrUnknownOrder, sessionID)
	}
	if o.Status == core.OrderStatusCompleted {
		cp := *o
		return &cp, false, nil
	}
	now := time.Now()
	o.Status, o.PaidAt = core.OrderStatusCompleted, &now
	if d.PaymentID != "" {
		o.ProviderPaymentID = &d.PaymentID
	}
	cp := *o
	return &cp, true, nil
}

func (f *fakeOrders) FailOrder(_ context.Context, ref core.OrderRef) (*core.Order, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	for _, o := range f.bySession {
		if o.ID == ref.ID || (ref.SessionID != "" && o.ProviderSessionID == ref.SessionID) {
			if o.Status != core.OrderStatusPending {
				return o, false, nil
			}
			o.Status = core.OrderStatusFailed
			return o, true, nil
		}
	}
	return nil, false, core.ErrUnknownOrder
}

func (f *fakeOrders) GetOrder(_ context.Context, id int) (*core.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, o := range f.bySession {
		if o.ID == id {
			cp := *o
			return &cp, nil
		}
	}
	return nil, core.ErrUnknownOrder
}

func (f *fakeOrders) GetOrderBySession(_ context.Context, sessionID string) (*core.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if o, ok := f.bySession[sessionID]; ok {
		return o, nil
	}
	return nil, core.ErrUnknownOrder
}

type fakeInvoices struct {
	mu       sync.Mutex
	byOrder  map[int]*core.Invoice
	requests []core.IssueInvoiceRequest
	next     int
	err      error
	overdue  []string
}

func newFakeInvoices() *fakeInvoices {
	return &fakeInvoices{byOrder: map[int]*core.Invoice{}}
}

func (f *fakeInvoices) IssueInvoice(ctx context.Context, req core.IssueInvoiceRequest) (*core.Invoice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, ok := f.byOrder[req.OrderID]; ok {
		return nil, core.ErrDuplicateInvoice
	}
	totals, err := core.ComputeTotals(req.Lines, req.VATRate)
	if err != nil {
		return nil, err
	}
	f.next++
	inv := &core.Invoice{
		ID:            f.next,
		OrderID:       req.OrderID,
		InvoiceNumber: core.FormatInvoiceNumber("RE", 2026, int64(f.next)),
		Type:          req.Type,
		Status:        core.InvoiceStatusSent,
		Customer:      req.Customer,
		NetAmount:     totals.Net,
		VATRate:       totals.VATRate,
		VATAmount:     totals.VAT,
		GrossAmount:   totals.Gross,
		Currency:      req.Currency,
		Items:         totals.Items,
	}
	f.byOrder[req.OrderID] = inv
	return inv, nil
}

func (f *fakeInvoices) GetInvoice(_ context.Context, number string) (*core.Invoice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, inv := range f.byOrder {
		if inv.InvoiceNumber == number {
			return inv, nil
		}
	}
	return nil, core.ErrInvoiceNotFound
}

func (f *fakeInvoices) GetInvoiceByOrder(_ context.Context, orderID int) (*core.Invoice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if inv, ok := f.byOrder[orderID]; ok {
		return inv, nil
	}
	return nil, core.ErrInvoiceNotFound
}

func (f *fakeInvoices) UpdateStatus(ctx context.Context, number string, to core.InvoiceStatus) (*core.Invoice, error) {
	inv, err := f.GetInvoice(ctx, number)
	if err != nil {
		return nil, err
	}
	if !core.CanTransition(inv.Status, to) {
		return nil, core.ErrInvalidTransition
	}
	inv.Status = to
	return inv, nil
}

func (f *fakeInvoices) MarkOverdue(context.Context, time.Time) ([]string, error) {
	return f.overdue, nil
}

type fakeAllocator struct{ peeked []int }

func (f *fakeAllocator) Allocate(context.Context, *int, int) (string, error) { return "", nil }

func (f *fakeAllocator) AllocateTx(context.Context, pgx.Tx, *int, int) (string, error) {
	return "", nil
}

func (f *fakeAllocator) Peek(_ context.Context, _ *int, year int) (string, error) {
	f.peeked = append(f.peeked, year)
	return core.FormatInvoiceNumber("RE", year, 1), nil
}

type fakeCustomers struct{ err error }

func (f fakeCustomers) ResolveCustomer(_ context.Context, o *core.Order) (core.CustomerSnapshot, error) {
	if f.err != nil {
		return core.CustomerSnapshot{}, f.err
	}
	return core.CustomerSnapshot{Name: o.CustomerName, Email: o.CustomerEmail, Address: "Bahnhofstrasse 1"}, nil
}

type fakeMail struct {
	mu   sync.Mutex
	sent []notify.Email
	err  error
}

func (f *fakeMail) Send(_ context.Context, e notify.Email) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, e)
	return nil
}

type alert struct{ Title, Body string }

type fakeAlerter struct {
	mu     sync.Mutex
	alerts []alert
}

func (f *fakeAlerter) Alert(ctx context.Context, title, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alerts = append(f.alerts, alert{title, body})
	return nil
}

func (f *fakeAlerter) titles() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.alerts))
	for _, a := range f.alerts {
		out = append(out, a.Title)
	}
	return out
}

type fakeCRM struct {
	mu        sync.Mutex
	contacts  []notify.Contact
	purchases []notify.Purchase
}

func (f *fakeCRM) UpsertContact(_ context.Context, c notify.Contact) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.contacts = append(f.contacts, c)
	return "ct_1", nil
}

func (f *fakeCRM) LogPurchase(_ context.Context, _ string, p notify.Purchase) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.purchases = append(f.purchases, p)
	return nil
}
