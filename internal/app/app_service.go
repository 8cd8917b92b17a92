package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"client-portal/internal/core"
	"client-portal/internal/notify"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

type appService struct {
	orders    core.OrderService
	invoices  core.InvoiceService
	allocator core.InvoiceNumberAllocator
	customers core.CustomerDirectory
	catalog   *core.Catalog
	verifier  EventVerifier
	notifier  *Notifier
	pinger    Pinger
	now       func() time.Time
	log       zerolog.Logger
}

// NewAppService constructs an appService that satisfies ApplicationService.
func NewAppService(svcs Services, log zerolog.Logger) ApplicationService {
	return &appService{
		orders:    svcs.Orders,
		invoices:  svcs.Invoices,
		allocator: svcs.Allocator,
		customers: svcs.Customers,
		catalog:   svcs.Catalog,
		verifier:  svcs.Verifier,
		notifier:  svcs.Notifier,
		pinger:    svcs.Pinger,
		now:       time.Now,
		log:       log,
	}
}

// issueAndNotify composes the invoice of a completed order and runs the fan-out.
// Notification failures are contained in the returned results.
func (s *appService) issueAndNotify(ctx context.Context, order *core.Order) (*core.Invoice, []notify.Result, error) {
	req, err := s.invoiceRequest(ctx, order)
	if err != nil {
		return nil, nil, err
	}
	inv, err := s.invoices.IssueInvoice(ctx, req)
	if err != nil {
		return nil, nil, err
	}
	s.log.Info().Int("order_id", order.ID).Str("invoice_number", inv.InvoiceNumber).Msg("invoice issued")
	if !order.Amount.IsZero() && !inv.GrossAmount.Equal(order.Amount.Round(2)) {
		s.log.Warn().Str("invoice_number", inv.InvoiceNumber).
			Str("invoiced", inv.GrossAmount.StringFixed(2)).Str("charged", order.Amount.StringFixed(2)).
			Msg("invoice gross differs from charged amount after rounding")
	}

	return inv, s.notifier.Notify(ctx, order, inv), nil
}

// invoiceRequest prices the order's product from the catalog. The charged amount
// is VAT-inclusive; the catalog price is used only when the order carries none.
func (s *appService) invoiceRequest(ctx context.Context, order *core.Order) (core.IssueInvoiceRequest, error) {
	product, known := s.catalog.Lookup(order.ProductID)
	if !known {
		s.log.Warn().Str("product_id", order.ProductID).Msg("product not in catalog, invoicing as shop item")
	}
	rate := s.catalog.VATRateFor(product)

	gross := order.Amount
	if gross.IsZero() {
		gross = product.GrossPrice
	}

	customer, err := s.customers.ResolveCustomer(ctx, order)
	if err != nil {
		s.log.Warn().Err(err).Int("order_id", order.ID).Msg("customer lookup failed, using checkout details")
		customer = core.CheckoutSnapshot(order)
	}

	return core.IssueInvoiceRequest{
		OrderID:  order.ID,
		Customer: customer,
		Lines: []core.LineItemInput{{
			Description: product.Name,
			Quantity:    decimal.NewFromInt(1),
			UnitPrice:   core.NetFromGross(gross, rate),
			Unit:        product.Unit,
		}},
		VATRate:  rate,
		Currency: order.Currency,
		Type:     product.Type,
	}, nil
}

func (s *appService) ReissueInvoice(ctx context.Context, orderID int) (*InvoiceResult, error) {
	order, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status != core.OrderStatusCompleted {
		return nil, fmt.Errorf("%w: order %d is %s", core.ErrOrderNotCompleted, orderID, order.Status)
	}

	inv, results, err := s.issueAndNotify(ctx, order)
	if err != nil {
		return nil, err
	}
	return &InvoiceResult{Invoice: inv, Notifications: results}, nil
}

func (s *appService) ResendNotification(ctx context.Context, invoiceNumber, channel string) (*NotificationResult, error) {
	inv, err := s.invoices.GetInvoice(ctx, invoiceNumber)
	if err != nil {
		return nil, err
	}
	order, err := s.orders.GetOrder(ctx, inv.OrderID)
	if err != nil {
		return nil, err
	}

	result, err := s.notifier.Resend(ctx, channel, order, inv)
	if err != nil {
		return nil, err
	}
	out := &NotificationResult{InvoiceNumber: invoiceNumber, Channel: channel, Result: result}
	if result.Err != nil {
		return out, result.Err
	}
	return out, nil
}

func (s *appService) GetInvoice(ctx context.Context, invoiceNumber string) (*InvoiceResult, error) {
	inv, err := s.invoices.GetInvoice(ctx, invoiceNumber)
	if err != nil {
		return nil, err
	}
	return &InvoiceResult{Invoice: inv}, nil
}

func (s *appService) UpdateInvoiceStatus(ctx context.Context, req UpdateInvoiceStatusRequest) (*InvoiceResult, error) {
	if req.InvoiceNumber == "" {
		return nil, fmt.Errorf("%w: invoice number is required", core.ErrInvoiceNotFound)
	}
	inv, err := s.invoices.UpdateStatus(ctx, req.InvoiceNumber, req.Status)
	if err != nil {
		return nil, err
	}
	return &InvoiceResult{Invoice: inv}, nil
}

func (s *appService) SweepOverdue(ctx context.Context) (*SweepResult, error) {
	numbers, err := s.invoices.MarkOverdue(ctx, s.now())
	if err != nil {
		return nil, err
	}
	if len(numbers) > 0 {
		s.log.Info().Strs("invoices", numbers).Msg("invoices marked overdue")
	}
	return &SweepResult{Overdue: numbers}, nil
}

func (s *appService) PreviewNextNumber(ctx context.Context, tenantID *int, year int) (string, error) {
	if year == 0 {
		year = s.now().UTC().Year()
	}
	return s.allocator.Peek(ctx, tenantID, year)
}

func (s *appService) Ping(ctx context.Context) error {
	if s.pinger == nil {
		return errors.New("no database configured")
	}
	return s.pinger.Ping(ctx)
}
