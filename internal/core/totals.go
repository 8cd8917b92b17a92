package core

import (
	"fmt"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// LineItemInput is one requested invoice line before pricing.
type LineItemInput struct {
	Description string
	Quantity    decimal.Decimal
	UnitPrice   decimal.Decimal // net
	Unit        string
}

// Totals is the priced result of a set of line items.
type Totals struct {
	Items   []InvoiceItem
	Net     decimal.Decimal
	VATRate decimal.Decimal
	VAT     decimal.Decimal
	Gross   decimal.Decimal
}

// ComputeTotals prices lines at the given VAT rate (percent). Every amount is
// rounded to cents half away from zero at the point it is produced, so
// Net == Σ item totals and Gross == Net + VAT hold exactly.
func ComputeTotals(lines []LineItemInput, vatRate decimal.Decimal) (Totals, error) {
	if len(lines) == 0 {
		return Totals{}, fmt.Errorf("%w: invoice must have at least one line", ErrInvalidInvoice)
	}
	if vatRate.IsNegative() || vatRate.GreaterThanOrEqual(hundred) {
		return Totals{}, fmt.Errorf("%w: vat rate %s outside [0, 100)", ErrInvalidInvoice, vatRate)
	}

	items := make([]InvoiceItem, 0, len(lines))
	for i, l := range lines {
		if l.Description == "" {
			return Totals{}, fmt.Errorf("%w: line %d has no description", ErrInvalidInvoice, i+1)
		}
		if !l.Quantity.IsPositive() {
			return Totals{}, fmt.Errorf("%w: line %d quantity must be positive, got %s", ErrInvalidInvoice, i+1, l.Quantity)
		}
		// invoice_items.quantity is NUMERIC(12,3); a finer quantity would be stored
		// rounded while the line total was computed from the unrounded value.
		if !l.Quantity.Equal(l.Quantity.Round(3)) {
			return Totals{}, fmt.Errorf("%w: line %d quantity %s has more than 3 decimals", ErrInvalidInvoice, i+1, l.Quantity)
		}
		unitPrice := l.UnitPrice.Round(2)
		items = append(items, InvoiceItem{
			Position:    i + 1,
			Description: l.Description,
			Quantity:    l.Quantity,
			Unit:        l.Unit,
			UnitPrice:   unitPrice,
			TotalPrice:  l.Quantity.Mul(unitPrice).Round(2),
		})
	}

	net := lo.Reduce(items, func(acc decimal.Decimal, it InvoiceItem, _ int) decimal.Decimal {
		return acc.Add(it.TotalPrice)
	}, decimal.Zero)
	vat := VATFor(net, vatRate)

	return Totals{
		Items:   items,
		Net:     net,
		VATRate: vatRate,
		VAT:     vat,
		Gross:   net.Add(vat),
	}, nil
}

// VATFor returns net × rate / 100 rounded to cents.
func VATFor(net, rate decimal.Decimal) decimal.Decimal {
	return net.Mul(rate).Div(hundred).Round(2)
}

// NetFromGross derives the net amount from a VAT-inclusive price, rounded to cents.
func NetFromGross(gross, rate decimal.Decimal) decimal.Decimal {
	return gross.Div(hundred.Add(rate).Div(hundred)).Round(2)
}
