package notify

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"time"

	"client-portal/internal/core"

	"github.com/shopspring/decimal"
)

//go:embed templates/*.html
var templateFS embed.FS

var templates = template.Must(template.New("").Funcs(template.FuncMap{
	"money": func(d decimal.Decimal, cur string) string { return d.StringFixed(2) + " " + cur },
	"qty":   func(d decimal.Decimal) string { return d.String() },
	"date":  func(t time.Time) string { return t.Format("02.01.2006") },
	"pct":   func(d decimal.Decimal) string { return d.String() + "%" },
}).ParseFS(templateFS, "templates/*.html"))

type documentData struct {
	Invoice *core.Invoice
	Order   *core.Order
}

// RenderInvoice produces the customer-facing HTML invoice document.
func RenderInvoice(inv *core.Invoice) (string, error) {
	return render("invoice.html", documentData{Invoice: inv})
}

// RenderOrderConfirmation produces the order confirmation mail body.
func RenderOrderConfirmation(order *core.Order, inv *core.Invoice) (string, error) {
	return render("confirmation.html", documentData{Invoice: inv, Order: order})
}

func render(name string, data documentData) (string, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("failed to render %s: %w", name, err)
	}
	return buf.String(), nil
}
