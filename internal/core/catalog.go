package core

import (
	_ "embed"
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

//go:embed catalog_default.yaml
var defaultCatalog []byte

// Product is a sellable item as invoiced: prices in the catalog are VAT-inclusive.
type Product struct {
	ID         string
	Name       string
	Unit       string
	Type       InvoiceType
	GrossPrice decimal.Decimal
	VATRate    *decimal.Decimal // nil means the default for Type
}

// Catalog maps checkout product ids to invoice presentation and tax data.
type Catalog struct {
	products        map[string]Product
	vatByType       map[InvoiceType]decimal.Decimal
	fallbackVATRate decimal.Decimal
}

// CatalogDocument is the on-disk shape of a catalog file.
type CatalogDocument struct {
	VATRates map[string]string `yaml:"vat_rates" json:"vat_rates,omitempty" jsonschema:"description=Default VAT rate in percent per invoice type"`
	Products []CatalogEntry    `yaml:"products" json:"products"`
}

// CatalogEntry is one product of a CatalogDocument. Decimals are strings so that
// YAML never rounds them through float64.
type CatalogEntry struct {
	ID         string `yaml:"id" json:"id" jsonschema:"required,description=Checkout product id"`
	Name       string `yaml:"name" json:"name" jsonschema:"required,description=Line item description"`
	Unit       string `yaml:"unit" json:"unit,omitempty"`
	Type       string `yaml:"type" json:"type,omitempty" jsonschema:"enum=analysis,enum=shop,enum=installment,enum=final,enum=credit_note"`
	GrossPrice string `yaml:"gross_price" json:"gross_price,omitempty" jsonschema:"pattern=^[0-9]+(\\.[0-9]+)?$"`
	VATRate    string `yaml:"vat_rate" json:"vat_rate,omitempty"`
}

// LoadCatalog reads a YAML catalog from path, or the embedded default when path is empty.
func LoadCatalog(path string, fallbackVATRate decimal.Decimal) (*Catalog, error) {
	data := defaultCatalog
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read catalog %s: %w", path, err)
		}
		data = b
	}
	return ParseCatalog(data, fallbackVATRate)
}

// ParseCatalog decodes a YAML catalog document.
func ParseCatalog(data []byte, fallbackVATRate decimal.Decimal) (*Catalog, error) {
	var f CatalogDocument
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}

	c := &Catalog{
		products:        make(map[string]Product, len(f.Products)),
		vatByType:       make(map[InvoiceType]decimal.Decimal, len(f.VATRates)),
		fallbackVATRate: fallbackVATRate,
	}

	for typ, raw := range f.VATRates {
		t := InvoiceType(typ)
		if !t.Valid() {
			return nil, fmt.Errorf("catalog vat_rates: unknown invoice type %q", typ)
		}
		rate, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("catalog vat_rates[%s]: %w", typ, err)
		}
		c.vatByType[t] = rate
	}

	for i, p := range f.Products {
		if p.ID == "" || p.Name == "" {
			return nil, fmt.Errorf("catalog product %d: id and name are required", i+1)
		}
		t := InvoiceType(p.Type)
		if p.Type == "" {
			t = InvoiceTypeShop
		}
		if !t.Valid() {
			return nil, fmt.Errorf("catalog product %s: unknown invoice type %q", p.ID, p.Type)
		}
		product := Product{ID: p.ID, Name: p.Name, Unit: p.Unit, Type: t}
		if p.GrossPrice != "" {
			price, err := decimal.NewFromString(p.GrossPrice)
			if err != nil {
				return nil, fmt.Errorf("catalog product %s gross_price: %w", p.ID, err)
			}
			product.GrossPrice = price
		}
		if p.VATRate != "" {
			rate, err := decimal.NewFromString(p.VATRate)
			if err != nil {
				return nil, fmt.Errorf("catalog product %s vat_rate: %w", p.ID, err)
			}
			product.VATRate = &rate
		}
		c.products[p.ID] = product
	}

	return c, nil
}

// Lookup returns the product for id. Unknown ids yield a generic shop product named
// after the id so an unexpected checkout still produces an invoice.
func (c *Catalog) Lookup(id string) (Product, bool) {
	if p, ok := c.products[id]; ok {
		return p, true
	}
	return Product{ID: id, Name: id, Type: InvoiceTypeShop}, false
}

// VATRateFor returns the product's own rate, else its type default, else the fallback.
func (c *Catalog) VATRateFor(p Product) decimal.Decimal {
	if p.VATRate != nil {
		return *p.VATRate
	}
	if rate, ok := c.vatByType[p.Type]; ok {
		return rate
	}
	return c.fallbackVATRate
}
