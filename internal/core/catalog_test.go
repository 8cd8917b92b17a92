package core_test

import (
	"os"
	"path/filepath"
	"testing"

	"client-portal/internal/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadCatalog_EmbeddedDefault(t *testing.T) {
	cat, err := core.LoadCatalog("", d("8.1"))
	require.NoError(t, err)

	p, ok := cat.Lookup("analyse")
	require.True(t, ok)
	assert.Equal(t, "Analyse", p.Name)
	assert.Equal(t, core.InvoiceTypeAnalysis, p.Type)
	assert.Equal(t, "2990.00", p.GrossPrice.StringFixed(2))
	assert.Equal(t, "7.7", cat.VATRateFor(p).String())

	book, ok := cat.Lookup("workbook")
	require.True(t, ok)
	assert.Equal(t, "2.5", cat.VATRateFor(book).String(), "product rate overrides type default")
}

func TestCatalog_UnknownProductFallsBack(t *testing.T) {
	cat, err := core.ParseCatalog([]byte("products: []\n"), d("8.1"))
	require.NoError(t, err)

	p, ok := cat.Lookup("mystery-box")
	assert.False(t, ok)
	assert.Equal(t, "mystery-box", p.Name)
	assert.Equal(t, core.InvoiceTypeShop, p.Type)
	assert.Equal(t, "8.1", cat.VATRateFor(p).String())
}

func TestLoadCatalog_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
vat_rates:
  shop: "8.1"
products:
  - id: mug
    name: Mug
    unit: Stk.
    gross_price: "19.90"
`), 0o600))

	cat, err := core.LoadCatalog(path, d("7.7"))
	require.NoError(t, err)

	p, ok := cat.Lookup("mug")
	require.True(t, ok)
	assert.Equal(t, core.InvoiceTypeShop, p.Type)
	assert.Equal(t, "8.1", cat.VATRateFor(p).String())
}

func TestParseCatalog_Errors(t *testing.T) {
	tests := map[string]string{
		"bad yaml":      "products: [",
		"unknown type":  "products:\n  - {id: a, name: A, type: gift}\n",
		"bad price":     "products:\n  - {id: a, name: A, gross_price: cheap}\n",
		"missing name":  "products:\n  - {id: a}\n",
		"bad vat type":  "vat_rates:\n  gift: \"1\"\n",
		"bad vat value": "vat_rates:\n  shop: lots\n",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := core.ParseCatalog([]byte(doc), d("7.7"))
			assert.Error(t, err)
		})
	}
}
