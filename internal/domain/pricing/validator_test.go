package pricing

import (
	"context"
	"testing"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/storefront-fulfillment/internal/domain/catalog"
	"github.com/xenking/storefront-fulfillment/internal/domain/fault"
	"github.com/xenking/storefront-fulfillment/internal/domain/stock"
)

// --- Mock implementations ---

type mockCatalog struct {
	variants map[int64]catalog.Variant
	bundles  map[int64]catalog.Bundle
}

func (m *mockCatalog) GetVariant(_ context.Context, id int64) (*catalog.Variant, error) {
	v, ok := m.variants[id]
	if !ok {
		return nil, &catalog.NotFoundError{Entity: "variant", ID: id}
	}
	return &v, nil
}

func (m *mockCatalog) GetSize(_ context.Context, id int64) (*catalog.Size, error) {
	return &catalog.Size{ID: id, Name: "M"}, nil
}

func (m *mockCatalog) GetBundle(_ context.Context, id int64) (*catalog.Bundle, error) {
	b, ok := m.bundles[id]
	if !ok {
		return nil, &catalog.NotFoundError{Entity: "bundle", ID: id}
	}
	return &b, nil
}

// --- Helpers ---

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newCatalog() *mockCatalog {
	return &mockCatalog{
		variants: map[int64]catalog.Variant{
			1: {ID: 1, ProductID: 10, ProductName: "Tee", ColorName: "Red", Price: dec("10000")},
			2: {ID: 2, ProductID: 10, ProductName: "Tee", ColorName: "Blue", Price: dec("10000")},
			3: {ID: 3, ProductID: 11, ProductName: "Polo", ColorName: "Black", Price: dec("15000")},
			4: {ID: 4, ProductID: 99, ProductName: "Cap", ColorName: "White", Price: dec("5000")},
		},
		bundles: map[int64]catalog.Bundle{
			7: {ID: 7, Name: "Trio", Kind: "3-in-1", Price: dec("27000"), ProductIDs: []int64{10, 11}},
			8: {ID: 8, Name: "Odd", Kind: "2-in-1", Price: dec("1000"), ProductIDs: []int64{10}},
		},
	}
}

func newPolicy() Policy {
	return Policy{
		HomeCountry:     "Nigeria",
		HomeCurrency:    "NGN",
		ForeignCurrency: "USD",
		TaxRate:         dec("0.05"),
		Rates:           StaticRates{"USD": dec("0.001")},
	}
}

func homeRequest() Request {
	return Request{
		Currency:       "NGN",
		DeliveryOption: DeliveryOptionDelivery,
		Items: []Item{
			{VariantID: 1, SizeID: 1, Quantity: 2, Price: dec("10000")},
		},
		ShippingCost: dec("1500"),
		Total:        dec("21500"),
		BaseTotal:    dec("21500"),
	}
}

// --- Tests ---

func TestValidator_Validate(t *testing.T) {
	t.Run("home order", func(t *testing.T) {
		v := NewValidator(newCatalog(), newPolicy())

		res, err := v.Validate(context.Background(), homeRequest(), "nigeria")
		require.NoError(t, err)

		assert.False(t, res.International)
		assert.True(t, res.Subtotal.Equal(dec("20000")))
		assert.True(t, res.Tax.IsZero())
		assert.True(t, res.Shipping.Equal(dec("1500")))
		assert.True(t, res.Total.Equal(dec("21500")))
		require.Len(t, res.Lines, 1)
		assert.Equal(t, "Red", res.Lines[0].Variant.ColorName)
	})

	t.Run("international order adds tax and drops shipping", func(t *testing.T) {
		v := NewValidator(newCatalog(), newPolicy())
		req := Request{
			Currency:       "USD",
			DeliveryOption: DeliveryOptionDelivery,
			Items:          []Item{{VariantID: 3, Quantity: 1, Price: dec("15.00")}},
			ShippingCost:   dec("40"),
			Total:          dec("15.75"),
			BaseTotal:      dec("15750"),
		}

		res, err := v.Validate(context.Background(), req, "Ghana")
		require.NoError(t, err)

		assert.True(t, res.International)
		assert.True(t, res.Tax.Equal(dec("0.75")))
		assert.True(t, res.Shipping.IsZero())
		assert.True(t, res.Total.Equal(dec("15.75")))
	})

	t.Run("bundle priced at bundle price", func(t *testing.T) {
		v := NewValidator(newCatalog(), newPolicy())
		req := homeRequest()
		req.Items = []Item{{
			BundleID: 7,
			Picks:    []stock.Key{{VariantID: 1, SizeID: 1}, {VariantID: 2, SizeID: 1}, {VariantID: 3, SizeID: 2}},
			Quantity: 1,
			Price:    dec("27000"),
		}}
		req.Total = dec("28500")
		req.BaseTotal = dec("28500")

		res, err := v.Validate(context.Background(), req, "Nigeria")
		require.NoError(t, err)
		require.Len(t, res.Lines[0].PickVariants, 3)
		assert.True(t, res.Subtotal.Equal(dec("27000")))
	})

	t.Run("cent tolerance accepted", func(t *testing.T) {
		v := NewValidator(newCatalog(), newPolicy())
		req := homeRequest()
		req.Total = dec("21500.01")
		req.BaseTotal = dec("21500.9")

		_, err := v.Validate(context.Background(), req, "Nigeria")
		require.NoError(t, err)
	})
}

func TestValidator_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Request)
		kind   error
	}{
		{"empty items", func(r *Request) { r.Items = nil }, fault.ErrValidation},
		{"unsupported currency", func(r *Request) { r.Currency = "EUR" }, fault.ErrValidation},
		{"unsupported delivery option", func(r *Request) { r.DeliveryOption = "drone" }, fault.ErrValidation},
		{"negative discount", func(r *Request) { r.Discount = dec("-1") }, fault.ErrValidation},
		{"neither product nor bundle", func(r *Request) { r.Items[0].VariantID = 0 }, fault.ErrValidation},
		{"both product and bundle", func(r *Request) { r.Items[0].BundleID = 7 }, fault.ErrValidation},
		{"zero quantity", func(r *Request) { r.Items[0].Quantity = 0 }, fault.ErrValidation},
		{"zero price", func(r *Request) { r.Items[0].Price = decimal.Zero }, fault.ErrValidation},
		{"price off by more than a cent", func(r *Request) { r.Items[0].Price = dec("10000.02") }, fault.ErrValidation},
		{"total off by more than a cent", func(r *Request) { r.Total = dec("21500.02") }, fault.ErrValidation},
		{"base total off by more than a unit", func(r *Request) { r.BaseTotal = dec("21501.01") }, fault.ErrValidation},
		{"unknown variant", func(r *Request) { r.Items[0].VariantID = 404 }, fault.ErrNotFound},
		{"unknown bundle", func(r *Request) {
			r.Items[0] = Item{BundleID: 404, Quantity: 1, Price: dec("1")}
		}, fault.ErrNotFound},
		{"bundle pick outside family", func(r *Request) {
			r.Items[0] = Item{
				BundleID: 7,
				Picks:    []stock.Key{{VariantID: 1, SizeID: 1}, {VariantID: 2, SizeID: 1}, {VariantID: 4, SizeID: 1}},
				Quantity: 1,
				Price:    dec("27000"),
			}
		}, fault.ErrValidation},
		{"bundle missing slot", func(r *Request) {
			r.Items[0] = Item{
				BundleID: 7,
				Picks:    []stock.Key{{VariantID: 1, SizeID: 1}, {VariantID: 2, SizeID: 1}},
				Quantity: 1,
				Price:    dec("27000"),
			}
		}, fault.ErrValidation},
		{"bundle with unsupported kind", func(r *Request) {
			r.Items[0] = Item{BundleID: 8, Picks: []stock.Key{{VariantID: 1, SizeID: 1}}, Quantity: 1, Price: dec("1000")}
		}, fault.ErrValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := NewValidator(newCatalog(), newPolicy())
			req := homeRequest()
			req.Items = append([]Item(nil), req.Items...)
			tt.mutate(&req)

			_, err := v.Validate(context.Background(), req, "Nigeria")
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.kind), "got %v", err)
		})
	}
}

func TestPolicy(t *testing.T) {
	p := newPolicy()

	assert.False(t, p.International(" NIGERIA "))
	assert.True(t, p.International("Kenya"))
	assert.True(t, p.Tax(dec("100.10"), "Kenya").Equal(dec("5.01")))
	assert.True(t, p.Tax(dec("100.10"), "Nigeria").IsZero())

	rate, err := p.Rate(context.Background(), "NGN")
	require.NoError(t, err)
	assert.True(t, rate.Equal(decimal.NewFromInt(1)))

	_, err = p.Rate(context.Background(), "GBP")
	assert.True(t, errors.Is(err, fault.ErrValidation))
}
