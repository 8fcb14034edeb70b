// Package pricing validates client-submitted order pricing against the
// catalog and computes the authoritative totals.
package pricing

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/xenking/storefront-fulfillment/internal/domain/fault"
)

// Delivery options.
const (
	DeliveryOptionDelivery = "delivery"
	DeliveryOptionPickup   = "pickup"
)

// Rates resolves the exchange rate from the home currency to currency,
// expressed as units of currency per one home unit.
type Rates interface {
	Rate(ctx context.Context, currency string) (decimal.Decimal, error)
}

// Policy holds the storefront pricing rules.
type Policy struct {
	HomeCountry     string
	HomeCurrency    string
	ForeignCurrency string
	// TaxRate applies to international orders only.
	TaxRate decimal.Decimal
	Rates   Rates
}

// International reports whether a destination country is outside the home country.
func (p Policy) International(country string) bool {
	return !strings.EqualFold(strings.TrimSpace(country), p.HomeCountry)
}

// Tax returns the tax due on subtotal for a destination country.
func (p Policy) Tax(subtotal decimal.Decimal, country string) decimal.Decimal {
	if !p.International(country) {
		return decimal.Zero
	}
	return subtotal.Mul(p.TaxRate).Round(2)
}

// SupportsCurrency reports whether currency is accepted at checkout.
func (p Policy) SupportsCurrency(currency string) bool {
	return currency == p.HomeCurrency || currency == p.ForeignCurrency
}

// Rate returns the conversion rate for currency, which is 1 for the home currency.
func (p Policy) Rate(ctx context.Context, currency string) (decimal.Decimal, error) {
	if currency == p.HomeCurrency {
		return decimal.NewFromInt(1), nil
	}
	if !p.SupportsCurrency(currency) {
		return decimal.Zero, fault.Validation("unsupported currency %q", currency)
	}
	return p.Rates.Rate(ctx, currency)
}

// StaticRates serves configured exchange rates.
type StaticRates map[string]decimal.Decimal

// Rate implements Rates.
func (r StaticRates) Rate(_ context.Context, currency string) (decimal.Decimal, error) {
	rate, ok := r[currency]
	if !ok || !rate.IsPositive() {
		return decimal.Zero, fault.Validation("no exchange rate for %q", currency)
	}
	return rate, nil
}
