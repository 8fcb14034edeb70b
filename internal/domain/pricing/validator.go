package pricing

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/xenking/storefront-fulfillment/internal/domain/catalog"
	"github.com/xenking/storefront-fulfillment/internal/domain/fault"
	"github.com/xenking/storefront-fulfillment/internal/domain/stock"
)

var (
	// lineTolerance is the accepted difference between a submitted and a
	// catalog unit price, and between submitted and computed totals.
	lineTolerance = decimal.New(1, -2)
	// baseTolerance is the accepted difference on the base-currency total.
	baseTolerance = decimal.NewFromInt(1)
)

// Item is a submitted order line. Exactly one of VariantID and BundleID is set.
type Item struct {
	VariantID int64
	// SizeID is optional for single items; zero means unspecified.
	SizeID   int64
	BundleID int64
	// Picks are the concrete (variant, size) choices filling a bundle's slots.
	Picks    []stock.Key
	Quantity int
	// Price is the unit price in the order currency.
	Price decimal.Decimal
}

// IsBundle reports whether the item references a bundle.
func (i Item) IsBundle() bool { return i.BundleID != 0 }

// Request is the pricing part of an order request.
type Request struct {
	Currency       string
	DeliveryOption string
	Items          []Item
	Discount       decimal.Decimal
	ShippingCost   decimal.Decimal
	// Total is the client-computed grand total in the order currency.
	Total decimal.Decimal
	// BaseTotal is the client-computed grand total in the home currency.
	BaseTotal decimal.Decimal
}

// Line is a validated item with its catalog data resolved.
type Line struct {
	Item
	Variant *catalog.Variant
	Bundle  *catalog.Bundle
	// PickVariants is parallel to Item.Picks for bundle lines.
	PickVariants []catalog.Variant
	// UnitPrice is the catalog price converted to the order currency.
	UnitPrice decimal.Decimal
}

// Result holds the authoritative amounts of a validated request.
type Result struct {
	Lines         []Line
	Rate          decimal.Decimal
	International bool
	Subtotal      decimal.Decimal
	Discount      decimal.Decimal
	Tax           decimal.Decimal
	Shipping      decimal.Decimal
	Total         decimal.Decimal
}

// Validator checks client pricing against the catalog.
type Validator struct {
	catalog catalog.Catalog
	policy  Policy
}

// NewValidator creates a Validator.
func NewValidator(c catalog.Catalog, policy Policy) *Validator {
	return &Validator{catalog: c, policy: policy}
}

// Policy returns the pricing policy in use.
func (v *Validator) Policy() Policy { return v.policy }

// Validate checks req for an order shipped to country. It rejects the request
// with a validation error on the first inconsistency it finds.
func (v *Validator) Validate(ctx context.Context, req Request, country string) (*Result, error) {
	if err := v.checkShape(req); err != nil {
		return nil, err
	}
	rate, err := v.policy.Rate(ctx, req.Currency)
	if err != nil {
		return nil, err
	}

	res := &Result{
		Rate:          rate,
		International: v.policy.International(country),
		Discount:      req.Discount.Round(2),
		Lines:         make([]Line, 0, len(req.Items)),
	}
	subtotal := decimal.Zero
	for i, item := range req.Items {
		line, err := v.priceItem(ctx, i, item, rate)
		if err != nil {
			return nil, err
		}
		subtotal = subtotal.Add(line.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))))
		res.Lines = append(res.Lines, line)
	}
	res.Subtotal = subtotal.Round(2)
	res.Tax = v.policy.Tax(res.Subtotal, country)
	if !res.International {
		res.Shipping = req.ShippingCost.Round(2)
	} else {
		res.Shipping = decimal.Zero
	}
	res.Total = res.Subtotal.Sub(res.Discount).Add(res.Tax).Add(res.Shipping).Round(2)
	if res.Total.IsNegative() {
		return nil, fault.Validation("discount %s exceeds order value", res.Discount)
	}

	if res.Total.Sub(req.Total).Abs().GreaterThan(lineTolerance) {
		return nil, fault.Validation("total mismatch: expected %s, got %s", res.Total.StringFixed(2), req.Total.StringFixed(2))
	}
	base := res.Total.Div(rate).Round(2)
	if base.Sub(req.BaseTotal).Abs().GreaterThan(baseTolerance) {
		return nil, fault.Validation("base total mismatch: expected %s, got %s", base.StringFixed(2), req.BaseTotal.StringFixed(2))
	}
	return res, nil
}

func (v *Validator) checkShape(req Request) error {
	if len(req.Items) == 0 {
		return fault.Validation("items required")
	}
	if !v.policy.SupportsCurrency(req.Currency) {
		return fault.Validation("unsupported currency %q", req.Currency)
	}
	switch req.DeliveryOption {
	case DeliveryOptionDelivery, DeliveryOptionPickup:
	default:
		return fault.Validation("unsupported delivery option %q", req.DeliveryOption)
	}
	if req.Discount.IsNegative() {
		return fault.Validation("discount must not be negative")
	}
	if req.ShippingCost.IsNegative() {
		return fault.Validation("shipping cost must not be negative")
	}
	for i, item := range req.Items {
		switch {
		case item.VariantID == 0 && item.BundleID == 0:
			return fault.Validation("item %d: product or bundle required", i)
		case item.VariantID != 0 && item.BundleID != 0:
			return fault.Validation("item %d: product and bundle are mutually exclusive", i)
		case item.Quantity <= 0:
			return fault.Validation("item %d: quantity must be greater than 0", i)
		case !item.Price.IsPositive():
			return fault.Validation("item %d: price must be greater than 0", i)
		}
	}
	return nil
}

func (v *Validator) priceItem(ctx context.Context, idx int, item Item, rate decimal.Decimal) (Line, error) {
	line := Line{Item: item}
	var base decimal.Decimal
	if item.IsBundle() {
		b, err := v.catalog.GetBundle(ctx, item.BundleID)
		if err != nil {
			return line, err
		}
		picks, err := ResolvePicks(ctx, v.catalog, b, item.Picks)
		if err != nil {
			return line, err
		}
		line.Bundle = b
		line.PickVariants = picks
		base = b.Price
	} else {
		variant, err := v.catalog.GetVariant(ctx, item.VariantID)
		if err != nil {
			return line, err
		}
		line.Variant = variant
		base = variant.Price
	}

	line.UnitPrice = base.Mul(rate).Round(2)
	if line.UnitPrice.Sub(item.Price).Abs().GreaterThan(lineTolerance) {
		return line, fault.Validation("item %d: price mismatch: expected %s, got %s",
			idx, line.UnitPrice.StringFixed(2), item.Price.StringFixed(2))
	}
	return line, nil
}

// ResolvePicks checks that picks fill every slot of b with variants of the
// bundle's product family and returns the picked variants.
func ResolvePicks(ctx context.Context, c catalog.Catalog, b *catalog.Bundle, picks []stock.Key) ([]catalog.Variant, error) {
	slots := b.Slots()
	if slots == 0 {
		return nil, fault.Validation("bundle %d has unsupported kind %q", b.ID, b.Kind)
	}
	if len(picks) != slots {
		return nil, fault.Validation("bundle %d requires %d picks, got %d", b.ID, slots, len(picks))
	}
	out := make([]catalog.Variant, 0, len(picks))
	for _, p := range picks {
		variant, err := c.GetVariant(ctx, p.VariantID)
		if err != nil {
			return nil, err
		}
		if !b.Contains(variant.ProductID) {
			return nil, fault.Validation("variant %d is not part of bundle %d", p.VariantID, b.ID)
		}
		if p.SizeID == 0 {
			return nil, fault.Validation("bundle %d: pick of variant %d requires a size", b.ID, p.VariantID)
		}
		out = append(out, *variant)
	}
	return out, nil
}
