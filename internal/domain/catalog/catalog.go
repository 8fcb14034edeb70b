package catalog

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/xenking/storefront-fulfillment/internal/domain/fault"
)

// Variant is a purchasable colour variant of a product.
type Variant struct {
	ID          int64
	ProductID   int64
	ProductName string
	ColorName   string
	Price       decimal.Decimal
	Image       string
}

// Size is a size dimension a variant is stocked in.
type Size struct {
	ID   int64
	Name string
}

// Bundle is a fixed-slot grouping of variants from a product family sold at
// a combined price.
type Bundle struct {
	ID         int64
	Name       string
	Kind       string // "3-in-1", "5-in-1"
	Price      decimal.Decimal
	ProductIDs []int64
}

// Slots returns the number of concrete picks the bundle requires, or 0 when
// the bundle kind is not recognised.
func (b Bundle) Slots() int {
	n, rest, ok := strings.Cut(b.Kind, "-in-")
	if !ok || rest != "1" {
		return 0
	}
	slots, err := strconv.Atoi(n)
	if err != nil || (slots != 3 && slots != 5) {
		return 0
	}
	return slots
}

// Contains reports whether the product belongs to the bundle's family.
func (b Bundle) Contains(productID int64) bool {
	for _, id := range b.ProductIDs {
		if id == productID {
			return true
		}
	}
	return false
}

// NotFoundError indicates a catalog entry does not exist.
type NotFoundError struct {
	Entity string
	ID     int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Entity, e.ID)
}

func (e *NotFoundError) Reason() string { return e.Error() }

func (e *NotFoundError) Is(target error) bool { return target == fault.ErrNotFound }

// Catalog is the read-only view of products, variants, sizes and bundles.
type Catalog interface {
	GetVariant(ctx context.Context, id int64) (*Variant, error)
	GetSize(ctx context.Context, id int64) (*Size, error)
	GetBundle(ctx context.Context, id int64) (*Bundle, error)
}
