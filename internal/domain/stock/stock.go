// Package stock defines the stock ledger: the authoritative available
// quantity per (variant, size).
package stock

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	"github.com/xenking/storefront-fulfillment/internal/domain/fault"
)

// Key identifies a stock unit.
type Key struct {
	VariantID int64 `json:"variant_id"`
	SizeID    int64 `json:"size_id"`
}

func (k Key) String() string {
	return fmt.Sprintf("variant %d size %d", k.VariantID, k.SizeID)
}

// Unit is the available quantity of a single (variant, size).
type Unit struct {
	Key
	Available int
}

// Movement is a quantity to debit from or credit to a unit.
type Movement struct {
	Key
	Quantity int
}

// InsufficientError indicates a unit cannot cover the requested quantity.
type InsufficientError struct {
	Key       Key
	Requested int
	Available int
}

func (e *InsufficientError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: requested %d, available %d", e.Key, e.Requested, e.Available)
}

func (e *InsufficientError) Reason() string { return e.Error() }

func (e *InsufficientError) Is(target error) bool { return target == fault.ErrConflict }

// ErrUnitNotFound is returned when no stock row exists for a key.
var ErrUnitNotFound = &fault.Error{Kind: fault.ErrNotFound, Reason: "stock unit not found"}

// Ledger reads and mutates stock units. Debit and Credit must be called
// within a transaction opened by the caller.
type Ledger interface {
	Get(ctx context.Context, key Key) (*Unit, error)
	ListByVariant(ctx context.Context, variantID int64) ([]Unit, error)
	// Debit atomically decrements the unit when it holds at least qty,
	// otherwise it returns *InsufficientError and leaves the unit untouched.
	Debit(ctx context.Context, key Key, qty int) error
	Credit(ctx context.Context, key Key, qty int) error
}

// Aggregate merges movements by key and orders them by (variant, size) so
// that concurrent transactions lock rows in the same order.
func Aggregate(movements []Movement) []Movement {
	byKey := make(map[Key]int, len(movements))
	for _, m := range movements {
		byKey[m.Key] += m.Quantity
	}
	out := make([]Movement, 0, len(byKey))
	for k, q := range byKey {
		if q == 0 {
			continue
		}
		out = append(out, Movement{Key: k, Quantity: q})
	}
	slices.SortFunc(out, func(a, b Movement) int {
		if c := cmp.Compare(a.VariantID, b.VariantID); c != 0 {
			return c
		}
		return cmp.Compare(a.SizeID, b.SizeID)
	})
	return out
}
