// Package cart maintains per-user shopping carts: single and bundle lines,
// stock-checked mutations and a cached total.
package cart

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/storefront-fulfillment/internal/domain/fault"
	"github.com/xenking/storefront-fulfillment/internal/domain/stock"
)

// ErrItemNotFound is returned when a cart item does not exist in the user's cart.
var ErrItemNotFound = &fault.Error{Kind: fault.ErrNotFound, Reason: "cart item not found"}

// ErrCartNotFound is returned when a cart does not exist.
var ErrCartNotFound = &fault.Error{Kind: fault.ErrNotFound, Reason: "cart not found"}

// Cart is a user's shopping cart.
type Cart struct {
	ID     int64
	UserID int64
	// Total is the cached items subtotal in the home currency.
	Total     decimal.Decimal
	Items     []Item
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Item is a cart line: a single (variant, size) or a bundle with its picks.
type Item struct {
	ID       int64
	CartID   int64
	BundleID int64
	// VariantID and SizeID identify a single line; zero for bundles.
	VariantID   int64
	SizeID      int64
	ProductName string
	ColorName   string
	SizeName    string
	Quantity    int
	// Price is the unit price captured in the home currency.
	Price decimal.Decimal
	// Picks is the bundle composition ordered by (variant, size).
	Picks []stock.Key
}

// IsBundle reports whether the item is a bundle line.
func (i Item) IsBundle() bool { return i.BundleID != 0 }

// Key returns the stock key of a single line.
func (i Item) Key() stock.Key {
	return stock.Key{VariantID: i.VariantID, SizeID: i.SizeID}
}

// Movements returns the stock required by the line at quantity qty.
func (i Item) Movements(qty int) []stock.Movement {
	if !i.IsBundle() {
		return []stock.Movement{{Key: i.Key(), Quantity: qty}}
	}
	out := make([]stock.Movement, 0, len(i.Picks))
	for _, p := range i.Picks {
		out = append(out, stock.Movement{Key: p, Quantity: qty})
	}
	return stock.Aggregate(out)
}

// identity distinguishes lines that must be merged into one.
func (i Item) identity() string {
	if !i.IsBundle() {
		return fmt.Sprintf("single:%d:%d", i.VariantID, i.SizeID)
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "bundle:%d", i.BundleID)
	for _, p := range SortPicks(i.Picks) {
		fmt.Fprintf(&sb, ":%d/%d", p.VariantID, p.SizeID)
	}
	return sb.String()
}

// Subtotal returns the sum of unit price times quantity over all items.
func (c *Cart) Subtotal() decimal.Decimal {
	total := decimal.Zero
	for _, item := range c.Items {
		total = total.Add(item.Price.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	return total.Round(2)
}

// Item returns the item with the given id.
func (c *Cart) Item(id int64) (Item, bool) {
	for _, item := range c.Items {
		if item.ID == id {
			return item, true
		}
	}
	return Item{}, false
}

// SortPicks returns a copy of picks ordered by (variant, size).
func SortPicks(picks []stock.Key) []stock.Key {
	out := slices.Clone(picks)
	slices.SortFunc(out, func(a, b stock.Key) int {
		if c := cmp.Compare(a.VariantID, b.VariantID); c != 0 {
			return c
		}
		return cmp.Compare(a.SizeID, b.SizeID)
	})
	return out
}

// Repository persists carts. Mutating methods must run inside a transaction
// that has locked the cart with Lock.
type Repository interface {
	// Latest returns the user's most recent cart, or ErrCartNotFound.
	Latest(ctx context.Context, userID int64) (*Cart, error)
	Get(ctx context.Context, cartID int64) (*Cart, error)
	Create(ctx context.Context, userID int64) (*Cart, error)
	Lock(ctx context.Context, cartID int64) error
	AddItem(ctx context.Context, item *Item) error
	SetItemQuantity(ctx context.Context, itemID int64, qty int) error
	DeleteItems(ctx context.Context, itemIDs ...int64) error
	ClearItems(ctx context.Context, cartID int64) error
	SetTotal(ctx context.Context, cartID int64, total decimal.Decimal, at time.Time) error
}
