package cart

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/storefront-fulfillment/internal/domain/catalog"
	"github.com/xenking/storefront-fulfillment/internal/domain/fault"
	"github.com/xenking/storefront-fulfillment/internal/domain/pricing"
	"github.com/xenking/storefront-fulfillment/internal/domain/stock"
)

// TxRunner runs fn in a single database transaction carried by ctx.
type TxRunner interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// AddRequest describes a line to add to the cart. Exactly one of VariantID
// and BundleID is set.
type AddRequest struct {
	VariantID int64
	SizeID    int64
	BundleID  int64
	Picks     []stock.Key
	Quantity  int
}

// Line is a cart item priced in the view currency.
type Line struct {
	Item
	UnitPrice decimal.Decimal
	LineTotal decimal.Decimal
}

// View is a cart priced for a destination country and currency.
type View struct {
	CartID   int64
	Currency string
	Rate     decimal.Decimal
	Lines    []Line
	Subtotal decimal.Decimal
	Tax      decimal.Decimal
	Total    decimal.Decimal
}

// Service implements the cart operations.
type Service struct {
	tx      TxRunner
	carts   Repository
	catalog catalog.Catalog
	ledger  stock.Ledger
	policy  pricing.Policy
	now     func() time.Time
}

// NewService creates a cart Service.
func NewService(
	tx TxRunner,
	carts Repository,
	c catalog.Catalog,
	ledger stock.Ledger,
	policy pricing.Policy,
) *Service {
	return &Service{
		tx:      tx,
		carts:   carts,
		catalog: c,
		ledger:  ledger,
		policy:  policy,
		now:     time.Now,
	}
}

// Get returns the user's latest cart priced for country in currency. Empty
// values fall back to the home country and currency. A user without a cart
// gets an empty view.
func (s *Service) Get(ctx context.Context, userID int64, country, currency string) (*View, error) {
	if country == "" {
		country = s.policy.HomeCountry
	}
	if currency == "" {
		currency = s.policy.HomeCurrency
	}
	rate, err := s.policy.Rate(ctx, currency)
	if err != nil {
		return nil, err
	}

	view := &View{Currency: currency, Rate: rate, Subtotal: decimal.Zero, Tax: decimal.Zero, Total: decimal.Zero}
	c, err := s.carts.Latest(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrCartNotFound) {
			return view, nil
		}
		return nil, errors.Wrap(err, "get cart")
	}

	view.CartID = c.ID
	subtotal := decimal.Zero
	for _, item := range c.Items {
		unit := item.Price.Mul(rate).Round(2)
		lineTotal := unit.Mul(decimal.NewFromInt(int64(item.Quantity)))
		view.Lines = append(view.Lines, Line{Item: item, UnitPrice: unit, LineTotal: lineTotal})
		subtotal = subtotal.Add(lineTotal)
	}
	view.Subtotal = subtotal.Round(2)
	view.Tax = s.policy.Tax(view.Subtotal, country)
	view.Total = view.Subtotal.Add(view.Tax)
	return view, nil
}

// AddItem adds a line to the user's latest cart, creating the cart when
// needed. A line identical to an existing one (same variant and size, or
// same bundle and composition) increments that line instead.
func (s *Service) AddItem(ctx context.Context, userID int64, req AddRequest) (*Cart, error) {
	if req.Quantity <= 0 {
		return nil, fault.Validation("quantity must be greater than 0")
	}
	candidate, err := s.resolve(ctx, req)
	if err != nil {
		return nil, err
	}
	// Checked against the increment only. Checkout rejects a merged line
	// that outgrew stock.
	if err := s.checkStock(ctx, candidate, req.Quantity); err != nil {
		return nil, err
	}

	var out *Cart
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		c, err := s.lockLatest(ctx, userID, true)
		if err != nil {
			return err
		}

		var (
			matching []Item
			qty      = req.Quantity
		)
		for _, item := range c.Items {
			if item.identity() == candidate.identity() {
				matching = append(matching, item)
				qty += item.Quantity
			}
		}

		switch len(matching) {
		case 0:
			candidate.CartID = c.ID
			candidate.Quantity = qty
			if err := s.carts.AddItem(ctx, candidate); err != nil {
				return errors.Wrap(err, "add item")
			}
		default:
			if len(matching) > 1 {
				zctx.From(ctx).Warn("Consolidating duplicate cart lines",
					zap.Int64("cart_id", c.ID),
					zap.Int("lines", len(matching)),
				)
				ids := make([]int64, 0, len(matching)-1)
				for _, item := range matching[1:] {
					ids = append(ids, item.ID)
				}
				if err := s.carts.DeleteItems(ctx, ids...); err != nil {
					return errors.Wrap(err, "delete duplicate items")
				}
			}
			if err := s.carts.SetItemQuantity(ctx, matching[0].ID, qty); err != nil {
				return errors.Wrap(err, "update quantity")
			}
		}

		out, err = s.refreshTotal(ctx, c.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateQuantity sets the quantity of an item in the user's latest cart.
func (s *Service) UpdateQuantity(ctx context.Context, userID, itemID int64, qty int) (*Cart, error) {
	if qty <= 0 {
		return nil, fault.Validation("quantity must be greater than 0")
	}

	var out *Cart
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		c, err := s.lockLatest(ctx, userID, false)
		if err != nil {
			return err
		}
		item, ok := c.Item(itemID)
		if !ok {
			return ErrItemNotFound
		}
		if err := s.checkStock(ctx, &item, qty); err != nil {
			return err
		}
		if err := s.carts.SetItemQuantity(ctx, itemID, qty); err != nil {
			return errors.Wrap(err, "update quantity")
		}
		out, err = s.refreshTotal(ctx, c.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// RemoveItem deletes an item from the user's latest cart.
func (s *Service) RemoveItem(ctx context.Context, userID, itemID int64) (*Cart, error) {
	var out *Cart
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		c, err := s.lockLatest(ctx, userID, false)
		if err != nil {
			return err
		}
		if _, ok := c.Item(itemID); !ok {
			return ErrItemNotFound
		}
		if err := s.carts.DeleteItems(ctx, itemID); err != nil {
			return errors.Wrap(err, "delete item")
		}
		out, err = s.refreshTotal(ctx, c.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Clear removes every item from the user's latest cart.
func (s *Service) Clear(ctx context.Context, userID int64) error {
	return s.tx.InTx(ctx, func(ctx context.Context) error {
		c, err := s.lockLatest(ctx, userID, false)
		if err != nil {
			if errors.Is(err, ErrCartNotFound) {
				return nil
			}
			return err
		}
		if err := s.carts.ClearItems(ctx, c.ID); err != nil {
			return errors.Wrap(err, "clear items")
		}
		_, err = s.refreshTotal(ctx, c.ID)
		return err
	})
}

// lockLatest locks and reloads the user's latest cart, optionally creating it.
func (s *Service) lockLatest(ctx context.Context, userID int64, create bool) (*Cart, error) {
	c, err := s.carts.Latest(ctx, userID)
	switch {
	case errors.Is(err, ErrCartNotFound) && create:
		if c, err = s.carts.Create(ctx, userID); err != nil {
			return nil, errors.Wrap(err, "create cart")
		}
	case errors.Is(err, ErrCartNotFound):
		return nil, err
	case err != nil:
		return nil, errors.Wrap(err, "get cart")
	}
	if err := s.carts.Lock(ctx, c.ID); err != nil {
		return nil, errors.Wrap(err, "lock cart")
	}
	c, err = s.carts.Get(ctx, c.ID)
	if err != nil {
		return nil, errors.Wrap(err, "reload cart")
	}
	return c, nil
}

// refreshTotal recomputes the cached total from the persisted items.
func (s *Service) refreshTotal(ctx context.Context, cartID int64) (*Cart, error) {
	c, err := s.carts.Get(ctx, cartID)
	if err != nil {
		return nil, errors.Wrap(err, "reload cart")
	}
	c.Total = c.Subtotal()
	c.UpdatedAt = s.now()
	if err := s.carts.SetTotal(ctx, cartID, c.Total, c.UpdatedAt); err != nil {
		return nil, errors.Wrap(err, "set total")
	}
	return c, nil
}

// resolve validates req against the catalog and builds the item to store.
func (s *Service) resolve(ctx context.Context, req AddRequest) (*Item, error) {
	switch {
	case req.VariantID == 0 && req.BundleID == 0:
		return nil, fault.Validation("product or bundle required")
	case req.VariantID != 0 && req.BundleID != 0:
		return nil, fault.Validation("product and bundle are mutually exclusive")
	}

	if req.BundleID != 0 {
		b, err := s.catalog.GetBundle(ctx, req.BundleID)
		if err != nil {
			return nil, err
		}
		if _, err := pricing.ResolvePicks(ctx, s.catalog, b, req.Picks); err != nil {
			return nil, err
		}
		for _, p := range req.Picks {
			if _, err := s.catalog.GetSize(ctx, p.SizeID); err != nil {
				return nil, err
			}
		}
		return &Item{
			BundleID:    b.ID,
			ProductName: b.Name,
			Price:       b.Price,
			Picks:       SortPicks(req.Picks),
		}, nil
	}

	if req.SizeID == 0 {
		return nil, fault.Validation("size required")
	}
	variant, err := s.catalog.GetVariant(ctx, req.VariantID)
	if err != nil {
		return nil, err
	}
	size, err := s.catalog.GetSize(ctx, req.SizeID)
	if err != nil {
		return nil, err
	}
	return &Item{
		VariantID:   variant.ID,
		SizeID:      size.ID,
		ProductName: variant.ProductName,
		ColorName:   variant.ColorName,
		SizeName:    size.Name,
		Price:       variant.Price,
	}, nil
}

// checkStock verifies the ledger covers item at quantity qty. It does not
// reserve anything.
func (s *Service) checkStock(ctx context.Context, item *Item, qty int) error {
	for _, m := range item.Movements(qty) {
		unit, err := s.ledger.Get(ctx, m.Key)
		if err != nil {
			return err
		}
		if unit.Available < m.Quantity {
			return &stock.InsufficientError{Key: m.Key, Requested: m.Quantity, Available: unit.Available}
		}
	}
	return nil
}
