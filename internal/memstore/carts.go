package memstore

import (
	"context"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/storefront-fulfillment/internal/domain/cart"
)

// Carts implements cart.Repository.
type Carts struct{ s *Store }

func (r Carts) Latest(ctx context.Context, userID int64) (*cart.Cart, error) {
	var out *cart.Cart
	r.s.view(ctx, func() {
		for _, c := range r.s.state.carts {
			if c.UserID != userID {
				continue
			}
			if out == nil || c.ID > out.ID {
				cc := cloneCart(c)
				out = &cc
			}
		}
	})
	if out == nil {
		return nil, cart.ErrCartNotFound
	}
	return out, nil
}

func (r Carts) Get(ctx context.Context, cartID int64) (*cart.Cart, error) {
	var (
		out cart.Cart
		ok  bool
	)
	r.s.view(ctx, func() {
		out, ok = r.s.state.carts[cartID]
		out = cloneCart(out)
	})
	if !ok {
		return nil, cart.ErrCartNotFound
	}
	return &out, nil
}

func (r Carts) Create(ctx context.Context, userID int64) (*cart.Cart, error) {
	var out cart.Cart
	r.s.view(ctx, func() {
		now := r.s.now()
		out = cart.Cart{ID: r.s.id(), UserID: userID, Total: decimal.Zero, CreatedAt: now, UpdatedAt: now}
		r.s.state.carts[out.ID] = out
	})
	return &out, nil
}

func (r Carts) Lock(ctx context.Context, cartID int64) error {
	var ok bool
	r.s.view(ctx, func() { _, ok = r.s.state.carts[cartID] })
	if !ok {
		return cart.ErrCartNotFound
	}
	return nil
}

func (r Carts) AddItem(ctx context.Context, item *cart.Item) error {
	var err error
	r.s.view(ctx, func() {
		c, ok := r.s.state.carts[item.CartID]
		if !ok {
			err = cart.ErrCartNotFound
			return
		}
		item.ID = r.s.id()
		stored := *item
		stored.Picks = slices.Clone(item.Picks)
		c.Items = append(c.Items, stored)
		r.s.state.carts[c.ID] = c
	})
	return err
}

func (r Carts) SetItemQuantity(ctx context.Context, itemID int64, qty int) error {
	var err error = cart.ErrItemNotFound
	r.s.view(ctx, func() {
		for id, c := range r.s.state.carts {
			for i := range c.Items {
				if c.Items[i].ID == itemID {
					c.Items[i].Quantity = qty
					r.s.state.carts[id] = c
					err = nil
					return
				}
			}
		}
	})
	return err
}

func (r Carts) DeleteItems(ctx context.Context, itemIDs ...int64) error {
	r.s.view(ctx, func() {
		for id, c := range r.s.state.carts {
			c.Items = slices.DeleteFunc(c.Items, func(item cart.Item) bool {
				return slices.Contains(itemIDs, item.ID)
			})
			r.s.state.carts[id] = c
		}
	})
	return nil
}

func (r Carts) ClearItems(ctx context.Context, cartID int64) error {
	r.s.view(ctx, func() {
		c, ok := r.s.state.carts[cartID]
		if !ok {
			return
		}
		c.Items = nil
		r.s.state.carts[cartID] = c
	})
	return nil
}

func (r Carts) SetTotal(ctx context.Context, cartID int64, total decimal.Decimal, at time.Time) error {
	var err error
	r.s.view(ctx, func() {
		c, ok := r.s.state.carts[cartID]
		if !ok {
			err = cart.ErrCartNotFound
			return
		}
		c.Total = total
		c.UpdatedAt = at
		r.s.state.carts[cartID] = c
	})
	return err
}
