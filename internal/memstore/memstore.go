// Package memstore is an in-memory implementation of every fulfillment
// repository. Transactions are serialized and roll back by restoring a
// snapshot, which is enough to exercise the domain's atomicity rules in
// tests without a database.
package memstore

import (
	"cmp"
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/xenking/storefront-fulfillment/internal/domain/cart"
	"github.com/xenking/storefront-fulfillment/internal/domain/catalog"
	"github.com/xenking/storefront-fulfillment/internal/domain/identity"
	"github.com/xenking/storefront-fulfillment/internal/domain/order"
	"github.com/xenking/storefront-fulfillment/internal/domain/outbox"
	"github.com/xenking/storefront-fulfillment/internal/domain/stock"
)

var (
	_ catalog.Catalog    = (*Store)(nil)
	_ identity.Directory = (*Store)(nil)
	_ stock.Ledger       = Ledger{}
	_ cart.Repository    = Carts{}
	_ order.Repository   = Orders{}
	_ outbox.Repository  = Outbox{}
)

type txKey struct{}

type outboxRow struct {
	event      outbox.Event
	sentAt     *time.Time
	leaseUntil time.Time
	lastError  string
}

type state struct {
	stock  map[stock.Key]int
	carts  map[int64]cart.Cart
	orders map[int64]order.Order
	outbox []outboxRow
	nextID int64
}

func (s state) clone() state {
	c := state{
		stock:  maps.Clone(s.stock),
		carts:  make(map[int64]cart.Cart, len(s.carts)),
		orders: make(map[int64]order.Order, len(s.orders)),
		outbox: slices.Clone(s.outbox),
		nextID: s.nextID,
	}
	for id, v := range s.carts {
		c.carts[id] = cloneCart(v)
	}
	for id, v := range s.orders {
		c.orders[id] = cloneOrder(v)
	}
	return c
}

// Store holds catalog, identity and transactional state in memory.
type Store struct {
	mu    sync.Mutex
	state state

	users     map[int64]identity.User
	addresses map[int64]identity.Address
	variants  map[int64]catalog.Variant
	sizes     map[int64]catalog.Size
	bundles   map[int64]catalog.Bundle
	now       func() time.Time
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		state: state{
			stock:  make(map[stock.Key]int),
			carts:  make(map[int64]cart.Cart),
			orders: make(map[int64]order.Order),
		},
		users:     make(map[int64]identity.User),
		addresses: make(map[int64]identity.Address),
		variants:  make(map[int64]catalog.Variant),
		sizes:     make(map[int64]catalog.Size),
		bundles:   make(map[int64]catalog.Bundle),
		now:       time.Now,
	}
}

// SetClock overrides the clock used for timestamps.
func (s *Store) SetClock(now func() time.Time) { s.now = now }

// InTx runs fn with the store locked. Any error restores the state seen
// before fn ran. Nested calls join the outer transaction.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(txKey{}) != nil {
		return fn(ctx)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.state.clone()
	if err := fn(context.WithValue(ctx, txKey{}, true)); err != nil {
		s.state = snapshot
		return err
	}
	return nil
}

// view runs fn under the store lock unless ctx already holds it.
func (s *Store) view(ctx context.Context, fn func()) {
	if ctx.Value(txKey{}) == nil {
		s.mu.Lock()
		defer s.mu.Unlock()
	}
	fn()
}

func (s *Store) id() int64 {
	s.state.nextID++
	return s.state.nextID
}

// --- Seeding ---

// AddUser registers a user.
func (s *Store) AddUser(u identity.User) { s.users[u.ID] = u }

// AddAddress registers an address.
func (s *Store) AddAddress(a identity.Address) { s.addresses[a.ID] = a }

// AddVariant registers a catalog variant.
func (s *Store) AddVariant(v catalog.Variant) { s.variants[v.ID] = v }

// AddSize registers a size.
func (s *Store) AddSize(sz catalog.Size) { s.sizes[sz.ID] = sz }

// AddBundle registers a bundle.
func (s *Store) AddBundle(b catalog.Bundle) { s.bundles[b.ID] = b }

// SetStock sets the available quantity of a unit.
func (s *Store) SetStock(key stock.Key, qty int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.stock[key] = qty
}

// Available returns the quantity of a unit, or -1 when it does not exist.
func (s *Store) Available(key stock.Key) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	qty, ok := s.state.stock[key]
	if !ok {
		return -1
	}
	return qty
}

// Events returns every outbox event in enqueue order.
func (s *Store) Events() []outbox.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]outbox.Event, 0, len(s.state.outbox))
	for _, row := range s.state.outbox {
		out = append(out, row.event)
	}
	return out
}

// Backdate moves an order's creation time, for expiry scenarios.
func (s *Store) Backdate(orderID int64, createdAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o := s.state.orders[orderID]
	o.CreatedAt = createdAt
	s.state.orders[orderID] = o
}

// --- identity.Directory ---

func (s *Store) GetUser(_ context.Context, id int64) (*identity.User, error) {
	u, ok := s.users[id]
	if !ok {
		return nil, identity.ErrUserNotFound
	}
	return &u, nil
}

func (s *Store) GetAddress(_ context.Context, id, userID int64) (*identity.Address, error) {
	a, ok := s.addresses[id]
	if !ok || a.UserID != userID {
		return nil, identity.ErrAddressNotFound
	}
	return &a, nil
}

// --- catalog.Catalog ---

func (s *Store) GetVariant(_ context.Context, id int64) (*catalog.Variant, error) {
	v, ok := s.variants[id]
	if !ok {
		return nil, &catalog.NotFoundError{Entity: "variant", ID: id}
	}
	return &v, nil
}

func (s *Store) GetSize(_ context.Context, id int64) (*catalog.Size, error) {
	sz, ok := s.sizes[id]
	if !ok {
		return nil, &catalog.NotFoundError{Entity: "size", ID: id}
	}
	return &sz, nil
}

func (s *Store) GetBundle(_ context.Context, id int64) (*catalog.Bundle, error) {
	b, ok := s.bundles[id]
	if !ok {
		return nil, &catalog.NotFoundError{Entity: "bundle", ID: id}
	}
	b.ProductIDs = slices.Clone(b.ProductIDs)
	return &b, nil
}

// Ledger returns the stock ledger view of the store.
func (s *Store) Ledger() Ledger { return Ledger{s} }

// Carts returns the cart repository view of the store.
func (s *Store) Carts() Carts { return Carts{s} }

// Orders returns the order repository view of the store.
func (s *Store) Orders() Orders { return Orders{s} }

// Outbox returns the outbox repository view of the store.
func (s *Store) Outbox() Outbox { return Outbox{s} }

// --- stock.Ledger ---

// Ledger implements stock.Ledger.
type Ledger struct{ s *Store }

func (l Ledger) Get(ctx context.Context, key stock.Key) (*stock.Unit, error) {
	var (
		unit *stock.Unit
		err  error
	)
	l.s.view(ctx, func() {
		qty, ok := l.s.state.stock[key]
		if !ok {
			err = stock.ErrUnitNotFound
			return
		}
		unit = &stock.Unit{Key: key, Available: qty}
	})
	return unit, err
}

func (l Ledger) ListByVariant(ctx context.Context, variantID int64) ([]stock.Unit, error) {
	var out []stock.Unit
	l.s.view(ctx, func() {
		for k, qty := range l.s.state.stock {
			if k.VariantID == variantID {
				out = append(out, stock.Unit{Key: k, Available: qty})
			}
		}
	})
	slices.SortFunc(out, func(a, b stock.Unit) int { return cmp.Compare(a.SizeID, b.SizeID) })
	return out, nil
}

func (l Ledger) Debit(ctx context.Context, key stock.Key, qty int) error {
	var err error
	l.s.view(ctx, func() {
		available, ok := l.s.state.stock[key]
		if !ok {
			err = stock.ErrUnitNotFound
			return
		}
		if available < qty {
			err = &stock.InsufficientError{Key: key, Requested: qty, Available: available}
			return
		}
		l.s.state.stock[key] = available - qty
	})
	return err
}

func (l Ledger) Credit(ctx context.Context, key stock.Key, qty int) error {
	var err error
	l.s.view(ctx, func() {
		available, ok := l.s.state.stock[key]
		if !ok {
			err = stock.ErrUnitNotFound
			return
		}
		l.s.state.stock[key] = available + qty
	})
	return err
}

func cloneCart(c cart.Cart) cart.Cart {
	c.Items = slices.Clone(c.Items)
	for i := range c.Items {
		c.Items[i].Picks = slices.Clone(c.Items[i].Picks)
	}
	return c
}

func cloneOrder(o order.Order) order.Order {
	o.Items = slices.Clone(o.Items)
	for i := range o.Items {
		o.Items[i].Bundle = slices.Clone(o.Items[i].Bundle)
	}
	return o
}

func ptr[T any](v T) *T { return &v }
