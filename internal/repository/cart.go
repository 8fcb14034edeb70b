package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront-fulfillment/internal/domain/cart"
)

const (
	cartColumns = `id, user_id, total, created_at, updated_at`

	latestCartSQL = `SELECT ` + cartColumns + ` FROM carts WHERE user_id = $1 ORDER BY id DESC LIMIT 1`

	getCartSQL = `SELECT ` + cartColumns + ` FROM carts WHERE id = $1`

	createCartSQL = `INSERT INTO carts (user_id) VALUES ($1) RETURNING ` + cartColumns

	lockCartSQL = `SELECT id FROM carts WHERE id = $1 FOR UPDATE`

	listCartItemsSQL = `SELECT id, cart_id, COALESCE(variant_id, 0), COALESCE(size_id, 0), COALESCE(bundle_id, 0),
		product_name, color_name, size_name, quantity, price, picks
		FROM cart_items WHERE cart_id = $1 ORDER BY id`

	insertCartItemSQL = `INSERT INTO cart_items
		(cart_id, variant_id, size_id, bundle_id, product_name, color_name, size_name, quantity, price, picks)
		VALUES ($1, NULLIF($2::bigint, 0), NULLIF($3::bigint, 0), NULLIF($4::bigint, 0), $5, $6, $7, $8, $9, $10)
		RETURNING id`

	setCartItemQuantitySQL = `UPDATE cart_items SET quantity = $2 WHERE id = $1`

	deleteCartItemsSQL = `DELETE FROM cart_items WHERE id = ANY($1)`

	clearCartItemsSQL = `DELETE FROM cart_items WHERE cart_id = $1`

	setCartTotalSQL = `UPDATE carts SET total = $2, updated_at = $3 WHERE id = $1`
)

var _ cart.Repository = (*CartRepository)(nil)

// CartRepository implements cart.Repository backed by PostgreSQL.
type CartRepository struct {
	pool *pgxpool.Pool
}

// NewCartRepository returns a CartRepository that uses the given pool.
func NewCartRepository(pool *pgxpool.Pool) *CartRepository {
	return &CartRepository{pool: pool}
}

// Latest returns the user's most recent cart with its items.
func (r *CartRepository) Latest(ctx context.Context, userID int64) (*cart.Cart, error) {
	return r.one(ctx, latestCartSQL, userID)
}

// Get returns a cart with its items.
func (r *CartRepository) Get(ctx context.Context, cartID int64) (*cart.Cart, error) {
	return r.one(ctx, getCartSQL, cartID)
}

func (r *CartRepository) one(ctx context.Context, sql string, arg int64) (*cart.Cart, error) {
	q := conn(ctx, r.pool)
	rows, err := q.Query(ctx, sql, arg)
	if err != nil {
		return nil, fmt.Errorf("getting cart: %w", err)
	}
	c, err := pgx.CollectExactlyOneRow(rows, scanCart)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, cart.ErrCartNotFound
		}
		return nil, fmt.Errorf("getting cart: %w", err)
	}

	rows, err = q.Query(ctx, listCartItemsSQL, c.ID)
	if err != nil {
		return nil, fmt.Errorf("listing items of cart %d: %w", c.ID, err)
	}
	c.Items, err = pgx.CollectRows(rows, scanCartItem)
	if err != nil {
		return nil, fmt.Errorf("listing items of cart %d: %w", c.ID, err)
	}
	return &c, nil
}

// Create opens an empty cart for the user.
func (r *CartRepository) Create(ctx context.Context, userID int64) (*cart.Cart, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, createCartSQL, userID)
	if err != nil {
		return nil, fmt.Errorf("creating cart: %w", err)
	}
	c, err := pgx.CollectExactlyOneRow(rows, scanCart)
	if err != nil {
		return nil, fmt.Errorf("creating cart: %w", err)
	}
	return &c, nil
}

// Lock takes a row lock on the cart until the surrounding transaction ends.
func (r *CartRepository) Lock(ctx context.Context, cartID int64) error {
	var id int64
	if err := conn(ctx, r.pool).QueryRow(ctx, lockCartSQL, cartID).Scan(&id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return cart.ErrCartNotFound
		}
		return fmt.Errorf("locking cart %d: %w", cartID, err)
	}
	return nil
}

// AddItem inserts the item and sets its id.
func (r *CartRepository) AddItem(ctx context.Context, item *cart.Item) error {
	picks, err := json.Marshal(item.Picks)
	if err != nil {
		return fmt.Errorf("marshaling bundle picks: %w", err)
	}
	if item.Picks == nil {
		picks = []byte("[]")
	}
	err = conn(ctx, r.pool).QueryRow(ctx, insertCartItemSQL,
		item.CartID, item.VariantID, item.SizeID, item.BundleID,
		item.ProductName, item.ColorName, item.SizeName, item.Quantity, item.Price, picks,
	).Scan(&item.ID)
	if err != nil {
		return fmt.Errorf("adding item to cart %d: %w", item.CartID, err)
	}
	return nil
}

func (r *CartRepository) SetItemQuantity(ctx context.Context, itemID int64, qty int) error {
	tag, err := conn(ctx, r.pool).Exec(ctx, setCartItemQuantitySQL, itemID, qty)
	if err != nil {
		return fmt.Errorf("updating cart item %d: %w", itemID, err)
	}
	if tag.RowsAffected() == 0 {
		return cart.ErrItemNotFound
	}
	return nil
}

func (r *CartRepository) DeleteItems(ctx context.Context, itemIDs ...int64) error {
	if _, err := conn(ctx, r.pool).Exec(ctx, deleteCartItemsSQL, itemIDs); err != nil {
		return fmt.Errorf("deleting cart items: %w", err)
	}
	return nil
}

func (r *CartRepository) ClearItems(ctx context.Context, cartID int64) error {
	if _, err := conn(ctx, r.pool).Exec(ctx, clearCartItemsSQL, cartID); err != nil {
		return fmt.Errorf("clearing cart %d: %w", cartID, err)
	}
	return nil
}

func (r *CartRepository) SetTotal(ctx context.Context, cartID int64, total decimal.Decimal, at time.Time) error {
	if _, err := conn(ctx, r.pool).Exec(ctx, setCartTotalSQL, cartID, total, at); err != nil {
		return fmt.Errorf("setting total of cart %d: %w", cartID, err)
	}
	return nil
}

func scanCart(row pgx.CollectableRow) (cart.Cart, error) {
	var c cart.Cart
	err := row.Scan(&c.ID, &c.UserID, &c.Total, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

func scanCartItem(row pgx.CollectableRow) (cart.Item, error) {
	var (
		item  cart.Item
		picks []byte
	)
	err := row.Scan(
		&item.ID, &item.CartID, &item.VariantID, &item.SizeID, &item.BundleID,
		&item.ProductName, &item.ColorName, &item.SizeName, &item.Quantity, &item.Price, &picks,
	)
	if err != nil {
		return item, err
	}
	if err := json.Unmarshal(picks, &item.Picks); err != nil {
		return item, fmt.Errorf("unmarshaling bundle picks: %w", err)
	}
	if len(item.Picks) == 0 {
		item.Picks = nil
	}
	return item, nil
}
