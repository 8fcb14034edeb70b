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

	"github.com/xenking/storefront-fulfillment/internal/domain/fault"
	"github.com/xenking/storefront-fulfillment/internal/domain/order"
)

const (
	orderColumns = `id, user_id, cart_id, shipping_address_id, billing_address_id, country, international,
		reference, currency, exchange_rate, delivery_option, subtotal, discount, tax, shipping_cost, total,
		delivery_fee, delivery_fee_paid, delivery_fee_paid_at, payment_status, status, confirmation_sent,
		stock_released_at, paid_at, created_at, updated_at, deleted_at`

	insertOrderSQL = `INSERT INTO orders
		(user_id, cart_id, shipping_address_id, billing_address_id, country, international, reference,
		 currency, exchange_rate, delivery_option, subtotal, discount, tax, shipping_cost, total,
		 payment_status, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $18)
		RETURNING id`

	insertOrderItemSQL = `INSERT INTO order_items
		(order_id, variant_id, size_id, bundle_id, product_name, color_name, size_name, quantity, price, bundle)
		VALUES ($1, NULLIF($2::bigint, 0), NULLIF($3::bigint, 0), NULLIF($4::bigint, 0), $5, $6, $7, $8, $9, $10)
		RETURNING id`

	getOrderSQL            = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	getOrderByReferenceSQL = `SELECT ` + orderColumns + ` FROM orders WHERE reference = $1`
	lockOrderSQL           = getOrderSQL + ` FOR UPDATE`
	lockOrderByRefSQL      = getOrderByReferenceSQL + ` FOR UPDATE`

	listOrdersByUserSQL = `SELECT ` + orderColumns + ` FROM orders
		WHERE user_id = $1 AND deleted_at IS NULL ORDER BY id DESC`

	listOrderItemsSQL = `SELECT id, order_id, COALESCE(variant_id, 0), COALESCE(size_id, 0), COALESCE(bundle_id, 0),
		product_name, color_name, size_name, quantity, price, bundle
		FROM order_items WHERE order_id = ANY($1) ORDER BY order_id, id`

	markPaidSQL = `UPDATE orders
		SET payment_status = 'completed', status = 'processing', paid_at = $2, updated_at = $2
		WHERE id = $1 AND payment_status = 'pending'`

	markPaymentFailedSQL = `UPDATE orders SET payment_status = 'failed', updated_at = $2
		WHERE id = $1 AND payment_status = 'pending'`

	markConfirmationSentSQL = `UPDATE orders SET confirmation_sent = TRUE
		WHERE id = $1 AND confirmation_sent = FALSE`

	markStockReleasedSQL = `UPDATE orders SET stock_released_at = $2, updated_at = $2
		WHERE id = $1 AND stock_released_at IS NULL`

	cancelOrderSQL = `UPDATE orders SET status = 'cancelled', deleted_at = $2, updated_at = $2 WHERE id = $1`

	softDeleteOrderSQL = `UPDATE orders SET deleted_at = $2, updated_at = $2
		WHERE id = $1 AND deleted_at IS NULL`

	listStaleOrdersSQL = `SELECT id FROM orders
		WHERE deleted_at IS NULL AND payment_status <> 'completed' AND created_at < $1
		ORDER BY created_at, id LIMIT $2`

	setDeliveryFeeSQL = `UPDATE orders SET delivery_fee = $2, updated_at = $3 WHERE id = $1`

	markDeliveryFeePaidSQL = `UPDATE orders SET delivery_fee_paid = TRUE, delivery_fee_paid_at = $2, updated_at = $2
		WHERE id = $1 AND delivery_fee_paid = FALSE`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Create inserts the order and its items. A duplicate reference is a conflict.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	q := conn(ctx, r.pool)

	if o.PaymentStatus == "" {
		o.PaymentStatus = order.PaymentPending
	}
	if o.Status == "" {
		o.Status = order.StatusPending
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now()
	}
	o.UpdatedAt = o.CreatedAt

	err := q.QueryRow(ctx, insertOrderSQL,
		o.UserID, o.CartID, o.ShippingAddressID, o.BillingAddressID, o.Country, o.International, o.Reference,
		o.Currency, o.ExchangeRate, o.DeliveryOption, o.Subtotal, o.Discount, o.Tax, o.ShippingCost, o.Total,
		string(o.PaymentStatus), string(o.Status), o.CreatedAt,
	).Scan(&o.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return fault.Conflict("order reference %q already used", o.Reference)
		}
		return fmt.Errorf("inserting order: %w", err)
	}

	for i := range o.Items {
		item := &o.Items[i]
		item.OrderID = o.ID

		bundle := []byte("[]")
		if len(item.Bundle) > 0 {
			if bundle, err = json.Marshal(item.Bundle); err != nil {
				return fmt.Errorf("marshaling bundle snapshot: %w", err)
			}
		}

		err := q.QueryRow(ctx, insertOrderItemSQL,
			o.ID, item.VariantID, item.SizeID, item.BundleID,
			item.ProductName, item.ColorName, item.SizeName, item.Quantity, item.Price, bundle,
		).Scan(&item.ID)
		if err != nil {
			return fmt.Errorf("inserting order item: %w", err)
		}
	}
	return nil
}

// Get returns the order including soft-deleted ones.
func (r *OrderRepository) Get(ctx context.Context, id int64) (*order.Order, error) {
	return r.one(ctx, getOrderSQL, id)
}

func (r *OrderRepository) GetByReference(ctx context.Context, reference string) (*order.Order, error) {
	return r.one(ctx, getOrderByReferenceSQL, reference)
}

func (r *OrderRepository) Lock(ctx context.Context, id int64) (*order.Order, error) {
	return r.one(ctx, lockOrderSQL, id)
}

func (r *OrderRepository) LockByReference(ctx context.Context, reference string) (*order.Order, error) {
	return r.one(ctx, lockOrderByRefSQL, reference)
}

// ListByUser returns the user's visible orders, newest first.
func (r *OrderRepository) ListByUser(ctx context.Context, userID int64) ([]order.Order, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, listOrdersByUserSQL, userID)
	if err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}
	orders, err := pgx.CollectRows(rows, scanOrder)
	if err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}
	if err := r.loadItems(ctx, orders); err != nil {
		return nil, err
	}
	return orders, nil
}

func (r *OrderRepository) one(ctx context.Context, sql string, arg any) (*order.Order, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, sql, arg)
	if err != nil {
		return nil, fmt.Errorf("getting order: %w", err)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order: %w", err)
	}
	orders := []order.Order{o}
	if err := r.loadItems(ctx, orders); err != nil {
		return nil, err
	}
	return &orders[0], nil
}

func (r *OrderRepository) loadItems(ctx context.Context, orders []order.Order) error {
	if len(orders) == 0 {
		return nil
	}
	ids := make([]int64, len(orders))
	index := make(map[int64]int, len(orders))
	for i, o := range orders {
		ids[i] = o.ID
		index[o.ID] = i
	}

	rows, err := conn(ctx, r.pool).Query(ctx, listOrderItemsSQL, ids)
	if err != nil {
		return fmt.Errorf("listing order items: %w", err)
	}
	items, err := pgx.CollectRows(rows, scanOrderItem)
	if err != nil {
		return fmt.Errorf("listing order items: %w", err)
	}
	for _, item := range items {
		i := index[item.OrderID]
		orders[i].Items = append(orders[i].Items, item)
	}
	return nil
}

func (r *OrderRepository) MarkPaid(ctx context.Context, id int64, at time.Time) (bool, error) {
	return r.transition(ctx, "marking order paid", markPaidSQL, id, at)
}

func (r *OrderRepository) MarkPaymentFailed(ctx context.Context, id int64, at time.Time) (bool, error) {
	return r.transition(ctx, "marking payment failed", markPaymentFailedSQL, id, at)
}

func (r *OrderRepository) MarkConfirmationSent(ctx context.Context, id int64) (bool, error) {
	return r.transition(ctx, "marking confirmation sent", markConfirmationSentSQL, id)
}

func (r *OrderRepository) MarkStockReleased(ctx context.Context, id int64, at time.Time) (bool, error) {
	return r.transition(ctx, "marking stock released", markStockReleasedSQL, id, at)
}

func (r *OrderRepository) MarkDeliveryFeePaid(ctx context.Context, id int64, at time.Time) (bool, error) {
	return r.transition(ctx, "marking delivery fee paid", markDeliveryFeePaidSQL, id, at)
}

// transition runs a guarded update and reports whether it matched a row.
func (r *OrderRepository) transition(ctx context.Context, op, sql string, args ...any) (bool, error) {
	tag, err := conn(ctx, r.pool).Exec(ctx, sql, args...)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *OrderRepository) Cancel(ctx context.Context, id int64, at time.Time) error {
	tag, err := conn(ctx, r.pool).Exec(ctx, cancelOrderSQL, id, at)
	if err != nil {
		return fmt.Errorf("cancelling order %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrNotFound
	}
	return nil
}

func (r *OrderRepository) SoftDelete(ctx context.Context, id int64, at time.Time) error {
	if _, err := conn(ctx, r.pool).Exec(ctx, softDeleteOrderSQL, id, at); err != nil {
		return fmt.Errorf("deleting order %d: %w", id, err)
	}
	return nil
}

func (r *OrderRepository) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]int64, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, listStaleOrdersSQL, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("listing stale orders: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("listing stale orders: %w", err)
	}
	return ids, nil
}

func (r *OrderRepository) SetDeliveryFee(ctx context.Context, id int64, fee decimal.Decimal, at time.Time) error {
	tag, err := conn(ctx, r.pool).Exec(ctx, setDeliveryFeeSQL, id, fee, at)
	if err != nil {
		return fmt.Errorf("setting delivery fee of order %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrNotFound
	}
	return nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o             order.Order
		paymentStatus string
		status        string
	)
	err := row.Scan(
		&o.ID, &o.UserID, &o.CartID, &o.ShippingAddressID, &o.BillingAddressID, &o.Country, &o.International,
		&o.Reference, &o.Currency, &o.ExchangeRate, &o.DeliveryOption, &o.Subtotal, &o.Discount, &o.Tax,
		&o.ShippingCost, &o.Total,
		&o.DeliveryFee, &o.DeliveryFeePaid, &o.DeliveryFeePaidAt, &paymentStatus, &status, &o.ConfirmationSent,
		&o.StockReleasedAt, &o.PaidAt, &o.CreatedAt, &o.UpdatedAt, &o.DeletedAt,
	)
	o.PaymentStatus = order.PaymentStatus(paymentStatus)
	o.Status = order.Status(status)
	return o, err
}

func scanOrderItem(row pgx.CollectableRow) (order.Item, error) {
	var (
		item   order.Item
		bundle []byte
	)
	err := row.Scan(
		&item.ID, &item.OrderID, &item.VariantID, &item.SizeID, &item.BundleID,
		&item.ProductName, &item.ColorName, &item.SizeName, &item.Quantity, &item.Price, &bundle,
	)
	if err != nil {
		return item, err
	}
	if err := json.Unmarshal(bundle, &item.Bundle); err != nil {
		return item, fmt.Errorf("unmarshaling bundle snapshot: %w", err)
	}
	if len(item.Bundle) == 0 {
		item.Bundle = nil
	}
	return item, nil
}
