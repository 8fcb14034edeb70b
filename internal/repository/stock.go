package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront-fulfillment/internal/domain/stock"
)

const (
	getStockSQL = `SELECT variant_id, size_id, available_quantity
		FROM stock_units WHERE variant_id = $1 AND size_id = $2`

	listStockByVariantSQL = `SELECT variant_id, size_id, available_quantity
		FROM stock_units WHERE variant_id = $1 ORDER BY size_id`

	// debitStockSQL decrements only when enough stock remains, so concurrent
	// debits serialize on the row lock and never go negative.
	debitStockSQL = `UPDATE stock_units SET available_quantity = available_quantity - $3
		WHERE variant_id = $1 AND size_id = $2 AND available_quantity >= $3`

	creditStockSQL = `UPDATE stock_units SET available_quantity = available_quantity + $3
		WHERE variant_id = $1 AND size_id = $2`
)

var _ stock.Ledger = (*StockRepository)(nil)

// StockRepository implements stock.Ledger backed by PostgreSQL.
type StockRepository struct {
	pool *pgxpool.Pool
}

// NewStockRepository returns a StockRepository that uses the given pool.
func NewStockRepository(pool *pgxpool.Pool) *StockRepository {
	return &StockRepository{pool: pool}
}

func (r *StockRepository) Get(ctx context.Context, key stock.Key) (*stock.Unit, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, getStockSQL, key.VariantID, key.SizeID)
	if err != nil {
		return nil, fmt.Errorf("getting stock for %s: %w", key, err)
	}
	u, err := pgx.CollectExactlyOneRow(rows, scanUnit)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, stock.ErrUnitNotFound
		}
		return nil, fmt.Errorf("getting stock for %s: %w", key, err)
	}
	return &u, nil
}

func (r *StockRepository) ListByVariant(ctx context.Context, variantID int64) ([]stock.Unit, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, listStockByVariantSQL, variantID)
	if err != nil {
		return nil, fmt.Errorf("listing stock for variant %d: %w", variantID, err)
	}
	return pgx.CollectRows(rows, scanUnit)
}

// Debit decrements the unit by qty or reports why it could not.
func (r *StockRepository) Debit(ctx context.Context, key stock.Key, qty int) error {
	q := conn(ctx, r.pool)
	tag, err := q.Exec(ctx, debitStockSQL, key.VariantID, key.SizeID, qty)
	if err != nil {
		if isCheckViolation(err) {
			return &stock.InsufficientError{Key: key, Requested: qty}
		}
		return fmt.Errorf("debiting %s: %w", key, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	u, err := r.Get(ctx, key)
	if err != nil {
		return err
	}
	return &stock.InsufficientError{Key: key, Requested: qty, Available: u.Available}
}

func (r *StockRepository) Credit(ctx context.Context, key stock.Key, qty int) error {
	tag, err := conn(ctx, r.pool).Exec(ctx, creditStockSQL, key.VariantID, key.SizeID, qty)
	if err != nil {
		return fmt.Errorf("crediting %s: %w", key, err)
	}
	if tag.RowsAffected() == 0 {
		return stock.ErrUnitNotFound
	}
	return nil
}

func scanUnit(row pgx.CollectableRow) (stock.Unit, error) {
	var u stock.Unit
	err := row.Scan(&u.VariantID, &u.SizeID, &u.Available)
	return u, err
}
