package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront-fulfillment/internal/domain/catalog"
)

const (
	getVariantSQL = `SELECT v.id, v.product_id, p.name, v.color_name, v.price, v.image
		FROM product_variants v JOIN products p ON p.id = v.product_id
		WHERE v.id = $1`

	getSizeSQL = `SELECT id, name FROM sizes WHERE id = $1`

	getBundleSQL = `SELECT b.id, b.name, b.kind, b.price,
		COALESCE(array_agg(bp.product_id ORDER BY bp.product_id) FILTER (WHERE bp.product_id IS NOT NULL), '{}')
		FROM bundles b LEFT JOIN bundle_products bp ON bp.bundle_id = b.id
		WHERE b.id = $1
		GROUP BY b.id`
)

var _ catalog.Catalog = (*CatalogRepository)(nil)

// CatalogRepository implements catalog.Catalog backed by PostgreSQL.
type CatalogRepository struct {
	pool *pgxpool.Pool
}

// NewCatalogRepository returns a CatalogRepository that uses the given pool.
func NewCatalogRepository(pool *pgxpool.Pool) *CatalogRepository {
	return &CatalogRepository{pool: pool}
}

// GetVariant returns a variant with its product name.
func (r *CatalogRepository) GetVariant(ctx context.Context, id int64) (*catalog.Variant, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, getVariantSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting variant %d: %w", id, err)
	}
	v, err := pgx.CollectExactlyOneRow(rows, func(row pgx.CollectableRow) (catalog.Variant, error) {
		var v catalog.Variant
		err := row.Scan(&v.ID, &v.ProductID, &v.ProductName, &v.ColorName, &v.Price, &v.Image)
		return v, err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &catalog.NotFoundError{Entity: "variant", ID: id}
		}
		return nil, fmt.Errorf("getting variant %d: %w", id, err)
	}
	return &v, nil
}

// GetSize returns a size.
func (r *CatalogRepository) GetSize(ctx context.Context, id int64) (*catalog.Size, error) {
	var s catalog.Size
	err := conn(ctx, r.pool).QueryRow(ctx, getSizeSQL, id).Scan(&s.ID, &s.Name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &catalog.NotFoundError{Entity: "size", ID: id}
		}
		return nil, fmt.Errorf("getting size %d: %w", id, err)
	}
	return &s, nil
}

// GetBundle returns a bundle with the product ids of its family.
func (r *CatalogRepository) GetBundle(ctx context.Context, id int64) (*catalog.Bundle, error) {
	var b catalog.Bundle
	err := conn(ctx, r.pool).QueryRow(ctx, getBundleSQL, id).Scan(&b.ID, &b.Name, &b.Kind, &b.Price, &b.ProductIDs)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &catalog.NotFoundError{Entity: "bundle", ID: id}
		}
		return nil, fmt.Errorf("getting bundle %d: %w", id, err)
	}
	return &b, nil
}
