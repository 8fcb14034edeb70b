package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront-fulfillment/internal/domain/auth"
)

const (
	getAPIKeyByHashSQL = `SELECT id, key_hash, name, scopes
	FROM api_keys WHERE key_hash = $1 AND active = TRUE`

	upsertAPIKeySQL = `INSERT INTO api_keys (id, key_hash, name, scopes) VALUES ($1, $2, $3, $4)
	ON CONFLICT (key_hash) DO UPDATE SET name = EXCLUDED.name, scopes = EXCLUDED.scopes, active = TRUE`
)

var _ auth.Repository = (*APIKeyRepository)(nil)

// APIKeyRepository stores operator API keys by hash.
type APIKeyRepository struct {
	pool *pgxpool.Pool
}

// NewAPIKeyRepository returns an APIKeyRepository that uses the given pool.
func NewAPIKeyRepository(pool *pgxpool.Pool) *APIKeyRepository {
	return &APIKeyRepository{pool: pool}
}

// FindByHash looks up an active API key by its HMAC-SHA256 hash. A missing
// or revoked key yields auth.ErrUnauthorized.
func (r *APIKeyRepository) FindByHash(ctx context.Context, hash string) (*auth.APIKey, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, getAPIKeyByHashSQL, hash)
	if err != nil {
		return nil, fmt.Errorf("querying api key: %w", err)
	}
	k, err := pgx.CollectExactlyOneRow(rows, func(row pgx.CollectableRow) (auth.APIKey, error) {
		var k auth.APIKey
		err := row.Scan(&k.ID, &k.KeyHash, &k.Name, &k.Scopes)
		return k, err
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.Wrap(auth.ErrUnauthorized, "api key not found")
	}
	if err != nil {
		return nil, fmt.Errorf("scanning api key: %w", err)
	}
	return &k, nil
}

// Save stores k, reactivating an existing key with the same hash.
func (r *APIKeyRepository) Save(ctx context.Context, k auth.APIKey) error {
	if _, err := conn(ctx, r.pool).Exec(ctx, upsertAPIKeySQL, k.ID, k.KeyHash, k.Name, k.Scopes); err != nil {
		return fmt.Errorf("saving api key %s: %w", k.Name, err)
	}
	return nil
}
