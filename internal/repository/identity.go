package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront-fulfillment/internal/domain/identity"
)

const (
	getUserSQL = `SELECT id, email, name FROM users WHERE id = $1`

	getAddressSQL = `SELECT id, user_id, line1, city, country FROM addresses WHERE id = $1 AND user_id = $2`
)

var _ identity.Directory = (*IdentityRepository)(nil)

// IdentityRepository implements identity.Directory backed by PostgreSQL.
type IdentityRepository struct {
	pool *pgxpool.Pool
}

// NewIdentityRepository returns an IdentityRepository that uses the given pool.
func NewIdentityRepository(pool *pgxpool.Pool) *IdentityRepository {
	return &IdentityRepository{pool: pool}
}

func (r *IdentityRepository) GetUser(ctx context.Context, id int64) (*identity.User, error) {
	var u identity.User
	err := conn(ctx, r.pool).QueryRow(ctx, getUserSQL, id).Scan(&u.ID, &u.Email, &u.Name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, identity.ErrUserNotFound
		}
		return nil, fmt.Errorf("getting user %d: %w", id, err)
	}
	return &u, nil
}

func (r *IdentityRepository) GetAddress(ctx context.Context, id, userID int64) (*identity.Address, error) {
	var a identity.Address
	err := conn(ctx, r.pool).QueryRow(ctx, getAddressSQL, id, userID).Scan(&a.ID, &a.UserID, &a.Line1, &a.City, &a.Country)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, identity.ErrAddressNotFound
		}
		return nil, fmt.Errorf("getting address %d: %w", id, err)
	}
	return &a, nil
}
