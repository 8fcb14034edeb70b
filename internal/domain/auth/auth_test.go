package auth

import (
	"context"
	"testing"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockKeys struct {
	byHash map[string]*APIKey
	err    error
}

func (m *mockKeys) FindByHash(_ context.Context, hash string) (*APIKey, error) {
	if m.err != nil {
		return nil, m.err
	}
	k, ok := m.byHash[hash]
	if !ok {
		return nil, errors.Wrap(ErrUnauthorized, "no such key")
	}
	return k, nil
}

func TestAuthenticator(t *testing.T) {
	pepper := []byte("pepper")
	hash := HashKey(pepper, "sk_live_1")
	keys := &mockKeys{byHash: map[string]*APIKey{
		hash:        {ID: "k1", KeyHash: hash, Name: "ops", Scopes: []string{ScopeAdmin}},
		"corrupted": {ID: "k2", KeyHash: "zz"},
	}}
	a := NewAuthenticator(keys, pepper)
	ctx := context.Background()

	t.Run("valid", func(t *testing.T) {
		k, err := a.Authenticate(ctx, "sk_live_1")
		require.NoError(t, err)
		assert.Equal(t, "k1", k.ID)
		assert.True(t, k.HasScope("orders:write"))
	})

	t.Run("unknown", func(t *testing.T) {
		_, err := a.Authenticate(ctx, "sk_live_2")
		assert.ErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("empty", func(t *testing.T) {
		_, err := a.Authenticate(ctx, "")
		assert.ErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("other pepper", func(t *testing.T) {
		_, err := NewAuthenticator(keys, []byte("other")).Authenticate(ctx, "sk_live_1")
		assert.ErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("store down", func(t *testing.T) {
		down := &mockKeys{err: errors.New("connection refused")}
		_, err := NewAuthenticator(down, pepper).Authenticate(ctx, "sk_live_1")
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrUnauthorized)
	})
}

func TestHasScope(t *testing.T) {
	k := &APIKey{Scopes: []string{"compensation:run"}}
	assert.True(t, k.HasScope("compensation:run"))
	assert.False(t, k.HasScope("orders:write"))
}
