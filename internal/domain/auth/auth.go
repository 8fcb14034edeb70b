// Package auth authenticates operator API keys for the admin surface.
package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"slices"

	"github.com/go-faster/errors"
)

// ScopeAdmin grants access to every admin endpoint.
const ScopeAdmin = "admin"

// ErrUnauthorized is returned for missing, unknown or inactive keys.
var ErrUnauthorized = errors.New("unauthorized")

// APIKey is a stored operator key. Only its hash is persisted.
type APIKey struct {
	ID      string
	KeyHash string
	Name    string
	Scopes  []string
}

// HasScope reports whether the key grants scope.
func (k *APIKey) HasScope(scope string) bool {
	return slices.Contains(k.Scopes, scope) || slices.Contains(k.Scopes, ScopeAdmin)
}

// Repository looks up active API keys by hash. FindByHash returns
// ErrUnauthorized when no active key matches.
type Repository interface {
	FindByHash(ctx context.Context, hash string) (*APIKey, error)
}

// HashKey returns the hex HMAC-SHA256 of key under pepper.
func HashKey(pepper []byte, key string) string {
	mac := hmac.New(sha256.New, pepper)
	mac.Write([]byte(key))
	return hex.EncodeToString(mac.Sum(nil))
}

// Authenticator validates raw API keys.
type Authenticator struct {
	keys   Repository
	pepper []byte
}

// NewAuthenticator returns an Authenticator hashing keys with pepper.
func NewAuthenticator(keys Repository, pepper []byte) *Authenticator {
	return &Authenticator{keys: keys, pepper: pepper}
}

// Authenticate resolves key to its stored record.
func (a *Authenticator) Authenticate(ctx context.Context, key string) (*APIKey, error) {
	if key == "" {
		return nil, ErrUnauthorized
	}
	hash := HashKey(a.pepper, key)

	info, err := a.keys.FindByHash(ctx, hash)
	switch {
	case errors.Is(err, ErrUnauthorized):
		return nil, ErrUnauthorized
	case err != nil:
		return nil, errors.Wrap(err, "find api key")
	}

	// The stored row must match byte for byte.
	stored, err := hex.DecodeString(info.KeyHash)
	if err != nil {
		return nil, ErrUnauthorized
	}
	computed, _ := hex.DecodeString(hash)
	if subtle.ConstantTimeCompare(computed, stored) != 1 {
		return nil, ErrUnauthorized
	}
	return info, nil
}
