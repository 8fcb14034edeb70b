// Package identity describes the users and addresses the fulfillment core
// reads from the identity collaborator.
package identity

import (
	"context"

	"github.com/xenking/storefront-fulfillment/internal/domain/fault"
)

var (
	// ErrUserNotFound is returned when a user does not exist.
	ErrUserNotFound = &fault.Error{Kind: fault.ErrNotFound, Reason: "user not found"}
	// ErrAddressNotFound is returned when an address does not exist or belongs to another user.
	ErrAddressNotFound = &fault.Error{Kind: fault.ErrNotFound, Reason: "address not found"}
)

// User is a registered customer.
type User struct {
	ID    int64
	Email string
	Name  string
}

// Address is a postal address owned by a user.
type Address struct {
	ID      int64
	UserID  int64
	Line1   string
	City    string
	Country string
}

// Directory resolves users and their addresses.
type Directory interface {
	GetUser(ctx context.Context, id int64) (*User, error)
	// GetAddress returns the address only when it belongs to userID.
	GetAddress(ctx context.Context, id, userID int64) (*Address, error)
}
