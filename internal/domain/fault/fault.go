// Package fault defines the error kinds shared by the fulfillment domain.
//
// Every domain error matches exactly one kind through errors.Is, which lets
// transport layers map failures to responses without knowing concrete types.
package fault

import (
	"fmt"

	"github.com/go-faster/errors"
)

// Error kinds.
var (
	// ErrValidation marks malformed or inconsistent input.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound marks a referenced entity that does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict marks a request that contradicts current state (stock, terminal orders).
	ErrConflict = errors.New("conflict")
	// ErrGateway marks a transient payment provider failure.
	ErrGateway = errors.New("payment gateway unavailable")
)

// Error is a domain error of a given kind with a caller-facing reason.
type Error struct {
	Kind   error
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return e.Reason
}

// Is reports whether target is the kind of e.
func (e *Error) Is(target error) bool {
	return target == e.Kind
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Validation returns a validation error with a formatted reason.
func Validation(format string, args ...any) error {
	return &Error{Kind: ErrValidation, Reason: fmt.Sprintf(format, args...)}
}

// NotFound returns a not found error with a formatted reason.
func NotFound(format string, args ...any) error {
	return &Error{Kind: ErrNotFound, Reason: fmt.Sprintf(format, args...)}
}

// Conflict returns a conflict error with a formatted reason.
func Conflict(format string, args ...any) error {
	return &Error{Kind: ErrConflict, Reason: fmt.Sprintf(format, args...)}
}

// Gateway wraps a payment provider failure.
func Gateway(err error, reason string) error {
	return &Error{Kind: ErrGateway, Reason: reason, Err: err}
}

// Reason returns the caller-facing reason of a domain error, or a generic
// message for anything else.
func Reason(err error) string {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Reason
	}
	type reasoner interface{ Reason() string }
	var r reasoner
	if errors.As(err, &r) {
		return r.Reason()
	}
	return "internal error"
}
