// Package outbox records notification intents in the same transaction as the
// state change that caused them. A separate worker delivers them.
package outbox

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
)

// Kind enumerates notification intents.
type Kind string

const (
	KindOrderConfirmed       Kind = "order.confirmed"
	KindPaymentFailed        Kind = "payment.failed"
	KindDeliveryFeeRequested Kind = "delivery_fee.requested"
	KindDeliveryFeeConfirmed Kind = "delivery_fee.confirmed"
)

// Event is a pending notification for an order.
type Event struct {
	ID        string
	Kind      Kind
	OrderID   int64
	Attempts  int
	CreatedAt time.Time
}

// NewEvent returns an event with a fresh sortable id.
func NewEvent(kind Kind, orderID int64, now time.Time) Event {
	return Event{
		ID:        ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String(),
		Kind:      kind,
		OrderID:   orderID,
		CreatedAt: now,
	}
}

// Repository persists outbox events.
type Repository interface {
	// Enqueue stores the event. It must be called inside the transaction
	// that performs the related state change.
	Enqueue(ctx context.Context, e Event) error
	// Claim leases up to limit undelivered events whose lease has expired and
	// which have been attempted fewer than maxAttempts times.
	Claim(ctx context.Context, now time.Time, lease time.Duration, limit, maxAttempts int) ([]Event, error)
	MarkSent(ctx context.Context, id string, at time.Time) error
	MarkFailed(ctx context.Context, id string, reason string) error
}
