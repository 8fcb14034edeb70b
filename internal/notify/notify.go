// Package notify delivers queued order notifications to customers.
package notify

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/storefront-fulfillment/internal/domain/order"
	"github.com/xenking/storefront-fulfillment/internal/domain/outbox"
)

// Notification is a message about an order addressed to its owner.
type Notification struct {
	EventID string
	Kind    outbox.Kind
	Email   string
	Order   *order.Order
}

// Notifier sends notifications.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// payload is the wire form of a notification.
type payload struct {
	EventID     string          `json:"event_id"`
	Kind        outbox.Kind     `json:"kind"`
	OrderID     int64           `json:"order_id"`
	UserID      int64           `json:"user_id"`
	Email       string          `json:"email"`
	Reference   string          `json:"reference"`
	Currency    string          `json:"currency"`
	Total       decimal.Decimal `json:"total"`
	DeliveryFee decimal.Decimal `json:"delivery_fee"`
	Status      order.Status    `json:"status"`
	Payment     string          `json:"payment_status"`
	SentAt      time.Time       `json:"sent_at"`
}

func newPayload(n Notification, now time.Time) payload {
	return payload{
		EventID:     n.EventID,
		Kind:        n.Kind,
		OrderID:     n.Order.ID,
		UserID:      n.Order.UserID,
		Email:       n.Email,
		Reference:   n.Order.Reference,
		Currency:    n.Order.Currency,
		Total:       n.Order.Total,
		DeliveryFee: n.Order.DeliveryFee,
		Status:      n.Order.Status,
		Payment:     string(n.Order.PaymentStatus),
		SentAt:      now,
	}
}
