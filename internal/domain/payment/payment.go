// Package payment reconciles orders with the payment provider through
// synchronous verification and signed webhook events. It also runs the
// delivery-fee sub-ledger for international orders.
package payment

import (
	"context"

	"github.com/shopspring/decimal"
)

// ChargeStatus is the provider-side state of a charge.
type ChargeStatus string

const (
	ChargeSuccess   ChargeStatus = "success"
	ChargeFailed    ChargeStatus = "failed"
	ChargeAbandoned ChargeStatus = "abandoned"
	ChargePending   ChargeStatus = "pending"
)

// Charge is the verified state of a charge.
type Charge struct {
	Reference string
	Status    ChargeStatus
	// Amount is in minor units of Currency.
	Amount   int64
	Currency string
}

// Authorization is the provider's answer to a charge initialization.
type Authorization struct {
	Reference        string
	AuthorizationURL string
	AccessCode       string
}

// InitRequest asks the provider to open a charge.
type InitRequest struct {
	Email       string
	Reference   string
	Amount      int64
	Currency    string
	CallbackURL string
	Metadata    map[string]string
}

// Gateway is the payment provider.
type Gateway interface {
	InitializeCharge(ctx context.Context, req InitRequest) (*Authorization, error)
	VerifyCharge(ctx context.Context, reference string) (*Charge, error)
}

// EventType is a webhook event name.
type EventType string

const (
	EventChargeSuccess EventType = "charge.success"
	EventChargeFailed  EventType = "charge.failed"
)

// Event is an authenticated webhook notification.
type Event struct {
	Type      EventType
	Reference string
	Amount    int64
	Currency  string
}

// Outcome reports what handling an event did.
type Outcome string

const (
	OutcomeApplied Outcome = "applied"
	// OutcomeDuplicate means the target state was already reached.
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeIgnored   Outcome = "ignored"
)

// MinorUnits converts an amount to the provider's minor units.
func MinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}
