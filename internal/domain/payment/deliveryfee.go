package payment

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/storefront-fulfillment/internal/domain/fault"
	"github.com/xenking/storefront-fulfillment/internal/domain/order"
	"github.com/xenking/storefront-fulfillment/internal/domain/outbox"
)

const deliveryFeePrefix = "DF-"

// DeliveryFeeReference returns the charge reference for an order's delivery
// fee: DF-<order id>-<unix milliseconds>.
func DeliveryFeeReference(orderID int64, at time.Time) string {
	return fmt.Sprintf("%s%d-%d", deliveryFeePrefix, orderID, at.UnixMilli())
}

// IsDeliveryFeeReference reports whether reference belongs to the
// delivery-fee sub-ledger.
func IsDeliveryFeeReference(reference string) bool {
	return strings.HasPrefix(reference, deliveryFeePrefix)
}

// ParseDeliveryFeeReference extracts the order id from a delivery-fee reference.
func ParseDeliveryFeeReference(reference string) (int64, error) {
	parts := strings.Split(reference, "-")
	if len(parts) < 3 || parts[0]+"-" != deliveryFeePrefix {
		return 0, fault.Validation("malformed delivery fee reference %q", reference)
	}
	id, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || id <= 0 {
		return 0, fault.Validation("malformed delivery fee reference %q", reference)
	}
	return id, nil
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}

// QuoteDeliveryFee records the delivery fee owed for an international order.
func (r *Reconciler) QuoteDeliveryFee(ctx context.Context, orderID int64, fee decimal.Decimal) (*order.Order, error) {
	if !fee.IsPositive() {
		return nil, fault.Validation("delivery fee must be greater than 0")
	}
	var out *order.Order
	err := r.tx.InTx(ctx, func(ctx context.Context) error {
		o, err := r.orders.Lock(ctx, orderID)
		if err != nil {
			return err
		}
		switch {
		case o.DeletedAt != nil:
			return fault.Conflict("order %d is no longer active", o.ID)
		case !o.International:
			return fault.Validation("order %d is domestic and has no delivery fee", o.ID)
		case o.DeliveryFeePaid:
			return fault.Conflict("delivery fee for order %d is already paid", o.ID)
		}
		fee = fee.Round(2)
		if err := r.orders.SetDeliveryFee(ctx, o.ID, fee, r.now()); err != nil {
			return errors.Wrap(err, "set delivery fee")
		}
		o.DeliveryFee = fee
		out = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// InitializeDeliveryFee opens a provider charge for the quoted delivery fee.
func (r *Reconciler) InitializeDeliveryFee(ctx context.Context, userID, orderID int64) (*Authorization, error) {
	o, err := r.ownedOrder(ctx, userID, orderID)
	if err != nil {
		return nil, err
	}
	if o.DeliveryFeePaid {
		return nil, fault.Conflict("delivery fee for order %d is already paid", o.ID)
	}
	if err := deliveryFeeChargeable(o); err != nil {
		return nil, err
	}
	user, err := r.directory.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return r.gateway.InitializeCharge(ctx, InitRequest{
		Email:       user.Email,
		Reference:   DeliveryFeeReference(o.ID, r.now()),
		Amount:      MinorUnits(o.DeliveryFee),
		Currency:    o.Currency,
		CallbackURL: r.callbacks.DeliveryFee,
		Metadata:    map[string]string{"order_id": formatID(o.ID), "kind": "delivery_fee"},
	})
}

// VerifyDeliveryFee asks the provider for the state of a delivery-fee charge
// and marks the fee paid on success. Failed charges leave the fee unpaid.
func (r *Reconciler) VerifyDeliveryFee(ctx context.Context, userID int64, reference string) (*order.Order, error) {
	orderID, err := ParseDeliveryFeeReference(reference)
	if err != nil {
		return nil, err
	}
	o, err := r.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.UserID != userID {
		return nil, order.ErrNotFound
	}
	if o.DeliveryFeePaid {
		return o, nil
	}

	charge, err := r.gateway.VerifyCharge(ctx, reference)
	if err != nil {
		return nil, err
	}
	if charge.Status != ChargeSuccess {
		return o, nil
	}
	if _, err := r.confirmDeliveryFee(ctx, orderID, charge.Amount, charge.Currency); err != nil {
		return nil, err
	}
	return r.orders.Get(ctx, orderID)
}

func (r *Reconciler) handleDeliveryFeeEvent(ctx context.Context, ev Event) (Outcome, error) {
	orderID, err := ParseDeliveryFeeReference(ev.Reference)
	if err != nil {
		return OutcomeIgnored, err
	}
	switch ev.Type {
	case EventChargeSuccess:
		return r.confirmDeliveryFee(ctx, orderID, ev.Amount, ev.Currency)
	case EventChargeFailed:
		zctx.From(ctx).Info("Delivery fee charge failed",
			zap.Int64("order_id", orderID),
			zap.String("reference", ev.Reference),
		)
		return OutcomeIgnored, nil
	default:
		return OutcomeIgnored, nil
	}
}

// deliveryFeeChargeable reports why o cannot take a delivery-fee charge.
func deliveryFeeChargeable(o *order.Order) error {
	switch {
	case o.DeletedAt != nil:
		return fault.Conflict("order %d is no longer active", o.ID)
	case !o.International:
		return fault.Validation("order %d is domestic and has no delivery fee", o.ID)
	case o.PaymentStatus != order.PaymentCompleted:
		return fault.Conflict("order %d has payment status %s, delivery fee needs a completed payment", o.ID, o.PaymentStatus)
	case !o.DeliveryFee.IsPositive():
		return fault.Conflict("delivery fee for order %d has not been quoted", o.ID)
	}
	return nil
}

func (r *Reconciler) confirmDeliveryFee(ctx context.Context, orderID, charged int64, currency string) (Outcome, error) {
	outcome := OutcomeApplied
	err := r.tx.InTx(ctx, func(ctx context.Context) error {
		o, err := r.orders.Lock(ctx, orderID)
		if err != nil {
			return err
		}
		if o.DeliveryFeePaid {
			outcome = OutcomeDuplicate
			return nil
		}
		if err := deliveryFeeChargeable(o); err != nil {
			return err
		}
		if err := checkCharge(charged, currency, o.DeliveryFee, o.Currency); err != nil {
			zctx.From(ctx).Warn("Delivery fee charge does not match quote",
				zap.Int64("order_id", o.ID),
				zap.Int64("charged", charged),
				zap.String("currency", currency),
				zap.Int64("expected", MinorUnits(o.DeliveryFee)),
			)
			return err
		}
		now := r.now()
		ok, err := r.orders.MarkDeliveryFeePaid(ctx, o.ID, now)
		if err != nil {
			return errors.Wrap(err, "mark delivery fee paid")
		}
		if !ok {
			outcome = OutcomeDuplicate
			return nil
		}
		return r.outbox.Enqueue(ctx, outbox.NewEvent(outbox.KindDeliveryFeeConfirmed, o.ID, now))
	})
	if err != nil {
		return OutcomeIgnored, err
	}
	r.record(ctx, "delivery_fee_paid", outcome)
	return outcome, nil
}
