package payment

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/storefront-fulfillment/internal/domain/fault"
	"github.com/xenking/storefront-fulfillment/internal/domain/identity"
	"github.com/xenking/storefront-fulfillment/internal/domain/order"
	"github.com/xenking/storefront-fulfillment/internal/domain/outbox"
	"github.com/xenking/storefront-fulfillment/internal/domain/stock"
)

// TxRunner runs fn in a single database transaction carried by ctx.
type TxRunner interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Carts empties the cart a paid order was placed from.
type Carts interface {
	ClearItems(ctx context.Context, cartID int64) error
	SetTotal(ctx context.Context, cartID int64, total decimal.Decimal, at time.Time) error
}

// Callbacks are the URLs the provider redirects the customer to.
type Callbacks struct {
	Payment     string
	DeliveryFee string
}

// Deps holds the collaborators of Reconciler.
type Deps struct {
	Tx        TxRunner
	Orders    order.Repository
	Directory identity.Directory
	Carts     Carts
	Ledger    stock.Ledger
	Outbox    outbox.Repository
	Gateway   Gateway
	Callbacks Callbacks
	Clock     func() time.Time
	Tracer    trace.TracerProvider
	Meter     metric.MeterProvider
}

// Reconciler drives order payment state from provider confirmations.
type Reconciler struct {
	tx        TxRunner
	orders    order.Repository
	directory identity.Directory
	carts     Carts
	ledger    stock.Ledger
	outbox    outbox.Repository
	gateway   Gateway
	callbacks Callbacks
	now       func() time.Time
	tracer    trace.Tracer

	transitions metric.Int64Counter
}

// NewReconciler creates a Reconciler.
func NewReconciler(d Deps) (*Reconciler, error) {
	if d.Clock == nil {
		d.Clock = time.Now
	}
	if d.Tracer == nil {
		d.Tracer = tracenoop.NewTracerProvider()
	}
	if d.Meter == nil {
		d.Meter = metricnoop.NewMeterProvider()
	}
	transitions, err := d.Meter.Meter("storefront/payment").Int64Counter("payments.transitions")
	if err != nil {
		return nil, errors.Wrap(err, "payments.transitions")
	}
	return &Reconciler{
		tx:          d.Tx,
		orders:      d.Orders,
		directory:   d.Directory,
		carts:       d.Carts,
		ledger:      d.Ledger,
		outbox:      d.Outbox,
		gateway:     d.Gateway,
		callbacks:   d.Callbacks,
		now:         d.Clock,
		tracer:      d.Tracer.Tracer("storefront/payment"),
		transitions: transitions,
	}, nil
}

// Initialize opens a provider charge for the order total.
func (r *Reconciler) Initialize(ctx context.Context, userID, orderID int64) (*Authorization, error) {
	ctx, span := r.tracer.Start(ctx, "payment.Initialize")
	defer span.End()

	o, err := r.ownedOrder(ctx, userID, orderID)
	if err != nil {
		return nil, err
	}
	if !o.Payable() {
		return nil, fault.Conflict("order %d is not awaiting payment", o.ID)
	}
	user, err := r.directory.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return r.gateway.InitializeCharge(ctx, InitRequest{
		Email:       user.Email,
		Reference:   o.Reference,
		Amount:      MinorUnits(o.Total),
		Currency:    o.Currency,
		CallbackURL: r.callbacks.Payment,
		Metadata:    map[string]string{"order_id": formatID(o.ID)},
	})
}

// Verify asks the provider for the charge state of reference and applies it.
// Orders whose payment already left pending are returned without a provider
// call.
func (r *Reconciler) Verify(ctx context.Context, userID int64, reference string) (*order.Order, error) {
	if IsDeliveryFeeReference(reference) {
		return r.VerifyDeliveryFee(ctx, userID, reference)
	}
	ctx, span := r.tracer.Start(ctx, "payment.Verify", trace.WithAttributes(attribute.String("payment.reference", reference)))
	defer span.End()

	o, err := r.orders.GetByReference(ctx, reference)
	if err != nil {
		return nil, err
	}
	if o.UserID != userID {
		return nil, order.ErrNotFound
	}
	if o.PaymentStatus != order.PaymentPending {
		return o, nil
	}

	charge, err := r.gateway.VerifyCharge(ctx, reference)
	if err != nil {
		return nil, err
	}
	switch charge.Status {
	case ChargeSuccess:
		if err := checkCharge(charge.Amount, charge.Currency, o.Total, o.Currency); err != nil {
			zctx.From(ctx).Warn("Charge does not match order",
				zap.String("reference", reference),
				zap.Int64("charged", charge.Amount),
				zap.String("currency", charge.Currency),
				zap.Int64("expected", MinorUnits(o.Total)),
			)
			return nil, err
		}
		if _, err := r.complete(ctx, reference); err != nil {
			return nil, err
		}
	case ChargeFailed, ChargeAbandoned:
		if _, err := r.fail(ctx, reference); err != nil {
			return nil, err
		}
	default:
		return o, nil
	}
	return r.orders.GetByReference(ctx, reference)
}

// HandleEvent applies an authenticated webhook event. Repeated events are
// reported as duplicates and change nothing.
func (r *Reconciler) HandleEvent(ctx context.Context, ev Event) (Outcome, error) {
	ctx, span := r.tracer.Start(ctx, "payment.HandleEvent", trace.WithAttributes(
		attribute.String("payment.event", string(ev.Type)),
		attribute.String("payment.reference", ev.Reference),
	))
	defer span.End()

	if IsDeliveryFeeReference(ev.Reference) {
		return r.handleDeliveryFeeEvent(ctx, ev)
	}

	switch ev.Type {
	case EventChargeSuccess:
		o, err := r.orders.GetByReference(ctx, ev.Reference)
		if err != nil {
			return OutcomeIgnored, err
		}
		if ev.Amount != 0 {
			if err := checkCharge(ev.Amount, ev.Currency, o.Total, o.Currency); err != nil {
				return OutcomeIgnored, err
			}
		}
		return r.complete(ctx, ev.Reference)
	case EventChargeFailed:
		return r.fail(ctx, ev.Reference)
	default:
		return OutcomeIgnored, nil
	}
}

// complete marks the payment completed, empties the cart and queues the
// confirmation exactly once.
func (r *Reconciler) complete(ctx context.Context, reference string) (Outcome, error) {
	outcome := OutcomeApplied
	err := r.tx.InTx(ctx, func(ctx context.Context) error {
		o, err := r.orders.LockByReference(ctx, reference)
		if err != nil {
			return err
		}
		if o.PaymentStatus == order.PaymentCompleted {
			outcome = OutcomeDuplicate
			return nil
		}
		if o.PaymentStatus != order.PaymentPending || o.DeletedAt != nil {
			zctx.From(ctx).Error("Charge succeeded for inactive order",
				zap.Int64("order_id", o.ID),
				zap.String("reference", reference),
				zap.String("payment_status", string(o.PaymentStatus)),
				zap.Bool("deleted", o.DeletedAt != nil),
			)
			outcome = OutcomeIgnored
			return nil
		}

		now := r.now()
		ok, err := r.orders.MarkPaid(ctx, o.ID, now)
		if err != nil {
			return errors.Wrap(err, "mark paid")
		}
		if !ok {
			outcome = OutcomeDuplicate
			return nil
		}
		if err := r.carts.ClearItems(ctx, o.CartID); err != nil {
			return errors.Wrap(err, "clear cart")
		}
		if err := r.carts.SetTotal(ctx, o.CartID, decimal.Zero, now); err != nil {
			return errors.Wrap(err, "reset cart total")
		}
		if o.ConfirmationSent {
			return nil
		}
		sent, err := r.orders.MarkConfirmationSent(ctx, o.ID)
		if err != nil {
			return errors.Wrap(err, "mark confirmation sent")
		}
		if !sent {
			return nil
		}
		return r.outbox.Enqueue(ctx, outbox.NewEvent(outbox.KindOrderConfirmed, o.ID, now))
	})
	if err != nil {
		return OutcomeIgnored, err
	}
	r.record(ctx, "completed", outcome)
	return outcome, nil
}

// fail marks the payment failed and returns the order's stock.
func (r *Reconciler) fail(ctx context.Context, reference string) (Outcome, error) {
	outcome := OutcomeApplied
	err := r.tx.InTx(ctx, func(ctx context.Context) error {
		o, err := r.orders.LockByReference(ctx, reference)
		if err != nil {
			return err
		}
		switch {
		case o.PaymentStatus == order.PaymentFailed:
			outcome = OutcomeDuplicate
			return nil
		case o.PaymentStatus != order.PaymentPending:
			outcome = OutcomeIgnored
			return nil
		case o.DeletedAt != nil:
			zctx.From(ctx).Info("Charge failed for inactive order",
				zap.Int64("order_id", o.ID),
				zap.String("reference", reference),
			)
			outcome = OutcomeIgnored
			return nil
		}

		now := r.now()
		ok, err := r.orders.MarkPaymentFailed(ctx, o.ID, now)
		if err != nil {
			return errors.Wrap(err, "mark failed")
		}
		if !ok {
			outcome = OutcomeDuplicate
			return nil
		}
		if _, err := order.ReleaseStock(ctx, r.orders, r.ledger, o, now); err != nil {
			return err
		}
		return r.outbox.Enqueue(ctx, outbox.NewEvent(outbox.KindPaymentFailed, o.ID, now))
	})
	if err != nil {
		return OutcomeIgnored, err
	}
	r.record(ctx, "failed", outcome)
	return outcome, nil
}

func (r *Reconciler) ownedOrder(ctx context.Context, userID, orderID int64) (*order.Order, error) {
	o, err := r.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.UserID != userID || o.DeletedAt != nil {
		return nil, order.ErrNotFound
	}
	return o, nil
}

func (r *Reconciler) record(ctx context.Context, transition string, outcome Outcome) {
	r.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("transition", transition),
		attribute.String("outcome", string(outcome)),
	))
}

// checkCharge rejects a successful charge that was taken in another currency
// or for less than want.
func checkCharge(charged int64, currency string, want decimal.Decimal, orderCurrency string) error {
	if !strings.EqualFold(currency, orderCurrency) {
		return fault.Conflict("charged currency %q does not match order currency %q", currency, orderCurrency)
	}
	if expected := MinorUnits(want); charged < expected {
		return fault.Conflict("charged amount %d is below expected amount %d", charged, expected)
	}
	return nil
}
