// Package order creates orders atomically against the stock ledger and
// serves their lifecycle: lookup, listing and cancellation.
package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/storefront-fulfillment/internal/domain/cart"
	"github.com/xenking/storefront-fulfillment/internal/domain/catalog"
	"github.com/xenking/storefront-fulfillment/internal/domain/fault"
	"github.com/xenking/storefront-fulfillment/internal/domain/identity"
	"github.com/xenking/storefront-fulfillment/internal/domain/outbox"
	"github.com/xenking/storefront-fulfillment/internal/domain/pricing"
	"github.com/xenking/storefront-fulfillment/internal/domain/stock"
)

// TxRunner runs fn in a single database transaction carried by ctx.
type TxRunner interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Carts resolves the cart an order is placed from.
type Carts interface {
	Get(ctx context.Context, cartID int64) (*cart.Cart, error)
}

// Pricer validates submitted pricing for a destination country.
type Pricer interface {
	Validate(ctx context.Context, req pricing.Request, country string) (*pricing.Result, error)
}

// CreateRequest is a checkout submission.
type CreateRequest struct {
	UserID            int64
	CartID            int64
	ShippingAddressID int64
	BillingAddressID  int64
	// Reference is the payment reference; generated when empty.
	Reference string
	Pricing   pricing.Request
}

// Deps holds the collaborators of Service.
type Deps struct {
	Tx        TxRunner
	Directory identity.Directory
	Carts     Carts
	Pricer    Pricer
	Catalog   catalog.Catalog
	Ledger    stock.Ledger
	Orders    Repository
	Outbox    outbox.Repository
	Clock     func() time.Time
	Tracer    trace.TracerProvider
	Meter     metric.MeterProvider
}

// Service implements order creation and lifecycle operations.
type Service struct {
	tx        TxRunner
	directory identity.Directory
	carts     Carts
	pricer    Pricer
	catalog   catalog.Catalog
	ledger    stock.Ledger
	orders    Repository
	outbox    outbox.Repository
	now       func() time.Time
	tracer    trace.Tracer

	created   metric.Int64Counter
	rejected  metric.Int64Counter
	cancelled metric.Int64Counter
}

// NewService creates an order Service.
func NewService(d Deps) (*Service, error) {
	if d.Clock == nil {
		d.Clock = time.Now
	}
	if d.Tracer == nil {
		d.Tracer = tracenoop.NewTracerProvider()
	}
	if d.Meter == nil {
		d.Meter = metricnoop.NewMeterProvider()
	}
	meter := d.Meter.Meter("storefront/order")
	s := &Service{
		tx:        d.Tx,
		directory: d.Directory,
		carts:     d.Carts,
		pricer:    d.Pricer,
		catalog:   d.Catalog,
		ledger:    d.Ledger,
		orders:    d.Orders,
		outbox:    d.Outbox,
		now:       d.Clock,
		tracer:    d.Tracer.Tracer("storefront/order"),
	}
	var err error
	if s.created, err = meter.Int64Counter("orders.created"); err != nil {
		return nil, errors.Wrap(err, "orders.created")
	}
	if s.rejected, err = meter.Int64Counter("orders.rejected"); err != nil {
		return nil, errors.Wrap(err, "orders.rejected")
	}
	if s.cancelled, err = meter.Int64Counter("orders.cancelled"); err != nil {
		return nil, errors.Wrap(err, "orders.cancelled")
	}
	return s, nil
}

// Create validates the request and, in a single transaction, debits stock
// for every line and persists the order. Any failure leaves no trace.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Order, error) {
	ctx, span := s.tracer.Start(ctx, "order.Create")
	defer span.End()

	if req.Reference == "" {
		req.Reference = "ORD-" + ulid.Make().String()
	}

	var out *Order
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		o, err := s.create(ctx, req)
		if err != nil {
			return err
		}
		out = o
		return nil
	})
	if err != nil {
		s.rejected.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", rejectReason(err))))
		span.RecordError(err)
		return nil, err
	}

	s.created.Add(ctx, 1, metric.WithAttributes(attribute.Bool("international", out.International)))
	zctx.From(ctx).Info("Order created",
		zap.Int64("order_id", out.ID),
		zap.String("reference", out.Reference),
		zap.String("total", out.Total.StringFixed(2)),
		zap.String("currency", out.Currency),
	)
	return out, nil
}

func (s *Service) create(ctx context.Context, req CreateRequest) (*Order, error) {
	if _, err := s.directory.GetUser(ctx, req.UserID); err != nil {
		return nil, err
	}
	shipping, err := s.directory.GetAddress(ctx, req.ShippingAddressID, req.UserID)
	if err != nil {
		return nil, err
	}
	if _, err := s.directory.GetAddress(ctx, req.BillingAddressID, req.UserID); err != nil {
		return nil, err
	}
	c, err := s.carts.Get(ctx, req.CartID)
	if err != nil {
		return nil, err
	}
	if c.UserID != req.UserID {
		return nil, cart.ErrCartNotFound
	}

	priced, err := s.pricer.Validate(ctx, req.Pricing, shipping.Country)
	if err != nil {
		return nil, err
	}

	if _, err := s.orders.GetByReference(ctx, req.Reference); err == nil {
		return nil, fault.Conflict("reference %q already used", req.Reference)
	} else if !errors.Is(err, ErrNotFound) {
		return nil, errors.Wrap(err, "check reference")
	}

	items, err := s.snapshot(ctx, priced.Lines)
	if err != nil {
		return nil, err
	}

	o := &Order{
		UserID:            req.UserID,
		CartID:            c.ID,
		ShippingAddressID: shipping.ID,
		BillingAddressID:  req.BillingAddressID,
		Country:           shipping.Country,
		International:     priced.International,
		Reference:         req.Reference,
		Currency:          req.Pricing.Currency,
		ExchangeRate:      priced.Rate,
		DeliveryOption:    req.Pricing.DeliveryOption,
		Subtotal:          priced.Subtotal,
		Discount:          priced.Discount,
		Tax:               priced.Tax,
		ShippingCost:      priced.Shipping,
		Total:             priced.Total,
		PaymentStatus:     PaymentPending,
		Status:            StatusPending,
		Items:             items,
	}

	for _, m := range o.Movements() {
		if err := s.ledger.Debit(ctx, m.Key, m.Quantity); err != nil {
			return nil, err
		}
	}
	if err := s.orders.Create(ctx, o); err != nil {
		return nil, errors.Wrap(err, "create order")
	}
	if o.International {
		if err := s.outbox.Enqueue(ctx, outbox.NewEvent(outbox.KindDeliveryFeeRequested, o.ID, s.now())); err != nil {
			return nil, errors.Wrap(err, "enqueue delivery fee request")
		}
	}
	return o, nil
}

// snapshot freezes catalog data into order items. Single lines without a
// size resolve to the variant's only stocked size.
func (s *Service) snapshot(ctx context.Context, lines []pricing.Line) ([]Item, error) {
	items := make([]Item, 0, len(lines))
	for _, line := range lines {
		item := Item{Quantity: line.Quantity, Price: line.UnitPrice}
		if line.IsBundle() {
			item.BundleID = line.Bundle.ID
			item.ProductName = line.Bundle.Name
			item.Bundle = make([]BundlePick, 0, len(line.Picks))
			for i, p := range line.Picks {
				size, err := s.catalog.GetSize(ctx, p.SizeID)
				if err != nil {
					return nil, err
				}
				v := line.PickVariants[i]
				item.Bundle = append(item.Bundle, BundlePick{
					VariantID:   v.ID,
					SizeID:      size.ID,
					ProductName: v.ProductName,
					ColorName:   v.ColorName,
					SizeName:    size.Name,
					Image:       v.Image,
				})
			}
			items = append(items, item)
			continue
		}

		sizeID := line.SizeID
		if sizeID == 0 {
			units, err := s.ledger.ListByVariant(ctx, line.VariantID)
			if err != nil {
				return nil, errors.Wrap(err, "list stock units")
			}
			if len(units) != 1 {
				return nil, fault.Validation("variant %d is stocked in %d sizes, size required", line.VariantID, len(units))
			}
			sizeID = units[0].SizeID
		}
		size, err := s.catalog.GetSize(ctx, sizeID)
		if err != nil {
			return nil, err
		}
		item.VariantID = line.Variant.ID
		item.SizeID = size.ID
		item.ProductName = line.Variant.ProductName
		item.ColorName = line.Variant.ColorName
		item.SizeName = size.Name
		items = append(items, item)
	}
	return items, nil
}

// Get returns a visible order owned by userID.
func (s *Service) Get(ctx context.Context, userID, orderID int64) (*Order, error) {
	o, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.UserID != userID || o.DeletedAt != nil {
		return nil, ErrNotFound
	}
	return o, nil
}

// GetByReference returns a visible order owned by userID by its payment reference.
func (s *Service) GetByReference(ctx context.Context, userID int64, reference string) (*Order, error) {
	o, err := s.orders.GetByReference(ctx, reference)
	if err != nil {
		return nil, err
	}
	if o.UserID != userID || o.DeletedAt != nil {
		return nil, ErrNotFound
	}
	return o, nil
}

// List returns the visible orders of userID, newest first.
func (s *Service) List(ctx context.Context, userID int64) ([]Order, error) {
	orders, err := s.orders.ListByUser(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	return orders, nil
}

// Cancel cancels an order that has not shipped and returns its stock.
func (s *Service) Cancel(ctx context.Context, userID, orderID int64) (*Order, error) {
	ctx, span := s.tracer.Start(ctx, "order.Cancel", trace.WithAttributes(attribute.Int64("order.id", orderID)))
	defer span.End()

	var out *Order
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		o, err := s.orders.Lock(ctx, orderID)
		if err != nil {
			return err
		}
		if o.UserID != userID {
			return ErrNotFound
		}
		if o.DeletedAt != nil {
			return fault.Conflict("order %d is no longer active", o.ID)
		}
		if o.Status != StatusPending && o.Status != StatusProcessing {
			return fault.Conflict("order %d cannot be cancelled in status %s", o.ID, o.Status)
		}

		now := s.now()
		if _, err := ReleaseStock(ctx, s.orders, s.ledger, o, now); err != nil {
			return err
		}
		if err := s.orders.Cancel(ctx, o.ID, now); err != nil {
			return errors.Wrap(err, "cancel order")
		}
		o.Status = StatusCancelled
		o.DeletedAt = &now
		out = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.cancelled.Add(ctx, 1)
	zctx.From(ctx).Info("Order cancelled", zap.Int64("order_id", out.ID))
	return out, nil
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, fault.ErrValidation):
		return "validation"
	case errors.Is(err, fault.ErrNotFound):
		return "not_found"
	case errors.Is(err, fault.ErrConflict):
		return "conflict"
	default:
		return "internal"
	}
}
