package notify

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"

	"github.com/xenking/storefront-fulfillment/internal/domain/identity"
	"github.com/xenking/storefront-fulfillment/internal/domain/order"
	"github.com/xenking/storefront-fulfillment/internal/domain/outbox"
)

// TxRunner runs fn in a single database transaction carried by ctx.
type TxRunner interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// WorkerConfig tunes outbox polling.
type WorkerConfig struct {
	Interval    time.Duration
	Lease       time.Duration
	BatchSize   int
	MaxAttempts int
}

// WorkerDeps holds the collaborators of Worker.
type WorkerDeps struct {
	Tx        TxRunner
	Events    outbox.Repository
	Orders    order.Repository
	Directory identity.Directory
	Notifier  Notifier
	Clock     func() time.Time
	Meter     metric.MeterProvider
}

// Worker drains the outbox and hands each event to the Notifier. Delivery is
// at least once; consumers deduplicate on the event id.
type Worker struct {
	tx        TxRunner
	events    outbox.Repository
	orders    order.Repository
	directory identity.Directory
	notifier  Notifier
	now       func() time.Time
	cfg       WorkerConfig

	delivered metric.Int64Counter
}

// NewWorker creates a Worker.
func NewWorker(d WorkerDeps, cfg WorkerConfig) (*Worker, error) {
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	if cfg.Lease <= 0 {
		cfg.Lease = 30 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 10
	}
	if d.Clock == nil {
		d.Clock = time.Now
	}
	if d.Meter == nil {
		d.Meter = metricnoop.NewMeterProvider()
	}
	delivered, err := d.Meter.Meter("storefront/notify").Int64Counter("notifications.delivered")
	if err != nil {
		return nil, errors.Wrap(err, "notifications.delivered")
	}
	return &Worker{
		tx:        d.Tx,
		events:    d.Events,
		orders:    d.Orders,
		directory: d.Directory,
		notifier:  d.Notifier,
		now:       d.Clock,
		cfg:       cfg,
		delivered: delivered,
	}, nil
}

// Run polls the outbox until ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := w.Flush(ctx); err != nil {
				zctx.From(ctx).Error("Flush outbox", zap.Error(err))
			}
		}
	}
}

// Flush delivers one batch of due events and returns how many were sent.
func (w *Worker) Flush(ctx context.Context) (int, error) {
	var batch []outbox.Event
	err := w.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		batch, err = w.events.Claim(ctx, w.now(), w.cfg.Lease, w.cfg.BatchSize, w.cfg.MaxAttempts)
		return err
	})
	if err != nil {
		return 0, errors.Wrap(err, "claim events")
	}

	var sent int
	for _, ev := range batch {
		lg := zctx.From(ctx).With(
			zap.String("event_id", ev.ID),
			zap.String("kind", string(ev.Kind)),
			zap.Int64("order_id", ev.OrderID),
		)
		if err := w.deliver(ctx, ev); err != nil {
			lg.Warn("Notification delivery failed", zap.Int("attempt", ev.Attempts), zap.Error(err))
			if err := w.events.MarkFailed(ctx, ev.ID, err.Error()); err != nil {
				lg.Error("Mark event failed", zap.Error(err))
			}
			w.delivered.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", string(ev.Kind)), attribute.Bool("ok", false)))
			continue
		}
		if err := w.events.MarkSent(ctx, ev.ID, w.now()); err != nil {
			lg.Error("Mark event sent", zap.Error(err))
			continue
		}
		w.delivered.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", string(ev.Kind)), attribute.Bool("ok", true)))
		sent++
	}
	return sent, nil
}

func (w *Worker) deliver(ctx context.Context, ev outbox.Event) error {
	o, err := w.orders.Get(ctx, ev.OrderID)
	if err != nil {
		return errors.Wrap(err, "get order")
	}
	user, err := w.directory.GetUser(ctx, o.UserID)
	if err != nil {
		return errors.Wrap(err, "get user")
	}
	return w.notifier.Notify(ctx, Notification{
		EventID: ev.ID,
		Kind:    ev.Kind,
		Email:   user.Email,
		Order:   o,
	})
}
