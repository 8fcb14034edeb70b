// Package compensation expires orders left unpaid past a grace period and
// returns their stock to the ledger.
package compensation

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"

	"github.com/xenking/storefront-fulfillment/internal/domain/order"
	"github.com/xenking/storefront-fulfillment/internal/domain/stock"
)

// DefaultGrace is how long an unpaid order keeps its stock.
const DefaultGrace = 48 * time.Hour

// TxRunner runs fn in a single database transaction carried by ctx.
type TxRunner interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Carts empties carts still attached to expired orders.
type Carts interface {
	ClearItems(ctx context.Context, cartID int64) error
	SetTotal(ctx context.Context, cartID int64, total decimal.Decimal, at time.Time) error
}

// Locker provides a lease shared by every process running the scheduler.
type Locker interface {
	// TryLock acquires key for ttl. It reports false when another holder owns it.
	TryLock(ctx context.Context, key string, ttl time.Duration) (release func(context.Context) error, ok bool, err error)
}

// NopLocker always grants the lock. It suits single-process deployments.
type NopLocker struct{}

// TryLock implements Locker.
func (NopLocker) TryLock(context.Context, string, time.Duration) (func(context.Context) error, bool, error) {
	return func(context.Context) error { return nil }, true, nil
}

// Config tunes the sweep.
type Config struct {
	Grace     time.Duration
	Interval  time.Duration
	BatchSize int
	// LockTTL bounds the sweep lease. Defaults to Interval.
	LockTTL time.Duration
}

// Report summarises one sweep.
type Report struct {
	Scanned int
	Expired int
	Failed  int
}

// Deps holds the collaborators of Scheduler.
type Deps struct {
	Tx     TxRunner
	Orders order.Repository
	Carts  Carts
	Ledger stock.Ledger
	Locker Locker
	Clock  func() time.Time
	Meter  metric.MeterProvider
}

// Scheduler runs the periodic expiry sweep.
type Scheduler struct {
	tx     TxRunner
	orders order.Repository
	carts  Carts
	ledger stock.Ledger
	locker Locker
	now    func() time.Time
	cfg    Config

	expired metric.Int64Counter
}

const lockKey = "storefront:compensation:sweep"

// NewScheduler creates a Scheduler.
func NewScheduler(d Deps, cfg Config) (*Scheduler, error) {
	if cfg.Grace <= 0 {
		cfg.Grace = DefaultGrace
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = cfg.Interval
	}
	if d.Locker == nil {
		d.Locker = NopLocker{}
	}
	if d.Clock == nil {
		d.Clock = time.Now
	}
	if d.Meter == nil {
		d.Meter = metricnoop.NewMeterProvider()
	}
	expired, err := d.Meter.Meter("storefront/compensation").Int64Counter("orders.expired")
	if err != nil {
		return nil, errors.Wrap(err, "orders.expired")
	}
	return &Scheduler{
		tx:      d.Tx,
		orders:  d.Orders,
		carts:   d.Carts,
		ledger:  d.Ledger,
		locker:  d.Locker,
		now:     d.Clock,
		cfg:     cfg,
		expired: expired,
	}, nil
}

// Run sweeps on every interval tick until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	lg := zctx.From(ctx)
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	lg.Info("Compensation scheduler started",
		zap.Duration("interval", s.cfg.Interval),
		zap.Duration("grace", s.cfg.Grace),
	)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := s.SweepLocked(ctx); err != nil {
				lg.Error("Compensation sweep failed", zap.Error(err))
			}
		}
	}
}

// SweepLocked runs Sweep while holding the cross-process lease. It returns
// an empty report when another process holds it.
func (s *Scheduler) SweepLocked(ctx context.Context) (Report, error) {
	release, ok, err := s.locker.TryLock(ctx, lockKey, s.cfg.LockTTL)
	if err != nil {
		return Report{}, errors.Wrap(err, "acquire sweep lock")
	}
	if !ok {
		zctx.From(ctx).Debug("Sweep lock held elsewhere")
		return Report{}, nil
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			zctx.From(ctx).Warn("Release sweep lock", zap.Error(err))
		}
	}()
	return s.Sweep(ctx)
}

// Sweep expires every unpaid order older than the grace period. Each order is
// handled in its own transaction; a failure is logged and the sweep moves on.
func (s *Scheduler) Sweep(ctx context.Context) (Report, error) {
	lg := zctx.From(ctx)
	cutoff := s.now().Add(-s.cfg.Grace)

	var report Report
	for {
		ids, err := s.orders.ListStale(ctx, cutoff, s.cfg.BatchSize)
		if err != nil {
			return report, errors.Wrap(err, "list stale orders")
		}
		progressed := false
		for _, id := range ids {
			report.Scanned++
			expired, err := s.expire(ctx, id, cutoff)
			if err != nil {
				report.Failed++
				lg.Error("Expire order", zap.Int64("order_id", id), zap.Error(err))
				continue
			}
			if expired {
				report.Expired++
				progressed = true
			}
		}
		if len(ids) < s.cfg.BatchSize || !progressed {
			break
		}
	}

	if report.Expired > 0 {
		s.expired.Add(ctx, int64(report.Expired))
	}
	lg.Info("Compensation sweep finished",
		zap.Int("scanned", report.Scanned),
		zap.Int("expired", report.Expired),
		zap.Int("failed", report.Failed),
	)
	return report, nil
}

func (s *Scheduler) expire(ctx context.Context, id int64, cutoff time.Time) (bool, error) {
	var expired bool
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		o, err := s.orders.Lock(ctx, id)
		if err != nil {
			return err
		}
		// Re-check under the lock: a payment may have landed since listing.
		if o.DeletedAt != nil || o.PaymentStatus == order.PaymentCompleted || !o.CreatedAt.Before(cutoff) {
			return nil
		}

		now := s.now()
		if _, err := order.ReleaseStock(ctx, s.orders, s.ledger, o, now); err != nil {
			return err
		}
		if err := s.carts.ClearItems(ctx, o.CartID); err != nil {
			return errors.Wrap(err, "clear cart")
		}
		if err := s.carts.SetTotal(ctx, o.CartID, decimal.Zero, now); err != nil {
			return errors.Wrap(err, "reset cart total")
		}
		if err := s.orders.SoftDelete(ctx, o.ID, now); err != nil {
			return errors.Wrap(err, "soft delete")
		}
		expired = true
		return nil
	})
	return expired, err
}
