package memstore

import (
	"cmp"
	"context"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/storefront-fulfillment/internal/domain/order"
)

// Orders implements order.Repository.
type Orders struct{ s *Store }

func (r Orders) Create(ctx context.Context, o *order.Order) error {
	r.s.view(ctx, func() {
		now := r.s.now()
		o.ID = r.s.id()
		o.CreatedAt, o.UpdatedAt = now, now
		for i := range o.Items {
			o.Items[i].ID = r.s.id()
			o.Items[i].OrderID = o.ID
		}
		r.s.state.orders[o.ID] = cloneOrder(*o)
	})
	return nil
}

func (r Orders) Get(ctx context.Context, id int64) (*order.Order, error) {
	var (
		out order.Order
		ok  bool
	)
	r.s.view(ctx, func() {
		out, ok = r.s.state.orders[id]
		out = cloneOrder(out)
	})
	if !ok {
		return nil, order.ErrNotFound
	}
	return &out, nil
}

func (r Orders) GetByReference(ctx context.Context, reference string) (*order.Order, error) {
	var out *order.Order
	r.s.view(ctx, func() {
		for _, o := range r.s.state.orders {
			if o.Reference == reference {
				oo := cloneOrder(o)
				out = &oo
				return
			}
		}
	})
	if out == nil {
		return nil, order.ErrNotFound
	}
	return out, nil
}

func (r Orders) ListByUser(ctx context.Context, userID int64) ([]order.Order, error) {
	var out []order.Order
	r.s.view(ctx, func() {
		for _, o := range r.s.state.orders {
			if o.UserID == userID && o.DeletedAt == nil {
				out = append(out, cloneOrder(o))
			}
		}
	})
	slices.SortFunc(out, func(a, b order.Order) int { return cmp.Compare(b.ID, a.ID) })
	return out, nil
}

func (r Orders) Lock(ctx context.Context, id int64) (*order.Order, error) {
	return r.Get(ctx, id)
}

func (r Orders) LockByReference(ctx context.Context, reference string) (*order.Order, error) {
	return r.GetByReference(ctx, reference)
}

// update applies fn to the order when cond holds and reports whether it did.
func (r Orders) update(ctx context.Context, id int64, cond func(*order.Order) bool, fn func(*order.Order)) (bool, error) {
	var (
		applied bool
		err     error
	)
	r.s.view(ctx, func() {
		o, ok := r.s.state.orders[id]
		if !ok {
			err = order.ErrNotFound
			return
		}
		if cond != nil && !cond(&o) {
			return
		}
		fn(&o)
		o.UpdatedAt = r.s.now()
		r.s.state.orders[id] = o
		applied = true
	})
	return applied, err
}

func (r Orders) MarkPaid(ctx context.Context, id int64, at time.Time) (bool, error) {
	return r.update(ctx, id,
		func(o *order.Order) bool { return o.PaymentStatus == order.PaymentPending },
		func(o *order.Order) {
			o.PaymentStatus = order.PaymentCompleted
			o.Status = order.StatusProcessing
			o.PaidAt = ptr(at)
		})
}

func (r Orders) MarkPaymentFailed(ctx context.Context, id int64, _ time.Time) (bool, error) {
	return r.update(ctx, id,
		func(o *order.Order) bool { return o.PaymentStatus == order.PaymentPending },
		func(o *order.Order) { o.PaymentStatus = order.PaymentFailed })
}

func (r Orders) MarkConfirmationSent(ctx context.Context, id int64) (bool, error) {
	return r.update(ctx, id,
		func(o *order.Order) bool { return !o.ConfirmationSent },
		func(o *order.Order) { o.ConfirmationSent = true })
}

func (r Orders) MarkStockReleased(ctx context.Context, id int64, at time.Time) (bool, error) {
	return r.update(ctx, id,
		func(o *order.Order) bool { return o.StockReleasedAt == nil },
		func(o *order.Order) { o.StockReleasedAt = ptr(at) })
}

func (r Orders) Cancel(ctx context.Context, id int64, at time.Time) error {
	_, err := r.update(ctx, id, nil, func(o *order.Order) {
		o.Status = order.StatusCancelled
		o.DeletedAt = ptr(at)
	})
	return err
}

func (r Orders) SoftDelete(ctx context.Context, id int64, at time.Time) error {
	_, err := r.update(ctx, id, nil, func(o *order.Order) { o.DeletedAt = ptr(at) })
	return err
}

func (r Orders) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]int64, error) {
	var ids []int64
	r.s.view(ctx, func() {
		for _, o := range r.s.state.orders {
			if o.DeletedAt != nil || o.PaymentStatus == order.PaymentCompleted || !o.CreatedAt.Before(cutoff) {
				continue
			}
			ids = append(ids, o.ID)
		}
	})
	slices.Sort(ids)
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (r Orders) SetDeliveryFee(ctx context.Context, id int64, fee decimal.Decimal, _ time.Time) error {
	_, err := r.update(ctx, id, nil, func(o *order.Order) { o.DeliveryFee = fee })
	return err
}

func (r Orders) MarkDeliveryFeePaid(ctx context.Context, id int64, at time.Time) (bool, error) {
	return r.update(ctx, id,
		func(o *order.Order) bool { return !o.DeliveryFeePaid },
		func(o *order.Order) {
			o.DeliveryFeePaid = true
			o.DeliveryFeePaidAt = ptr(at)
		})
}
