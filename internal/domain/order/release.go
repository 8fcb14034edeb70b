package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/storefront-fulfillment/internal/domain/stock"
)

// ReleaseStock credits the order's stock back to the ledger unless an earlier
// failure, cancellation or expiry already did. It must run inside the
// transaction that holds the order lock. It reports whether stock moved.
func ReleaseStock(ctx context.Context, orders Repository, ledger stock.Ledger, o *Order, at time.Time) (bool, error) {
	if o.StockReleasedAt != nil {
		return false, nil
	}
	ok, err := orders.MarkStockReleased(ctx, o.ID, at)
	if err != nil {
		return false, errors.Wrap(err, "mark stock released")
	}
	if !ok {
		return false, nil
	}
	for _, m := range o.Movements() {
		if err := ledger.Credit(ctx, m.Key, m.Quantity); err != nil {
			return false, errors.Wrapf(err, "credit %s", m.Key)
		}
	}
	o.StockReleasedAt = &at
	return true, nil
}
