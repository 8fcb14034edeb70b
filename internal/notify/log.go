package notify

import (
	"context"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// LogNotifier writes notifications to the request logger. It is used when no
// broker is configured.
type LogNotifier struct{}

// Notify implements Notifier.
func (LogNotifier) Notify(ctx context.Context, n Notification) error {
	zctx.From(ctx).Info("Notification",
		zap.String("event_id", n.EventID),
		zap.String("kind", string(n.Kind)),
		zap.Int64("order_id", n.Order.ID),
		zap.String("email", n.Email),
		zap.String("reference", n.Order.Reference),
	)
	return nil
}
