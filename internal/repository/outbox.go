package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront-fulfillment/internal/domain/outbox"
)

const (
	enqueueEventSQL = `INSERT INTO notification_outbox (id, kind, order_id, created_at) VALUES ($1, $2, $3, $4)`

	// Concurrent workers skip each other's rows; attempts grow at claim time
	// so a crashing delivery still counts.
	claimEventsSQL = `UPDATE notification_outbox
		SET lease_until = $2, attempts = attempts + 1
		WHERE id IN (
			SELECT id FROM notification_outbox
			WHERE sent_at IS NULL AND lease_until <= $1 AND attempts < $4
			ORDER BY id
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, kind, order_id, attempts, created_at`

	markEventSentSQL = `UPDATE notification_outbox SET sent_at = $2 WHERE id = $1`

	markEventFailedSQL = `UPDATE notification_outbox SET last_error = $2 WHERE id = $1`
)

var _ outbox.Repository = (*OutboxRepository)(nil)

// OutboxRepository implements outbox.Repository backed by PostgreSQL.
type OutboxRepository struct {
	pool *pgxpool.Pool
}

// NewOutboxRepository returns an OutboxRepository that uses the given pool.
func NewOutboxRepository(pool *pgxpool.Pool) *OutboxRepository {
	return &OutboxRepository{pool: pool}
}

func (r *OutboxRepository) Enqueue(ctx context.Context, e outbox.Event) error {
	_, err := conn(ctx, r.pool).Exec(ctx, enqueueEventSQL, e.ID, string(e.Kind), e.OrderID, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("enqueueing %s for order %d: %w", e.Kind, e.OrderID, err)
	}
	return nil
}

func (r *OutboxRepository) Claim(ctx context.Context, now time.Time, lease time.Duration, limit, maxAttempts int) ([]outbox.Event, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, claimEventsSQL, now, now.Add(lease), limit, maxAttempts)
	if err != nil {
		return nil, fmt.Errorf("claiming outbox events: %w", err)
	}
	events, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (outbox.Event, error) {
		var (
			e    outbox.Event
			kind string
		)
		err := row.Scan(&e.ID, &kind, &e.OrderID, &e.Attempts, &e.CreatedAt)
		e.Kind = outbox.Kind(kind)
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("claiming outbox events: %w", err)
	}
	return events, nil
}

func (r *OutboxRepository) MarkSent(ctx context.Context, id string, at time.Time) error {
	if _, err := conn(ctx, r.pool).Exec(ctx, markEventSentSQL, id, at); err != nil {
		return fmt.Errorf("marking event %s sent: %w", id, err)
	}
	return nil
}

func (r *OutboxRepository) MarkFailed(ctx context.Context, id string, reason string) error {
	if _, err := conn(ctx, r.pool).Exec(ctx, markEventFailedSQL, id, reason); err != nil {
		return fmt.Errorf("recording failure of event %s: %w", id, err)
	}
	return nil
}
