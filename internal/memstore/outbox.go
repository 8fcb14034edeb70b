package memstore

import (
	"context"
	"time"

	"github.com/xenking/storefront-fulfillment/internal/domain/outbox"
)

// Outbox implements outbox.Repository.
type Outbox struct{ s *Store }

func (r Outbox) Enqueue(ctx context.Context, e outbox.Event) error {
	r.s.view(ctx, func() {
		r.s.state.outbox = append(r.s.state.outbox, outboxRow{event: e})
	})
	return nil
}

func (r Outbox) Claim(ctx context.Context, now time.Time, lease time.Duration, limit, maxAttempts int) ([]outbox.Event, error) {
	var out []outbox.Event
	r.s.view(ctx, func() {
		for i := range r.s.state.outbox {
			row := &r.s.state.outbox[i]
			if len(out) == limit {
				return
			}
			if row.sentAt != nil || row.event.Attempts >= maxAttempts || now.Before(row.leaseUntil) {
				continue
			}
			row.leaseUntil = now.Add(lease)
			row.event.Attempts++
			out = append(out, row.event)
		}
	})
	return out, nil
}

func (r Outbox) MarkSent(ctx context.Context, id string, at time.Time) error {
	r.s.view(ctx, func() {
		for i := range r.s.state.outbox {
			if r.s.state.outbox[i].event.ID == id {
				r.s.state.outbox[i].sentAt = ptr(at)
			}
		}
	})
	return nil
}

func (r Outbox) MarkFailed(ctx context.Context, id string, reason string) error {
	r.s.view(ctx, func() {
		for i := range r.s.state.outbox {
			if r.s.state.outbox[i].event.ID == id {
				r.s.state.outbox[i].lastError = reason
			}
		}
	})
	return nil
}

// Pending returns the ids of events not yet delivered.
func (s *Store) Pending() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for _, row := range s.state.outbox {
		if row.sentAt == nil {
			ids = append(ids, row.event.ID)
		}
	}
	return ids
}
