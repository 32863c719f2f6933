package ports

import (
	"context"
	"time"

	"github.com/viralforge/mesh/services/integrations/M74-promotion-relay/internal/domain"
)

// RetryQueue owns the pending, dead-letter and sent-log lists together with
// the stats projection. Every mutating operation is atomic against the
// backing store so concurrent drivers across replicas cannot double-checkout
// an event or let the counters drift from list cardinality.
type RetryQueue interface {
	// Enqueue appends a new event to pending and increments the pending stat.
	Enqueue(ctx context.Context, ev domain.PromotionEvent) error
	// DrainDue checks out up to maxBatch events whose next_attempt_at is due,
	// in arrival order. Checked-out events must be resolved via
	// ResolveSuccess or ResolveFailure; an unresolved checkout is lost.
	DrainDue(ctx context.Context, now time.Time, maxBatch int) ([]domain.PromotionEvent, error)
	// ResolveSuccess appends a compact sent record, increments total_sent and
	// decrements pending.
	ResolveSuccess(ctx context.Context, ev domain.PromotionEvent, now time.Time) error
	// ResolveFailure increments the attempt count and either re-enqueues with
	// backoff or, once the retry budget is exhausted, moves the event to the
	// dead-letter list.
	ResolveFailure(ctx context.Context, ev domain.PromotionEvent, reason string, now time.Time) error
	// TakeAt checks out the pending event at the given stable index regardless
	// of its next_attempt_at, for manual dispatch.
	TakeAt(ctx context.Context, index int) (domain.PromotionEvent, error)
	ListPending(ctx context.Context) ([]domain.PromotionEvent, error)
	ListDeadLetter(ctx context.Context) ([]domain.PromotionEvent, error)
	// Flush discards the entire pending list and zeroes the pending stat.
	// Dead-letter and sent-log are untouched. Returns the number discarded.
	// Events checked out before the flush still resolve afterwards;
	// implementations keep the pending counter from going negative.
	Flush(ctx context.Context) (int64, error)
	Stats(ctx context.Context) (domain.StatsSnapshot, error)
}

// Dispatcher performs a single delivery attempt for one event. It holds no
// retry state; scheduling is entirely the queue's concern.
type Dispatcher interface {
	Attempt(ctx context.Context, ev domain.PromotionEvent) domain.Outcome
}
