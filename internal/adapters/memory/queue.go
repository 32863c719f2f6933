package memory

import (
	"context"
	"sync"
	"time"

	"github.com/viralforge/mesh/services/integrations/M74-promotion-relay/internal/domain"
)

// RetryQueue is an in-process queue manager for tests and for local runs
// without Redis. It mirrors the Redis adapter's transition semantics behind
// the same port, but offers no durability and no cross-replica coordination.
type RetryQueue struct {
	mu         sync.Mutex
	policy     domain.RetryPolicy
	pending    []domain.PromotionEvent
	deadLetter []domain.PromotionEvent
	sentLog    []domain.SentRecord

	pendingStat  int64
	failedStat   int64
	totalSent    int64
	lastFailedAt *time.Time
}

// NewRetryQueue creates an empty in-memory queue manager.
func NewRetryQueue(policy domain.RetryPolicy) *RetryQueue {
	return &RetryQueue{policy: policy}
}

func (q *RetryQueue) Enqueue(_ context.Context, ev domain.PromotionEvent) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, ev)
	q.pendingStat++
	return nil
}

func (q *RetryQueue) DrainDue(_ context.Context, now time.Time, maxBatch int) ([]domain.PromotionEvent, error) {
	if maxBatch <= 0 {
		maxBatch = 10
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]domain.PromotionEvent, 0, maxBatch)
	remaining := q.pending[:0]
	for _, ev := range q.pending {
		if len(out) < maxBatch && !ev.NextAttemptAt.After(now) {
			out = append(out, ev)
			continue
		}
		remaining = append(remaining, ev)
	}
	q.pending = remaining
	return out, nil
}

func (q *RetryQueue) ResolveSuccess(_ context.Context, ev domain.PromotionEvent, now time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.sentLog = append(q.sentLog, domain.SentRecord{
		EventID:   ev.EventID,
		TargetURL: ev.TargetURL,
		Attempts:  ev.AttemptCount + 1,
		SentAt:    now.UTC(),
	})
	q.decrementPending()
	q.totalSent++
	return nil
}

// decrementPending clamps at zero: an event checked out before a flush still
// resolves afterwards, and that decrement must not drive the stat negative.
func (q *RetryQueue) decrementPending() {
	if q.pendingStat > 0 {
		q.pendingStat--
	}
}

func (q *RetryQueue) ResolveFailure(_ context.Context, ev domain.PromotionEvent, reason string, now time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	ev.AttemptCount++
	ev.LastError = reason
	if q.policy.Exhausted(ev.AttemptCount) {
		q.deadLetter = append(q.deadLetter, ev)
		q.decrementPending()
		q.failedStat++
		ts := now.UTC()
		q.lastFailedAt = &ts
		return nil
	}

	ev.NextAttemptAt = now.Add(q.policy.NextDelay(ev.AttemptCount)).UTC()
	q.pending = append(q.pending, ev)
	return nil
}

func (q *RetryQueue) TakeAt(_ context.Context, index int) (domain.PromotionEvent, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if index < 0 || index >= len(q.pending) {
		return domain.PromotionEvent{}, domain.ErrNotFound
	}
	ev := q.pending[index]
	q.pending = append(q.pending[:index], q.pending[index+1:]...)
	return ev, nil
}

func (q *RetryQueue) ListPending(_ context.Context) ([]domain.PromotionEvent, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]domain.PromotionEvent, len(q.pending))
	copy(out, q.pending)
	return out, nil
}

func (q *RetryQueue) ListDeadLetter(_ context.Context) ([]domain.PromotionEvent, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]domain.PromotionEvent, len(q.deadLetter))
	copy(out, q.deadLetter)
	return out, nil
}

// SentLog exposes the append-only sent records for inspection in tests.
func (q *RetryQueue) SentLog() []domain.SentRecord {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]domain.SentRecord, len(q.sentLog))
	copy(out, q.sentLog)
	return out
}

func (q *RetryQueue) Flush(_ context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	removed := int64(len(q.pending))
	q.pending = nil
	q.pendingStat = 0
	return removed, nil
}

func (q *RetryQueue) Stats(_ context.Context) (domain.StatsSnapshot, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	snap := domain.StatsSnapshot{
		Pending:   q.pendingStat,
		Failed:    q.failedStat,
		TotalSent: q.totalSent,
	}
	if q.lastFailedAt != nil {
		ts := *q.lastFailedAt
		snap.LastFailedAt = &ts
	}
	return snap, nil
}
