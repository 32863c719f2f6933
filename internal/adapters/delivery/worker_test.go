package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/viralforge/mesh/services/integrations/M74-promotion-relay/internal/adapters/memory"
	"github.com/viralforge/mesh/services/integrations/M74-promotion-relay/internal/adapters/webhook"
	"github.com/viralforge/mesh/services/integrations/M74-promotion-relay/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func enqueue(t *testing.T, q *memory.RetryQueue, id, target string, now time.Time) {
	t.Helper()
	err := q.Enqueue(context.Background(), domain.PromotionEvent{
		EventID:       id,
		TargetURL:     target,
		Payload:       json.RawMessage(`{"event":"promotion"}`),
		NextAttemptAt: now,
		CreatedAt:     now,
	})
	if err != nil {
		t.Fatalf("enqueue %s: %v", id, err)
	}
}

func TestTickDeliversSucceedingReceiver(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ctx := context.Background()
	now := time.Now().UTC()
	q := memory.NewRetryQueue(domain.DefaultRetryPolicy())
	enqueue(t, q, "ev-1", srv.URL, now)

	w := NewWorker(discardLogger(), q, webhook.NewDispatcher(time.Second, ""), domain.DefaultRetryPolicy(), time.Second, 10)
	if err := w.ProcessOnce(ctx); err != nil {
		t.Fatalf("tick: %v", err)
	}

	snap, _ := q.Stats(ctx)
	if snap.TotalSent != 1 || snap.Pending != 0 {
		t.Fatalf("unexpected stats: %+v", snap)
	}
	if log := q.SentLog(); len(log) != 1 || log[0].EventID != "ev-1" {
		t.Fatalf("sent log missing event: %+v", log)
	}
}

func TestAlwaysFailingReceiverDeadLettersAll(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "fail", http.StatusInternalServerError)
	}))
	defer srv.Close()

	ctx := context.Background()
	start := time.Now().UTC()
	policy := domain.RetryPolicy{MaxAttempts: 2, Base: 30 * time.Second, Max: time.Hour}
	q := memory.NewRetryQueue(policy)
	for _, id := range []string{"ev-1", "ev-2", "ev-3"} {
		enqueue(t, q, id, srv.URL, start)
	}

	w := NewWorker(discardLogger(), q, webhook.NewDispatcher(time.Second, ""), policy, time.Second, 10)

	// first tick: all three fail and are re-enqueued with backoff
	w.nowFn = func() time.Time { return start }
	if err := w.ProcessOnce(ctx); err != nil {
		t.Fatalf("first tick: %v", err)
	}
	snap, _ := q.Stats(ctx)
	if snap.Pending != 3 || snap.Failed != 0 {
		t.Fatalf("unexpected stats after first tick: %+v", snap)
	}

	// second tick beyond the backoff window: attempt ceiling reached
	w.nowFn = func() time.Time { return start.Add(2 * time.Minute) }
	if err := w.ProcessOnce(ctx); err != nil {
		t.Fatalf("second tick: %v", err)
	}

	snap, _ = q.Stats(ctx)
	if snap.Pending != 0 || snap.Failed != 3 {
		t.Fatalf("unexpected stats after second tick: %+v", snap)
	}
	if snap.LastFailedAt == nil {
		t.Fatalf("last_failed_ts not set")
	}
	dead, _ := q.ListDeadLetter(ctx)
	if len(dead) != 3 {
		t.Fatalf("expected 3 dead-lettered, got %d", len(dead))
	}
	for _, ev := range dead {
		if ev.AttemptCount != 2 || ev.LastError != "status_500" {
			t.Fatalf("unexpected dead-letter entry: %+v", ev)
		}
	}
}

func TestTickSkipsNotDueEvents(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()
	q := memory.NewRetryQueue(domain.DefaultRetryPolicy())
	err := q.Enqueue(ctx, domain.PromotionEvent{
		EventID:       "future",
		TargetURL:     "http://127.0.0.1:1/never",
		NextAttemptAt: now.Add(time.Hour),
		CreatedAt:     now,
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	w := NewWorker(discardLogger(), q, webhook.NewDispatcher(time.Second, ""), domain.DefaultRetryPolicy(), time.Second, 10)
	if err := w.ProcessOnce(ctx); err != nil {
		t.Fatalf("tick: %v", err)
	}
	snap, _ := q.Stats(ctx)
	if snap.Pending != 1 || snap.Failed != 0 || snap.TotalSent != 0 {
		t.Fatalf("not-due event must stay untouched: %+v", snap)
	}
}

// unavailableQueue simulates a store outage: every operation fails with
// ErrStoreUnavailable.
type unavailableQueue struct {
	drainCalls atomic.Int32
}

func (q *unavailableQueue) Enqueue(context.Context, domain.PromotionEvent) error {
	return domain.ErrStoreUnavailable
}

func (q *unavailableQueue) DrainDue(context.Context, time.Time, int) ([]domain.PromotionEvent, error) {
	q.drainCalls.Add(1)
	return nil, domain.ErrStoreUnavailable
}

func (q *unavailableQueue) ResolveSuccess(context.Context, domain.PromotionEvent, time.Time) error {
	return domain.ErrStoreUnavailable
}

func (q *unavailableQueue) ResolveFailure(context.Context, domain.PromotionEvent, string, time.Time) error {
	return domain.ErrStoreUnavailable
}

func (q *unavailableQueue) TakeAt(context.Context, int) (domain.PromotionEvent, error) {
	return domain.PromotionEvent{}, domain.ErrStoreUnavailable
}

func (q *unavailableQueue) ListPending(context.Context) ([]domain.PromotionEvent, error) {
	return nil, domain.ErrStoreUnavailable
}

func (q *unavailableQueue) ListDeadLetter(context.Context) ([]domain.PromotionEvent, error) {
	return nil, domain.ErrStoreUnavailable
}

func (q *unavailableQueue) Flush(context.Context) (int64, error) {
	return 0, domain.ErrStoreUnavailable
}

func (q *unavailableQueue) Stats(context.Context) (domain.StatsSnapshot, error) {
	return domain.StatsSnapshot{}, domain.ErrStoreUnavailable
}

func TestProcessOnceSurfacesStoreUnavailable(t *testing.T) {
	q := &unavailableQueue{}
	w := NewWorker(discardLogger(), q, webhook.NewDispatcher(time.Second, ""), domain.DefaultRetryPolicy(), time.Second, 10)
	if err := w.ProcessOnce(context.Background()); !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Fatalf("expected store-unavailable, got %v", err)
	}
}

func TestRunSurvivesStoreOutage(t *testing.T) {
	var logBuf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logBuf, nil))
	q := &unavailableQueue{}
	w := NewWorker(logger, q, webhook.NewDispatcher(time.Second, ""), domain.DefaultRetryPolicy(), 10*time.Millisecond, 10)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	if err := w.Run(ctx); err != context.DeadlineExceeded {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if calls := q.drainCalls.Load(); calls < 2 {
		t.Fatalf("loop must keep ticking through the outage, got %d ticks", calls)
	}
	if !strings.Contains(logBuf.String(), "delivery tick skipped") {
		t.Fatalf("skipped tick not logged: %s", logBuf.String())
	}
	if !strings.Contains(logBuf.String(), `"level":"WARN"`) {
		t.Fatalf("store outage must log at warn: %s", logBuf.String())
	}
}

// flakyResolveQueue fails the first n ResolveSuccess calls and then behaves
// like the wrapped queue.
type flakyResolveQueue struct {
	*memory.RetryQueue
	failures int
}

func (q *flakyResolveQueue) ResolveSuccess(ctx context.Context, ev domain.PromotionEvent, now time.Time) error {
	if q.failures > 0 {
		q.failures--
		return domain.ErrStoreUnavailable
	}
	return q.RetryQueue.ResolveSuccess(ctx, ev, now)
}

func TestResolveErrorDoesNotAbandonBatch(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ctx := context.Background()
	now := time.Now().UTC()
	inner := memory.NewRetryQueue(domain.DefaultRetryPolicy())
	enqueue(t, inner, "ev-1", srv.URL, now)
	enqueue(t, inner, "ev-2", srv.URL, now)
	q := &flakyResolveQueue{RetryQueue: inner, failures: 1}

	w := NewWorker(discardLogger(), q, webhook.NewDispatcher(time.Second, ""), domain.DefaultRetryPolicy(), time.Second, 10)
	err := w.ProcessOnce(ctx)
	if !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Fatalf("expected the resolve error surfaced, got %v", err)
	}
	if hits.Load() != 2 {
		t.Fatalf("both checked-out events must be attempted, got %d", hits.Load())
	}
	snap, _ := inner.Stats(ctx)
	if snap.TotalSent != 1 {
		t.Fatalf("second event must still resolve: %+v", snap)
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	q := memory.NewRetryQueue(domain.DefaultRetryPolicy())
	w := NewWorker(discardLogger(), q, webhook.NewDispatcher(time.Second, ""), domain.DefaultRetryPolicy(), 10*time.Millisecond, 10)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := w.Run(ctx); err != context.DeadlineExceeded {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}
