package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/viralforge/mesh/services/integrations/M74-promotion-relay/internal/domain"
	"github.com/viralforge/mesh/services/integrations/M74-promotion-relay/internal/ports"
)

// Worker drives queue draining at a fixed cadence. Each tick checks out a
// bounded batch, attempts delivery for each event and resolves it. Checkout
// removes the item from the visible pending set before the network call, so
// the store is never held exclusively while waiting on a receiver.
type Worker struct {
	logger     *slog.Logger
	queue      ports.RetryQueue
	dispatcher ports.Dispatcher
	policy     domain.RetryPolicy
	interval   time.Duration
	batchSize  int
	nowFn      func() time.Time
}

// NewWorker constructs the delivery loop with sane defaults. The policy is
// the same one the queue resolves failures with; the worker only consults it
// for batch accounting.
func NewWorker(
	logger *slog.Logger,
	queue ports.RetryQueue,
	dispatcher ports.Dispatcher,
	policy domain.RetryPolicy,
	interval time.Duration,
	batchSize int,
) *Worker {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if batchSize <= 0 {
		batchSize = 10
	}
	return &Worker{
		logger:     logger,
		queue:      queue,
		dispatcher: dispatcher,
		policy:     policy,
		interval:   interval,
		batchSize:  batchSize,
		nowFn:      time.Now,
	}
}

// Run executes the periodic delivery loop until context cancellation.
// A failed tick is logged and skipped; the worker never crashes the process
// over store unavailability.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		if err := w.ProcessOnce(ctx); err != nil {
			logFn := w.logger.ErrorContext
			if errors.Is(err, domain.ErrStoreUnavailable) {
				logFn = w.logger.WarnContext
			}
			logFn(ctx, "delivery tick skipped",
				"module", "delivery.worker",
				"layer", "adapter",
				"operation", "process_once",
				"outcome", "failure",
				"error", err,
			)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// ProcessOnce drains and dispatches a single batch. Exposed so manual runs
// and tests can drive ticks without the ticker.
func (w *Worker) ProcessOnce(ctx context.Context) error {
	now := w.nowFn().UTC()
	events, err := w.queue.DrainDue(ctx, now, w.batchSize)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		return nil
	}

	delivered := 0
	retried := 0
	deadLettered := 0
	// checked-out events must all be resolved; a store error on one resolve
	// must not abandon the rest of the batch
	var resolveErrs []error
	for _, ev := range events {
		outcome := w.dispatcher.Attempt(ctx, ev)
		resolvedAt := w.nowFn().UTC()
		if outcome.Delivered {
			if err := w.queue.ResolveSuccess(ctx, ev, resolvedAt); err != nil {
				resolveErrs = append(resolveErrs, fmt.Errorf("resolve %s: %w", ev.EventID, err))
				continue
			}
			delivered++
			w.logger.InfoContext(ctx, "promotion delivered",
				"module", "delivery.worker",
				"layer", "adapter",
				"operation", "dispatch",
				"outcome", "success",
				"event_id", ev.EventID,
				"target_url", ev.TargetURL,
				"status_code", outcome.StatusCode,
				"attempt", ev.AttemptCount+1,
			)
			continue
		}

		if err := w.queue.ResolveFailure(ctx, ev, outcome.Reason, resolvedAt); err != nil {
			resolveErrs = append(resolveErrs, fmt.Errorf("resolve %s: %w", ev.EventID, err))
			continue
		}
		if w.policy.Exhausted(ev.AttemptCount + 1) {
			deadLettered++
		} else {
			retried++
		}
		w.logger.WarnContext(ctx, "promotion delivery failed",
			"module", "delivery.worker",
			"layer", "adapter",
			"operation", "dispatch",
			"outcome", "failure",
			"event_id", ev.EventID,
			"target_url", ev.TargetURL,
			"reason", outcome.Reason,
			"attempt", ev.AttemptCount+1,
		)
	}

	w.logger.InfoContext(ctx, "delivery batch processed",
		"module", "delivery.worker",
		"layer", "adapter",
		"operation", "process_once",
		"outcome", "success",
		"batch_size", len(events),
		"delivered_count", delivered,
		"retried_count", retried,
		"dead_lettered_count", deadLettered,
	)
	return errors.Join(resolveErrs...)
}
