package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/viralforge/mesh/services/integrations/M74-promotion-relay/internal/domain"
)

// Store key layout. The retry list, dead-letter list and sent log hold
// JSON-encoded entries in arrival order; the stats hash mirrors list
// cardinality and is only ever written in the same transaction as the list
// mutation that changes it.
const (
	pendingKey    = "promotion_webhook_retry"
	deadLetterKey = "promotion_webhook_dead_letter"
	sentLogKey    = "promotion_webhook_sent_log"
	statsKey      = "promotion_webhook_stats"
)

const (
	fieldPending      = "pending"
	fieldFailed       = "failed"
	fieldTotalSent    = "total_sent"
	fieldLastFailedTS = "last_failed_ts"
)

// RetryQueue is the Redis-backed queue manager. Checkout is an LREM on the
// exact encoded entry, so when multiple replicas drain concurrently only one
// of them wins each event.
type RetryQueue struct {
	client *redis.Client
	policy domain.RetryPolicy
}

// NewRetryQueue creates the queue manager on top of a connected client.
func NewRetryQueue(client *redis.Client, policy domain.RetryPolicy) *RetryQueue {
	return &RetryQueue{client: client, policy: policy}
}

func (q *RetryQueue) Enqueue(ctx context.Context, ev domain.PromotionEvent) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	_, err = q.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.RPush(ctx, pendingKey, raw)
		p.HIncrBy(ctx, statsKey, fieldPending, 1)
		return nil
	})
	if err != nil {
		return storeErr("enqueue", err)
	}
	return nil
}

func (q *RetryQueue) DrainDue(ctx context.Context, now time.Time, maxBatch int) ([]domain.PromotionEvent, error) {
	if maxBatch <= 0 {
		maxBatch = 10
	}
	entries, err := q.client.LRange(ctx, pendingKey, 0, -1).Result()
	if err != nil {
		return nil, storeErr("scan pending", err)
	}

	out := make([]domain.PromotionEvent, 0, maxBatch)
	for _, raw := range entries {
		if len(out) == maxBatch {
			break
		}
		var ev domain.PromotionEvent
		if err := json.Unmarshal([]byte(raw), &ev); err != nil {
			continue
		}
		if ev.NextAttemptAt.After(now) {
			continue
		}
		removed, err := q.client.LRem(ctx, pendingKey, 1, raw).Result()
		if err != nil {
			return out, storeErr("checkout", err)
		}
		if removed == 0 {
			// another replica checked this one out first
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

func (q *RetryQueue) ResolveSuccess(ctx context.Context, ev domain.PromotionEvent, now time.Time) error {
	rec := domain.SentRecord{
		EventID:   ev.EventID,
		TargetURL: ev.TargetURL,
		Attempts:  ev.AttemptCount + 1,
		SentAt:    now.UTC(),
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode sent record: %w", err)
	}
	_, err = q.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.RPush(ctx, sentLogKey, raw)
		p.HIncrBy(ctx, statsKey, fieldPending, -1)
		p.HIncrBy(ctx, statsKey, fieldTotalSent, 1)
		return nil
	})
	if err != nil {
		return storeErr("resolve success", err)
	}
	return nil
}

func (q *RetryQueue) ResolveFailure(ctx context.Context, ev domain.PromotionEvent, reason string, now time.Time) error {
	ev.AttemptCount++
	ev.LastError = reason

	if q.policy.Exhausted(ev.AttemptCount) {
		raw, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("encode event: %w", err)
		}
		_, err = q.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.RPush(ctx, deadLetterKey, raw)
			p.HIncrBy(ctx, statsKey, fieldPending, -1)
			p.HIncrBy(ctx, statsKey, fieldFailed, 1)
			p.HSet(ctx, statsKey, fieldLastFailedTS, now.UTC().Format(time.RFC3339))
			return nil
		})
		if err != nil {
			return storeErr("dead-letter", err)
		}
		return nil
	}

	ev.NextAttemptAt = now.Add(q.policy.NextDelay(ev.AttemptCount)).UTC()
	raw, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	// pending count is unchanged: the event never left the logical pending set
	if err := q.client.RPush(ctx, pendingKey, raw).Err(); err != nil {
		return storeErr("re-enqueue", err)
	}
	return nil
}

func (q *RetryQueue) TakeAt(ctx context.Context, index int) (domain.PromotionEvent, error) {
	if index < 0 {
		return domain.PromotionEvent{}, domain.ErrNotFound
	}
	raw, err := q.client.LIndex(ctx, pendingKey, int64(index)).Result()
	if errors.Is(err, redis.Nil) {
		return domain.PromotionEvent{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.PromotionEvent{}, storeErr("index pending", err)
	}
	var ev domain.PromotionEvent
	if err := json.Unmarshal([]byte(raw), &ev); err != nil {
		return domain.PromotionEvent{}, fmt.Errorf("decode event at index %d: %w", index, err)
	}
	removed, err := q.client.LRem(ctx, pendingKey, 1, raw).Result()
	if err != nil {
		return domain.PromotionEvent{}, storeErr("checkout", err)
	}
	if removed == 0 {
		return domain.PromotionEvent{}, domain.ErrNotFound
	}
	return ev, nil
}

func (q *RetryQueue) ListPending(ctx context.Context) ([]domain.PromotionEvent, error) {
	return q.list(ctx, pendingKey)
}

func (q *RetryQueue) ListDeadLetter(ctx context.Context) ([]domain.PromotionEvent, error) {
	return q.list(ctx, deadLetterKey)
}

func (q *RetryQueue) list(ctx context.Context, key string) ([]domain.PromotionEvent, error) {
	entries, err := q.client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, storeErr("list "+key, err)
	}
	out := make([]domain.PromotionEvent, 0, len(entries))
	for _, raw := range entries {
		var ev domain.PromotionEvent
		if err := json.Unmarshal([]byte(raw), &ev); err != nil {
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

// Flush counts and deletes in one transaction so the discarded count cannot
// go stale under a concurrent enqueue. An event checked out before the flush
// still resolves afterwards; its decrement is absorbed by the clamp in Stats.
func (q *RetryQueue) Flush(ctx context.Context) (int64, error) {
	var length *redis.IntCmd
	_, err := q.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		length = p.LLen(ctx, pendingKey)
		p.Del(ctx, pendingKey)
		p.HSet(ctx, statsKey, fieldPending, 0)
		return nil
	})
	if err != nil {
		return 0, storeErr("flush", err)
	}
	return length.Val(), nil
}

func (q *RetryQueue) Stats(ctx context.Context) (domain.StatsSnapshot, error) {
	data, err := q.client.HGetAll(ctx, statsKey).Result()
	if err != nil {
		return domain.StatsSnapshot{}, storeErr("stats", err)
	}
	snap := domain.StatsSnapshot{
		Pending:   parseCounter(data[fieldPending]),
		Failed:    parseCounter(data[fieldFailed]),
		TotalSent: parseCounter(data[fieldTotalSent]),
	}
	if raw, ok := data[fieldLastFailedTS]; ok && raw != "" {
		if t, parseErr := time.Parse(time.RFC3339, raw); parseErr == nil {
			t = t.UTC()
			snap.LastFailedAt = &t
		}
	}
	return snap, nil
}

// parseCounter clamps at zero: a resolve landing after a flush zeroed the
// pending field can briefly drive the raw counter negative.
func parseCounter(raw string) int64 {
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func storeErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, domain.ErrStoreUnavailable, err)
}
