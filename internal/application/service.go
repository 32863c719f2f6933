package application

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/viralforge/mesh/services/integrations/M74-promotion-relay/internal/domain"
	"github.com/viralforge/mesh/services/integrations/M74-promotion-relay/internal/ports"
)

// Service is the control surface over the retry queue: the producer's
// enqueue path plus the admin inspect/dispatch/flush/stats commands.
// Authorization beyond an authenticated actor is the caller's concern.
type Service struct {
	cfg        Config
	queue      ports.RetryQueue
	dispatcher ports.Dispatcher
	nowFn      func() time.Time
}

type Dependencies struct {
	Config     Config
	Queue      ports.RetryQueue
	Dispatcher ports.Dispatcher
}

func NewService(deps Dependencies) *Service {
	s := &Service{
		cfg:        deps.Config,
		queue:      deps.Queue,
		dispatcher: deps.Dispatcher,
		nowFn:      time.Now,
	}
	if s.cfg.FlushConfirmation == "" {
		s.cfg.FlushConfirmation = "FLUSH"
	}
	return s
}

// EnqueuePromotion is the producer interface: it accepts a promotion payload
// and queues it for delivery with attempt_count=0 and next_attempt_at=now.
func (s *Service) EnqueuePromotion(ctx context.Context, actor Actor, req EnqueueInput) (domain.PromotionEvent, error) {
	if strings.TrimSpace(actor.SubjectID) == "" {
		return domain.PromotionEvent{}, domain.ErrUnauthorized
	}
	req.TargetURL = strings.TrimSpace(req.TargetURL)
	lower := strings.ToLower(req.TargetURL)
	if !strings.HasPrefix(lower, "https://") && !strings.HasPrefix(lower, "http://") {
		return domain.PromotionEvent{}, domain.ErrInvalidInput
	}
	if len(req.Payload) == 0 || !json.Valid(req.Payload) {
		return domain.PromotionEvent{}, domain.ErrInvalidInput
	}

	now := s.nowFn().UTC()
	ev := domain.PromotionEvent{
		EventID:       "promo-" + uuid.NewString(),
		TargetURL:     req.TargetURL,
		Payload:       req.Payload,
		AttemptCount:  0,
		NextAttemptAt: now,
		CreatedAt:     now,
	}
	if err := s.queue.Enqueue(ctx, ev); err != nil {
		return domain.PromotionEvent{}, err
	}
	return ev, nil
}

// ListRetries returns the pending queue with stable indices for admin display.
func (s *Service) ListRetries(ctx context.Context, actor Actor) ([]PendingEntry, error) {
	if strings.TrimSpace(actor.SubjectID) == "" {
		return nil, domain.ErrUnauthorized
	}
	events, err := s.queue.ListPending(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]PendingEntry, 0, len(events))
	for i, ev := range events {
		out = append(out, PendingEntry{
			Index:         i,
			EventID:       ev.EventID,
			TargetURL:     ev.TargetURL,
			AttemptCount:  ev.AttemptCount,
			NextAttemptAt: ev.NextAttemptAt,
			CreatedAt:     ev.CreatedAt,
			LastError:     ev.LastError,
		})
	}
	return out, nil
}

func (s *Service) ListDeadLetter(ctx context.Context, actor Actor) ([]PendingEntry, error) {
	if strings.TrimSpace(actor.SubjectID) == "" {
		return nil, domain.ErrUnauthorized
	}
	events, err := s.queue.ListDeadLetter(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]PendingEntry, 0, len(events))
	for i, ev := range events {
		out = append(out, PendingEntry{
			Index:         i,
			EventID:       ev.EventID,
			TargetURL:     ev.TargetURL,
			AttemptCount:  ev.AttemptCount,
			NextAttemptAt: ev.NextAttemptAt,
			CreatedAt:     ev.CreatedAt,
			LastError:     ev.LastError,
		})
	}
	return out, nil
}

// ManualDispatch forces an immediate delivery attempt for the pending item at
// the given index, ignoring its next_attempt_at. The outcome resolves through
// the same success/failure path the scheduler uses.
func (s *Service) ManualDispatch(ctx context.Context, actor Actor, index int) (DispatchResult, error) {
	if strings.TrimSpace(actor.SubjectID) == "" {
		return DispatchResult{}, domain.ErrUnauthorized
	}
	ev, err := s.queue.TakeAt(ctx, index)
	if err != nil {
		return DispatchResult{}, err
	}

	outcome := s.dispatcher.Attempt(ctx, ev)
	now := s.nowFn().UTC()
	if outcome.Delivered {
		if err := s.queue.ResolveSuccess(ctx, ev, now); err != nil {
			return DispatchResult{}, err
		}
	} else {
		if err := s.queue.ResolveFailure(ctx, ev, outcome.Reason, now); err != nil {
			return DispatchResult{}, err
		}
	}
	return DispatchResult{
		EventID:    ev.EventID,
		TargetURL:  ev.TargetURL,
		Delivered:  outcome.Delivered,
		StatusCode: outcome.StatusCode,
		Reason:     outcome.Reason,
	}, nil
}

// FlushRetries discards the entire pending list. The caller must present the
// exact confirmation token; anything else is rejected with no side effects.
func (s *Service) FlushRetries(ctx context.Context, actor Actor, confirmation string) (FlushResult, error) {
	if strings.TrimSpace(actor.SubjectID) == "" {
		return FlushResult{}, domain.ErrUnauthorized
	}
	if confirmation != s.cfg.FlushConfirmation {
		return FlushResult{}, domain.ErrInvalidConfirmation
	}
	discarded, err := s.queue.Flush(ctx)
	if err != nil {
		return FlushResult{}, err
	}
	return FlushResult{Discarded: discarded}, nil
}

func (s *Service) Stats(ctx context.Context, actor Actor) (domain.StatsSnapshot, error) {
	if strings.TrimSpace(actor.SubjectID) == "" {
		return domain.StatsSnapshot{}, domain.ErrUnauthorized
	}
	return s.queue.Stats(ctx)
}
