package domain

import "time"

// RetryPolicy controls how failed deliveries are rescheduled. Delay grows as
// base * 2^(attempt-1), capped at Max. Attempt numbering is 1-based: the delay
// after the first failed attempt is Base.
type RetryPolicy struct {
	MaxAttempts int
	Base        time.Duration
	Max         time.Duration
}

// DefaultRetryPolicy returns the documented defaults: 5 attempts, 30s base
// delay doubling, capped at one hour.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 5,
		Base:        30 * time.Second,
		Max:         time.Hour,
	}
}

// Exhausted reports whether an event with the given attempt count has used up
// its retry budget and belongs in the dead-letter list.
func (p RetryPolicy) Exhausted(attemptCount int) bool {
	max := p.MaxAttempts
	if max <= 0 {
		max = 5
	}
	return attemptCount >= max
}

// NextDelay computes the backoff delay after the given 1-based attempt count.
func (p RetryPolicy) NextDelay(attemptCount int) time.Duration {
	base := p.Base
	if base <= 0 {
		base = 30 * time.Second
	}
	if attemptCount < 1 {
		attemptCount = 1
	}

	d := base
	for i := 1; i < attemptCount; i++ {
		if p.Max > 0 && d >= p.Max/2 {
			d = p.Max
			break
		}
		d *= 2
	}
	if p.Max > 0 && d > p.Max {
		return p.Max
	}
	return d
}
