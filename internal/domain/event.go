package domain

import (
	"encoding/json"
	"time"
)

// PromotionEvent is the unit of outbound delivery work. Payload is opaque to
// the queue; only the envelope fields drive retry behavior.
type PromotionEvent struct {
	EventID       string          `json:"id"`
	TargetURL     string          `json:"target_url"`
	Payload       json.RawMessage `json:"payload"`
	AttemptCount  int             `json:"attempts"`
	NextAttemptAt time.Time       `json:"next_attempt_at"`
	CreatedAt     time.Time       `json:"created_at"`
	LastError     string          `json:"last_error,omitempty"`
}

// SentRecord is the compact form appended to the sent log on successful
// delivery. The full payload is intentionally not retained there.
type SentRecord struct {
	EventID   string    `json:"id"`
	TargetURL string    `json:"target_url"`
	Attempts  int       `json:"attempts"`
	SentAt    time.Time `json:"sent_at"`
}

// StatsSnapshot is a read-only projection of queue state. It is maintained
// in lock-step with list transitions and is never independently settable.
type StatsSnapshot struct {
	Pending      int64      `json:"pending"`
	Failed       int64      `json:"failed"`
	TotalSent    int64      `json:"total_sent"`
	LastFailedAt *time.Time `json:"last_failed_ts,omitempty"`
}

// Outcome classifies a single delivery attempt. Reason holds a compact
// status or error class, never response body content.
type Outcome struct {
	Delivered  bool   `json:"delivered"`
	StatusCode int    `json:"status_code,omitempty"`
	Reason     string `json:"reason,omitempty"`
}
