package application

import (
	"encoding/json"
	"time"
)

type Config struct {
	ServiceName       string
	Version           string
	FlushConfirmation string
}

type Actor struct {
	SubjectID string
	Role      string
	RequestID string
}

type EnqueueInput struct {
	TargetURL string          `json:"target_url"`
	Payload   json.RawMessage `json:"payload"`
}

// PendingEntry is the admin view of one queued event. Index is the stable
// handle consumed by dispatch-by-index.
type PendingEntry struct {
	Index         int       `json:"index"`
	EventID       string    `json:"id"`
	TargetURL     string    `json:"target_url"`
	AttemptCount  int       `json:"attempts"`
	NextAttemptAt time.Time `json:"next_attempt_at"`
	CreatedAt     time.Time `json:"created_at"`
	LastError     string    `json:"last_error,omitempty"`
}

type DispatchResult struct {
	EventID    string `json:"id"`
	TargetURL  string `json:"target_url"`
	Delivered  bool   `json:"delivered"`
	StatusCode int    `json:"status_code,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

type FlushResult struct {
	Discarded int64 `json:"discarded"`
}
