package contracts

import "encoding/json"

type SuccessResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

type ErrorPayload struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

type ErrorResponse struct {
	Status string       `json:"status"`
	Error  ErrorPayload `json:"error"`
}

type EnqueuePromotionRequest struct {
	TargetURL string          `json:"target_url"`
	Payload   json.RawMessage `json:"payload"`
}

type FlushRequest struct {
	Confirm string `json:"confirm"`
}

type PendingRetry struct {
	Index         int    `json:"index"`
	ID            string `json:"id"`
	TargetURL     string `json:"target_url"`
	Attempts      int    `json:"attempts"`
	NextAttemptAt string `json:"next_attempt_at"`
	LastError     string `json:"last_error,omitempty"`
}

type StatsResponse struct {
	Pending      int64  `json:"pending"`
	Failed       int64  `json:"failed"`
	TotalSent    int64  `json:"total_sent"`
	LastFailedTS string `json:"last_failed_ts,omitempty"`
}
