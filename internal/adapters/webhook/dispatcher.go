package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/viralforge/mesh/services/integrations/M74-promotion-relay/internal/domain"
)

// Dispatcher POSTs one event payload to its target URL and classifies the
// outcome. It is stateless; retry scheduling lives entirely in the queue.
type Dispatcher struct {
	client        *http.Client
	signingSecret string
}

// NewDispatcher builds a dispatcher with a bounded per-attempt timeout.
// When signingSecret is non-empty, each request carries an X-Signature header
// with the HMAC-SHA256 hex digest of the body so receivers can authenticate
// the sender.
func NewDispatcher(timeout time.Duration, signingSecret string) *Dispatcher {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Dispatcher{
		client:        &http.Client{Timeout: timeout},
		signingSecret: signingSecret,
	}
}

func (d *Dispatcher) Attempt(ctx context.Context, ev domain.PromotionEvent) domain.Outcome {
	body := []byte(ev.Payload)
	if len(body) == 0 {
		body = []byte("{}")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ev.TargetURL, bytes.NewReader(body))
	if err != nil {
		return domain.Outcome{Reason: "bad_target_url"}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Promotion-Event-Id", ev.EventID)
	if d.signingSecret != "" {
		req.Header.Set("X-Signature", sign(d.signingSecret, body))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return domain.Outcome{Reason: classifyTransportError(err)}
	}
	defer resp.Body.Close()
	// receivers are untrusted; drain a bounded amount and ignore the rest
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return domain.Outcome{Delivered: true, StatusCode: resp.StatusCode}
	}
	return domain.Outcome{
		StatusCode: resp.StatusCode,
		Reason:     fmt.Sprintf("status_%d", resp.StatusCode),
	}
}

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// classifyTransportError reduces a transport failure to a compact class so
// last_error never grows unbounded.
func classifyTransportError(err error) string {
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.As(err, &netErr) && netErr.Timeout():
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "connection_error"
	}
}
