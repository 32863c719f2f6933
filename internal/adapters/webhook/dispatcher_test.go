package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/viralforge/mesh/services/integrations/M74-promotion-relay/internal/domain"
)

func event(target string) domain.PromotionEvent {
	return domain.PromotionEvent{
		EventID:   "ev-1",
		TargetURL: target,
		Payload:   json.RawMessage(`{"event":"promotion","audit_id":42}`),
	}
}

func TestAttemptSuccess(t *testing.T) {
	var gotBody []byte
	var gotEventID string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotEventID = r.Header.Get("X-Promotion-Event-Id")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	out := NewDispatcher(2*time.Second, "").Attempt(context.Background(), event(srv.URL))
	if !out.Delivered || out.StatusCode != http.StatusNoContent {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	if !strings.Contains(string(gotBody), `"audit_id":42`) {
		t.Fatalf("payload not forwarded: %s", gotBody)
	}
	if gotEventID != "ev-1" {
		t.Fatalf("event id header missing: %q", gotEventID)
	}
}

func TestAttemptSignsWhenSecretConfigured(t *testing.T) {
	const secret = "topsecret"
	var gotSig string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotSig = r.Header.Get("X-Signature")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	out := NewDispatcher(2*time.Second, secret).Attempt(context.Background(), event(srv.URL))
	if !out.Delivered {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(gotBody)
	if want := hex.EncodeToString(mac.Sum(nil)); gotSig != want {
		t.Fatalf("signature mismatch: got=%q want=%q", gotSig, want)
	}
}

func TestAttemptNoSignatureWithoutSecret(t *testing.T) {
	var sigPresent bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, sigPresent = r.Header["X-Signature"]
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	_ = NewDispatcher(2*time.Second, "").Attempt(context.Background(), event(srv.URL))
	if sigPresent {
		t.Fatalf("signature header must be absent without a secret")
	}
}

func TestAttemptNonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream exploded with a very long body", http.StatusBadGateway)
	}))
	defer srv.Close()

	out := NewDispatcher(2*time.Second, "").Attempt(context.Background(), event(srv.URL))
	if out.Delivered {
		t.Fatalf("5xx must not count as delivered")
	}
	if out.Reason != "status_502" || out.StatusCode != http.StatusBadGateway {
		t.Fatalf("unexpected classification: %+v", out)
	}
	if strings.Contains(out.Reason, "exploded") {
		t.Fatalf("reason must not carry response body")
	}
}

func TestAttemptTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
	}))
	defer srv.Close()

	out := NewDispatcher(50*time.Millisecond, "").Attempt(context.Background(), event(srv.URL))
	if out.Delivered || out.Reason != "timeout" {
		t.Fatalf("unexpected outcome: %+v", out)
	}
}

func TestAttemptConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	target := srv.URL
	srv.Close()

	out := NewDispatcher(time.Second, "").Attempt(context.Background(), event(target))
	if out.Delivered || out.Reason != "connection_error" {
		t.Fatalf("unexpected outcome: %+v", out)
	}
}
