package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/viralforge/mesh/services/integrations/M74-promotion-relay/internal/adapters/webhook"
	"github.com/viralforge/mesh/services/integrations/M74-promotion-relay/internal/application"
	"github.com/viralforge/mesh/services/integrations/M74-promotion-relay/internal/domain"
)

// outageQueue fails every operation with ErrStoreUnavailable, standing in for
// an unreachable store.
type outageQueue struct{}

func (outageQueue) Enqueue(context.Context, domain.PromotionEvent) error {
	return domain.ErrStoreUnavailable
}

func (outageQueue) DrainDue(context.Context, time.Time, int) ([]domain.PromotionEvent, error) {
	return nil, domain.ErrStoreUnavailable
}

func (outageQueue) ResolveSuccess(context.Context, domain.PromotionEvent, time.Time) error {
	return domain.ErrStoreUnavailable
}

func (outageQueue) ResolveFailure(context.Context, domain.PromotionEvent, string, time.Time) error {
	return domain.ErrStoreUnavailable
}

func (outageQueue) TakeAt(context.Context, int) (domain.PromotionEvent, error) {
	return domain.PromotionEvent{}, domain.ErrStoreUnavailable
}

func (outageQueue) ListPending(context.Context) ([]domain.PromotionEvent, error) {
	return nil, domain.ErrStoreUnavailable
}

func (outageQueue) ListDeadLetter(context.Context) ([]domain.PromotionEvent, error) {
	return nil, domain.ErrStoreUnavailable
}

func (outageQueue) Flush(context.Context) (int64, error) {
	return 0, domain.ErrStoreUnavailable
}

func (outageQueue) Stats(context.Context) (domain.StatsSnapshot, error) {
	return domain.StatsSnapshot{}, domain.ErrStoreUnavailable
}

func TestStoreOutageMapsToServiceUnavailable(t *testing.T) {
	svc := application.NewService(application.Dependencies{
		Config:     application.Config{ServiceName: "test"},
		Queue:      outageQueue{},
		Dispatcher: webhook.NewDispatcher(time.Second, ""),
	})
	ready := func(context.Context) error { return domain.ErrStoreUnavailable }
	router := NewRouter(NewHandler(svc, ready))

	for _, tc := range []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/v1/retries"},
		{http.MethodGet, "/api/v1/retries/dead-letter"},
		{http.MethodGet, "/api/v1/retries/stats"},
		{http.MethodPost, "/api/v1/retries/0/dispatch"},
	} {
		req := httptest.NewRequest(tc.method, tc.path, nil)
		req.Header.Set("Authorization", "Bearer admin-1")
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		if rr.Code != http.StatusServiceUnavailable {
			t.Fatalf("%s %s: status=%d body=%s", tc.method, tc.path, rr.Code, rr.Body.String())
		}
		var out errorResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
			t.Fatalf("%s %s: decode: %v", tc.method, tc.path, err)
		}
		if out.Error.Code != "store_unavailable" {
			t.Fatalf("%s %s: unexpected error code: %+v", tc.method, tc.path, out)
		}
	}

	readyRR := httptest.NewRecorder()
	router.ServeHTTP(readyRR, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if readyRR.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz during outage: status=%d body=%s", readyRR.Code, readyRR.Body.String())
	}
}
