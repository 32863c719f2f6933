package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/viralforge/mesh/services/integrations/M74-promotion-relay/internal/application"
)

// Handler is the HTTP adapter for the queue control surface. The ready check
// is injected so transport stays unaware of the concrete store.
type Handler struct {
	service *application.Service
	ready   func(context.Context) error
}

func NewHandler(service *application.Service, ready func(context.Context) error) *Handler {
	return &Handler{service: service, ready: ready}
}

func (h *Handler) enqueuePromotion(w http.ResponseWriter, r *http.Request) {
	actor := actorFromContext(r.Context())
	var req application.EnqueueInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "invalid json body", requestIDFromContext(r.Context()))
		return
	}
	ev, err := h.service.EnqueuePromotion(r.Context(), actor, req)
	if err != nil {
		status, code := mapDomainError(err)
		logHTTPOperationError(r.Context(), "enqueue_promotion", status, code, err)
		writeError(w, status, code, err.Error(), requestIDFromContext(r.Context()))
		return
	}
	writeSuccess(w, http.StatusAccepted, "", ev)
}

func (h *Handler) listRetries(w http.ResponseWriter, r *http.Request) {
	actor := actorFromContext(r.Context())
	entries, err := h.service.ListRetries(r.Context(), actor)
	if err != nil {
		status, code := mapDomainError(err)
		logHTTPOperationError(r.Context(), "list_retries", status, code, err)
		writeError(w, status, code, err.Error(), requestIDFromContext(r.Context()))
		return
	}
	writeSuccess(w, http.StatusOK, "", entries)
}

func (h *Handler) listDeadLetter(w http.ResponseWriter, r *http.Request) {
	actor := actorFromContext(r.Context())
	entries, err := h.service.ListDeadLetter(r.Context(), actor)
	if err != nil {
		status, code := mapDomainError(err)
		logHTTPOperationError(r.Context(), "list_dead_letter", status, code, err)
		writeError(w, status, code, err.Error(), requestIDFromContext(r.Context()))
		return
	}
	writeSuccess(w, http.StatusOK, "", entries)
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	actor := actorFromContext(r.Context())
	snap, err := h.service.Stats(r.Context(), actor)
	if err != nil {
		status, code := mapDomainError(err)
		logHTTPOperationError(r.Context(), "queue_stats", status, code, err)
		writeError(w, status, code, err.Error(), requestIDFromContext(r.Context()))
		return
	}
	writeSuccess(w, http.StatusOK, "", snap)
}

func (h *Handler) manualDispatch(w http.ResponseWriter, r *http.Request) {
	actor := actorFromContext(r.Context())
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil || index < 0 {
		writeError(w, http.StatusBadRequest, "invalid_input", "index must be a non-negative integer", requestIDFromContext(r.Context()))
		return
	}
	res, err := h.service.ManualDispatch(r.Context(), actor, index)
	if err != nil {
		status, code := mapDomainError(err)
		logHTTPOperationError(r.Context(), "manual_dispatch", status, code, err)
		writeError(w, status, code, err.Error(), requestIDFromContext(r.Context()))
		return
	}
	writeSuccess(w, http.StatusOK, "", res)
}

func (h *Handler) flushRetries(w http.ResponseWriter, r *http.Request) {
	actor := actorFromContext(r.Context())
	var req struct {
		Confirm string `json:"confirm"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "invalid json body", requestIDFromContext(r.Context()))
		return
	}
	res, err := h.service.FlushRetries(r.Context(), actor, req.Confirm)
	if err != nil {
		status, code := mapDomainError(err)
		logHTTPOperationError(r.Context(), "flush_retries", status, code, err)
		writeError(w, status, code, err.Error(), requestIDFromContext(r.Context()))
		return
	}
	writeSuccess(w, http.StatusOK, "pending queue flushed", res)
}

func (h *Handler) healthz(w http.ResponseWriter, _ *http.Request) {
	writeSuccess(w, http.StatusOK, "ok", nil)
}

func (h *Handler) readyz(w http.ResponseWriter, r *http.Request) {
	if h.ready != nil {
		if err := h.ready(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "store_unavailable", "store not reachable", requestIDFromContext(r.Context()))
			return
		}
	}
	writeSuccess(w, http.StatusOK, "ready", nil)
}
