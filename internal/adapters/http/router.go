package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// NewRouter registers the queue control surface routes and middleware stack.
func NewRouter(handler *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(recoverMiddleware)
	r.Use(loggingMiddleware)

	r.Get("/healthz", handler.healthz)
	r.Get("/readyz", handler.readyz)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(actorMiddleware)
		r.Post("/promotions", handler.enqueuePromotion)
		r.Get("/retries", handler.listRetries)
		r.Get("/retries/dead-letter", handler.listDeadLetter)
		r.Get("/retries/stats", handler.stats)
		r.Post("/retries/{index}/dispatch", handler.manualDispatch)
		r.Post("/retries/flush", handler.flushRetries)
	})
	return r
}
