package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const readinessTimeout = 2 * time.Second

// RouterConfig — параметры маршрутизации.
type RouterConfig struct {
	// JWTSecret — секрет подписи токенов.
	JWTSecret string

	// Idempotency — middleware идемпотентности (nil — не используется).
	Idempotency Middleware
}

// Router собирает chi router со всеми маршрутами API.
//
// Порядок middleware для /v1: Recovery, Logging, JWTAuth, Idempotency.
func (h *Handler) Router(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(Recovery(h.logger), Logging(h.logger))

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		Error(w, http.StatusNotFound, ErrCodeRouteNotMatched, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		Error(w, http.StatusMethodNotAllowed, ErrCodeMethodNotAllow, "method not allowed")
	})

	r.Get("/healthz", h.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(JWTAuth(cfg.JWTSecret))
		if cfg.Idempotency != nil {
			r.Use(cfg.Idempotency)
		}

		r.Post("/events/trigger", h.TriggerEvent)
		r.Delete("/events/trigger/{transactionId}", h.CancelEvent)

		r.Get("/jobs/{id}", h.GetJob)
		r.Get("/transactions/{id}/jobs", h.ListTransactionJobs)
	})

	return r
}

// Health — готовность распределённого хранилища.
// GET /healthz
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	if h.store != nil && !h.store.IsReady(ctx) {
		Error(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "store is not ready")
		return
	}
	Success(w, map[string]string{"status": "ok"})
}
