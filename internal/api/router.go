package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/onehubexpress/search/internal/auth"
	"github.com/onehubexpress/search/internal/config"
)

func NewRouter(handler *Handler, health *HealthHandler, verifier *auth.Verifier, cfg config.ServerConfig, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(RecoveryMiddleware(logger))
	r.Use(CORSMiddleware(cfg.AllowedOrigins))
	r.Use(RequestIDMiddleware)
	r.Use(auth.Middleware(verifier, logger))
	r.Use(LoggingMiddleware(logger))

	// Probes and scrapes sit outside the limiter so they still answer under load.
	r.Get("/healthz", health.Liveness)
	r.Get("/readyz", health.Readiness)
	r.Handle("/metrics", promhttp.Handler())

	handler.AllowOrigins(cfg.AllowedOrigins)

	r.Route("/api/v1", func(r chi.Router) {
		// Long-lived; holding a limiter slot for its lifetime would starve search.
		r.Get("/suggestions/ws", handler.SuggestionsWS)

		r.Group(func(r chi.Router) {
			cl := NewConcurrencyLimiter(cfg.MaxConcurrent, logger)
			r.Use(cl.Middleware)

			r.With(SearchRecoveryMiddleware(logger)).Get("/search", handler.Search)
			r.With(SearchRecoveryMiddleware(logger)).Post("/search", handler.Search)
			r.Get("/suggestions", handler.Suggestions)
			r.Get("/history", handler.History)
			r.Get("/trending", handler.Trending)
			r.Get("/stats/categories", handler.CategoryStats)
		})
	})

	return r
}
