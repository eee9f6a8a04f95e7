package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/lalithlochan/verdant/internal/metrics"
)

// RouterConfig wires the HTTP surface.
type RouterConfig struct {
	Handler   *Handler
	Limiter   Limiter // nil disables rate limiting
	RateLimit int
	Logger    *zap.Logger
}

// NewRouter builds the chi router for the trigger API.
func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)

	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration_ms", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Use(RateLimitMiddleware(cfg.Limiter, cfg.RateLimit, logger, IPKeyFunc))

		r.Post("/reminders/run", cfg.Handler.RunReminders)
	})

	r.Get("/health", cfg.Handler.Health)
	r.Handle("/metrics", metrics.Handler())

	return r
}
