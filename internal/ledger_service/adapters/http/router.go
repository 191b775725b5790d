package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
)

type RouterConfig struct {
	JWTSecret          []byte
	RateLimitPerMinute int
	RequestTimeout     time.Duration
}

// NewRouter wires the public API, the gateway callback and the health probe.
// The rate limiter state lives in the returned router, one per process.
func NewRouter(h *Handler, cfg RouterConfig, logger *slog.Logger) http.Handler {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(httpLogger(logger.With("component", "http")))
	r.Use(chimiddleware.Recoverer)
	r.Use(PrometheusMetricsMiddleware)
	r.Use(chimiddleware.Timeout(cfg.RequestTimeout))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Post("/webhooks/mpesa/callback", h.MpesaCallback)

	r.Route("/api/v1", func(r chi.Router) {
		if cfg.RateLimitPerMinute > 0 {
			r.Use(httprate.LimitByIP(cfg.RateLimitPerMinute, time.Minute))
		}
		r.Use(AuthMiddleware(cfg.JWTSecret, logger))
		r.Route("/goals", h.registerGoalRoutes)
		r.Route("/transactions", h.registerTransactionRoutes)
		r.Route("/analytics", h.registerAnalyticsRoutes)
	})
	return r
}
