package app

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/medgate/inference-gateway/internal/adapter/httpserver"
	"github.com/medgate/inference-gateway/internal/adapter/observability"
	"github.com/medgate/inference-gateway/internal/config"
)

// ParseOrigins splits a comma-separated origin list into a slice, trimming
// spaces. Empty input allows any origin.
func ParseOrigins(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" || s == "*" {
		return []string{"*"}
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}

// BuildRouter constructs the HTTP handler with all middleware and routes.
// Bearer auth guards the API surface only; health, readiness and metrics
// stay open for orchestrators and scrapers.
func BuildRouter(cfg config.Config, srv *httpserver.Server) http.Handler {
	r := chi.NewRouter()
	r.Use(httpserver.Recoverer())
	r.Use(httpserver.RequestID())
	r.Use(httpserver.TimeoutMiddleware(outerTimeout(cfg)))
	r.Use(httpserver.TraceMiddleware)
	r.Use(httpserver.AccessLog())
	r.Use(observability.HTTPMetricsMiddleware)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   ParseOrigins(cfg.CORSAllowOrigins),
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"X-Request-Id", "Retry-After", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Group(func(api chi.Router) {
		api.Use(srv.RequireAuth())
		api.Post("/v1/chat/completions", srv.ChatCompletionsHandler())
		api.Post("/v1/async/submit", srv.SubmitHandler())
		api.Post("/v1/async/submit-batch", srv.SubmitBatchHandler())
		api.Get("/v1/async/status/{taskID}", srv.StatusHandler())
		api.Get("/v1/async/result/{taskID}", srv.ResultHandler())
		api.Delete("/v1/async/cancel/{taskID}", srv.CancelHandler())
		api.Get("/v1/async/batch/{batchID}", srv.BatchStatusHandler())
		api.Get("/v1/async/stats", srv.StatsHandler())
		api.Get("/v1/async/health", srv.QueueHealthHandler())
		api.Get("/v1/gpu/status", srv.GPUStatusHandler())
		api.Get("/models", srv.ModelsHandler())
	})

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Get("/readyz", srv.ReadyzHandler())
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	return httpserver.SecurityHeaders(r)
}

// outerTimeout sizes the whole-request cut above the dispatch budget so an
// exhausted upstream deadline surfaces as 504 from the error mapper rather
// than a blunt 503 from the timeout wrapper.
func outerTimeout(cfg config.Config) time.Duration {
	budget := cfg.DefaultRequestTimeout
	if budget <= 0 {
		budget = 60 * time.Second
	}
	return budget + 5*time.Second
}
