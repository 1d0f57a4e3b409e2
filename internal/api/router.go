package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"cmipcat/internal/middleware"
)

// RouterOptions configures the middleware stack.
type RouterOptions struct {
	// RateLimiter throttles /v1 routes; nil disables limiting.
	RateLimiter *middleware.RateLimiter
	// AllowedOrigins for CORS; empty disables the CORS middleware.
	AllowedOrigins []string
	Logger         *slog.Logger
}

// NewRouter mounts the handler's endpoints.
func NewRouter(h *Handler, opts RouterOptions) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = h.logger
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.AccessLog(logger))
	r.Use(chimw.Recoverer)
	if len(opts.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: opts.AllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type", middleware.RequestIDHeader},
			ExposedHeaders: []string{middleware.RequestIDHeader, "X-RateLimit-Limit", "X-RateLimit-Remaining"},
			MaxAge:         300,
		}))
	}

	r.Get("/health", h.health)
	r.Route("/v1", func(r chi.Router) {
		if opts.RateLimiter != nil {
			r.Use(opts.RateLimiter.Handler)
		}
		r.Get("/info", h.info)
		r.Get("/entries", h.listEntries)
		r.Get("/files", h.listFiles)
		r.Get("/values/{field}", h.listValues)
		r.Get("/variables/{varname}", h.getVariable)
		r.Get("/ensembles", h.planEnsemble)
	})
	return r
}
