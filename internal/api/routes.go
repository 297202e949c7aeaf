package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter creates a new router with all routes configured. limiter guards
// the endpoints that spend provider quota; nil disables it.
func NewRouter(h *Handler, limiter *RateLimiter) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware (all routes)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(LoggingMiddleware)
	r.Use(RecoveryMiddleware)

	if limiter == nil {
		limiter = NewRateLimiter(0, 0)
	}

	r.Route("/api/v1", func(r chi.Router) {
		// Public routes
		r.Get("/health", h.Health)

		r.Group(func(r chi.Router) {
			if h.apiKey != "" {
				r.Use(AuthMiddleware(h.apiKey))
			}
			r.Get("/search", h.Search)
			r.Get("/summaries/{title}", h.Summary)
			r.Post("/moderate", h.Moderate)
			r.Get("/audio/{name}", h.Audio)

			r.Group(func(r chi.Router) {
				r.Use(limiter.Middleware)
				r.Post("/recommend", h.Recommend)
				r.Post("/speech", h.Speech)
				r.Post("/transcriptions", h.Transcribe)
			})
		})
	})

	return r
}
