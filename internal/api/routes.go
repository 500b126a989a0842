package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouteOptions carries the middleware the router needs beyond handlers.
type RouteOptions struct {
	AllowedOrigins []string
	// RequireAdmin guards the upload route.
	RequireAdmin func(http.Handler) http.Handler
	// IntakeLimiter throttles public registrations. Nil disables it.
	IntakeLimiter *IPRateLimiter
	Health        *HealthChecker
}

// SetupRoutes configures all routes.
func SetupRoutes(h *Handlers, opts RouteOptions) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	if opts.Health != nil {
		r.Get("/health", opts.Health.HandleHealth)
		r.Get("/health/live", opts.Health.HandleLiveness)
		r.Get("/health/ready", opts.Health.HandleReadiness)
	}

	r.Route("/api", func(r chi.Router) {
		r.Route("/pricing", func(r chi.Router) {
			r.Get("/", h.ListPricing)
			r.With(opts.RequireAdmin).Post("/upload", h.UploadPricing)
		})

		r.Route("/marketplace/registrations", func(r chi.Router) {
			r.Get("/count", h.MarketplaceCount)
			if opts.IntakeLimiter != nil {
				r.With(opts.IntakeLimiter.Middleware).Post("/", h.RegisterMarketplace)
			} else {
				r.Post("/", h.RegisterMarketplace)
			}
		})
	})

	return r
}
