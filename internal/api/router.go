package api

import (
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/Fidelis900/crown-commune/internal/api/middleware"
	"github.com/Fidelis900/crown-commune/internal/handlers"
	"github.com/Fidelis900/crown-commune/internal/store"
)

// Options configures the bridge router.
type Options struct {
	Token       string
	CORSOrigins []string
}

// NewRouter creates and configures the HTTP router for the local bridge.
// redisStore may be nil, in which case commands are not rate limited.
func NewRouter(logger zerolog.Logger, h *handlers.Handler, redisStore *store.RedisStore, opts Options) *chi.Mux {
	r := chi.NewRouter()

	// Metrics middleware (first to capture all requests)
	r.Use(middleware.Metrics)

	// Security middleware (order matters!)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.MaxBodySize(16 * 1024))
	r.Use(middleware.ValidateRequest)

	// Standard middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(chimw.Recoverer)

	if redisStore != nil {
		r.Use(middleware.NewRateLimiter(redisStore.Client(), logger).Middleware)
	}

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Metrics endpoint (for Prometheus scraping)
	r.Handle("/metrics", promhttp.Handler())

	// Public routes
	r.Get("/", h.Root)
	r.Get("/health", h.Health)
	r.Get("/ranks", h.Ranks)

	// Session routes (require the bridge token)
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireToken(opts.Token))

		r.Get("/view", h.View)
		r.Get("/stats", h.Stats)
		r.Get("/who/{id}", h.Who)

		r.Get("/channels", h.ListChannels)
		r.Post("/channels/{id}/select", h.SelectChannel)

		r.Get("/messages", h.Messages)
		r.Post("/messages", h.PostMessage)
		r.Patch("/messages/{id}", h.EditMessage)
		r.Delete("/messages/{id}", h.DeleteMessage)
		r.Post("/messages/{id}/reactions", h.ToggleReaction)

		r.Put("/status", h.SetStatus)
		r.Post("/typing", h.StartTyping)
		r.Delete("/typing", h.StopTyping)
		r.Post("/profile/reconcile", h.ReconcileProfile)
	})

	return r
}
