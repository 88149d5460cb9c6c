package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/syncrail/syncrail/internal/server/handlers"
)

func (s *Server) registerRoutes(opts Options) {
	health := handlers.NewHealthManager(opts.Build.Version)
	if opts.Store != nil {
		health.RegisterChecker("store", handlers.HealthCheckerFunc(opts.Store.Ping))
	}

	s.router.Get("/healthz", health.LivenessHandler)
	s.router.Get("/readyz", health.ReadinessHandler)
	s.router.Get("/version", handlers.VersionHandler(opts.Build))

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", handlers.StatusHandler(opts.Tracker))
		r.Get("/ratelimit", handlers.RateLimitHandler(opts.Store, s.logger))
	})

	s.router.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(
		opts.Registry,
		promhttp.HandlerOpts{},
	))
}
