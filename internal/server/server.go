// Package server exposes sync status, health probes and Prometheus metrics
// over HTTP.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/syncrail/syncrail/internal/config"
	"github.com/syncrail/syncrail/internal/core/store"
	"github.com/syncrail/syncrail/internal/metrics"
	"github.com/syncrail/syncrail/internal/server/handlers"
	servermw "github.com/syncrail/syncrail/internal/server/middleware"
)

// Options carries everything the status server serves.
type Options struct {
	Config config.ServerConfig

	// Store backs the readiness probe and the rate-limit listing. May be
	// nil, in which case both degrade gracefully.
	Store *store.Store

	// Tracker holds in-process run history for the status endpoint.
	Tracker *metrics.Tracker

	// Registry is scraped by the metrics endpoint and receives the HTTP
	// middleware metrics. Defaults to a fresh registry.
	Registry *prometheus.Registry

	Logger *zap.Logger
	Build  handlers.Info
}

// Server is the HTTP status server.
type Server struct {
	router *chi.Mux
	server *http.Server
	cfg    config.ServerConfig
	logger *zap.Logger
}

// New assembles the router, middleware and routes.
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Registry == nil {
		opts.Registry = prometheus.NewRegistry()
	}

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(servermw.RequestID)
	r.Use(servermw.RequestMetrics(servermw.NewHTTPMetrics(opts.Registry), logger))
	r.Use(servermw.Recovery(logger))

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		handlers.WriteError(w, http.StatusNotFound, "NOT_FOUND",
			"the requested resource was not found", servermw.GetRequestID(req.Context()))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		handlers.WriteError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED",
			"the requested method is not allowed for this resource", servermw.GetRequestID(req.Context()))
	})

	s := &Server{
		router: r,
		cfg:    opts.Config,
		logger: logger,
	}
	s.registerRoutes(opts)

	return s
}

// Start blocks serving HTTP until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  orDuration(s.cfg.ReadTimeout, 30*time.Second),
		WriteTimeout: orDuration(s.cfg.WriteTimeout, 30*time.Second),
		IdleTimeout:  orDuration(s.cfg.IdleTimeout, 120*time.Second),
	}

	s.logger.Info("starting http server", zap.String("addr", addr))

	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	s.logger.Info("shutting down http server")
	return s.server.Shutdown(ctx)
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Port returns the configured port.
func (s *Server) Port() int {
	return s.cfg.Port
}

func orDuration(d, fallback time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return fallback
}
