// Package server runs the local diagnostics HTTP server: health, stats and
// Prometheus metrics for a running console session.
package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/lakefront/s3console/internal/config"
	"github.com/lakefront/s3console/internal/metrics"
	"github.com/lakefront/s3console/internal/server/handlers"
	"github.com/lakefront/s3console/internal/server/middleware"
)

// Options wires the server to the running subsystems.
type Options struct {
	Config  config.ServerConfig
	Logger  *zap.Logger
	Health  *handlers.HealthManager
	Stats   handlers.StatsSources
	Metrics *metrics.Collector
}

// Server is the diagnostics HTTP server.
type Server struct {
	srv    *http.Server
	logger *zap.Logger
	cfg    config.ServerConfig
}

// New builds the router and server. Metrics is optional.
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	health := opts.Health
	if health == nil {
		health = handlers.NewHealthManager("dev")
	}

	r := chi.NewRouter()
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestLogger(logger))

	r.Get("/healthz", health.HealthHandler)
	r.Get("/api/stats", handlers.StatsHandler(opts.Stats))
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics.Handler())
	}

	return &Server{
		srv: &http.Server{
			Addr:         opts.Config.Addr(),
			Handler:      r,
			ReadTimeout:  opts.Config.ReadTimeout,
			WriteTimeout: opts.Config.WriteTimeout,
			IdleTimeout:  opts.Config.IdleTimeout,
		},
		logger: logger,
		cfg:    opts.Config,
	}
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// ListenAndServe blocks until the server stops. http.ErrServerClosed is
// normalized to nil.
func (s *Server) ListenAndServe() error {
	s.logger.Info("diagnostics server listening", zap.String("addr", s.srv.Addr))
	err := s.srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests within the configured timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.cfg.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
		defer cancel()
	}
	return s.srv.Shutdown(ctx)
}
