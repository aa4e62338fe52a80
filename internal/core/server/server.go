package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mohammed-shakir/tilegraph/internal/core/config"
	"github.com/mohammed-shakir/tilegraph/internal/core/health"
	"github.com/mohammed-shakir/tilegraph/internal/core/middleware"
	"github.com/mohammed-shakir/tilegraph/internal/core/router"
	"github.com/mohammed-shakir/tilegraph/internal/operator"
)

// Computation is what the server exposes; *engine.Run satisfies it.
type Computation interface {
	router.Source
	health.ReadinessReporter
}

// NewHandler wires the HTTP API over one initialized run. metrics may be
// nil, in which case the default Prometheus gatherer is exposed.
func NewHandler(cfg config.Config, logger *slog.Logger, run Computation, reg *operator.Registry, metrics http.Handler) http.Handler {
	if reg == nil {
		reg = operator.Default
	}
	if metrics == nil {
		metrics = promhttp.Handler()
	}
	path := cfg.Metrics.Path
	if path == "" {
		path = "/metrics"
	}

	r := chi.NewRouter()
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logging(logger))
	r.Use(middleware.CORS())
	r.Use(middleware.Metrics())

	r.Get("/healthz", health.Liveness())
	r.Get("/readyz", health.Readiness(run))
	r.Method(http.MethodGet, path, metrics)
	r.Get("/operators", router.HandleOperators(reg))
	r.Route("/nodes", func(r chi.Router) {
		r.Get("/", router.HandleNodes(run))
		r.Get("/{node}", router.HandleNode(run))
		r.Get("/{node}/tile", router.HandleTile(logger, cfg, run))
		r.Get("/{node}/channels/{channel}/tile", router.HandleTile(logger, cfg, run))
	})
	return r
}

// Run serves handler on cfg.Addr until ctx is canceled.
func Run(ctx context.Context, cfg config.Config, logger *slog.Logger, handler http.Handler) error {
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listen", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
