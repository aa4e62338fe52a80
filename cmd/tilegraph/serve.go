package main

import (
	"context"
	"flag"
	"path/filepath"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/mohammed-shakir/tilegraph/internal/core/server"
	"github.com/mohammed-shakir/tilegraph/internal/events"
	"github.com/mohammed-shakir/tilegraph/internal/logger"
	"github.com/mohammed-shakir/tilegraph/internal/metrics"
	"github.com/mohammed-shakir/tilegraph/internal/operator"
)

func cmdServe(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(e.stderr)
	var gf graphFlags
	gf.register(fs, e.cfg.ParamStrict, e.cfg.TileCacheMax)
	fs.StringVar(&e.cfg.Addr, "addr", e.cfg.Addr, "listen address")
	fs.IntVar(&e.cfg.TileWidth, "tile-width", e.cfg.TileWidth, "default tile width of requests without w")
	fs.IntVar(&e.cfg.TileHeight, "tile-height", e.cfg.TileHeight, "default tile height of requests without h")
	if err := fs.Parse(args); err != nil {
		return err
	}

	prov, err := metrics.Init(metrics.Config{
		Enabled: e.cfg.Metrics.Enabled,
		Addr:    e.cfg.Metrics.Addr,
		Path:    e.cfg.Metrics.Path,
		Build:   metrics.BuildInfo{Version: Version, GoVersion: runtime.Version()},
	})
	if err != nil {
		return err
	}
	go func() {
		if err := prov.Serve(ctx, e.log); err != nil {
			e.log.Error("metrics server", "err", err)
		}
	}()

	runID := logger.NewID()
	ctx = logger.WithRunID(ctx, runID)
	pub := newPublisher(e)
	defer func() { _ = pub.Close() }()

	run, _, release, err := gf.open(ctx, e, runID)
	if err != nil {
		return err
	}
	graphName := filepath.Base(gf.path)
	started := time.Now()
	var failed atomic.Bool
	initDone := make(chan struct{})
	defer func() {
		<-initDone
		st := run.Stats()
		release()
		if failed.Load() {
			return
		}
		pub.Publish(events.Event{
			Type:       events.RunFinished,
			RunID:      runID,
			Graph:      graphName,
			DurationMS: time.Since(started).Milliseconds(),
			Computed:   st.Computed,
			Hits:       st.Hits,
			Coalesced:  st.Coalesced,
		})
	}()

	// Serve /healthz and /readyz while operators initialize.
	go func() {
		defer close(initDone)
		pub.Publish(events.Event{Type: events.RunStarted, RunID: runID, Graph: graphName})
		if err := run.Initialize(ctx); err != nil {
			failed.Store(true)
			e.log.Error("initialize failed; run stays not ready", "err", err)
			pub.Publish(events.Event{Type: events.RunFailed, RunID: runID, Graph: graphName, Error: err.Error()})
			return
		}
		e.log.Info("run ready", "nodes", run.Nodes(), "took", time.Since(started).String())
	}()

	handler := server.NewHandler(e.cfg, e.log, run, operator.Default, prov.Handler())
	return server.Run(ctx, e.cfg, e.log, handler)
}
