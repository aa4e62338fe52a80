package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/mohammed-shakir/tilegraph/internal/engine"
	"github.com/mohammed-shakir/tilegraph/internal/events"
	"github.com/mohammed-shakir/tilegraph/internal/graph"
	"github.com/mohammed-shakir/tilegraph/internal/logger"
	"github.com/mohammed-shakir/tilegraph/internal/progress"
	"github.com/mohammed-shakir/tilegraph/internal/quicklook"
	"github.com/mohammed-shakir/tilegraph/internal/raster"
)

type runSummary struct {
	RunID    string       `json:"run_id"`
	Node     string       `json:"node"`
	Region   string       `json:"region"`
	Channels []string     `json:"channels"`
	Tiles    int          `json:"tiles"`
	Elapsed  string       `json:"elapsed"`
	Stats    engine.Stats `json:"stats"`
	PNG      string       `json:"png,omitempty"`
}

func cmdRun(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(e.stderr)
	var gf graphFlags
	gf.register(fs, e.cfg.ParamStrict, e.cfg.TileCacheMax)
	node := fs.String("node", "", "node to compute (default: last node of the graph)")
	channels := fs.String("channels", "", "comma separated channels (default: all)")
	region := fs.String("region", "", "x,y,w,h (default: whole raster)")
	tileW := fs.Int("tile-width", e.cfg.TileWidth, "tile width")
	tileH := fs.Int("tile-height", e.cfg.TileHeight, "tile height")
	workers := fs.Int("workers", e.cfg.PrefetchWorkers, "parallel tile workers")
	pngOut := fs.String("png", "", "write a quicklook of the region to this file (1 or 3 channels)")
	pngSize := fs.Int("png-size", 0, "downscale the quicklook to fit this many pixels per side")
	if err := fs.Parse(args); err != nil {
		return err
	}

	runID := logger.NewID()
	ctx = logger.WithRunID(ctx, runID)
	pub := newPublisher(e)
	defer func() { _ = pub.Close() }()

	run, g, release, err := gf.open(ctx, e, runID)
	if err != nil {
		return err
	}
	defer release()

	target := *node
	if ids := run.Nodes(); target == "" && len(ids) > 0 {
		target = ids[len(ids)-1]
	}
	pub.Publish(events.Event{Type: events.RunStarted, RunID: runID, Graph: filepath.Base(gf.path), Target: target})

	start := time.Now()
	sum, err := computeRegion(ctx, e, run, regionJob{
		node:     target,
		channels: splitCSV(*channels),
		region:   *region,
		tileW:    *tileW,
		tileH:    *tileH,
		workers:  *workers,
		png:      *pngOut,
		pngSize:  *pngSize,
	})
	st := run.Stats()
	done := events.Event{
		RunID:      runID,
		Graph:      filepath.Base(gf.path),
		Target:     target,
		Tiles:      sum.Tiles,
		DurationMS: time.Since(start).Milliseconds(),
		Computed:   st.Computed,
		Hits:       st.Hits,
		Coalesced:  st.Coalesced,
	}
	if err != nil {
		done.Type, done.Error = events.RunFailed, err.Error()
		pub.Publish(done)
		return err
	}
	done.Type = events.RunFinished
	pub.Publish(done)

	sum.RunID = runID
	sum.Elapsed = time.Since(start).Round(time.Millisecond).String()
	sum.Stats = st
	e.log.Info("run finished", "run_id", runID, "nodes", len(g.Nodes), "tiles", sum.Tiles, "stats", st)
	enc := json.NewEncoder(e.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(sum)
}

type regionJob struct {
	node     string
	channels []string
	region   string
	tileW    int
	tileH    int
	workers  int
	png      string
	pngSize  int
}

// computeRegion initializes run, resolves every tile of the region and
// optionally renders the quicklook.
func computeRegion(ctx context.Context, e *env, run *engine.Run, job regionJob) (runSummary, error) {
	sum := runSummary{Node: job.node}
	if err := run.Initialize(ctx); err != nil {
		return sum, err
	}
	p := run.Product(job.node)
	if p == nil {
		return sum, fmt.Errorf("%w %q", graph.ErrUnknownNode, job.node)
	}
	rect, err := parseRegion(job.region, p.Bounds())
	if err != nil {
		return sum, err
	}
	channels := job.channels
	if len(channels) == 0 {
		channels = p.ChannelNames()
	}
	rects := rect.Tiles(job.tileW, job.tileH)
	sum.Region, sum.Channels, sum.Tiles = rect.String(), channels, len(rects)

	var mosaic *quicklook.Mosaic
	if job.png != "" {
		if mosaic, err = quicklook.NewMosaic(rect, len(channels)); err != nil {
			return sum, err
		}
	}

	var (
		mu   sync.Mutex
		last = time.Now()
	)
	pm := progress.New(ctx, func(f float64) {
		mu.Lock()
		defer mu.Unlock()
		if time.Since(last) >= time.Second {
			last = time.Now()
			e.log.Info("progress", "node", job.node, "done", fmt.Sprintf("%.0f%%", f*100))
		}
	})
	e.log.Info("computing region", "node", job.node, "region", rect.String(), "tiles", len(rects), "workers", job.workers)
	if err := run.Prefetch(ctx, job.node, channels, rects, job.workers, pm); err != nil {
		var ce *engine.ComputeError
		if errors.As(err, &ce) {
			e.log.Error("compute failed", "node", ce.Node, "rect", ce.Rect.String(), "err", ce.Err)
		}
		return sum, err
	}

	if mosaic != nil {
		if err := renderMosaic(ctx, run, mosaic, job.node, channels, rects); err != nil {
			return sum, err
		}
		img := quicklook.Fit(mosaic.Image(), job.pngSize)
		if err := quicklook.Save(job.png, img); err != nil {
			return sum, err
		}
		sum.PNG = job.png
	}
	return sum, nil
}

func renderMosaic(ctx context.Context, run *engine.Run, m *quicklook.Mosaic, node string, channels []string, rects []raster.Rectangle) error {
	for _, r := range rects {
		tiles, err := run.Tiles(ctx, node, channels, r, nil)
		if err != nil {
			return err
		}
		ordered := make([]*raster.Tile, len(channels))
		for i, ch := range channels {
			ordered[i] = tiles[ch]
		}
		if err := m.Add(ordered...); err != nil {
			return err
		}
	}
	return nil
}

// newPublisher returns nil when events are disabled; a nil *Publisher
// ignores every call.
func newPublisher(e *env) *events.Publisher {
	if !e.cfg.Events.Enabled {
		return nil
	}
	pub, err := events.NewPublisher(e.cfg.Events.Brokers, e.cfg.Events.Topic, e.cfg.Events.Queue, e.log)
	if err != nil {
		e.log.Warn("events disabled", "brokers", e.cfg.Events.Brokers, "err", err)
		return nil
	}
	return pub
}
