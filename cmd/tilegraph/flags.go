package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/mohammed-shakir/tilegraph/internal/engine"
	"github.com/mohammed-shakir/tilegraph/internal/graph"
	"github.com/mohammed-shakir/tilegraph/internal/raster"
)

// overrides collects repeated -set node.key=value flags.
type overrides map[string]map[string]string

func (o overrides) String() string {
	var parts []string
	for n, kv := range o {
		for k, v := range kv {
			parts = append(parts, n+"."+k+"="+v)
		}
	}
	sort.Strings(parts)
	return strings.Join(parts, ",")
}

func (o overrides) Set(s string) error {
	key, val, ok := strings.Cut(s, "=")
	if !ok {
		return fmt.Errorf("override %q: want node.key=value", s)
	}
	node, name, ok := strings.Cut(strings.TrimSpace(key), ".")
	if !ok || node == "" || name == "" {
		return fmt.Errorf("override %q: want node.key=value", s)
	}
	if o[node] == nil {
		o[node] = map[string]string{}
	}
	o[node][name] = val
	return nil
}

// graphFlags are shared by the commands that build a run.
type graphFlags struct {
	path     string
	strict   bool
	cacheMax int
	set      overrides
}

func (g *graphFlags) register(fs *flag.FlagSet, strict bool, cacheMax int) {
	g.set = overrides{}
	fs.StringVar(&g.path, "graph", "", "graph document (YAML)")
	fs.BoolVar(&g.strict, "strict", strict, "fail on unknown parameter keys")
	fs.IntVar(&g.cacheMax, "cache-max", cacheMax, "bound the tile cache to this many tiles (0 = unbounded)")
	fs.Var(g.set, "set", "parameter override node.key=value (repeatable)")
}

// open loads the graph, connects the raster store when the graph reads from
// it, and initializes the run. release closes both.
func (g *graphFlags) open(ctx context.Context, e *env, runID string) (run *engine.Run, gr *graph.Graph, release func(), err error) {
	if g.path == "" {
		return nil, nil, nil, errors.New("-graph is required")
	}
	gr, err = graph.LoadFile(g.path)
	if err != nil {
		return nil, nil, nil, err
	}
	for node := range g.set {
		if gr.Node(node) == nil {
			return nil, nil, nil, fmt.Errorf("-set: %w %q", graph.ErrUnknownNode, node)
		}
	}
	closeStore, err := connectStore(ctx, e, gr)
	if err != nil {
		return nil, nil, nil, err
	}
	run, err = engine.New(gr, engine.Options{
		Logger:         e.log,
		Strict:         g.strict,
		MaxCachedTiles: g.cacheMax,
		RunID:          runID,
		Overrides:      g.set,
	})
	if err != nil {
		closeStore()
		return nil, nil, nil, err
	}
	return run, gr, func() {
		_ = run.Close()
		closeStore()
	}, nil
}

// parseRegion reads "x,y,w,h"; empty means the whole raster.
func parseRegion(s string, bounds raster.Rectangle) (raster.Rectangle, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return bounds, nil
	}
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return raster.Rectangle{}, fmt.Errorf("region %q: want x,y,w,h", s)
	}
	var v [4]int
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return raster.Rectangle{}, fmt.Errorf("region %q: %w", s, err)
		}
		v[i] = n
	}
	r, err := raster.Rect(v[0], v[1], v[2], v[3])
	if err != nil {
		return raster.Rectangle{}, err
	}
	if r.Empty() || !bounds.ContainsRect(r) {
		return raster.Rectangle{}, fmt.Errorf("region %s: %w %s", r, engine.ErrInvalidRegion, bounds)
	}
	return r, nil
}

func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
