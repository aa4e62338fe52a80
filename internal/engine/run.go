// Package engine evaluates a processing graph lazily: a tile of a node is
// computed only when requested, pulling exactly the source regions it needs,
// and at most once per run.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/mohammed-shakir/tilegraph/internal/core/observability"
	"github.com/mohammed-shakir/tilegraph/internal/graph"
	"github.com/mohammed-shakir/tilegraph/internal/logger"
	"github.com/mohammed-shakir/tilegraph/internal/operator"
	"github.com/mohammed-shakir/tilegraph/internal/param"
	"github.com/mohammed-shakir/tilegraph/internal/raster"
)

var (
	ErrCycle         = graph.ErrCycle
	ErrInvalidRegion = errors.New("region outside raster bounds")
)

// ComputeError attributes an operator failure to the tile being computed.
type ComputeError struct {
	Node     string
	Operator string
	Channel  string
	Rect     raster.Rectangle
	Err      error
}

func (e *ComputeError) Error() string {
	ch := e.Channel
	if ch == "" {
		ch = "*"
	}
	return fmt.Sprintf("compute %s/%s %s (%s): %v", e.Node, ch, e.Rect, e.Operator, e.Err)
}

func (e *ComputeError) Unwrap() error { return e.Err }

type Options struct {
	// Registry resolves operator types; operator.Default when nil.
	Registry *operator.Registry
	Logger   *slog.Logger
	// Strict makes unknown parameter keys fail initialization.
	Strict bool
	// MaxCachedTiles bounds the tile cache with LRU eviction; 0 keeps every
	// tile until Close.
	MaxCachedTiles int
	RunID          string
	// Overrides are applied on top of the graph's parameters, keyed by node
	// id and then parameter name.
	Overrides map[string]map[string]string
}

type Stats struct {
	Computed  int64 `json:"computed"`
	Hits      int64 `json:"hits"`
	Coalesced int64 `json:"coalesced"`
	Evicted   int64 `json:"evicted"`
	Cached    int   `json:"cached"`
}

type runState int

const (
	stateNew runState = iota
	stateInitializing
	stateReady
	stateClosed
)

type node struct {
	id       string
	opType   string
	ctx      *operator.Context
	params   *param.Container
	perBand  bool
	allBands bool
}

// Run is one top-level execution scope. Contexts and cached tiles belong to
// it and are released by Close.
type Run struct {
	id        string
	g         *graph.Graph
	order     []*graph.Node
	reg       *operator.Registry
	log       *slog.Logger
	strict    bool
	overrides map[string]map[string]string

	mu    sync.RWMutex
	state runState
	nodes map[string]*node
	inits []*node

	cache *tileCache

	computed  atomic.Int64
	hits      atomic.Int64
	coalesced atomic.Int64
}

var _ operator.Resolver = (*Run)(nil)

func New(g *graph.Graph, opts Options) (*Run, error) {
	order, err := g.Order()
	if err != nil {
		return nil, err
	}
	reg := opts.Registry
	if reg == nil {
		reg = operator.Default
	}
	id := opts.RunID
	if id == "" {
		id = logger.NewID()
	}
	lg := opts.Logger
	if lg == nil {
		lg = slog.Default()
	}
	return &Run{
		id:        id,
		g:         g,
		order:     order,
		reg:       reg,
		log:       lg.With("run_id", id),
		strict:    opts.Strict,
		overrides: opts.Overrides,
		nodes:     make(map[string]*node, len(order)),
		cache:     newTileCache(opts.MaxCachedTiles),
	}, nil
}

func (r *Run) ID() string { return r.id }

// Initialize binds parameters and initializes every node once, sources
// first. On failure every operator created so far is disposed and the run
// is closed.
func (r *Run) Initialize(ctx context.Context) error {
	r.mu.Lock()
	switch r.state {
	case stateClosed:
		r.mu.Unlock()
		return operator.ErrRunClosed
	case stateInitializing, stateReady:
		r.mu.Unlock()
		return operator.ErrAlreadyInitialized
	}
	r.state = stateInitializing
	r.mu.Unlock()

	for _, gn := range r.order {
		if err := ctx.Err(); err != nil {
			r.Close()
			return err
		}
		if err := r.initNode(gn); err != nil {
			r.log.ErrorContext(logger.WithNode(ctx, gn.ID), "run initialization failed", "err", err)
			r.Close()
			return err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == stateClosed {
		return operator.ErrRunClosed
	}
	r.state = stateReady
	r.log.Info("run initialized", "nodes", len(r.inits))
	return nil
}

func (r *Run) initNode(gn *graph.Node) error {
	op, spi, err := r.reg.New(gn.Operator)
	if err != nil {
		return fmt.Errorf("node %q: %w", gn.ID, err)
	}
	params, err := param.Bind(spi.Params(), gn.RawParameters(), param.BindOptions{Strict: r.strict})
	if err == nil {
		err = r.applyOverrides(gn.ID, params)
	}
	if err != nil {
		op.Dispose()
		observability.IncBindFailure(param.Reason(err))
		return fmt.Errorf("node %q: %w", gn.ID, err)
	}

	refs := make([]*operator.SourceRef, 0, len(gn.Sources))
	r.mu.RLock()
	for _, s := range gn.Sources {
		up := r.nodes[s.Node]
		refs = append(refs, &operator.SourceRef{Name: s.Name, Node: s.Node, Product: up.ctx.Target()})
	}
	r.mu.RUnlock()

	oc := operator.NewContext(op, operator.ContextConfig{
		Node:     gn.ID,
		Type:     gn.Operator,
		Logger:   r.log,
		Params:   params.Values(),
		Sources:  refs,
		Resolver: r,
	})
	n := &node{id: gn.ID, opType: gn.Operator, ctx: oc, params: params}
	n.perBand, n.allBands = operator.Strategies(op)

	// registered before Initialize so Close disposes it even on failure
	r.mu.Lock()
	r.nodes[gn.ID] = n
	r.inits = append(r.inits, n)
	r.mu.Unlock()

	p, err := oc.Initialize()
	if err != nil {
		return err
	}
	r.log.Debug("node initialized", "node", gn.ID, "operator", gn.Operator,
		"width", p.Width, "height", p.Height, "channels", p.ChannelNames())
	return nil
}

func (r *Run) applyOverrides(id string, c *param.Container) error {
	ov := r.overrides[id]
	keys := make([]string, 0, len(ov))
	for k := range ov {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := c.Set(k, ov[k]); err != nil {
			return err
		}
	}
	return nil
}

// Close disposes every operator exactly once and drops the tile cache.
// Requests made afterwards fail with operator.ErrRunClosed.
func (r *Run) Close() error {
	r.mu.Lock()
	if r.state == stateClosed {
		r.mu.Unlock()
		return nil
	}
	r.state = stateClosed
	nodes := r.inits
	r.mu.Unlock()

	for i := len(nodes) - 1; i >= 0; i-- {
		nodes[i].ctx.Dispose()
	}
	r.cache.purge()
	r.log.Info("run closed", "stats", r.Stats())
	return nil
}

func (r *Run) Stats() Stats {
	return Stats{
		Computed:  r.computed.Load(),
		Hits:      r.hits.Load(),
		Coalesced: r.coalesced.Load(),
		Evicted:   r.cache.evicted.Load(),
		Cached:    r.cache.size(),
	}
}

// Nodes lists node ids sources first.
func (r *Run) Nodes() []string {
	out := make([]string, len(r.order))
	for i, n := range r.order {
		out[i] = n.ID
	}
	return out
}

// OperatorType is the operator type name of a graph node, "" when unknown.
func (r *Run) OperatorType(id string) string {
	if n := r.g.Node(id); n != nil {
		return n.Operator
	}
	return ""
}

// Readiness reports whether the run serves tiles, and its nodes.
func (r *Run) Readiness() (bool, []string) {
	r.mu.RLock()
	ready := r.state == stateReady
	r.mu.RUnlock()
	if !ready {
		return false, nil
	}
	return true, r.Nodes()
}

// Product is the output descriptor of an initialized node, nil otherwise.
func (r *Run) Product(id string) *raster.Product {
	r.mu.RLock()
	n := r.nodes[id]
	r.mu.RUnlock()
	if n == nil {
		return nil
	}
	return n.ctx.Target()
}

// Params is the parameter binding of an initialized node, nil otherwise.
func (r *Run) Params(id string) *param.Container {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if n := r.nodes[id]; n != nil {
		return n.params
	}
	return nil
}

func (r *Run) lookup(id string, rect raster.Rectangle) (*node, *raster.Product, error) {
	r.mu.RLock()
	closed := r.state == stateClosed
	n := r.nodes[id]
	r.mu.RUnlock()
	if closed {
		return nil, nil, operator.ErrRunClosed
	}
	if n == nil {
		if r.g.Node(id) != nil {
			return nil, nil, fmt.Errorf("node %q: %w", id, operator.ErrNotInitialized)
		}
		return nil, nil, fmt.Errorf("%w %q", graph.ErrUnknownNode, id)
	}
	p := n.ctx.Target()
	if p == nil {
		return nil, nil, fmt.Errorf("node %q: %w", id, operator.ErrNotInitialized)
	}
	b := p.Bounds()
	// zero width or height is a valid request for no samples
	within := rect.Width >= 0 && rect.Height >= 0 &&
		rect.X >= b.X && rect.Y >= b.Y && rect.MaxX() <= b.MaxX() && rect.MaxY() <= b.MaxY()
	if !within {
		return nil, nil, fmt.Errorf("node %q: %w: %s not within %s", id, ErrInvalidRegion, rect, b)
	}
	return n, p, nil
}
