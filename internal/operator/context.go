package operator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mohammed-shakir/tilegraph/internal/param"
	"github.com/mohammed-shakir/tilegraph/internal/progress"
	"github.com/mohammed-shakir/tilegraph/internal/raster"
)

// Resolver supplies tiles of upstream nodes. The engine's run implements it.
type Resolver interface {
	Tile(ctx context.Context, node, channel string, rect raster.Rectangle, pm progress.Monitor) (*raster.Tile, error)
	TileInto(ctx context.Context, node string, dst *raster.Tile, pm progress.Monitor) (*raster.Tile, error)
}

// SourceRef is a declared input of an operator bound to an upstream node.
type SourceRef struct {
	Name    string
	Node    string
	Product *raster.Product
}

type ContextConfig struct {
	Node     string
	Type     string
	Logger   *slog.Logger
	Params   param.Values
	Sources  []*SourceRef
	Resolver Resolver
}

// Context is the state scoped to one operator instance within a run.
type Context struct {
	node     string
	opType   string
	logger   *slog.Logger
	params   param.Values
	sources  []*SourceRef
	resolver Resolver
	op       Operator

	initMu      sync.Mutex
	mu          sync.RWMutex
	target      *raster.Product
	initialized bool
	closed      bool
	disposeOnce sync.Once
}

func NewContext(op Operator, cfg ContextConfig) *Context {
	lg := cfg.Logger
	if lg == nil {
		lg = slog.Default()
	}
	return &Context{
		node:     cfg.Node,
		opType:   cfg.Type,
		logger:   lg.With("node", cfg.Node, "operator", cfg.Type),
		params:   cfg.Params,
		sources:  cfg.Sources,
		resolver: cfg.Resolver,
		op:       op,
	}
}

func (c *Context) Name() string         { return c.node }
func (c *Context) OperatorType() string { return c.opType }
func (c *Context) Operator() Operator   { return c.op }
func (c *Context) Logger() *slog.Logger { return c.logger }
func (c *Context) Params() param.Values { return c.params }

// Source looks a declared input up by name; nil means not connected.
func (c *Context) Source(name string) *SourceRef {
	for _, s := range c.sources {
		if s.Name == name {
			return s
		}
	}
	return nil
}

// Sources returns the inputs in declaration order.
func (c *Context) Sources() []*SourceRef {
	return append([]*SourceRef(nil), c.sources...)
}

// Target is the output descriptor, nil before initialization.
func (c *Context) Target() *raster.Product {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.target
}

// Initialize runs the operator's Initialize exactly once.
// The operator may read its sources while initializing.
func (c *Context) Initialize() (*raster.Product, error) {
	c.initMu.Lock()
	defer c.initMu.Unlock()
	c.mu.RLock()
	closed, initialized := c.closed, c.initialized
	c.mu.RUnlock()
	if closed {
		return nil, ErrRunClosed
	}
	if initialized {
		return nil, ErrAlreadyInitialized
	}
	perBand, allBands := Strategies(c.op)
	if !perBand && !allBands {
		return nil, fmt.Errorf("operator %q (%s): no compute strategy: %w", c.node, c.opType, ErrNotImplemented)
	}
	p, err := c.op.Initialize(c)
	if err != nil {
		return nil, fmt.Errorf("initialize %q (%s): %w", c.node, c.opType, err)
	}
	if p == nil || len(p.Channels) == 0 {
		return nil, fmt.Errorf("initialize %q (%s): operator declared no output channels", c.node, c.opType)
	}
	if p.Name == "" {
		p.Name = c.node
	}
	c.mu.Lock()
	c.target = p
	c.initialized = true
	c.mu.Unlock()
	return p, nil
}

func (c *Context) ready() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrRunClosed
	}
	if !c.initialized {
		return ErrNotInitialized
	}
	return nil
}

// ComputeTile invokes the per-band strategy.
func (c *Context) ComputeTile(ctx context.Context, target *raster.Tile, pm progress.Monitor) error {
	if err := c.ready(); err != nil {
		return err
	}
	tc, ok := c.op.(TileComputer)
	if !ok {
		return fmt.Errorf("%s.ComputeTile: %w", c.opType, ErrNotImplemented)
	}
	if c.Target().Channel(target.Channel) == nil {
		return fmt.Errorf("%s: %w %q", c.node, ErrUnknownChannel, target.Channel)
	}
	return tc.ComputeTile(ctx, target, progress.OrNull(pm))
}

// ComputeAllBands invokes the whole-tile strategy.
func (c *Context) ComputeAllBands(ctx context.Context, targets map[string]*raster.Tile, rect raster.Rectangle, pm progress.Monitor) error {
	if err := c.ready(); err != nil {
		return err
	}
	ac, ok := c.op.(AllBandsComputer)
	if !ok {
		return fmt.Errorf("%s.ComputeAllBands: %w", c.opType, ErrNotImplemented)
	}
	p := c.Target()
	for name := range targets {
		if p.Channel(name) == nil {
			return fmt.Errorf("%s: %w %q", c.node, ErrUnknownChannel, name)
		}
	}
	return ac.ComputeAllBands(ctx, targets, rect, progress.OrNull(pm))
}

// Tile resolves a rectangle of a source channel, computing upstream nodes
// as needed.
func (c *Context) Tile(ctx context.Context, source, channel string, rect raster.Rectangle, pm progress.Monitor) (*raster.Tile, error) {
	s, err := c.source(source)
	if err != nil {
		return nil, err
	}
	return c.resolver.Tile(ctx, s.Node, channel, rect, pm)
}

// TileInto is Tile writing into a caller supplied tile. The returned tile is
// dst itself.
func (c *Context) TileInto(ctx context.Context, source string, dst *raster.Tile, pm progress.Monitor) (*raster.Tile, error) {
	s, err := c.source(source)
	if err != nil {
		return nil, err
	}
	return c.resolver.TileInto(ctx, s.Node, dst, pm)
}

// SourceTile resolves the source region needed for target: expanded by the
// operator's SourceRegioner, if any, and clipped to the source bounds.
func (c *Context) SourceTile(ctx context.Context, source, channel string, target raster.Rectangle, pm progress.Monitor) (*raster.Tile, error) {
	s, err := c.source(source)
	if err != nil {
		return nil, err
	}
	r := target
	if sr, ok := c.op.(SourceRegioner); ok {
		r = sr.SourceRegion(source, target)
	}
	if s.Product != nil {
		r = r.Intersect(s.Product.Bounds())
	}
	return c.resolver.Tile(ctx, s.Node, channel, r, pm)
}

func (c *Context) source(name string) (*SourceRef, error) {
	if err := c.ready(); err != nil && !errors.Is(err, ErrNotInitialized) {
		return nil, err
	}
	s := c.Source(name)
	if s == nil {
		return nil, fmt.Errorf("%s: source %q is not connected", c.node, name)
	}
	if c.resolver == nil {
		return nil, fmt.Errorf("%s: no resolver", c.node)
	}
	return s, nil
}

// Dispose releases the operator once and makes the context read-only.
func (c *Context) Dispose() {
	c.disposeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		c.op.Dispose()
	})
}
