package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mohammed-shakir/tilegraph/internal/graph"
	"github.com/mohammed-shakir/tilegraph/internal/operator"
	"github.com/mohammed-shakir/tilegraph/internal/param"
	"github.com/mohammed-shakir/tilegraph/internal/progress"
	"github.com/mohammed-shakir/tilegraph/internal/raster"
)

const size = 16

type counters struct {
	tile     atomic.Int64
	allBands atomic.Int64
	disposed atomic.Int64
	gate     chan struct{}
	started  chan struct{}
	startOne sync.Once
	slowOnce atomic.Bool
	flaky    atomic.Bool
}

func newCounters() *counters {
	return &counters{gate: make(chan struct{}), started: make(chan struct{})}
}

func product(channels ...string) *raster.Product {
	p := raster.NewProduct("", size, size)
	for _, ch := range channels {
		_ = p.AddChannel(raster.Channel{Name: ch, Type: raster.Float32})
	}
	return p
}

func fill(t *raster.Tile, base float64) {
	for y := t.Rect.Y; y < t.Rect.MaxY(); y++ {
		for x := t.Rect.X; x < t.Rect.MaxX(); x++ {
			t.Set(x, y, base+float64(x)+100*float64(y))
		}
	}
}

// perBandOp fills value + x + 100*y and computes one channel per call.
type perBandOp struct {
	c     *counters
	value float64
}

func (o *perBandOp) Initialize(ctx *operator.Context) (*raster.Product, error) {
	o.value = ctx.Params().Float64("value")
	return product("a", "b"), nil
}

func (o *perBandOp) ComputeTile(_ context.Context, t *raster.Tile, _ progress.Monitor) error {
	o.c.tile.Add(1)
	fill(t, o.value)
	return nil
}

func (o *perBandOp) Dispose() { o.c.disposed.Add(1) }

type allBandsOp struct {
	operator.Base
	c *counters
}

func (o *allBandsOp) Initialize(*operator.Context) (*raster.Product, error) {
	return product("a", "b", "c"), nil
}

func (o *allBandsOp) ComputeAllBands(_ context.Context, ts map[string]*raster.Tile, _ raster.Rectangle, _ progress.Monitor) error {
	o.c.allBands.Add(1)
	for i, name := range []string{"a", "b", "c"} {
		fill(ts[name], float64(i)*1000)
	}
	return nil
}

type bothOp struct {
	allBandsOp
}

func (o *bothOp) ComputeTile(_ context.Context, t *raster.Tile, _ progress.Monitor) error {
	o.c.tile.Add(1)
	fill(t, 0)
	return nil
}

type gateOp struct {
	operator.Base
	c *counters
}

func (o *gateOp) Initialize(*operator.Context) (*raster.Product, error) { return product("v"), nil }

func (o *gateOp) ComputeTile(ctx context.Context, t *raster.Tile, _ progress.Monitor) error {
	o.c.tile.Add(1)
	o.c.startOne.Do(func() { close(o.c.started) })
	select {
	case <-o.c.gate:
	case <-ctx.Done():
		return ctx.Err()
	}
	fill(t, 0)
	return nil
}

// gateBandsOp computes every band at once after the gate opens.
type gateBandsOp struct {
	operator.Base
	c *counters
}

func (o *gateBandsOp) Initialize(*operator.Context) (*raster.Product, error) {
	return product("a", "b", "c"), nil
}

func (o *gateBandsOp) ComputeAllBands(ctx context.Context, ts map[string]*raster.Tile, _ raster.Rectangle, _ progress.Monitor) error {
	o.c.allBands.Add(1)
	o.c.startOne.Do(func() { close(o.c.started) })
	select {
	case <-o.c.gate:
	case <-ctx.Done():
		return ctx.Err()
	}
	for i, name := range []string{"a", "b", "c"} {
		fill(ts[name], float64(i)*1000)
	}
	return nil
}

// slowOp spins on its first call until cancelled; later calls finish.
type slowOp struct {
	operator.Base
	c *counters
}

func (o *slowOp) Initialize(*operator.Context) (*raster.Product, error) { return product("v"), nil }

func (o *slowOp) ComputeTile(_ context.Context, t *raster.Tile, pm progress.Monitor) error {
	o.c.tile.Add(1)
	if o.c.slowOnce.CompareAndSwap(false, true) {
		o.c.startOne.Do(func() { close(o.c.started) })
		for y := 0; ; y++ {
			if pm.Canceled() {
				return pm.Err()
			}
			t.Data.Set(y%t.Data.Len(), 1)
			time.Sleep(time.Millisecond)
		}
	}
	fill(t, 0)
	return nil
}

type flakyOp struct {
	operator.Base
	c *counters
}

func (o *flakyOp) Initialize(*operator.Context) (*raster.Product, error) { return product("v"), nil }

func (o *flakyOp) ComputeTile(_ context.Context, t *raster.Tile, _ progress.Monitor) error {
	o.c.tile.Add(1)
	if o.c.flaky.CompareAndSwap(false, true) {
		return errors.New("bad input row")
	}
	fill(t, 0)
	return nil
}

type neitherOp struct {
	c *counters
}

func (o *neitherOp) Initialize(*operator.Context) (*raster.Product, error) { return product("v"), nil }
func (o *neitherOp) Dispose()                                             { o.c.disposed.Add(1) }

// shiftOp copies its source over a one pixel margin.
type shiftOp struct {
	operator.Base
	c  *counters
	oc *operator.Context
}

func (o *shiftOp) Initialize(ctx *operator.Context) (*raster.Product, error) {
	if ctx.Source("in") == nil {
		return nil, errors.New("source in is required")
	}
	o.oc = ctx
	return product("a"), nil
}

func (o *shiftOp) SourceRegion(_ string, r raster.Rectangle) raster.Rectangle { return r.Grow(1, 1) }

func (o *shiftOp) ComputeTile(ctx context.Context, t *raster.Tile, pm progress.Monitor) error {
	o.c.tile.Add(1)
	src, err := o.oc.SourceTile(ctx, "in", "a", t.Rect, pm)
	if err != nil {
		return err
	}
	t.CopyRegion(src)
	return nil
}

func newRegistry(t *testing.T, c *counters) *operator.Registry {
	t.Helper()
	reg := operator.NewRegistry()
	valueField := []param.Field{{Name: "value", Type: param.Float64, Meta: &param.Meta{DefaultValue: "0", Interval: "[0,100]"}}}
	for _, s := range []operator.Spi{
		{Type: "PerBand", Create: func() operator.Operator { return &perBandOp{c: c} }, Fields: valueField},
		{Type: "AllBands", Create: func() operator.Operator { return &allBandsOp{c: c} }},
		{Type: "Both", Create: func() operator.Operator { return &bothOp{allBandsOp{c: c}} }},
		{Type: "Gate", Create: func() operator.Operator { return &gateOp{c: c} }},
		{Type: "GateBands", Create: func() operator.Operator { return &gateBandsOp{c: c} }},
		{Type: "Slow", Create: func() operator.Operator { return &slowOp{c: c} }},
		{Type: "Flaky", Create: func() operator.Operator { return &flakyOp{c: c} }},
		{Type: "Neither", Create: func() operator.Operator { return &neitherOp{c: c} }},
		{Type: "Shift", Create: func() operator.Operator { return &shiftOp{c: c} }},
	} {
		if err := reg.Register(s); err != nil {
			t.Fatalf("register %s: %v", s.Type, err)
		}
	}
	return reg
}

func single(op string) *graph.Graph {
	return &graph.Graph{Nodes: []*graph.Node{{ID: "n", Operator: op}}}
}

func newRun(t *testing.T, g *graph.Graph, c *counters, opts Options) *Run {
	t.Helper()
	opts.Registry = newRegistry(t, c)
	r, err := New(g, opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := r.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	t.Cleanup(func() { _ = r.Close() })
	return r
}

var rect = raster.Rectangle{X: 2, Y: 3, Width: 4, Height: 4}

func TestRun_TileIsIdempotent(t *testing.T) {
	c := newCounters()
	r := newRun(t, single("PerBand"), c, Options{})
	ctx := context.Background()

	t1, err := r.Tile(ctx, "n", "a", rect, nil)
	if err != nil {
		t.Fatalf("Tile: %v", err)
	}
	t2, err := r.Tile(ctx, "n", "a", rect, nil)
	if err != nil {
		t.Fatalf("Tile: %v", err)
	}
	for i := range t1.Data.Len() {
		if t1.Data.At(i) != t2.Data.At(i) {
			t.Fatalf("sample %d differs: %v vs %v", i, t1.Data.At(i), t2.Data.At(i))
		}
	}
	if got := t1.At(3, 4); got != 403 {
		t.Fatalf("At(3,4)=%v want 403", got)
	}
	st := r.Stats()
	if c.tile.Load() != 1 || st.Computed != 1 || st.Hits != 1 || st.Cached != 1 {
		t.Fatalf("calls=%d stats=%+v", c.tile.Load(), st)
	}
}

func TestRun_PerBandOnlyNeverGetsWholeTileCalls(t *testing.T) {
	c := newCounters()
	r := newRun(t, single("PerBand"), c, Options{})
	ts, err := r.Tiles(context.Background(), "n", []string{"a", "b"}, rect, nil)
	if err != nil {
		t.Fatalf("Tiles: %v", err)
	}
	if len(ts) != 2 || c.tile.Load() != 2 || c.allBands.Load() != 0 {
		t.Fatalf("tiles=%d tile calls=%d all-bands calls=%d", len(ts), c.tile.Load(), c.allBands.Load())
	}
}

func TestRun_WholeTileOnlyCachesSiblings(t *testing.T) {
	c := newCounters()
	r := newRun(t, single("AllBands"), c, Options{})
	ctx := context.Background()

	a, err := r.Tile(ctx, "n", "a", rect, nil)
	if err != nil {
		t.Fatalf("Tile a: %v", err)
	}
	b, err := r.Tile(ctx, "n", "b", rect, nil)
	if err != nil {
		t.Fatalf("Tile b: %v", err)
	}
	if c.allBands.Load() != 1 || c.tile.Load() != 0 {
		t.Fatalf("all-bands calls=%d tile calls=%d", c.allBands.Load(), c.tile.Load())
	}
	if a.At(2, 3) != 302 || b.At(2, 3) != 1302 {
		t.Fatalf("a=%v b=%v", a.At(2, 3), b.At(2, 3))
	}
	if r.Stats().Cached != 3 {
		t.Fatalf("cached=%d want all three channels", r.Stats().Cached)
	}
}

func TestRun_BothStrategiesPolicy(t *testing.T) {
	c := newCounters()
	r := newRun(t, single("Both"), c, Options{})
	ctx := context.Background()

	if _, err := r.Tile(ctx, "n", "a", rect, nil); err != nil {
		t.Fatalf("Tile: %v", err)
	}
	if c.tile.Load() != 1 || c.allBands.Load() != 0 {
		t.Fatalf("single channel must use per-band: tile=%d all=%d", c.tile.Load(), c.allBands.Load())
	}

	other := raster.Rectangle{X: 8, Y: 8, Width: 4, Height: 4}
	if _, err := r.Tiles(ctx, "n", []string{"a", "b"}, other, nil); err != nil {
		t.Fatalf("Tiles: %v", err)
	}
	if c.tile.Load() != 1 || c.allBands.Load() != 1 {
		t.Fatalf("sibling batch must use whole-tile: tile=%d all=%d", c.tile.Load(), c.allBands.Load())
	}
}

func TestRun_ConcurrentRequestsComputeOnce(t *testing.T) {
	c := newCounters()
	r := newRun(t, single("Gate"), c, Options{})

	const callers = 8
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	tiles := make(chan *raster.Tile, callers)
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tl, err := r.Tile(context.Background(), "n", "v", rect, nil)
			errs <- err
			tiles <- tl
		}()
	}
	<-c.started
	time.Sleep(20 * time.Millisecond)
	close(c.gate)
	wg.Wait()
	close(errs)
	close(tiles)

	for err := range errs {
		if err != nil {
			t.Fatalf("Tile: %v", err)
		}
	}
	var first *raster.Tile
	for tl := range tiles {
		if first == nil {
			first = tl
		}
		if tl != first {
			t.Fatalf("callers received different tiles")
		}
	}
	if n := c.tile.Load(); n != 1 {
		t.Fatalf("computations=%d want 1", n)
	}
	st := r.Stats()
	if st.Hits+st.Coalesced != callers-1 {
		t.Fatalf("stats=%+v want %d shared results", st, callers-1)
	}
}

func waitCoalesced(t *testing.T, r *Run, want int64) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for r.Stats().Coalesced < want {
		if time.Now().After(deadline) {
			t.Fatalf("coalesced=%d want %d", r.Stats().Coalesced, want)
		}
		time.Sleep(time.Millisecond)
	}
}

type tileResult struct {
	tile *raster.Tile
	err  error
}

func TestRun_SiblingWaitsForInFlightWholeTileCall(t *testing.T) {
	c := newCounters()
	r := newRun(t, single("GateBands"), c, Options{})
	ctx := context.Background()

	ac, bc := make(chan tileResult, 1), make(chan tileResult, 1)
	go func() {
		tl, err := r.Tile(ctx, "n", "a", rect, nil)
		ac <- tileResult{tl, err}
	}()
	<-c.started
	go func() {
		tl, err := r.Tile(ctx, "n", "b", rect, nil)
		bc <- tileResult{tl, err}
	}()
	waitCoalesced(t, r, 1)
	close(c.gate)

	a, b := <-ac, <-bc
	if a.err != nil || b.err != nil {
		t.Fatalf("a err=%v b err=%v", a.err, b.err)
	}
	if n := c.allBands.Load(); n != 1 {
		t.Fatalf("whole-tile calls=%d want 1", n)
	}
	if a.tile.At(2, 3) != 302 || b.tile.At(2, 3) != 1302 {
		t.Fatalf("a=%v b=%v", a.tile.At(2, 3), b.tile.At(2, 3))
	}
	if _, err := r.Tile(ctx, "n", "c", rect, nil); err != nil || c.allBands.Load() != 1 {
		t.Fatalf("third sibling: err=%v calls=%d", err, c.allBands.Load())
	}
}

func TestRun_WaiterHonoursOwnMonitor(t *testing.T) {
	c := newCounters()
	r := newRun(t, single("Gate"), c, Options{})

	owner := make(chan tileResult, 1)
	go func() {
		tl, err := r.Tile(context.Background(), "n", "v", rect, nil)
		owner <- tileResult{tl, err}
	}()
	<-c.started

	pmCtx, cancel := context.WithCancel(context.Background())
	waiter := make(chan error, 1)
	go func() {
		_, err := r.Tile(context.Background(), "n", "v", rect, progress.New(pmCtx, nil))
		waiter <- err
	}()
	waitCoalesced(t, r, 1)
	cancel()

	select {
	case err := <-waiter:
		if !errors.Is(err, progress.ErrCanceled) {
			t.Fatalf("err=%v want cancellation", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("waiter ignored its cancelled monitor")
	}

	close(c.gate)
	if res := <-owner; res.err != nil || res.tile.At(2, 3) != 302 {
		t.Fatalf("owner: %+v", res)
	}
}

func TestRun_CancellationIsNotCached(t *testing.T) {
	c := newCounters()
	r := newRun(t, single("Slow"), c, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := r.Tile(ctx, "n", "v", rect, progress.New(ctx, nil))
		errc <- err
	}()
	<-c.started
	cancel()

	err := <-errc
	if !errors.Is(err, progress.ErrCanceled) || !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v want cancellation", err)
	}
	var ce *ComputeError
	if errors.As(err, &ce) {
		t.Fatalf("cancellation must not be reported as a compute error: %v", err)
	}
	if n := r.Stats().Cached; n != 0 {
		t.Fatalf("cached=%d after cancellation", n)
	}

	tl, err := r.Tile(context.Background(), "n", "v", rect, nil)
	if err != nil {
		t.Fatalf("Tile after cancel: %v", err)
	}
	if tl.At(2, 3) != 302 || c.tile.Load() != 2 {
		t.Fatalf("recomputed tile wrong: v=%v calls=%d", tl.At(2, 3), c.tile.Load())
	}
}

func TestRun_ComputeErrorIsNotCached(t *testing.T) {
	c := newCounters()
	r := newRun(t, single("Flaky"), c, Options{})

	_, err := r.Tile(context.Background(), "n", "v", rect, nil)
	var ce *ComputeError
	if !errors.As(err, &ce) || ce.Node != "n" || ce.Channel != "v" || ce.Rect != rect {
		t.Fatalf("err=%v want ComputeError for n/v", err)
	}
	if _, err := r.Tile(context.Background(), "n", "v", rect, nil); err != nil {
		t.Fatalf("second Tile: %v", err)
	}
	if c.tile.Load() != 2 {
		t.Fatalf("calls=%d want 2", c.tile.Load())
	}
}

func TestRun_OperatorWithoutStrategyFailsInitialize(t *testing.T) {
	c := newCounters()
	r, err := New(single("Neither"), Options{Registry: newRegistry(t, c)})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := r.Initialize(context.Background()); !errors.Is(err, operator.ErrNotImplemented) {
		t.Fatalf("err=%v want ErrNotImplemented", err)
	}
	if c.disposed.Load() != 1 {
		t.Fatalf("disposed=%d want 1", c.disposed.Load())
	}
	if _, err := r.Tile(context.Background(), "n", "v", rect, nil); !errors.Is(err, operator.ErrRunClosed) {
		t.Fatalf("err=%v want ErrRunClosed", err)
	}
}

func TestRun_TileIntoReturnsCallerTile(t *testing.T) {
	c := newCounters()
	r := newRun(t, single("PerBand"), c, Options{})

	buf := raster.NewBuffer(raster.Float64, rect.Area())
	dst, err := raster.WrapTile("b", rect, buf)
	if err != nil {
		t.Fatalf("WrapTile: %v", err)
	}
	got, err := r.TileInto(context.Background(), "n", dst, nil)
	if err != nil {
		t.Fatalf("TileInto: %v", err)
	}
	if got != dst || got.Data != buf {
		t.Fatalf("TileInto must return the caller's tile and buffer")
	}
	if dst.At(5, 6) != 605 {
		t.Fatalf("At(5,6)=%v want 605", dst.At(5, 6))
	}

	bad := &raster.Tile{Channel: "a", Rect: rect, Data: raster.NewBuffer(raster.Float32, 3)}
	if _, err := r.TileInto(context.Background(), "n", bad, nil); !errors.Is(err, raster.ErrBufferSize) {
		t.Fatalf("err=%v want ErrBufferSize", err)
	}
}

func TestRun_BoundedCacheEvicts(t *testing.T) {
	c := newCounters()
	r := newRun(t, single("PerBand"), c, Options{MaxCachedTiles: 2})
	ctx := context.Background()

	rects := []raster.Rectangle{
		{X: 0, Y: 0, Width: 4, Height: 4},
		{X: 4, Y: 0, Width: 4, Height: 4},
		{X: 8, Y: 0, Width: 4, Height: 4},
	}
	for _, rc := range rects {
		if _, err := r.Tile(ctx, "n", "a", rc, nil); err != nil {
			t.Fatalf("Tile %s: %v", rc, err)
		}
	}
	st := r.Stats()
	if st.Evicted != 1 || st.Cached != 2 {
		t.Fatalf("stats=%+v want 1 evicted, 2 cached", st)
	}
	if _, err := r.Tile(ctx, "n", "a", rects[0], nil); err != nil {
		t.Fatalf("Tile: %v", err)
	}
	if c.tile.Load() != 4 {
		t.Fatalf("evicted tile must be recomputed: calls=%d", c.tile.Load())
	}
}

func TestRun_SourceRegionPullsExpandedUpstream(t *testing.T) {
	c := newCounters()
	g := &graph.Graph{Nodes: []*graph.Node{
		{ID: "shift", Operator: "Shift", Sources: []graph.Source{{Name: "in", Node: "src"}}},
		{ID: "src", Operator: "PerBand"},
	}}
	r := newRun(t, g, c, Options{})
	ctx := context.Background()

	want := raster.Rectangle{X: 0, Y: 0, Width: 4, Height: 4}
	tl, err := r.Tile(ctx, "shift", "a", want, nil)
	if err != nil {
		t.Fatalf("Tile: %v", err)
	}
	if tl.At(3, 3) != 303 {
		t.Fatalf("At(3,3)=%v want 303", tl.At(3, 3))
	}
	// upstream was asked for the grown region clipped at the origin
	before := c.tile.Load()
	if _, err := r.Tile(ctx, "src", "a", raster.Rectangle{X: 0, Y: 0, Width: 5, Height: 5}, nil); err != nil {
		t.Fatalf("Tile src: %v", err)
	}
	if c.tile.Load() != before {
		t.Fatalf("expanded source region was not the cached one")
	}
}

func TestRun_BindFailureAbortsAndDisposes(t *testing.T) {
	c := newCounters()
	src := `
nodes:
  - id: ok
    operator: PerBand
  - id: bad
    operator: PerBand
    parameters:
      value: 500
`
	g, err := graph.Parse([]byte(src))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	r, err := New(g, Options{Registry: newRegistry(t, c)})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	err = r.Initialize(context.Background())
	var ve *param.ValidationError
	if !errors.As(err, &ve) || !errors.Is(err, param.ErrInterval) || ve.Param != "value" {
		t.Fatalf("err=%v want interval violation on value", err)
	}
	if c.disposed.Load() != 2 {
		t.Fatalf("disposed=%d want 2", c.disposed.Load())
	}
}

func TestRun_StrictRejectsUnknownParameter(t *testing.T) {
	c := newCounters()
	g := single("PerBand")
	g.Nodes[0].Parameters = map[string]yaml.Node{"valu": {Kind: yaml.ScalarNode, Value: "1"}}
	r, err := New(g, Options{Registry: newRegistry(t, c), Strict: true})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := r.Initialize(context.Background()); !errors.Is(err, param.ErrUnknownParameter) {
		t.Fatalf("err=%v want ErrUnknownParameter", err)
	}
}

func TestRun_OverridesAndParams(t *testing.T) {
	c := newCounters()
	r := newRun(t, single("PerBand"), c, Options{Overrides: map[string]map[string]string{"n": {"value": "7"}}})
	if got := r.Params("n").Values().Float64("value"); got != 7 {
		t.Fatalf("value=%v want 7", got)
	}
	tl, err := r.Tile(context.Background(), "n", "a", rect, nil)
	if err != nil {
		t.Fatalf("Tile: %v", err)
	}
	if tl.At(2, 3) != 309 {
		t.Fatalf("At(2,3)=%v want 309", tl.At(2, 3))
	}
}

func TestRun_RequestValidation(t *testing.T) {
	c := newCounters()
	r := newRun(t, single("PerBand"), c, Options{})
	ctx := context.Background()
	if _, err := r.Tile(ctx, "nope", "a", rect, nil); !errors.Is(err, graph.ErrUnknownNode) {
		t.Fatalf("err=%v want ErrUnknownNode", err)
	}
	if _, err := r.Tile(ctx, "n", "zz", rect, nil); !errors.Is(err, operator.ErrUnknownChannel) {
		t.Fatalf("err=%v want ErrUnknownChannel", err)
	}
	out := raster.Rectangle{X: 14, Y: 0, Width: 4, Height: 4}
	if _, err := r.Tile(ctx, "n", "a", out, nil); !errors.Is(err, ErrInvalidRegion) {
		t.Fatalf("err=%v want ErrInvalidRegion", err)
	}
	if _, err := r.Tile(ctx, "n", "a", raster.Rectangle{X: 2, Y: 2, Width: -1, Height: 4}, nil); !errors.Is(err, ErrInvalidRegion) {
		t.Fatalf("negative width: err=%v want ErrInvalidRegion", err)
	}
	if _, err := r.Tile(ctx, "n", "a", raster.Rectangle{X: 17, Y: 0, Width: 0, Height: 4}, nil); !errors.Is(err, ErrInvalidRegion) {
		t.Fatalf("empty rect outside bounds: err=%v want ErrInvalidRegion", err)
	}
}

func TestRun_EmptyRectangleYieldsEmptyTile(t *testing.T) {
	c := newCounters()
	r := newRun(t, single("PerBand"), c, Options{})
	ctx := context.Background()

	empty := raster.Rectangle{X: 3, Y: 5, Width: 0, Height: 4}
	tl, err := r.Tile(ctx, "n", "a", empty, nil)
	if err != nil {
		t.Fatalf("Tile: %v", err)
	}
	if tl.Rect != empty || tl.Data.Len() != 0 {
		t.Fatalf("tile rect=%v len=%d", tl.Rect, tl.Data.Len())
	}
	edge := raster.Rectangle{X: size, Y: 0, Width: 0, Height: size}
	ts, err := r.Tiles(ctx, "n", nil, edge, nil)
	if err != nil || len(ts) != 2 || ts["b"].Data.Len() != 0 {
		t.Fatalf("Tiles: %v %v", ts, err)
	}
	if st := r.Stats(); c.tile.Load() != 0 || st.Computed != 0 || st.Cached != 0 {
		t.Fatalf("empty requests must not compute: calls=%d stats=%+v", c.tile.Load(), st)
	}
}

func TestRun_CloseDisposesOnce(t *testing.T) {
	c := newCounters()
	r, err := New(single("PerBand"), Options{Registry: newRegistry(t, c)})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := r.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	_ = r.Close()
	_ = r.Close()
	if c.disposed.Load() != 1 {
		t.Fatalf("disposed=%d want 1", c.disposed.Load())
	}
	if _, err := r.Tile(context.Background(), "n", "a", rect, nil); !errors.Is(err, operator.ErrRunClosed) {
		t.Fatalf("err=%v want ErrRunClosed", err)
	}
	if err := r.Initialize(context.Background()); !errors.Is(err, operator.ErrRunClosed) {
		t.Fatalf("err=%v want ErrRunClosed", err)
	}
}

func TestRun_Prefetch(t *testing.T) {
	c := newCounters()
	r := newRun(t, single("PerBand"), c, Options{})
	rects := raster.Rectangle{Width: size, Height: size}.Tiles(8, 8)
	var (
		mu   sync.Mutex
		last float64
	)
	pm := progress.New(context.Background(), func(f float64) {
		mu.Lock()
		last = max(last, f)
		mu.Unlock()
	})
	if err := r.Prefetch(context.Background(), "n", []string{"a", "b"}, rects, 3, pm); err != nil {
		t.Fatalf("Prefetch: %v", err)
	}
	if got := r.Stats().Cached; got != 2*len(rects) {
		t.Fatalf("cached=%d want %d", got, 2*len(rects))
	}
	if progress.Done(pm) < 0.999 || last == 0 {
		t.Fatalf("progress done=%v", progress.Done(pm))
	}
	err := r.Prefetch(context.Background(), "n", []string{"zz"}, rects, 2, nil)
	if !errors.Is(err, operator.ErrUnknownChannel) {
		t.Fatalf("err=%v want ErrUnknownChannel", err)
	}
}

func TestNew_RejectsCycle(t *testing.T) {
	g := &graph.Graph{Nodes: []*graph.Node{
		{ID: "a", Operator: "Shift", Sources: []graph.Source{{Name: "in", Node: "b"}}},
		{ID: "b", Operator: "Shift", Sources: []graph.Source{{Name: "in", Node: "a"}}},
	}}
	if _, err := New(g, Options{}); !errors.Is(err, ErrCycle) {
		t.Fatalf("err=%v want ErrCycle", err)
	}
}

func TestComputeError_Message(t *testing.T) {
	e := &ComputeError{Node: "n", Operator: "X", Rect: rect, Err: fmt.Errorf("boom")}
	if e.Error() != "compute n/* 2,3+4x4 (X): boom" {
		t.Fatalf("unexpected message %q", e.Error())
	}
	if e.Unwrap() == nil || e.Unwrap().Error() != "boom" {
		t.Fatalf("cause not unwrapped")
	}
}
