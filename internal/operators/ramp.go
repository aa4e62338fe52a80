package operators

import (
	"context"
	"fmt"

	"github.com/mohammed-shakir/tilegraph/internal/operator"
	"github.com/mohammed-shakir/tilegraph/internal/progress"
	"github.com/mohammed-shakir/tilegraph/internal/raster"
)

// Ramp generates offset + i + dx*x + dy*y for its i-th channel. It has no
// sources and is mostly useful for tests and demos.
type Ramp struct {
	operator.Base
	index          map[string]int
	dx, dy, offset float64
}

func (o *Ramp) Initialize(c *operator.Context) (*raster.Product, error) {
	p := c.Params()
	dt, err := raster.ParseDataType(p.String("dataType"))
	if err != nil {
		return nil, err
	}
	prod := raster.NewProduct(c.Name(), p.Int("width"), p.Int("height"))
	o.index = make(map[string]int)
	for i, name := range p.Strings("channels") {
		if err := prod.AddChannel(raster.Channel{Name: name, Type: dt}); err != nil {
			return nil, err
		}
		o.index[name] = i
	}
	o.dx, o.dy, o.offset = p.Float64("dx"), p.Float64("dy"), p.Float64("offset")
	return prod, nil
}

func (o *Ramp) ComputeTile(ctx context.Context, t *raster.Tile, pm progress.Monitor) error {
	i, ok := o.index[t.Channel]
	if !ok {
		return fmt.Errorf("%w %q", operator.ErrUnknownChannel, t.Channel)
	}
	base := o.offset + float64(i)
	for y := t.Rect.Y; y < t.Rect.MaxY(); y++ {
		if err := ctx.Err(); err != nil {
			return progress.Canceled(err)
		}
		for x := t.Rect.X; x < t.Rect.MaxX(); x++ {
			t.Set(x, y, base+o.dx*float64(x)+o.dy*float64(y))
		}
	}
	pm.Worked(1)
	return nil
}
