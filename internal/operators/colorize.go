package operators

import (
	"context"
	"fmt"
	"math"

	"github.com/lucasb-eyer/go-colorful"

	"github.com/mohammed-shakir/tilegraph/internal/operator"
	"github.com/mohammed-shakir/tilegraph/internal/progress"
	"github.com/mohammed-shakir/tilegraph/internal/raster"
)

const (
	ChannelRed   = "red"
	ChannelGreen = "green"
	ChannelBlue  = "blue"
)

// Colorize maps a source channel through a palette into 8-bit red, green and
// blue channels. A single component can be computed alone; requesting the
// three together shares one pass.
type Colorize struct {
	operator.Base
	c        *operator.Context
	channel  string
	min, max float64
	stops    []colorful.Color
	blend    func(a, b colorful.Color, t float64) colorful.Color
	nodata   *float64
}

func (o *Colorize) Initialize(c *operator.Context) (*raster.Product, error) {
	src, err := requireSource(c, "source")
	if err != nil {
		return nil, err
	}
	p := c.Params()
	o.c = c
	o.channel = p.String("channel")
	ch := src.Channel(o.channel)
	if ch == nil {
		return nil, fmt.Errorf("%w %q in %s", operator.ErrUnknownChannel, o.channel, src.Name)
	}
	o.nodata = ch.NoData
	o.min, o.max = p.Float64("min"), p.Float64("max")
	if o.max <= o.min {
		return nil, fmt.Errorf("max %v must be greater than min %v", o.max, o.min)
	}
	for _, h := range p.Strings("palette") {
		col, err := colorful.Hex(h)
		if err != nil {
			return nil, err
		}
		o.stops = append(o.stops, col)
	}
	switch p.String("blend") {
	case "rgb":
		o.blend = colorful.Color.BlendRgb
	case "hcl":
		o.blend = colorful.Color.BlendHcl
	case "luv":
		o.blend = colorful.Color.BlendLuv
	default:
		o.blend = colorful.Color.BlendLab
	}

	prod := raster.NewProduct(c.Name(), src.Width, src.Height)
	for _, name := range []string{ChannelRed, ChannelGreen, ChannelBlue} {
		_ = prod.AddChannel(raster.Channel{Name: name, Type: raster.Uint8})
	}
	return prod, nil
}

// color returns the ramp colour for v; no-data and NaN map to black.
func (o *Colorize) color(v float64) (r, g, b uint8) {
	if math.IsNaN(v) || isNoData(v, o.nodata) {
		return 0, 0, 0
	}
	if len(o.stops) == 1 {
		return o.stops[0].RGB255()
	}
	t := (v - o.min) / (o.max - o.min)
	t = math.Max(0, math.Min(1, t))
	pos := t * float64(len(o.stops)-1)
	i := int(pos)
	if i >= len(o.stops)-1 {
		return o.stops[len(o.stops)-1].RGB255()
	}
	return o.blend(o.stops[i], o.stops[i+1], pos-float64(i)).Clamped().RGB255()
}

func (o *Colorize) ComputeTile(ctx context.Context, t *raster.Tile, pm progress.Monitor) error {
	return o.ComputeAllBands(ctx, map[string]*raster.Tile{t.Channel: t}, t.Rect, pm)
}

func (o *Colorize) ComputeAllBands(ctx context.Context, targets map[string]*raster.Tile, rect raster.Rectangle, pm progress.Monitor) error {
	src, err := o.c.SourceTile(ctx, "source", o.channel, rect, pm.Sub(0.5))
	if err != nil {
		return err
	}
	red, green, blue := targets[ChannelRed], targets[ChannelGreen], targets[ChannelBlue]
	for i := range rect.Area() {
		r, g, b := o.color(src.Data.At(i))
		if red != nil {
			red.Data.Set(i, float64(r))
		}
		if green != nil {
			green.Data.Set(i, float64(g))
		}
		if blue != nil {
			blue.Data.Set(i, float64(b))
		}
	}
	pm.Worked(0.5)
	return nil
}
