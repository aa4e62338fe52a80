package operators

import (
	"context"

	"github.com/mohammed-shakir/tilegraph/internal/operator"
	"github.com/mohammed-shakir/tilegraph/internal/progress"
	"github.com/mohammed-shakir/tilegraph/internal/raster"
)

// BoxFilter replaces each sample by the mean of the (2r+1)^2 window around
// it. Near the raster edge only the samples inside the raster count, and
// no-data samples never do.
type BoxFilter struct {
	operator.Base
	c      *operator.Context
	radius int
	nodata map[string]*float64
}

func (o *BoxFilter) Initialize(c *operator.Context) (*raster.Product, error) {
	src, err := requireSource(c, "source")
	if err != nil {
		return nil, err
	}
	chans, err := selectChannels(src, c.Params().Strings("channels"))
	if err != nil {
		return nil, err
	}
	o.c = c
	o.radius = c.Params().Int("radius")
	o.nodata = make(map[string]*float64, len(chans))
	prod := raster.NewProduct(c.Name(), src.Width, src.Height)
	for _, ch := range chans {
		o.nodata[ch.Name] = ch.NoData
		ch.Type = raster.Float32
		if err := prod.AddChannel(ch); err != nil {
			return nil, err
		}
	}
	return prod, nil
}

func (o *BoxFilter) SourceRegion(_ string, target raster.Rectangle) raster.Rectangle {
	return target.Grow(o.radius, o.radius)
}

func (o *BoxFilter) ComputeTile(ctx context.Context, t *raster.Tile, pm progress.Monitor) error {
	src, err := o.c.SourceTile(ctx, "source", t.Channel, t.Rect, pm.Sub(0.5))
	if err != nil {
		return err
	}
	nd := o.nodata[t.Channel]
	rows := pm.Sub(0.5)
	step := 1 / float64(t.Rect.Height)
	for y := t.Rect.Y; y < t.Rect.MaxY(); y++ {
		if err := ctx.Err(); err != nil {
			return progress.Canceled(err)
		}
		if err := rows.Err(); err != nil {
			return err
		}
		for x := t.Rect.X; x < t.Rect.MaxX(); x++ {
			win := raster.Rectangle{X: x - o.radius, Y: y - o.radius, Width: 2*o.radius + 1, Height: 2*o.radius + 1}.Intersect(src.Rect)
			var sum float64
			var n int
			for wy := win.Y; wy < win.MaxY(); wy++ {
				for wx := win.X; wx < win.MaxX(); wx++ {
					v := src.At(wx, wy)
					if isNoData(v, nd) {
						continue
					}
					sum += v
					n++
				}
			}
			switch {
			case n > 0:
				t.Set(x, y, sum/float64(n))
			case nd != nil:
				t.Set(x, y, *nd)
			default:
				t.Set(x, y, 0)
			}
		}
		rows.Worked(step)
	}
	return nil
}
