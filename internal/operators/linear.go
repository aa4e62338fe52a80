package operators

import (
	"context"

	"github.com/mohammed-shakir/tilegraph/internal/operator"
	"github.com/mohammed-shakir/tilegraph/internal/progress"
	"github.com/mohammed-shakir/tilegraph/internal/raster"
)

// Linear rescales source channels. No-data samples stay no-data.
type Linear struct {
	operator.Base
	c             *operator.Context
	scale, offset float64
	nodata        map[string]*float64
}

func (o *Linear) Initialize(c *operator.Context) (*raster.Product, error) {
	src, err := requireSource(c, "source")
	if err != nil {
		return nil, err
	}
	p := c.Params()
	dt, err := raster.ParseDataType(p.String("dataType"))
	if err != nil {
		return nil, err
	}
	chans, err := selectChannels(src, p.Strings("channels"))
	if err != nil {
		return nil, err
	}
	o.c = c
	o.scale, o.offset = p.Float64("scale"), p.Float64("offset")
	o.nodata = make(map[string]*float64, len(chans))

	prod := raster.NewProduct(c.Name(), src.Width, src.Height)
	for _, ch := range chans {
		o.nodata[ch.Name] = ch.NoData
		out := raster.Channel{Name: ch.Name, Type: dt, NoData: ch.NoData}
		if ch.Unit != "" && o.scale == 1 && o.offset == 0 {
			out.Unit = ch.Unit
		}
		if err := prod.AddChannel(out); err != nil {
			return nil, err
		}
	}
	return prod, nil
}

func (o *Linear) ComputeTile(ctx context.Context, t *raster.Tile, pm progress.Monitor) error {
	src, err := o.c.SourceTile(ctx, "source", t.Channel, t.Rect, pm.Sub(0.5))
	if err != nil {
		return err
	}
	nd := o.nodata[t.Channel]
	for i := range t.Data.Len() {
		v := src.Data.At(i)
		if nd != nil && v == *nd {
			t.Data.Set(i, v)
			continue
		}
		t.Data.Set(i, o.scale*v+o.offset)
	}
	pm.Worked(0.5)
	return nil
}
