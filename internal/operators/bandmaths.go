package operators

import (
	"context"
	"fmt"

	"github.com/mohammed-shakir/tilegraph/internal/operator"
	"github.com/mohammed-shakir/tilegraph/internal/progress"
	"github.com/mohammed-shakir/tilegraph/internal/raster"
)

const (
	ChannelNDI   = "ndi"
	ChannelValid = "valid"
)

// BandMaths computes the normalized difference of two source channels. Both
// outputs come from the same pass so it only computes whole tiles.
type BandMaths struct {
	operator.Base
	c      *operator.Context
	a, b   string
	ndA    *float64
	ndB    *float64
	nodata float64
}

func (o *BandMaths) Initialize(c *operator.Context) (*raster.Product, error) {
	src, err := requireSource(c, "source")
	if err != nil {
		return nil, err
	}
	p := c.Params()
	o.c = c
	o.a, o.b = p.String("a"), p.String("b")
	o.nodata = p.Float64("noDataValue")
	ca, cb := src.Channel(o.a), src.Channel(o.b)
	if ca == nil || cb == nil {
		return nil, fmt.Errorf("%w: need %q and %q in %s", operator.ErrUnknownChannel, o.a, o.b, src.Name)
	}
	o.ndA, o.ndB = ca.NoData, cb.NoData

	nd := o.nodata
	prod := raster.NewProduct(c.Name(), src.Width, src.Height)
	_ = prod.AddChannel(raster.Channel{Name: ChannelNDI, Type: raster.Float32, NoData: &nd})
	_ = prod.AddChannel(raster.Channel{Name: ChannelValid, Type: raster.Uint8})
	return prod, nil
}

func (o *BandMaths) ComputeAllBands(ctx context.Context, targets map[string]*raster.Tile, rect raster.Rectangle, pm progress.Monitor) error {
	ta, err := o.c.SourceTile(ctx, "source", o.a, rect, pm.Sub(0.25))
	if err != nil {
		return err
	}
	tb, err := o.c.SourceTile(ctx, "source", o.b, rect, pm.Sub(0.25))
	if err != nil {
		return err
	}
	ndi, valid := targets[ChannelNDI], targets[ChannelValid]
	for i := range rect.Area() {
		a, b := ta.Data.At(i), tb.Data.At(i)
		v, ok := o.nodata, false
		if !isNoData(a, o.ndA) && !isNoData(b, o.ndB) && a+b != 0 {
			v, ok = (a-b)/(a+b), true
		}
		if ndi != nil {
			ndi.Data.Set(i, v)
		}
		if valid != nil {
			if ok {
				valid.Data.Set(i, 1)
			} else {
				valid.Data.Set(i, 0)
			}
		}
	}
	pm.Worked(0.5)
	return nil
}

func isNoData(v float64, nd *float64) bool {
	return nd != nil && v == *nd
}
