package operators

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mohammed-shakir/tilegraph/internal/operator"
	"github.com/mohammed-shakir/tilegraph/internal/progress"
	"github.com/mohammed-shakir/tilegraph/internal/raster"
	"github.com/mohammed-shakir/tilegraph/internal/rasterstore"
)

// RasterSource is the store RedisReader reads from. *rasterstore.Store
// implements it.
type RasterSource interface {
	Meta(ctx context.Context, product string) (rasterstore.Meta, error)
	ReadRect(ctx context.Context, m rasterstore.Meta, channel string, rect raster.Rectangle) (*raster.Tile, error)
}

var ErrNoRasterSource = errors.New("no raster store configured")

// RedisReader exposes an ingested raster as a graph source.
type RedisReader struct {
	operator.Base
	store RasterSource
	meta  rasterstore.Meta
}

func (o *RedisReader) Initialize(c *operator.Context) (*raster.Product, error) {
	o.store = currentSource()
	if o.store == nil {
		return nil, ErrNoRasterSource
	}
	p := c.Params()
	timeout := time.Duration(p.Float64("timeout") * float64(time.Second))
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	m, err := o.store.Meta(ctx, p.String("product"))
	if err != nil {
		return nil, err
	}
	o.meta = m

	stored := m.RasterProduct()
	chans, err := selectChannels(stored, p.Strings("channels"))
	if err != nil {
		return nil, err
	}
	prod := raster.NewProduct(c.Name(), m.Width, m.Height)
	for _, ch := range chans {
		if ch.Type == 0 {
			ch.Type = raster.Float32
		}
		if err := prod.AddChannel(ch); err != nil {
			return nil, err
		}
	}
	c.Logger().Debug("raster opened", "product", m.Product, "block", m.BlockSize, "channels", prod.ChannelNames())
	return prod, nil
}

func (o *RedisReader) ComputeTile(ctx context.Context, t *raster.Tile, pm progress.Monitor) error {
	got, err := o.store.ReadRect(ctx, o.meta, t.Channel, t.Rect)
	if err != nil {
		if ctx.Err() != nil {
			return progress.Canceled(ctx.Err())
		}
		return fmt.Errorf("read %s/%s: %w", o.meta.Product, t.Channel, err)
	}
	t.Data.CopyFrom(got.Data)
	pm.Worked(1)
	return nil
}
