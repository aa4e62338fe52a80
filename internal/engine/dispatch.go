package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mohammed-shakir/tilegraph/internal/core/observability"
	"github.com/mohammed-shakir/tilegraph/internal/logger"
	"github.com/mohammed-shakir/tilegraph/internal/operator"
	"github.com/mohammed-shakir/tilegraph/internal/progress"
	"github.com/mohammed-shakir/tilegraph/internal/raster"
)

const (
	strategyTile     = "tile"
	strategyAllBands = "all_bands"
)

// Tile returns one channel of node for rect, computing it and whatever it
// depends on if needed. The returned tile is shared through the run's cache
// and must not be modified; use TileInto for a private copy.
func (r *Run) Tile(ctx context.Context, node, channel string, rect raster.Rectangle, pm progress.Monitor) (*raster.Tile, error) {
	n, p, err := r.lookup(node, rect)
	if err != nil {
		return nil, err
	}
	c := p.Channel(channel)
	if c == nil {
		return nil, fmt.Errorf("node %q: %w %q", node, operator.ErrUnknownChannel, channel)
	}
	if rect.Empty() {
		return raster.NewTile(channel, rect, c.Type), nil
	}
	return r.resolve(ctx, n, p, channel, rect, progress.OrNull(pm))
}

// TileInto resolves dst.Channel over dst.Rect and copies the samples into
// dst's own buffer, converting to its sample type. It returns dst.
func (r *Run) TileInto(ctx context.Context, node string, dst *raster.Tile, pm progress.Monitor) (*raster.Tile, error) {
	if dst == nil || dst.Data == nil || dst.Data.Len() != dst.Rect.Area() {
		return nil, raster.ErrBufferSize
	}
	t, err := r.Tile(ctx, node, dst.Channel, dst.Rect, pm)
	if err != nil {
		return nil, err
	}
	dst.Data.CopyFrom(t.Data)
	return dst, nil
}

// Tiles returns several channels of node for the same rectangle. When the
// operator computes all bands at once, missing channels are produced by a
// single whole-tile call.
func (r *Run) Tiles(ctx context.Context, node string, channels []string, rect raster.Rectangle, pm progress.Monitor) (map[string]*raster.Tile, error) {
	n, p, err := r.lookup(node, rect)
	if err != nil {
		return nil, err
	}
	pm = progress.OrNull(pm)
	if len(channels) == 0 {
		channels = p.ChannelNames()
	}
	uniq := make([]string, 0, len(channels))
	seen := make(map[string]bool, len(channels))
	for _, ch := range channels {
		if p.Channel(ch) == nil {
			return nil, fmt.Errorf("node %q: %w %q", node, operator.ErrUnknownChannel, ch)
		}
		if !seen[ch] {
			seen[ch] = true
			uniq = append(uniq, ch)
		}
	}

	out := make(map[string]*raster.Tile, len(uniq))
	if rect.Empty() {
		for _, ch := range uniq {
			out[ch] = raster.NewTile(ch, rect, p.Channel(ch).Type)
		}
		return out, nil
	}
	if len(uniq) > 1 && n.allBands {
		owned := make(map[string]*entry)
		for _, ch := range uniq {
			k := tileKey{node: n.id, channel: ch, rect: rect}
			if e, own := r.cache.claim(k); own {
				observability.IncTileCache("miss")
				owned[ch] = e
			}
		}
		if len(owned) > 0 {
			if err := r.computeBands(ctx, n, p, rect, owned, pm); err != nil {
				return nil, err
			}
			for _, ch := range uniq {
				if e := owned[ch]; e != nil {
					out[ch] = e.tile
				}
			}
		}
	}
	for _, ch := range uniq {
		if out[ch] != nil {
			continue
		}
		t, err := r.resolve(ctx, n, p, ch, rect, pm)
		if err != nil {
			return nil, err
		}
		out[ch] = t
	}
	return out, nil
}

func (r *Run) resolve(ctx context.Context, n *node, p *raster.Product, channel string, rect raster.Rectangle, pm progress.Monitor) (*raster.Tile, error) {
	k := tileKey{node: n.id, channel: channel, rect: rect}
	for {
		e, owner := r.cache.claim(k)
		if owner {
			observability.IncTileCache("miss")
			if err := r.computeOne(ctx, n, p, k, e, pm); err != nil {
				return nil, err
			}
			return e.tile, nil
		}

		if e.finished() {
			r.hits.Add(1)
			observability.IncTileCache("hit")
		} else {
			r.coalesced.Add(1)
			observability.IncTileCache("coalesced")
			select {
			case <-e.done:
			case <-ctx.Done():
				return nil, progress.Canceled(ctx.Err())
			case <-pm.Stopped():
				return nil, pm.Err()
			}
		}
		if e.err == nil {
			r.cache.touch(k)
			return e.tile, nil
		}
		// the computing caller was cancelled; retry on our own behalf
		if progress.IsCanceled(e.err) && ctx.Err() == nil && pm.Err() == nil {
			continue
		}
		return nil, e.err
	}
}

// computeOne completes the owned entry for k. Per-band is preferred for a
// single channel; whole-tile operators compute every channel and the
// unclaimed siblings are cached as well.
func (r *Run) computeOne(ctx context.Context, n *node, p *raster.Product, k tileKey, e *entry, pm progress.Monitor) error {
	if !n.perBand {
		return r.computeBands(ctx, n, p, k.rect, map[string]*entry{k.channel: e}, pm)
	}
	t := raster.NewTile(k.channel, k.rect, p.Channel(k.channel).Type)
	err := r.invoke(ctx, n, strategyTile, k.channel, k.rect, pm, func() error {
		return n.ctx.ComputeTile(ctx, t, pm)
	})
	if err != nil {
		r.cache.complete(k, e, nil, err)
		return err
	}
	r.cache.complete(k, e, t, nil)
	return nil
}

func (r *Run) computeBands(ctx context.Context, n *node, p *raster.Product, rect raster.Rectangle, owned map[string]*entry, pm progress.Monitor) error {
	// Siblings are claimed before the call so concurrent requests for them
	// wait on this computation instead of starting their own.
	for _, ch := range p.Channels {
		if owned[ch.Name] != nil {
			continue
		}
		if e, own := r.cache.claim(tileKey{node: n.id, channel: ch.Name, rect: rect}); own {
			owned[ch.Name] = e
		}
	}
	targets := make(map[string]*raster.Tile, len(p.Channels))
	for _, ch := range p.Channels {
		targets[ch.Name] = raster.NewTile(ch.Name, rect, ch.Type)
	}
	err := r.invoke(ctx, n, strategyAllBands, "", rect, pm, func() error {
		return n.ctx.ComputeAllBands(ctx, targets, rect, pm)
	})
	for ch, e := range owned {
		k := tileKey{node: n.id, channel: ch, rect: rect}
		if err != nil {
			r.cache.complete(k, e, nil, err)
		} else {
			r.cache.complete(k, e, targets[ch], nil)
		}
	}
	return err
}

// invoke runs one operator call and classifies its outcome. A call that
// returns while its run is being cancelled never yields a valid tile.
func (r *Run) invoke(ctx context.Context, n *node, strategy, channel string, rect raster.Rectangle, pm progress.Monitor, fn func() error) error {
	start := time.Now()
	err := fn()
	observability.ObserveCompute(n.opType, strategy, time.Since(start).Seconds())
	r.computed.Add(1)

	if cerr := ctx.Err(); cerr != nil {
		return progress.Canceled(cerr)
	}
	if err == nil {
		return pm.Err()
	}
	if progress.IsCanceled(err) {
		return err
	}
	var ce *ComputeError
	if errors.As(err, &ce) {
		return err
	}
	if errors.Is(err, operator.ErrNotImplemented) {
		r.log.ErrorContext(logger.WithNode(ctx, n.id), "operator misconfigured", "operator", n.opType, "strategy", strategy, "err", err)
	}
	return &ComputeError{Node: n.id, Operator: n.opType, Channel: channel, Rect: rect, Err: err}
}
