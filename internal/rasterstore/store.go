// Package rasterstore keeps rasters in Redis as fixed-size sample blocks so
// a rectangle can be read without loading the whole channel.
package rasterstore

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/redis/go-redis/v9"
	maintnotifications "github.com/redis/go-redis/v9/maintnotifications"

	"github.com/mohammed-shakir/tilegraph/internal/core/observability"
	"github.com/mohammed-shakir/tilegraph/internal/raster"
)

var ErrNotFound = errors.New("raster not found")

const DefaultBlockSize = 64

type Option func(*redis.Options)

func WithPoolSize(n int) Option {
	return func(o *redis.Options) { o.PoolSize = n }
}

func WithDialTimeout(d time.Duration) Option {
	return func(o *redis.Options) { o.DialTimeout = d }
}

func WithReadTimeout(d time.Duration) Option {
	return func(o *redis.Options) { o.ReadTimeout = d }
}

func WithWriteTimeout(d time.Duration) Option {
	return func(o *redis.Options) { o.WriteTimeout = d }
}

// Meta describes a stored raster.
type Meta struct {
	Product   string           `json:"product"`
	Width     int              `json:"width"`
	Height    int              `json:"height"`
	BlockSize int              `json:"block_size"`
	Channels  []raster.Channel `json:"channels"`
}

func (m Meta) RasterProduct() *raster.Product {
	p := raster.NewProduct(m.Product, m.Width, m.Height)
	p.Channels = append(p.Channels, m.Channels...)
	return p
}

func (m Meta) channel(name string) (raster.Channel, bool) {
	for _, c := range m.Channels {
		if c.Name == name {
			if c.Type == 0 {
				c.Type = raster.Float32
			}
			return c, true
		}
	}
	return raster.Channel{}, false
}

func (m Meta) blockSize() int {
	if m.BlockSize <= 0 {
		return DefaultBlockSize
	}
	return m.BlockSize
}

type Store struct {
	rdb *redis.Client
}

func New(ctx context.Context, addr string, opts ...Option) (*Store, error) {
	if addr == "" {
		return nil, errors.New("redis address is required")
	}

	ro := &redis.Options{
		Addr:         addr,
		PoolSize:     32,
		MinIdleConns: 2,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  1 * time.Second,
		WriteTimeout: 1 * time.Second,
		MaintNotificationsConfig: &maintnotifications.Config{
			Mode: maintnotifications.ModeDisabled,
		},
	}
	for _, f := range opts {
		f(ro)
	}

	rdb := redis.NewClient(ro)

	start := time.Now()
	err := rdb.Ping(ctx).Err()
	observability.ObserveRedisOp("ping", err, time.Since(start).Seconds())
	if err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Store{rdb: rdb}, nil
}

func (s *Store) Close() error {
	if err := s.rdb.Close(); err != nil {
		return fmt.Errorf("redis close: %w", err)
	}
	return nil
}

// PutMeta registers a raster. Channels are written separately.
func (s *Store) PutMeta(ctx context.Context, m Meta) error {
	if m.Width <= 0 || m.Height <= 0 {
		return fmt.Errorf("raster %q: invalid size %dx%d", m.Product, m.Width, m.Height)
	}
	m.BlockSize = m.blockSize()
	b, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode meta: %w", err)
	}
	start := time.Now()
	err = s.rdb.Set(ctx, metaKey(m.Product), b, 0).Err()
	observability.ObserveRedisOp("set", err, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("redis SET meta %q: %w", m.Product, err)
	}
	return nil
}

func (s *Store) Meta(ctx context.Context, product string) (Meta, error) {
	start := time.Now()
	b, err := s.rdb.Get(ctx, metaKey(product)).Bytes()
	if errors.Is(err, redis.Nil) {
		observability.ObserveRedisOp("get", nil, time.Since(start).Seconds())
		return Meta{}, fmt.Errorf("%w: %q", ErrNotFound, product)
	}
	observability.ObserveRedisOp("get", err, time.Since(start).Seconds())
	if err != nil {
		return Meta{}, fmt.Errorf("redis GET meta %q: %w", product, err)
	}
	var m Meta
	if err := json.Unmarshal(b, &m); err != nil {
		return Meta{}, fmt.Errorf("decode meta %q: %w", product, err)
	}
	return m, nil
}

// PutChannel splits t into blocks and writes them in one pipeline. t must
// cover whole blocks or reach the raster edge.
func (s *Store) PutChannel(ctx context.Context, m Meta, t *raster.Tile) error {
	ch, ok := m.channel(t.Channel)
	if !ok {
		return fmt.Errorf("raster %q: unknown channel %q", m.Product, t.Channel)
	}
	bs := m.blockSize()
	if t.Rect.X%bs != 0 || t.Rect.Y%bs != 0 {
		return fmt.Errorf("tile %s is not block aligned (block %d)", t.Rect, bs)
	}
	bounds := raster.Rectangle{Width: m.Width, Height: m.Height}
	if !bounds.ContainsRect(t.Rect) {
		return fmt.Errorf("tile %s outside raster %s", t.Rect, bounds)
	}

	kv := make(map[string][]byte)
	for _, br := range t.Rect.Tiles(bs, bs) {
		if (br.Width != bs && br.MaxX() != m.Width) || (br.Height != bs && br.MaxY() != m.Height) {
			return fmt.Errorf("tile %s ends inside a block", t.Rect)
		}
		blk := raster.NewTile(t.Channel, br, ch.Type)
		blk.CopyRegion(t)
		kv[BlockKey(m.Product, t.Channel, br.X/bs, br.Y/bs)] = encode(blk.Data)
	}

	start := time.Now()
	_, err := s.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		for k, v := range kv {
			p.Set(ctx, k, v, 0)
		}
		return nil
	})
	observability.ObserveRedisOp("mset", err, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("redis write %d blocks: %w", len(kv), err)
	}
	return nil
}

// ReadRect assembles rect of a channel from its blocks. Missing blocks read
// as the channel's no-data value, or zero.
func (s *Store) ReadRect(ctx context.Context, m Meta, channel string, rect raster.Rectangle) (*raster.Tile, error) {
	ch, ok := m.channel(channel)
	if !ok {
		return nil, fmt.Errorf("raster %q: unknown channel %q", m.Product, channel)
	}
	if !(raster.Rectangle{Width: m.Width, Height: m.Height}).ContainsRect(rect) {
		return nil, fmt.Errorf("rect %s outside raster %dx%d", rect, m.Width, m.Height)
	}
	bs := m.blockSize()
	out := raster.NewTile(channel, rect, ch.Type)
	if ch.NoData != nil && *ch.NoData != 0 {
		for i := range out.Data.Len() {
			out.Data.Set(i, *ch.NoData)
		}
	}

	var (
		keys   []string
		blocks []raster.Rectangle
	)
	for by := rect.Y / bs; by*bs < rect.MaxY(); by++ {
		for bx := rect.X / bs; bx*bs < rect.MaxX(); bx++ {
			br := raster.Rectangle{X: bx * bs, Y: by * bs, Width: bs, Height: bs}
			keys = append(keys, BlockKey(m.Product, channel, bx, by))
			blocks = append(blocks, br.Intersect(raster.Rectangle{Width: m.Width, Height: m.Height}))
		}
	}

	start := time.Now()
	vals, err := s.rdb.MGet(ctx, keys...).Result()
	observability.ObserveRedisOp("mget", err, time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("redis MGET %d blocks: %w", len(keys), err)
	}
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue
		}
		buf, err := decode([]byte(str), ch.Type, blocks[i].Area())
		if err != nil {
			return nil, fmt.Errorf("block %s: %w", keys[i], err)
		}
		out.CopyRegion(&raster.Tile{Channel: channel, Rect: blocks[i], Data: buf})
	}
	return out, nil
}

func encode(b raster.Buffer) []byte {
	size := b.Type().Size()
	out := make([]byte, b.Len()*size)
	for i := range b.Len() {
		putSample(out[i*size:], b.Type(), b.At(i))
	}
	return out
}

func decode(p []byte, dt raster.DataType, n int) (raster.Buffer, error) {
	size := dt.Size()
	if len(p) != n*size {
		return nil, fmt.Errorf("got %d bytes, want %d", len(p), n*size)
	}
	buf := raster.NewBuffer(dt, n)
	for i := range n {
		buf.Set(i, sample(p[i*size:], dt))
	}
	return buf, nil
}

func putSample(p []byte, dt raster.DataType, v float64) {
	le := binary.LittleEndian
	v = dt.Clamp(v)
	switch dt {
	case raster.Int8:
		p[0] = byte(int8(v))
	case raster.Uint8:
		p[0] = uint8(v)
	case raster.Int16:
		le.PutUint16(p, uint16(int16(v)))
	case raster.Uint16:
		le.PutUint16(p, uint16(v))
	case raster.Int32:
		le.PutUint32(p, uint32(int32(v)))
	case raster.Uint32:
		le.PutUint32(p, uint32(v))
	case raster.Float64:
		le.PutUint64(p, math.Float64bits(v))
	default:
		le.PutUint32(p, math.Float32bits(float32(v)))
	}
}

func sample(p []byte, dt raster.DataType) float64 {
	le := binary.LittleEndian
	switch dt {
	case raster.Int8:
		return float64(int8(p[0]))
	case raster.Uint8:
		return float64(p[0])
	case raster.Int16:
		return float64(int16(le.Uint16(p)))
	case raster.Uint16:
		return float64(le.Uint16(p))
	case raster.Int32:
		return float64(int32(le.Uint32(p)))
	case raster.Uint32:
		return float64(le.Uint32(p))
	case raster.Float64:
		return math.Float64frombits(le.Uint64(p))
	default:
		return float64(math.Float32frombits(le.Uint32(p)))
	}
}
