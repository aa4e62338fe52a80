package rasterstore

import (
	"context"
	"errors"
	"math"
	"regexp"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	"github.com/mohammed-shakir/tilegraph/internal/raster"
)

func newMini(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	t.Cleanup(cancel)

	s, err := New(ctx, mr.Addr())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s, mr
}

func gradient(channel string, r raster.Rectangle, dt raster.DataType) *raster.Tile {
	t := raster.NewTile(channel, r, dt)
	for y := r.Y; y < r.MaxY(); y++ {
		for x := r.X; x < r.MaxX(); x++ {
			t.Set(x, y, float64(x+10*y))
		}
	}
	return t
}

func TestPutChannel_ReadRectAcrossBlocks(t *testing.T) {
	s, mr := newMini(t)
	ctx := context.Background()

	m := Meta{Product: "scene", Width: 10, Height: 7, BlockSize: 4, Channels: []raster.Channel{
		{Name: "b1", Type: raster.Int16},
		{Name: "b2"},
	}}
	if err := s.PutMeta(ctx, m); err != nil {
		t.Fatalf("PutMeta: %v", err)
	}
	full := raster.Rectangle{Width: 10, Height: 7}
	if err := s.PutChannel(ctx, m, gradient("b1", full, raster.Int16)); err != nil {
		t.Fatalf("PutChannel: %v", err)
	}
	// 3x2 blocks, edge blocks clipped
	if !mr.Exists(BlockKey("scene", "b1", 2, 1)) {
		t.Fatalf("edge block missing; keys=%v", mr.Keys())
	}

	got, err := s.Meta(ctx, "scene")
	if err != nil {
		t.Fatalf("Meta: %v", err)
	}
	if got.Width != 10 || len(got.Channels) != 2 || got.Channels[0].Type != raster.Int16 {
		t.Fatalf("meta round trip: %+v", got)
	}

	r := raster.Rectangle{X: 3, Y: 2, Width: 6, Height: 5}
	tl, err := s.ReadRect(ctx, got, "b1", r)
	if err != nil {
		t.Fatalf("ReadRect: %v", err)
	}
	if tl.Type() != raster.Int16 {
		t.Fatalf("type=%s want int16", tl.Type())
	}
	for y := r.Y; y < r.MaxY(); y++ {
		for x := r.X; x < r.MaxX(); x++ {
			if want := float64(x + 10*y); tl.At(x, y) != want {
				t.Fatalf("At(%d,%d)=%v want %v", x, y, tl.At(x, y), want)
			}
		}
	}
}

func TestReadRect_MissingBlocksUseNoData(t *testing.T) {
	s, _ := newMini(t)
	nd := -1.0
	m := Meta{Product: "sparse", Width: 8, Height: 8, BlockSize: 4, Channels: []raster.Channel{{Name: "v", NoData: &nd}}}
	if err := s.PutMeta(context.Background(), m); err != nil {
		t.Fatalf("PutMeta: %v", err)
	}
	part := gradient("v", raster.Rectangle{Width: 4, Height: 4}, raster.Float32)
	if err := s.PutChannel(context.Background(), m, part); err != nil {
		t.Fatalf("PutChannel: %v", err)
	}
	tl, err := s.ReadRect(context.Background(), m, "v", raster.Rectangle{X: 2, Y: 2, Width: 4, Height: 4})
	if err != nil {
		t.Fatalf("ReadRect: %v", err)
	}
	if tl.At(3, 3) != 33 || tl.At(5, 5) != -1 {
		t.Fatalf("stored=%v nodata=%v", tl.At(3, 3), tl.At(5, 5))
	}
}

func TestPutChannel_Validation(t *testing.T) {
	s, _ := newMini(t)
	m := Meta{Product: "p", Width: 8, Height: 8, BlockSize: 4, Channels: []raster.Channel{{Name: "v"}}}
	ctx := context.Background()
	cases := []*raster.Tile{
		gradient("v", raster.Rectangle{X: 1, Width: 4, Height: 4}, raster.Float32),
		gradient("v", raster.Rectangle{Width: 3, Height: 4}, raster.Float32),
		gradient("zz", raster.Rectangle{Width: 4, Height: 4}, raster.Float32),
		gradient("v", raster.Rectangle{Width: 12, Height: 4}, raster.Float32),
	}
	for _, tl := range cases {
		if err := s.PutChannel(ctx, m, tl); err == nil {
			t.Fatalf("%s %s: expected error", tl.Channel, tl.Rect)
		}
	}
}

func TestMeta_NotFound(t *testing.T) {
	s, _ := newMini(t)
	if _, err := s.Meta(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err=%v want ErrNotFound", err)
	}
}

func TestContextCanceled(t *testing.T) {
	s, _ := newMini(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m := Meta{Product: "p", Width: 4, Height: 4, Channels: []raster.Channel{{Name: "v"}}}
	if err := s.PutMeta(ctx, m); err == nil {
		t.Fatalf("expected error on canceled context")
	}
	if _, err := s.ReadRect(ctx, m, "v", raster.Rectangle{Width: 2, Height: 2}); err == nil {
		t.Fatalf("expected error on canceled context")
	}
}

func TestBlockKey(t *testing.T) {
	if got := BlockKey("s2", "B04", 3, 1); got != "raster:s2:B04:3:1" {
		t.Fatalf("key=%q", got)
	}
	k1 := BlockKey("my scene:1", "b", 0, 0)
	k2 := BlockKey("my_scene-1", "b", 0, 0)
	if k1 == k2 {
		t.Fatalf("rewritten names must not collide: %s", k1)
	}
	if !regexp.MustCompile(`^raster:[A-Za-z0-9_.~-]+:b:0:0$`).MatchString(k1) {
		t.Fatalf("key has disallowed characters: %s", k1)
	}
}

func TestPutSample_Saturates(t *testing.T) {
	cases := []struct {
		dt   raster.DataType
		in   float64
		want float64
	}{
		{raster.Uint8, 300, 255},
		{raster.Uint8, -1, 0},
		{raster.Int8, 200, 127},
		{raster.Int16, -40000, -32768},
		{raster.Uint16, 1.6, 2},
		{raster.Int32, math.NaN(), 0},
		{raster.Uint32, -5, 0},
	}
	for _, c := range cases {
		p := make([]byte, c.dt.Size())
		putSample(p, c.dt, c.in)
		if got := sample(p, c.dt); got != c.want {
			t.Errorf("%s(%v)=%v want %v", c.dt, c.in, got, c.want)
		}
	}
}
