package raster

import (
	"errors"
	"fmt"
)

var ErrBufferSize = errors.New("raster: buffer length does not match rectangle")

// Tile is one channel's samples for a rectangle, stored row-major.
type Tile struct {
	Channel string
	Rect    Rectangle
	Data    Buffer
}

func NewTile(channel string, r Rectangle, dt DataType) *Tile {
	return &Tile{Channel: channel, Rect: r, Data: NewBuffer(dt, r.Area())}
}

// WrapTile builds a tile around a caller supplied buffer so repeated
// requests can reuse one allocation.
func WrapTile(channel string, r Rectangle, buf Buffer) (*Tile, error) {
	if buf == nil {
		return nil, fmt.Errorf("%w: nil buffer", ErrBufferSize)
	}
	if buf.Len() != r.Area() {
		return nil, fmt.Errorf("%w: len=%d rect=%s", ErrBufferSize, buf.Len(), r)
	}
	return &Tile{Channel: channel, Rect: r, Data: buf}, nil
}

func (t *Tile) Type() DataType { return t.Data.Type() }

func (t *Tile) index(x, y int) int {
	return (y-t.Rect.Y)*t.Rect.Width + (x - t.Rect.X)
}

// At reads the sample at raster coordinates (x, y).
func (t *Tile) At(x, y int) float64 { return t.Data.At(t.index(x, y)) }

func (t *Tile) Set(x, y int, v float64) { t.Data.Set(t.index(x, y), v) }

// CopyRegion copies the overlap of src and t into t and returns the
// number of samples copied.
func (t *Tile) CopyRegion(src *Tile) int {
	ov := t.Rect.Intersect(src.Rect)
	if ov.Empty() {
		return 0
	}
	if ov == t.Rect && ov == src.Rect {
		t.Data.CopyFrom(src.Data)
		return ov.Area()
	}
	for y := ov.Y; y < ov.MaxY(); y++ {
		for x := ov.X; x < ov.MaxX(); x++ {
			t.Set(x, y, src.At(x, y))
		}
	}
	return ov.Area()
}
