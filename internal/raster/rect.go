// Package raster holds the pixel-space model shared by operators: rectangles,
// typed sample buffers, tiles and product descriptors.
package raster

import (
	"errors"
	"fmt"
)

var ErrInvalidRect = errors.New("raster: invalid rectangle")

// Rectangle is a region in raster pixel coordinates. X and Y address the
// upper-left pixel; the region spans [X, X+Width) x [Y, Y+Height).
type Rectangle struct {
	X, Y          int
	Width, Height int
}

func Rect(x, y, w, h int) (Rectangle, error) {
	if w < 0 || h < 0 {
		return Rectangle{}, fmt.Errorf("%w: %dx%d", ErrInvalidRect, w, h)
	}
	return Rectangle{X: x, Y: y, Width: w, Height: h}, nil
}

func (r Rectangle) Area() int { return r.Width * r.Height }

func (r Rectangle) Empty() bool { return r.Width <= 0 || r.Height <= 0 }

func (r Rectangle) MaxX() int { return r.X + r.Width }

func (r Rectangle) MaxY() int { return r.Y + r.Height }

func (r Rectangle) Contains(x, y int) bool {
	return x >= r.X && x < r.MaxX() && y >= r.Y && y < r.MaxY()
}

func (r Rectangle) ContainsRect(o Rectangle) bool {
	if o.Empty() {
		return true
	}
	return o.X >= r.X && o.Y >= r.Y && o.MaxX() <= r.MaxX() && o.MaxY() <= r.MaxY()
}

// Intersect returns the overlap of r and o, or the zero rectangle when
// they are disjoint.
func (r Rectangle) Intersect(o Rectangle) Rectangle {
	x0, y0 := max(r.X, o.X), max(r.Y, o.Y)
	x1, y1 := min(r.MaxX(), o.MaxX()), min(r.MaxY(), o.MaxY())
	if x1 <= x0 || y1 <= y0 {
		return Rectangle{}
	}
	return Rectangle{X: x0, Y: y0, Width: x1 - x0, Height: y1 - y0}
}

// Grow expands r by dx pixels left and right and dy pixels top and bottom.
func (r Rectangle) Grow(dx, dy int) Rectangle {
	g := Rectangle{X: r.X - dx, Y: r.Y - dy, Width: r.Width + 2*dx, Height: r.Height + 2*dy}
	if g.Width < 0 {
		g.Width = 0
	}
	if g.Height < 0 {
		g.Height = 0
	}
	return g
}

// Tiles splits r into a row-major grid of tw x th rectangles; the last
// column and row are clipped to r.
func (r Rectangle) Tiles(tw, th int) []Rectangle {
	if r.Empty() || tw <= 0 || th <= 0 {
		return nil
	}
	out := make([]Rectangle, 0, ((r.Width+tw-1)/tw)*((r.Height+th-1)/th))
	for y := r.Y; y < r.MaxY(); y += th {
		for x := r.X; x < r.MaxX(); x += tw {
			out = append(out, Rectangle{
				X: x, Y: y,
				Width:  min(tw, r.MaxX()-x),
				Height: min(th, r.MaxY()-y),
			})
		}
	}
	return out
}

func (r Rectangle) String() string {
	return fmt.Sprintf("%d,%d+%dx%d", r.X, r.Y, r.Width, r.Height)
}
