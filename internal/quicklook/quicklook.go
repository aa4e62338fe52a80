// Package quicklook renders computed tiles as 8-bit preview images: one
// channel as grey, three channels as red, green and blue. Samples are
// linearly stretched between the minimum and maximum seen per channel.
package quicklook

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"
	"math"
	"sync"

	"github.com/disintegration/imaging"

	"github.com/mohammed-shakir/tilegraph/internal/raster"
)

var ErrChannels = errors.New("quicklook needs 1 or 3 channels")

type part struct {
	rect  raster.Rectangle
	tiles []*raster.Tile
}

// Mosaic collects tiles of a region and renders them with one stretch for
// the whole region. Add is safe for concurrent use.
type Mosaic struct {
	region   raster.Rectangle
	channels int

	mu     sync.Mutex
	parts  []part
	lo, hi []float64
}

func NewMosaic(region raster.Rectangle, channels int) (*Mosaic, error) {
	if channels != 1 && channels != 3 {
		return nil, fmt.Errorf("%w, got %d", ErrChannels, channels)
	}
	if region.Empty() {
		return nil, fmt.Errorf("empty region %s", region)
	}
	m := &Mosaic{region: region, channels: channels, lo: make([]float64, channels), hi: make([]float64, channels)}
	for i := range channels {
		m.lo[i], m.hi[i] = math.Inf(1), math.Inf(-1)
	}
	return m, nil
}

// Add records the channel tiles of one rectangle, in output channel order.
func (m *Mosaic) Add(tiles ...*raster.Tile) error {
	if len(tiles) != m.channels {
		return fmt.Errorf("%w, got %d", ErrChannels, len(tiles))
	}
	rect := tiles[0].Rect
	for _, t := range tiles {
		if t.Rect != rect {
			return fmt.Errorf("channel tiles cover different rectangles: %s and %s", rect, t.Rect)
		}
	}
	if !m.region.ContainsRect(rect) {
		return fmt.Errorf("tile %s outside region %s", rect, m.region)
	}

	lo, hi := make([]float64, m.channels), make([]float64, m.channels)
	for c, t := range tiles {
		lo[c], hi[c] = sampleRange(t)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for c := range tiles {
		m.lo[c] = math.Min(m.lo[c], lo[c])
		m.hi[c] = math.Max(m.hi[c], hi[c])
	}
	m.parts = append(m.parts, part{rect: rect, tiles: tiles})
	return nil
}

func sampleRange(t *raster.Tile) (lo, hi float64) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for i := range t.Data.Len() {
		v := t.Data.At(i)
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	return lo, hi
}

// Image renders the region; areas no tile covered stay black.
func (m *Mosaic) Image() *image.NRGBA {
	m.mu.Lock()
	defer m.mu.Unlock()
	canvas := imaging.New(m.region.Width, m.region.Height, color.NRGBA{A: 255})
	for _, p := range m.parts {
		img := m.render(p)
		canvas = imaging.Paste(canvas, img, image.Pt(p.rect.X-m.region.X, p.rect.Y-m.region.Y))
	}
	return canvas
}

func (m *Mosaic) render(p part) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, p.rect.Width, p.rect.Height))
	for y := range p.rect.Height {
		for x := range p.rect.Width {
			i := y*p.rect.Width + x
			var px [3]uint8
			for c, t := range p.tiles {
				px[c] = stretch(t.Data.At(i), m.lo[c], m.hi[c])
			}
			if m.channels == 1 {
				px[1], px[2] = px[0], px[0]
			}
			img.SetNRGBA(x, y, color.NRGBA{R: px[0], G: px[1], B: px[2], A: 255})
		}
	}
	return img
}

func stretch(v, lo, hi float64) uint8 {
	if math.IsNaN(v) || hi < lo {
		return 0
	}
	if hi == lo {
		return 128
	}
	f := (v - lo) / (hi - lo)
	return uint8(math.Round(math.Max(0, math.Min(1, f)) * 255))
}

// Render is a one-shot Mosaic over the tiles' own rectangle.
func Render(tiles ...*raster.Tile) (*image.NRGBA, error) {
	if len(tiles) == 0 {
		return nil, fmt.Errorf("%w, got 0", ErrChannels)
	}
	m, err := NewMosaic(tiles[0].Rect, len(tiles))
	if err != nil {
		return nil, err
	}
	if err := m.Add(tiles...); err != nil {
		return nil, err
	}
	return m.Image(), nil
}

// Fit downsizes img to fit in size x size; smaller images are returned as is.
func Fit(img image.Image, size int) image.Image {
	b := img.Bounds()
	if size <= 0 || (b.Dx() <= size && b.Dy() <= size) {
		return img
	}
	return imaging.Fit(img, size, size, imaging.Lanczos)
}

func EncodePNG(w io.Writer, img image.Image) error {
	if err := imaging.Encode(w, img, imaging.PNG); err != nil {
		return fmt.Errorf("encode png: %w", err)
	}
	return nil
}

// Save writes img with the format implied by the file extension.
func Save(path string, img image.Image) error {
	if err := imaging.Save(img, path); err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	return nil
}
