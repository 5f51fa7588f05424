// Package pyramid builds max/min pooled image pyramids. A pooled pixel at
// depth d bounds the extreme of the 2^d × 2^d base block it covers, which
// is what makes region likelihood bounds admissible.
package pyramid

import (
	"errors"
	"fmt"

	"github.com/banshee-data/shiftstack/internal/raster"
)

// Mode selects the pooling reduction.
type Mode int

const (
	Max Mode = iota
	Min
)

func (m Mode) String() string {
	switch m {
	case Max:
		return "max"
	case Min:
		return "min"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ErrEmptyImage is returned when pooling an image with no pixels.
var ErrEmptyImage = errors.New("cannot pool an empty image")

// Extreme reduces two pixels by mode, ignoring masked values. Two masked
// inputs give a masked result.
func Extreme(mode Mode, a, b float32) float32 {
	av, bv := raster.IsValid(a), raster.IsValid(b)
	switch {
	case !av && !bv:
		return raster.Masked()
	case !av:
		return b
	case !bv:
		return a
	}
	if mode == Max {
		if a >= b {
			return a
		}
		return b
	}
	if a <= b {
		return a
	}
	return b
}

// Pyramid holds levels 0..MaxDepth. Level 0 is a copy of the source; each
// following level halves the dimensions, rounding up. Read-only after Pool.
type Pyramid struct {
	mode   Mode
	levels []*raster.Image
}

// Pool builds the pyramid for img.
func Pool(img *raster.Image, mode Mode) (*Pyramid, error) {
	if img == nil || img.Width == 0 || img.Height == 0 {
		return nil, ErrEmptyImage
	}
	if mode != Max && mode != Min {
		return nil, fmt.Errorf("unsupported pooling mode %v", mode)
	}

	cur := img.Clone()
	levels := []*raster.Image{cur}
	for cur.Width > 1 || cur.Height > 1 {
		next := raster.New((cur.Width+1)/2, (cur.Height+1)/2)
		for y := 0; y < next.Height; y++ {
			for x := 0; x < next.Width; x++ {
				v := raster.Masked()
				for sy := 2 * y; sy < 2*y+2 && sy < cur.Height; sy++ {
					for sx := 2 * x; sx < 2*x+2 && sx < cur.Width; sx++ {
						v = Extreme(mode, v, cur.Pix[cur.Idx(sx, sy)])
					}
				}
				next.Pix[next.Idx(x, y)] = v
			}
		}
		levels = append(levels, next)
		cur = next
	}
	return &Pyramid{mode: mode, levels: levels}, nil
}

func (p *Pyramid) Mode() Mode    { return p.mode }
func (p *Pyramid) MaxDepth() int { return len(p.levels) - 1 }
func (p *Pyramid) Width() int    { return p.levels[0].Width }
func (p *Pyramid) Height() int   { return p.levels[0].Height }

// Level returns the pooled image at depth d. Callers must not modify it.
func (p *Pyramid) Level(d int) *raster.Image {
	p.checkDepth(d)
	return p.levels[d]
}

func (p *Pyramid) checkDepth(d int) {
	if d < 0 || d >= len(p.levels) {
		panic(fmt.Sprintf("pyramid: depth %d outside [0,%d]", d, len(p.levels)-1))
	}
}

// ReadAtDepth returns the pooled value covering base pixel (x, y) at the
// given depth. Out-of-range depths or coordinates panic.
func (p *Pyramid) ReadAtDepth(depth, x, y int) float32 {
	p.checkDepth(depth)
	if !p.levels[0].In(x, y) {
		panic(fmt.Sprintf("pyramid: pixel (%d,%d) outside %dx%d base", x, y, p.Width(), p.Height()))
	}
	lvl := p.levels[depth]
	return lvl.Pix[lvl.Idx(x>>depth, y>>depth)]
}

// CellDepth returns the coarsest depth at which (x, y) anchors a single
// pooled pixel lying wholly inside the base image.
func (p *Pyramid) CellDepth(x, y int) int {
	return min(AlignedFit(x, y, p.Width(), p.Height()), p.MaxDepth())
}

// RegionExtreme returns the exact extreme over the half-open box
// [x0,x1)×[y0,y1) clipped to the base image. The box is tiled with aligned
// blocks so each block costs one pooled read. ok is false when the clipped
// box is empty or fully masked.
func (p *Pyramid) RegionExtreme(x0, y0, x1, y1 int) (v float32, ok bool) {
	x0, y0 = max(x0, 0), max(y0, 0)
	x1, y1 = min(x1, p.Width()), min(y1, p.Height())
	v = raster.Masked()
	if x0 >= x1 || y0 >= y1 {
		return v, false
	}
	Tile(x0, y0, x1, y1, p.MaxDepth(), func(x, y, d int) {
		v = Extreme(p.mode, v, p.ReadAtDepth(d, x, y))
	})
	return v, raster.IsValid(v)
}
