package search

import (
	"context"
	"fmt"
	"math"

	"github.com/banshee-data/shiftstack/internal/pyramid"
	"github.com/banshee-data/shiftstack/internal/raster"
	"github.com/banshee-data/shiftstack/internal/trajectory"
)

// RegionCell is a square block of origin pixels under one velocity
// hypothesis. Upper bounds the likelihood of every origin in the block;
// Lower is the exact likelihood of the anchor (X, Y). At depth 0 both are
// exact. ObsCount bounds the usable observations of any origin in the block.
type RegionCell struct {
	X, Y     int
	Depth    int
	VX, VY   float64
	Upper    float64
	Lower    float64
	Flux     float64
	ObsCount int
}

// Side is the cell width in base pixels.
func (c RegionCell) Side() int { return 1 << c.Depth }

// Trajectory returns the anchor trajectory scored with the cell's exact values.
func (c RegionCell) Trajectory() trajectory.Trajectory {
	return trajectory.Trajectory{
		X: c.X, Y: c.Y, VX: c.VX, VY: c.VY,
		Likelihood: c.Lower, Flux: c.Flux, ObsCount: c.ObsCount,
	}
}

// Point is a position in continuous pixel coordinates.
type Point struct {
	X, Y float64
}

// RegionEngine holds the per-step pyramids shared by every velocity
// hypothesis of one search invocation. Read-only after NewRegionEngine.
type RegionEngine struct {
	width, height int
	times         []float64
	span          float64

	psi  []*pyramid.Pyramid // max pooled
	phi  []*pyramid.Pyramid // min pooled
	mask []*pyramid.Pyramid // max pooled indicator, 1 where masked

	ev Evaluator
}

// NewRegionEngine pools l. A pixel is kept only when psi and phi are both
// finite and phi > 0; otherwise it is masked in both layers so that the
// pooled bounds and the exact scores agree on which steps count.
func NewRegionEngine(l Layers, ev Evaluator) (*RegionEngine, error) {
	if err := checkLayers(l); err != nil {
		return nil, err
	}
	if ev == nil {
		ev = Sequential{}
	}
	w, h := l.Bounds()
	e := &RegionEngine{width: w, height: h, times: layerTimes(l), ev: ev}
	e.span = e.times[len(e.times)-1]

	for i := 0; i < l.Len(); i++ {
		psi, phi := l.Psi(i).Clone(), l.Phi(i).Clone()
		ind := raster.New(w, h)
		for k := range psi.Pix {
			ps, ph := psi.Pix[k], phi.Pix[k]
			if !raster.IsValid(ps) || !raster.IsValid(ph) || ph <= 0 {
				psi.Pix[k], phi.Pix[k] = raster.Masked(), raster.Masked()
				ind.Pix[k] = 1
			}
		}
		pp, err := pyramid.Pool(psi, pyramid.Max)
		if err != nil {
			return nil, fmt.Errorf("pool psi %d: %w", i, err)
		}
		pf, err := pyramid.Pool(phi, pyramid.Min)
		if err != nil {
			return nil, fmt.Errorf("pool phi %d: %w", i, err)
		}
		pm, err := pyramid.Pool(ind, pyramid.Max)
		if err != nil {
			return nil, fmt.Errorf("pool mask %d: %w", i, err)
		}
		e.psi, e.phi, e.mask = append(e.psi, pp), append(e.phi, pf), append(e.mask, pm)
	}
	return e, nil
}

// The engine is itself a Layers over the masked base levels.
func (e *RegionEngine) Len() int                { return len(e.times) }
func (e *RegionEngine) Bounds() (int, int)      { return e.width, e.height }
func (e *RegionEngine) Time(i int) float64      { return e.times[i] }
func (e *RegionEngine) Psi(i int) *raster.Image { return e.psi[i].Level(0) }
func (e *RegionEngine) Phi(i int) *raster.Image { return e.phi[i].Level(0) }

// Span is the time offset of the last step.
func (e *RegionEngine) Span() float64 { return e.span }

// MaxDepth is the deepest pyramid level.
func (e *RegionEngine) MaxDepth() int { return e.psi[0].MaxDepth() }

// CalculateLH fills the bound pair, flux and observation bound of c.
//
// For each step the block's origins read an s×s box shifted by the
// velocity offset. A step is full when that box is on-image and unmasked,
// so every origin sees it; otherwise it is partial. With ψ the box max of
// psi and φ the box min of phi, the numerator bound is
// Σfull ψ + Σpartial max(ψ, 0) and the denominator bound is Σfull φ.
func (e *RegionEngine) CalculateLH(c *RegionCell) {
	s := c.Side()
	var a, b float64
	obs := 0
	for i, t := range e.times {
		x0 := c.X + trajectory.Offset(c.VX, t)
		y0 := c.Y + trajectory.Offset(c.VY, t)
		x1, y1 := x0+s, y0+s
		psi, ok := e.psi[i].RegionExtreme(x0, y0, x1, y1)
		if !ok {
			continue
		}
		obs++
		full := x0 >= 0 && y0 >= 0 && x1 <= e.width && y1 <= e.height
		if full {
			m, _ := e.mask[i].RegionExtreme(x0, y0, x1, y1)
			full = m == 0
		}
		if !full {
			a += math.Max(float64(psi), 0)
			continue
		}
		phi, _ := e.phi[i].RegionExtreme(x0, y0, x1, y1)
		a += float64(psi)
		b += float64(phi)
	}
	c.ObsCount = obs

	if c.Depth == 0 {
		c.Upper, c.Flux = ratio(a, b)
		c.Lower = c.Upper
		return
	}
	switch {
	case a <= 0:
		c.Upper = 0
	case b <= 0:
		c.Upper = math.Inf(1)
	default:
		c.Upper = a / math.Sqrt(b)
	}
	c.Lower, c.Flux, _ = e.exact(c.X, c.Y, c.VX, c.VY)
}

// exact scores one origin directly from the base level.
func (e *RegionEngine) exact(x, y int, vx, vy float64) (lh, flux float64, obs int) {
	var a, b float64
	for i, t := range e.times {
		px, py := x+trajectory.Offset(vx, t), y+trajectory.Offset(vy, t)
		if px < 0 || py < 0 || px >= e.width || py >= e.height {
			continue
		}
		psi, phi := e.psi[i].Level(0), e.phi[i].Level(0)
		k := psi.Idx(px, py)
		if !raster.IsValid(psi.Pix[k]) {
			continue
		}
		a += float64(psi.Pix[k])
		b += float64(phi.Pix[k])
		obs++
	}
	lh, flux = ratio(a, b)
	return lh, flux, obs
}

func ratio(a, b float64) (lh, flux float64) {
	if b <= 0 {
		return 0, 0
	}
	return a / math.Sqrt(b), a / b
}

// CalculateLHBatch runs CalculateLH over cells through the evaluator.
// Results are identical to calling CalculateLH on each element.
func (e *RegionEngine) CalculateLHBatch(ctx context.Context, cells []RegionCell) error {
	return RunAdaptive(ctx, e.ev, len(cells), len(cells), func(ctx context.Context, c Chunk) error {
		for i := c.Start; i < c.End; i++ {
			e.CalculateLH(&cells[i])
		}
		return ctx.Err()
	})
}

// FilterLH keeps cells whose upper bound reaches minLH and whose
// observation bound reaches minObs. cells is reused for the result.
func FilterLH(cells []RegionCell, minLH float64, minObs int) []RegionCell {
	kept := cells[:0]
	for _, c := range cells {
		if c.Upper >= minLH && c.ObsCount >= minObs {
			kept = append(kept, c)
		}
	}
	return kept
}

// SquareSDF is the signed distance from (px, py) to the axis-aligned square
// of side scale centred on (cx, cy). Negative inside.
func SquareSDF(scale, cx, cy, px, py float64) float64 {
	half := scale / 2
	dx := math.Abs(px-cx) - half
	dy := math.Abs(py-cy) - half
	outside := math.Hypot(math.Max(dx, 0), math.Max(dy, 0))
	inside := math.Min(math.Max(dx, dy), 0)
	return outside + inside
}

// FilterBounds keeps cells whose footprint at time span, the cell square
// moved by its whole-pixel velocity offset, comes within radius of target.
// A parent footprint contains its children's, so pruning here is sound.
// cells is reused for the result.
func FilterBounds(cells []RegionCell, target Point, radius, span float64) []RegionCell {
	kept := cells[:0]
	for _, c := range cells {
		s := float64(c.Side())
		cx := float64(c.X+trajectory.Offset(c.VX, span)) + s/2
		cy := float64(c.Y+trajectory.Offset(c.VY, span)) + s/2
		if SquareSDF(s, cx, cy, target.X, target.Y) <= radius {
			kept = append(kept, c)
		}
	}
	return kept
}

// Subdivide returns the depth-1 quadrants of c whose anchors lie inside the
// image, in row-major order. Bounds are not computed. Depth-0 cells have
// no children.
func (e *RegionEngine) Subdivide(c RegionCell) []RegionCell {
	if c.Depth == 0 {
		return nil
	}
	h := 1 << (c.Depth - 1)
	out := make([]RegionCell, 0, 4)
	for _, d := range [4][2]int{{0, 0}, {h, 0}, {0, h}, {h, h}} {
		x, y := c.X+d[0], c.Y+d[1]
		if x >= e.width || y >= e.height {
			continue
		}
		out = append(out, RegionCell{X: x, Y: y, Depth: c.Depth - 1, VX: c.VX, VY: c.VY})
	}
	return out
}

// Seed tiles the image with the coarsest aligned cells for velocity v.
// Bounds are not computed.
func (e *RegionEngine) Seed(v Velocity) []RegionCell {
	var out []RegionCell
	pyramid.Tile(0, 0, e.width, e.height, e.MaxDepth(), func(x, y, d int) {
		out = append(out, RegionCell{X: x, Y: y, Depth: d, VX: v.VX, VY: v.VY})
	})
	return out
}
