package search

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/banshee-data/shiftstack/internal/imagestack"
	"github.com/banshee-data/shiftstack/internal/raster"
	"github.com/banshee-data/shiftstack/internal/trajectory"
)

var testTimes = []float64{0, 0.8, 1.5, 2.9, 4.0}

var testVelocities = []Velocity{
	{VX: 0, VY: 0},
	{VX: 1.3, VY: -0.6},
	{VX: -2.2, VY: 0.9},
	{VX: 0.45, VY: 1.7},
}

// randomLayers builds noisy psi/phi layers. About maskFrac of the pixels are
// unusable, half through a NaN psi and half through a zero phi.
func randomLayers(t *testing.T, w, h int, times []float64, seed uint64, maskFrac float64) *imagestack.PsiPhiStack {
	t.Helper()
	rng := rand.New(rand.NewPCG(seed, seed+1))
	psi := make([]*raster.Image, len(times))
	phi := make([]*raster.Image, len(times))
	for i := range times {
		ps, ph := raster.New(w, h), raster.New(w, h)
		for k := range ps.Pix {
			ps.Pix[k] = float32(rng.NormFloat64()*2 + 0.3)
			ph.Pix[k] = float32(0.25 + 2*rng.Float64())
			switch r := rng.Float64(); {
			case r < maskFrac/2:
				ps.Pix[k] = raster.Masked()
			case r < maskFrac:
				ph.Pix[k] = 0
			}
		}
		psi[i], phi[i] = ps, ph
	}
	l, err := imagestack.NewPsiPhiStack(psi, phi, times)
	require.NoError(t, err)
	return l
}

type bruteScore struct {
	lh, flux float64
	obs      int
}

// brute scores one origin pixel directly from the layers.
func brute(l Layers, x, y int, v Velocity) bruteScore {
	w, h := l.Bounds()
	tr := trajectory.Trajectory{X: x, Y: y, VX: v.VX, VY: v.VY}
	var a, b float64
	obs := 0
	for i := 0; i < l.Len(); i++ {
		px, py := tr.PixelAt(l.Time(i))
		if px < 0 || py < 0 || px >= w || py >= h {
			continue
		}
		ps, ph := l.Psi(i).At(px, py), l.Phi(i).At(px, py)
		if !raster.IsValid(ps) || !raster.IsValid(ph) || ph <= 0 {
			continue
		}
		a += float64(ps)
		b += float64(ph)
		obs++
	}
	if b <= 0 {
		return bruteScore{obs: obs}
	}
	return bruteScore{lh: a / math.Sqrt(b), flux: a / b, obs: obs}
}

type hit struct {
	X, Y int
	LH   float64
	Flux float64
	Obs  int
}

// bruteHits lists every origin passing the thresholds for v, ordered by
// likelihood then row-major origin. keep, when non-nil, further filters.
func bruteHits(l Layers, v Velocity, minLH float64, minObs int, keep func(x, y int) bool) []hit {
	w, h := l.Bounds()
	var out []hit
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			s := brute(l, x, y, v)
			if s.lh < minLH || s.obs < minObs {
				continue
			}
			if keep != nil && !keep(x, y) {
				continue
			}
			out = append(out, hit{X: x, Y: y, LH: s.lh, Flux: s.flux, Obs: s.obs})
		}
	}
	sortHits(out)
	return out
}

func sortHits(hits []hit) {
	cells := make([]RegionCell, len(hits))
	for i, h := range hits {
		cells[i] = RegionCell{X: h.X, Y: h.Y, Lower: h.LH, Flux: h.Flux, ObsCount: h.Obs}
	}
	sortCells(cells)
	for i, c := range cells {
		hits[i] = hit{X: c.X, Y: c.Y, LH: c.Lower, Flux: c.Flux, Obs: c.ObsCount}
	}
}

func cellHits(cells []RegionCell) []hit {
	if len(cells) == 0 {
		return nil
	}
	out := make([]hit, len(cells))
	for i, c := range cells {
		out[i] = hit{X: c.X, Y: c.Y, LH: c.Lower, Flux: c.Flux, Obs: c.ObsCount}
	}
	return out
}
