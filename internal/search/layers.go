package search

import (
	"errors"
	"fmt"
	"math"

	"github.com/banshee-data/shiftstack/internal/filtering"
	"github.com/banshee-data/shiftstack/internal/raster"
	"github.com/banshee-data/shiftstack/internal/trajectory"
)

// ErrNoLayers is returned when a search is given no time steps.
var ErrNoLayers = errors.New("search needs at least one psi/phi layer")

// Layers is the per-time-step psi/phi source a search reads. Times are
// offsets from the first step. Implementations must allow concurrent reads.
type Layers interface {
	Len() int
	Bounds() (width, height int)
	Time(i int) float64
	Psi(i int) *raster.Image
	Phi(i int) *raster.Image
}

func checkLayers(l Layers) error {
	if l == nil || l.Len() == 0 {
		return ErrNoLayers
	}
	w, h := l.Bounds()
	if w <= 0 || h <= 0 {
		return fmt.Errorf("layers have empty bounds %dx%d", w, h)
	}
	for i := 0; i < l.Len(); i++ {
		psi, phi := l.Psi(i), l.Phi(i)
		if psi == nil || phi == nil || psi.Width != w || psi.Height != h || !psi.SameSize(phi) {
			return fmt.Errorf("layer %d does not match %dx%d bounds", i, w, h)
		}
	}
	return nil
}

func layerTimes(l Layers) []float64 {
	out := make([]float64, l.Len())
	for i := range out {
		out[i] = l.Time(i)
	}
	return out
}

// SamplePsiPhi reads psi and phi along tr. Off-image steps read NaN.
func SamplePsiPhi(l Layers, tr trajectory.Trajectory) (psi, phi []float64) {
	n := l.Len()
	psi, phi = make([]float64, n), make([]float64, n)
	for i := 0; i < n; i++ {
		x, y := tr.PixelAt(l.Time(i))
		ps, ph := l.Psi(i), l.Phi(i)
		if !ps.In(x, y) {
			psi[i], phi[i] = math.NaN(), math.NaN()
			continue
		}
		idx := ps.Idx(x, y)
		psi[i], phi[i] = float64(ps.Pix[idx]), float64(ph.Pix[idx])
	}
	return psi, phi
}

// ExtractCurve samples the flux curve of tr into freshly allocated storage.
func ExtractCurve(l Layers, tr trajectory.Trajectory) filtering.Curve {
	return newSampler(l, layerTimes(l)).sample(tr)
}

// sampler fills a reusable curve on the grid search hot path with the same
// conversion as CurveFromPsiPhi.
type sampler struct {
	layers Layers
	times  []float64
	curve  filtering.Curve
}

func newSampler(l Layers, times []float64) *sampler {
	return &sampler{
		layers: l,
		times:  times,
		curve:  filtering.Curve{Signal: make([]float64, len(times)), Weight: make([]float64, len(times))},
	}
}

func (s *sampler) sample(tr trajectory.Trajectory) filtering.Curve {
	for i, t := range s.times {
		x, y := tr.PixelAt(t)
		s.curve.Signal[i], s.curve.Weight[i] = math.NaN(), 0
		ps := s.layers.Psi(i)
		if !ps.In(x, y) {
			continue
		}
		idx := ps.Idx(x, y)
		psi, phi := float64(ps.Pix[idx]), float64(s.layers.Phi(i).Pix[idx])
		if math.IsNaN(psi) || math.IsInf(psi, 0) || math.IsNaN(phi) || math.IsInf(phi, 0) || phi <= 0 {
			continue
		}
		s.curve.Signal[i], s.curve.Weight[i] = psi/phi, phi
	}
	return s.curve
}
