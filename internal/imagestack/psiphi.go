package imagestack

import (
	"fmt"

	"github.com/banshee-data/shiftstack/internal/raster"
)

// PsiPhiStack holds the per-step psi (science/variance) and phi
// (1/variance) layers a search reads. It is immutable once built.
type PsiPhiStack struct {
	psi, phi []*raster.Image
	times    []float64
	width    int
	height   int
}

// PsiPhi derives psi and phi from a stack. Pixels with an invalid science
// value, an invalid variance or a non-positive variance are masked in both
// layers.
func PsiPhi(s *ImageStack) *PsiPhiStack {
	out := &PsiPhiStack{times: s.Times(), width: s.Width(), height: s.Height()}
	for _, im := range s.images {
		psi := raster.New(out.width, out.height)
		phi := raster.New(out.width, out.height)
		for i := range psi.Pix {
			sci, v := im.Science.Pix[i], im.Variance.Pix[i]
			if !raster.IsValid(sci) || !raster.IsValid(v) || v <= 0 {
				psi.Pix[i], phi.Pix[i] = raster.Masked(), raster.Masked()
				continue
			}
			psi.Pix[i] = sci / v
			phi.Pix[i] = 1 / v
		}
		out.psi = append(out.psi, psi)
		out.phi = append(out.phi, phi)
	}
	return out
}

// NewPsiPhiStack wraps precomputed layers, e.g. PSF-convolved ones built
// elsewhere. times are offsets from the first exposure.
func NewPsiPhiStack(psi, phi []*raster.Image, times []float64) (*PsiPhiStack, error) {
	if len(psi) == 0 {
		return nil, ErrEmptyStack
	}
	if len(phi) != len(psi) || len(times) != len(psi) {
		return nil, fmt.Errorf("got %d psi, %d phi and %d times", len(psi), len(phi), len(times))
	}
	w, h := psi[0].Width, psi[0].Height
	for i := range psi {
		if psi[i].Width != w || psi[i].Height != h || !psi[i].SameSize(phi[i]) {
			return nil, fmt.Errorf("layer %d: %w", i, ErrSizeMismatch)
		}
	}
	return &PsiPhiStack{psi: psi, phi: phi, times: times, width: w, height: h}, nil
}

func (p *PsiPhiStack) Len() int                { return len(p.psi) }
func (p *PsiPhiStack) Bounds() (int, int)      { return p.width, p.height }
func (p *PsiPhiStack) Time(i int) float64      { return p.times[i] }
func (p *PsiPhiStack) Psi(i int) *raster.Image { return p.psi[i] }
func (p *PsiPhiStack) Phi(i int) *raster.Image { return p.phi[i] }
func (p *PsiPhiStack) Times() []float64        { return append([]float64(nil), p.times...) }
