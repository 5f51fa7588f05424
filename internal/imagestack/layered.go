// Package imagestack supplies the per-time-step inputs of a search: layered
// science/variance/mask images, their psi/phi layers, synthetic stacks for
// testing and demos, and coadded stamps for vetting results.
//
// Calibration, PSF convolution and file ingestion happen upstream; images
// arrive here already aligned and on a common pixel grid.
package imagestack

import (
	"fmt"
	"slices"

	"github.com/banshee-data/shiftstack/internal/raster"
)

// Mask flag bits carried in LayeredImage.Mask.
const (
	FlagBad       uint32 = 1 << 0
	FlagSaturated uint32 = 1 << 1
	FlagInterp    uint32 = 1 << 2
	FlagCosmicRay uint32 = 1 << 3
	FlagEdge      uint32 = 1 << 4
	FlagDetected  uint32 = 1 << 5
)

// LayeredImage is one exposure: science and variance rasters, optional
// per-pixel mask flags and the capture time.
type LayeredImage struct {
	Name     string
	Science  *raster.Image
	Variance *raster.Image
	Mask     []uint32
	Time     float64
}

// NewLayeredImage checks that every layer shares the science dimensions.
// A nil mask means no pixel is flagged.
func NewLayeredImage(name string, science, variance *raster.Image, mask []uint32, t float64) (*LayeredImage, error) {
	if science == nil || variance == nil {
		return nil, fmt.Errorf("image %q: science and variance layers are required", name)
	}
	if !science.SameSize(variance) {
		return nil, fmt.Errorf("image %q: variance is %dx%d, science is %dx%d",
			name, variance.Width, variance.Height, science.Width, science.Height)
	}
	if mask == nil {
		mask = make([]uint32, len(science.Pix))
	}
	if len(mask) != len(science.Pix) {
		return nil, fmt.Errorf("image %q: mask has %d pixels, want %d", name, len(mask), len(science.Pix))
	}
	return &LayeredImage{Name: name, Science: science, Variance: variance, Mask: mask, Time: t}, nil
}

func (li *LayeredImage) Width() int  { return li.Science.Width }
func (li *LayeredImage) Height() int { return li.Science.Height }

// FlagPixel ORs flags into the mask at (x, y).
func (li *LayeredImage) FlagPixel(x, y int, flags uint32) {
	li.Mask[li.Science.Idx(x, y)] |= flags
}

// ApplyMaskFlags masks science and variance wherever the mask shares a bit
// with flags, unless the pixel's full mask value is listed in exceptions.
// It returns the number of pixels masked.
func (li *LayeredImage) ApplyMaskFlags(flags uint32, exceptions []uint32) int {
	n := 0
	for i, m := range li.Mask {
		if m&flags == 0 || slices.Contains(exceptions, m) {
			continue
		}
		li.Science.Pix[i] = raster.Masked()
		li.Variance.Pix[i] = raster.Masked()
		n++
	}
	return n
}

// AddPointSource adds flux to the science pixel at (x, y). Masked or
// off-image pixels are left alone.
func (li *LayeredImage) AddPointSource(x, y int, flux float32) {
	if !li.Science.Valid(x, y) {
		return
	}
	i := li.Science.Idx(x, y)
	li.Science.Pix[i] += flux
}
