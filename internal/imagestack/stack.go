package imagestack

import (
	"errors"
	"fmt"

	"github.com/banshee-data/shiftstack/internal/raster"
)

var (
	ErrEmptyStack   = errors.New("image stack has no images")
	ErrSizeMismatch = errors.New("images differ in size")
)

// ImageStack is a time-ordered set of equally sized exposures.
type ImageStack struct {
	images []*LayeredImage
}

// NewImageStack validates sizes and time order.
func NewImageStack(images []*LayeredImage) (*ImageStack, error) {
	if len(images) == 0 {
		return nil, ErrEmptyStack
	}
	w, h := images[0].Width(), images[0].Height()
	for i, im := range images {
		if im.Width() != w || im.Height() != h {
			return nil, fmt.Errorf("image %d (%q) is %dx%d, want %dx%d: %w",
				i, im.Name, im.Width(), im.Height(), w, h, ErrSizeMismatch)
		}
		if i > 0 && im.Time < images[i-1].Time {
			return nil, fmt.Errorf("image %d (%q) at t=%g precedes image %d at t=%g",
				i, im.Name, im.Time, i-1, images[i-1].Time)
		}
	}
	return &ImageStack{images: images}, nil
}

func (s *ImageStack) Len() int                  { return len(s.images) }
func (s *ImageStack) Width() int                { return s.images[0].Width() }
func (s *ImageStack) Height() int               { return s.images[0].Height() }
func (s *ImageStack) Image(i int) *LayeredImage { return s.images[i] }

// Times returns capture times relative to the first image.
func (s *ImageStack) Times() []float64 {
	out := make([]float64, len(s.images))
	t0 := s.images[0].Time
	for i, im := range s.images {
		out[i] = im.Time - t0
	}
	return out
}

// ApplyMaskFlags applies LayeredImage.ApplyMaskFlags to every image.
func (s *ImageStack) ApplyMaskFlags(flags uint32, exceptions []uint32) int {
	n := 0
	for _, im := range s.images {
		n += im.ApplyMaskFlags(flags, exceptions)
	}
	return n
}

// GlobalMask counts, per pixel, the images whose mask shares a bit with
// flags.
func (s *ImageStack) GlobalMask(flags uint32) []int {
	counts := make([]int, s.Width()*s.Height())
	for _, im := range s.images {
		for i, m := range im.Mask {
			if m&flags != 0 {
				counts[i]++
			}
		}
	}
	return counts
}

// ApplyGlobalMask masks, in every image, the pixels flagged in at least
// threshold images. It returns the number of pixel positions masked.
func (s *ImageStack) ApplyGlobalMask(flags uint32, threshold int) int {
	if threshold < 1 {
		threshold = 1
	}
	n := 0
	for i, c := range s.GlobalMask(flags) {
		if c < threshold {
			continue
		}
		n++
		for _, im := range s.images {
			im.Science.Pix[i] = raster.Masked()
			im.Variance.Pix[i] = raster.Masked()
		}
	}
	return n
}
