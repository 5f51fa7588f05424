package imagestack

import (
	"fmt"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/banshee-data/shiftstack/internal/raster"
	"github.com/banshee-data/shiftstack/internal/trajectory"
)

// MovingObject is a point source injected into a synthetic stack. It lands
// on the same pixels a search trajectory with this origin and velocity
// samples.
type MovingObject struct {
	X, Y   int
	VX, VY float64
	Flux   float32
}

// Synthetic describes a stack of Gaussian-noise exposures with injected
// moving point sources.
type Synthetic struct {
	Width, Height int
	Count         int
	// Dt is the time between consecutive exposures.
	Dt float64
	// Noise is the standard deviation of the science noise; 0 gives a flat
	// background.
	Noise float64
	// Variance is written into every variance pixel.
	Variance float32
	Seed     uint64
	Objects  []MovingObject
}

// Generate renders the stack. Equal seeds give identical stacks.
func (s Synthetic) Generate() (*ImageStack, error) {
	if s.Width <= 0 || s.Height <= 0 || s.Count <= 0 {
		return nil, fmt.Errorf("synthetic stack needs positive dimensions and count, got %dx%dx%d", s.Width, s.Height, s.Count)
	}
	if s.Variance <= 0 {
		return nil, fmt.Errorf("synthetic variance must be positive, got %g", s.Variance)
	}
	if s.Noise < 0 {
		return nil, fmt.Errorf("synthetic noise must be non-negative, got %g", s.Noise)
	}

	noise := distuv.Normal{Mu: 0, Sigma: s.Noise, Src: rand.NewPCG(s.Seed, s.Seed^0x9e3779b97f4a7c15)}
	images := make([]*LayeredImage, 0, s.Count)
	for i := 0; i < s.Count; i++ {
		t := float64(i) * s.Dt
		sci := raster.New(s.Width, s.Height)
		if s.Noise > 0 {
			for p := range sci.Pix {
				sci.Pix[p] = float32(noise.Rand())
			}
		}
		li, err := NewLayeredImage(fmt.Sprintf("synthetic-%03d", i), sci, raster.NewFilled(s.Width, s.Height, s.Variance), nil, t)
		if err != nil {
			return nil, err
		}
		for _, obj := range s.Objects {
			x, y := trajectory.Trajectory{X: obj.X, Y: obj.Y, VX: obj.VX, VY: obj.VY}.PixelAt(t)
			li.AddPointSource(x, y, obj.Flux)
		}
		images = append(images, li)
	}
	return NewImageStack(images)
}
