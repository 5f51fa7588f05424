package imagestack

import (
	"fmt"
	"sort"

	"github.com/banshee-data/shiftstack/internal/raster"
	"github.com/banshee-data/shiftstack/internal/trajectory"
)

// CoaddMode selects how per-step stamps are combined.
type CoaddMode int

const (
	CoaddSum CoaddMode = iota
	CoaddMean
	CoaddMedian
)

// ParseCoaddMode maps "sum", "mean" and "median" to a CoaddMode.
func ParseCoaddMode(s string) (CoaddMode, error) {
	switch s {
	case "sum":
		return CoaddSum, nil
	case "mean":
		return CoaddMean, nil
	case "median":
		return CoaddMedian, nil
	}
	return 0, fmt.Errorf("unknown coadd mode %q", s)
}

// Stamps cuts a (2r+1)×(2r+1) science stamp centred on the trajectory at
// every step. Off-image pixels are masked.
func Stamps(s *ImageStack, tr trajectory.Trajectory, radius int) []*raster.Image {
	times := s.Times()
	side := 2*radius + 1
	out := make([]*raster.Image, s.Len())
	for i, im := range s.images {
		cx, cy := tr.PixelAt(times[i])
		st := raster.New(side, side)
		for dy := -radius; dy <= radius; dy++ {
			for dx := -radius; dx <= radius; dx++ {
				v := raster.Masked()
				if im.Science.In(cx+dx, cy+dy) {
					v = im.Science.At(cx+dx, cy+dy)
				}
				st.Set(dx+radius, dy+radius, v)
			}
		}
		out[i] = st
	}
	return out
}

// CoaddStamp combines the stamps of the steps marked in use (nil means all
// steps). Masked pixels are skipped; a pixel with no valid samples stays
// masked.
func CoaddStamp(s *ImageStack, tr trajectory.Trajectory, radius int, mode CoaddMode, use []bool) (*raster.Image, error) {
	if radius < 0 {
		return nil, fmt.Errorf("stamp radius must be non-negative, got %d", radius)
	}
	if use != nil && len(use) != s.Len() {
		return nil, fmt.Errorf("use mask has %d entries for %d images", len(use), s.Len())
	}

	stamps := Stamps(s, tr, radius)
	side := 2*radius + 1
	out := raster.New(side, side)
	values := make([]float64, 0, len(stamps))
	for p := range out.Pix {
		values = values[:0]
		for i, st := range stamps {
			if use != nil && !use[i] {
				continue
			}
			if v := st.Pix[p]; raster.IsValid(v) {
				values = append(values, float64(v))
			}
		}
		if len(values) == 0 {
			out.Pix[p] = raster.Masked()
			continue
		}
		out.Pix[p] = float32(combine(values, mode))
	}
	return out, nil
}

func combine(values []float64, mode CoaddMode) float64 {
	switch mode {
	case CoaddMean:
		return sum(values) / float64(len(values))
	case CoaddMedian:
		sort.Float64s(values)
		n := len(values)
		if n%2 == 1 {
			return values[n/2]
		}
		return (values[n/2-1] + values[n/2]) / 2
	default:
		return sum(values)
	}
}

func sum(values []float64) float64 {
	var s float64
	for _, v := range values {
		s += v
	}
	return s
}
