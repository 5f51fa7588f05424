package imagestack

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/shiftstack/internal/raster"
	"github.com/banshee-data/shiftstack/internal/trajectory"
)

func flatImage(t *testing.T, name string, w, h int, sci, variance float32, at float64) *LayeredImage {
	t.Helper()
	li, err := NewLayeredImage(name, raster.NewFilled(w, h, sci), raster.NewFilled(w, h, variance), nil, at)
	require.NoError(t, err)
	return li
}

func TestNewLayeredImage_Validation(t *testing.T) {
	t.Parallel()

	_, err := NewLayeredImage("a", raster.New(2, 2), raster.New(3, 2), nil, 0)
	assert.Error(t, err)
	_, err = NewLayeredImage("b", raster.New(2, 2), raster.New(2, 2), make([]uint32, 3), 0)
	assert.Error(t, err)
	_, err = NewLayeredImage("c", nil, raster.New(2, 2), nil, 0)
	assert.Error(t, err)
}

func TestNewImageStack_Validation(t *testing.T) {
	t.Parallel()

	_, err := NewImageStack(nil)
	assert.ErrorIs(t, err, ErrEmptyStack)

	_, err = NewImageStack([]*LayeredImage{
		flatImage(t, "a", 4, 4, 0, 1, 0),
		flatImage(t, "b", 5, 4, 0, 1, 1),
	})
	assert.ErrorIs(t, err, ErrSizeMismatch)

	_, err = NewImageStack([]*LayeredImage{
		flatImage(t, "a", 4, 4, 0, 1, 2),
		flatImage(t, "b", 4, 4, 0, 1, 1),
	})
	assert.Error(t, err)
}

func TestImageStack_TimesAreRelative(t *testing.T) {
	t.Parallel()

	s, err := NewImageStack([]*LayeredImage{
		flatImage(t, "a", 2, 2, 0, 1, 57000.5),
		flatImage(t, "b", 2, 2, 0, 1, 57001.0),
		flatImage(t, "c", 2, 2, 0, 1, 57002.5),
	})
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0.5, 2}, s.Times())
}

func TestApplyMaskFlags(t *testing.T) {
	t.Parallel()

	li := flatImage(t, "a", 3, 1, 5, 2, 0)
	li.FlagPixel(0, 0, FlagSaturated)
	li.FlagPixel(1, 0, FlagEdge)
	li.FlagPixel(2, 0, FlagSaturated|FlagDetected)

	n := li.ApplyMaskFlags(FlagSaturated|FlagEdge, []uint32{FlagSaturated | FlagDetected})
	assert.Equal(t, 2, n)
	assert.False(t, li.Science.Valid(0, 0))
	assert.False(t, li.Variance.Valid(1, 0))
	assert.True(t, li.Science.Valid(2, 0))
}

func TestApplyGlobalMask(t *testing.T) {
	t.Parallel()

	images := []*LayeredImage{
		flatImage(t, "a", 2, 1, 1, 1, 0),
		flatImage(t, "b", 2, 1, 1, 1, 1),
		flatImage(t, "c", 2, 1, 1, 1, 2),
	}
	images[0].FlagPixel(1, 0, FlagBad)
	images[2].FlagPixel(1, 0, FlagBad)
	images[1].FlagPixel(0, 0, FlagBad)
	s, err := NewImageStack(images)
	require.NoError(t, err)

	assert.Equal(t, []int{1, 2}, s.GlobalMask(FlagBad))
	assert.Equal(t, 1, s.ApplyGlobalMask(FlagBad, 2))
	for _, im := range images {
		assert.True(t, im.Science.Valid(0, 0))
		assert.False(t, im.Science.Valid(1, 0))
	}
}

func TestPsiPhi(t *testing.T) {
	t.Parallel()

	li := flatImage(t, "a", 3, 1, 6, 2, 0)
	li.Variance.Set(1, 0, 0)
	li.Science.Mask(2, 0)
	s, err := NewImageStack([]*LayeredImage{li})
	require.NoError(t, err)

	pp := PsiPhi(s)
	assert.Equal(t, 1, pp.Len())
	w, h := pp.Bounds()
	assert.Equal(t, [2]int{3, 1}, [2]int{w, h})
	assert.Equal(t, float32(3), pp.Psi(0).At(0, 0))
	assert.Equal(t, float32(0.5), pp.Phi(0).At(0, 0))
	assert.False(t, pp.Psi(0).Valid(1, 0))
	assert.False(t, pp.Phi(0).Valid(1, 0))
	assert.False(t, pp.Phi(0).Valid(2, 0))
}

func TestNewPsiPhiStack_Validation(t *testing.T) {
	t.Parallel()

	_, err := NewPsiPhiStack(nil, nil, nil)
	assert.ErrorIs(t, err, ErrEmptyStack)
	_, err = NewPsiPhiStack([]*raster.Image{raster.New(2, 2)}, []*raster.Image{raster.New(2, 3)}, []float64{0})
	assert.ErrorIs(t, err, ErrSizeMismatch)
	_, err = NewPsiPhiStack([]*raster.Image{raster.New(2, 2)}, []*raster.Image{raster.New(2, 2)}, nil)
	assert.Error(t, err)
}

func TestSynthetic_Deterministic(t *testing.T) {
	t.Parallel()

	cfg := Synthetic{
		Width: 16, Height: 12, Count: 5, Dt: 1, Noise: 1, Variance: 1, Seed: 42,
		Objects: []MovingObject{{X: 2, Y: 3, VX: 1.5, VY: 0.5, Flux: 100}},
	}
	a, err := cfg.Generate()
	require.NoError(t, err)
	b, err := cfg.Generate()
	require.NoError(t, err)
	for i := 0; i < a.Len(); i++ {
		assert.Equal(t, a.Image(i).Science.Pix, b.Image(i).Science.Pix)
	}

	tr := trajectory.Trajectory{X: 2, Y: 3, VX: 1.5, VY: 0.5}
	for i, tm := range a.Times() {
		x, y := tr.PixelAt(tm)
		assert.Greater(t, a.Image(i).Science.At(x, y), float32(50), "step %d", i)
	}
}

func TestSynthetic_Validation(t *testing.T) {
	t.Parallel()

	_, err := Synthetic{Width: 0, Height: 4, Count: 2, Variance: 1}.Generate()
	assert.Error(t, err)
	_, err = Synthetic{Width: 4, Height: 4, Count: 2, Variance: 0}.Generate()
	assert.Error(t, err)
	_, err = Synthetic{Width: 4, Height: 4, Count: 2, Variance: 1, Noise: -1}.Generate()
	assert.Error(t, err)
}

func TestCoaddStamp(t *testing.T) {
	t.Parallel()

	images := make([]*LayeredImage, 4)
	for i := range images {
		images[i] = flatImage(t, "s", 5, 5, 0, 1, float64(i))
	}
	// Object moving one pixel per step along x from (1,2).
	for i, v := range []float32{4, 8, 100, 2} {
		images[i].Science.Set(1+i, 2, v)
	}
	s, err := NewImageStack(images)
	require.NoError(t, err)
	tr := trajectory.Trajectory{X: 1, Y: 2, VX: 1}

	sum, err := CoaddStamp(s, tr, 1, CoaddSum, nil)
	require.NoError(t, err)
	assert.Equal(t, float32(114), sum.At(1, 1))

	mean, err := CoaddStamp(s, tr, 1, CoaddMean, nil)
	require.NoError(t, err)
	assert.Equal(t, float32(28.5), mean.At(1, 1))

	median, err := CoaddStamp(s, tr, 1, CoaddMedian, nil)
	require.NoError(t, err)
	assert.Equal(t, float32(6), median.At(1, 1))

	kept, err := CoaddStamp(s, tr, 1, CoaddMedian, []bool{true, true, false, true})
	require.NoError(t, err)
	assert.Equal(t, float32(4), kept.At(1, 1))

	// At step 3 the stamp's right column falls off the image.
	stamps := Stamps(s, tr, 1)
	assert.False(t, stamps[3].Valid(2, 1))

	_, err = CoaddStamp(s, tr, 1, CoaddSum, []bool{true})
	assert.Error(t, err)
	_, err = CoaddStamp(s, tr, -1, CoaddSum, nil)
	assert.Error(t, err)
}

func TestParseCoaddMode(t *testing.T) {
	t.Parallel()

	m, err := ParseCoaddMode("median")
	require.NoError(t, err)
	assert.Equal(t, CoaddMedian, m)
	_, err = ParseCoaddMode("max")
	assert.Error(t, err)
}
