package pyramid

import (
	"math/rand/v2"
	"testing"

	"github.com/banshee-data/shiftstack/internal/raster"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomImage(rng *rand.Rand, w, h int, maskFrac float64) *raster.Image {
	im := raster.New(w, h)
	for i := range im.Pix {
		if rng.Float64() < maskFrac {
			im.Pix[i] = raster.Masked()
			continue
		}
		im.Pix[i] = float32(rng.NormFloat64() * 5)
	}
	return im
}

// bruteExtreme reduces the base image over [x0,x1)×[y0,y1) clipped.
func bruteExtreme(im *raster.Image, mode Mode, x0, y0, x1, y1 int) float32 {
	v := raster.Masked()
	for y := max(y0, 0); y < min(y1, im.Height); y++ {
		for x := max(x0, 0); x < min(x1, im.Width); x++ {
			v = Extreme(mode, v, im.At(x, y))
		}
	}
	return v
}

func sameValue(t *testing.T, want, got float32, msgAndArgs ...interface{}) {
	t.Helper()
	if !raster.IsValid(want) {
		assert.False(t, raster.IsValid(got), msgAndArgs...)
		return
	}
	assert.Equal(t, want, got, msgAndArgs...)
}

func TestPool_LevelShapes(t *testing.T) {
	t.Parallel()

	p, err := Pool(raster.New(13, 5), Max)
	require.NoError(t, err)
	shapes := [][2]int{}
	for d := 0; d <= p.MaxDepth(); d++ {
		lvl := p.Level(d)
		shapes = append(shapes, [2]int{lvl.Width, lvl.Height})
	}
	assert.Equal(t, [][2]int{{13, 5}, {7, 3}, {4, 2}, {2, 1}, {1, 1}}, shapes)
}

func TestReadAtDepth_MatchesBruteForce(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewPCG(1, 2))
	for _, dims := range [][2]int{{1, 1}, {8, 8}, {13, 7}, {17, 31}, {5, 1}} {
		for _, mode := range []Mode{Max, Min} {
			img := randomImage(rng, dims[0], dims[1], 0.3)
			p, err := Pool(img, mode)
			require.NoError(t, err)
			for d := 0; d <= p.MaxDepth(); d++ {
				s := 1 << d
				for y := 0; y < img.Height; y++ {
					for x := 0; x < img.Width; x++ {
						bx, by := (x>>d)<<d, (y>>d)<<d
						want := bruteExtreme(img, mode, bx, by, bx+s, by+s)
						sameValue(t, want, p.ReadAtDepth(d, x, y), "%v %dx%d d=%d (%d,%d)", mode, dims[0], dims[1], d, x, y)
					}
				}
			}
		}
	}
}

func TestPool_MaskedBlockPropagates(t *testing.T) {
	t.Parallel()

	img, err := raster.FromRows([][]float32{
		{raster.Masked(), raster.Masked(), 1, 2},
		{raster.Masked(), raster.Masked(), raster.Masked(), 3},
	})
	require.NoError(t, err)
	p, err := Pool(img, Min)
	require.NoError(t, err)

	assert.False(t, raster.IsValid(p.ReadAtDepth(1, 0, 0)))
	assert.Equal(t, float32(1), p.ReadAtDepth(1, 2, 0))
	assert.Equal(t, float32(1), p.ReadAtDepth(2, 0, 0))
}

func TestPool_DoesNotAliasSource(t *testing.T) {
	t.Parallel()

	img := raster.NewFilled(2, 2, 1)
	p, err := Pool(img, Max)
	require.NoError(t, err)
	img.Set(0, 0, 50)
	assert.Equal(t, float32(1), p.ReadAtDepth(1, 0, 0))
}

func TestPool_Errors(t *testing.T) {
	t.Parallel()

	_, err := Pool(raster.New(0, 3), Max)
	assert.ErrorIs(t, err, ErrEmptyImage)
	_, err = Pool(nil, Min)
	assert.ErrorIs(t, err, ErrEmptyImage)
	_, err = Pool(raster.New(1, 1), Mode(7))
	assert.Error(t, err)
}

func TestReadAtDepth_PanicsOutOfRange(t *testing.T) {
	t.Parallel()

	p, err := Pool(raster.New(4, 4), Max)
	require.NoError(t, err)
	assert.Panics(t, func() { p.ReadAtDepth(3, 0, 0) })
	assert.Panics(t, func() { p.ReadAtDepth(-1, 0, 0) })
	assert.Panics(t, func() { p.ReadAtDepth(0, 4, 0) })
	assert.Panics(t, func() { p.ReadAtDepth(1, 0, -1) })
}

func TestRegionExtreme_MatchesBruteForce(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewPCG(3, 4))
	img := randomImage(rng, 23, 19, 0.2)
	for _, mode := range []Mode{Max, Min} {
		p, err := Pool(img, mode)
		require.NoError(t, err)
		for trial := 0; trial < 400; trial++ {
			x0, y0 := rng.IntN(30)-5, rng.IntN(26)-5
			x1, y1 := x0+rng.IntN(17), y0+rng.IntN(17)
			want := bruteExtreme(img, mode, x0, y0, x1, y1)
			got, ok := p.RegionExtreme(x0, y0, x1, y1)
			assert.Equal(t, raster.IsValid(want), ok)
			sameValue(t, want, got, "%v box [%d,%d)x[%d,%d)", mode, x0, x1, y0, y1)
		}
	}
}

func TestRegionExtreme_AgreesWithTiledLookups(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewPCG(5, 6))
	img := randomImage(rng, 17, 13, 0.1)
	p, err := Pool(img, Max)
	require.NoError(t, err)
	for trial := 0; trial < 200; trial++ {
		x0, y0 := rng.IntN(17), rng.IntN(13)
		x1, y1 := x0+1+rng.IntN(17-x0), y0+1+rng.IntN(13-y0)
		want := raster.Masked()
		Tile(x0, y0, x1, y1, p.MaxDepth(), func(x, y, d int) {
			want = Extreme(Max, want, p.ReadAtDepth(d, x, y))
		})
		var got float32
		require.NotPanics(t, func() { got, _ = p.RegionExtreme(x0, y0, x1, y1) })
		sameValue(t, want, got, "box [%d,%d)x[%d,%d)", x0, x1, y0, y1)
	}

	// Boxes hanging off the odd edges are clipped before any lookup.
	assert.NotPanics(t, func() { p.RegionExtreme(-3, -3, 40, 40) })
	assert.NotPanics(t, func() { p.RegionExtreme(15, 11, 19, 15) })
}

func TestRegionExtreme_EmptyBox(t *testing.T) {
	t.Parallel()

	p, err := Pool(raster.NewFilled(4, 4, 2), Max)
	require.NoError(t, err)
	_, ok := p.RegionExtreme(5, 0, 9, 4)
	assert.False(t, ok)
	_, ok = p.RegionExtreme(1, 1, 1, 3)
	assert.False(t, ok)
}

func TestExtreme(t *testing.T) {
	t.Parallel()

	m := raster.Masked()
	assert.Equal(t, float32(3), Extreme(Max, 1, 3))
	assert.Equal(t, float32(1), Extreme(Min, 1, 3))
	assert.Equal(t, float32(1), Extreme(Max, m, 1))
	assert.Equal(t, float32(1), Extreme(Min, 1, m))
	assert.False(t, raster.IsValid(Extreme(Max, m, m)))
}
