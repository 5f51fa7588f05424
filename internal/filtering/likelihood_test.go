package filtering

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLikelihood(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		signal   []float64
		weight   []float64
		idx      []int
		wantLH   float64
		wantFlux float64
	}{
		{"uniform", []float64{2, 2, 2, 2}, []float64{1, 1, 1, 1}, nil, 4, 2},
		{"subset", []float64{2, 100, 2}, []float64{1, 1, 1}, []int{0, 2}, 4 / math.Sqrt(2), 2},
		{"zero weight excluded", []float64{5, 1000}, []float64{4, 0}, nil, 10, 5},
		{"non-finite weight excluded", []float64{5, 1000}, []float64{4, math.Inf(1)}, nil, 10, 5},
		{"nan signal excluded", []float64{5, math.NaN()}, []float64{4, 4}, nil, 10, 5},
		{"no weight", []float64{1, 2}, []float64{0, 0}, nil, 0, 0},
		{"empty", nil, nil, nil, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewCurve(tt.signal, tt.weight)
			require.NoError(t, err)
			lh, flux := Likelihood(c, tt.idx)
			assert.InDelta(t, tt.wantLH, lh, 1e-12)
			assert.InDelta(t, tt.wantFlux, flux, 1e-12)
		})
	}
}

func TestNewCurve_LengthMismatch(t *testing.T) {
	t.Parallel()

	_, err := NewCurve([]float64{1, 2}, []float64{1})
	assert.ErrorIs(t, err, ErrLengthMismatch)
}

func TestCurveFromPsiPhi(t *testing.T) {
	t.Parallel()

	c, err := CurveFromPsiPhi([]float64{4, 1, math.NaN(), 3}, []float64{2, 0, 1, -1})
	require.NoError(t, err)
	assert.Equal(t, []int{0}, c.UsableIndices())
	assert.Equal(t, 2.0, c.Signal[0])
	assert.Equal(t, 2.0, c.Weight[0])

	// Σpsi/sqrt(Σphi) over the usable steps.
	c, err = CurveFromPsiPhi([]float64{4, 6}, []float64{2, 2})
	require.NoError(t, err)
	lh, _ := Likelihood(c, nil)
	assert.InDelta(t, 10/2.0, lh, 1e-12)

	_, err = CurveFromPsiPhi([]float64{1}, nil)
	assert.ErrorIs(t, err, ErrLengthMismatch)
}

func TestNewStrategy(t *testing.T) {
	t.Parallel()

	for _, name := range []string{StrategySigmaG, StrategyKalman, StrategyNone} {
		s, err := NewStrategy(name, DefaultSigmaGParams(), DefaultKalmanParams(), 2)
		require.NoError(t, err)
		assert.Equal(t, name, s.Name())
	}

	_, err := NewStrategy("median", DefaultSigmaGParams(), DefaultKalmanParams(), 2)
	assert.Error(t, err)

	_, err = NewStrategy(StrategyKalman, DefaultSigmaGParams(), KalmanParams{}, 2)
	assert.Error(t, err)
}

func TestUnfiltered_KeepsUsable(t *testing.T) {
	t.Parallel()

	c, err := NewCurve([]float64{1, 2, 3}, []float64{1, 0, 1})
	require.NoError(t, err)
	res, err := Unfiltered{MinObservations: 2}.Filter(c)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 2}, res.Retained)
	assert.InDelta(t, 4/math.Sqrt(2), res.Likelihood, 1e-12)
}

func TestFilterBatch(t *testing.T) {
	t.Parallel()

	curves := []Curve{spikyCurve(8, nil), spikyCurve(8, map[int]float64{2: 90})}

	var k Strategy = Kalman{Params: DefaultKalmanParams(), MinObservations: 3}
	_, ok := k.(BatchStrategy)
	require.True(t, ok)
	got, err := FilterBatch(k, curves)
	require.NoError(t, err)
	want, err := KalmanFilteredIndices(curves, DefaultKalmanParams(), 3)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	u := Unfiltered{MinObservations: 3}
	got, err = FilterBatch(u, curves)
	require.NoError(t, err)
	require.Len(t, got, 2)
	for i, c := range curves {
		res, err := u.Filter(c)
		require.NoError(t, err)
		assert.Equal(t, IndexedResult{Index: i, Result: res}, got[i])
	}

	_, err = FilterBatch(u, []Curve{curves[0], {Signal: []float64{1}}})
	assert.ErrorIs(t, err, ErrLengthMismatch)
}
