package filtering

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// SigmaGParams configures percentile clipping. Low and High are fractions
// in [0,1]; the clip half-width is Coeff·(q(High)−q(Low))·Width.
type SigmaGParams struct {
	Low   float64
	High  float64
	Coeff float64
	Width float64
}

// DefaultSigmaGParams clips at two sigma-G around the median using the
// interquartile range.
func DefaultSigmaGParams() SigmaGParams {
	return SigmaGParams{Low: 0.25, High: 0.75, Coeff: SigmaGCoeff(0.25, 0.75), Width: 2}
}

// Validate rejects percentile pairs out of order or outside [0,1].
func (p SigmaGParams) Validate() error {
	if p.Low < 0 || p.High > 1 || p.Low > p.High {
		return fmt.Errorf("sigma-G percentiles must satisfy 0 <= low <= high <= 1, got %g and %g", p.Low, p.High)
	}
	if p.Coeff < 0 {
		return fmt.Errorf("sigma-G coefficient must be non-negative, got %g", p.Coeff)
	}
	if p.Width < 0 {
		return fmt.Errorf("sigma-G width must be non-negative, got %g", p.Width)
	}
	return nil
}

// SigmaGCoeff returns the factor that turns the spread between the low and
// high percentiles of a normal sample into its standard deviation.
// Degenerate percentile pairs return 0.
func SigmaGCoeff(low, high float64) float64 {
	spread := distuv.UnitNormal.Quantile(high) - distuv.UnitNormal.Quantile(low)
	if !finite(spread) || spread <= 0 {
		return 0
	}
	return 1 / spread
}

// SigmaGFilteredIndices returns, in ascending order, the indices of values
// lying within median ± Coeff·(q(High)−q(Low))·Width. Percentiles use the
// nearest-rank empirical quantile. Non-finite values are never retained.
func SigmaGFilteredIndices(values []float64, p SigmaGParams) ([]int, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	sorted := make([]float64, 0, len(values))
	for _, v := range values {
		if finite(v) {
			sorted = append(sorted, v)
		}
	}
	if len(sorted) == 0 {
		return nil, nil
	}
	sort.Float64s(sorted)

	qLow := stat.Quantile(p.Low, stat.Empirical, sorted, nil)
	qHigh := stat.Quantile(p.High, stat.Empirical, sorted, nil)
	median := stat.Quantile(0.5, stat.Empirical, sorted, nil)

	half := p.Coeff * (qHigh - qLow) * p.Width
	lo, hi := median-half, median+half

	keep := make([]int, 0, len(sorted))
	for i, v := range values {
		if finite(v) && v >= lo && v <= hi {
			keep = append(keep, i)
		}
	}
	return keep, nil
}
