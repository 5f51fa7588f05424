package filtering

import (
	"fmt"
	"math"
)

// KalmanParams configures the scalar flux filter.
type KalmanParams struct {
	// Passes is the number of filter sweeps (>= 1). Later passes re-judge
	// every observation against the previous pass's posterior.
	Passes int
	// ProcessNoise is the per-step variance added to the flux estimate (Q).
	ProcessNoise float64
	// Gate rejects an observation whose residual from the current estimate
	// exceeds Gate times that estimate's standard deviation sqrt(P).
	Gate float64
}

// DefaultKalmanParams returns two passes, unit process noise and a 5σ gate.
func DefaultKalmanParams() KalmanParams {
	return KalmanParams{Passes: 2, ProcessNoise: 1, Gate: 5}
}

// Validate checks the parameter ranges.
func (p KalmanParams) Validate() error {
	if p.Passes < 1 {
		return fmt.Errorf("kalman passes must be >= 1, got %d", p.Passes)
	}
	if p.ProcessNoise < 0 || !finite(p.ProcessNoise) {
		return fmt.Errorf("kalman process noise must be finite and non-negative, got %g", p.ProcessNoise)
	}
	if p.Gate <= 0 {
		return fmt.Errorf("kalman gate must be positive, got %g", p.Gate)
	}
	return nil
}

// KalmanEstimate is the smoothed output of the final pass.
type KalmanEstimate struct {
	// Flux and Variance hold the state after each step (NaN for unusable
	// steps visited before the first accepted observation).
	Flux     []float64
	Variance []float64
	// Retained lists accepted steps in ascending order.
	Retained []int
}

type kalmanState struct {
	x, p float64
	ok   bool
}

// CalculateKalmanFlux runs the multi-pass filter over c.
//
// Pass 1 runs forward and cold-starts from the first usable observation.
// Each later pass runs in the opposite direction to the one before it and
// warm-starts from that pass's final posterior, so observations judged
// against a cold estimate get a second look. A pass that accepted fewer
// than half of the usable observations is considered diverged; the pass
// after it cold-starts instead, which seeds the filter from the other end
// of the curve.
func CalculateKalmanFlux(c Curve, p KalmanParams) (*KalmanEstimate, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}

	n := c.Len()
	est := &KalmanEstimate{Flux: make([]float64, n), Variance: make([]float64, n)}
	usable := c.UsableIndices()
	if len(usable) == 0 {
		for i := range est.Flux {
			est.Flux[i], est.Variance[i] = math.NaN(), math.NaN()
		}
		return est, nil
	}

	forward := usable
	backward := make([]int, len(usable))
	for i, idx := range usable {
		backward[len(usable)-1-i] = idx
	}

	keep := make([]bool, n)
	var prior kalmanState
	reverse := false
	for pass := 0; pass < p.Passes; pass++ {
		order := forward
		if reverse {
			order = backward
		}
		for i := range keep {
			keep[i] = false
		}
		final, kept := kalmanPass(c, order, prior, p, keep, est)

		if kept*2 < len(usable) {
			prior = kalmanState{}
		} else {
			prior = final
		}
		reverse = !reverse
	}

	for _, idx := range usable {
		if keep[idx] {
			est.Retained = append(est.Retained, idx)
		}
	}
	fillUnusable(c, est)
	return est, nil
}

// kalmanPass runs one sweep over order, writing accept flags into keep and
// the running state into est. Rejected observations advance the prediction
// but never the update.
func kalmanPass(c Curve, order []int, st kalmanState, p KalmanParams, keep []bool, est *KalmanEstimate) (kalmanState, int) {
	kept := 0
	for _, i := range order {
		z := c.Signal[i]
		r := 1 / c.Weight[i]

		if !st.ok {
			st = kalmanState{x: z, p: r, ok: true}
			keep[i] = true
			kept++
			est.Flux[i], est.Variance[i] = st.x, st.p
			continue
		}

		// Gate on the residual against the current posterior.
		innov := z - st.x
		reject := math.Abs(innov) > p.Gate*math.Sqrt(st.p)

		// Predict: constant-flux model, variance grows by Q.
		pm := st.p + p.ProcessNoise
		if reject {
			st.p = pm
			est.Flux[i], est.Variance[i] = st.x, st.p
			continue
		}

		// Update with gain K = P⁻/(P⁻ + R).
		k := pm / (pm + r)
		st.x += k * innov
		st.p = (1 - k) * pm
		keep[i] = true
		kept++
		est.Flux[i], est.Variance[i] = st.x, st.p
	}
	return st, kept
}

// fillUnusable carries the nearest earlier estimate into unusable steps so
// the smoothed sequence has no holes once the filter has locked on.
func fillUnusable(c Curve, est *KalmanEstimate) {
	last, lastVar := math.NaN(), math.NaN()
	for i := 0; i < c.Len(); i++ {
		if c.Usable(i) {
			last, lastVar = est.Flux[i], est.Variance[i]
			continue
		}
		est.Flux[i], est.Variance[i] = last, lastVar
	}
}

// KalmanFilterIndex filters c and scores the retained observations with
// the weighted signal-to-noise likelihood. Fewer than minObs retained
// observations yields an empty Result.
func KalmanFilterIndex(c Curve, p KalmanParams, minObs int) (Result, error) {
	est, err := CalculateKalmanFlux(c, p)
	if err != nil {
		return Result{}, err
	}
	return score(c, est.Retained, minObs), nil
}

// KalmanFilteredIndices runs KalmanFilterIndex over a batch. The first
// malformed curve aborts the batch.
func KalmanFilteredIndices(curves []Curve, p KalmanParams, minObs int) ([]IndexedResult, error) {
	out := make([]IndexedResult, 0, len(curves))
	for i, c := range curves {
		r, err := KalmanFilterIndex(c, p, minObs)
		if err != nil {
			return nil, fmt.Errorf("curve %d: %w", i, err)
		}
		out = append(out, IndexedResult{Index: i, Result: r})
	}
	return out, nil
}
