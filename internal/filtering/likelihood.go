package filtering

import "math"

// Result is the outcome of filtering one curve. An empty Retained set means
// the curve did not keep enough observations and scores zero.
type Result struct {
	Retained   []int
	Likelihood float64
	Flux       float64
}

// ObsCount is the number of retained observations.
func (r Result) ObsCount() int { return len(r.Retained) }

// IndexedResult tags a Result with the position of its curve in a batch.
type IndexedResult struct {
	Index int
	Result
}

// Likelihood computes the weighted signal-to-noise statistic
// Σ(s·w)/sqrt(Σw) and the weighted mean flux Σ(s·w)/Σw over idx. A nil idx
// means every step. Unusable steps are skipped; zero total weight scores 0.
func Likelihood(c Curve, idx []int) (lh, flux float64) {
	var sw, w float64
	add := func(i int) {
		if !c.Usable(i) {
			return
		}
		sw += c.Signal[i] * c.Weight[i]
		w += c.Weight[i]
	}
	if idx == nil {
		for i := range c.Signal {
			add(i)
		}
	} else {
		for _, i := range idx {
			add(i)
		}
	}
	if w <= 0 {
		return 0, 0
	}
	return sw / math.Sqrt(w), sw / w
}

// score turns a retained set into a Result, applying the observation floor.
func score(c Curve, retained []int, minObs int) Result {
	if len(retained) == 0 || len(retained) < minObs {
		return Result{}
	}
	lh, flux := Likelihood(c, retained)
	return Result{Retained: retained, Likelihood: lh, Flux: flux}
}
