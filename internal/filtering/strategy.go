package filtering

import "fmt"

// Strategy names accepted by NewStrategy.
const (
	StrategySigmaG = "sigmag"
	StrategyKalman = "kalman"
	StrategyNone   = "none"
)

// Strategy scores one curve. Implementations are stateless and safe for
// concurrent use.
type Strategy interface {
	Name() string
	Filter(c Curve) (Result, error)
}

// BatchStrategy is a Strategy with its own entry point for scoring many
// curves at once.
type BatchStrategy interface {
	Strategy
	FilterBatch(curves []Curve) ([]IndexedResult, error)
}

// FilterBatch scores curves with s, through its batch entry point when it
// has one. Result i carries Index i. The first malformed curve aborts.
func FilterBatch(s Strategy, curves []Curve) ([]IndexedResult, error) {
	if bs, ok := s.(BatchStrategy); ok {
		return bs.FilterBatch(curves)
	}
	out := make([]IndexedResult, 0, len(curves))
	for i, c := range curves {
		r, err := s.Filter(c)
		if err != nil {
			return nil, fmt.Errorf("curve %d: %w", i, err)
		}
		out = append(out, IndexedResult{Index: i, Result: r})
	}
	return out, nil
}

// SigmaG clips the usable observations by percentile and scores the rest.
type SigmaG struct {
	Params          SigmaGParams
	MinObservations int
}

func (SigmaG) Name() string { return StrategySigmaG }

func (s SigmaG) Filter(c Curve) (Result, error) {
	if err := c.check(); err != nil {
		return Result{}, err
	}
	usable := c.UsableIndices()
	values := make([]float64, len(usable))
	for k, i := range usable {
		values[k] = c.Signal[i]
	}
	local, err := SigmaGFilteredIndices(values, s.Params)
	if err != nil {
		return Result{}, err
	}
	retained := make([]int, len(local))
	for k, j := range local {
		retained[k] = usable[j]
	}
	return score(c, retained, s.MinObservations), nil
}

// Kalman scores the observations accepted by the multi-pass filter.
type Kalman struct {
	Params          KalmanParams
	MinObservations int
}

func (Kalman) Name() string { return StrategyKalman }

func (k Kalman) Filter(c Curve) (Result, error) {
	return KalmanFilterIndex(c, k.Params, k.MinObservations)
}

func (k Kalman) FilterBatch(curves []Curve) ([]IndexedResult, error) {
	return KalmanFilteredIndices(curves, k.Params, k.MinObservations)
}

// Unfiltered keeps every usable observation.
type Unfiltered struct {
	MinObservations int
}

func (Unfiltered) Name() string { return StrategyNone }

func (u Unfiltered) Filter(c Curve) (Result, error) {
	if err := c.check(); err != nil {
		return Result{}, err
	}
	return score(c, c.UsableIndices(), u.MinObservations), nil
}

// NewStrategy builds the named strategy. Parameters for the strategies not
// selected are ignored.
func NewStrategy(name string, sg SigmaGParams, kp KalmanParams, minObs int) (Strategy, error) {
	switch name {
	case StrategySigmaG:
		if err := sg.Validate(); err != nil {
			return nil, err
		}
		return SigmaG{Params: sg, MinObservations: minObs}, nil
	case StrategyKalman:
		if err := kp.Validate(); err != nil {
			return nil, err
		}
		return Kalman{Params: kp, MinObservations: minObs}, nil
	case StrategyNone, "":
		return Unfiltered{MinObservations: minObs}, nil
	default:
		return nil, fmt.Errorf("unknown filter strategy %q", name)
	}
}
