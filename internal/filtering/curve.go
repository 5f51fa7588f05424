package filtering

import (
	"errors"
	"fmt"
	"math"
)

// ErrLengthMismatch is returned when a curve's signal and weight slices
// disagree in length. It always indicates a caller bug.
var ErrLengthMismatch = errors.New("signal and weight lengths differ")

// Curve is a signal/inverse-variance pair indexed by time step.
type Curve struct {
	Signal []float64
	Weight []float64
}

// NewCurve validates and wraps a signal/weight pair.
func NewCurve(signal, weight []float64) (Curve, error) {
	c := Curve{Signal: signal, Weight: weight}
	if err := c.check(); err != nil {
		return Curve{}, err
	}
	return c, nil
}

// CurveFromPsiPhi converts psi/phi samples into a flux curve weighted by
// phi. Steps with a non-finite psi or a phi that is not strictly positive
// become unusable.
func CurveFromPsiPhi(psi, phi []float64) (Curve, error) {
	if len(psi) != len(phi) {
		return Curve{}, fmt.Errorf("psi has %d steps, phi has %d: %w", len(psi), len(phi), ErrLengthMismatch)
	}
	c := Curve{Signal: make([]float64, len(psi)), Weight: make([]float64, len(psi))}
	for i := range psi {
		if !finite(psi[i]) || !finite(phi[i]) || phi[i] <= 0 {
			c.Signal[i] = math.NaN()
			continue
		}
		c.Signal[i] = psi[i] / phi[i]
		c.Weight[i] = phi[i]
	}
	return c, nil
}

func (c Curve) check() error {
	if len(c.Signal) != len(c.Weight) {
		return fmt.Errorf("signal has %d steps, weight has %d: %w", len(c.Signal), len(c.Weight), ErrLengthMismatch)
	}
	return nil
}

// Len is the number of time steps.
func (c Curve) Len() int { return len(c.Signal) }

// Usable reports whether step i can enter an accumulation: finite signal
// and a finite, strictly positive weight.
func (c Curve) Usable(i int) bool {
	w := c.Weight[i]
	return finite(c.Signal[i]) && finite(w) && w > 0
}

// UsableIndices lists usable steps in ascending order.
func (c Curve) UsableIndices() []int {
	out := make([]int, 0, len(c.Signal))
	for i := range c.Signal {
		if c.Usable(i) {
			out = append(out, i)
		}
	}
	return out
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
