// Package trajectory defines the linear trajectory scored by the searches
// and the pixel sampling convention every consumer shares.
package trajectory

import (
	"fmt"
	"math"
	"sort"
)

// Trajectory is a candidate detection: an origin pixel at the first image
// time plus a constant velocity in pixels per time unit.
type Trajectory struct {
	X, Y       int
	VX, VY     float64
	Likelihood float64
	Flux       float64
	ObsCount   int
}

// Offset converts a velocity component and time offset into a whole-pixel
// displacement, rounding half up.
func Offset(v, t float64) int {
	return int(math.Floor(v*t + 0.5))
}

// PixelAt returns the pixel the trajectory crosses at time offset t.
func (tr Trajectory) PixelAt(t float64) (int, int) {
	return tr.X + Offset(tr.VX, t), tr.Y + Offset(tr.VY, t)
}

// String renders the trajectory for logs and CLI output.
func (tr Trajectory) String() string {
	return fmt.Sprintf("lh=%.3f flux=%.3f obs=%d x=%d y=%d vx=%.3f vy=%.3f",
		tr.Likelihood, tr.Flux, tr.ObsCount, tr.X, tr.Y, tr.VX, tr.VY)
}

// Ranked pairs a trajectory with the stable key used to break likelihood ties.
type Ranked struct {
	Trajectory
	Key int64
}

// Better reports whether a ranks ahead of b: higher likelihood first, then
// the lower key.
func Better(a, b Ranked) bool {
	if a.Likelihood != b.Likelihood {
		return a.Likelihood > b.Likelihood
	}
	return a.Key < b.Key
}

// SortRanked orders entries best first.
func SortRanked(entries []Ranked) {
	sort.Slice(entries, func(i, j int) bool { return Better(entries[i], entries[j]) })
}

// Strip drops the ranking keys.
func Strip(entries []Ranked) []Trajectory {
	out := make([]Trajectory, len(entries))
	for i, e := range entries {
		out[i] = e.Trajectory
	}
	return out
}
