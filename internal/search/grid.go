package search

import (
	"context"
	"fmt"
	"math"

	"github.com/banshee-data/shiftstack/internal/filtering"
	"github.com/banshee-data/shiftstack/internal/monitoring"
	"github.com/banshee-data/shiftstack/internal/trajectory"
)

// DefaultBatchSize is the number of grid candidates handed to the evaluator
// per Run when GridParams.BatchSize is unset.
const DefaultBatchSize = 1 << 16

// scoreBatchSize is the number of candidate curves a grid worker samples
// before handing them to the filter strategy in one call.
const scoreBatchSize = 256

// Velocity is one velocity hypothesis in pixels per time unit.
type Velocity struct {
	VX, VY float64
}

// GridParams describes an angle × speed grid search. Angles are radians.
type GridParams struct {
	AngleSteps      int
	MinAngle        float64
	MaxAngle        float64
	VelocitySteps   int
	MinVelocity     float64
	MaxVelocity     float64
	MinObservations int
	MaxResults      int
	BatchSize       int
}

func (p GridParams) validate() error {
	if p.AngleSteps < 1 || p.VelocitySteps < 1 {
		return fmt.Errorf("grid needs at least one angle and one velocity step, got %dx%d", p.AngleSteps, p.VelocitySteps)
	}
	if p.MaxResults < 1 {
		return fmt.Errorf("max results must be positive, got %d", p.MaxResults)
	}
	if p.MinObservations < 0 {
		return fmt.Errorf("min observations must be non-negative, got %d", p.MinObservations)
	}
	return nil
}

// Linspace returns steps uniformly spaced values from lo to hi inclusive.
// One step yields lo.
func Linspace(lo, hi float64, steps int) []float64 {
	if steps <= 0 {
		return nil
	}
	out := make([]float64, steps)
	if steps == 1 {
		out[0] = lo
		return out
	}
	delta := (hi - lo) / float64(steps-1)
	for i := range out {
		out[i] = lo + float64(i)*delta
	}
	out[steps-1] = hi
	return out
}

// CreateSearchList enumerates the velocity grid, angle-major.
func CreateSearchList(p GridParams) []Velocity {
	angles := Linspace(p.MinAngle, p.MaxAngle, p.AngleSteps)
	speeds := Linspace(p.MinVelocity, p.MaxVelocity, p.VelocitySteps)
	out := make([]Velocity, 0, len(angles)*len(speeds))
	for _, a := range angles {
		sin, cos := math.Sincos(a)
		for _, v := range speeds {
			out = append(out, Velocity{VX: v * cos, VY: v * sin})
		}
	}
	return out
}

// GridSearch scores every pixel × velocity candidate and keeps the best.
type GridSearch struct {
	layers   Layers
	strategy filtering.Strategy
	ev       Evaluator

	results  []trajectory.Ranked
	complete bool
}

// NewGridSearch prepares a search over l. A nil evaluator runs sequentially.
func NewGridSearch(l Layers, strategy filtering.Strategy, ev Evaluator) (*GridSearch, error) {
	if err := checkLayers(l); err != nil {
		return nil, err
	}
	if strategy == nil {
		return nil, fmt.Errorf("grid search needs a filter strategy")
	}
	if ev == nil {
		ev = Sequential{}
	}
	return &GridSearch{layers: l, strategy: strategy, ev: ev}, nil
}

// Search runs the grid and replaces any previous results. Candidate k is
// pixel k / len(velocities) in row-major order with velocity
// k % len(velocities); k is also its tie-break key. When ctx ends early
// the best candidates scored so far are kept and ctx.Err() is returned.
func (g *GridSearch) Search(ctx context.Context, p GridParams) error {
	if err := p.validate(); err != nil {
		return err
	}
	vels := CreateSearchList(p)
	w, h := g.layers.Bounds()
	nVel := len(vels)
	total := w * h * nVel
	times := layerTimes(g.layers)
	batch := p.BatchSize
	if batch <= 0 {
		batch = DefaultBatchSize
	}

	stop := monitoring.StartTimer("grid", fmt.Sprintf("%d candidates", total))
	defer stop()

	locals := make([]*TopK, max(g.ev.Parallelism(), 1))
	for i := range locals {
		locals[i] = NewTopK(p.MaxResults)
	}
	scored := make([]int, len(locals))

	err := RunAdaptive(ctx, g.ev, total, batch, func(ctx context.Context, c Chunk) error {
		smp := newSampler(g.layers, times)
		sb := newScoreBatch(g.strategy, len(times), min(scoreBatchSize, c.End-c.Start))
		top := locals[c.Worker]
		for start := c.Start; start < c.End; start += scoreBatchSize {
			if err := ctx.Err(); err != nil {
				return err
			}
			end := min(start+scoreBatchSize, c.End)
			sb.reset()
			for k := start; k < end; k++ {
				pix, v := k/nVel, vels[k%nVel]
				tr := trajectory.Trajectory{X: pix % w, Y: pix / w, VX: v.VX, VY: v.VY}
				sb.add(tr, smp.sample(tr))
			}
			results, err := sb.score()
			if err != nil {
				return fmt.Errorf("candidates %d-%d: %w", start, end-1, err)
			}
			scored[c.Worker] += len(results)
			for _, res := range results {
				if len(res.Retained) == 0 {
					continue
				}
				tr := sb.trajectories[res.Index]
				tr.Likelihood, tr.Flux, tr.ObsCount = res.Likelihood, res.Flux, res.ObsCount()
				top.Offer(trajectory.Ranked{Trajectory: tr, Key: int64(start + res.Index)})
			}
		}
		return nil
	})

	merged := NewTopK(p.MaxResults)
	n := 0
	for i, l := range locals {
		merged.Merge(l)
		n += scored[i]
	}
	monitoring.RecordCandidates(g.strategy.Name(), n)
	g.results = merged.Sorted()
	g.complete = err == nil
	if err != nil {
		monitoring.Logf("grid search stopped after %d of %d candidates: %v", n, total, err)
	}
	return err
}

// FilterResults drops results with fewer than minObs observations.
func (g *GridSearch) FilterResults(minObs int) {
	kept := g.results[:0]
	for _, r := range g.results {
		if r.ObsCount >= minObs {
			kept = append(kept, r)
		}
	}
	g.results = kept
}

// SortResults puts the results in final ranked order.
func (g *GridSearch) SortResults() { trajectory.SortRanked(g.results) }

// Results returns ranked results [start, end), clipped to what exists.
func (g *GridSearch) Results(start, end int) []trajectory.Trajectory {
	start, end = max(start, 0), min(end, len(g.results))
	if start >= end {
		return nil
	}
	return trajectory.Strip(g.results[start:end])
}

// Len is the number of results held.
func (g *GridSearch) Len() int { return len(g.results) }

// Complete reports whether the last Search scored every candidate.
func (g *GridSearch) Complete() bool { return g.complete }

// scoreBatch holds sampled curves for one FilterBatch call. Each slot owns
// its storage since the sampler reuses a single curve.
type scoreBatch struct {
	strategy     filtering.Strategy
	trajectories []trajectory.Trajectory
	curves       []filtering.Curve
}

func newScoreBatch(s filtering.Strategy, steps, size int) *scoreBatch {
	signal := make([]float64, steps*size)
	weight := make([]float64, steps*size)
	curves := make([]filtering.Curve, size)
	for i := range curves {
		lo, hi := i*steps, (i+1)*steps
		curves[i] = filtering.Curve{Signal: signal[lo:hi:hi], Weight: weight[lo:hi:hi]}
	}
	return &scoreBatch{
		strategy:     s,
		trajectories: make([]trajectory.Trajectory, 0, size),
		curves:       curves,
	}
}

func (b *scoreBatch) reset() { b.trajectories = b.trajectories[:0] }

func (b *scoreBatch) add(tr trajectory.Trajectory, c filtering.Curve) {
	slot := b.curves[len(b.trajectories)]
	copy(slot.Signal, c.Signal)
	copy(slot.Weight, c.Weight)
	b.trajectories = append(b.trajectories, tr)
}

func (b *scoreBatch) score() ([]filtering.IndexedResult, error) {
	return filtering.FilterBatch(b.strategy, b.curves[:len(b.trajectories)])
}
