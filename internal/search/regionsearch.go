package search

import (
	"container/heap"
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/banshee-data/shiftstack/internal/filtering"
	"github.com/banshee-data/shiftstack/internal/monitoring"
	"github.com/banshee-data/shiftstack/internal/trajectory"
)

// DefaultRegionBatchSize is the number of worklist cells expanded per
// iteration when RegionParams.BatchSize is unset.
const DefaultRegionBatchSize = 64

// RegionParams configures a region search. Zero MaxIterations or
// MaxResults means unlimited. Target, when set, restricts results to
// trajectories ending within Radius of it at the last image time.
type RegionParams struct {
	MinLH           float64
	MinObservations int
	Target          *Point
	Radius          float64
	MaxIterations   int
	MaxResults      int
	BatchSize       int
}

func (p RegionParams) validate() error {
	if p.MinObservations < 0 {
		return fmt.Errorf("min observations must be non-negative, got %d", p.MinObservations)
	}
	if p.Target != nil && (p.Radius < 0 || math.IsNaN(p.Radius)) {
		return fmt.Errorf("radius must be non-negative, got %v", p.Radius)
	}
	if p.MaxIterations < 0 || p.MaxResults < 0 {
		return fmt.Errorf("limits must be non-negative")
	}
	return nil
}

// SearchStats counts what happened to cells during a region search.
type SearchStats struct {
	Evaluated    int
	PrunedLH     int
	PrunedBounds int
	Subdivided   int
	Promoted     int
	Iterations   int
}

// Add accumulates o into s.
func (s *SearchStats) Add(o SearchStats) {
	s.Evaluated += o.Evaluated
	s.PrunedLH += o.PrunedLH
	s.PrunedBounds += o.PrunedBounds
	s.Subdivided += o.Subdivided
	s.Promoted += o.Promoted
	s.Iterations += o.Iterations
}

func (s SearchStats) record() {
	monitoring.RecordRegionCells(monitoring.CellEvaluated, s.Evaluated)
	monitoring.RecordRegionCells(monitoring.CellPrunedLH, s.PrunedLH)
	monitoring.RecordRegionCells(monitoring.CellPrunedBounds, s.PrunedBounds)
	monitoring.RecordRegionCells(monitoring.CellSubdivided, s.Subdivided)
	monitoring.RecordRegionCells(monitoring.CellPromoted, s.Promoted)
}

// RegionResult holds the depth-0 cells promoted by one region search,
// best first. Complete is false when a limit or the context stopped the
// search before the worklist emptied.
type RegionResult struct {
	Cells    []RegionCell
	Stats    SearchStats
	Complete bool
}

// worklist is a max-heap of arena indices ordered by Upper, then Lower,
// then arena index.
type worklist struct {
	arena []RegionCell
	idx   []int
}

func (w *worklist) Len() int { return len(w.idx) }
func (w *worklist) Less(i, j int) bool {
	a, b := &w.arena[w.idx[i]], &w.arena[w.idx[j]]
	if a.Upper != b.Upper {
		return a.Upper > b.Upper
	}
	if a.Lower != b.Lower {
		return a.Lower > b.Lower
	}
	return w.idx[i] < w.idx[j]
}
func (w *worklist) Swap(i, j int) { w.idx[i], w.idx[j] = w.idx[j], w.idx[i] }
func (w *worklist) Push(x any)    { w.idx = append(w.idx, x.(int)) }
func (w *worklist) Pop() any {
	n := len(w.idx)
	i := w.idx[n-1]
	w.idx = w.idx[:n-1]
	return i
}

func (w *worklist) add(cells []RegionCell) {
	for _, c := range cells {
		w.arena = append(w.arena, c)
		heap.Push(w, len(w.arena)-1)
	}
}

// admit bounds fresh cells and drops the ones that cannot produce a result.
func (e *RegionEngine) admit(ctx context.Context, cells []RegionCell, p RegionParams, st *SearchStats) ([]RegionCell, error) {
	if p.Target != nil {
		n := len(cells)
		cells = FilterBounds(cells, *p.Target, p.Radius, e.span)
		st.PrunedBounds += n - len(cells)
	}
	if err := e.CalculateLHBatch(ctx, cells); err != nil {
		return nil, err
	}
	st.Evaluated += len(cells)
	n := len(cells)
	cells = FilterLH(cells, p.MinLH, p.MinObservations)
	st.PrunedLH += n - len(cells)
	return cells, nil
}

// RegionSearch runs best-first branch and bound for one velocity. Cells
// come off the worklist by descending upper bound, so depth-0 cells are
// promoted in descending likelihood order. A depth-0 cell is only promoted
// when no parent popped in the same batch is still waiting to be
// subdivided; otherwise it goes back on the worklist.
func (e *RegionEngine) RegionSearch(ctx context.Context, v Velocity, p RegionParams) (*RegionResult, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	batch := p.BatchSize
	if batch <= 0 {
		batch = DefaultRegionBatchSize
	}
	res := &RegionResult{}
	st := &res.Stats
	defer func() {
		sortCells(res.Cells)
		st.record()
	}()

	seeds, err := e.admit(ctx, e.Seed(v), p, st)
	if err != nil {
		return res, err
	}
	wl := &worklist{}
	wl.add(seeds)

	var parents []RegionCell
	for wl.Len() > 0 {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if p.MaxIterations > 0 && st.Iterations >= p.MaxIterations {
			return res, nil
		}
		st.Iterations++

		parents = parents[:0]
		for len(parents) < batch && wl.Len() > 0 {
			i := heap.Pop(wl).(int)
			c := wl.arena[i]
			if c.Depth > 0 {
				parents = append(parents, c)
				continue
			}
			if len(parents) > 0 {
				heap.Push(wl, i)
				break
			}
			res.Cells = append(res.Cells, c)
			st.Promoted++
			if p.MaxResults > 0 && len(res.Cells) >= p.MaxResults {
				return res, nil
			}
		}

		var children []RegionCell
		for _, c := range parents {
			children = append(children, e.Subdivide(c)...)
		}
		st.Subdivided += len(parents)
		if len(children) == 0 {
			continue
		}
		children, err = e.admit(ctx, children, p, st)
		if err != nil {
			return res, err
		}
		wl.add(children)
	}
	res.Complete = true
	return res, nil
}

// ResResult is the merged outcome of a multi-velocity region search.
type ResResult struct {
	Trajectories []trajectory.Trajectory
	Stats        SearchStats
	Complete     bool
}

// ResSearch runs RegionSearch for each velocity and merges the promoted
// cells by origin pixel, keeping the higher likelihood; on a tie the earlier
// velocity wins. Results are ordered by likelihood then row-major origin.
// When rescore is non-nil every merged trajectory is re-scored with it and
// dropped if it no longer keeps MinObservations observations. The list is
// cut to MaxResults when that is set.
func (e *RegionEngine) ResSearch(ctx context.Context, vels []Velocity, p RegionParams, rescore filtering.Strategy) (*ResResult, error) {
	stop := monitoring.StartTimer("region", fmt.Sprintf("%d velocities", len(vels)))
	defer stop()

	out := &ResResult{Complete: true}
	best := make(map[int]trajectory.Ranked)
	var runErr error
	for _, v := range vels {
		r, err := e.RegionSearch(ctx, v, p)
		if r != nil {
			out.Stats.Add(r.Stats)
			out.Complete = out.Complete && r.Complete
			for _, c := range r.Cells {
				key := c.Y*e.width + c.X
				if cur, ok := best[key]; ok && cur.Likelihood >= c.Lower {
					continue
				}
				best[key] = trajectory.Ranked{Trajectory: c.Trajectory(), Key: int64(key)}
			}
		}
		if err != nil {
			runErr = err
			out.Complete = false
			break
		}
	}

	ranked := make([]trajectory.Ranked, 0, len(best))
	for _, r := range best {
		ranked = append(ranked, r)
	}
	if rescore != nil {
		var err error
		if ranked, err = e.rescore(ranked, rescore, p.MinObservations); err != nil {
			return nil, err
		}
	}
	trajectory.SortRanked(ranked)
	if p.MaxResults > 0 && len(ranked) > p.MaxResults {
		ranked = ranked[:p.MaxResults]
	}
	out.Trajectories = trajectory.Strip(ranked)
	monitoring.Debugf("[region] %d results, %d cells evaluated, %d pruned by likelihood, %d by bounds",
		len(out.Trajectories), out.Stats.Evaluated, out.Stats.PrunedLH, out.Stats.PrunedBounds)
	return out, runErr
}

func (e *RegionEngine) rescore(in []trajectory.Ranked, s filtering.Strategy, minObs int) ([]trajectory.Ranked, error) {
	smp := newSampler(e, e.times)
	out := in[:0]
	for _, r := range in {
		res, err := s.Filter(smp.sample(r.Trajectory))
		if err != nil {
			return nil, fmt.Errorf("rescore %v: %w", r.Trajectory, err)
		}
		if len(res.Retained) == 0 || res.ObsCount() < minObs {
			continue
		}
		r.Likelihood, r.Flux, r.ObsCount = res.Likelihood, res.Flux, res.ObsCount()
		out = append(out, r)
	}
	return out, nil
}

// sortCells orders promoted cells by likelihood, then row-major origin.
func sortCells(cells []RegionCell) {
	sort.Slice(cells, func(i, j int) bool {
		a, b := cells[i], cells[j]
		if a.Lower != b.Lower {
			return a.Lower > b.Lower
		}
		if a.Y != b.Y {
			return a.Y < b.Y
		}
		return a.X < b.X
	})
}
