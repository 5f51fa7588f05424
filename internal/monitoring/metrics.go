package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Region cell outcomes recorded by RecordRegionCells.
const (
	CellEvaluated    = "evaluated"
	CellPrunedLH     = "pruned_lh"
	CellPrunedBounds = "pruned_bounds"
	CellSubdivided   = "subdivided"
	CellPromoted     = "promoted"
)

var (
	// candidatesScored counts grid candidates pushed through a filter strategy.
	candidatesScored = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shiftstack_candidates_scored_total",
		Help: "Grid search candidates scored, by filter strategy",
	}, []string{"strategy"})

	// regionCells counts region search cells by outcome.
	regionCells = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shiftstack_region_cells_total",
		Help: "Region search cells by outcome",
	}, []string{"outcome"})

	// batchRetries counts evaluator batches retried at a smaller size.
	batchRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "shiftstack_batch_retries_total",
		Help: "Evaluator batches retried after resource exhaustion",
	})

	searchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "shiftstack_search_duration_seconds",
		Help:    "Search phase duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 16), // 1ms to ~30s
	}, []string{"kind"})
)

// RecordCandidates adds n scored grid candidates for strategy.
func RecordCandidates(strategy string, n int) {
	candidatesScored.WithLabelValues(strategy).Add(float64(n))
}

// RecordRegionCells adds n region cells with the given outcome.
func RecordRegionCells(outcome string, n int) {
	if n > 0 {
		regionCells.WithLabelValues(outcome).Add(float64(n))
	}
}

// RecordBatchRetry notes one evaluator batch retry.
func RecordBatchRetry() { batchRetries.Inc() }
