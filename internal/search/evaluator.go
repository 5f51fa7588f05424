package search

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/shiftstack/internal/monitoring"
)

// ErrResourceExhausted reports that a backend cannot take a batch of the
// requested size. It is recoverable: retry with a smaller batch.
var ErrResourceExhausted = errors.New("evaluator resources exhausted")

// Evaluator names accepted by NewEvaluator.
const (
	EvaluatorSequential = "sequential"
	EvaluatorParallel   = "parallel"
)

// Chunk is a contiguous slice [Start, End) of a batch handed to one worker.
// Worker is in [0, Parallelism()) and unique within a Run call.
type Chunk struct {
	Worker     int
	Start, End int
}

// Evaluator executes a batch of independent evaluations. fn may only write
// state owned by its chunk or its worker slot; any reduction across chunks
// happens on the caller's goroutine after Run returns. A backend that
// rejects a batch with ErrResourceExhausted does so before calling fn.
type Evaluator interface {
	Name() string
	Parallelism() int
	Run(ctx context.Context, n int, fn func(ctx context.Context, c Chunk) error) error
}

// Sequential runs the whole batch as one chunk on the calling goroutine.
type Sequential struct{}

func (Sequential) Name() string     { return EvaluatorSequential }
func (Sequential) Parallelism() int { return 1 }

func (Sequential) Run(ctx context.Context, n int, fn func(context.Context, Chunk) error) error {
	if n <= 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(ctx, Chunk{Worker: 0, Start: 0, End: n})
}

// Parallel splits a batch across goroutines. MaxBatch, when positive, caps
// the batch size the way device memory caps an accelerator launch.
type Parallel struct {
	workers  int
	maxBatch int
}

// NewParallel builds a parallel evaluator. workers <= 0 uses GOMAXPROCS.
func NewParallel(workers, maxBatch int) *Parallel {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Parallel{workers: workers, maxBatch: maxBatch}
}

func (p *Parallel) Name() string     { return EvaluatorParallel }
func (p *Parallel) Parallelism() int { return p.workers }

func (p *Parallel) Run(ctx context.Context, n int, fn func(context.Context, Chunk) error) error {
	if n <= 0 {
		return nil
	}
	if p.maxBatch > 0 && n > p.maxBatch {
		return fmt.Errorf("batch of %d exceeds limit of %d: %w", n, p.maxBatch, ErrResourceExhausted)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for _, c := range Split(n, p.workers) {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return fn(gctx, c)
		})
	}
	return g.Wait()
}

// Split divides [0,n) into at most parts contiguous chunks whose sizes
// differ by at most one.
func Split(n, parts int) []Chunk {
	if n <= 0 {
		return nil
	}
	parts = max(1, min(parts, n))
	out := make([]Chunk, parts)
	base, extra := n/parts, n%parts
	start := 0
	for i := range out {
		size := base
		if i < extra {
			size++
		}
		out[i] = Chunk{Worker: i, Start: start, End: start + size}
		start += size
	}
	return out
}

// NewEvaluator selects a backend by name.
func NewEvaluator(name string, workers, maxBatch int) (Evaluator, error) {
	switch name {
	case EvaluatorSequential, "":
		return Sequential{}, nil
	case EvaluatorParallel:
		return NewParallel(workers, maxBatch), nil
	default:
		return nil, fmt.Errorf("unknown evaluator %q", name)
	}
}

// RunAdaptive feeds [0,n) through ev in batches of at most batch items,
// halving the batch size whenever the backend reports ErrResourceExhausted.
// Chunk bounds passed to fn are absolute indices into [0,n).
func RunAdaptive(ctx context.Context, ev Evaluator, n, batch int, fn func(context.Context, Chunk) error) error {
	if batch <= 0 {
		batch = n
	}
	for start := 0; start < n; {
		size := min(batch, n-start)
		offset := start
		err := ev.Run(ctx, size, func(ctx context.Context, c Chunk) error {
			return fn(ctx, Chunk{Worker: c.Worker, Start: c.Start + offset, End: c.End + offset})
		})
		if errors.Is(err, ErrResourceExhausted) && size > 1 {
			batch = size / 2
			monitoring.RecordBatchRetry()
			monitoring.Debugf("[%s] batch of %d rejected, retrying at %d", ev.Name(), size, batch)
			continue
		}
		if err != nil {
			return err
		}
		start += size
	}
	return nil
}
