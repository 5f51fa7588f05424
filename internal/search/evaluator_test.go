package search

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/shiftstack/internal/trajectory"
)

func TestSplit(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []Chunk{{0, 0, 4}, {1, 4, 7}, {2, 7, 10}}, Split(10, 3))
	assert.Equal(t, []Chunk{{0, 0, 1}, {1, 1, 2}}, Split(2, 8))
	assert.Equal(t, []Chunk{{0, 0, 5}}, Split(5, 0))
	assert.Nil(t, Split(0, 4))
}

func TestParallel_RejectsOversizedBatch(t *testing.T) {
	t.Parallel()

	called := false
	err := NewParallel(2, 10).Run(context.Background(), 11, func(context.Context, Chunk) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrResourceExhausted)
	assert.False(t, called)
}

func TestParallel_PropagatesError(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	err := NewParallel(4, 0).Run(context.Background(), 100, func(_ context.Context, c Chunk) error {
		if c.Worker == 2 {
			return boom
		}
		return nil
	})
	assert.ErrorIs(t, err, boom)
}

func TestRunAdaptive_CoversEveryIndexOnce(t *testing.T) {
	t.Parallel()

	for name, ev := range map[string]Evaluator{
		"sequential": Sequential{},
		"parallel":   NewParallel(3, 0),
		"limited":    NewParallel(3, 17),
		"tiny":       NewParallel(2, 1),
	} {
		t.Run(name, func(t *testing.T) {
			const n = 250
			hits := make([]atomic.Int32, n)
			err := RunAdaptive(context.Background(), ev, n, 64, func(_ context.Context, c Chunk) error {
				assert.Less(t, c.Worker, ev.Parallelism())
				for i := c.Start; i < c.End; i++ {
					hits[i].Add(1)
				}
				return nil
			})
			require.NoError(t, err)
			for i := range hits {
				assert.Equal(t, int32(1), hits[i].Load(), "index %d", i)
			}
		})
	}
}

func TestRunAdaptive_Cancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := RunAdaptive(ctx, NewParallel(2, 0), 10, 0, func(context.Context, Chunk) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewEvaluator(t *testing.T) {
	t.Parallel()

	ev, err := NewEvaluator("", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, EvaluatorSequential, ev.Name())

	ev, err = NewEvaluator(EvaluatorParallel, 3, 100)
	require.NoError(t, err)
	assert.Equal(t, EvaluatorParallel, ev.Name())
	assert.Equal(t, 3, ev.Parallelism())

	_, err = NewEvaluator("gpu", 1, 1)
	assert.Error(t, err)
}

func ranked(lh float64, key int64) trajectory.Ranked {
	return trajectory.Ranked{Trajectory: trajectory.Trajectory{Likelihood: lh}, Key: key}
}

func TestTopK_KeepsBest(t *testing.T) {
	t.Parallel()

	k := NewTopK(3)
	for i, lh := range []float64{1, 5, 3, 4, 2, 5} {
		k.Offer(ranked(lh, int64(i)))
	}
	got := k.Sorted()
	require.Len(t, got, 3)
	assert.Equal(t, []int64{1, 5, 3}, []int64{got[0].Key, got[1].Key, got[2].Key})
	assert.Equal(t, 3, k.Capacity())
}

func TestTopK_TieKeepsLowerKey(t *testing.T) {
	t.Parallel()

	k := NewTopK(1)
	assert.True(t, k.Offer(ranked(2, 9)))
	assert.True(t, k.Offer(ranked(2, 4)))
	assert.False(t, k.Offer(ranked(2, 7)))
	assert.Equal(t, int64(4), k.Sorted()[0].Key)
}

func TestTopK_OrderIndependent(t *testing.T) {
	t.Parallel()

	entries := []trajectory.Ranked{ranked(1, 0), ranked(3, 1), ranked(3, 2), ranked(0.5, 3), ranked(7, 4), ranked(3, 5)}
	forward, backward := NewTopK(4), NewTopK(4)
	for i := range entries {
		forward.Offer(entries[i])
		backward.Offer(entries[len(entries)-1-i])
	}
	assert.Equal(t, forward.Sorted(), backward.Sorted())

	a, b := NewTopK(4), NewTopK(4)
	for i, e := range entries {
		if i%2 == 0 {
			a.Offer(e)
		} else {
			b.Offer(e)
		}
	}
	a.Merge(b)
	a.Merge(nil)
	assert.Equal(t, forward.Sorted(), a.Sorted())
}

func TestTopK_ZeroCapacity(t *testing.T) {
	t.Parallel()

	k := NewTopK(0)
	assert.False(t, k.Offer(ranked(1, 0)))
	assert.Zero(t, k.Len())
}
