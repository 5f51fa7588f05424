package trajectory

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOffset_RoundsHalfUp(t *testing.T) {
	t.Parallel()

	tests := []struct {
		v, t float64
		want int
	}{
		{1, 0, 0},
		{1, 2.5, 3},
		{1, 2.49, 2},
		{-1, 2.5, -2},
		{-1, 2.6, -3},
		{0.3, 10, 3},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, Offset(tc.v, tc.t), "v=%v t=%v", tc.v, tc.t)
	}
}

func TestPixelAt(t *testing.T) {
	t.Parallel()

	tr := Trajectory{X: 10, Y: 5, VX: 2, VY: -0.5}
	x, y := tr.PixelAt(3)
	assert.Equal(t, 16, x)
	assert.Equal(t, 4, y)
}

func TestSortRanked_TieBreaksOnKey(t *testing.T) {
	t.Parallel()

	entries := []Ranked{
		{Trajectory: Trajectory{Likelihood: 5}, Key: 9},
		{Trajectory: Trajectory{Likelihood: 7}, Key: 3},
		{Trajectory: Trajectory{Likelihood: 5}, Key: 2},
	}
	SortRanked(entries)
	assert.Equal(t, []int64{3, 2, 9}, []int64{entries[0].Key, entries[1].Key, entries[2].Key})
	assert.Len(t, Strip(entries), 3)
}
