package search

import (
	"container/heap"

	"github.com/banshee-data/shiftstack/internal/trajectory"
)

// TopK is a bounded best-of-N buffer. The retained set depends only on the
// entries offered, never on the order they arrive in, because ranking is a
// strict total order over (likelihood, key). Not safe for concurrent use;
// give each worker its own buffer and Merge them afterwards.
type TopK struct {
	capacity int
	h        worstFirst
}

// NewTopK returns an empty buffer holding at most capacity entries.
func NewTopK(capacity int) *TopK {
	return &TopK{capacity: capacity, h: make(worstFirst, 0, min(max(capacity, 0), 1024))}
}

func (k *TopK) Len() int      { return len(k.h) }
func (k *TopK) Capacity() int { return k.capacity }

// Offer inserts r if there is room or if it ranks ahead of the current
// worst entry, which is then evicted. It reports whether r was kept.
func (k *TopK) Offer(r trajectory.Ranked) bool {
	if k.capacity <= 0 {
		return false
	}
	if len(k.h) < k.capacity {
		heap.Push(&k.h, r)
		return true
	}
	if !trajectory.Better(r, k.h[0]) {
		return false
	}
	k.h[0] = r
	heap.Fix(&k.h, 0)
	return true
}

// Merge offers every entry of other.
func (k *TopK) Merge(other *TopK) {
	if other == nil {
		return
	}
	for _, r := range other.h {
		k.Offer(r)
	}
}

// Sorted returns the entries best first. The buffer is unchanged.
func (k *TopK) Sorted() []trajectory.Ranked {
	out := append([]trajectory.Ranked(nil), k.h...)
	trajectory.SortRanked(out)
	return out
}

// worstFirst is a heap whose root is the lowest ranked entry.
type worstFirst []trajectory.Ranked

func (h worstFirst) Len() int           { return len(h) }
func (h worstFirst) Less(i, j int) bool { return trajectory.Better(h[j], h[i]) }
func (h worstFirst) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *worstFirst) Push(x any)        { *h = append(*h, x.(trajectory.Ranked)) }
func (h *worstFirst) Pop() any {
	old := *h
	n := len(old)
	r := old[n-1]
	*h = old[:n-1]
	return r
}
