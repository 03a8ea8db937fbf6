package similarity

import (
	"container/heap"
	"math"
	"sort"
)

// Scored pairs an item with its similarity score.
type Scored[T any] struct {
	Item  T
	Score float64

	seq int
}

// TopK keeps the k highest-scoring items offered to it in a single pass,
// using a bounded min-heap. Ties keep the item seen first. Not safe for
// concurrent use.
type TopK[T any] struct {
	k    int
	seen int
	h    minHeap[T]
}

// NewTopK creates a selector that retains at most k items.
func NewTopK[T any](k int) *TopK[T] {
	if k < 0 {
		k = 0
	}
	return &TopK[T]{k: k, h: make(minHeap[T], 0, k)}
}

// Offer considers one item. NaN scores are ignored. It reports whether the
// item is currently retained.
func (t *TopK[T]) Offer(item T, score float64) bool {
	if t.k == 0 || math.IsNaN(score) {
		return false
	}
	t.seen++
	entry := Scored[T]{Item: item, Score: score, seq: t.seen}

	if t.h.Len() < t.k {
		heap.Push(&t.h, entry)
		return true
	}
	// Equal scores never displace: the earlier item wins.
	if score <= t.h[0].Score {
		return false
	}
	t.h[0] = entry
	heap.Fix(&t.h, 0)
	return true
}

// Len returns the number of retained items.
func (t *TopK[T]) Len() int {
	return t.h.Len()
}

// Results returns the retained items, highest score first, equal scores in
// encounter order. The selector is left unchanged.
func (t *TopK[T]) Results() []Scored[T] {
	out := make([]Scored[T], len(t.h))
	copy(out, t.h)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].seq < out[j].seq
	})
	return out
}

// Select runs items through a TopK of size k and returns the ranked result.
func Select[T any](items []T, score func(T) float64, k int) []Scored[T] {
	t := NewTopK[T](k)
	for _, it := range items {
		t.Offer(it, score(it))
	}
	return t.Results()
}

// minHeap orders by score ascending; among equal scores the later-seen entry
// is on top so it is evicted first.
type minHeap[T any] []Scored[T]

func (h minHeap[T]) Len() int { return len(h) }

func (h minHeap[T]) Less(i, j int) bool {
	if h[i].Score != h[j].Score {
		return h[i].Score < h[j].Score
	}
	return h[i].seq > h[j].seq
}

func (h minHeap[T]) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *minHeap[T]) Push(x any) { *h = append(*h, x.(Scored[T])) }

func (h *minHeap[T]) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
