package hnsw

import "github.com/okanes/descmatch/pkg/core/types"

// Value-based binary heaps over types.Candidate, used as the candidate
// frontier (min-heap) and the result set (max-heap) of the layer search.
// They implement sift-up/sift-down directly instead of going through
// container/heap so that Push and Pop work on values and never box a
// candidate into an interface. Instances are pooled by the index and
// recycled across searches via Reset.

// minHeap keeps the closest candidate on top.
type minHeap struct {
	items []types.Candidate
}

func newMinHeap(capacity int) *minHeap {
	return &minHeap{items: make([]types.Candidate, 0, capacity)}
}

func (h *minHeap) Len() int { return len(h.items) }

// Reset empties the heap, keeping the backing array.
func (h *minHeap) Reset() { h.items = h.items[:0] }

// Peek returns the closest candidate without removing it. The heap must not
// be empty.
func (h *minHeap) Peek() types.Candidate { return h.items[0] }

func (h *minHeap) Push(c types.Candidate) {
	h.items = append(h.items, c)
	// sift up
	i := len(h.items) - 1
	for i > 0 {
		parent := (i - 1) / 2
		if h.items[parent].Distance <= h.items[i].Distance {
			break
		}
		h.items[parent], h.items[i] = h.items[i], h.items[parent]
		i = parent
	}
}

func (h *minHeap) Pop() types.Candidate {
	top := h.items[0]
	last := len(h.items) - 1
	h.items[0] = h.items[last]
	h.items = h.items[:last]
	// sift down
	i := 0
	for {
		left := 2*i + 1
		if left >= last {
			break
		}
		smallest := left
		if right := left + 1; right < last && h.items[right].Distance < h.items[left].Distance {
			smallest = right
		}
		if h.items[i].Distance <= h.items[smallest].Distance {
			break
		}
		h.items[i], h.items[smallest] = h.items[smallest], h.items[i]
		i = smallest
	}
	return top
}

// maxHeap keeps the farthest candidate on top, so the worst member of a
// bounded result set can be evicted in O(log n).
type maxHeap struct {
	items []types.Candidate
}

func newMaxHeap(capacity int) *maxHeap {
	return &maxHeap{items: make([]types.Candidate, 0, capacity)}
}

func (h *maxHeap) Len() int { return len(h.items) }

func (h *maxHeap) Reset() { h.items = h.items[:0] }

// Peek returns the farthest candidate without removing it. The heap must not
// be empty.
func (h *maxHeap) Peek() types.Candidate { return h.items[0] }

func (h *maxHeap) Push(c types.Candidate) {
	h.items = append(h.items, c)
	i := len(h.items) - 1
	for i > 0 {
		parent := (i - 1) / 2
		if h.items[parent].Distance >= h.items[i].Distance {
			break
		}
		h.items[parent], h.items[i] = h.items[i], h.items[parent]
		i = parent
	}
}

func (h *maxHeap) Pop() types.Candidate {
	top := h.items[0]
	last := len(h.items) - 1
	h.items[0] = h.items[last]
	h.items = h.items[:last]
	i := 0
	for {
		left := 2*i + 1
		if left >= last {
			break
		}
		largest := left
		if right := left + 1; right < last && h.items[right].Distance > h.items[left].Distance {
			largest = right
		}
		if h.items[i].Distance >= h.items[largest].Distance {
			break
		}
		h.items[i], h.items[largest] = h.items[largest], h.items[i]
		i = largest
	}
	return top
}

// drainAscending empties the max-heap into a slice ordered by increasing
// distance. The farthest element pops first, so results are written back to
// front.
func (h *maxHeap) drainAscending() []types.Candidate {
	out := make([]types.Candidate, h.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = h.Pop()
	}
	return out
}
