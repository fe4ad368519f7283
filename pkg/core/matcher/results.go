package matcher

import (
	"github.com/okanes/descmatch/pkg/core/types"
)

// Result holds a batch of k-NN answers as two flat arrays. The answer for
// query q at rank r lives at q*K+r; within a block ranks are ordered by
// increasing distance. Slots past the number of indexed descriptors hold
// types.NoNeighbour and +Inf.
type Result struct {
	NbQuery int
	K       int

	Indices   []uint32
	Distances []float64
}

func newResult(nbQuery, k int) *Result {
	return &Result{
		NbQuery:   nbQuery,
		K:         k,
		Indices:   make([]uint32, nbQuery*k),
		Distances: make([]float64, nbQuery*k),
	}
}

// At returns the neighbour id and distance for query q at rank r.
func (r *Result) At(q, rank int) (uint32, float64) {
	i := q*r.K + rank
	return r.Indices[i], r.Distances[i]
}

// Block returns the k-sized answer block for query q, backed by the flat
// arrays.
func (r *Result) Block(q int) ([]uint32, []float64) {
	lo, hi := q*r.K, (q+1)*r.K
	return r.Indices[lo:hi], r.Distances[lo:hi]
}

// Matches flattens the result into query/neighbour id pairs, skipping the
// filler slots of short blocks.
func (r *Result) Matches() []types.Match {
	out := make([]types.Match, 0, len(r.Indices))
	for q := 0; q < r.NbQuery; q++ {
		base := q * r.K
		for rank := 0; rank < r.K; rank++ {
			id := r.Indices[base+rank]
			if id == types.NoNeighbour {
				break
			}
			out = append(out, types.Match{QueryID: uint32(q), NeighborID: id})
		}
	}
	return out
}
