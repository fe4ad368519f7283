// Package types holds the small data structures shared between the distance
// kernels, the HNSW graph index, the matcher façade and the serving layer.
package types

import "github.com/okanes/descmatch/pkg/core/distance"

// Candidate is the internal HNSW result unit: a row id and its distance to
// the query.
type Candidate struct {
	Id       uint32
	Distance float64
}

// Match pairs a query row with one of its retrieved neighbour rows.
type Match struct {
	QueryID    uint32 `json:"query_id"`
	NeighborID uint32 `json:"neighbor_id"`
}

// NoNeighbour marks an unused slot in a fixed-size result block, produced
// when fewer indexed rows exist than the requested number of neighbours.
const NoNeighbour = ^uint32(0)

// MatcherInfo models the public information about a matcher for the API.
type MatcherInfo struct {
	Name           string             `json:"name"`
	Metric         distance.Metric    `json:"metric"`
	Precision      distance.Precision `json:"precision"`
	M              int                `json:"m"`
	EfConstruction int                `json:"ef_construction"`
	Dimension      int                `json:"dimension"`
	VectorCount    int                `json:"vector_count"`
	Built          bool               `json:"built"`
}
