package hnsw

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"

	"github.com/okanes/descmatch/pkg/core/distance"
	"github.com/okanes/descmatch/pkg/core/types"
)

// ErrEmptyIndex is returned by searches against an index with no inserted
// rows.
var ErrEmptyIndex = errors.New("hnsw: index is empty")

// DimensionMismatchError reports a query vector whose length does not match
// the dimension the index was built with.
type DimensionMismatchError struct {
	Want, Got int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("hnsw: dimension mismatch: index has %d, query has %d", e.Want, e.Got)
}

// maxLayer caps the level assignment so a degenerate random draw cannot
// produce an absurdly tall graph.
const maxLayer = 30

// Config describes the dataset an index is bound to and its graph tunables.
type Config struct {
	Metric    distance.Metric
	Precision distance.Precision

	// Dimension is the number of scalars per row. For Binary precision it
	// is the number of bytes per packed descriptor.
	Dimension int

	// M is the target out-degree per layer. Layer 0 allows 2*M.
	M int

	// EfConstruction is the beam width used while inserting rows.
	EfConstruction int

	// Seed drives level assignment. Zero means a time-based seed.
	Seed int64
}

// DefaultConfig returns the standard tunables for a dataset of the given
// metric, precision and dimension.
func DefaultConfig(metric distance.Metric, precision distance.Precision, dimension int) Config {
	return Config{
		Metric:         metric,
		Precision:      precision,
		Dimension:      dimension,
		M:              16,
		EfConstruction: 100,
	}
}

// Index is an HNSW graph over a write-once dataset. The dataset is bound at
// construction as a flat row-major buffer; rows are addressed by their index
// in that buffer, so the graph stores no copies of the vectors.
//
// Insert may be called concurrently for distinct rows. Searches are safe to
// run concurrently with each other and with inserts.
type Index struct {
	metric    distance.Metric
	precision distance.Precision
	dim       int
	rows      int

	m              int
	mMax0          int
	efConstruction int
	ml             float64

	distF32 distance.FuncF32
	distF16 distance.FuncF16
	distI32 distance.FuncI32
	distU8  distance.FuncU8

	vecF32 []float32
	vecF16 []uint16
	vecI32 []int32
	vecU8  []uint8

	nodes    []*Node
	inserted atomic.Uint32

	epMu         sync.RWMutex
	entrypointID uint32
	maxLevel     int // -1 until the first row is inserted

	visitedPool sync.Pool
	minPool     sync.Pool
	maxPool     sync.Pool
}

// New builds an index bound to data, which must be a flat row-major buffer
// matching cfg.Precision ([]float32, []uint16 for float16, []int32 or []uint8)
// of length rows*cfg.Dimension. The metric/precision pairing is validated
// here; an unsupported pairing fails before any allocation.
//
// Every node is preallocated with its level drawn up front, so the parallel
// insert phase never publishes new node pointers across goroutines.
func New(cfg Config, data any, rows int) (*Index, error) {
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("hnsw: invalid dimension %d", cfg.Dimension)
	}
	if rows < 0 {
		return nil, fmt.Errorf("hnsw: invalid row count %d", rows)
	}
	if cfg.M <= 0 {
		cfg.M = 16
	}
	if cfg.EfConstruction <= 0 {
		cfg.EfConstruction = 100
	}

	h := &Index{
		metric:         cfg.Metric,
		precision:      cfg.Precision,
		dim:            cfg.Dimension,
		rows:           rows,
		m:              cfg.M,
		mMax0:          cfg.M * 2,
		efConstruction: cfg.EfConstruction,
		ml:             1.0 / math.Log(float64(cfg.M)),
		maxLevel:       -1,
	}

	var err error
	switch cfg.Precision {
	case distance.Float32:
		if h.distF32, err = distance.GetFloat32Func(cfg.Metric); err != nil {
			return nil, err
		}
		buf, ok := data.([]float32)
		if !ok {
			return nil, fmt.Errorf("hnsw: precision %s requires []float32 data, got %T", cfg.Precision, data)
		}
		if len(buf) != rows*cfg.Dimension {
			return nil, fmt.Errorf("hnsw: data length %d does not match %d rows of dimension %d", len(buf), rows, cfg.Dimension)
		}
		h.vecF32 = buf
	case distance.Float16:
		if h.distF16, err = distance.GetFloat16Func(cfg.Metric); err != nil {
			return nil, err
		}
		buf, ok := data.([]uint16)
		if !ok {
			return nil, fmt.Errorf("hnsw: precision %s requires []uint16 data, got %T", cfg.Precision, data)
		}
		if len(buf) != rows*cfg.Dimension {
			return nil, fmt.Errorf("hnsw: data length %d does not match %d rows of dimension %d", len(buf), rows, cfg.Dimension)
		}
		h.vecF16 = buf
	case distance.Int32:
		if h.distI32, err = distance.GetInt32Func(cfg.Metric); err != nil {
			return nil, err
		}
		buf, ok := data.([]int32)
		if !ok {
			return nil, fmt.Errorf("hnsw: precision %s requires []int32 data, got %T", cfg.Precision, data)
		}
		if len(buf) != rows*cfg.Dimension {
			return nil, fmt.Errorf("hnsw: data length %d does not match %d rows of dimension %d", len(buf), rows, cfg.Dimension)
		}
		h.vecI32 = buf
	case distance.Binary:
		if h.distU8, err = distance.GetBinaryFunc(cfg.Metric); err != nil {
			return nil, err
		}
		buf, ok := data.([]uint8)
		if !ok {
			return nil, fmt.Errorf("hnsw: precision %s requires []uint8 data, got %T", cfg.Precision, data)
		}
		if len(buf) != rows*cfg.Dimension {
			return nil, fmt.Errorf("hnsw: data length %d does not match %d rows of dimension %d", len(buf), rows, cfg.Dimension)
		}
		h.vecU8 = buf
	default:
		return nil, fmt.Errorf("hnsw: unknown precision %q", cfg.Precision)
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = rand.Int63()
	}
	rng := rand.New(rand.NewSource(seed))
	h.nodes = make([]*Node, rows)
	for i := range h.nodes {
		level := h.randomLevel(rng)
		h.nodes[i] = &Node{
			Level:       level,
			Connections: make([][]uint32, level+1),
		}
	}

	capacity := uint32(rows)
	h.visitedPool.New = func() any { return NewBitSet(capacity) }
	h.minPool.New = func() any { return newMinHeap(h.efConstruction) }
	h.maxPool.New = func() any { return newMaxHeap(h.efConstruction) }
	return h, nil
}

// randomLevel draws from the exponential distribution floor(-ln(U) * mL).
func (h *Index) randomLevel(rng *rand.Rand) int {
	u := rng.Float64()
	for u == 0 {
		u = rng.Float64()
	}
	level := int(math.Floor(-math.Log(u) * h.ml))
	if level > maxLayer {
		level = maxLayer
	}
	return level
}

// Len returns the number of rows inserted so far.
func (h *Index) Len() int { return int(h.inserted.Load()) }

// Rows returns the capacity of the bound dataset.
func (h *Index) Rows() int { return h.rows }

// Dimension returns the per-row scalar count the index was built with.
func (h *Index) Dimension() int { return h.dim }

// Metric returns the distance metric the index was built with.
func (h *Index) Metric() distance.Metric { return h.metric }

// Precision returns the scalar precision the index was built with.
func (h *Index) Precision() distance.Precision { return h.precision }

// M returns the per-layer degree target.
func (h *Index) M() int { return h.m }

// EfConstruction returns the construction beam width.
func (h *Index) EfConstruction() int { return h.efConstruction }

// MaxLevel returns the current top layer, or -1 for an empty index.
func (h *Index) MaxLevel() int {
	h.epMu.RLock()
	defer h.epMu.RUnlock()
	return h.maxLevel
}

// rowF32 returns row id of the float32 buffer. Analogues below for the other
// precisions.
func (h *Index) rowF32(id uint32) []float32 {
	off := int(id) * h.dim
	return h.vecF32[off : off+h.dim]
}

func (h *Index) rowF16(id uint32) []uint16 {
	off := int(id) * h.dim
	return h.vecF16[off : off+h.dim]
}

func (h *Index) rowI32(id uint32) []int32 {
	off := int(id) * h.dim
	return h.vecI32[off : off+h.dim]
}

func (h *Index) rowU8(id uint32) []uint8 {
	off := int(id) * h.dim
	return h.vecU8[off : off+h.dim]
}

// rowVector returns row id as an untyped slice, suitable for queryDist.
func (h *Index) rowVector(id uint32) any {
	switch h.precision {
	case distance.Float32:
		return h.rowF32(id)
	case distance.Float16:
		return h.rowF16(id)
	case distance.Int32:
		return h.rowI32(id)
	default:
		return h.rowU8(id)
	}
}

// distRows computes the distance between two stored rows.
func (h *Index) distRows(a, b uint32) (float64, error) {
	switch h.precision {
	case distance.Float32:
		return h.distF32(h.rowF32(a), h.rowF32(b))
	case distance.Float16:
		return h.distF16(h.rowF16(a), h.rowF16(b))
	case distance.Int32:
		return h.distI32(h.rowI32(a), h.rowI32(b))
	default:
		return h.distU8(h.rowU8(a), h.rowU8(b))
	}
}

// queryDist builds a distance closure from an external query vector to stored
// rows. Resolving the precision switch once per query keeps the hot search
// loop free of type assertions.
func (h *Index) queryDist(query any) (func(id uint32) (float64, error), error) {
	switch h.precision {
	case distance.Float32:
		q, ok := query.([]float32)
		if !ok {
			return nil, fmt.Errorf("hnsw: precision %s requires a []float32 query, got %T", h.precision, query)
		}
		if len(q) != h.dim {
			return nil, &DimensionMismatchError{Want: h.dim, Got: len(q)}
		}
		fn := h.distF32
		return func(id uint32) (float64, error) { return fn(q, h.rowF32(id)) }, nil
	case distance.Float16:
		q, ok := query.([]uint16)
		if !ok {
			return nil, fmt.Errorf("hnsw: precision %s requires a []uint16 query, got %T", h.precision, query)
		}
		if len(q) != h.dim {
			return nil, &DimensionMismatchError{Want: h.dim, Got: len(q)}
		}
		fn := h.distF16
		return func(id uint32) (float64, error) { return fn(q, h.rowF16(id)) }, nil
	case distance.Int32:
		q, ok := query.([]int32)
		if !ok {
			return nil, fmt.Errorf("hnsw: precision %s requires a []int32 query, got %T", h.precision, query)
		}
		if len(q) != h.dim {
			return nil, &DimensionMismatchError{Want: h.dim, Got: len(q)}
		}
		fn := h.distI32
		return func(id uint32) (float64, error) { return fn(q, h.rowI32(id)) }, nil
	default:
		q, ok := query.([]uint8)
		if !ok {
			return nil, fmt.Errorf("hnsw: precision %s requires a []uint8 query, got %T", h.precision, query)
		}
		if len(q) != h.dim {
			return nil, &DimensionMismatchError{Want: h.dim, Got: len(q)}
		}
		fn := h.distU8
		return func(id uint32) (float64, error) { return fn(q, h.rowU8(id)) }, nil
	}
}

// Insert links row into the graph. The first inserted row seeds the graph as
// its entry point; subsequent rows may be inserted concurrently from multiple
// goroutines as long as each row is inserted exactly once.
func (h *Index) Insert(row uint32) error {
	if int(row) >= h.rows {
		return fmt.Errorf("hnsw: row %d out of range (have %d rows)", row, h.rows)
	}
	node := h.nodes[row]
	level := node.Level

	h.epMu.RLock()
	maxLevel, ep := h.maxLevel, h.entrypointID
	h.epMu.RUnlock()

	if maxLevel == -1 {
		h.epMu.Lock()
		if h.maxLevel == -1 {
			h.entrypointID = row
			h.maxLevel = level
			h.epMu.Unlock()
			h.inserted.Add(1)
			return nil
		}
		maxLevel, ep = h.maxLevel, h.entrypointID
		h.epMu.Unlock()
	}

	distQ, err := h.queryDist(h.rowVector(row))
	if err != nil {
		return err
	}

	curr := ep
	currDist, err := distQ(curr)
	if err != nil {
		return err
	}

	// Greedy width-1 descent through the layers above the new node's level.
	for l := maxLevel; l > level; l-- {
		if curr, currDist, err = h.greedyStep(distQ, curr, currDist, l); err != nil {
			return err
		}
	}

	// Beam search and link on every shared layer, from the top down.
	start := level
	if maxLevel < start {
		start = maxLevel
	}
	for l := start; l >= 0; l-- {
		candidates, err := h.searchLayer(distQ, types.Candidate{Id: curr, Distance: currDist}, h.efConstruction, l)
		if err != nil {
			return err
		}
		maxConns := h.m
		if l == 0 {
			maxConns = h.mMax0
		}
		selected, err := h.selectNeighbors(candidates, maxConns)
		if err != nil {
			return err
		}

		node.lock()
		conns := node.Connections[l][:0]
		for _, c := range selected {
			conns = append(conns, c.Id)
		}
		node.Connections[l] = conns
		node.unlock()

		for _, c := range selected {
			if err := h.link(c.Id, row, l, maxConns); err != nil {
				return err
			}
		}
		if len(candidates) > 0 {
			curr, currDist = candidates[0].Id, candidates[0].Distance
		}
	}

	// Promote to entry point if the new node tops the graph.
	if level > maxLevel {
		h.epMu.Lock()
		if level > h.maxLevel {
			h.maxLevel = level
			h.entrypointID = row
		}
		h.epMu.Unlock()
	}
	h.inserted.Add(1)
	return nil
}

// greedyStep walks layer l from curr to its closest neighbour until no
// neighbour improves on the current distance.
func (h *Index) greedyStep(distQ func(uint32) (float64, error), curr uint32, currDist float64, l int) (uint32, float64, error) {
	for {
		node := h.nodes[curr]
		if l >= len(node.Connections) {
			return curr, currDist, nil
		}
		improved := false
		node.lock()
		for _, nb := range node.Connections[l] {
			d, err := distQ(nb)
			if err != nil {
				node.unlock()
				return curr, currDist, err
			}
			if d < currDist {
				curr, currDist = nb, d
				improved = true
			}
		}
		node.unlock()
		if !improved {
			return curr, currDist, nil
		}
	}
}

// searchLayer runs the beam search at layer l starting from ep, keeping the
// ef closest rows found. Results come back ordered by increasing distance.
func (h *Index) searchLayer(distQ func(uint32) (float64, error), ep types.Candidate, ef, l int) ([]types.Candidate, error) {
	visited := h.visitedPool.Get().(*BitSet)
	visited.EnsureCapacity(uint32(h.rows))
	candidates := h.minPool.Get().(*minHeap)
	results := h.maxPool.Get().(*maxHeap)
	defer func() {
		visited.Clear()
		h.visitedPool.Put(visited)
		candidates.Reset()
		h.minPool.Put(candidates)
		results.Reset()
		h.maxPool.Put(results)
	}()

	visited.Add(ep.Id)
	candidates.Push(ep)
	results.Push(ep)

	for candidates.Len() > 0 {
		current := candidates.Pop()
		if results.Len() >= ef && current.Distance > results.Peek().Distance {
			break
		}
		node := h.nodes[current.Id]
		if l >= len(node.Connections) {
			continue
		}
		node.lock()
		for _, nb := range node.Connections[l] {
			if visited.Has(nb) {
				continue
			}
			visited.Add(nb)
			d, err := distQ(nb)
			if err != nil {
				node.unlock()
				return nil, err
			}
			if results.Len() < ef {
				c := types.Candidate{Id: nb, Distance: d}
				candidates.Push(c)
				results.Push(c)
			} else if d < results.Peek().Distance {
				c := types.Candidate{Id: nb, Distance: d}
				candidates.Push(c)
				results.Pop()
				results.Push(c)
			}
		}
		node.unlock()
	}
	return results.drainAscending(), nil
}

// selectNeighbors applies the diversity heuristic: walking candidates from
// closest to farthest, a candidate is kept only if it is closer to the query
// row than to every already kept neighbour. Remaining slots are filled from
// the discarded candidates in distance order, so well connected regions do
// not starve sparse ones.
func (h *Index) selectNeighbors(candidates []types.Candidate, maxConns int) ([]types.Candidate, error) {
	if len(candidates) <= maxConns {
		return candidates, nil
	}
	selected := make([]types.Candidate, 0, maxConns)
	var discarded []types.Candidate
	for _, c := range candidates {
		if len(selected) == maxConns {
			break
		}
		keep := true
		for _, s := range selected {
			d, err := h.distRows(c.Id, s.Id)
			if err != nil {
				return nil, err
			}
			if d < c.Distance {
				keep = false
				break
			}
		}
		if keep {
			selected = append(selected, c)
		} else {
			discarded = append(discarded, c)
		}
	}
	for _, c := range discarded {
		if len(selected) == maxConns {
			break
		}
		selected = append(selected, c)
	}
	return selected, nil
}

// link adds the reciprocal edge to -> from at layer l, pruning to's neighbour
// list with the diversity heuristic if it exceeds maxConns. The whole
// append-and-prune runs under to's lock so a concurrent insert cannot slip an
// edge in between the overflow check and the rewrite.
func (h *Index) link(to, from uint32, l, maxConns int) error {
	node := h.nodes[to]
	if l >= len(node.Connections) {
		return nil
	}
	node.lock()
	defer node.unlock()

	node.Connections[l] = append(node.Connections[l], from)
	if len(node.Connections[l]) <= maxConns {
		return nil
	}

	cands := make([]types.Candidate, 0, len(node.Connections[l]))
	for _, nb := range node.Connections[l] {
		d, err := h.distRows(to, nb)
		if err != nil {
			return err
		}
		cands = append(cands, types.Candidate{Id: nb, Distance: d})
	}
	sortCandidates(cands)
	pruned, err := h.selectNeighbors(cands, maxConns)
	if err != nil {
		return err
	}
	conns := node.Connections[l][:0]
	for _, c := range pruned {
		conns = append(conns, c.Id)
	}
	node.Connections[l] = conns
	return nil
}

// sortCandidates orders by increasing distance. Insertion sort: the lists
// here are a handful over the degree bound, never large.
func sortCandidates(cands []types.Candidate) {
	for i := 1; i < len(cands); i++ {
		c := cands[i]
		j := i - 1
		for j >= 0 && cands[j].Distance > c.Distance {
			cands[j+1] = cands[j]
			j--
		}
		cands[j+1] = c
	}
}

// SearchKnn returns the k approximate nearest rows to query, ordered by
// increasing distance. ef bounds the beam width at layer 0 and is clamped up
// to k. Fewer than k results come back when the index holds fewer rows.
func (h *Index) SearchKnn(query any, k, ef int) ([]types.Candidate, error) {
	if k <= 0 {
		return nil, fmt.Errorf("hnsw: k must be positive, got %d", k)
	}
	if h.inserted.Load() == 0 {
		return nil, ErrEmptyIndex
	}
	if ef < k {
		ef = k
	}
	distQ, err := h.queryDist(query)
	if err != nil {
		return nil, err
	}

	h.epMu.RLock()
	maxLevel, curr := h.maxLevel, h.entrypointID
	h.epMu.RUnlock()

	currDist, err := distQ(curr)
	if err != nil {
		return nil, err
	}
	for l := maxLevel; l > 0; l-- {
		if curr, currDist, err = h.greedyStep(distQ, curr, currDist, l); err != nil {
			return nil, err
		}
	}
	results, err := h.searchLayer(distQ, types.Candidate{Id: curr, Distance: currDist}, ef, 0)
	if err != nil {
		return nil, err
	}
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// BruteSearch scans every row and returns the k exact nearest neighbours,
// ordered by increasing distance. It is the recall baseline for the graph
// search and is meant for small datasets or verification.
func (h *Index) BruteSearch(query any, k int) ([]types.Candidate, error) {
	if k <= 0 {
		return nil, fmt.Errorf("hnsw: k must be positive, got %d", k)
	}
	if h.rows == 0 {
		return nil, ErrEmptyIndex
	}
	distQ, err := h.queryDist(query)
	if err != nil {
		return nil, err
	}
	best := newMaxHeap(k + 1)
	for row := 0; row < h.rows; row++ {
		id := uint32(row)
		d, err := distQ(id)
		if err != nil {
			return nil, err
		}
		if best.Len() < k {
			best.Push(types.Candidate{Id: id, Distance: d})
		} else if d < best.Peek().Distance {
			best.Pop()
			best.Push(types.Candidate{Id: id, Distance: d})
		}
	}
	return best.drainAscending(), nil
}
