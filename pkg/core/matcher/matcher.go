// Package matcher provides approximate nearest neighbour matching of fixed
// size descriptors over an HNSW graph. A Matcher is created for one metric
// and scalar precision pairing, built once against a flat descriptor set, and
// then serves 1-NN and k-NN queries concurrently.
package matcher

import (
	"errors"
	"fmt"
	"math"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/okanes/descmatch/pkg/core/distance"
	"github.com/okanes/descmatch/pkg/core/hnsw"
	"github.com/okanes/descmatch/pkg/core/types"
)

// ErrNotBuilt is returned by searches before a successful Build.
var ErrNotBuilt = errors.New("matcher: not built")

// singleEf is the beam width used for 1-NN lookups.
const singleEf = 16

// Options carries the graph tunables.
type Options struct {
	// M is the HNSW degree target per layer.
	M int
	// EfConstruction is the beam width used while building the graph.
	EfConstruction int
	// Seed fixes the level assignment for reproducible graphs. Zero picks
	// a random seed.
	Seed int64
}

// Option mutates Options.
type Option func(*Options)

// WithM overrides the degree target.
func WithM(m int) Option { return func(o *Options) { o.M = m } }

// WithEfConstruction overrides the construction beam width.
func WithEfConstruction(ef int) Option { return func(o *Options) { o.EfConstruction = ef } }

// WithSeed fixes the graph's random level seed.
func WithSeed(seed int64) Option { return func(o *Options) { o.Seed = seed } }

// Matcher indexes one descriptor set. Build must complete before any search;
// after that, searches are safe from any number of goroutines. Build is not
// safe to call concurrently with itself or with searches.
type Matcher struct {
	metric    distance.Metric
	precision distance.Precision
	opts      Options

	index *hnsw.Index
	rows  int
	dim   int
	built bool
}

// New creates an unbuilt matcher for the given metric and precision. The
// pairing is validated here: an unsupported combination (for example Hamming
// over float32) fails before any index state is allocated.
func New(metric distance.Metric, precision distance.Precision, opts ...Option) (*Matcher, error) {
	if !distance.Supported(metric, precision) {
		return nil, fmt.Errorf("matcher: metric %q is not supported for precision %q", metric, precision)
	}
	o := Options{M: 16, EfConstruction: 100}
	for _, opt := range opts {
		opt(&o)
	}
	return &Matcher{metric: metric, precision: precision, opts: o}, nil
}

// FromIndex wraps an already populated graph, typically one restored from a
// snapshot.
func FromIndex(index *hnsw.Index) *Matcher {
	return &Matcher{
		metric:    index.Metric(),
		precision: index.Precision(),
		opts:      Options{M: index.M(), EfConstruction: index.EfConstruction()},
		index:     index,
		rows:      index.Rows(),
		dim:       index.Dimension(),
		built:     index.Len() > 0,
	}
}

// Metric returns the matcher's distance metric.
func (m *Matcher) Metric() distance.Metric { return m.metric }

// Precision returns the matcher's scalar precision.
func (m *Matcher) Precision() distance.Precision { return m.precision }

// Built reports whether a descriptor set has been indexed.
func (m *Matcher) Built() bool { return m.built }

// Dimension returns the per-descriptor scalar count, or 0 before Build.
func (m *Matcher) Dimension() int { return m.dim }

// Count returns the number of indexed descriptors, or 0 before Build.
func (m *Matcher) Count() int { return m.rows }

// Info summarizes the matcher state.
func (m *Matcher) Info(name string) types.MatcherInfo {
	return types.MatcherInfo{
		Name:           name,
		Metric:         m.metric,
		Precision:      m.precision,
		M:              m.opts.M,
		EfConstruction: m.opts.EfConstruction,
		Dimension:      m.dim,
		VectorCount:    m.rows,
		Built:          m.built,
	}
}

// BuildFloat32 indexes rows descriptors of dim float32 scalars each, laid out
// row-major in data.
func (m *Matcher) BuildFloat32(data []float32, rows, dim int) error {
	if m.precision != distance.Float32 {
		return fmt.Errorf("matcher: precision is %q, not float32", m.precision)
	}
	return m.build(data, rows, dim)
}

// BuildFloat16 indexes rows descriptors of dim IEEE 754 half precision
// scalars each, passed as their raw bit patterns.
func (m *Matcher) BuildFloat16(data []uint16, rows, dim int) error {
	if m.precision != distance.Float16 {
		return fmt.Errorf("matcher: precision is %q, not float16", m.precision)
	}
	return m.build(data, rows, dim)
}

// BuildInt32 indexes rows descriptors of dim int32 scalars each.
func (m *Matcher) BuildInt32(data []int32, rows, dim int) error {
	if m.precision != distance.Int32 {
		return fmt.Errorf("matcher: precision is %q, not int32", m.precision)
	}
	return m.build(data, rows, dim)
}

// BuildBinary indexes rows bit-packed descriptors of dim bytes each.
func (m *Matcher) BuildBinary(data []uint8, rows, dim int) error {
	if m.precision != distance.Binary {
		return fmt.Errorf("matcher: precision is %q, not binary", m.precision)
	}
	return m.build(data, rows, dim)
}

// build creates the graph and inserts every row: row 0 serially to seed the
// entry point, the rest in parallel. A rebuild discards the previous index
// before anything can fail, so on any error the matcher is left unbuilt
// rather than serving stale state.
func (m *Matcher) build(data any, rows, dim int) error {
	m.index = nil
	m.rows = 0
	m.dim = 0
	m.built = false
	if rows < 1 {
		return fmt.Errorf("matcher: descriptor set is empty")
	}
	cfg := hnsw.Config{
		Metric:         m.metric,
		Precision:      m.precision,
		Dimension:      dim,
		M:              m.opts.M,
		EfConstruction: m.opts.EfConstruction,
		Seed:           m.opts.Seed,
	}
	index, err := hnsw.New(cfg, data, rows)
	if err != nil {
		return err
	}
	if err := index.Insert(0); err != nil {
		return err
	}
	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for row := 1; row < rows; row++ {
		row := uint32(row)
		g.Go(func() error { return index.Insert(row) })
	}
	if err := g.Wait(); err != nil {
		return err
	}

	m.index = index
	m.rows = rows
	m.dim = dim
	m.built = true
	return nil
}

// Index exposes the underlying graph, for snapshotting and diagnostics.
// It returns nil before Build.
func (m *Matcher) Index() *hnsw.Index { return m.index }

// SearchNeighbour returns the approximate nearest indexed descriptor to
// query. The query must match the matcher's precision ([]float32, []uint16,
// []int32 or []uint8) and dimension.
func (m *Matcher) SearchNeighbour(query any) (types.Candidate, error) {
	if !m.built {
		return types.Candidate{}, ErrNotBuilt
	}
	results, err := m.index.SearchKnn(query, 1, singleEf)
	if err != nil {
		return types.Candidate{}, err
	}
	return results[0], nil
}

// searchEf is the beam width policy for batched k-NN: small k keeps the
// narrow 1-NN beam, larger k widens it with both k and the batch size.
func searchEf(k, nbQuery int) int {
	if k <= 2 {
		return singleEf
	}
	ef := 2 * k
	if nbQuery > ef {
		ef = nbQuery
	}
	return ef
}

// SearchNeighbours runs k-NN for a batch of nbQuery descriptors laid out
// row-major in queries and returns a Result with one k-sized block per query,
// each block ordered by increasing distance. Queries run in parallel.
//
// When the index holds fewer than k descriptors, the tail of a block is
// filled with types.NoNeighbour ids at +Inf distance, so block boundaries
// stay at query*k regardless.
func (m *Matcher) SearchNeighbours(queries any, nbQuery, k int) (*Result, error) {
	if !m.built {
		return nil, ErrNotBuilt
	}
	if k < 1 {
		return nil, fmt.Errorf("matcher: k must be positive, got %d", k)
	}
	if nbQuery < 0 {
		return nil, fmt.Errorf("matcher: invalid query count %d", nbQuery)
	}
	rows, err := m.queryRows(queries, nbQuery)
	if err != nil {
		return nil, err
	}

	res := newResult(nbQuery, k)
	ef := searchEf(k, nbQuery)

	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for q := 0; q < nbQuery; q++ {
		q := q
		g.Go(func() error {
			found, err := m.index.SearchKnn(rows(q), k, ef)
			if err != nil {
				return err
			}
			base := q * k
			for i, c := range found {
				res.Indices[base+i] = c.Id
				res.Distances[base+i] = c.Distance
			}
			for i := len(found); i < k; i++ {
				res.Indices[base+i] = types.NoNeighbour
				res.Distances[base+i] = math.Inf(1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return res, nil
}

// queryRows validates the batch buffer and returns an accessor for one query
// row. The type switch runs once per batch, not per query.
func (m *Matcher) queryRows(queries any, nbQuery int) (func(q int) any, error) {
	dim := m.dim
	switch m.precision {
	case distance.Float32:
		buf, ok := queries.([]float32)
		if !ok {
			return nil, fmt.Errorf("matcher: precision %s requires []float32 queries, got %T", m.precision, queries)
		}
		if len(buf) != nbQuery*dim {
			return nil, fmt.Errorf("matcher: query buffer has %d scalars, want %d queries of dimension %d", len(buf), nbQuery, dim)
		}
		return func(q int) any { return buf[q*dim : (q+1)*dim] }, nil
	case distance.Float16:
		buf, ok := queries.([]uint16)
		if !ok {
			return nil, fmt.Errorf("matcher: precision %s requires []uint16 queries, got %T", m.precision, queries)
		}
		if len(buf) != nbQuery*dim {
			return nil, fmt.Errorf("matcher: query buffer has %d scalars, want %d queries of dimension %d", len(buf), nbQuery, dim)
		}
		return func(q int) any { return buf[q*dim : (q+1)*dim] }, nil
	case distance.Int32:
		buf, ok := queries.([]int32)
		if !ok {
			return nil, fmt.Errorf("matcher: precision %s requires []int32 queries, got %T", m.precision, queries)
		}
		if len(buf) != nbQuery*dim {
			return nil, fmt.Errorf("matcher: query buffer has %d scalars, want %d queries of dimension %d", len(buf), nbQuery, dim)
		}
		return func(q int) any { return buf[q*dim : (q+1)*dim] }, nil
	default:
		buf, ok := queries.([]uint8)
		if !ok {
			return nil, fmt.Errorf("matcher: precision %s requires []uint8 queries, got %T", m.precision, queries)
		}
		if len(buf) != nbQuery*dim {
			return nil, fmt.Errorf("matcher: query buffer has %d bytes, want %d queries of dimension %d", len(buf), nbQuery, dim)
		}
		return func(q int) any { return buf[q*dim : (q+1)*dim] }, nil
	}
}
