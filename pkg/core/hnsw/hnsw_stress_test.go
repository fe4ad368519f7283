package hnsw

import (
	"math/rand"
	"runtime"
	"sync"
	"testing"

	"github.com/okanes/descmatch/pkg/core/distance"
	"golang.org/x/sync/errgroup"
)

// TestConcurrentInsert exercises the fine-grained locking: after a serial
// seed insert, every remaining row goes in from a pool of goroutines. Run
// with -race.
func TestConcurrentInsert(t *testing.T) {
	const rows, dim = 1000, 16
	rng := rand.New(rand.NewSource(5))
	data := make([]float32, rows*dim)
	for i := range data {
		data[i] = rng.Float32()
	}
	cfg := DefaultConfig(distance.L2, distance.Float32, dim)
	cfg.Seed = 5
	h, err := New(cfg, data, rows)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if err := h.Insert(0); err != nil {
		t.Fatalf("seed insert failed: %v", err)
	}
	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for row := 1; row < rows; row++ {
		row := uint32(row)
		g.Go(func() error { return h.Insert(row) })
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("concurrent insert failed: %v", err)
	}
	if h.Len() != rows {
		t.Fatalf("expected %d inserted rows, got %d", rows, h.Len())
	}

	// The concurrently built graph must still find every row for itself.
	misses := 0
	for row := 0; row < rows; row++ {
		query := data[row*dim : (row+1)*dim]
		results, err := h.SearchKnn(query, 1, 100)
		if err != nil {
			t.Fatalf("SearchKnn failed: %v", err)
		}
		if results[0].Id != uint32(row) {
			misses++
		}
	}
	// Concurrent construction is allowed a small recall loss, not a broken
	// graph.
	if misses > rows/50 {
		t.Errorf("%d of %d self queries missed", misses, rows)
	}
}

// TestConcurrentInsertAndSearch interleaves writers and readers. The point is
// the race detector; results are only sanity checked.
func TestConcurrentInsertAndSearch(t *testing.T) {
	const rows, dim = 600, 8
	rng := rand.New(rand.NewSource(6))
	data := make([]float32, rows*dim)
	for i := range data {
		data[i] = rng.Float32()
	}
	cfg := DefaultConfig(distance.L2, distance.Float32, dim)
	cfg.Seed = 6
	h, err := New(cfg, data, rows)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := h.Insert(0); err != nil {
		t.Fatalf("seed insert failed: %v", err)
	}

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			qrng := rand.New(rand.NewSource(seed))
			query := make([]float32, dim)
			for {
				select {
				case <-stop:
					return
				default:
				}
				for i := range query {
					query[i] = qrng.Float32()
				}
				results, err := h.SearchKnn(query, 3, 32)
				if err != nil {
					t.Errorf("SearchKnn failed: %v", err)
					return
				}
				for i := 1; i < len(results); i++ {
					if results[i].Distance < results[i-1].Distance {
						t.Errorf("unordered results during concurrent build")
						return
					}
				}
			}
		}(int64(100 + r))
	}

	var g errgroup.Group
	g.SetLimit(4)
	for row := 1; row < rows; row++ {
		row := uint32(row)
		g.Go(func() error { return h.Insert(row) })
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("concurrent insert failed: %v", err)
	}
	close(stop)
	wg.Wait()

	if h.Len() != rows {
		t.Fatalf("expected %d inserted rows, got %d", rows, h.Len())
	}
}
