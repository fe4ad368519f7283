package server

import (
	"fmt"
	"sync"

	"github.com/tidwall/btree"

	"github.com/okanes/descmatch/pkg/core/matcher"
	"github.com/okanes/descmatch/pkg/metrics"
)

// Registry holds the named matchers served by this process. Names are kept in
// a B-tree map so listings come out in lexical order without a sort on every
// request.
type Registry struct {
	mu       sync.RWMutex
	matchers btree.Map[string, *matcher.Matcher]
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Add registers m under name. It fails if the name is taken.
func (r *Registry) Add(name string, m *matcher.Matcher) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.matchers.Get(name); ok {
		return fmt.Errorf("matcher %q already exists", name)
	}
	r.matchers.Set(name, m)
	metrics.MatchersTotal.Set(float64(r.matchers.Len()))
	return nil
}

// Get returns the matcher registered under name.
func (r *Registry) Get(name string) (*matcher.Matcher, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.matchers.Get(name)
}

// Delete removes the matcher registered under name.
func (r *Registry) Delete(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.matchers.Delete(name)
	if ok {
		metrics.MatchersTotal.Set(float64(r.matchers.Len()))
		metrics.IndexedDescriptors.DeleteLabelValues(name)
	}
	return ok
}

// Names returns every registered name in lexical order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, r.matchers.Len())
	r.matchers.Scan(func(name string, _ *matcher.Matcher) bool {
		names = append(names, name)
		return true
	})
	return names
}

// Len returns the number of registered matchers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.matchers.Len()
}
