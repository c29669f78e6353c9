package arbitrage

import (
	"fmt"
	"sort"
	"sync"
)

// Finder names accepted by the registry.
const (
	FinderTriangular  = "triangular"
	FinderBellmanFord = "bellman_ford"
)

// Registry holds named cycle finders for selection by config.
type Registry struct {
	finders map[string]CycleFinder
	mu      sync.RWMutex
}

// NewRegistry returns an empty registry. Call Register to add finders.
func NewRegistry() *Registry {
	return &Registry{finders: make(map[string]CycleFinder)}
}

// DefaultRegistry returns a registry with the built-in finders.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(Triangular{})
	r.Register(NewBellmanFord())
	return r
}

// Register adds a finder under its own name.
func (r *Registry) Register(f CycleFinder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finders[f.Name()] = f
}

// Get returns the finder by name, or an error if not found.
func (r *Registry) Get(name string) (CycleFinder, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.finders[name]
	if !ok {
		return nil, fmt.Errorf("arbitrage: cycle finder %q not found", name)
	}
	return f, nil
}

// Select picks a finder for the configuration. An explicit name wins;
// otherwise a maximum cycle length of 3 selects triangular enumeration and
// anything longer selects Bellman-Ford.
func (r *Registry) Select(name string, maxCycleLength int) (CycleFinder, error) {
	if maxCycleLength < 3 {
		return nil, fmt.Errorf("arbitrage: max cycle length %d is below 3", maxCycleLength)
	}
	if name == "" {
		name = FinderTriangular
		if maxCycleLength > 3 {
			name = FinderBellmanFord
		}
	}
	if name == FinderTriangular && maxCycleLength != 3 {
		return nil, fmt.Errorf("arbitrage: %s only finds cycles of length 3, got max %d", name, maxCycleLength)
	}
	return r.Get(name)
}

// List returns all registered finder names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.finders))
	for n := range r.finders {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
