package data

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Adapter abstracts one upstream data source (e.g. Open-Meteo, CoinCap).
type Adapter interface {
	// Fetch calls the upstream and returns normalized points.
	Fetch(ctx context.Context) ([]Point, error)
	// SourceName is the persistence key and dedup partition.
	SourceName() string
	DataType() DataType
	Description() string
	// NumericFields lists the fields expected to be aggregable.
	NumericFields() []string
	// Metadata is copied onto the Source record; nil when the adapter has none.
	Metadata() *Object
	// UniqueKey names the dedup field (dotted path allowed); empty means dedup by timestamp.
	UniqueKey() string
}

// Store is the contract the deduplicating repository satisfies.
type Store interface {
	SourceByName(ctx context.Context, name string) (*Source, error)
	ListSources(ctx context.Context, enabledOnly bool) ([]*Source, error)
	GetOrCreateSource(ctx context.Context, spec SourceSpec) (*Source, error)
	// SavePoints persists points idempotently and returns how many were written.
	SavePoints(ctx context.Context, sourceID int64, points []Point, uniqueKey string) (int, error)
	Points(ctx context.Context, filter PointFilter) ([]*DataPoint, error)
	CountPoints(ctx context.Context, filter PointFilter) (int, error)
	DeletePointsBefore(ctx context.Context, sourceID int64, before time.Time) (int, error)
}

// Registry holds the live adapters keyed by source name. It is built once at
// startup and shared by reference.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// Register adds a; names must be unique.
func (r *Registry) Register(a Adapter) error {
	name := a.SourceName()
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.adapters[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateSource, name)
	}
	r.adapters[name] = a
	return nil
}

func (r *Registry) Get(name string) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[name]
	return a, ok
}

// Names returns the registered source names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// All returns the registered adapters ordered by source name.
func (r *Registry) All() []Adapter {
	names := r.Names()
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Adapter, 0, len(names))
	for _, name := range names {
		if a, ok := r.adapters[name]; ok {
			out = append(out, a)
		}
	}
	return out
}
