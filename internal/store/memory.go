package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/i474232898/data-aggregator/internal/data"
)

// pointSet holds the rows of one source together with its dedup index.
type pointSet struct {
	rows []*data.DataPoint
	keys map[string]struct{}
}

// MemoryStore is a concurrency-safe in-memory Backend.
type MemoryStore struct {
	mu sync.RWMutex

	sources map[string]*data.Source
	// key: source id
	points map[int64]*pointSet

	nextSourceID int64
	nextPointID  int64
	now          func() time.Time
}

var _ Backend = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sources: make(map[string]*data.Source),
		points:  make(map[int64]*pointSet),
		now:     time.Now,
	}
}

func (s *MemoryStore) SourceByName(_ context.Context, name string) (*data.Source, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	src, ok := s.sources[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return copySource(src), nil
}

func (s *MemoryStore) ListSources(_ context.Context, enabledOnly bool) ([]*data.Source, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*data.Source, 0, len(s.sources))
	for _, src := range s.sources {
		if enabledOnly && !src.Enabled {
			continue
		}
		out = append(out, copySource(src))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *MemoryStore) CreateSource(_ context.Context, src *data.Source) (*data.Source, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sources[src.Name]; exists {
		return nil, fmt.Errorf("%w: source %s", ErrConflict, src.Name)
	}
	s.nextSourceID++
	stored := copySource(src)
	stored.ID = s.nextSourceID
	stored.CreatedAt = s.now().UTC()
	s.sources[stored.Name] = stored
	s.points[stored.ID] = &pointSet{keys: make(map[string]struct{})}
	return copySource(stored), nil
}

func (s *MemoryStore) UpdateSourceMeta(_ context.Context, id int64, meta *data.Object) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, src := range s.sources {
		if src.ID == id {
			src.Meta = meta.Clone()
			return nil
		}
	}
	return fmt.Errorf("%w: id %d", ErrNotFound, id)
}

// InsertPoints validates the whole batch before writing, so a conflict leaves the store untouched.
func (s *MemoryStore) InsertPoints(_ context.Context, rows []*data.DataPoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pending := make(map[int64]map[string]struct{})
	for _, row := range rows {
		set, ok := s.points[row.SourceID]
		if !ok {
			return fmt.Errorf("source id %d does not exist", row.SourceID)
		}
		if _, dup := set.keys[row.DedupKey]; dup {
			return fmt.Errorf("%w: %s", ErrConflict, row.DedupKey)
		}
		batch := pending[row.SourceID]
		if batch == nil {
			batch = make(map[string]struct{})
			pending[row.SourceID] = batch
		}
		if _, dup := batch[row.DedupKey]; dup {
			return fmt.Errorf("%w: %s", ErrConflict, row.DedupKey)
		}
		batch[row.DedupKey] = struct{}{}
	}

	for _, row := range rows {
		s.insertLocked(row)
	}
	return nil
}

func (s *MemoryStore) InsertPoint(_ context.Context, row *data.DataPoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.points[row.SourceID]
	if !ok {
		return fmt.Errorf("source id %d does not exist", row.SourceID)
	}
	if _, dup := set.keys[row.DedupKey]; dup {
		return fmt.Errorf("%w: %s", ErrConflict, row.DedupKey)
	}
	s.insertLocked(row)
	return nil
}

func (s *MemoryStore) insertLocked(row *data.DataPoint) {
	s.nextPointID++
	stored := &data.DataPoint{
		ID:        s.nextPointID,
		SourceID:  row.SourceID,
		Timestamp: data.NormalizeTimestamp(row.Timestamp),
		DedupKey:  row.DedupKey,
		Data:      row.Data.Clone(),
		CreatedAt: s.now().UTC(),
	}
	set := s.points[row.SourceID]
	set.rows = append(set.rows, stored)
	set.keys[row.DedupKey] = struct{}{}
}

// Points returns matching rows newest first; ties keep insertion order.
func (s *MemoryStore) Points(_ context.Context, filter data.PointFilter) ([]*data.DataPoint, error) {
	s.mu.RLock()
	matched := s.matchLocked(filter)
	s.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Timestamp.After(matched[j].Timestamp)
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(matched) {
			return []*data.DataPoint{}, nil
		}
		matched = matched[filter.Offset:]
	}
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	return matched, nil
}

func (s *MemoryStore) CountPoints(_ context.Context, filter data.PointFilter) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.matchLocked(filter)), nil
}

func (s *MemoryStore) AllPoints(_ context.Context, sourceID int64) ([]*data.DataPoint, error) {
	return s.Points(context.Background(), data.PointFilter{SourceID: sourceID})
}

func (s *MemoryStore) matchLocked(filter data.PointFilter) []*data.DataPoint {
	set, ok := s.points[filter.SourceID]
	if !ok {
		return []*data.DataPoint{}
	}
	out := make([]*data.DataPoint, 0, len(set.rows))
	for _, row := range set.rows {
		if filter.Contains(row.Timestamp) {
			out = append(out, copyPoint(row))
		}
	}
	return out
}

// DeletePointsBefore removes rows strictly older than before.
func (s *MemoryStore) DeletePointsBefore(_ context.Context, sourceID int64, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.points[sourceID]
	if !ok {
		return 0, nil
	}
	kept := set.rows[:0]
	deleted := 0
	for _, row := range set.rows {
		if row.Timestamp.Before(before) {
			delete(set.keys, row.DedupKey)
			deleted++
			continue
		}
		kept = append(kept, row)
	}
	set.rows = kept
	return deleted, nil
}

func copySource(src *data.Source) *data.Source {
	out := *src
	out.Meta = src.Meta.Clone()
	return &out
}

func copyPoint(dp *data.DataPoint) *data.DataPoint {
	out := *dp
	out.Data = dp.Data.Clone()
	return &out
}
