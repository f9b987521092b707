package data

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/i474232898/data-aggregator/internal/metrics"
	"github.com/i474232898/data-aggregator/pkg/logger"
)

// Service orchestrates adapter fetches, persistence and query-time aggregation.
type Service struct {
	store    Store
	registry *Registry
	log      logger.Logger
	metrics  *metrics.Manager
	now      func() time.Time
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

func WithLogger(l logger.Logger) ServiceOption {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

func WithMetrics(m *metrics.Manager) ServiceOption {
	return func(s *Service) { s.metrics = m }
}

// WithClock overrides the time source used for query windows and retention.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService creates a new Service.
func NewService(store Store, registry *Registry, opts ...ServiceOption) *Service {
	if registry == nil {
		registry = NewRegistry()
	}
	s := &Service{
		store:    store,
		registry: registry,
		log:      logger.Named("service"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Registry returns the adapters this service drives.
func (s *Service) Registry() *Registry { return s.registry }

// CycleResult describes one fetch-and-store cycle. Err is informational; cycles never fail their caller.
type CycleResult struct {
	Source   string        `json:"source"`
	RunID    string        `json:"run_id"`
	Fetched  int           `json:"fetched"`
	Saved    int           `json:"saved"`
	Duration time.Duration `json:"duration"`
	Err      error         `json:"-"`
}

// FetchAndStore runs one cycle for a: fetch, get-or-create its source, save points.
// Errors and panics are logged and reported in the result.
func (s *Service) FetchAndStore(ctx context.Context, a Adapter) (res CycleResult) {
	res = CycleResult{Source: a.SourceName(), RunID: uuid.NewString()}
	log := s.log.With(logger.String("source", res.Source), logger.String("run_id", res.RunID))
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			res.Err = fmt.Errorf("panic during fetch cycle: %v", r)
			log.Error(ctx, "fetch cycle panicked", logger.Any("panic", r), logger.String("stack", string(debug.Stack())))
		}
		res.Duration = time.Since(start)
		status := metrics.StatusOK
		switch {
		case res.Err != nil:
			status = metrics.StatusError
		case res.Fetched == 0:
			status = metrics.StatusEmpty
		}
		s.metrics.ObserveFetch(res.Source, status, res.Duration)
	}()

	log.Info(ctx, "fetching data")
	points, err := a.Fetch(ctx)
	if err != nil {
		res.Err = err
		log.Error(ctx, "fetch failed", logger.Error(err))
		return res
	}
	res.Fetched = len(points)
	if len(points) == 0 {
		log.Warn(ctx, "no data points received")
		return res
	}

	src, err := s.store.GetOrCreateSource(ctx, SourceSpec{
		Name:        res.Source,
		Type:        a.DataType(),
		Description: a.Description(),
		Meta:        a.Metadata(),
	})
	if err != nil {
		res.Err = fmt.Errorf("get or create source: %w", err)
		log.Error(ctx, "source lookup failed", logger.Error(err))
		return res
	}

	saved, err := s.store.SavePoints(ctx, src.ID, points, a.UniqueKey())
	if err != nil {
		res.Err = fmt.Errorf("save points: %w", err)
		log.Error(ctx, "saving points failed", logger.Int64("source_id", src.ID), logger.Error(err))
		return res
	}
	res.Saved = saved
	s.metrics.AddSaved(res.Source, saved)
	s.metrics.AddSkipped(res.Source, len(points)-saved)

	log.Info(ctx, "saved data points",
		logger.Int("saved", saved),
		logger.Int("fetched", len(points)),
		logger.Int64("source_id", src.ID),
		logger.Duration("elapsed", time.Since(start)))
	return res
}

// FetchAll runs every registered adapter's cycle concurrently and waits for all of them.
func (s *Service) FetchAll(ctx context.Context) []CycleResult {
	adapters := s.registry.All()
	results := make([]CycleResult, len(adapters))

	var wg sync.WaitGroup
	for i, a := range adapters {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = s.FetchAndStore(ctx, a)
		}()
	}
	wg.Wait()
	return results
}

// Sources lists the persisted sources.
func (s *Service) Sources(ctx context.Context, enabledOnly bool) ([]*Source, error) {
	return s.store.ListSources(ctx, enabledOnly)
}

// QueryOptions selects the page and window of a Query. Hours of zero means no window.
type QueryOptions struct {
	Limit  int
	Offset int
	Hours  int
}

// Query builds the read model for one source: newest-first points, counts,
// period and aggregates.
func (s *Service) Query(ctx context.Context, name string, opts QueryOptions) (*DataView, error) {
	src, err := s.store.SourceByName(ctx, name)
	if err != nil {
		return nil, err
	}

	filter := PointFilter{SourceID: src.ID, Limit: opts.Limit, Offset: opts.Offset}
	if opts.Hours > 0 {
		filter.To = s.now().UTC()
		filter.From = filter.To.Add(-time.Duration(opts.Hours) * time.Hour)
	}

	rows, err := s.store.Points(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("load points: %w", err)
	}
	total, err := s.store.CountPoints(ctx, PointFilter{SourceID: src.ID, From: filter.From, To: filter.To})
	if err != nil {
		return nil, fmt.Errorf("count points: %w", err)
	}

	points := make([]Point, len(rows))
	for i, row := range rows {
		points[i] = row.Point()
	}

	view := &DataView{
		Source:        name,
		Type:          src.Type,
		Data:          points,
		Aggregates:    Aggregates{},
		FieldMetadata: map[string]FieldMetadata{},
		Period:        periodOf(points),
		TotalCount:    total,
		ReturnedCount: len(points),
	}
	if len(points) == 0 {
		return view, nil
	}

	fieldOpts := s.fieldOptions(name, src.Meta, points)
	view.Aggregates = AggregateWithOptions(points, fieldOpts, nil)
	for field, o := range fieldOpts {
		view.FieldMetadata[field] = o.metadata()
	}
	return view, nil
}

// fieldOptions merges the stored per-field schema with the fields known to be
// numeric: the live adapter's declaration, or auto-detection when none is registered.
func (s *Service) fieldOptions(name string, meta *Object, points []Point) map[string]FieldOptions {
	opts := ParseFieldOptions(meta)
	var numeric []string
	if a, ok := s.registry.Get(name); ok {
		numeric = a.NumericFields()
	} else {
		numeric = DetectNumericFields(points)
	}
	for _, field := range numeric {
		if _, ok := opts[field]; !ok {
			opts[field] = FieldOptions{}
		}
	}
	return opts
}

func periodOf(points []Point) Period {
	var p Period
	for i := range points {
		ts := points[i].Timestamp
		if p.From == nil || ts.Before(*p.From) {
			p.From = &ts
		}
		if p.To == nil || ts.After(*p.To) {
			p.To = &ts
		}
	}
	return p
}

// Prune deletes points older than maxAge across all sources and returns how many were removed.
func (s *Service) Prune(ctx context.Context, maxAge time.Duration) (int, error) {
	if maxAge <= 0 {
		return 0, nil
	}
	cutoff := s.now().UTC().Add(-maxAge)
	sources, err := s.store.ListSources(ctx, false)
	if err != nil {
		return 0, fmt.Errorf("list sources: %w", err)
	}
	total := 0
	for _, src := range sources {
		n, err := s.store.DeletePointsBefore(ctx, src.ID, cutoff)
		if err != nil {
			return total, fmt.Errorf("prune %s: %w", src.Name, err)
		}
		if n > 0 {
			s.log.Info(ctx, "pruned old data points", logger.String("source", src.Name), logger.Int("deleted", n))
		}
		total += n
	}
	s.metrics.AddPruned(total)
	return total, nil
}
