package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/i474232898/data-aggregator/internal/common"
	"github.com/i474232898/data-aggregator/internal/data"
	"github.com/i474232898/data-aggregator/internal/metrics"
	"github.com/i474232898/data-aggregator/pkg/logger"
)

// Dedup key prefixes. Timestamp-deduplicated rows carry "ts:<RFC3339>", key-deduplicated
// rows carry "key:<normalized value>", so both policies share one uniqueness constraint.
const (
	timestampKeyPrefix = "ts:"
	fieldKeyPrefix     = "key:"
)

// Repository implements data.Store on top of a Backend.
//
// Without a unique key (or with unique key "timestamp") points are deduplicated
// by their second-truncated UTC timestamp. Otherwise the key, a dotted path or a
// comma-separated list of paths, is resolved on every point and compared against
// the keys of all stored points of the source.
type Repository struct {
	backend Backend
	log     logger.Logger
	metrics *metrics.Manager
}

var _ data.Store = (*Repository)(nil)

// Option configures a Repository.
type Option func(*Repository)

func WithLogger(l logger.Logger) Option {
	return func(r *Repository) {
		if l != nil {
			r.log = l
		}
	}
}

func WithMetrics(m *metrics.Manager) Option {
	return func(r *Repository) { r.metrics = m }
}

// NewRepository creates a Repository over backend.
func NewRepository(backend Backend, opts ...Option) *Repository {
	r := &Repository{backend: backend, log: logger.Named("repository")}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Repository) SourceByName(ctx context.Context, name string) (*data.Source, error) {
	return r.backend.SourceByName(ctx, name)
}

func (r *Repository) ListSources(ctx context.Context, enabledOnly bool) ([]*data.Source, error) {
	return r.backend.ListSources(ctx, enabledOnly)
}

// GetOrCreateSource returns the source named spec.Name, creating it when missing.
// A non-empty spec.Meta that differs from the stored metadata replaces it wholesale.
func (r *Repository) GetOrCreateSource(ctx context.Context, spec data.SourceSpec) (*data.Source, error) {
	src, err := r.backend.SourceByName(ctx, spec.Name)
	if errors.Is(err, ErrNotFound) {
		created, cerr := r.backend.CreateSource(ctx, newSource(spec))
		if cerr == nil {
			r.log.Info(ctx, "created source", logger.String("source", created.Name), logger.Int64("source_id", created.ID))
			return created, nil
		}
		if !errors.Is(cerr, ErrConflict) {
			return nil, fmt.Errorf("create source %s: %w", spec.Name, cerr)
		}
		// Lost a creation race; the winner's row is authoritative.
		src, err = r.backend.SourceByName(ctx, spec.Name)
	}
	if err != nil {
		return nil, fmt.Errorf("load source %s: %w", spec.Name, err)
	}

	if spec.Meta.Len() > 0 && !data.Equal(data.ObjectValue(spec.Meta), data.ObjectValue(src.Meta)) {
		meta := spec.Meta.Clone()
		if err := r.backend.UpdateSourceMeta(ctx, src.ID, meta); err != nil {
			return nil, fmt.Errorf("update source %s metadata: %w", spec.Name, err)
		}
		src.Meta = meta
		r.log.Debug(ctx, "replaced source metadata", logger.String("source", src.Name))
	}
	return src, nil
}

func newSource(spec data.SourceSpec) *data.Source {
	typ := spec.Type
	if typ == "" {
		typ = data.DataTypeHourly
	}
	return &data.Source{
		Name:        spec.Name,
		Type:        typ,
		Description: spec.Description,
		Enabled:     true,
		Meta:        spec.Meta.Clone(),
	}
}

// SavePoints persists points for a source and returns how many were written.
// Points without a resolvable timestamp or key are dropped; duplicates are skipped.
func (r *Repository) SavePoints(ctx context.Context, sourceID int64, points []data.Point, uniqueKey string) (int, error) {
	if len(points) == 0 {
		return 0, nil
	}

	var rows []*data.DataPoint
	if isTimestampKey(uniqueKey) {
		rows = r.rowsByTimestamp(ctx, sourceID, points)
	} else {
		var err error
		rows, err = r.rowsByKey(ctx, sourceID, points, splitKey(uniqueKey))
		if err != nil {
			return 0, err
		}
	}
	if len(rows) == 0 {
		return 0, nil
	}
	return r.insert(ctx, sourceID, rows)
}

// rowsByTimestamp keeps the first point of every distinct timestamp in the batch.
// Stored duplicates are left to the uniqueness constraint.
func (r *Repository) rowsByTimestamp(ctx context.Context, sourceID int64, points []data.Point) []*data.DataPoint {
	seen := make(map[string]bool, len(points))
	rows := make([]*data.DataPoint, 0, len(points))
	for i, p := range points {
		ts, ok := pointTimestamp(p.Timestamp, p.Fields)
		if !ok {
			r.log.Debug(ctx, "dropping point without timestamp", logger.Int64("source_id", sourceID), logger.Int("index", i))
			continue
		}
		key := timestampKeyPrefix + data.FormatTimestamp(ts)
		if seen[key] {
			continue
		}
		seen[key] = true
		rows = append(rows, newRow(sourceID, ts, key, p.Fields))
	}
	return rows
}

// rowsByKey rejects points whose key is already stored for the source or was
// accepted earlier in the batch.
func (r *Repository) rowsByKey(ctx context.Context, sourceID int64, points []data.Point, paths []string) ([]*data.DataPoint, error) {
	existing, err := r.backend.AllPoints(ctx, sourceID)
	if err != nil {
		return nil, fmt.Errorf("load existing points: %w", err)
	}
	seen := make(map[string]bool, len(existing)+len(points))
	for _, row := range existing {
		if key, ok := dedupKey(row.Timestamp, row.Data, paths); ok {
			seen[key] = true
		}
	}

	rows := make([]*data.DataPoint, 0, len(points))
	for i, p := range points {
		key, ok := dedupKey(p.Timestamp, p.Fields, paths)
		if !ok {
			r.log.Debug(ctx, "dropping point without unique key value",
				logger.Int64("source_id", sourceID), logger.Int("index", i), logger.String("unique_key", strings.Join(paths, ",")))
			continue
		}
		ts, ok := pointTimestamp(p.Timestamp, p.Fields)
		if !ok {
			ts, ok = timestampFromPaths(p.Fields, paths)
		}
		if !ok {
			r.log.Debug(ctx, "dropping point without timestamp", logger.Int64("source_id", sourceID), logger.Int("index", i))
			continue
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		rows = append(rows, newRow(sourceID, ts, key, p.Fields))
	}
	return rows, nil
}

// insert tries one atomic bulk write and falls back to row-by-row inserts,
// skipping conflicting rows, when the bulk write hits the uniqueness constraint.
func (r *Repository) insert(ctx context.Context, sourceID int64, rows []*data.DataPoint) (int, error) {
	err := r.backend.InsertPoints(ctx, rows)
	if err == nil {
		return len(rows), nil
	}
	if !errors.Is(err, ErrConflict) {
		return 0, fmt.Errorf("insert points: %w", err)
	}

	r.metrics.IncBulkFallback(strconv.FormatInt(sourceID, 10))
	r.log.Debug(ctx, "bulk insert conflicted, inserting row by row",
		logger.Int64("source_id", sourceID), logger.Int("rows", len(rows)))

	saved := 0
	for _, row := range rows {
		err := r.backend.InsertPoint(ctx, row)
		switch {
		case err == nil:
			saved++
		case errors.Is(err, ErrConflict):
			r.log.Debug(ctx, "skipping duplicate point", logger.Int64("source_id", sourceID), logger.String("dedup_key", row.DedupKey))
		default:
			return saved, fmt.Errorf("insert point: %w", err)
		}
	}
	return saved, nil
}

func (r *Repository) Points(ctx context.Context, filter data.PointFilter) ([]*data.DataPoint, error) {
	return r.backend.Points(ctx, normalizeFilter(filter))
}

func (r *Repository) CountPoints(ctx context.Context, filter data.PointFilter) (int, error) {
	return r.backend.CountPoints(ctx, normalizeFilter(filter))
}

func (r *Repository) DeletePointsBefore(ctx context.Context, sourceID int64, before time.Time) (int, error) {
	return r.backend.DeletePointsBefore(ctx, sourceID, before.UTC())
}

func normalizeFilter(f data.PointFilter) data.PointFilter {
	if !f.From.IsZero() {
		f.From = f.From.UTC()
	}
	if !f.To.IsZero() {
		f.To = f.To.UTC()
	}
	return f
}

func isTimestampKey(key string) bool {
	key = strings.TrimSpace(key)
	return key == "" || key == data.TimestampField
}

func splitKey(key string) []string {
	return common.SplitList(key, ",")
}

// pointTimestamp prefers the explicit timestamp and falls back to a parseable
// "timestamp" field.
func pointTimestamp(ts time.Time, fields *data.Object) (time.Time, bool) {
	if !ts.IsZero() {
		return data.NormalizeTimestamp(ts), true
	}
	v, ok := fields.Get(data.TimestampField)
	if !ok {
		return time.Time{}, false
	}
	return data.TimestampOf(v)
}

func timestampFromPaths(fields *data.Object, paths []string) (time.Time, bool) {
	for _, path := range paths {
		if v, ok := data.ResolvePath(fields, path); ok {
			if ts, ok := data.TimestampOf(v); ok {
				return ts, true
			}
		}
	}
	return time.Time{}, false
}

// dedupKey resolves paths against a point and renders the normalized key.
// Absent and null values yield false; such points cannot be deduplicated.
func dedupKey(ts time.Time, fields *data.Object, paths []string) (string, bool) {
	parts := make([]data.Value, 0, len(paths))
	for _, path := range paths {
		var v data.Value
		var ok bool
		if path == data.TimestampField {
			var t time.Time
			if t, ok = pointTimestamp(ts, fields); ok {
				v = data.String(data.FormatTimestamp(t))
			}
		} else {
			v, ok = data.ResolvePath(fields, path)
		}
		if !ok || v.IsNull() {
			return "", false
		}
		parts = append(parts, data.String(normalizeKey(v)))
	}
	switch len(parts) {
	case 0:
		return "", false
	case 1:
		s, _ := parts[0].AsString()
		return fieldKeyPrefix + s, true
	default:
		return fieldKeyPrefix + data.Canonical(data.Array(parts...)), true
	}
}

// normalizeKey renders v so that equal values compare equal and values of
// different kinds never collide. Composites use canonical JSON.
func normalizeKey(v data.Value) string {
	switch v.Kind() {
	case data.KindString:
		s, _ := v.AsString()
		return "s:" + s
	case data.KindNumber:
		n, _ := v.AsNumber()
		return "n:" + strconv.FormatFloat(n, 'g', -1, 64)
	case data.KindBool:
		b, _ := v.AsBool()
		return "b:" + strconv.FormatBool(b)
	default:
		return "j:" + data.Canonical(v)
	}
}

func newRow(sourceID int64, ts time.Time, key string, fields *data.Object) *data.DataPoint {
	payload := fields.Clone()
	payload.Delete(data.TimestampField)
	return &data.DataPoint{
		SourceID:  sourceID,
		Timestamp: ts,
		DedupKey:  key,
		Data:      payload,
	}
}
