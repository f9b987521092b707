// Package store persists sources and data points with idempotent, deduplicated ingestion.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/i474232898/data-aggregator/internal/data"
)

var (
	// ErrNotFound is returned when a source does not exist.
	ErrNotFound = errors.New("source not found")
	// ErrConflict is returned by a Backend when a write violates a uniqueness constraint.
	ErrConflict = errors.New("unique constraint violation")
)

// Backend is the CRUD surface a storage engine provides. Implementations must
// enforce uniqueness of (SourceID, DedupKey) on points and of Name on sources.
type Backend interface {
	SourceByName(ctx context.Context, name string) (*data.Source, error)
	ListSources(ctx context.Context, enabledOnly bool) ([]*data.Source, error)
	// CreateSource assigns ID and CreatedAt. A taken name yields ErrConflict.
	CreateSource(ctx context.Context, src *data.Source) (*data.Source, error)
	UpdateSourceMeta(ctx context.Context, id int64, meta *data.Object) error

	// InsertPoints writes all rows or none; any uniqueness violation yields ErrConflict.
	InsertPoints(ctx context.Context, rows []*data.DataPoint) error
	InsertPoint(ctx context.Context, row *data.DataPoint) error

	// Points returns rows newest first.
	Points(ctx context.Context, filter data.PointFilter) ([]*data.DataPoint, error)
	CountPoints(ctx context.Context, filter data.PointFilter) (int, error)
	// AllPoints returns every row of a source, in no particular order.
	AllPoints(ctx context.Context, sourceID int64) ([]*data.DataPoint, error)
	DeletePointsBefore(ctx context.Context, sourceID int64, before time.Time) (int, error)
}
