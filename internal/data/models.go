package data

import (
	"encoding/json"
	"time"
)

// DataType is the coarse cadence of a source.
type DataType string

const (
	DataTypeHourly DataType = "hourly"
	DataTypeDaily  DataType = "daily"
)

// Point is one normalized observation as produced by an adapter.
// Timestamp may be zero when the point carries its time inside Fields.
type Point struct {
	Timestamp time.Time
	Fields    *Object
}

// NewPoint returns a point at ts with no fields.
func NewPoint(ts time.Time) Point {
	return Point{Timestamp: ts, Fields: NewObject()}
}

// Get returns a field value.
func (p Point) Get(field string) (Value, bool) {
	return p.Fields.Get(field)
}

// MarshalJSON renders the point as a flat object with "timestamp" first.
func (p Point) MarshalJSON() ([]byte, error) {
	out := NewObject()
	if !p.Timestamp.IsZero() {
		out.Set(TimestampField, String(FormatTimestamp(p.Timestamp)))
	}
	p.Fields.Range(func(k string, v Value) bool {
		if k != TimestampField || p.Timestamp.IsZero() {
			out.Set(k, v)
		}
		return true
	})
	return out.MarshalJSON()
}

// TimestampField is the reserved field name for a point's time.
const TimestampField = "timestamp"

// Source is the persisted identity and metadata of one feed.
type Source struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Type        DataType  `json:"type"`
	Description string    `json:"description,omitempty"`
	Enabled     bool      `json:"enabled"`
	Meta        *Object   `json:"meta"`
	CreatedAt   time.Time `json:"created_at"`
}

// SourceSpec describes the source a fetch cycle writes into.
type SourceSpec struct {
	Name        string
	Type        DataType
	Description string
	Meta        *Object
}

// DataPoint is a stored observation.
type DataPoint struct {
	ID        int64
	SourceID  int64
	Timestamp time.Time
	// DedupKey is the value the storage uniqueness constraint applies to, scoped by SourceID.
	DedupKey  string
	Data      *Object
	CreatedAt time.Time
}

// Point converts the stored row back into its ingestion shape.
func (dp *DataPoint) Point() Point {
	return Point{Timestamp: dp.Timestamp, Fields: dp.Data}
}

// PointFilter selects stored points of one source. Zero From/To are unbounded,
// zero Limit means no limit.
type PointFilter struct {
	SourceID int64
	From     time.Time
	To       time.Time
	Limit    int
	Offset   int
}

// Contains reports whether ts falls inside the filter's bounds (inclusive).
func (f PointFilter) Contains(ts time.Time) bool {
	if !f.From.IsZero() && ts.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && ts.After(f.To) {
		return false
	}
	return true
}

// FieldOptions is the per-field schema carried in a source's metadata under "fields".
type FieldOptions struct {
	Unit        string   `json:"unit,omitempty"`
	Format      string   `json:"format,omitempty"`
	Aggregates  []string `json:"aggregates,omitempty"`
	DisplayName string   `json:"display_name,omitempty"`
}

// FieldMetadata is the read-model view of FieldOptions; absent values render as null.
type FieldMetadata struct {
	Unit        *string  `json:"unit"`
	Format      *string  `json:"format"`
	Aggregates  []string `json:"aggregates"`
	DisplayName *string  `json:"display_name"`
}

// ParseFieldOptions reads meta["fields"]. Entries that are not objects yield empty options.
func ParseFieldOptions(meta *Object) map[string]FieldOptions {
	out := make(map[string]FieldOptions)
	fields, ok := meta.Get("fields")
	if !ok {
		return out
	}
	obj, ok := fields.AsObject()
	if !ok {
		return out
	}
	obj.Range(func(name string, v Value) bool {
		var opts FieldOptions
		if spec, ok := v.AsObject(); ok {
			opts.Unit = stringField(spec, "unit")
			opts.Format = stringField(spec, "format")
			opts.DisplayName = stringField(spec, "display_name")
			if aggs, ok := spec.Get("aggregates"); ok {
				items, _ := aggs.AsArray()
				for _, item := range items {
					if s, ok := item.AsString(); ok {
						opts.Aggregates = append(opts.Aggregates, s)
					}
				}
			}
		}
		out[name] = opts
		return true
	})
	return out
}

func stringField(o *Object, key string) string {
	v, _ := o.Get(key)
	s, _ := v.AsString()
	return s
}

func (o FieldOptions) metadata() FieldMetadata {
	opt := func(s string) *string {
		if s == "" {
			return nil
		}
		return &s
	}
	return FieldMetadata{
		Unit:        opt(o.Unit),
		Format:      opt(o.Format),
		Aggregates:  o.Aggregates,
		DisplayName: opt(o.DisplayName),
	}
}

// Period is the time range covered by a result set.
type Period struct {
	From *time.Time `json:"from"`
	To   *time.Time `json:"to"`
}

// DataView is the query-time read model of one source.
type DataView struct {
	Source        string                   `json:"source"`
	Type          DataType                 `json:"type"`
	Data          []Point                  `json:"data"`
	Aggregates    Aggregates               `json:"aggregates"`
	FieldMetadata map[string]FieldMetadata `json:"field_metadata"`
	Period        Period                   `json:"period"`
	TotalCount    int                      `json:"total_count"`
	ReturnedCount int                      `json:"returned_count"`
}

var _ json.Marshaler = Point{}
