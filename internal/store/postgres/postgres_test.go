package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"

	"github.com/i474232898/data-aggregator/internal/data"
	"github.com/i474232898/data-aggregator/internal/store"
)

// newMockDB creates a sqlmock database with automatic cleanup and expectation checking.
func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unfulfilled expectations: %v", err)
		}
		db.Close()
	})
	return db, mock
}

var sourceRowColumns = []string{"id", "name", "type", "description", "enabled", "meta", "created_at"}

var pointRowColumns = []string{"id", "source_id", "timestamp", "dedup_key", "data", "created_at"}

func TestSourceByName(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewWithDB(db)
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.FixedZone("CET", 3600))

	mock.ExpectQuery("SELECT .+ FROM sources WHERE name = \\$1").WithArgs("openmeteo").
		WillReturnRows(sqlmock.NewRows(sourceRowColumns).
			AddRow(1, "openmeteo", "hourly", "Vienna forecast", true, []byte(`{"location":{"city":"Vienna"},"fields":{}}`), now))

	src, err := s.SourceByName(context.Background(), "openmeteo")
	if err != nil {
		t.Fatalf("SourceByName: %v", err)
	}
	if src.ID != 1 || src.Type != data.DataTypeHourly || !src.Enabled {
		t.Errorf("unexpected source %+v", src)
	}
	if keys := src.Meta.Keys(); len(keys) != 2 || keys[0] != "location" {
		t.Errorf("meta keys = %v", keys)
	}
	if src.CreatedAt.Location() != time.UTC {
		t.Errorf("created_at must be UTC, got %v", src.CreatedAt.Location())
	}
}

func TestSourceByNameNotFound(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewWithDB(db)

	mock.ExpectQuery("SELECT .+ FROM sources WHERE name = \\$1").WithArgs("nope").
		WillReturnRows(sqlmock.NewRows(sourceRowColumns))

	if _, err := s.SourceByName(context.Background(), "nope"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListSourcesEnabledOnly(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewWithDB(db)
	now := time.Now()

	mock.ExpectQuery("SELECT .+ FROM sources WHERE enabled ORDER BY name").
		WillReturnRows(sqlmock.NewRows(sourceRowColumns).
			AddRow(2, "coincap", "hourly", "", true, nil, now).
			AddRow(1, "openmeteo", "hourly", "", true, nil, now))

	got, err := s.ListSources(context.Background(), true)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Name != "coincap" || got[0].Meta != nil {
		t.Errorf("unexpected sources %+v", got)
	}
}

func TestCreateSourceConflict(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewWithDB(db)

	mock.ExpectQuery("INSERT INTO sources").
		WithArgs("openmeteo", "hourly", "", true, nil).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "sources_name_key"})

	_, err := s.CreateSource(context.Background(), &data.Source{Name: "openmeteo", Type: data.DataTypeHourly, Enabled: true})
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestCreateSourceEncodesMeta(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewWithDB(db)
	now := time.Now()

	meta := data.NewObject()
	meta.Set("location", data.String("Vienna"))

	mock.ExpectQuery("INSERT INTO sources").
		WithArgs("openmeteo", "hourly", "forecast", true, `{"location":"Vienna"}`).
		WillReturnRows(sqlmock.NewRows(sourceRowColumns).
			AddRow(7, "openmeteo", "hourly", "forecast", true, []byte(`{"location":"Vienna"}`), now))

	src, err := s.CreateSource(context.Background(), &data.Source{
		Name: "openmeteo", Type: data.DataTypeHourly, Description: "forecast", Enabled: true, Meta: meta,
	})
	if err != nil {
		t.Fatal(err)
	}
	if src.ID != 7 {
		t.Errorf("id = %d", src.ID)
	}
}

func TestInsertPointsRollsBackOnConflict(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewWithDB(db)
	ts := time.Date(2025, 10, 7, 10, 0, 0, 0, time.UTC)

	rows := []*data.DataPoint{
		{SourceID: 1, Timestamp: ts, DedupKey: "ts:2025-10-07T10:00:00Z", Data: data.NewObject()},
		{SourceID: 1, Timestamp: ts.Add(time.Hour), DedupKey: "ts:2025-10-07T11:00:00Z", Data: data.NewObject()},
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO data_points \\(source_id, timestamp, dedup_key, data\\) VALUES \\(\\$1, \\$2, \\$3, \\$4\\), \\(\\$5, \\$6, \\$7, \\$8\\)").
		WithArgs(int64(1), ts, rows[0].DedupKey, "{}", int64(1), ts.Add(time.Hour), rows[1].DedupKey, "{}").
		WillReturnError(&pq.Error{Code: "23505", Constraint: "uq_data_points_source_key"})
	mock.ExpectRollback()

	if err := s.InsertPoints(context.Background(), rows); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestInsertPointsCommits(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewWithDB(db)
	ts := time.Date(2025, 10, 7, 10, 0, 0, 0, time.UTC)

	payload := data.NewObject()
	payload.Set("temperature", data.Number(20.5))

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO data_points").
		WithArgs(int64(3), ts, "ts:2025-10-07T10:00:00Z", `{"temperature":20.5}`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := s.InsertPoints(context.Background(), []*data.DataPoint{
		{SourceID: 3, Timestamp: ts.Add(400 * time.Millisecond), DedupKey: "ts:2025-10-07T10:00:00Z", Data: payload},
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestInsertPointMessageFallback(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewWithDB(db)

	mock.ExpectExec("INSERT INTO data_points").
		WillReturnError(errors.New(`pq: duplicate key value violates unique constraint "uq_data_points_source_key"`))

	err := s.InsertPoint(context.Background(), &data.DataPoint{SourceID: 1, Timestamp: time.Now(), DedupKey: "k", Data: data.NewObject()})
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestPointsQueryBuildsFilter(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewWithDB(db)
	from := time.Date(2025, 10, 7, 0, 0, 0, 0, time.UTC)
	to := from.Add(24 * time.Hour)

	mock.ExpectQuery("SELECT .+ FROM data_points WHERE source_id = \\$1 AND timestamp >= \\$2 AND timestamp <= \\$3 ORDER BY timestamp DESC, id LIMIT \\$4 OFFSET \\$5").
		WithArgs(int64(1), from, to, 10, 20).
		WillReturnRows(sqlmock.NewRows(pointRowColumns).
			AddRow(5, 1, to, "ts:x", []byte(`{"b":1,"a":"x"}`), to))

	got, err := s.Points(context.Background(), data.PointFilter{SourceID: 1, From: from, To: to, Limit: 10, Offset: 20})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 point, got %d", len(got))
	}
	if keys := got[0].Data.Keys(); keys[0] != "b" || keys[1] != "a" {
		t.Errorf("payload order lost: %v", keys)
	}
}

func TestCountAndDelete(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewWithDB(db)
	before := time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM data_points WHERE source_id = \\$1").
		WithArgs(int64(4)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(42))
	mock.ExpectExec("DELETE FROM data_points WHERE source_id = \\$1 AND timestamp < \\$2").
		WithArgs(int64(4), before).
		WillReturnResult(sqlmock.NewResult(0, 12))

	n, err := s.CountPoints(context.Background(), data.PointFilter{SourceID: 4})
	if err != nil || n != 42 {
		t.Fatalf("count = %d, err = %v", n, err)
	}
	deleted, err := s.DeletePointsBefore(context.Background(), 4, before)
	if err != nil || deleted != 12 {
		t.Fatalf("deleted = %d, err = %v", deleted, err)
	}
}

func TestUpdateSourceMetaMissing(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewWithDB(db)

	mock.ExpectExec("UPDATE sources SET meta = \\$1 WHERE id = \\$2").
		WithArgs(nil, int64(9)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := s.UpdateSourceMeta(context.Background(), 9, nil); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMapError(t *testing.T) {
	for _, tc := range []struct {
		err      error
		conflict bool
	}{
		{&pq.Error{Code: "23505"}, true},
		{fmt.Errorf("wrapped: %w", &pq.Error{Code: "23505"}), true},
		{&pq.Error{Code: "23503"}, false},
		{errors.New("connection reset"), false},
	} {
		if got := errors.Is(mapError(tc.err), store.ErrConflict); got != tc.conflict {
			t.Errorf("mapError(%v) conflict = %v, want %v", tc.err, got, tc.conflict)
		}
	}
	if mapError(nil) != nil {
		t.Error("mapError(nil) should be nil")
	}
}
