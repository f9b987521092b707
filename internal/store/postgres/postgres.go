// Package postgres implements the store.Backend interface backed by PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/lib/pq"

	"github.com/i474232898/data-aggregator/internal/data"
	"github.com/i474232898/data-aggregator/internal/store"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresStore implements store.Backend backed by a PostgreSQL database.
type PostgresStore struct {
	db *sql.DB
}

// Compile-time check that PostgresStore implements store.Backend.
var _ store.Backend = (*PostgresStore)(nil)

// New opens a connection to the PostgreSQL database at the given URL,
// configures the connection pool, and runs any pending migrations.
func New(databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// NewWithDB wraps an open database without running migrations.
func NewWithDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func runMigrations(db *sql.DB) error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	dbDriver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration db driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "postgres", dbDriver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}

	return nil
}

// Close closes the underlying database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) SourceByName(ctx context.Context, name string) (*data.Source, error) {
	return querySourceByName(ctx, s.db, name)
}

func (s *PostgresStore) ListSources(ctx context.Context, enabledOnly bool) ([]*data.Source, error) {
	return queryListSources(ctx, s.db, enabledOnly)
}

func (s *PostgresStore) CreateSource(ctx context.Context, src *data.Source) (*data.Source, error) {
	return queryCreateSource(ctx, s.db, src)
}

func (s *PostgresStore) UpdateSourceMeta(ctx context.Context, id int64, meta *data.Object) error {
	return queryUpdateSourceMeta(ctx, s.db, id, meta)
}

// InsertPoints writes rows in one transaction; a uniqueness violation rolls back the whole batch.
func (s *PostgresStore) InsertPoints(ctx context.Context, rows []*data.DataPoint) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	for start := 0; start < len(rows); start += insertChunkSize {
		end := min(start+insertChunkSize, len(rows))
		if err := queryInsertPoints(ctx, tx, rows[start:end]); err != nil {
			_ = tx.Rollback()
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", mapError(err))
	}
	return nil
}

func (s *PostgresStore) InsertPoint(ctx context.Context, row *data.DataPoint) error {
	return queryInsertPoints(ctx, s.db, []*data.DataPoint{row})
}

func (s *PostgresStore) Points(ctx context.Context, filter data.PointFilter) ([]*data.DataPoint, error) {
	return queryPoints(ctx, s.db, filter)
}

func (s *PostgresStore) CountPoints(ctx context.Context, filter data.PointFilter) (int, error) {
	return queryCountPoints(ctx, s.db, filter)
}

func (s *PostgresStore) AllPoints(ctx context.Context, sourceID int64) ([]*data.DataPoint, error) {
	return queryPoints(ctx, s.db, data.PointFilter{SourceID: sourceID})
}

func (s *PostgresStore) DeletePointsBefore(ctx context.Context, sourceID int64, before time.Time) (int, error) {
	return queryDeletePointsBefore(ctx, s.db, sourceID, before)
}

// uniqueViolation is the SQLSTATE of a unique constraint violation.
const uniqueViolation = "23505"

// mapError translates driver errors into store sentinels.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s", store.ErrConflict, pqErr.Constraint)
	}
	if isUniqueViolationMessage(err.Error()) {
		return fmt.Errorf("%w: %v", store.ErrConflict, err)
	}
	return err
}
