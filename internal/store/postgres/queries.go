package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/i474232898/data-aggregator/internal/common"
	"github.com/i474232898/data-aggregator/internal/data"
	"github.com/i474232898/data-aggregator/internal/store"
)

// sourceColumns is the column list used for SELECT statements on the sources table.
const sourceColumns = `id, name, type, description, enabled, meta, created_at`

// pointColumns is the column list used for SELECT statements on the data_points table.
const pointColumns = `id, source_id, timestamp, dedup_key, data, created_at`

// insertChunkSize bounds the rows per INSERT statement (4 parameters each).
const insertChunkSize = 1000

// executor is the interface satisfied by both *sql.DB and *sql.Tx.
type executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func querySourceByName(ctx context.Context, db executor, name string) (*data.Source, error) {
	row := db.QueryRowContext(ctx, `SELECT `+sourceColumns+` FROM sources WHERE name = $1`, name)
	src, err := scanSource(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", store.ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("get source %s: %w", name, err)
	}
	return src, nil
}

func queryListSources(ctx context.Context, db executor, enabledOnly bool) ([]*data.Source, error) {
	query := `SELECT ` + sourceColumns + ` FROM sources`
	if enabledOnly {
		query += ` WHERE enabled`
	}
	query += ` ORDER BY name`

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	defer rows.Close()

	out := []*data.Source{}
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, fmt.Errorf("scan source: %w", err)
		}
		out = append(out, src)
	}
	return out, rows.Err()
}

func queryCreateSource(ctx context.Context, db executor, src *data.Source) (*data.Source, error) {
	meta, err := metaBytes(src.Meta)
	if err != nil {
		return nil, err
	}
	row := db.QueryRowContext(ctx, `
		INSERT INTO sources (name, type, description, enabled, meta)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+sourceColumns,
		src.Name, string(src.Type), src.Description, src.Enabled, meta,
	)
	created, err := scanSource(row)
	if err != nil {
		return nil, mapError(err)
	}
	return created, nil
}

func queryUpdateSourceMeta(ctx context.Context, db executor, id int64, meta *data.Object) error {
	b, err := metaBytes(meta)
	if err != nil {
		return err
	}
	res, err := db.ExecContext(ctx, `UPDATE sources SET meta = $1 WHERE id = $2`, b, id)
	if err != nil {
		return fmt.Errorf("update source meta: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: id %d", store.ErrNotFound, id)
	}
	return nil
}

func queryInsertPoints(ctx context.Context, db executor, rows []*data.DataPoint) error {
	if len(rows) == 0 {
		return nil
	}

	var sb strings.Builder
	sb.WriteString(`INSERT INTO data_points (source_id, timestamp, dedup_key, data) VALUES `)
	args := make([]any, 0, len(rows)*4)
	for i, row := range rows {
		payload, err := row.Data.MarshalJSON()
		if err != nil {
			return fmt.Errorf("encode point %s: %w", row.DedupKey, err)
		}
		if i > 0 {
			sb.WriteString(", ")
		}
		n := len(args)
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d)", n+1, n+2, n+3, n+4)
		args = append(args, row.SourceID, data.NormalizeTimestamp(row.Timestamp), row.DedupKey, string(payload))
	}

	if _, err := db.ExecContext(ctx, sb.String(), args...); err != nil {
		return mapError(err)
	}
	return nil
}

// pointWhere renders the WHERE clause shared by point listing and counting.
func pointWhere(filter data.PointFilter) (string, []any) {
	clauses := []string{"source_id = $1"}
	args := []any{filter.SourceID}
	if !filter.From.IsZero() {
		args = append(args, filter.From.UTC())
		clauses = append(clauses, fmt.Sprintf("timestamp >= $%d", len(args)))
	}
	if !filter.To.IsZero() {
		args = append(args, filter.To.UTC())
		clauses = append(clauses, fmt.Sprintf("timestamp <= $%d", len(args)))
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func queryPoints(ctx context.Context, db executor, filter data.PointFilter) ([]*data.DataPoint, error) {
	where, args := pointWhere(filter)
	query := `SELECT ` + pointColumns + ` FROM data_points` + where + ` ORDER BY timestamp DESC, id`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list points: %w", err)
	}
	defer rows.Close()

	out := []*data.DataPoint{}
	for rows.Next() {
		dp, err := scanPoint(rows)
		if err != nil {
			return nil, fmt.Errorf("scan point: %w", err)
		}
		out = append(out, dp)
	}
	return out, rows.Err()
}

func queryCountPoints(ctx context.Context, db executor, filter data.PointFilter) (int, error) {
	where, args := pointWhere(filter)
	var n int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM data_points`+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count points: %w", err)
	}
	return n, nil
}

func queryDeletePointsBefore(ctx context.Context, db executor, sourceID int64, before time.Time) (int, error) {
	res, err := db.ExecContext(ctx, `DELETE FROM data_points WHERE source_id = $1 AND timestamp < $2`, sourceID, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete points: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(n), nil
}

func scanSource(row scanner) (*data.Source, error) {
	var (
		src  data.Source
		typ  string
		meta []byte
	)
	if err := row.Scan(&src.ID, &src.Name, &typ, &src.Description, &src.Enabled, &meta, &src.CreatedAt); err != nil {
		return nil, err
	}
	src.Type = data.DataType(typ)
	src.CreatedAt = src.CreatedAt.UTC()
	obj, err := decodeObject(meta)
	if err != nil {
		return nil, fmt.Errorf("decode meta of %s: %w", src.Name, err)
	}
	src.Meta = obj
	return &src, nil
}

func scanPoint(row scanner) (*data.DataPoint, error) {
	var (
		dp      data.DataPoint
		payload []byte
	)
	if err := row.Scan(&dp.ID, &dp.SourceID, &dp.Timestamp, &dp.DedupKey, &payload, &dp.CreatedAt); err != nil {
		return nil, err
	}
	dp.Timestamp = dp.Timestamp.UTC()
	dp.CreatedAt = dp.CreatedAt.UTC()
	obj, err := decodeObject(payload)
	if err != nil {
		return nil, fmt.Errorf("decode point %d: %w", dp.ID, err)
	}
	if obj == nil {
		obj = data.NewObject()
	}
	dp.Data = obj
	return &dp, nil
}

// metaBytes encodes metadata for a json column; empty metadata is stored as NULL.
func metaBytes(meta *data.Object) (any, error) {
	if meta.Len() == 0 {
		return nil, nil
	}
	b, err := meta.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("encode meta: %w", err)
	}
	return string(b), nil
}

func decodeObject(b []byte) (*data.Object, error) {
	if len(b) == 0 || string(b) == "null" {
		return nil, nil
	}
	var obj data.Object
	if err := obj.UnmarshalJSON(b); err != nil {
		return nil, err
	}
	return &obj, nil
}

func isUniqueViolationMessage(msg string) bool {
	return common.ContainsAny(msg, "duplicate key value", "unique constraint")
}
