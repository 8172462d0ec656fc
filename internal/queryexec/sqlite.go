// Package queryexec provides a local SQLite-backed query executor for
// offline previews and backtests. The production deployment points the
// preview engine at the remote query service instead; this implementation
// exists so templates can be exercised against a local snapshot without
// network access.
package queryexec

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/klaxonhq/klaxon/internal/preview"
)

// SQLite executes catalog SQL against a local SQLite database.
type SQLite struct {
	db *sql.DB
}

// compile-time interface check
var _ preview.QueryExecutor = (*SQLite)(nil)

// Open opens (or creates) a SQLite database at path. Use ":memory:" for
// an ephemeral database in tests.
func Open(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	// SQLite supports one writer at a time; a single connection avoids
	// SQLITE_BUSY under concurrent preview fetches.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}
	return &SQLite{db: db}, nil
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for fixture loading in tests.
func (s *SQLite) DB() *sql.DB {
	return s.db
}

// Query runs the request's SQL with its positional parameters and scans
// the result into rows. List-typed parameters arrive as JSON text; catalog
// SQL written for this executor unpacks them with json_each.
func (s *SQLite) Query(ctx context.Context, req preview.QueryRequest) ([]preview.Row, error) {
	if req.TimeoutSecs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(req.TimeoutSecs)*time.Second)
		defer cancel()
	}

	args := make([]any, 0, len(req.Params))
	for i, p := range req.Params {
		arg, err := p.Arg()
		if err != nil {
			return nil, fmt.Errorf("parameter %d: %w", i, err)
		}
		args = append(args, arg)
	}

	rows, err := s.db.QueryContext(ctx, req.SQL, args...)
	if err != nil {
		return nil, fmt.Errorf("execute query: %w", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("get columns: %w", err)
	}

	var out []preview.Row
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}

		row := make(preview.Row, len(columns))
		for i, col := range columns {
			row[col] = normalizeValue(values[i])
		}
		out = append(out, row)

		if req.Limit > 0 && len(out) >= req.Limit {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return out, nil
}

// normalizeValue maps database/sql scan results onto the plain JSON value
// set the evaluator consumes.
func normalizeValue(v any) any {
	switch val := v.(type) {
	case []byte:
		return string(val)
	case time.Time:
		return val.UnixMilli()
	default:
		return v
	}
}
