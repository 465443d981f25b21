package db

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

// SQLite wraps a database/sql handle backed by the pure-Go modernc driver.
type SQLite struct {
	DB *sql.DB
}

// OpenSQLite opens the database file at path. ":memory:" is held on a single
// connection so every query sees the same database.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite database path is required")
	}
	handle, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	if path == ":memory:" {
		handle.SetMaxOpenConns(1)
	}
	if err := handle.PingContext(ctx); err != nil {
		_ = handle.Close()
		return nil, unavailable("sqlite", fmt.Errorf("failed to ping database: %w", err))
	}
	return &SQLite{DB: handle}, nil
}

// Exec runs a statement without rows, used to prepare fixtures.
func (s *SQLite) Exec(ctx context.Context, stmt string, args ...any) error {
	if _, err := s.DB.ExecContext(ctx, stmt, args...); err != nil {
		if s.unreachable(ctx, err) {
			return unavailable("sqlite", err)
		}
		return fmt.Errorf("exec: %w", err)
	}
	return nil
}

// Query runs stmt and returns a cursor over the raw column values.
func (s *SQLite) Query(ctx context.Context, stmt string, args ...any) (Rows, error) {
	rows, err := s.DB.QueryContext(ctx, stmt, args...)
	if err != nil {
		if s.unreachable(ctx, err) {
			return nil, unavailable("sqlite", err)
		}
		return nil, err
	}
	cols, err := rows.Columns()
	if err != nil {
		_ = rows.Close()
		return nil, err
	}
	return &sqliteRows{rows: rows, width: len(cols)}, nil
}

// unreachable reports whether err came from a handle that can no longer serve
// queries, such as a closed database. A statement error on a healthy handle
// still pings fine.
func (s *SQLite) unreachable(ctx context.Context, err error) bool {
	if errors.Is(err, sql.ErrConnDone) || errors.Is(err, driver.ErrBadConn) {
		return true
	}
	if ctx.Err() != nil {
		return false
	}
	return s.DB.PingContext(ctx) != nil
}

// Close closes the database handle.
func (s *SQLite) Close() {
	if s.DB != nil {
		_ = s.DB.Close()
	}
}

type sqliteRows struct {
	rows  *sql.Rows
	width int
	err   error
}

func (r *sqliteRows) Next() bool { return r.err == nil && r.rows.Next() }

func (r *sqliteRows) Values() ([]any, error) {
	values := make([]any, r.width)
	ptrs := make([]any, r.width)
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := r.rows.Scan(ptrs...); err != nil {
		r.err = err
		return nil, err
	}
	return values, nil
}

func (r *sqliteRows) Err() error {
	if r.err != nil {
		return r.err
	}
	return r.rows.Err()
}

func (r *sqliteRows) Close() {
	if err := r.rows.Close(); err != nil && r.err == nil {
		r.err = err
	}
}
