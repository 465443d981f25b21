package db

import (
	"context"
	"fmt"
	"strings"
)

// Querier is the read-only surface executors need from a database.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (Rows, error)
	Close()
}

// Rows is a cursor over raw column values in select-list order.
type Rows interface {
	Next() bool
	Values() ([]any, error)
	Err() error
	Close()
}

// Open connects to the database selected by config.Driver.
func Open(ctx context.Context, config Config) (Querier, error) {
	switch strings.ToLower(config.Driver) {
	case "", "postgres", "postgresql", "pgx":
		return NewConnection(ctx, config)
	case "sqlite", "sqlite3":
		return OpenSQLite(ctx, config.Path)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", config.Driver)
	}
}
