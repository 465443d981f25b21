package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rpattn/querykit/internal/query"
)

// Config holds database configuration
type Config struct {
	Driver   string
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	// Path is the SQLite database file; ":memory:" opens a private in-memory database.
	Path string
}

// DSN renders the Postgres connection string.
func (c Config) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

// Connection wraps the Postgres connection pool
type Connection struct {
	Pool *pgxpool.Pool
}

// NewConnection creates a new database connection
func NewConnection(ctx context.Context, config Config) (*Connection, error) {
	poolConfig, err := pgxpool.ParseConfig(config.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	// Read-only workload; keep the pool small.
	poolConfig.MaxConns = 5
	poolConfig.MinConns = 1
	poolConfig.MaxConnLifetime = time.Minute * 30
	poolConfig.MaxConnIdleTime = time.Minute * 5
	poolConfig.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, unavailable("postgres", fmt.Errorf("failed to ping database: %w", err))
	}

	return &Connection{Pool: pool}, nil
}

// Query runs sql and returns a cursor over the raw column values.
func (c *Connection) Query(ctx context.Context, sql string, args ...any) (Rows, error) {
	rows, err := c.Pool.Query(ctx, sql, args...)
	if err != nil {
		if isPgUnavailable(err) || c.unreachable(ctx) {
			return nil, unavailable("postgres", err)
		}
		return nil, err
	}
	return &pgRows{rows: rows}, nil
}

// Close closes the database connection pool
func (c *Connection) Close() {
	if c.Pool != nil {
		c.Pool.Close()
	}
}

// unreachable pings the pool after a failed query; a closed pool or a lost
// server fails the ping while a bad statement does not.
func (c *Connection) unreachable(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}
	return c.Pool.Ping(ctx) != nil
}

func isPgUnavailable(err error) bool {
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return true
	}
	return pgconn.Timeout(err) || errors.Is(err, pgx.ErrTxClosed)
}

type pgRows struct {
	rows pgx.Rows
	err  error
}

func (r *pgRows) Next() bool { return r.err == nil && r.rows.Next() }

func (r *pgRows) Values() ([]any, error) {
	values, err := r.rows.Values()
	if err != nil {
		return nil, err
	}
	for i, v := range values {
		values[i] = normalizePg(v)
	}
	return values, nil
}

func (r *pgRows) Err() error {
	if r.err != nil {
		return r.err
	}
	return r.rows.Err()
}

func (r *pgRows) Close() { r.rows.Close() }

// normalizePg maps pgx decode types onto plain Go values.
func normalizePg(v any) any {
	switch n := v.(type) {
	case pgtype.Numeric:
		if !n.Valid {
			return nil
		}
		if n.Exp >= 0 && n.Int != nil {
			i, err := n.Int64Value()
			if err == nil && i.Valid {
				return i.Int64
			}
		}
		f, err := n.Float64Value()
		if err != nil || !f.Valid {
			return nil
		}
		return f.Float64
	case int32:
		return int64(n)
	case int16:
		return int64(n)
	case float32:
		return float64(n)
	case [16]byte:
		return fmt.Sprintf("%x-%x-%x-%x-%x", n[0:4], n[4:6], n[6:8], n[8:10], n[10:16])
	default:
		return v
	}
}

// DefaultConfig returns a default database configuration
func DefaultConfig() Config {
	return Config{
		Driver:   "postgres",
		Host:     "localhost",
		Port:     5432,
		User:     "postgres",
		Password: "admin",
		DBName:   "querykit",
		SSLMode:  "disable",
		Path:     "querykit.db",
	}
}

func unavailable(name string, err error) error {
	return &query.ExecutorUnavailableError{Executor: name, Err: err}
}
