package query

import (
	"context"
	"iter"

	"github.com/google/uuid"

	"github.com/rpattn/querykit/internal/domain"
)

// Mode says which executor capability a request targets.
type Mode string

const (
	ModeFetch     Mode = "fetch"
	ModeCount     Mode = "count"
	ModeAggregate Mode = "aggregate"
)

// Request is a materialized query handed to an executor. The Spec is a
// private copy owned by the executor.
type Request struct {
	ID   uuid.UUID
	Mode Mode
	Spec Spec
}

// Executor runs materialized requests against storage. Implementations must
// reject requests referencing unknown fields or relations with a
// *SchemaMismatchError rather than ignoring them.
type Executor interface {
	ExecuteCount(ctx context.Context, req Request) (int64, error)
	ExecuteFetch(ctx context.Context, req Request) (Rows, error)
}

// AggregateExecutor is implemented by executors that can evaluate whole-set
// aggregates.
type AggregateExecutor interface {
	ExecuteAggregate(ctx context.Context, req Request, aggregates []Annotation) (map[string]any, error)
}

// Rows is a single-pass cursor over fetched records. Callers must Close it.
// A fresh cursor is obtained by calling Build again.
type Rows interface {
	Next() bool
	Record() domain.Record
	Err() error
	Close() error
}

// Collect drains rows into a slice and closes it.
func Collect(rows Rows) ([]domain.Record, error) {
	defer rows.Close()

	records := make([]domain.Record, 0)
	for rows.Next() {
		records = append(records, rows.Record())
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

// All adapts rows into an iterator. The rows are closed when iteration stops.
func All(rows Rows) iter.Seq2[domain.Record, error] {
	return func(yield func(domain.Record, error) bool) {
		defer rows.Close()
		for rows.Next() {
			if !yield(rows.Record(), nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(domain.Record{}, err)
		}
	}
}

// SliceRows serves records from memory.
type SliceRows struct {
	records []domain.Record
	pos     int
	closed  bool
}

// NewSliceRows returns a cursor over records.
func NewSliceRows(records []domain.Record) *SliceRows {
	return &SliceRows{records: records, pos: -1}
}

func (r *SliceRows) Next() bool {
	if r.closed || r.pos+1 >= len(r.records) {
		return false
	}
	r.pos++
	return true
}

func (r *SliceRows) Record() domain.Record {
	if r.pos < 0 || r.pos >= len(r.records) {
		return domain.Record{}
	}
	return r.records[r.pos]
}

func (r *SliceRows) Err() error { return nil }

func (r *SliceRows) Close() error {
	r.closed = true
	return nil
}
