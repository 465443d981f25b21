package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/rpattn/querykit/internal/db"
	"github.com/rpattn/querykit/internal/domain"
	"github.com/rpattn/querykit/internal/query"
	"github.com/rpattn/querykit/internal/schema"
	"github.com/rpattn/querykit/internal/sqlgen"
)

// RecordExecutor runs materialized query requests against a SQL database.
//
// Result sets are read in full before they are returned so that batch-style
// eager loads can be resolved and the connection released; the returned Rows
// iterate over memory.
type RecordExecutor struct {
	db       db.Querier
	registry *schema.Registry
	compiler *sqlgen.Compiler
}

var (
	_ query.Executor          = (*RecordExecutor)(nil)
	_ query.AggregateExecutor = (*RecordExecutor)(nil)
)

// NewRecordExecutor creates an executor for registry's entities over q.
func NewRecordExecutor(q db.Querier, registry *schema.Registry, dialect sqlgen.Dialect) *RecordExecutor {
	return &RecordExecutor{
		db:       q,
		registry: registry,
		compiler: sqlgen.NewCompiler(registry, dialect),
	}
}

// ExecuteCount counts the records matching the request.
func (e *RecordExecutor) ExecuteCount(ctx context.Context, req query.Request) (int64, error) {
	stmt, err := e.compiler.Count(req.Spec)
	if err != nil {
		return 0, err
	}

	values, err := e.queryRow(ctx, stmt)
	if err != nil {
		return 0, wrapQueryError(fmt.Sprintf("count %s", req.Spec.Entity), err)
	}
	n, ok := toInt64(values[0])
	if !ok {
		return 0, fmt.Errorf("count %s: unexpected count value %T", req.Spec.Entity, values[0])
	}
	return n, nil
}

// ExecuteFetch returns the records matching the request with every requested
// eager load attached.
func (e *RecordExecutor) ExecuteFetch(ctx context.Context, req query.Request) (query.Rows, error) {
	stmt, err := e.compiler.Fetch(req.Spec)
	if err != nil {
		return nil, err
	}
	root, _ := e.registry.Entity(req.Spec.Entity)

	rows, err := e.db.Query(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return nil, wrapQueryError(fmt.Sprintf("fetch %s", root.Name), err)
	}
	h, err := e.newHydrator(root, stmt.Columns)
	if err != nil {
		rows.Close()
		return nil, err
	}
	records, err := h.readAll(rows)
	if err != nil {
		return nil, wrapQueryError(fmt.Sprintf("fetch %s", root.Name), err)
	}

	if len(req.Spec.PrefetchRelated) > 0 && len(req.Spec.Fields) == 0 {
		records, err = e.prefetch(ctx, root, records, req.Spec.PrefetchRelated)
		if err != nil {
			return nil, err
		}
	}
	return query.NewSliceRows(records), nil
}

// ExecuteAggregate evaluates whole-set aggregates over the matching records.
func (e *RecordExecutor) ExecuteAggregate(ctx context.Context, req query.Request, aggregates []query.Annotation) (map[string]any, error) {
	stmt, err := e.compiler.Aggregate(req.Spec, aggregates)
	if err != nil {
		return nil, err
	}

	values, err := e.queryRow(ctx, stmt)
	if err != nil {
		return nil, wrapQueryError(fmt.Sprintf("aggregate %s", req.Spec.Entity), err)
	}
	result := make(map[string]any, len(stmt.Columns))
	for i, col := range stmt.Columns {
		result[col.Name] = normalizeNumber(values[i])
	}
	return result, nil
}

// Explain compiles the request without running it.
func (e *RecordExecutor) Explain(req query.Request, aggregates ...query.Annotation) (sqlgen.Statement, error) {
	switch req.Mode {
	case query.ModeCount:
		return e.compiler.Count(req.Spec)
	case query.ModeAggregate:
		return e.compiler.Aggregate(req.Spec, aggregates)
	default:
		return e.compiler.Fetch(req.Spec)
	}
}

func (e *RecordExecutor) queryRow(ctx context.Context, stmt sqlgen.Statement) ([]any, error) {
	rows, err := e.db.Query(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, errors.New("query returned no rows")
	}
	return rows.Values()
}

// wrapQueryError adds context to database errors. Unavailability errors are
// returned untouched so callers see them verbatim.
func wrapQueryError(op string, err error) error {
	var unavailable *query.ExecutorUnavailableError
	if errors.As(err, &unavailable) {
		return err
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}

func relatedEntity(registry *schema.Registry, root domain.EntityDescriptor, path string) (domain.EntityDescriptor, error) {
	resolved, err := registry.ResolvePath(root.Name, path)
	if err != nil {
		return domain.EntityDescriptor{}, err
	}
	return resolved.Owner, nil
}
