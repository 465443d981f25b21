package query

import (
	"context"
	"fmt"
)

// DefaultDatabase is used when a spec does not name a database.
const DefaultDatabase = "default"

// Router dispatches requests to named executors according to Spec.Database.
type Router struct {
	executors map[string]Executor
}

// NewRouter creates a router whose default database is served by def.
func NewRouter(def Executor) *Router {
	return &Router{executors: map[string]Executor{DefaultDatabase: def}}
}

// Register adds or replaces the executor serving name.
func (r *Router) Register(name string, exec Executor) *Router {
	next := make(map[string]Executor, len(r.executors)+1)
	for k, v := range r.executors {
		next[k] = v
	}
	next[name] = exec
	return &Router{executors: next}
}

func (r *Router) route(spec Spec) (Executor, error) {
	name := spec.Database
	if name == "" {
		name = DefaultDatabase
	}
	exec, ok := r.executors[name]
	if !ok || exec == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDatabase, name)
	}
	return exec, nil
}

func (r *Router) ExecuteCount(ctx context.Context, req Request) (int64, error) {
	exec, err := r.route(req.Spec)
	if err != nil {
		return 0, err
	}
	return exec.ExecuteCount(ctx, req)
}

func (r *Router) ExecuteFetch(ctx context.Context, req Request) (Rows, error) {
	exec, err := r.route(req.Spec)
	if err != nil {
		return nil, err
	}
	return exec.ExecuteFetch(ctx, req)
}

func (r *Router) ExecuteAggregate(ctx context.Context, req Request, aggregates []Annotation) (map[string]any, error) {
	exec, err := r.route(req.Spec)
	if err != nil {
		return nil, err
	}
	agg, ok := exec.(AggregateExecutor)
	if !ok {
		return nil, ErrAggregateUnsupported
	}
	return agg.ExecuteAggregate(ctx, req, aggregates)
}
