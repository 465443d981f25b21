package query

import (
	"context"
	"errors"
	"fmt"
	"maps"

	"github.com/google/uuid"

	"github.com/rpattn/querykit/internal/domain"
)

var errNoExecutor = errors.New("query builder has no executor")

// Builder is the fluent query façade. Every chaining method returns a new
// Builder holding an updated copy of the spec; the receiver is never mutated,
// so intermediate builders can be stored and branched freely. Terminal
// methods hand a materialized copy of the spec to the executor and leave the
// builder reusable.
type Builder struct {
	exec Executor
	spec Spec
}

// New returns an empty builder targeting entity.
func New(entity string, exec Executor) *Builder {
	return &Builder{exec: exec, spec: Spec{Entity: entity}}
}

// FromSpec returns a builder starting from a copy of spec.
func FromSpec(spec Spec, exec Executor) *Builder {
	return &Builder{exec: exec, spec: spec.Clone()}
}

func (b *Builder) with(fn func(*Spec)) *Builder {
	next := b.spec.Clone()
	fn(&next)
	return &Builder{exec: b.exec, spec: next}
}

// Spec returns a copy of the accumulated spec.
func (b *Builder) Spec() Spec {
	return b.spec.Clone()
}

// Filter AND-appends the conditions. A single condition is appended as a leaf,
// several as one conjunction.
func (b *Builder) Filter(conds ...Leaf) *Builder {
	return b.with(func(s *Spec) {
		switch len(conds) {
		case 0:
		case 1:
			s.Predicates = append(s.Predicates, conds[0])
		default:
			preds := make([]Predicate, len(conds))
			for i, c := range conds {
				preds[i] = c
			}
			s.Predicates = append(s.Predicates, And(preds...))
		}
	})
}

// FilterMap AND-appends keyword-style conditions such as {"rating__gte": 4}.
func (b *Builder) FilterMap(filters map[string]any) (*Builder, error) {
	leaves, err := ParseLookups(filters)
	if err != nil {
		return nil, err
	}
	return b.Filter(leaves...), nil
}

// Where AND-appends arbitrary predicates. A single predicate is appended
// as-is, several as one conjunction.
func (b *Builder) Where(preds ...Predicate) *Builder {
	return b.with(func(s *Spec) {
		if p := conjoin(preds); p != nil {
			s.Predicates = append(s.Predicates, p)
		}
	})
}

// OrFilter OR-combines its arguments and AND-appends the result, so the
// top level stays conjunctive: filter(x).or_filter(a, b) means x AND (a OR b).
func (b *Builder) OrFilter(preds ...Predicate) *Builder {
	return b.with(func(s *Spec) {
		if p := Or(preds...); p != nil {
			s.Predicates = append(s.Predicates, p)
		}
	})
}

// Exclude removes records matching all of conds. A record whose field is
// NULL does not match and is kept.
func (b *Builder) Exclude(conds ...Leaf) *Builder {
	preds := make([]Predicate, len(conds))
	for i, c := range conds {
		preds[i] = c
	}
	return b.ExcludeWhere(preds...)
}

// ExcludeWhere removes records matching all of preds. Records for which the
// condition is unknown because of a NULL are kept.
func (b *Builder) ExcludeWhere(preds ...Predicate) *Builder {
	return b.with(func(s *Spec) {
		if p := conjoin(preds); p != nil {
			s.Excludes = append(s.Excludes, p)
		}
	})
}

func conjoin(preds []Predicate) Predicate {
	if len(preds) == 1 {
		return preds[0]
	}
	return And(preds...)
}

// SelectRelated adds join-style eager loads. Adding a path twice is a no-op.
func (b *Builder) SelectRelated(paths ...string) *Builder {
	return b.with(func(s *Spec) {
		s.SelectRelated = appendUnique(s.SelectRelated, paths...)
	})
}

// PrefetchRelated adds batch-style eager loads. Adding a path twice is a no-op.
func (b *Builder) PrefetchRelated(paths ...string) *Builder {
	return b.with(func(s *Spec) {
		s.PrefetchRelated = appendUnique(s.PrefetchRelated, paths...)
	})
}

// Annotate attaches a computed value to every record under alias.
func (b *Builder) Annotate(alias string, expr Expr) (*Builder, error) {
	if alias == "" {
		return nil, fmt.Errorf("annotation alias is required")
	}
	if expr == nil {
		return nil, fmt.Errorf("annotation %q has no expression", alias)
	}
	if _, exists := b.spec.Annotation(alias); exists {
		return nil, &DuplicateAliasError{Alias: alias}
	}
	return b.with(func(s *Spec) {
		s.Annotations = append(s.Annotations, Annotation{Alias: alias, Expr: expr})
	}), nil
}

// OrderBy replaces the ordering. A "-" prefix sorts descending. Calling it
// with no fields clears the ordering.
func (b *Builder) OrderBy(fields ...string) *Builder {
	return b.with(func(s *Spec) {
		terms := make([]OrderTerm, 0, len(fields))
		for _, f := range fields {
			term := ParseOrderTerm(f)
			if term.Field == "" {
				continue
			}
			terms = append(terms, term)
		}
		s.OrderBy = terms
	})
}

// Distinct removes duplicate records.
func (b *Builder) Distinct() *Builder {
	return b.with(func(s *Spec) { s.Distinct = true })
}

// Limit caps the number of records returned.
func (b *Builder) Limit(n int) *Builder {
	return b.with(func(s *Spec) { s.Limit = &n })
}

// Offset skips the first n records.
func (b *Builder) Offset(n int) *Builder {
	return b.with(func(s *Spec) { s.Offset = &n })
}

// Slice restricts the result to records [lo, hi).
func (b *Builder) Slice(lo, hi int) *Builder {
	n := hi - lo
	return b.with(func(s *Spec) {
		s.Offset = &lo
		s.Limit = &n
	})
}

// Using routes terminal calls to the named database when the executor is a Router.
func (b *Builder) Using(database string) *Builder {
	return b.with(func(s *Spec) { s.Database = database })
}

func (b *Builder) materialize(mode Mode) (Request, error) {
	if b.exec == nil {
		return Request{}, errNoExecutor
	}
	spec := b.spec.Clone()
	if spec.Limit != nil && *spec.Limit < 0 {
		return Request{}, &InvalidRangeError{Name: "limit", Value: *spec.Limit}
	}
	if spec.Offset != nil && *spec.Offset < 0 {
		return Request{}, &InvalidRangeError{Name: "offset", Value: *spec.Offset}
	}
	return Request{ID: uuid.New(), Mode: mode, Spec: spec}, nil
}

// Count returns the number of matching records. Eager loads and ordering are
// not needed for a count and are dropped from the request.
func (b *Builder) Count(ctx context.Context) (int64, error) {
	req, err := b.materialize(ModeCount)
	if err != nil {
		return 0, err
	}
	req.Spec.SelectRelated = nil
	req.Spec.PrefetchRelated = nil
	req.Spec.OrderBy = nil
	req.Spec.Fields = nil
	return b.exec.ExecuteCount(ctx, req)
}

// Build executes the query and returns a single-pass cursor over the records.
func (b *Builder) Build(ctx context.Context) (Rows, error) {
	req, err := b.materialize(ModeFetch)
	if err != nil {
		return nil, err
	}
	return b.exec.ExecuteFetch(ctx, req)
}

// List executes the query and collects every record.
func (b *Builder) List(ctx context.Context) ([]domain.Record, error) {
	rows, err := b.Build(ctx)
	if err != nil {
		return nil, err
	}
	return Collect(rows)
}

// Values executes the query projected onto fields and returns one map per
// record keyed by the requested names. Fields may name root fields, "pk" or
// annotation aliases; with none, every field and annotation is returned.
// Eager loads are not applied, and Distinct compares the projected values.
func (b *Builder) Values(ctx context.Context, fields ...string) ([]map[string]any, error) {
	records, err := b.project(fields).List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, len(records))
	for i, r := range records {
		out[i] = maps.Clone(r.Values)
		if out[i] == nil {
			out[i] = map[string]any{}
		}
	}
	return out, nil
}

// ValuesList is Values returning each record as a tuple in the order fields
// were given. At least one field is required.
func (b *Builder) ValuesList(ctx context.Context, fields ...string) ([][]any, error) {
	if len(fields) == 0 {
		return nil, errors.New("values list requires at least one field")
	}
	records, err := b.project(fields).List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([][]any, len(records))
	for i, r := range records {
		row := make([]any, len(fields))
		for j, name := range fields {
			row[j] = r.Values[name]
		}
		out[i] = row
	}
	return out, nil
}

// ValuesFlat returns the single field of every record.
func (b *Builder) ValuesFlat(ctx context.Context, field string) ([]any, error) {
	rows, err := b.ValuesList(ctx, field)
	if err != nil {
		return nil, err
	}
	out := make([]any, len(rows))
	for i, row := range rows {
		out[i] = row[0]
	}
	return out, nil
}

func (b *Builder) project(fields []string) *Builder {
	return b.with(func(s *Spec) {
		s.Fields = append([]string(nil), fields...)
		s.SelectRelated = nil
		s.PrefetchRelated = nil
	})
}

// First returns the first record in the current ordering, or by primary key
// when unordered.
func (b *Builder) First(ctx context.Context) (domain.Record, bool, error) {
	next := b
	if len(b.spec.OrderBy) == 0 {
		next = b.OrderBy("pk")
	}
	return next.Limit(1).first(ctx)
}

// Last returns the last record in the current ordering, or by primary key
// when unordered.
func (b *Builder) Last(ctx context.Context) (domain.Record, bool, error) {
	reversed := []string{"-pk"}
	if len(b.spec.OrderBy) > 0 {
		reversed = make([]string, len(b.spec.OrderBy))
		for i, term := range b.spec.OrderBy {
			reversed[i] = term.Reverse().String()
		}
	}
	return b.OrderBy(reversed...).Limit(1).first(ctx)
}

func (b *Builder) first(ctx context.Context) (domain.Record, bool, error) {
	records, err := b.List(ctx)
	if err != nil {
		return domain.Record{}, false, err
	}
	if len(records) == 0 {
		return domain.Record{}, false, nil
	}
	return records[0], true, nil
}

// Get returns the single record matching conds.
func (b *Builder) Get(ctx context.Context, conds ...Leaf) (domain.Record, error) {
	next := b.Filter(conds...)
	if next.spec.Limit == nil || *next.spec.Limit > 2 {
		next = next.Limit(2)
	}
	records, err := next.List(ctx)
	if err != nil {
		return domain.Record{}, err
	}
	switch len(records) {
	case 0:
		return domain.Record{}, ErrNotFound
	case 1:
		return records[0], nil
	default:
		return domain.Record{}, ErrMultipleRecords
	}
}

// Exists reports whether at least one record matches.
func (b *Builder) Exists(ctx context.Context) (bool, error) {
	n, err := b.Limit(1).Count(ctx)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Aggregate evaluates whole-set aggregates over the matching records.
func (b *Builder) Aggregate(ctx context.Context, aggregates ...Annotation) (map[string]any, error) {
	seen := make(map[string]struct{}, len(aggregates))
	for _, a := range aggregates {
		if _, dup := seen[a.Alias]; dup {
			return nil, &DuplicateAliasError{Alias: a.Alias}
		}
		seen[a.Alias] = struct{}{}
	}
	agg, ok := b.exec.(AggregateExecutor)
	if !ok {
		return nil, ErrAggregateUnsupported
	}
	req, err := b.materialize(ModeAggregate)
	if err != nil {
		return nil, err
	}
	req.Spec.SelectRelated = nil
	req.Spec.PrefetchRelated = nil
	req.Spec.OrderBy = nil
	req.Spec.Fields = nil
	return agg.ExecuteAggregate(ctx, req, append([]Annotation(nil), aggregates...))
}
