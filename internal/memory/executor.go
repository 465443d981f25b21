package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rpattn/querykit/internal/domain"
	"github.com/rpattn/querykit/internal/query"
	"github.com/rpattn/querykit/internal/schema"
)

// Executor serves queries from records held in memory. It accepts the same
// specs as the SQL executor and follows SQL NULL semantics, so for the same
// data both return the same rows.
type Executor struct {
	registry *schema.Registry

	mu     sync.RWMutex
	tables map[string][]domain.Record
}

var (
	_ query.Executor          = (*Executor)(nil)
	_ query.AggregateExecutor = (*Executor)(nil)
)

// NewExecutor creates an empty executor for registry's entities.
func NewExecutor(registry *schema.Registry) *Executor {
	return &Executor{registry: registry, tables: make(map[string][]domain.Record)}
}

// Load appends records to entity's table. Values are reduced to the entity's
// declared fields; fields a record leaves out are stored as NULL.
func (e *Executor) Load(entity string, records ...domain.Record) error {
	desc, ok := e.registry.Entity(entity)
	if !ok {
		return &query.SchemaMismatchError{Entity: entity, Kind: "entity", Name: entity}
	}

	rows := make([]domain.Record, 0, len(records))
	for _, r := range records {
		values := make(map[string]any, len(desc.Fields))
		for _, f := range desc.Fields {
			values[f.Name] = normalize(r.Values[f.Name])
		}
		rows = append(rows, domain.NewRecord(desc.Name, values))
	}

	e.mu.Lock()
	e.tables[desc.Name] = append(e.tables[desc.Name], rows...)
	e.mu.Unlock()
	return nil
}

// LoadAll loads every table of data.
func (e *Executor) LoadAll(data map[string][]domain.Record) error {
	names := make([]string, 0, len(data))
	for name := range data {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := e.Load(name, data[name]...); err != nil {
			return fmt.Errorf("load %s: %w", name, err)
		}
	}
	return nil
}

// ExecuteCount counts the records matching the request.
func (e *Executor) ExecuteCount(ctx context.Context, req query.Request) (int64, error) {
	if err := e.registry.ValidateSpec(req.Spec); err != nil {
		return 0, err
	}
	s := e.snapshot()
	rows, err := s.match(ctx, req.Spec)
	if err != nil {
		return 0, err
	}
	return int64(len(s.restrict(rows, req.Spec, false))), nil
}

// ExecuteFetch returns the records matching the request with every requested
// eager load attached.
func (e *Executor) ExecuteFetch(ctx context.Context, req query.Request) (query.Rows, error) {
	spec := req.Spec
	if err := e.registry.ValidateSpec(spec); err != nil {
		return nil, err
	}
	root, _ := e.registry.Entity(spec.Entity)
	s := e.snapshot()

	var joins, prefetches []*relationNode
	if len(spec.Fields) == 0 {
		var err error
		if joins, err = s.relationTree(root, spec.SelectRelated, "select_related"); err != nil {
			return nil, err
		}
		if prefetches, err = s.relationTree(root, spec.PrefetchRelated, "prefetch_related"); err != nil {
			return nil, err
		}
	}

	rows, err := s.match(ctx, spec)
	if err != nil {
		return nil, err
	}
	rows = s.restrict(rows, spec, true)

	records := make([]domain.Record, len(rows))
	for i, r := range rows {
		records[i] = s.join(r.project(root, spec.Fields), joins)
	}
	records = s.prefetch(records, prefetches)
	return query.NewSliceRows(records), nil
}

// ExecuteAggregate evaluates whole-set aggregates over the matching records.
func (e *Executor) ExecuteAggregate(ctx context.Context, req query.Request, aggregates []query.Annotation) (map[string]any, error) {
	if err := e.registry.ValidateSpec(req.Spec); err != nil {
		return nil, err
	}
	if err := e.registry.ValidateAggregates(req.Spec, aggregates); err != nil {
		return nil, err
	}
	if len(aggregates) == 0 {
		return nil, fmt.Errorf("aggregate requires at least one expression")
	}
	root, _ := e.registry.Entity(req.Spec.Entity)
	s := e.snapshot()

	rows, err := s.match(ctx, req.Spec)
	if err != nil {
		return nil, err
	}
	rows = s.restrict(rows, req.Spec, false)

	result := make(map[string]any, len(aggregates))
	for _, a := range aggregates {
		v, err := s.setExpr(root, rows, a.Expr)
		if err != nil {
			return nil, err
		}
		result[a.Alias] = v
	}
	return result, nil
}

func (e *Executor) snapshot() *snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()

	tables := make(map[string][]domain.Record, len(e.tables))
	for name, records := range e.tables {
		tables[name] = records[:len(records):len(records)]
	}
	return &snapshot{
		registry: e.registry,
		tables:   tables,
		indexes:  make(map[string]map[any][]domain.Record),
	}
}

// row is a matched root record with its annotation values.
type row struct {
	record      domain.Record
	annotations map[string]any
}

func (r row) output() domain.Record {
	if len(r.annotations) == 0 {
		return r.record
	}
	values := make(map[string]any, len(r.record.Values)+len(r.annotations))
	for k, v := range r.record.Values {
		values[k] = v
	}
	for k, v := range r.annotations {
		values[k] = v
	}
	return domain.NewRecord(r.record.Entity, values)
}

// project reduces the row to fields, keyed by the names as given. With no
// fields it is the full output.
func (r row) project(root domain.EntityDescriptor, fields []string) domain.Record {
	if len(fields) == 0 {
		return r.output()
	}
	values := make(map[string]any, len(fields))
	for _, name := range fields {
		if v, ok := r.annotations[name]; ok {
			values[name] = v
			continue
		}
		if f, ok := root.Field(name); ok {
			values[name] = r.record.Values[f.Name]
		}
	}
	return domain.NewRecord(r.record.Entity, values)
}

// snapshot is one request's view of the tables. Relation indexes are built on
// first use and live as long as the request.
type snapshot struct {
	registry *schema.Registry
	tables   map[string][]domain.Record
	indexes  map[string]map[any][]domain.Record
}

// match annotates every root record and keeps those the filter holds for and
// no exclude holds for, in table order.
func (s *snapshot) match(ctx context.Context, spec query.Spec) ([]row, error) {
	root, _ := s.registry.Entity(spec.Entity)
	filter := spec.Filter()

	out := make([]row, 0)
	for _, rec := range s.tables[root.Name] {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		r := row{record: rec}
		if len(spec.Annotations) > 0 {
			r.annotations = make(map[string]any, len(spec.Annotations))
			for _, a := range spec.Annotations {
				v, err := s.rowExpr(root, rec, a.Expr)
				if err != nil {
					return nil, err
				}
				r.annotations[a.Alias] = v
			}
		}
		keep, err := s.keep(filter, spec.Excludes, root, r)
		if err != nil {
			return nil, err
		}
		if keep {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *snapshot) keep(filter query.Predicate, excludes []query.Predicate, root domain.EntityDescriptor, r row) (bool, error) {
	if filter != nil {
		t, err := s.predicate(filter, root, r.record, r.annotations)
		if err != nil || t != truthTrue {
			return false, err
		}
	}
	for _, ex := range excludes {
		t, err := s.predicate(ex, root, r.record, r.annotations)
		if err != nil || t == truthTrue {
			return false, err
		}
	}
	return true, nil
}

// restrict orders, dedupes and slices rows. Counts and aggregates skip the
// ordering the same way their SQL does.
func (s *snapshot) restrict(rows []row, spec query.Spec, ordered bool) []row {
	root, _ := s.registry.Entity(spec.Entity)
	if ordered && len(spec.OrderBy) > 0 {
		terms := make([]query.OrderTerm, len(spec.OrderBy))
		for i, term := range spec.OrderBy {
			terms[i] = term
			if _, isAlias := spec.Annotation(term.Field); isAlias {
				continue
			}
			if f, ok := root.Field(term.Field); ok {
				terms[i].Field = f.Name
			}
		}
		sort.SliceStable(rows, func(i, j int) bool {
			return less(rows[i], rows[j], terms)
		})
	}
	if spec.Distinct {
		seen := make(map[string]struct{}, len(rows))
		kept := rows[:0:0]
		for _, r := range rows {
			key := distinctKey(r.project(root, spec.Fields))
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			kept = append(kept, r)
		}
		rows = kept
	}
	return paginate(rows, spec.Limit, spec.Offset)
}

func paginate(rows []row, limit, offset *int) []row {
	start := 0
	if offset != nil && *offset > 0 {
		start = *offset
	}
	if start >= len(rows) {
		return []row{}
	}
	end := len(rows)
	if limit != nil && *limit >= 0 && start+*limit < end {
		end = start + *limit
	}
	return rows[start:end]
}

// less orders two rows by terms. NULL sorts before any value, as in SQLite.
func less(a, b row, terms []query.OrderTerm) bool {
	for _, term := range terms {
		av, bv := a.value(term.Field), b.value(term.Field)
		c := compareNullable(av, bv)
		if c == 0 {
			continue
		}
		if term.Direction == query.SortDesc {
			return c > 0
		}
		return c < 0
	}
	return false
}

func (r row) value(field string) any {
	if v, ok := r.annotations[field]; ok {
		return v
	}
	return r.record.Values[field]
}

// distinctKey renders every value of out so identical rows share a key.
func distinctKey(out domain.Record) string {
	names := make([]string, 0, len(out.Values))
	for name := range out.Values {
		names = append(names, name)
	}
	sort.Strings(names)
	key := ""
	for _, name := range names {
		key += fmt.Sprintf("%s=%#v;", name, keyOf(out.Values[name]))
	}
	return key
}
