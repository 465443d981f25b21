package repository

import (
	"sort"
	"strings"
	"time"

	"github.com/rpattn/querykit/internal/db"
	"github.com/rpattn/querykit/internal/domain"
	"github.com/rpattn/querykit/internal/query"
	"github.com/rpattn/querykit/internal/sqlgen"
)

// hydrator turns raw result rows into records, nesting join-style columns
// under their relation path.
type hydrator struct {
	root    domain.EntityDescriptor
	columns []sqlgen.Column
	// paths lists join paths deepest first so children are complete before
	// they are attached to their parent.
	paths    []string
	entities map[string]string
}

func (e *RecordExecutor) newHydrator(root domain.EntityDescriptor, columns []sqlgen.Column) (*hydrator, error) {
	h := &hydrator{root: root, columns: columns, entities: make(map[string]string)}
	for _, col := range columns {
		if col.Path == "" {
			continue
		}
		if _, seen := h.entities[col.Path]; seen {
			continue
		}
		target, err := relatedEntity(e.registry, root, col.Path)
		if err != nil {
			return nil, err
		}
		h.entities[col.Path] = target.Name
		h.paths = append(h.paths, col.Path)
	}
	sort.SliceStable(h.paths, func(i, j int) bool {
		return query.PathDepth(h.paths[i]) > query.PathDepth(h.paths[j])
	})
	return h, nil
}

// readAll drains and closes rows.
func (h *hydrator) readAll(rows db.Rows) ([]domain.Record, error) {
	defer rows.Close()

	records := make([]domain.Record, 0)
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		records = append(records, h.record(values))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

func (h *hydrator) record(values []any) domain.Record {
	rootValues := make(map[string]any, len(h.root.Fields))
	related := make(map[string]map[string]any)
	present := make(map[string]bool)

	for i, col := range h.columns {
		v := values[i]
		switch {
		case col.Annotation:
			rootValues[col.Name] = normalizeNumber(v)
		case col.Path == "":
			rootValues[col.Name] = coerce(col.Field.Type, v)
		default:
			m, ok := related[col.Path]
			if !ok {
				m = make(map[string]any)
				related[col.Path] = m
			}
			m[col.Field.Name] = coerce(col.Field.Type, v)
			if col.PrimaryKey && v != nil {
				present[col.Path] = true
			}
		}
	}

	rec := domain.NewRecord(h.root.Name, rootValues)
	built := make(map[string]domain.Record, len(h.paths))
	for _, path := range h.paths {
		var loaded []domain.Record
		if present[path] {
			r, ok := built[path]
			if !ok {
				r = domain.NewRecord(h.entities[path], related[path])
			}
			loaded = []domain.Record{r}
		}

		name := path
		parent := query.ParentPath(path)
		if parent != "" {
			name = strings.TrimPrefix(path, parent+query.PathSeparator)
		}
		if parent == "" {
			rec = rec.WithRelated(name, loaded)
			continue
		}
		if !present[parent] {
			continue
		}
		pr, ok := built[parent]
		if !ok {
			pr = domain.NewRecord(h.entities[parent], related[parent])
		}
		built[parent] = pr.WithRelated(name, loaded)
	}
	return rec
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// coerce maps a driver value onto the Go type of the declared field type.
// SQLite has no boolean or timestamp storage class, so those arrive as
// integers and text.
func coerce(t domain.FieldType, v any) any {
	if b, ok := v.([]byte); ok {
		v = string(b)
	}
	switch t {
	case domain.FieldTypeBoolean:
		switch b := v.(type) {
		case int64:
			return b != 0
		case string:
			return b == "1" || strings.EqualFold(b, "true")
		}
	case domain.FieldTypeInteger:
		if f, ok := v.(float64); ok {
			return int64(f)
		}
	case domain.FieldTypeFloat:
		if i, ok := v.(int64); ok {
			return float64(i)
		}
	case domain.FieldTypeTimestamp:
		if s, ok := v.(string); ok {
			for _, layout := range timestampLayouts {
				if ts, err := time.Parse(layout, s); err == nil {
					return ts
				}
			}
		}
	}
	return v
}

func normalizeNumber(v any) any {
	switch n := v.(type) {
	case []byte:
		return string(n)
	case int:
		return int64(n)
	case int32:
		return int64(n)
	default:
		return v
	}
}
