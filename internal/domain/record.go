package domain

import (
	"encoding/json"
	"fmt"
)

// Record is a single result row returned by a terminal query call.
//
// Values holds the entity's fields keyed by field name plus any annotation
// aliases. Related holds eagerly loaded relations keyed by relation name:
// join-style loads contribute at most one record, batch-style loads any number.
type Record struct {
	Entity  string              `json:"entity"`
	Values  map[string]any      `json:"values"`
	Related map[string][]Record `json:"related,omitempty"`
}

// NewRecord creates a record with a private copy of values.
func NewRecord(entity string, values map[string]any) Record {
	return Record{
		Entity: entity,
		Values: copyValues(values),
	}
}

// Get returns the value stored under field.
func (r Record) Get(field string) (any, bool) {
	if r.Values == nil {
		return nil, false
	}
	v, ok := r.Values[field]
	return v, ok
}

// String returns the field value formatted as a string, or "" when absent or NULL.
func (r Record) String(field string) string {
	v, ok := r.Get(field)
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Int64 returns the field value as int64 when it holds any integer type.
func (r Record) Int64(field string) (int64, bool) {
	v, ok := r.Get(field)
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}

// One returns the single join-loaded record for relation.
func (r Record) One(relation string) (Record, bool) {
	rel := r.Related[relation]
	if len(rel) == 0 {
		return Record{}, false
	}
	return rel[0], true
}

// Many returns the records loaded for relation.
func (r Record) Many(relation string) []Record {
	return r.Related[relation]
}

// WithValue returns a new record with an added/updated value
func (r Record) WithValue(field string, value any) Record {
	values := copyValues(r.Values)
	values[field] = value

	return Record{
		Entity:  r.Entity,
		Values:  values,
		Related: copyRelated(r.Related),
	}
}

// WithRelated returns a new record with the given records attached under relation.
func (r Record) WithRelated(relation string, records []Record) Record {
	related := copyRelated(r.Related)
	if related == nil {
		related = make(map[string][]Record)
	}
	related[relation] = append([]Record(nil), records...)

	return Record{
		Entity:  r.Entity,
		Values:  copyValues(r.Values),
		Related: related,
	}
}

// MarshalValues encodes the value map as JSON.
func (r Record) MarshalValues() (json.RawMessage, error) {
	if r.Values == nil {
		return json.RawMessage("{}"), nil
	}
	return json.Marshal(r.Values)
}

func copyValues(values map[string]any) map[string]any {
	out := make(map[string]any, len(values))
	for k, v := range values {
		out[k] = v
	}
	return out
}

func copyRelated(related map[string][]Record) map[string][]Record {
	if related == nil {
		return nil
	}
	out := make(map[string][]Record, len(related))
	for k, v := range related {
		out[k] = append([]Record(nil), v...)
	}
	return out
}
