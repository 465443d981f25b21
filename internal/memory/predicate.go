package memory

import (
	"cmp"
	"fmt"
	"strings"
	"time"

	"github.com/rpattn/querykit/internal/domain"
	"github.com/rpattn/querykit/internal/query"
	"github.com/rpattn/querykit/internal/schema"
)

// truth is a three-valued SQL boolean. A comparison against NULL is unknown,
// and only rows whose filter is true are kept.
type truth int8

const (
	truthFalse truth = iota
	truthTrue
	truthUnknown
)

func fromBool(b bool) truth {
	if b {
		return truthTrue
	}
	return truthFalse
}

func (t truth) not() truth {
	switch t {
	case truthTrue:
		return truthFalse
	case truthFalse:
		return truthTrue
	default:
		return truthUnknown
	}
}

// predicate evaluates p against rec of entity ent. Annotation aliases are
// only visible at the root of the query, so aliases is nil everywhere else.
func (s *snapshot) predicate(p query.Predicate, ent domain.EntityDescriptor, rec domain.Record, aliases map[string]any) (truth, error) {
	switch n := p.(type) {
	case query.Leaf:
		return s.leaf(n, ent, rec, aliases)
	case query.Conjunction:
		result := truthTrue
		for _, child := range n.Children() {
			t, err := s.predicate(child, ent, rec, aliases)
			if err != nil {
				return truthFalse, err
			}
			if t == truthFalse {
				return truthFalse, nil
			}
			if t == truthUnknown {
				result = truthUnknown
			}
		}
		return result, nil
	case query.Disjunction:
		result := truthFalse
		for _, child := range n.Children() {
			t, err := s.predicate(child, ent, rec, aliases)
			if err != nil {
				return truthFalse, err
			}
			if t == truthTrue {
				return truthTrue, nil
			}
			if t == truthUnknown {
				result = truthUnknown
			}
		}
		return result, nil
	case query.Negation:
		t, err := s.predicate(n.Child(), ent, rec, aliases)
		if err != nil {
			return truthFalse, err
		}
		return t.not(), nil
	default:
		return truthFalse, fmt.Errorf("unsupported predicate %T", p)
	}
}

func (s *snapshot) leaf(leaf query.Leaf, ent domain.EntityDescriptor, rec domain.Record, aliases map[string]any) (truth, error) {
	if v, ok := aliases[leaf.Field()]; ok {
		return condition(v, leaf)
	}

	resolved, err := s.registry.ResolvePath(ent.Name, leaf.Field())
	if err != nil {
		return truthFalse, err
	}
	if len(resolved.Hops) == 0 {
		v, _ := rec.Get(resolved.Field.Name)
		return condition(v, leaf)
	}

	if resolved.IsRelation() && leaf.Op() != query.OpIsNull {
		return truthFalse, &query.SchemaMismatchError{Entity: resolved.Root.Name, Kind: "field", Name: leaf.Field(), Reason: "relations can only be tested with isnull"}
	}
	found, err := s.exists(resolved.Hops, resolved.Field, rec, leaf)
	if err != nil {
		return truthFalse, err
	}
	if resolved.IsRelation() {
		if isNull, _ := leaf.Value().(bool); isNull {
			return fromBool(!found), nil
		}
	}
	return fromBool(found), nil
}

// exists reports whether some record reached from rec through hops satisfies
// leaf on field. With no field, any reachable record will do.
func (s *snapshot) exists(hops []schema.Hop, field *domain.FieldDefinition, rec domain.Record, leaf query.Leaf) (bool, error) {
	for _, target := range s.related(hops[0], rec) {
		switch {
		case len(hops) > 1:
			ok, err := s.exists(hops[1:], field, target, leaf)
			if err != nil || ok {
				return ok, err
			}
		case field == nil:
			return true, nil
		default:
			v, _ := target.Get(field.Name)
			t, err := condition(v, leaf)
			if err != nil {
				return false, err
			}
			if t == truthTrue {
				return true, nil
			}
		}
	}
	return false, nil
}

// condition applies leaf's operator to v.
func condition(v any, leaf query.Leaf) (truth, error) {
	value := normalize(leaf.Value())
	switch leaf.Op() {
	case query.OpEq:
		if value == nil {
			return fromBool(v == nil), nil
		}
		if v == nil {
			return truthUnknown, nil
		}
		c, ok := compare(v, value)
		return fromBool(ok && c == 0), nil
	case query.OpNe:
		if value == nil {
			return fromBool(v != nil), nil
		}
		if v == nil {
			return truthUnknown, nil
		}
		c, ok := compare(v, value)
		return fromBool(!ok || c != 0), nil
	case query.OpGt, query.OpGte, query.OpLt, query.OpLte:
		if v == nil || value == nil {
			return truthUnknown, nil
		}
		c, ok := compare(v, value)
		if !ok {
			return truthFalse, nil
		}
		switch leaf.Op() {
		case query.OpGt:
			return fromBool(c > 0), nil
		case query.OpGte:
			return fromBool(c >= 0), nil
		case query.OpLt:
			return fromBool(c < 0), nil
		default:
			return fromBool(c <= 0), nil
		}
	case query.OpContains:
		if v == nil || value == nil {
			return truthUnknown, nil
		}
		return fromBool(strings.Contains(text(v), text(value))), nil
	case query.OpIContains:
		if v == nil || value == nil {
			return truthUnknown, nil
		}
		return fromBool(strings.Contains(strings.ToLower(text(v)), strings.ToLower(text(value)))), nil
	case query.OpIsNull:
		isNull, ok := value.(bool)
		if !ok {
			return truthFalse, fmt.Errorf("isnull on %s requires a boolean, got %T", leaf.Field(), value)
		}
		return fromBool((v == nil) == isNull), nil
	case query.OpIn:
		values, _ := value.([]any)
		if len(values) == 0 {
			return truthFalse, nil
		}
		if v == nil {
			return truthUnknown, nil
		}
		sawNull := false
		for _, candidate := range values {
			candidate = normalize(candidate)
			if candidate == nil {
				sawNull = true
				continue
			}
			if c, ok := compare(v, candidate); ok && c == 0 {
				return truthTrue, nil
			}
		}
		if sawNull {
			return truthUnknown, nil
		}
		return truthFalse, nil
	default:
		return truthFalse, &query.InvalidOperatorError{Field: leaf.Field(), Operator: string(leaf.Op())}
	}
}

// compare orders two non-NULL values. Numbers compare with numbers, strings
// with strings and times with times; ok is false for any other pairing.
func compare(a, b any) (int, bool) {
	if x, ok := integer(a); ok {
		if y, ok := integer(b); ok {
			return cmp.Compare(x, y), true
		}
	}
	if x, ok := number(a); ok {
		if y, ok := number(b); ok {
			return cmp.Compare(x, y), true
		}
		return 0, false
	}
	switch x := a.(type) {
	case string:
		if y, ok := b.(string); ok {
			return strings.Compare(x, y), true
		}
	case time.Time:
		if y, ok := b.(time.Time); ok {
			return x.Compare(y), true
		}
	}
	return 0, false
}

// compareNullable is compare with NULL ordered first. Values that cannot be
// compared fall back to their text.
func compareNullable(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	if c, ok := compare(a, b); ok {
		return c
	}
	return strings.Compare(text(a), text(b))
}

func integer(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

func number(v any) (float64, bool) {
	if n, ok := integer(v); ok {
		return float64(n), true
	}
	if f, ok := v.(float64); ok {
		return f, true
	}
	return 0, false
}

func text(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	default:
		return fmt.Sprint(v)
	}
}

// normalize maps Go values onto the types a SQL driver hands back: every
// integer becomes int64, every float float64 and bytes a string.
func normalize(v any) any {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int8:
		return int64(n)
	case int16:
		return int64(n)
	case int32:
		return int64(n)
	case uint8:
		return int64(n)
	case uint16:
		return int64(n)
	case uint32:
		return int64(n)
	case float32:
		return float64(n)
	case []byte:
		return string(n)
	case []any:
		out := make([]any, len(n))
		for i, item := range n {
			out[i] = normalize(item)
		}
		return out
	default:
		return v
	}
}

// keyOf returns a comparable map key for a join or distinct value.
func keyOf(v any) any {
	v = normalize(v)
	switch n := v.(type) {
	case float64:
		if n == float64(int64(n)) {
			return int64(n)
		}
	case time.Time:
		return n.UTC()
	case bool:
		if n {
			return int64(1)
		}
		return int64(0)
	}
	return v
}
