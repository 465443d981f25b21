package query

import (
	"fmt"
	"reflect"
	"strings"
)

// Predicate is a composable boolean filter condition.
//
// This is a sealed interface: only Leaf, Conjunction, Disjunction and Negation
// implement it, so translators can switch over it exhaustively. Every node is
// immutable once constructed; composition always builds new nodes.
type Predicate interface {
	predicateNode()
	String() string
}

// Leaf is a single field/operator/value condition. Field paths may traverse
// relations using "__" (e.g. "product__name").
type Leaf struct {
	field string
	op    Operator
	value any
}

func (Leaf) predicateNode() {}

// Field returns the field path the leaf constrains.
func (l Leaf) Field() string { return l.field }

// Op returns the leaf operator.
func (l Leaf) Op() Operator { return l.op }

// Value returns the comparison value. Slices and maps are returned as copies.
func (l Leaf) Value() any { return cloneValue(l.value) }

// cloneValue copies slice and map values so a leaf never shares them with
// its caller. Elements are copied shallowly.
func cloneValue(v any) any {
	if v == nil {
		return nil
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice:
		if rv.IsNil() {
			return v
		}
		out := reflect.MakeSlice(rv.Type(), rv.Len(), rv.Len())
		reflect.Copy(out, rv)
		return out.Interface()
	case reflect.Map:
		if rv.IsNil() {
			return v
		}
		out := reflect.MakeMapWithSize(rv.Type(), rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out.SetMapIndex(iter.Key(), iter.Value())
		}
		return out.Interface()
	default:
		return v
	}
}

func newLeaf(field string, op Operator, value any) Leaf {
	return Leaf{field: field, op: op, value: cloneValue(value)}
}

func (l Leaf) String() string {
	return fmt.Sprintf("%s__%s=%v", l.field, l.op, l.value)
}

// NewLeaf builds a leaf predicate, failing fast on operators outside the closed set.
func NewLeaf(field string, op Operator, value any) (Leaf, error) {
	if !op.Valid() {
		return Leaf{}, &InvalidOperatorError{Field: field, Operator: string(op)}
	}
	if strings.TrimSpace(field) == "" {
		return Leaf{}, fmt.Errorf("leaf predicate requires a field")
	}
	switch op {
	case OpIsNull:
		if _, ok := value.(bool); !ok {
			return Leaf{}, fmt.Errorf("field %s: isnull expects a bool, got %T", field, value)
		}
	case OpIn:
		values, ok := toSlice(value)
		if !ok {
			return Leaf{}, fmt.Errorf("field %s: in expects a slice, got %T", field, value)
		}
		value = values
	}
	return newLeaf(field, op, value), nil
}

func toSlice(value any) ([]any, bool) {
	if value == nil {
		return nil, false
	}
	rv := reflect.ValueOf(value)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

// Eq builds field = value.
func Eq(field string, value any) Leaf { return newLeaf(field, OpEq, value) }

// Ne builds field <> value.
func Ne(field string, value any) Leaf { return newLeaf(field, OpNe, value) }

// Gt builds field > value.
func Gt(field string, value any) Leaf { return newLeaf(field, OpGt, value) }

// Gte builds field >= value.
func Gte(field string, value any) Leaf { return newLeaf(field, OpGte, value) }

// Lt builds field < value.
func Lt(field string, value any) Leaf { return newLeaf(field, OpLt, value) }

// Lte builds field <= value.
func Lte(field string, value any) Leaf { return newLeaf(field, OpLte, value) }

// Contains builds a case-sensitive substring match.
func Contains(field string, value string) Leaf {
	return Leaf{field: field, op: OpContains, value: value}
}

// IContains builds a case-insensitive substring match.
func IContains(field string, value string) Leaf {
	return Leaf{field: field, op: OpIContains, value: value}
}

// IsNull builds field IS NULL (isNull=true) or IS NOT NULL (isNull=false).
// On a relation path it tests for the absence/presence of related rows.
func IsNull(field string, isNull bool) Leaf {
	return Leaf{field: field, op: OpIsNull, value: isNull}
}

// In builds field IN (values...).
func In[T any](field string, values ...T) Leaf {
	vs := make([]any, len(values))
	for i, v := range values {
		vs[i] = v
	}
	return Leaf{field: field, op: OpIn, value: vs}
}

// Conjunction is an AND over at least one child.
type Conjunction struct {
	children []Predicate
}

func (Conjunction) predicateNode() {}

// Children returns a copy of the conjunction's children.
func (c Conjunction) Children() []Predicate { return append([]Predicate(nil), c.children...) }

func (c Conjunction) String() string { return joinPredicates(c.children, " AND ") }

// Disjunction is an OR over at least one child.
type Disjunction struct {
	children []Predicate
}

func (Disjunction) predicateNode() {}

// Children returns a copy of the disjunction's children.
func (d Disjunction) Children() []Predicate { return append([]Predicate(nil), d.children...) }

func (d Disjunction) String() string { return joinPredicates(d.children, " OR ") }

// Negation is NOT over exactly one child.
type Negation struct {
	child Predicate
}

func (Negation) predicateNode() {}

// Child returns the negated predicate.
func (n Negation) Child() Predicate { return n.child }

func (n Negation) String() string { return "NOT " + n.child.String() }

func joinPredicates(ps []Predicate, sep string) string {
	parts := make([]string, len(ps))
	for i, p := range ps {
		parts[i] = p.String()
	}
	return "(" + strings.Join(parts, sep) + ")"
}

// And combines predicates with AND. Nested conjunctions are flattened into the
// result so and(and(a, b), c) yields one node with children a, b, c. Nil
// arguments are skipped; with nothing left And returns nil.
func And(ps ...Predicate) Predicate {
	children := make([]Predicate, 0, len(ps))
	for _, p := range ps {
		switch n := p.(type) {
		case nil:
			continue
		case Conjunction:
			children = append(children, n.children...)
		default:
			children = append(children, p)
		}
	}
	if len(children) == 0 {
		return nil
	}
	return Conjunction{children: children}
}

// Or combines predicates with OR, flattening nested disjunctions.
func Or(ps ...Predicate) Predicate {
	children := make([]Predicate, 0, len(ps))
	for _, p := range ps {
		switch n := p.(type) {
		case nil:
			continue
		case Disjunction:
			children = append(children, n.children...)
		default:
			children = append(children, p)
		}
	}
	if len(children) == 0 {
		return nil
	}
	return Disjunction{children: children}
}

// Not negates p. Not(nil) is nil.
func Not(p Predicate) Predicate {
	if p == nil {
		return nil
	}
	return Negation{child: p}
}

// Walk calls fn for every leaf under p, depth first in declaration order.
func Walk(p Predicate, fn func(Leaf)) {
	switch n := p.(type) {
	case nil:
	case Leaf:
		fn(n)
	case Conjunction:
		for _, c := range n.children {
			Walk(c, fn)
		}
	case Disjunction:
		for _, c := range n.children {
			Walk(c, fn)
		}
	case Negation:
		Walk(n.child, fn)
	}
}
