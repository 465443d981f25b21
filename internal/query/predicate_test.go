package query

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var predicateOpts = cmp.AllowUnexported(Leaf{}, Conjunction{}, Disjunction{}, Negation{})

func TestNewLeaf_RejectsUnknownOperator(t *testing.T) {
	_, err := NewLeaf("rating", Operator("between"), 4)

	var opErr *InvalidOperatorError
	require.True(t, errors.As(err, &opErr), "expected InvalidOperatorError, got %v", err)
	assert.Equal(t, "between", opErr.Operator)
	assert.Equal(t, "rating", opErr.Field)
}

func TestNewLeaf_AcceptsEveryOperatorInSet(t *testing.T) {
	values := map[Operator]any{
		OpEq: 1, OpNe: 1, OpGt: 1, OpGte: 1, OpLt: 1, OpLte: 1,
		OpContains: "a", OpIContains: "a", OpIsNull: true, OpIn: []int{1, 2},
	}
	for op, v := range values {
		leaf, err := NewLeaf("f", op, v)
		require.NoError(t, err, "operator %s", op)
		assert.Equal(t, op, leaf.Op())
	}
}

func TestNewLeaf_InCopiesValues(t *testing.T) {
	ids := []int{1, 2, 3}
	leaf, err := NewLeaf("id", OpIn, ids)
	require.NoError(t, err)

	ids[0] = 99
	assert.Equal(t, []any{1, 2, 3}, leaf.Value())
}

func TestLeaf_DoesNotShareCallerValues(t *testing.T) {
	raw := []byte("abc")
	tags := map[string]int{"a": 1}
	eq := Eq("payload", raw)
	gt := Gt("tags", tags)

	raw[0] = 'x'
	tags["a"] = 2
	assert.Equal(t, []byte("abc"), eq.Value())
	assert.Equal(t, map[string]int{"a": 1}, gt.Value())

	got := eq.Value().([]byte)
	got[1] = 'y'
	assert.Equal(t, []byte("abc"), eq.Value())

	in := In("id", 1, 2)
	vs := in.Value().([]any)
	vs[0] = 99
	assert.Equal(t, []any{1, 2}, in.Value())
}

func TestNewLeaf_IsNullRequiresBool(t *testing.T) {
	_, err := NewLeaf("photo", OpIsNull, "no")
	assert.Error(t, err)
}

func TestAnd_FlattensNestedConjunctions(t *testing.T) {
	a, b, c := Eq("a", 1), Eq("b", 2), Or(Eq("c", 3), Eq("d", 4))

	got := And(And(a, b), c)

	want := Conjunction{children: []Predicate{a, b, c}}
	if diff := cmp.Diff(want, got, predicateOpts); diff != "" {
		t.Fatalf("flattened conjunction mismatch (-want +got):\n%s", diff)
	}
}

func TestOr_FlattensNestedDisjunctions(t *testing.T) {
	a, b, c := Eq("a", 1), Eq("b", 2), Eq("c", 3)

	got := Or(a, Or(b, c))

	want := Disjunction{children: []Predicate{a, b, c}}
	if diff := cmp.Diff(want, got, predicateOpts); diff != "" {
		t.Fatalf("flattened disjunction mismatch (-want +got):\n%s", diff)
	}
}

func TestAnd_DoesNotFlattenOtherKinds(t *testing.T) {
	inner := Or(Eq("a", 1), Eq("b", 2))
	got := And(inner, Eq("c", 3)).(Conjunction)

	require.Len(t, got.Children(), 2)
	_, isOr := got.Children()[0].(Disjunction)
	assert.True(t, isOr)
}

func TestAnd_SkipsNilAndHandlesEmpty(t *testing.T) {
	assert.Nil(t, And())
	assert.Nil(t, Or(nil, nil))
	assert.Nil(t, Not(nil))

	got := And(nil, Eq("a", 1))
	conj, ok := got.(Conjunction)
	require.True(t, ok)
	assert.Len(t, conj.Children(), 1)
}

func TestChildren_ReturnsCopy(t *testing.T) {
	conj := And(Eq("a", 1), Eq("b", 2)).(Conjunction)

	children := conj.Children()
	children[0] = Eq("z", 0)

	assert.Equal(t, "a", conj.Children()[0].(Leaf).Field())
}

func TestWalk_VisitsLeavesInOrder(t *testing.T) {
	p := And(Eq("a", 1), Not(Or(Eq("b", 2), IsNull("c", true))))

	var fields []string
	Walk(p, func(l Leaf) { fields = append(fields, l.Field()) })

	assert.Equal(t, []string{"a", "b", "c"}, fields)
}

func TestParseLookup(t *testing.T) {
	tests := []struct {
		key   string
		field string
		op    Operator
	}{
		{key: "is_deleted", field: "is_deleted", op: OpEq},
		{key: "ratings__gte", field: "ratings", op: OpGte},
		{key: "review_photo_set__isnull", field: "review_photo_set", op: OpIsNull},
		{key: "product__name__icontains", field: "product__name", op: OpIContains},
		{key: "order_item__order", field: "order_item__order", op: OpEq},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			value := any(1)
			if tt.op == OpIsNull {
				value = false
			}
			leaf, err := ParseLookup(tt.key, value)
			require.NoError(t, err)
			assert.Equal(t, tt.field, leaf.Field())
			assert.Equal(t, tt.op, leaf.Op())
		})
	}
}

func TestParseLookup_UnsupportedSuffix(t *testing.T) {
	_, err := ParseLookup("created_at__date", "2024-01-01")

	var opErr *InvalidOperatorError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, "date", opErr.Operator)
}

func TestPathHelpers(t *testing.T) {
	assert.Equal(t, []string{"order_item", "order"}, SplitPath("order_item__order"))
	assert.Equal(t, "order_item", ParentPath("order_item__order"))
	assert.Equal(t, "", ParentPath("product"))
	assert.Equal(t, 2, PathDepth("order_item__order"))
	assert.Equal(t, 0, PathDepth(""))
}
