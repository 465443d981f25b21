package memory

import (
	"fmt"

	"github.com/rpattn/querykit/internal/domain"
	"github.com/rpattn/querykit/internal/query"
)

// rowExpr evaluates a per-row annotation for rec.
func (s *snapshot) rowExpr(root domain.EntityDescriptor, rec domain.Record, expr query.Expr) (any, error) {
	switch e := expr.(type) {
	case query.Aggregate:
		return s.rowAggregate(root, rec, e)
	case query.Literal:
		return normalize(e.Value), nil
	case query.Arith:
		left, err := s.rowExpr(root, rec, e.Left)
		if err != nil {
			return nil, err
		}
		right, err := s.rowExpr(root, rec, e.Right)
		if err != nil {
			return nil, err
		}
		return arith(e.Op, left, right)
	default:
		return nil, fmt.Errorf("unsupported expression %T", expr)
	}
}

// rowAggregate aggregates over the records rec reaches through agg's path.
// On a plain field it degenerates to the field itself: count is 1 or 0 and
// every other function returns the value.
func (s *snapshot) rowAggregate(root domain.EntityDescriptor, rec domain.Record, agg query.Aggregate) (any, error) {
	resolved, err := s.registry.ResolvePath(root.Name, agg.Path)
	if err != nil {
		return nil, err
	}

	if len(resolved.Hops) == 0 {
		v, _ := rec.Get(resolved.Field.Name)
		pass := true
		if agg.Filter != nil {
			t, err := s.predicate(agg.Filter, root, rec, nil)
			if err != nil {
				return nil, err
			}
			pass = t == truthTrue
		}
		if agg.Func == query.AggCount {
			if v != nil && pass {
				return int64(1), nil
			}
			return int64(0), nil
		}
		if !pass {
			return nil, nil
		}
		return v, nil
	}

	field := resolved.Owner.PrimaryKeyField()
	if resolved.Field != nil {
		field = resolved.Field.Name
	}
	var values []any
	for _, target := range s.reach(resolved.Hops, rec) {
		if agg.Filter != nil {
			t, err := s.predicate(agg.Filter, resolved.Owner, target, nil)
			if err != nil {
				return nil, err
			}
			if t != truthTrue {
				continue
			}
		}
		values = append(values, target.Values[field])
	}
	return aggregate(agg.Func, values)
}

// setExpr evaluates a whole-set aggregate expression over rows.
func (s *snapshot) setExpr(root domain.EntityDescriptor, rows []row, expr query.Expr) (any, error) {
	switch e := expr.(type) {
	case query.Aggregate:
		resolved, err := s.registry.ResolvePath(root.Name, e.Path)
		if err != nil {
			return nil, err
		}
		if resolved.Field == nil || len(resolved.Hops) > 0 {
			return nil, &query.SchemaMismatchError{Entity: root.Name, Kind: "aggregate", Name: e.Path}
		}
		values := make([]any, 0, len(rows))
		for _, r := range rows {
			v := r.record.Values[resolved.Field.Name]
			if e.Filter != nil {
				t, err := s.predicate(e.Filter, root, r.record, nil)
				if err != nil {
					return nil, err
				}
				if t != truthTrue {
					v = nil
				}
			}
			values = append(values, v)
		}
		return aggregate(e.Func, values)
	case query.Literal:
		return normalize(e.Value), nil
	case query.Arith:
		left, err := s.setExpr(root, rows, e.Left)
		if err != nil {
			return nil, err
		}
		right, err := s.setExpr(root, rows, e.Right)
		if err != nil {
			return nil, err
		}
		return arith(e.Op, left, right)
	default:
		return nil, fmt.Errorf("unsupported expression %T", expr)
	}
}

// aggregate applies fn to values, skipping NULLs. Count of nothing is 0;
// every other function of nothing is NULL.
func aggregate(fn query.AggregateFunc, values []any) (any, error) {
	present := make([]any, 0, len(values))
	for _, v := range values {
		if v != nil {
			present = append(present, v)
		}
	}
	if fn == query.AggCount {
		return int64(len(present)), nil
	}
	if len(present) == 0 {
		return nil, nil
	}

	switch fn {
	case query.AggSum, query.AggAvg:
		var isum int64
		var fsum float64
		allInt := true
		for _, v := range present {
			if n, ok := integer(v); ok {
				isum += n
				fsum += float64(n)
				continue
			}
			f, ok := number(v)
			if !ok {
				return nil, fmt.Errorf("%s of non-numeric value %T", fn, v)
			}
			allInt = false
			fsum += f
		}
		if fn == query.AggAvg {
			return fsum / float64(len(present)), nil
		}
		if allInt {
			return isum, nil
		}
		return fsum, nil
	case query.AggMin, query.AggMax:
		best := present[0]
		for _, v := range present[1:] {
			c := compareNullable(v, best)
			if (fn == query.AggMin && c < 0) || (fn == query.AggMax && c > 0) {
				best = v
			}
		}
		return best, nil
	default:
		return nil, fmt.Errorf("unsupported aggregate function %q", fn)
	}
}

// arith combines two values. NULL on either side yields NULL; two integers
// stay integral and anything else is computed in float64.
func arith(op query.ArithOp, left, right any) (any, error) {
	if left == nil || right == nil {
		return nil, nil
	}
	if l, ok := integer(left); ok {
		if r, ok := integer(right); ok {
			switch op {
			case query.ArithAdd:
				return l + r, nil
			case query.ArithSub:
				return l - r, nil
			case query.ArithMul:
				return l * r, nil
			}
			return nil, fmt.Errorf("unsupported arithmetic operator %q", op)
		}
	}
	l, lok := number(left)
	r, rok := number(right)
	if !lok || !rok {
		return nil, fmt.Errorf("arithmetic on non-numeric values %T and %T", left, right)
	}
	switch op {
	case query.ArithAdd:
		return l + r, nil
	case query.ArithSub:
		return l - r, nil
	case query.ArithMul:
		return l * r, nil
	}
	return nil, fmt.Errorf("unsupported arithmetic operator %q", op)
}
