package query

import (
	"fmt"
)

// Expr is a computed value attached to records by Annotate or evaluated over
// the whole result set by Aggregate. Sealed like Predicate.
type Expr interface {
	exprNode()
	String() string
}

// AggregateFunc names an aggregate function.
type AggregateFunc string

const (
	AggCount AggregateFunc = "count"
	AggSum   AggregateFunc = "sum"
	AggAvg   AggregateFunc = "avg"
	AggMin   AggregateFunc = "min"
	AggMax   AggregateFunc = "max"
)

// Aggregate applies Func over Path. Path is either a field of the entity or a
// relation path (optionally ending in a field of the related entity). Filter,
// when set, restricts the rows that are aggregated.
type Aggregate struct {
	Func   AggregateFunc
	Path   string
	Filter Predicate
}

func (Aggregate) exprNode() {}

func (a Aggregate) String() string {
	if a.Filter != nil {
		return fmt.Sprintf("%s(%s, filter=%s)", a.Func, a.Path, a.Filter)
	}
	return fmt.Sprintf("%s(%s)", a.Func, a.Path)
}

// Literal is a constant operand.
type Literal struct {
	Value any
}

func (Literal) exprNode() {}

func (l Literal) String() string { return fmt.Sprint(l.Value) }

// ArithOp is a binary arithmetic operator.
type ArithOp string

const (
	ArithAdd ArithOp = "+"
	ArithSub ArithOp = "-"
	ArithMul ArithOp = "*"
)

// Arith combines two expressions arithmetically.
type Arith struct {
	Op    ArithOp
	Left  Expr
	Right Expr
}

func (Arith) exprNode() {}

func (a Arith) String() string {
	return fmt.Sprintf("(%s %s %s)", a.Left, a.Op, a.Right)
}

// Count counts non-null values of path, or related rows when path is a relation.
func Count(path string) Aggregate { return Aggregate{Func: AggCount, Path: path} }

// CountWhere counts values of path restricted by filter.
func CountWhere(path string, filter Predicate) Aggregate {
	return Aggregate{Func: AggCount, Path: path, Filter: filter}
}

func Sum(path string) Aggregate { return Aggregate{Func: AggSum, Path: path} }
func Avg(path string) Aggregate { return Aggregate{Func: AggAvg, Path: path} }
func Min(path string) Aggregate { return Aggregate{Func: AggMin, Path: path} }
func Max(path string) Aggregate { return Aggregate{Func: AggMax, Path: path} }

// Lit wraps a constant.
func Lit(v any) Literal { return Literal{Value: v} }

// Add returns left + right.
func Add(left, right Expr) Arith { return Arith{Op: ArithAdd, Left: left, Right: right} }

// Sub returns left - right.
func Sub(left, right Expr) Arith { return Arith{Op: ArithSub, Left: left, Right: right} }

// Mul returns left * right.
func Mul(left, right Expr) Arith { return Arith{Op: ArithMul, Left: left, Right: right} }

// Annotation binds an alias to an expression.
type Annotation struct {
	Alias string
	Expr  Expr
}

// WalkAggregates calls fn for every Aggregate inside e.
func WalkAggregates(e Expr, fn func(Aggregate)) {
	switch n := e.(type) {
	case Aggregate:
		fn(n)
	case Arith:
		WalkAggregates(n.Left, fn)
		WalkAggregates(n.Right, fn)
	}
}
