package query

// Operator is a leaf comparison operator. The set is closed: only the
// constants below are valid.
type Operator string

const (
	OpEq        Operator = "eq"        // field = value
	OpNe        Operator = "ne"        // field <> value
	OpGt        Operator = "gt"        // field > value
	OpGte       Operator = "gte"       // field >= value
	OpLt        Operator = "lt"        // field < value
	OpLte       Operator = "lte"       // field <= value
	OpContains  Operator = "contains"  // substring match
	OpIContains Operator = "icontains" // case-insensitive substring match
	OpIsNull    Operator = "isnull"    // value is a bool: true => IS NULL
	OpIn        Operator = "in"        // value is a slice
)

var operators = map[Operator]struct{}{
	OpEq: {}, OpNe: {}, OpGt: {}, OpGte: {}, OpLt: {}, OpLte: {},
	OpContains: {}, OpIContains: {}, OpIsNull: {}, OpIn: {},
}

// Valid reports whether op belongs to the closed operator set.
func (op Operator) Valid() bool {
	_, ok := operators[op]
	return ok
}

// ParseOperator converts a lookup suffix such as "gte" into an Operator.
func ParseOperator(s string) (Operator, error) {
	op := Operator(s)
	if !op.Valid() {
		return "", &InvalidOperatorError{Operator: s}
	}
	return op, nil
}
