package query

import "strings"

// SortDirection represents ordering direction for sortable fields.
type SortDirection string

const (
	SortAsc  SortDirection = "asc"
	SortDesc SortDirection = "desc"
)

// OrderTerm is one ORDER BY entry. Field may be an entity field, "pk" or an
// annotation alias.
type OrderTerm struct {
	Field     string
	Direction SortDirection
}

// ParseOrderTerm parses "field" (ascending) or "-field" (descending).
func ParseOrderTerm(s string) OrderTerm {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "-") {
		return OrderTerm{Field: strings.TrimPrefix(s, "-"), Direction: SortDesc}
	}
	return OrderTerm{Field: strings.TrimPrefix(s, "+"), Direction: SortAsc}
}

// Reverse flips the direction.
func (t OrderTerm) Reverse() OrderTerm {
	if t.Direction == SortDesc {
		return OrderTerm{Field: t.Field, Direction: SortAsc}
	}
	return OrderTerm{Field: t.Field, Direction: SortDesc}
}

func (t OrderTerm) String() string {
	if t.Direction == SortDesc {
		return "-" + t.Field
	}
	return t.Field
}
