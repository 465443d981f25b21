package query

import "slices"

// Spec is the accumulated description of a read query prior to execution.
//
// A Spec is treated as an immutable value: the builder clones it before every
// change and executors receive their own copy, so no two holders ever share
// mutable state.
type Spec struct {
	// Entity names the entity the query targets.
	Entity string
	// Predicates are implicitly AND-ed at the top level.
	Predicates []Predicate
	// Excludes each remove the records their predicate holds for. Records
	// where it is unknown (a NULL operand) are kept.
	Excludes []Predicate
	// SelectRelated holds join-style eager-load relation paths.
	SelectRelated []string
	// PrefetchRelated holds batch-style eager-load relation paths.
	PrefetchRelated []string
	// Annotations are per-record computed values with unique aliases.
	Annotations []Annotation
	OrderBy     []OrderTerm
	Distinct    bool
	Limit       *int
	Offset      *int
	// Database selects a named executor when the builder runs through a Router.
	Database string
	// Fields projects fetched records onto root fields and annotation aliases.
	// Empty means every field. Set by the Values terminals.
	Fields []string
}

// Clone returns a deep copy of the spec.
func (s Spec) Clone() Spec {
	out := s
	out.Predicates = slices.Clone(s.Predicates)
	out.Excludes = slices.Clone(s.Excludes)
	out.SelectRelated = slices.Clone(s.SelectRelated)
	out.PrefetchRelated = slices.Clone(s.PrefetchRelated)
	out.Annotations = slices.Clone(s.Annotations)
	out.OrderBy = slices.Clone(s.OrderBy)
	out.Fields = slices.Clone(s.Fields)
	if s.Limit != nil {
		v := *s.Limit
		out.Limit = &v
	}
	if s.Offset != nil {
		v := *s.Offset
		out.Offset = &v
	}
	return out
}

// Filter returns the Predicates AND-ed into one predicate, or nil.
func (s Spec) Filter() Predicate {
	return And(s.Predicates...)
}

// Where returns the full filter of the spec as one predicate: all Predicates
// AND-ed with the negation of every exclude. Nil means "match everything".
// Executors evaluate Excludes on their own since a plain NOT drops rows
// where the exclude is unknown.
func (s Spec) Where() Predicate {
	parts := make([]Predicate, 0, len(s.Predicates)+len(s.Excludes))
	parts = append(parts, s.Predicates...)
	for _, ex := range s.Excludes {
		parts = append(parts, Not(ex))
	}
	return And(parts...)
}

// Annotation returns the annotation registered under alias.
func (s Spec) Annotation(alias string) (Annotation, bool) {
	for _, a := range s.Annotations {
		if a.Alias == alias {
			return a, true
		}
	}
	return Annotation{}, false
}

// HasEagerLoads reports whether any relation is eagerly loaded.
func (s Spec) HasEagerLoads() bool {
	return len(s.SelectRelated) > 0 || len(s.PrefetchRelated) > 0
}

func appendUnique(list []string, items ...string) []string {
	for _, item := range items {
		if item == "" || slices.Contains(list, item) {
			continue
		}
		list = append(list, item)
	}
	return list
}
