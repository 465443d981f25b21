package query

import (
	"sort"
	"strings"
)

// PathSeparator separates relation hops and the trailing operator in lookups.
const PathSeparator = "__"

// Lookup names recognised as operator suffixes but not supported. A key ending
// in one of them is rejected instead of being mistaken for a relation path.
var unsupportedLookups = map[string]struct{}{
	"exact": {}, "iexact": {}, "startswith": {}, "istartswith": {}, "endswith": {},
	"iendswith": {}, "range": {}, "regex": {}, "iregex": {}, "date": {}, "year": {},
	"month": {}, "day": {}, "between": {}, "like": {},
}

// ParseLookup turns a keyword-style key such as "rating__gte" or
// "review_photo_set__isnull" into a leaf. A key without an operator suffix is
// an equality test.
func ParseLookup(key string, value any) (Leaf, error) {
	key = strings.TrimSpace(key)
	field, op := key, OpEq
	if idx := strings.LastIndex(key, PathSeparator); idx >= 0 {
		suffix := key[idx+len(PathSeparator):]
		if parsed := Operator(suffix); parsed.Valid() {
			field, op = key[:idx], parsed
		} else if _, ok := unsupportedLookups[suffix]; ok {
			return Leaf{}, &InvalidOperatorError{Field: key[:idx], Operator: suffix}
		}
	}
	return NewLeaf(field, op, value)
}

// ParseLookups converts a keyword filter map into leaves, in key order so the
// resulting predicate is deterministic.
func ParseLookups(filters map[string]any) ([]Leaf, error) {
	keys := make([]string, 0, len(filters))
	for k := range filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	leaves := make([]Leaf, 0, len(keys))
	for _, k := range keys {
		leaf, err := ParseLookup(k, filters[k])
		if err != nil {
			return nil, err
		}
		leaves = append(leaves, leaf)
	}
	return leaves, nil
}

// SplitPath splits a relation path into its hops.
func SplitPath(path string) []string {
	if path == "" {
		return nil
	}
	return strings.Split(path, PathSeparator)
}

// ParentPath returns the path without its last hop.
func ParentPath(path string) string {
	idx := strings.LastIndex(path, PathSeparator)
	if idx == -1 {
		return ""
	}
	return path[:idx]
}

// PathDepth returns the number of hops in path.
func PathDepth(path string) int {
	if path == "" {
		return 0
	}
	return strings.Count(path, PathSeparator) + 1
}
