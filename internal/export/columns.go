package export

import (
	"fmt"

	"github.com/rpattn/querykit/internal/query"
	"github.com/rpattn/querykit/internal/schema"
)

// Columns derives the export header for spec: the entity's fields, then
// annotation aliases, then the fields of each join-loaded relation prefixed by
// its path, then one count column per batch-loaded relation.
func Columns(registry *schema.Registry, spec query.Spec) ([]string, error) {
	root, ok := registry.Entity(spec.Entity)
	if !ok {
		return nil, fmt.Errorf("unknown entity %q", spec.Entity)
	}

	columns := root.FieldNames()
	for _, a := range spec.Annotations {
		columns = append(columns, a.Alias)
	}
	for _, path := range spec.SelectRelated {
		resolved, err := registry.ResolvePath(spec.Entity, path)
		if err != nil {
			return nil, err
		}
		for _, name := range resolved.Owner.FieldNames() {
			columns = append(columns, path+query.PathSeparator+name)
		}
	}
	for _, path := range spec.PrefetchRelated {
		if query.PathDepth(path) == 1 {
			columns = append(columns, path)
		}
	}
	return columns, nil
}
