package schema

import (
	"fmt"

	"github.com/rpattn/querykit/internal/domain"
	"github.com/rpattn/querykit/internal/query"
)

// Hop is one relation traversal with the key fields that link both sides.
//
// For a to-one hop SourceKey is the foreign key on Source and TargetKey the
// primary key of Target; for a to-many hop SourceKey is the primary key of
// Source and TargetKey the foreign key on Target. Either way, rows are linked
// when source.SourceKey = target.TargetKey.
type Hop struct {
	Relation  domain.RelationDefinition
	Source    domain.EntityDescriptor
	Target    domain.EntityDescriptor
	SourceKey domain.FieldDefinition
	TargetKey domain.FieldDefinition
}

// Many reports whether the hop is multi-valued.
func (h Hop) Many() bool { return h.Relation.Kind == domain.RelationMany }

// Path is a resolved "a__b__field" reference.
type Path struct {
	Root domain.EntityDescriptor
	Hops []Hop
	// Field is set when the path ends in a field of Owner.
	Field *domain.FieldDefinition
	// Owner is the entity the path ends on.
	Owner domain.EntityDescriptor
}

// IsRelation reports whether the path ends on a relation rather than a field.
func (p Path) IsRelation() bool { return p.Field == nil && len(p.Hops) > 0 }

// ResolvePath resolves path relative to entity.
func (r *Registry) ResolvePath(entity, path string) (Path, error) {
	root, ok := r.entities[entity]
	if !ok {
		return Path{}, &query.SchemaMismatchError{Entity: entity, Kind: "entity", Name: entity}
	}
	return r.resolveFrom(root, path)
}

func (r *Registry) resolveFrom(root domain.EntityDescriptor, path string) (Path, error) {
	segments := query.SplitPath(path)
	if len(segments) == 0 {
		return Path{}, &query.SchemaMismatchError{Entity: root.Name, Kind: "field", Name: path, Reason: "empty path"}
	}

	resolved := Path{Root: root, Owner: root}
	current := root
	for i, seg := range segments {
		if f, ok := current.Field(seg); ok {
			if i != len(segments)-1 {
				return Path{}, &query.SchemaMismatchError{
					Entity: root.Name, Kind: "relation", Name: path,
					Reason: fmt.Sprintf("%s is a field of %s, not a relation", seg, current.Name),
				}
			}
			field := f
			resolved.Field = &field
			resolved.Owner = current
			return resolved, nil
		}

		rel, ok := current.Relation(seg)
		if !ok {
			kind := "field"
			if i < len(segments)-1 {
				kind = "relation"
			}
			return Path{}, &query.SchemaMismatchError{Entity: root.Name, Kind: kind, Name: path}
		}
		hop, err := r.hop(current, rel)
		if err != nil {
			return Path{}, err
		}
		resolved.Hops = append(resolved.Hops, hop)
		current = hop.Target
		resolved.Owner = current
	}
	return resolved, nil
}

func (r *Registry) hop(source domain.EntityDescriptor, rel domain.RelationDefinition) (Hop, error) {
	target, ok := r.entities[rel.Target]
	if !ok {
		return Hop{}, &query.SchemaMismatchError{Entity: source.Name, Kind: "relation", Name: rel.Name, Reason: "unknown target " + rel.Target}
	}
	hop := Hop{Relation: rel, Source: source, Target: target}
	switch rel.Kind {
	case domain.RelationOne:
		hop.SourceKey, _ = fieldByColumn(source, rel.Column)
		hop.TargetKey, _ = target.Field(target.PrimaryKeyField())
	default:
		hop.SourceKey, _ = source.Field(source.PrimaryKeyField())
		hop.TargetKey, _ = fieldByColumn(target, rel.Column)
	}
	return hop, nil
}
