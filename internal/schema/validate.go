package schema

import (
	"github.com/hashicorp/go-multierror"

	"github.com/rpattn/querykit/internal/domain"
	"github.com/rpattn/querykit/internal/query"
)

// ValidateSpec checks every field, relation and alias the spec references
// against the registry. All problems are reported together; errors.As finds
// the individual *query.SchemaMismatchError values.
func (r *Registry) ValidateSpec(spec query.Spec) error {
	root, ok := r.entities[spec.Entity]
	if !ok {
		return &query.SchemaMismatchError{Entity: spec.Entity, Kind: "entity", Name: spec.Entity}
	}

	var result *multierror.Error
	aliases := make(map[string]struct{}, len(spec.Annotations))

	for _, ann := range spec.Annotations {
		if _, isField := root.Field(ann.Alias); isField {
			result = multierror.Append(result, &query.SchemaMismatchError{
				Entity: root.Name, Kind: "alias", Name: ann.Alias, Reason: "conflicts with a field",
			})
		}
		if _, isRelation := root.Relation(ann.Alias); isRelation {
			result = multierror.Append(result, &query.SchemaMismatchError{
				Entity: root.Name, Kind: "alias", Name: ann.Alias, Reason: "conflicts with a relation",
			})
		}
		if err := r.validateExpr(root, ann.Expr, true); err != nil {
			result = multierror.Append(result, err)
		}
		aliases[ann.Alias] = struct{}{}
	}

	for _, p := range spec.Predicates {
		if err := r.validatePredicate(root, p, aliases); err != nil {
			result = multierror.Append(result, err)
		}
	}
	for _, p := range spec.Excludes {
		if err := r.validatePredicate(root, p, aliases); err != nil {
			result = multierror.Append(result, err)
		}
	}

	for _, path := range spec.SelectRelated {
		resolved, err := r.resolveFrom(root, path)
		if err != nil {
			result = multierror.Append(result, err)
			continue
		}
		if !resolved.IsRelation() {
			result = multierror.Append(result, &query.SchemaMismatchError{
				Entity: root.Name, Kind: "select_related", Name: path, Reason: "not a relation",
			})
			continue
		}
		for _, hop := range resolved.Hops {
			if hop.Many() {
				result = multierror.Append(result, &query.SchemaMismatchError{
					Entity: root.Name, Kind: "select_related", Name: path,
					Reason: hop.Relation.Name + " is multi-valued; use prefetch_related",
				})
				break
			}
		}
	}

	for _, path := range spec.PrefetchRelated {
		resolved, err := r.resolveFrom(root, path)
		if err != nil {
			result = multierror.Append(result, err)
			continue
		}
		if !resolved.IsRelation() {
			result = multierror.Append(result, &query.SchemaMismatchError{
				Entity: root.Name, Kind: "prefetch_related", Name: path, Reason: "not a relation",
			})
		}
	}

	for _, term := range spec.OrderBy {
		if _, ok := aliases[term.Field]; ok {
			continue
		}
		if _, ok := root.Field(term.Field); ok {
			continue
		}
		result = multierror.Append(result, &query.SchemaMismatchError{
			Entity: root.Name, Kind: "ordering", Name: term.Field,
		})
	}

	for _, name := range spec.Fields {
		if _, ok := aliases[name]; ok {
			continue
		}
		if _, ok := root.Field(name); ok {
			continue
		}
		result = multierror.Append(result, &query.SchemaMismatchError{
			Entity: root.Name, Kind: "field", Name: name, Reason: "not a field or annotation",
		})
	}

	return result.ErrorOrNil()
}

// ValidateAggregates checks whole-set aggregates. Only fields of the root
// entity may be aggregated over the whole result set.
func (r *Registry) ValidateAggregates(spec query.Spec, aggregates []query.Annotation) error {
	root, ok := r.entities[spec.Entity]
	if !ok {
		return &query.SchemaMismatchError{Entity: spec.Entity, Kind: "entity", Name: spec.Entity}
	}
	var result *multierror.Error
	for _, a := range aggregates {
		if err := r.validateExpr(root, a.Expr, false); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

func (r *Registry) validateExpr(root domain.EntityDescriptor, expr query.Expr, perRow bool) error {
	var result *multierror.Error
	query.WalkAggregates(expr, func(agg query.Aggregate) {
		resolved, err := r.resolveFrom(root, agg.Path)
		if err != nil {
			result = multierror.Append(result, err)
			return
		}
		if len(resolved.Hops) > 0 && !perRow {
			result = multierror.Append(result, &query.SchemaMismatchError{
				Entity: root.Name, Kind: "aggregate", Name: agg.Path,
				Reason: "whole-set aggregates accept fields of " + root.Name + " only",
			})
			return
		}
		if resolved.IsRelation() && agg.Func != query.AggCount {
			result = multierror.Append(result, &query.SchemaMismatchError{
				Entity: root.Name, Kind: "aggregate", Name: agg.Path,
				Reason: string(agg.Func) + " needs a field, not a relation",
			})
			return
		}
		if agg.Filter != nil {
			// The filter applies to the rows being aggregated.
			if err := r.validatePredicate(resolved.Owner, agg.Filter, nil); err != nil {
				result = multierror.Append(result, err)
			}
		}
	})
	return result.ErrorOrNil()
}

func (r *Registry) validatePredicate(root domain.EntityDescriptor, p query.Predicate, aliases map[string]struct{}) error {
	var result *multierror.Error
	query.Walk(p, func(leaf query.Leaf) {
		if !leaf.Op().Valid() {
			result = multierror.Append(result, &query.InvalidOperatorError{Field: leaf.Field(), Operator: string(leaf.Op())})
			return
		}
		if _, ok := aliases[leaf.Field()]; ok {
			return
		}
		resolved, err := r.resolveFrom(root, leaf.Field())
		if err != nil {
			result = multierror.Append(result, err)
			return
		}
		if resolved.IsRelation() && leaf.Op() != query.OpIsNull {
			result = multierror.Append(result, &query.SchemaMismatchError{
				Entity: root.Name, Kind: "field", Name: leaf.Field(),
				Reason: "relations can only be tested with isnull",
			})
		}
	})
	return result.ErrorOrNil()
}
