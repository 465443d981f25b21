package memory

import (
	"sort"

	"github.com/rpattn/querykit/internal/domain"
	"github.com/rpattn/querykit/internal/query"
	"github.com/rpattn/querykit/internal/schema"
)

// related returns the records of hop's target linked to rec, in table order.
func (s *snapshot) related(hop schema.Hop, rec domain.Record) []domain.Record {
	key, _ := rec.Get(hop.SourceKey.Name)
	if key == nil {
		return nil
	}
	return s.index(hop.Target.Name, hop.TargetKey.Name)[keyOf(key)]
}

func (s *snapshot) index(entity, field string) map[any][]domain.Record {
	name := entity + "." + field
	if idx, ok := s.indexes[name]; ok {
		return idx
	}
	idx := make(map[any][]domain.Record)
	for _, r := range s.tables[entity] {
		v, _ := r.Get(field)
		if v == nil {
			continue
		}
		k := keyOf(v)
		idx[k] = append(idx[k], r)
	}
	s.indexes[name] = idx
	return idx
}

// reach follows every hop and returns the records at the end of the chain.
// A missing link drops the branch, like an inner join.
func (s *snapshot) reach(hops []schema.Hop, rec domain.Record) []domain.Record {
	current := []domain.Record{rec}
	for _, hop := range hops {
		var next []domain.Record
		for _, r := range current {
			next = append(next, s.related(hop, r)...)
		}
		current = next
	}
	return current
}

type relationNode struct {
	name     string
	hop      schema.Hop
	children []*relationNode
}

// relationTree merges relation paths so shared prefixes are loaded once.
func (s *snapshot) relationTree(root domain.EntityDescriptor, paths []string, kind string) ([]*relationNode, error) {
	var top []*relationNode
	for _, path := range paths {
		resolved, err := s.registry.ResolvePath(root.Name, path)
		if err != nil {
			return nil, err
		}
		if !resolved.IsRelation() {
			return nil, &query.SchemaMismatchError{Entity: root.Name, Kind: kind, Name: path, Reason: "not a relation"}
		}
		level := &top
		for _, hop := range resolved.Hops {
			var node *relationNode
			for _, n := range *level {
				if n.name == hop.Relation.Name {
					node = n
					break
				}
			}
			if node == nil {
				node = &relationNode{name: hop.Relation.Name, hop: hop}
				*level = append(*level, node)
			}
			level = &node.children
		}
	}
	return top, nil
}

// join attaches join-style loads. A missing target leaves the relation empty
// and its own children unloaded.
func (s *snapshot) join(rec domain.Record, nodes []*relationNode) domain.Record {
	for _, n := range nodes {
		var loaded []domain.Record
		if targets := s.related(n.hop, rec); len(targets) > 0 {
			loaded = []domain.Record{s.join(targets[0], n.children)}
		}
		rec = rec.WithRelated(n.name, loaded)
	}
	return rec
}

// prefetch attaches batch-style loads, each relation ordered by primary key.
func (s *snapshot) prefetch(records []domain.Record, nodes []*relationNode) []domain.Record {
	if len(nodes) == 0 {
		return records
	}
	out := make([]domain.Record, len(records))
	for i, rec := range records {
		for _, n := range nodes {
			loaded := sortByPrimaryKey(n.hop.Target, s.related(n.hop, rec))
			rec = rec.WithRelated(n.name, s.prefetch(loaded, n.children))
		}
		out[i] = rec
	}
	return out
}

func sortByPrimaryKey(desc domain.EntityDescriptor, records []domain.Record) []domain.Record {
	pk := desc.PrimaryKeyField()
	sorted := append([]domain.Record(nil), records...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return compareNullable(sorted[i].Values[pk], sorted[j].Values[pk]) < 0
	})
	return sorted
}
