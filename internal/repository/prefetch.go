package repository

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/rpattn/querykit/internal/domain"
	"github.com/rpattn/querykit/internal/entityloader"
	"github.com/rpattn/querykit/internal/query"
	"github.com/rpattn/querykit/internal/schema"
)

type prefetchNode struct {
	name     string
	hop      schema.Hop
	children []*prefetchNode
}

// prefetchTree merges relation paths into a tree so shared prefixes are
// loaded once.
func (e *RecordExecutor) prefetchTree(root domain.EntityDescriptor, paths []string) ([]*prefetchNode, error) {
	var top []*prefetchNode
	for _, path := range paths {
		resolved, err := e.registry.ResolvePath(root.Name, path)
		if err != nil {
			return nil, err
		}
		if !resolved.IsRelation() {
			return nil, &query.SchemaMismatchError{Entity: root.Name, Kind: "prefetch_related", Name: path, Reason: "not a relation"}
		}
		level := &top
		for _, hop := range resolved.Hops {
			var node *prefetchNode
			for _, n := range *level {
				if n.name == hop.Relation.Name {
					node = n
					break
				}
			}
			if node == nil {
				node = &prefetchNode{name: hop.Relation.Name, hop: hop}
				*level = append(*level, node)
			}
			level = &node.children
		}
	}
	return top, nil
}

func (e *RecordExecutor) prefetch(ctx context.Context, root domain.EntityDescriptor, records []domain.Record, paths []string) ([]domain.Record, error) {
	nodes, err := e.prefetchTree(root, paths)
	if err != nil {
		return nil, err
	}
	return e.attach(ctx, nodes, records)
}

// attach loads every node's relation for records concurrently, one batched
// query per relation, and returns copies of records with the results attached.
func (e *RecordExecutor) attach(ctx context.Context, nodes []*prefetchNode, records []domain.Record) ([]domain.Record, error) {
	if len(nodes) == 0 || len(records) == 0 {
		return records, nil
	}

	results := make([][][]domain.Record, len(nodes))
	g, gctx := errgroup.WithContext(ctx)
	for i, node := range nodes {
		g.Go(func() error {
			loaded, err := e.loadRelation(gctx, node, records)
			if err != nil {
				return err
			}
			results[i] = loaded
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]domain.Record, len(records))
	for j, rec := range records {
		for i, node := range nodes {
			rec = rec.WithRelated(node.name, results[i][j])
		}
		out[j] = rec
	}
	return out, nil
}

// loadRelation returns, for each parent, the related records of node with
// the node's own children already attached.
func (e *RecordExecutor) loadRelation(ctx context.Context, node *prefetchNode, parents []domain.Record) ([][]domain.Record, error) {
	keys := make([]any, len(parents))
	for i, p := range parents {
		keys[i], _ = p.Get(node.hop.SourceKey.Name)
	}

	loader := entityloader.NewRelationLoader(node.hop, e.fetchRelated)
	grouped, err := loader.LoadMany(ctx, keys)
	if err != nil {
		return nil, err
	}
	if len(node.children) == 0 {
		return grouped, nil
	}

	var flat []domain.Record
	for _, g := range grouped {
		flat = append(flat, g...)
	}
	flat, err = e.attach(ctx, node.children, flat)
	if err != nil {
		return nil, err
	}

	offset := 0
	for i, g := range grouped {
		grouped[i] = flat[offset : offset+len(g)]
		offset += len(g)
	}
	return grouped, nil
}

func (e *RecordExecutor) fetchRelated(ctx context.Context, hop schema.Hop, keys []any) ([]domain.Record, error) {
	stmt, err := e.compiler.BatchLoad(hop, keys)
	if err != nil {
		return nil, err
	}
	rows, err := e.db.Query(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return nil, wrapQueryError(fmt.Sprintf("load %s", hop.Relation.Name), err)
	}
	h, err := e.newHydrator(hop.Target, stmt.Columns)
	if err != nil {
		rows.Close()
		return nil, err
	}
	records, err := h.readAll(rows)
	if err != nil {
		return nil, wrapQueryError(fmt.Sprintf("load %s", hop.Relation.Name), err)
	}
	return records, nil
}
