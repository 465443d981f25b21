package entityloader

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/graph-gophers/dataloader"

	"github.com/rpattn/querykit/internal/domain"
	"github.com/rpattn/querykit/internal/schema"
)

// FetchFunc loads every Target row of hop whose TargetKey is in keys.
type FetchFunc func(ctx context.Context, hop schema.Hop, keys []any) ([]domain.Record, error)

// RelationLoader batches related-record lookups for one relation hop. Every
// key resolves to the related records whose TargetKey equals it, in the order
// the fetch returned them.
type RelationLoader struct {
	Loader *dataloader.Loader
	hop    schema.Hop
}

// relationKey carries the raw key value through the loader.
type relationKey struct {
	raw any
}

func (k relationKey) String() string { return keyString(k.raw) }
func (k relationKey) Raw() interface{} { return k.raw }

// NewRelationLoader returns a loader for hop backed by fetch.
func NewRelationLoader(hop schema.Hop, fetch FetchFunc) *RelationLoader {
	batchFn := func(ctx context.Context, keys dataloader.Keys) []*dataloader.Result {
		raw := make([]any, len(keys))
		for i, k := range keys {
			raw[i] = k.Raw()
		}

		records, err := fetch(ctx, hop, raw)
		if err != nil {
			results := make([]*dataloader.Result, len(keys))
			for i := range results {
				results[i] = &dataloader.Result{Error: err}
			}
			return results
		}

		// Group by target key so results line up with keys
		grouped := make(map[string][]domain.Record)
		for _, rec := range records {
			v, _ := rec.Get(hop.TargetKey.Name)
			grouped[keyString(v)] = append(grouped[keyString(v)], rec)
		}

		results := make([]*dataloader.Result, len(keys))
		for i, k := range keys {
			results[i] = &dataloader.Result{Data: grouped[k.String()]}
		}
		return results
	}

	loader := dataloader.NewBatchedLoader(batchFn, dataloader.WithWait(5*time.Millisecond))

	return &RelationLoader{Loader: loader, hop: hop}
}

// LoadMany resolves the related records for each key. The returned slice is
// parallel to keys. Nil keys resolve to no records without a lookup.
func (l *RelationLoader) LoadMany(ctx context.Context, keys []any) ([][]domain.Record, error) {
	out := make([][]domain.Record, len(keys))
	lookup := make(dataloader.Keys, 0, len(keys))
	index := make([]int, 0, len(keys))
	for i, k := range keys {
		if k == nil {
			continue
		}
		lookup = append(lookup, relationKey{raw: k})
		index = append(index, i)
	}
	if len(lookup) == 0 {
		return out, nil
	}

	data, errs := l.Loader.LoadMany(ctx, lookup)()
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("load %s: %w", l.hop.Relation.Name, err)
	}
	for j, d := range data {
		if records, ok := d.([]domain.Record); ok {
			out[index[j]] = records
		}
	}
	return out, nil
}

func keyString(v any) string {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return fmt.Sprint(v)
}
