package entityloader

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/rpattn/querykit/internal/domain"
	"github.com/rpattn/querykit/internal/schema"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func photoHop() schema.Hop {
	return schema.Hop{
		Relation:  domain.RelationDefinition{Name: "review_photo_set", Kind: domain.RelationMany, Target: "review_photo", Column: "review_id"},
		TargetKey: domain.FieldDefinition{Name: "review_id", Type: domain.FieldTypeInteger},
	}
}

func photo(id, reviewID int64) domain.Record {
	return domain.NewRecord("review_photo", map[string]any{"id": id, "review_id": reviewID})
}

func TestRelationLoader_BatchesAndGroups(t *testing.T) {
	var (
		mu    sync.Mutex
		calls [][]any
	)
	fetch := func(_ context.Context, _ schema.Hop, keys []any) ([]domain.Record, error) {
		mu.Lock()
		calls = append(calls, keys)
		mu.Unlock()
		return []domain.Record{photo(10, 1), photo(11, 1), photo(12, 3)}, nil
	}

	loader := NewRelationLoader(photoHop(), fetch)
	got, err := loader.LoadMany(context.Background(), []any{int64(1), int64(2), nil, int64(3)})
	require.NoError(t, err)

	require.Len(t, calls, 1, "expected a single batched fetch")
	assert.ElementsMatch(t, []any{int64(1), int64(2), int64(3)}, calls[0])

	require.Len(t, got, 4)
	assert.Len(t, got[0], 2)
	assert.Empty(t, got[1])
	assert.Empty(t, got[2])
	require.Len(t, got[3], 1)
	id, _ := got[3][0].Int64("id")
	assert.Equal(t, int64(12), id)
}

func TestRelationLoader_PropagatesFetchError(t *testing.T) {
	boom := errors.New("boom")
	loader := NewRelationLoader(photoHop(), func(context.Context, schema.Hop, []any) ([]domain.Record, error) {
		return nil, boom
	})

	_, err := loader.LoadMany(context.Background(), []any{int64(1)})
	assert.ErrorIs(t, err, boom)
}

func TestRelationLoader_NoKeysSkipsFetch(t *testing.T) {
	loader := NewRelationLoader(photoHop(), func(context.Context, schema.Hop, []any) ([]domain.Record, error) {
		t.Fatal("fetch should not run without keys")
		return nil, nil
	})

	got, err := loader.LoadMany(context.Background(), []any{nil})
	require.NoError(t, err)
	assert.Equal(t, [][]domain.Record{nil}, got)
}
