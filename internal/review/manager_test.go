package review_test

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/rpattn/querykit/internal/domain"
	"github.com/rpattn/querykit/internal/query"
	"github.com/rpattn/querykit/internal/repository"
	"github.com/rpattn/querykit/internal/review"
	"github.com/rpattn/querykit/internal/sqlgen"
	"github.com/rpattn/querykit/internal/testutil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newReviewManager(t *testing.T) *review.Manager {
	t.Helper()
	reg, err := review.Registry()
	require.NoError(t, err)
	conn := testutil.NewSQLite(t, reg)
	testutil.SeedReviews(t, conn)

	m, err := review.NewManager(reg, repository.NewRecordExecutor(conn, reg, sqlgen.SQLite))
	require.NoError(t, err)
	return m
}

func list(t *testing.T, b *query.Builder, err error) []domain.Record {
	t.Helper()
	require.NoError(t, err)
	records, err := b.List(context.Background())
	require.NoError(t, err)
	return records
}

func ids(records []domain.Record) []int64 {
	out := make([]int64, 0, len(records))
	for _, r := range records {
		id, _ := r.Int64("id")
		out = append(out, id)
	}
	return out
}

func sorted(records []domain.Record) []int64 {
	out := ids(records)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func ptr(v int64) *int64 { return &v }

func TestPublishedAndHighRating(t *testing.T) {
	m := newReviewManager(t)

	assert.Equal(t, []int64{1, 2, 5}, sorted(list(t, m.Published(7), nil)))
	assert.Equal(t, []int64{1, 2}, ids(list(t, m.HighRating(7, 4), nil)))
	assert.Equal(t, []int64{6}, ids(list(t, m.HighRating(8, 5), nil)))
}

func TestWithMediaPrefetchesMedia(t *testing.T) {
	m := newReviewManager(t)

	records := list(t, m.WithMedia(7), nil)
	require.Equal(t, []int64{1, 3, 4}, sorted(records))
	for _, r := range records {
		id, _ := r.Int64("id")
		switch id {
		case 1:
			assert.Len(t, r.Many(review.RelPhotos), 2)
			assert.Len(t, r.Many(review.RelVideos), 1)
		case 4:
			assert.Empty(t, r.Many(review.RelPhotos))
			assert.Len(t, r.Many(review.RelVideos), 1)
		}
	}
}

func TestProductReviewsWithStats(t *testing.T) {
	m := newReviewManager(t)

	b, err := m.ProductReviewsWithStats(7, 1)
	records := list(t, b, err)
	require.Equal(t, []int64{2, 1}, ids(records))

	first := records[1]
	badges, _ := first.Int64("badge_count")
	photos, _ := first.Int64("photo_count")
	assert.Equal(t, int64(2), badges)
	assert.Equal(t, int64(2), photos)

	product, ok := first.One(review.RelProduct)
	require.True(t, ok)
	assert.Equal(t, "Running Shoe", product.String("name"))

	item, ok := first.One(review.RelOrderItem)
	require.True(t, ok)
	order, ok := item.One("order_fk")
	require.True(t, ok)
	assert.Equal(t, "A-100", order.String("order_number"))
}

func TestByDateRange(t *testing.T) {
	m := newReviewManager(t)

	records := list(t, m.ByDateRange(7, testutil.Day(3).Add(15*time.Hour), testutil.Day(5)), nil)
	assert.Equal(t, []int64{3, 2}, ids(records))
}

func TestSNSPending(t *testing.T) {
	m := newReviewManager(t)

	records := list(t, m.SNSPending(7), nil)
	require.Equal(t, []int64{2}, ids(records))
	_, ok := records[0].One(review.RelProduct)
	assert.True(t, ok)
}

func TestWithComplexFilter(t *testing.T) {
	m := newReviewManager(t)

	tests := []struct {
		name   string
		filter review.ReviewFilter
		want   []int64
	}{
		{name: "no criteria", filter: review.ReviewFilter{}, want: []int64{1, 2, 3, 4, 5}},
		{name: "rating window", filter: review.ReviewFilter{MinRating: ptr(2), MaxRating: ptr(4)}, want: []int64{2, 3, 4}},
		{name: "text matches product name", filter: review.ReviewFilter{SearchText: "SOCK"}, want: []int64{3, 4}},
		{name: "text with min rating", filter: review.ReviewFilter{SearchText: "shoe", MinRating: ptr(3)}, want: []int64{1, 2}},
		{name: "media", filter: review.ReviewFilter{HasMedia: true}, want: []int64{1, 3, 4}},
		{name: "badge", filter: review.ReviewFilter{HasBadge: true}, want: []int64{1, 2}},
		{name: "media and badge", filter: review.ReviewFilter{HasMedia: true, HasBadge: true}, want: []int64{1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := m.WithComplexFilter(7, tt.filter)
			assert.Equal(t, tt.want, sorted(list(t, b, err)))
		})
	}
}

func TestStatistics(t *testing.T) {
	m := newReviewManager(t)

	stats, err := m.Statistics(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, int64(4), stats["total_count"])
	assert.InDelta(t, 3.25, stats["avg_rating"], 1e-9)
	assert.Equal(t, int64(150), stats["total_points"])
}

func TestBadgeCreatable(t *testing.T) {
	m := newReviewManager(t)

	b, err := m.BadgeCreatable(7, 2)
	records := list(t, b, err)
	assert.Equal(t, []int64{2, 3, 5}, sorted(records))
	for _, r := range records {
		n, _ := r.Int64("badge_count")
		assert.Len(t, r.Many(review.RelBadges), int(n))
	}
}

func TestSearchAdvanced(t *testing.T) {
	m := newReviewManager(t)

	b, err := m.SearchAdvanced(7, review.SearchParams{Keyword: "shoe", HasMedia: true})
	records := list(t, b, err)
	require.Equal(t, []int64{1}, ids(records))
	media, _ := records[0].Int64("media_count")
	assert.Equal(t, int64(2), media)

	b, err = m.SearchAdvanced(7, review.SearchParams{MinRating: 3})
	assert.Equal(t, []int64{3, 2, 1}, ids(list(t, b, err)))
}

func TestTrending(t *testing.T) {
	m := newReviewManager(t)

	b, err := m.Trending(7, testutil.Day(1))
	records := list(t, b, err)
	require.Equal(t, []int64{1, 2}, ids(records))
	score, _ := records[0].Int64("engagement_score")
	assert.Equal(t, int64(4), score)

	b, err = m.Trending(7, testutil.Day(2))
	assert.Equal(t, []int64{2}, ids(list(t, b, err)))
}

func TestNeedingAttention(t *testing.T) {
	m := newReviewManager(t)

	b, err := m.NeedingAttention(7)
	records := list(t, b, err)
	require.Equal(t, []int64{5}, ids(records))
	priority, _ := records[0].Int64("priority_score")
	assert.Equal(t, int64(4), priority)
}

func TestProductStats(t *testing.T) {
	m := newReviewManager(t)

	stats, err := m.ProductStats(context.Background(), 7, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats["total_reviews"])
	assert.InDelta(t, 4.5, stats["avg_rating"], 1e-9)
	assert.Equal(t, int64(1), stats["reviews_with_photos"])
}

func TestLegacyGetList(t *testing.T) {
	m := newReviewManager(t)

	records, err := m.GetList(context.Background(), int64(7), map[string]any{"ratings__lte": 2}, []string{review.RelProduct})
	require.NoError(t, err)
	assert.Equal(t, []int64{4, 5}, sorted(records))
}
