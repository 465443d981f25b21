package repository

import (
	"context"
	"errors"
	"sort"
	"testing"

	"go.uber.org/goleak"

	"github.com/rpattn/querykit/internal/db"
	"github.com/rpattn/querykit/internal/domain"
	"github.com/rpattn/querykit/internal/query"
	"github.com/rpattn/querykit/internal/review"
	"github.com/rpattn/querykit/internal/sqlgen"
	"github.com/rpattn/querykit/internal/testutil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newExecutor(t *testing.T) *RecordExecutor {
	t.Helper()
	reg, err := review.Registry()
	if err != nil {
		t.Fatalf("load registry: %v", err)
	}
	conn := testutil.NewSQLite(t, reg)
	testutil.SeedReviews(t, conn)
	return NewRecordExecutor(conn, reg, sqlgen.SQLite)
}

func shop(exec query.Executor, id int64) *query.Builder {
	return query.New("review", exec).Filter(query.Eq("shop_id", id))
}

func ids(t *testing.T, records []domain.Record) []int64 {
	t.Helper()
	out := make([]int64, 0, len(records))
	for _, r := range records {
		id, ok := r.Int64("id")
		if !ok {
			t.Fatalf("record without id: %#v", r.Values)
		}
		out = append(out, id)
	}
	return out
}

func sortedIDs(t *testing.T, records []domain.Record) []int64 {
	out := ids(t, records)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func equalIDs(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestExecuteCount_HighRatingInShop(t *testing.T) {
	exec := newExecutor(t)

	n, err := shop(exec, 7).Filter(query.Gte("ratings", 4)).OrderBy("-ratings").Count(context.Background())
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 reviews rated 4 or higher, got %d", n)
	}
}

func TestExecuteFetch_MediaReviewsAreDistinct(t *testing.T) {
	exec := newExecutor(t)

	records, err := shop(exec, 7).
		OrFilter(query.IsNull("review_photo_set", false), query.IsNull("review_video_set", false)).
		Distinct().
		List(context.Background())
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if got := sortedIDs(t, records); !equalIDs(got, []int64{1, 3, 4}) {
		t.Fatalf("expected reviews [1 3 4], got %v", got)
	}

	n, err := shop(exec, 7).
		OrFilter(query.IsNull("review_photo_set", false), query.IsNull("review_video_set", false)).
		Distinct().
		Count(context.Background())
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected count 3, got %d", n)
	}
}

func TestExecuteFetch_CoercesFieldTypes(t *testing.T) {
	exec := newExecutor(t)

	rec, err := shop(exec, 7).Get(context.Background(), query.Eq("id", 3))
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	deleted, ok := rec.Values["is_deleted"].(bool)
	if !ok || !deleted {
		t.Fatalf("expected is_deleted=true as bool, got %#v", rec.Values["is_deleted"])
	}
	r := domain.ReviewFromRecord(rec)
	if !r.CreatedAt.Equal(testutil.Day(5)) {
		t.Fatalf("unexpected created_at %v", r.CreatedAt)
	}
}

func TestExecuteFetch_SelectRelated(t *testing.T) {
	exec := newExecutor(t)

	records, err := shop(exec, 7).
		SelectRelated("product_fk", "order_item_fk__order_fk").
		OrderBy("pk").
		List(context.Background())
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if len(records) != 5 {
		t.Fatalf("expected 5 records, got %d", len(records))
	}

	product, ok := records[0].One("product_fk")
	if !ok || product.String("name") != "Running Shoe" {
		t.Fatalf("expected review 1 to carry its product, got %#v", records[0].Related)
	}
	item, ok := records[0].One("order_item_fk")
	if !ok {
		t.Fatalf("expected review 1 to carry its order item")
	}
	order, ok := item.One("order_fk")
	if !ok || order.String("order_number") != "A-100" {
		t.Fatalf("expected nested order A-100, got %#v", item.Related)
	}

	last := records[4]
	if _, loaded := last.Related["product_fk"]; !loaded {
		t.Fatalf("expected product_fk key to be present for review 5")
	}
	if _, ok := last.One("product_fk"); ok {
		t.Fatalf("review 5 has no product")
	}
}

func TestExecuteFetch_PrefetchRelated(t *testing.T) {
	exec := newExecutor(t)

	records, err := shop(exec, 7).
		PrefetchRelated("review_photo_set", "review_badge", "order_item_fk__order_fk").
		OrderBy("pk").
		List(context.Background())
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}

	photos := map[int64]int{}
	badges := map[int64]int{}
	for _, r := range records {
		id, _ := r.Int64("id")
		photos[id] = len(r.Many("review_photo_set"))
		badges[id] = len(r.Many("review_badge"))
	}
	wantPhotos := map[int64]int{1: 2, 2: 0, 3: 1, 4: 0, 5: 0}
	wantBadges := map[int64]int{1: 2, 2: 1, 3: 0, 4: 0, 5: 0}
	for id := range wantPhotos {
		if photos[id] != wantPhotos[id] || badges[id] != wantBadges[id] {
			t.Fatalf("review %d: photos=%d badges=%d, want %d/%d", id, photos[id], badges[id], wantPhotos[id], wantBadges[id])
		}
	}

	item, ok := records[1].One("order_item_fk")
	if !ok {
		t.Fatalf("expected review 2 order item to be prefetched")
	}
	if order, ok := item.One("order_fk"); !ok || order.String("order_number") != "A-101" {
		t.Fatalf("expected nested prefetch of order A-101, got %#v", item.Related)
	}
}

func TestExecuteFetch_AnnotationFilterAndOrdering(t *testing.T) {
	exec := newExecutor(t)

	b, err := shop(exec, 7).Annotate("engagement_score",
		query.Add(query.Count("review_badge"), query.Count("review_photo_set")))
	if err != nil {
		t.Fatalf("annotate: %v", err)
	}
	records, err := b.Filter(query.Gt("engagement_score", 0)).OrderBy("-engagement_score", "-ratings").List(context.Background())
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if got := ids(t, records); !equalIDs(got, []int64{1, 2, 3}) {
		t.Fatalf("expected [1 2 3], got %v", got)
	}
	if score, _ := records[0].Int64("engagement_score"); score != 4 {
		t.Fatalf("expected review 1 engagement 4, got %v", records[0].Values["engagement_score"])
	}
}

func TestExecuteFetch_TextSearchAcrossRelation(t *testing.T) {
	exec := newExecutor(t)

	records, err := shop(exec, 7).
		OrFilter(query.IContains("content", "SHOE"), query.IContains("product_fk__name", "shoe")).
		List(context.Background())
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if got := sortedIDs(t, records); !equalIDs(got, []int64{1, 2}) {
		t.Fatalf("expected [1 2], got %v", got)
	}
}

func TestExecuteAggregate_Statistics(t *testing.T) {
	exec := newExecutor(t)

	stats, err := shop(exec, 7).Filter(query.Eq("posting_status", domain.PostingStatusPublished)).Aggregate(context.Background(),
		query.Annotation{Alias: "total_count", Expr: query.Count("id")},
		query.Annotation{Alias: "avg_rating", Expr: query.Avg("ratings")},
		query.Annotation{Alias: "total_points", Expr: query.Sum("total_point")},
		query.Annotation{Alias: "with_photos", Expr: query.CountWhere("id", query.IsNull("review_photo_set", false))},
	)
	if err != nil {
		t.Fatalf("aggregate failed: %v", err)
	}
	if stats["total_count"] != int64(4) {
		t.Fatalf("expected 4 published reviews, got %#v", stats["total_count"])
	}
	if stats["avg_rating"] != 3.25 {
		t.Fatalf("expected avg 3.25, got %#v", stats["avg_rating"])
	}
	if stats["total_points"] != int64(150) {
		t.Fatalf("expected 150 points, got %#v", stats["total_points"])
	}
	if stats["with_photos"] != int64(2) {
		t.Fatalf("expected 2 reviews with photos, got %#v", stats["with_photos"])
	}
}

func TestExecuteFetch_SchemaMismatch(t *testing.T) {
	exec := newExecutor(t)

	_, err := shop(exec, 7).Filter(query.Gte("rating", 4)).List(context.Background())
	var mismatch *query.SchemaMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("expected SchemaMismatchError, got %v", err)
	}

	_, err = shop(exec, 7).OrderBy("product_fk__name").Count(context.Background())
	if err != nil {
		t.Fatalf("count drops ordering and should succeed, got %v", err)
	}
}

func TestExecuteFetch_SliceAndTerminals(t *testing.T) {
	exec := newExecutor(t)
	ctx := context.Background()

	page, err := shop(exec, 7).OrderBy("-created_at").Slice(1, 3).List(ctx)
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if got := ids(t, page); !equalIDs(got, []int64{4, 3}) {
		t.Fatalf("expected [4 3], got %v", got)
	}

	first, ok, err := shop(exec, 7).First(ctx)
	if err != nil || !ok {
		t.Fatalf("first: ok=%v err=%v", ok, err)
	}
	last, ok, err := shop(exec, 7).Last(ctx)
	if err != nil || !ok {
		t.Fatalf("last: ok=%v err=%v", ok, err)
	}
	if got := ids(t, []domain.Record{first, last}); !equalIDs(got, []int64{1, 5}) {
		t.Fatalf("expected first/last [1 5], got %v", got)
	}

	if _, err := shop(exec, 7).Get(ctx, query.Eq("ratings", 9)); !errors.Is(err, query.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := shop(exec, 7).Get(ctx); !errors.Is(err, query.ErrMultipleRecords) {
		t.Fatalf("expected ErrMultipleRecords, got %v", err)
	}

	exists, err := shop(exec, 8).Exists(ctx)
	if err != nil || !exists {
		t.Fatalf("expected shop 8 to have reviews: %v %v", exists, err)
	}
	exists, err = shop(exec, 9).Exists(ctx)
	if err != nil || exists {
		t.Fatalf("expected shop 9 to have no reviews: %v %v", exists, err)
	}
}

type downQuerier struct {
	err error
}

func (q downQuerier) Query(context.Context, string, ...any) (db.Rows, error) { return nil, q.err }
func (q downQuerier) Close() {}

func TestExecutorUnavailable_SurfacedVerbatim(t *testing.T) {
	reg, err := review.Registry()
	if err != nil {
		t.Fatalf("load registry: %v", err)
	}
	down := &query.ExecutorUnavailableError{Executor: "sqlite", Err: errors.New("connection refused")}
	exec := NewRecordExecutor(downQuerier{err: down}, reg, sqlgen.SQLite)

	_, err = shop(exec, 7).Count(context.Background())
	if err != down {
		t.Fatalf("expected the unavailable error verbatim, got %v", err)
	}

	_, err = shop(exec, 7).List(context.Background())
	if err != down {
		t.Fatalf("expected the unavailable error verbatim, got %v", err)
	}
}

func TestExecutorUnavailable_ClosedDatabase(t *testing.T) {
	reg, err := review.Registry()
	if err != nil {
		t.Fatalf("load registry: %v", err)
	}
	conn := testutil.NewSQLite(t, reg)
	exec := NewRecordExecutor(conn, reg, sqlgen.SQLite)
	conn.Close()

	var unavailable *query.ExecutorUnavailableError
	_, err = shop(exec, 7).Count(context.Background())
	if !errors.As(err, &unavailable) {
		t.Fatalf("expected an unavailable error from a closed database, got %v", err)
	}
	_, err = shop(exec, 7).List(context.Background())
	if !errors.As(err, &unavailable) {
		t.Fatalf("expected an unavailable error from a closed database, got %v", err)
	}
}

func TestCoerce(t *testing.T) {
	if coerce(domain.FieldTypeBoolean, int64(1)) != true {
		t.Fatalf("expected 1 to coerce to true")
	}
	if coerce(domain.FieldTypeFloat, int64(2)) != float64(2) {
		t.Fatalf("expected int to coerce to float")
	}
	if coerce(domain.FieldTypeString, []byte("x")) != "x" {
		t.Fatalf("expected bytes to coerce to string")
	}
	if _, ok := coerce(domain.FieldTypeTimestamp, "2024-05-01 00:00:00+00:00").(interface{ Unix() int64 }); !ok {
		t.Fatalf("expected timestamp text to parse")
	}
}
