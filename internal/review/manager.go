package review

import (
	"context"
	"fmt"
	"time"

	"github.com/rpattn/querykit/internal/domain"
	"github.com/rpattn/querykit/internal/manager"
	"github.com/rpattn/querykit/internal/query"
	"github.com/rpattn/querykit/internal/schema"
)

// Review types.
const (
	TypeNormal = "NORMAL"
	TypeSNS    = "SNS"
)

// Relations used by the review entry points.
const (
	RelProduct    = "product_fk"
	RelOrderItem  = "order_item_fk"
	RelOrder      = "order_item_fk__order_fk"
	RelPhotos     = "review_photo_set"
	RelVideos     = "review_video_set"
	RelBadges     = "review_badge"
	trendingLimit = 10
)

// Manager exposes the review reads of a shop. Every entry point returns a new
// builder seeded with the shop scope, so callers may keep refining it.
type Manager struct {
	*manager.Manager
}

// NewManager creates a review manager over exec using the review entity of registry.
func NewManager(registry *schema.Registry, exec query.Executor) (*Manager, error) {
	desc, ok := registry.Entity(EntityName)
	if !ok {
		return nil, fmt.Errorf("registry has no %q entity", EntityName)
	}
	return &Manager{Manager: manager.New(desc, ScopeField, exec)}, nil
}

// GetByShop returns the reviews of shopID.
func (m *Manager) GetByShop(shopID int64) *query.Builder {
	return m.GetByScope(shopID)
}

func (m *Manager) published(shopID int64) *query.Builder {
	return m.GetByShop(shopID).Filter(query.Eq("posting_status", domain.PostingStatusPublished))
}

func hasMedia() query.Predicate {
	return query.Or(query.IsNull(RelPhotos, false), query.IsNull(RelVideos, false))
}

// Published returns published reviews that are not soft-deleted.
func (m *Manager) Published(shopID int64) *query.Builder {
	return m.published(shopID).Filter(query.Eq("is_deleted", false))
}

// HighRating returns published reviews rated minRating or higher, best first.
func (m *Manager) HighRating(shopID, minRating int64) *query.Builder {
	return m.GetByShop(shopID).
		Filter(query.Gte("ratings", minRating)).
		Filter(query.Eq("posting_status", domain.PostingStatusPublished)).
		OrderBy("-ratings", "-created_at")
}

// WithMedia returns reviews with at least one photo or video, media prefetched.
func (m *Manager) WithMedia(shopID int64) *query.Builder {
	return m.GetByShop(shopID).
		OrFilter(query.IsNull(RelPhotos, false), query.IsNull(RelVideos, false)).
		PrefetchRelated(RelPhotos, RelVideos).
		Distinct()
}

// ProductReviewsWithStats returns the published reviews of a product with
// badge and photo counts.
func (m *Manager) ProductReviewsWithStats(shopID, productID int64) (*query.Builder, error) {
	b := m.published(shopID).
		Filter(query.Eq("product_id", productID)).
		SelectRelated(RelProduct, RelOrder).
		PrefetchRelated(RelBadges, RelPhotos)
	b, err := b.Annotate("badge_count", query.Count(RelBadges))
	if err != nil {
		return nil, err
	}
	b, err = b.Annotate("photo_count", query.Count(RelPhotos))
	if err != nil {
		return nil, err
	}
	return b.OrderBy("-created_at"), nil
}

// ByDateRange returns reviews created on any day from start through end, newest first.
func (m *Manager) ByDateRange(shopID int64, start, end time.Time) *query.Builder {
	return m.GetByShop(shopID).
		Filter(query.Gte("created_at", startOfDay(start))).
		Filter(query.Lt("created_at", startOfDay(end).AddDate(0, 0, 1))).
		OrderBy("-created_at")
}

func startOfDay(t time.Time) time.Time {
	y, mo, d := t.Date()
	return time.Date(y, mo, d, 0, 0, 0, 0, t.Location())
}

// SNSPending returns SNS reviews whose authorization is still outstanding.
func (m *Manager) SNSPending(shopID int64) *query.Builder {
	return m.GetByShop(shopID).
		Filter(query.Eq("review_type", TypeSNS)).
		Filter(query.Eq("is_sns_completed", false)).
		Filter(query.IsNull("sns_deauthed_at", true)).
		SelectRelated(RelProduct)
}

// ReviewFilter holds the optional criteria of WithComplexFilter. Zero values are ignored.
type ReviewFilter struct {
	MinRating  *int64
	MaxRating  *int64
	SearchText string
	HasMedia   bool
	HasBadge   bool
}

func textSearch(text string) query.Predicate {
	return query.Or(query.IContains("content", text), query.IContains(RelProduct+"__name", text))
}

// WithComplexFilter applies f on top of the shop scope.
func (m *Manager) WithComplexFilter(shopID int64, f ReviewFilter) (*query.Builder, error) {
	b := m.GetByShop(shopID)
	if f.MinRating != nil {
		b = b.Filter(query.Gte("ratings", *f.MinRating))
	}
	if f.MaxRating != nil {
		b = b.Filter(query.Lte("ratings", *f.MaxRating))
	}
	if f.SearchText != "" {
		b = b.Where(textSearch(f.SearchText))
	}
	if f.HasMedia {
		b = b.Where(hasMedia()).Distinct()
	}
	if f.HasBadge {
		b = b.Filter(query.IsNull(RelBadges, false)).Distinct()
	}

	b, err := b.SelectRelated(RelProduct, RelOrder).
		PrefetchRelated(RelBadges, RelPhotos).
		Annotate("badge_count", query.Count(RelBadges))
	if err != nil {
		return nil, err
	}
	return b.OrderBy("-created_at"), nil
}

// Statistics summarizes the published reviews of a shop.
func (m *Manager) Statistics(ctx context.Context, shopID int64) (map[string]any, error) {
	return m.published(shopID).Aggregate(ctx,
		query.Annotation{Alias: "total_count", Expr: query.Count("id")},
		query.Annotation{Alias: "avg_rating", Expr: query.Avg("ratings")},
		query.Annotation{Alias: "total_points", Expr: query.Sum("total_point")},
	)
}

// BadgeCreatable returns published reviews holding fewer than maxBadges badges.
func (m *Manager) BadgeCreatable(shopID, maxBadges int64) (*query.Builder, error) {
	b, err := m.published(shopID).Annotate("badge_count", query.Count(RelBadges))
	if err != nil {
		return nil, err
	}
	return b.Filter(query.Lt("badge_count", maxBadges)).PrefetchRelated(RelBadges), nil
}

// SearchParams holds the optional criteria of SearchAdvanced. Zero values are ignored.
type SearchParams struct {
	Keyword   string
	MinRating int64
	HasMedia  bool
}

// SearchAdvanced is the keyword search used by the review admin screen.
func (m *Manager) SearchAdvanced(shopID int64, p SearchParams) (*query.Builder, error) {
	b := m.GetByShop(shopID)
	if p.Keyword != "" {
		b = b.Where(textSearch(p.Keyword))
	}
	if p.MinRating > 0 {
		b = b.Filter(query.Gte("ratings", p.MinRating))
	}
	if p.HasMedia {
		b = b.Where(hasMedia())
	}

	b = b.SelectRelated(RelProduct).PrefetchRelated(RelBadges, RelPhotos)
	b, err := b.Annotate("badge_count", query.Count(RelBadges))
	if err != nil {
		return nil, err
	}
	b, err = b.Annotate("media_count", query.Count(RelPhotos))
	if err != nil {
		return nil, err
	}
	return b.Distinct().OrderBy("-created_at"), nil
}

// Trending returns up to ten well-rated reviews created since the given time
// that have badges or photos, most engaging first.
func (m *Manager) Trending(shopID int64, since time.Time) (*query.Builder, error) {
	b, err := m.GetByShop(shopID).
		Filter(query.Gte("created_at", since)).
		Filter(query.Gte("ratings", 4)).
		Annotate("engagement_score", query.Add(query.Count(RelBadges), query.Count(RelPhotos)))
	if err != nil {
		return nil, err
	}
	return b.Filter(query.Gt("engagement_score", 0)).
		SelectRelated(RelProduct).
		PrefetchRelated(RelBadges, RelPhotos).
		OrderBy("-engagement_score", "-ratings").
		Slice(0, trendingLimit), nil
}

// NeedingAttention returns published reviews that are low rated or flagged,
// lowest rating first.
func (m *Manager) NeedingAttention(shopID int64) (*query.Builder, error) {
	b, err := m.GetByShop(shopID).
		OrFilter(query.Lte("ratings", 2), query.Eq("is_alert", true)).
		Filter(query.Eq("posting_status", domain.PostingStatusPublished)).
		SelectRelated(RelProduct).
		Annotate("priority_score", query.Sub(query.Lit(5), query.Max("ratings")))
	if err != nil {
		return nil, err
	}
	return b.OrderBy("-priority_score", "-created_at"), nil
}

// ProductStats summarizes the published reviews of one product.
func (m *Manager) ProductStats(ctx context.Context, shopID, productID int64) (map[string]any, error) {
	return m.published(shopID).
		Filter(query.Eq("product_id", productID)).
		Aggregate(ctx,
			query.Annotation{Alias: "total_reviews", Expr: query.Count("id")},
			query.Annotation{Alias: "avg_rating", Expr: query.Avg("ratings")},
			query.Annotation{Alias: "reviews_with_photos", Expr: query.CountWhere("id", query.IsNull(RelPhotos, false))},
		)
}
