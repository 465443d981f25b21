package domain

import "time"

// Posting statuses used by reviews.
const (
	PostingStatusPublished = "published"
	PostingStatusHidden    = "hidden"
)

// Review is a typed view over a review record.
type Review struct {
	ID             int64
	ShopID         int64
	ProductID      int64
	Content        string
	Ratings        int64
	PostingStatus  string
	ReviewType     string
	IsDeleted      bool
	IsAlert        bool
	IsSNSCompleted bool
	TotalPoint     int64
	CreatedAt      time.Time
}

// ReviewFromRecord maps a review record onto the typed view. Missing values are
// left at their zero value.
func ReviewFromRecord(r Record) Review {
	review := Review{
		Content:       r.String("content"),
		PostingStatus: r.String("posting_status"),
		ReviewType:    r.String("review_type"),
	}
	review.ID, _ = r.Int64("id")
	review.ShopID, _ = r.Int64("shop_id")
	review.ProductID, _ = r.Int64("product_id")
	review.Ratings, _ = r.Int64("ratings")
	review.IsDeleted = boolValue(r.Values["is_deleted"])
	review.IsAlert = boolValue(r.Values["is_alert"])
	review.IsSNSCompleted = boolValue(r.Values["is_sns_completed"])
	review.TotalPoint, _ = r.Int64("total_point")
	if ts, ok := r.Values["created_at"].(time.Time); ok {
		review.CreatedAt = ts
	}
	return review
}

func boolValue(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case int64:
		return b != 0
	default:
		return false
	}
}
