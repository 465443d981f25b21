package testutil

import (
	"github.com/rpattn/querykit/internal/domain"
	"github.com/rpattn/querykit/internal/schema"
)

type fixtureTable struct {
	entity string
	rows   []map[string]any
}

// reviewFixture is the data shared by SeedReviews and ReviewRecords.
//
// Shop 7 owns reviews 1-5; two of them (1, 2) are rated 4 or higher. Reviews
// 1, 3 and 4 have media; review 1 has both photos and a video. Review 3 is
// soft-deleted, review 4 hidden, review 5 has no product. Shop 8 owns review 6.
func reviewFixture() []fixtureTable {
	review := func(id, shop int64, product, item any, content string, ratings int64, status, kind string, deleted, alert bool, points int64, day int) map[string]any {
		return map[string]any{
			"id": id, "shop_id": shop, "product_id": product, "order_item_id": item,
			"content": content, "ratings": ratings, "posting_status": status, "review_type": kind,
			"is_deleted": deleted, "is_alert": alert, "is_sns_completed": false, "sns_deauthed_at": nil,
			"total_point": points, "created_at": Day(day),
		}
	}
	media := func(id, reviewID int64, url string) map[string]any {
		return map[string]any{"id": id, "review_id": reviewID, "url": url}
	}

	return []fixtureTable{
		{entity: "product", rows: []map[string]any{
			{"id": int64(1), "shop_id": int64(7), "name": "Running Shoe"},
			{"id": int64(2), "shop_id": int64(7), "name": "Wool Sock"},
			{"id": int64(3), "shop_id": int64(8), "name": "Hat"},
		}},
		{entity: "order", rows: []map[string]any{
			{"id": int64(1), "order_number": "A-100", "ordered_at": Day(1)},
			{"id": int64(2), "order_number": "A-101", "ordered_at": Day(2)},
		}},
		{entity: "order_item", rows: []map[string]any{
			{"id": int64(1), "order_id": int64(1), "product_id": int64(1), "quantity": int64(1)},
			{"id": int64(2), "order_id": int64(2), "product_id": int64(2), "quantity": int64(2)},
		}},
		{entity: "review_photo", rows: []map[string]any{
			media(1, 1, "https://cdn/1.jpg"),
			media(2, 1, "https://cdn/2.jpg"),
			media(3, 3, "http://cdn/3.jpg"),
			media(4, 6, "https://cdn/4.jpg"),
		}},
		{entity: "review_video", rows: []map[string]any{
			media(1, 1, "https://cdn/1.mp4"),
			media(2, 4, "https://cdn/2.mp4"),
		}},
		{entity: "review_badge", rows: []map[string]any{
			{"id": int64(1), "review_id": int64(1), "badge_type": "best"},
			{"id": int64(2), "review_id": int64(1), "badge_type": "photo"},
			{"id": int64(3), "review_id": int64(2), "badge_type": "best"},
		}},
		{entity: "review", rows: []map[string]any{
			review(1, 7, int64(1), int64(1), "Great shoe, fits well", 5, "published", "NORMAL", false, false, 100, 1),
			review(2, 7, int64(1), int64(2), "Good value", 4, "published", "SNS", false, false, 50, 3),
			review(3, 7, int64(2), nil, "ok I guess", 3, "published", "NORMAL", true, false, 0, 5),
			review(4, 7, int64(2), nil, "Bad stitching", 2, "hidden", "NORMAL", false, true, 10, 7),
			review(5, 7, nil, nil, "Terrible", 1, "published", "NORMAL", false, false, 0, 9),
			review(6, 8, int64(3), nil, "Warm hat", 5, "published", "NORMAL", false, false, 20, 2),
		}},
	}
}

// ReviewRecords returns the review fixture as records keyed by entity, every
// declared field present (nil when the fixture leaves it out).
func ReviewRecords(registry *schema.Registry) map[string][]domain.Record {
	out := make(map[string][]domain.Record)
	for _, table := range reviewFixture() {
		desc, ok := registry.Entity(table.entity)
		if !ok {
			continue
		}
		for _, row := range table.rows {
			values := make(map[string]any, len(desc.Fields))
			for _, f := range desc.Fields {
				values[f.Name] = row[f.Name]
			}
			out[table.entity] = append(out[table.entity], domain.NewRecord(desc.Name, values))
		}
	}
	return out
}
