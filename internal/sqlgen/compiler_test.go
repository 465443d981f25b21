package sqlgen

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpattn/querykit/internal/query"
	"github.com/rpattn/querykit/internal/review"
	"github.com/rpattn/querykit/internal/schema"
)

func newCompiler(t *testing.T, d Dialect) *Compiler {
	t.Helper()
	reg, err := review.Registry()
	require.NoError(t, err)
	return NewCompiler(reg, d)
}

func reviews() *query.Builder { return query.New("review", nil) }

func TestParseDialect(t *testing.T) {
	for name, want := range map[string]Dialect{"postgres": Postgres, "pgx": Postgres, "SQLite3": SQLite} {
		got, err := ParseDialect(name)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseDialect("mysql")
	assert.Error(t, err)
}

func TestCount_Postgres(t *testing.T) {
	c := newCompiler(t, Postgres)
	spec := reviews().Filter(query.Eq("shop_id", 7), query.Gte("ratings", 4)).Spec()

	stmt, err := c.Count(spec)
	require.NoError(t, err)

	assert.Equal(t, `SELECT COUNT(*) FROM "review" t0 WHERE (t0."shop_id" = $1 AND t0."ratings" >= $2)`, stmt.SQL)
	assert.Equal(t, []any{7, 4}, stmt.Args)
}

func TestCount_DistinctWrapsFetch(t *testing.T) {
	c := newCompiler(t, SQLite)
	spec := reviews().
		Filter(query.Eq("shop_id", 7)).
		OrFilter(query.IsNull("review_photo_set", false), query.IsNull("review_video_set", false)).
		Distinct().
		Spec()

	stmt, err := c.Count(spec)
	require.NoError(t, err)

	assert.Contains(t, stmt.SQL, `SELECT COUNT(*) FROM (SELECT DISTINCT t0."id" AS "id"`)
	assert.Contains(t, stmt.SQL, `WHERE (t0."shop_id" = ?1 AND (`+
		`EXISTS (SELECT 1 FROM "review_photo" s1 WHERE s1."review_id" = t0."id") OR `+
		`EXISTS (SELECT 1 FROM "review_video" s2 WHERE s2."review_id" = t0."id")))) AS counted`)
	assert.Equal(t, []any{7}, stmt.Args)
}

func TestFetch_RelationIsNullTrue(t *testing.T) {
	c := newCompiler(t, Postgres)
	stmt, err := c.Fetch(reviews().Filter(query.IsNull("review_badge", true)).Spec())
	require.NoError(t, err)

	assert.Contains(t, stmt.SQL, `WHERE (NOT EXISTS (SELECT 1 FROM "review_badge" s1 WHERE s1."review_id" = t0."id"))`)
}

func TestFetch_RelationFieldLookup(t *testing.T) {
	c := newCompiler(t, Postgres)
	stmt, err := c.Fetch(reviews().Filter(query.IContains("product_fk__name", "Shoe")).Spec())
	require.NoError(t, err)

	assert.Contains(t, stmt.SQL,
		`EXISTS (SELECT 1 FROM "product" s1 WHERE s1."id" = t0."product_id" AND strpos(LOWER(s1."name"), LOWER($1)) > 0)`)
	assert.Equal(t, []any{"Shoe"}, stmt.Args)
}

func TestFetch_NestedRelationLookup(t *testing.T) {
	c := newCompiler(t, SQLite)
	stmt, err := c.Fetch(reviews().Filter(query.Eq("order_item_fk__order_fk__order_number", "A-1")).Spec())
	require.NoError(t, err)

	assert.Contains(t, stmt.SQL,
		`EXISTS (SELECT 1 FROM "order_item" s1 WHERE s1."id" = t0."order_item_id" AND `+
			`EXISTS (SELECT 1 FROM "order" s2 WHERE s2."id" = s1."order_id" AND s2."order_number" = ?1))`)
}

func TestFetch_In(t *testing.T) {
	t.Run("sqlite expands list", func(t *testing.T) {
		c := newCompiler(t, SQLite)
		stmt, err := c.Fetch(reviews().Filter(query.In("id", 1, 2, 3)).Spec())
		require.NoError(t, err)
		assert.Contains(t, stmt.SQL, `t0."id" IN (?1, ?2, ?3)`)
		assert.Equal(t, []any{1, 2, 3}, stmt.Args)
	})

	t.Run("postgres binds array", func(t *testing.T) {
		c := newCompiler(t, Postgres)
		stmt, err := c.Fetch(reviews().Filter(query.In("id", 1, 2)).Spec())
		require.NoError(t, err)
		assert.Contains(t, stmt.SQL, `t0."id" = ANY($1)`)
		assert.Equal(t, []any{[]any{1, 2}}, stmt.Args)
	})

	t.Run("empty matches nothing", func(t *testing.T) {
		c := newCompiler(t, SQLite)
		stmt, err := c.Fetch(reviews().Filter(query.In[int]("id")).Spec())
		require.NoError(t, err)
		assert.Contains(t, stmt.SQL, `WHERE (1 = 0)`)
		assert.Empty(t, stmt.Args)
	})
}

func TestFetch_ExcludeKeepsNullRows(t *testing.T) {
	c := newCompiler(t, SQLite)
	stmt, err := c.Fetch(reviews().Filter(query.Eq("shop_id", 7)).Exclude(query.Eq("posting_status", "hidden")).Spec())
	require.NoError(t, err)

	assert.Contains(t, stmt.SQL, `WHERE (t0."shop_id" = ?1 AND NOT COALESCE(t0."posting_status" = ?2, FALSE))`)
}

func TestFetch_ExcludeWhereAndExplicitNot(t *testing.T) {
	c := newCompiler(t, Postgres)
	spec := reviews().
		ExcludeWhere(query.Or(query.Eq("is_alert", true), query.Eq("is_deleted", true))).
		Where(query.Not(query.Eq("review_type", "SNS"))).
		Spec()
	stmt, err := c.Fetch(spec)
	require.NoError(t, err)

	assert.Contains(t, stmt.SQL, `WHERE (NOT (t0."review_type" = $1) AND `+
		`NOT COALESCE((t0."is_alert" = $2 OR t0."is_deleted" = $3), FALSE))`)
	assert.Equal(t, []any{"SNS", true, true}, stmt.Args)
}

func TestFetch_AnnotationAndAliasFilter(t *testing.T) {
	c := newCompiler(t, Postgres)
	b, err := reviews().Annotate("badge_count", query.Count("review_badge"))
	require.NoError(t, err)
	spec := b.Filter(query.Lt("badge_count", 3)).OrderBy("-badge_count").Spec()

	stmt, err := c.Fetch(spec)
	require.NoError(t, err)

	assert.Contains(t, stmt.SQL,
		`(SELECT COUNT(s1."id") FROM "review_badge" s1 WHERE s1."review_id" = t0."id") AS "badge_count"`)
	assert.Contains(t, stmt.SQL,
		`WHERE ((SELECT COUNT(s2."id") FROM "review_badge" s2 WHERE s2."review_id" = t0."id") < $1)`)
	assert.Contains(t, stmt.SQL, `ORDER BY "badge_count" DESC`)

	last := stmt.Columns[len(stmt.Columns)-1]
	assert.Equal(t, "badge_count", last.Name)
	assert.True(t, last.Annotation)
}

func TestFetch_ArithmeticAnnotation(t *testing.T) {
	c := newCompiler(t, SQLite)
	b, err := reviews().Annotate("priority_score", query.Sub(query.Lit(5), query.Count("ratings")))
	require.NoError(t, err)

	stmt, err := c.Fetch(b.Spec())
	require.NoError(t, err)
	assert.Contains(t, stmt.SQL, `(5 - CASE WHEN t0."ratings" IS NOT NULL THEN 1 ELSE 0 END) AS "priority_score"`)

	b, err = reviews().Annotate("engagement", query.Add(query.Count("review_badge"), query.Count("review_photo_set")))
	require.NoError(t, err)
	stmt, err = c.Fetch(b.Spec())
	require.NoError(t, err)
	assert.Contains(t, stmt.SQL, `((SELECT COUNT(s1."id") FROM "review_badge" s1 WHERE s1."review_id" = t0."id") + `+
		`(SELECT COUNT(s2."id") FROM "review_photo" s2 WHERE s2."review_id" = t0."id")) AS "engagement"`)
}

func TestFetch_SelectRelatedJoins(t *testing.T) {
	c := newCompiler(t, Postgres)
	spec := reviews().SelectRelated("product_fk", "order_item_fk__order_fk").Spec()

	stmt, err := c.Fetch(spec)
	require.NoError(t, err)

	assert.Contains(t, stmt.SQL, `FROM "review" t0 LEFT JOIN "product" j1 ON j1."id" = t0."product_id" `+
		`LEFT JOIN "order_item" j2 ON j2."id" = t0."order_item_id" `+
		`LEFT JOIN "order" j3 ON j3."id" = j2."order_id"`)
	assert.Contains(t, stmt.SQL, `j3."order_number" AS "order_item_fk__order_fk__order_number"`)

	paths := map[string]bool{}
	for _, col := range stmt.Columns {
		if col.PrimaryKey {
			paths[col.Path] = true
		}
	}
	assert.Equal(t, map[string]bool{"": true, "product_fk": true, "order_item_fk": true, "order_item_fk__order_fk": true}, paths)
}

func TestFetch_OrderLimitOffset(t *testing.T) {
	c := newCompiler(t, Postgres)
	stmt, err := c.Fetch(reviews().OrderBy("-created_at", "pk").Slice(10, 20).Spec())
	require.NoError(t, err)
	assert.Contains(t, stmt.SQL, `ORDER BY t0."created_at" DESC, t0."id" ASC LIMIT $1 OFFSET $2`)
	assert.Equal(t, []any{10, 10}, stmt.Args)

	c = newCompiler(t, SQLite)
	stmt, err = c.Fetch(reviews().Offset(5).Spec())
	require.NoError(t, err)
	assert.Contains(t, stmt.SQL, ` LIMIT -1 OFFSET ?1`)
}

func TestFetch_SchemaMismatch(t *testing.T) {
	c := newCompiler(t, Postgres)

	_, err := c.Fetch(reviews().Filter(query.Eq("rating", 5)).Spec())
	var mismatch *query.SchemaMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, "rating", mismatch.Name)

	_, err = c.Fetch(reviews().SelectRelated("review_badge").Spec())
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, "select_related", mismatch.Kind)
}

func TestAggregate(t *testing.T) {
	c := newCompiler(t, Postgres)
	spec := reviews().Filter(query.Eq("posting_status", "published")).Spec()

	stmt, err := c.Aggregate(spec, []query.Annotation{
		{Alias: "total_count", Expr: query.Count("id")},
		{Alias: "avg_rating", Expr: query.Avg("ratings")},
		{Alias: "with_photos", Expr: query.CountWhere("id", query.IsNull("review_photo_set", false))},
	})
	require.NoError(t, err)

	assert.Equal(t, `SELECT COUNT(t0."id") AS "total_count", AVG(t0."ratings") AS "avg_rating", `+
		`COUNT(CASE WHEN EXISTS (SELECT 1 FROM "review_photo" s1 WHERE s1."review_id" = t0."id") THEN t0."id" END) AS "with_photos" `+
		`FROM "review" t0 WHERE (t0."posting_status" = $1)`, stmt.SQL)
	assert.Equal(t, []any{"published"}, stmt.Args)
}

func TestAggregate_SlicedRunsOverSubquery(t *testing.T) {
	c := newCompiler(t, SQLite)
	stmt, err := c.Aggregate(reviews().Limit(3).Spec(), []query.Annotation{{Alias: "n", Expr: query.Count("id")}})
	require.NoError(t, err)
	assert.Equal(t, `SELECT COUNT(t0."id") AS "n" FROM (SELECT t0.* FROM "review" t0 LIMIT ?1) t0`, stmt.SQL)
}

func TestAggregate_RejectsRelationPath(t *testing.T) {
	c := newCompiler(t, Postgres)
	_, err := c.Aggregate(reviews().Spec(), []query.Annotation{{Alias: "photos", Expr: query.Count("review_photo_set")}})
	var mismatch *query.SchemaMismatchError
	assert.ErrorAs(t, err, &mismatch)
}

func TestBatchLoad(t *testing.T) {
	c := newCompiler(t, Postgres)
	reg, err := review.Registry()
	require.NoError(t, err)
	path, err := reg.ResolvePath("review", "review_photo_set")
	require.NoError(t, err)

	stmt, err := c.BatchLoad(path.Hops[0], []any{int64(1), int64(2)})
	require.NoError(t, err)

	assert.Equal(t, `SELECT b0."id" AS "id", b0."review_id" AS "review_id", b0."url" AS "url" `+
		`FROM "review_photo" b0 WHERE b0."review_id" = ANY($1) ORDER BY b0."id"`, stmt.SQL)
	assert.Equal(t, []any{[]any{int64(1), int64(2)}}, stmt.Args)
	assert.Len(t, stmt.Columns, 3)
}

func TestBatchLoad_SQLite(t *testing.T) {
	c := newCompiler(t, SQLite)
	reg, err := schema.Parse(review.SchemaYAML())
	require.NoError(t, err)
	path, err := reg.ResolvePath("review", "product_fk")
	require.NoError(t, err)

	stmt, err := c.BatchLoad(path.Hops[0], []any{int64(3)})
	require.NoError(t, err)
	assert.Equal(t, `SELECT b0."id" AS "id", b0."shop_id" AS "shop_id", b0."name" AS "name" `+
		`FROM "product" b0 WHERE b0."id" IN (?1) ORDER BY b0."id"`, stmt.SQL)
}

func TestFetch_Projection(t *testing.T) {
	c := newCompiler(t, SQLite)
	b, err := reviews().Filter(query.Eq("shop_id", 7)).Annotate("badge_count", query.Count("review_badge"))
	require.NoError(t, err)
	spec := b.SelectRelated("product_fk").OrderBy("-badge_count").Spec()
	spec.Fields = []string{"pk", "content"}

	stmt, err := c.Fetch(spec)
	require.NoError(t, err)
	assert.Equal(t, `SELECT t0."id" AS "pk", t0."content" AS "content" FROM "review" t0 `+
		`WHERE (t0."shop_id" = ?1) `+
		`ORDER BY (SELECT COUNT(s1."id") FROM "review_badge" s1 WHERE s1."review_id" = t0."id") DESC`, stmt.SQL)
	require.Len(t, stmt.Columns, 2)
	assert.Equal(t, "pk", stmt.Columns[0].Name)
	assert.True(t, stmt.Columns[0].PrimaryKey)

	spec.Fields = []string{"badge_count"}
	stmt, err = c.Fetch(spec)
	require.NoError(t, err)
	assert.Contains(t, stmt.SQL, `SELECT (SELECT COUNT(s1."id") FROM "review_badge" s1 WHERE s1."review_id" = t0."id") AS "badge_count" FROM`)
	assert.Contains(t, stmt.SQL, `ORDER BY "badge_count" DESC`)
}

func TestFetch_ProjectionRejectsUnknownNames(t *testing.T) {
	c := newCompiler(t, SQLite)
	for _, name := range []string{"stars", "product_fk"} {
		spec := reviews().Spec()
		spec.Fields = []string{name}
		_, err := c.Fetch(spec)
		var mismatch *query.SchemaMismatchError
		require.ErrorAs(t, err, &mismatch, name)
		assert.Equal(t, name, mismatch.Name)
	}
}
