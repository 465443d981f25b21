package testutil

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/rpattn/querykit/internal/db"
	"github.com/rpattn/querykit/internal/domain"
	"github.com/rpattn/querykit/internal/schema"
)

var columnTypes = map[domain.FieldType]string{
	domain.FieldTypeString:    "TEXT",
	domain.FieldTypeInteger:   "INTEGER",
	domain.FieldTypeFloat:     "REAL",
	domain.FieldTypeBoolean:   "BOOLEAN",
	domain.FieldTypeTimestamp: "TIMESTAMP",
}

// NewSQLite opens an in-memory database with one table per registry entity.
// The database is closed when the test ends.
func NewSQLite(t testing.TB, registry *schema.Registry) *db.SQLite {
	t.Helper()
	return NewSQLiteAt(t, registry, ":memory:")
}

// NewSQLiteAt is NewSQLite backed by the database file at path.
func NewSQLiteAt(t testing.TB, registry *schema.Registry, path string) *db.SQLite {
	t.Helper()
	ctx := context.Background()

	conn, err := db.OpenSQLite(ctx, path)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(conn.Close)

	for _, name := range registry.Names() {
		desc, _ := registry.Entity(name)
		if err := conn.Exec(ctx, CreateTableSQL(desc)); err != nil {
			t.Fatalf("create table %s: %v", desc.TableName(), err)
		}
	}
	return conn
}

// CreateTableSQL renders a CREATE TABLE statement for desc.
func CreateTableSQL(desc domain.EntityDescriptor) string {
	cols := make([]string, 0, len(desc.Fields))
	for _, f := range desc.Fields {
		colType, ok := columnTypes[f.Type]
		if !ok {
			colType = "TEXT"
		}
		col := fmt.Sprintf("%q %s", f.ColumnName(), colType)
		if f.Name == desc.PrimaryKeyField() {
			col += " PRIMARY KEY"
		}
		cols = append(cols, col)
	}
	return fmt.Sprintf("CREATE TABLE %q (%s)", desc.TableName(), strings.Join(cols, ", "))
}

// Day returns midnight UTC of the given day in May 2024.
func Day(d int) time.Time {
	return time.Date(2024, time.May, d, 0, 0, 0, 0, time.UTC)
}

// SeedReviews inserts the review fixture into conn.
func SeedReviews(t testing.TB, conn *db.SQLite) {
	t.Helper()
	for _, table := range reviewFixture() {
		for _, row := range table.rows {
			Insert(t, conn, table.entity, row)
		}
	}
}

// Insert adds one row to the table named entity. Columns left out of row
// are NULL.
func Insert(t testing.TB, conn *db.SQLite, entity string, row map[string]any) {
	t.Helper()
	cols := make([]string, 0, len(row))
	for col := range row {
		cols = append(cols, col)
	}
	sort.Strings(cols)

	quoted := make([]string, len(cols))
	marks := make([]string, len(cols))
	args := make([]any, len(cols))
	for i, col := range cols {
		quoted[i] = fmt.Sprintf("%q", col)
		marks[i] = fmt.Sprintf("?%d", i+1)
		args[i] = row[col]
	}
	stmt := fmt.Sprintf("INSERT INTO %q (%s) VALUES (%s)", entity,
		strings.Join(quoted, ", "), strings.Join(marks, ", "))
	if err := conn.Exec(context.Background(), stmt, args...); err != nil {
		t.Fatalf("insert %s %v: %v", entity, row["id"], err)
	}
}
