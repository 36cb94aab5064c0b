// Package dbtest builds throwaway SQLite databases with the full schema.
package dbtest

import (
	"context"
	"database/sql"
	"fmt"
	"testing"

	"ms-eventchain/internal/models"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	_ "github.com/uptrace/bun/driver/sqliteshim"
)

var tables = []any{
	(*models.Event)(nil),
	(*models.Application)(nil),
	(*models.Payment)(nil),
	(*models.ProcessedSession)(nil),
	(*models.MintJob)(nil),
	(*models.Ticket)(nil),
	(*models.Certificate)(nil),
	(*models.Announcement)(nil),
}

// New returns an isolated in-memory database. A single connection keeps
// SQLite writers serialized the way row locks serialize them in PostgreSQL.
func New(t testing.TB) *bun.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	sqldb, err := sql.Open("sqlite", dsn)
	if err != nil {
		t.Fatalf("Failed to open in-memory database: %v", err)
	}
	sqldb.SetMaxOpenConns(1)

	bunDB := bun.NewDB(sqldb, sqlitedialect.New())
	ctx := context.Background()
	for _, model := range tables {
		if _, err := bunDB.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			t.Fatalf("Failed to create table for %T: %v", model, err)
		}
	}

	t.Cleanup(func() { bunDB.Close() })
	return bunDB
}

// Insert writes fixtures directly, bypassing services.
func Insert(t testing.TB, db *bun.DB, rows ...any) {
	t.Helper()
	for _, row := range rows {
		if _, err := db.NewInsert().Model(row).Exec(context.Background()); err != nil {
			t.Fatalf("Failed to insert fixture %T: %v", row, err)
		}
	}
}
