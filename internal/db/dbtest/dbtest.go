// Package dbtest provides migrated in-memory SQLite databases for tests.
package dbtest

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/migrate"

	"github.com/santedb/santedb-server-sub007/internal/db/bunx"
	"github.com/santedb/santedb-server-sub007/internal/migrations"
)

// New returns an isolated, fully migrated in-memory database that is closed
// when the test ends.
func New(t testing.TB) *bun.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:trust_%s?mode=memory&cache=shared", strings.ReplaceAll(bunx.NewUUIDv7(), "-", ""))

	ctx := context.Background()
	db, err := bunx.NewDB(ctx, dsn, bunx.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = bunx.Close(db) })

	Migrate(t, db)
	return db
}

// Migrate applies every registered migration to db.
func Migrate(t testing.TB, db *bun.DB) {
	t.Helper()

	ctx := context.Background()
	migrator := migrate.NewMigrator(db, migrations.Migrations)
	require.NoError(t, migrator.Init(ctx))
	_, err := migrator.Migrate(ctx)
	require.NoError(t, err)
}
