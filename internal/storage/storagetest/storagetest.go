// Package storagetest opens throwaway databases for package tests.
package storagetest

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"libraryhub/internal/storage"
)

// Open returns a migrated sqlite database living under t.TempDir(). It is
// closed when the test finishes.
func Open(t testing.TB) *storage.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "library.db")
	db, err := storage.Open(context.Background(), storage.DriverSQLite, storage.SQLiteDSN(path))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, db.Migrate(context.Background()))
	return db
}

// OpenPostgres returns the migrated Postgres database in TEST_DATABASE_URL
// with every table emptied. The test is skipped when the variable is unset.
func OpenPostgres(t testing.TB) *storage.DB {
	t.Helper()

	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	db, err := storage.Open(ctx, storage.DriverPostgres, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, db.Migrate(ctx))
	_, err = db.ExecContext(ctx, "TRUNCATE TABLE events, issues, books, users, relay_offsets CASCADE")
	require.NoError(t, err)
	return db
}
