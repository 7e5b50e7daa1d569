// Package testutil opens migrated throwaway databases for package tests.
package testutil

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/dmitrijs2005/vaultnode/internal/server/repositories/repomanager"
)

// OpenDB returns a migrated SQLite database living in t.TempDir together
// with a matching RepositoryManager. The database is closed on cleanup.
func OpenDB(t *testing.T) (*sql.DB, repomanager.RepositoryManager) {
	t.Helper()

	dsn := "file:" + filepath.Join(t.TempDir(), "vault.db") + "?_pragma=busy_timeout(5000)"
	db, err := repomanager.Open(context.Background(), repomanager.DriverSQLite, dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	rm, err := repomanager.NewSQLRepositoryManager(repomanager.DriverSQLite)
	if err != nil {
		t.Fatalf("repository manager: %v", err)
	}
	if err := rm.RunMigrations(context.Background(), db); err != nil {
		t.Fatalf("migrations: %v", err)
	}
	return db, rm
}
