// Package testutil opens throwaway databases for package tests.
package testutil

import (
	"path/filepath"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"crmsync/internal/db"
)

// OpenSQLite returns a migrated gorm handle backed by a file in t.TempDir.
// A single connection keeps nested transactions and savepoints on one session.
func OpenSQLite(t *testing.T) *gorm.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "crmsync.db")
	gdb, err := gorm.Open(sqlite.Open(path+"?_busy_timeout=5000"), db.GormConfig())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqldb, err := gdb.DB()
	if err != nil {
		t.Fatalf("sqlite handle: %v", err)
	}
	sqldb.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqldb.Close() })
	if err := db.Migrate(gdb); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return gdb
}
