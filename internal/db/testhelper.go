package db

import (
	"database/sql"
	"path/filepath"
	"testing"
)

// OpenTestSQLite opens a migrated write/read pool pair on a catalog file in
// t.TempDir() and closes both when the test ends.
func OpenTestSQLite(t *testing.T) (writeDB, readDB *sql.DB) {
	t.Helper()

	writeDB, readDB, err := OpenSQLitePair(filepath.Join(t.TempDir(), "catalog.sqlite"), 2)
	if err != nil {
		t.Fatalf("open test sqlite: %v", err)
	}
	t.Cleanup(func() {
		_ = readDB.Close()
		_ = writeDB.Close()
	})

	if err := RunMigrations(writeDB); err != nil {
		t.Fatalf("run migrations: %v", err)
	}
	return writeDB, readDB
}
