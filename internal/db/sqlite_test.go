package db

import (
	"context"
	"io/fs"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildDSN(t *testing.T) {
	w := buildDSN("/tmp/catalog.sqlite", ModeWrite)
	assert.True(t, strings.HasPrefix(w, "/tmp/catalog.sqlite?"))
	assert.Contains(t, w, "_journal_mode=WAL")
	assert.Contains(t, w, "_busy_timeout=5000")
	assert.Contains(t, w, "_txlock=immediate")

	r := buildDSN("/tmp/catalog.sqlite", ModeRead)
	assert.Contains(t, r, "_journal_mode=WAL")
	assert.NotContains(t, r, "_txlock")

	ro := buildDSN("/tmp/catalog.sqlite", ModeReadOnly)
	assert.True(t, strings.HasPrefix(ro, "file:///tmp/catalog.sqlite?"), ro)
	assert.Contains(t, ro, "mode=ro")
	assert.NotContains(t, ro, "_journal_mode")
	assert.NotContains(t, ro, "_txlock")
}

func TestOpenSQLiteReadOnly(t *testing.T) {
	dir := t.TempDir()
	_, err := OpenSQLiteReadOnly(filepath.Join(dir, "missing", "catalog.sqlite"), 0)
	require.ErrorIs(t, err, fs.ErrNotExist)
	assert.NoDirExists(t, filepath.Join(dir, "missing"))

	path := filepath.Join(dir, "catalog.sqlite")
	writeDB, readDB, err := OpenSQLitePair(path, 1)
	require.NoError(t, err)
	require.NoError(t, RunMigrations(writeDB))
	require.NoError(t, readDB.Close())
	require.NoError(t, writeDB.Close())

	ro, err := OpenSQLiteReadOnly(path, 2)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ro.Close() })

	var n int
	require.NoError(t, ro.QueryRow(`SELECT count(*) FROM catalog_entries`).Scan(&n))
	assert.Zero(t, n)

	_, err = ro.Exec(`DELETE FROM catalog_entries`)
	require.Error(t, err)
	assert.Contains(t, strings.ToLower(err.Error()), "readonly")
}

func TestOpenSQLite_InvalidMode(t *testing.T) {
	_, err := OpenSQLite(filepath.Join(t.TempDir(), "c.sqlite"), Mode("append"), 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid SQLite mode")
}

func TestOpenSQLitePair_PoolSizes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "catalog.sqlite")

	writeDB, readDB, err := OpenSQLitePair(path, 3)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = readDB.Close()
		_ = writeDB.Close()
	})

	assert.Equal(t, 1, writeDB.Stats().MaxOpenConnections)
	assert.Equal(t, 3, readDB.Stats().MaxOpenConnections)

	var journal string
	require.NoError(t, readDB.QueryRow("PRAGMA journal_mode").Scan(&journal))
	assert.Equal(t, "wal", strings.ToLower(journal))
}

func TestRunMigrations_CreatesCatalogTables(t *testing.T) {
	writeDB, readDB := OpenTestSQLite(t)

	for _, table := range []string{"catalog_entries", "catalog_builds"} {
		var n int
		err := readDB.QueryRow(
			`SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&n)
		require.NoError(t, err)
		assert.Equal(t, 1, n, table)
	}

	v, err := SchemaVersion(writeDB)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)

	// Idempotent.
	require.NoError(t, RunMigrations(writeDB))
}

func TestOpenDuckDBReadOnly(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "catalog.duckdb")

	_, err := OpenDuckDBReadOnly(ctx, path)
	require.ErrorIs(t, err, fs.ErrNotExist)
	assert.NoFileExists(t, path)

	rw, err := OpenDuckDB(ctx, path)
	require.NoError(t, err)
	_, err = rw.Exec(`CREATE TABLE t (n INTEGER); INSERT INTO t VALUES (7)`)
	require.NoError(t, err)
	require.NoError(t, rw.Close())

	ro, err := OpenDuckDBReadOnly(ctx, path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ro.Close() })

	var n int
	require.NoError(t, ro.QueryRow(`SELECT n FROM t`).Scan(&n))
	assert.Equal(t, 7, n)

	_, err = ro.Exec(`INSERT INTO t VALUES (8)`)
	require.Error(t, err)
}

func TestOpenDuckDB_InMemory(t *testing.T) {
	ddb, err := OpenDuckDB(context.Background(), "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ddb.Close() })

	var n int
	require.NoError(t, ddb.QueryRow("SELECT 42").Scan(&n))
	assert.Equal(t, 42, n)
}
