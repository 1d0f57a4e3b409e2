package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/duckdb/duckdb-go/v2" // registers the "duckdb" driver
)

// OpenDuckDB opens a DuckDB database. An empty path opens a private
// in-memory database.
func OpenDuckDB(ctx context.Context, path string) (*sql.DB, error) {
	if path != "" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create catalog directory: %w", err)
			}
		}
	}

	return openDuckDB(ctx, path)
}

// OpenDuckDBReadOnly opens an existing DuckDB file with
// access_mode=READ_ONLY. Any number of processes may hold read-only
// handles on one file at once. A missing file is reported as an
// fs.ErrNotExist error.
func OpenDuckDBReadOnly(ctx context.Context, path string) (*sql.DB, error) {
	if err := requireFile(path); err != nil {
		return nil, err
	}
	return openDuckDB(ctx, path+"?access_mode=READ_ONLY")
}

func openDuckDB(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("duckdb", dsn)
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping duckdb: %w", err)
	}
	return db, nil
}
