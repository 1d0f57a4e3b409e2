// Package db opens the catalog's database files and applies the SQLite schema.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // registers the "sqlite3" driver
)

// Mode selects how a SQLite pool is configured.
type Mode string

const (
	// ModeWrite is a single-connection pool whose transactions take the
	// write lock up front.
	ModeWrite Mode = "write"
	// ModeRead is a multi-connection pool for concurrent readers.
	ModeRead Mode = "read"
	// ModeReadOnly is a read pool that opens an existing file with
	// mode=ro. It never creates the file or changes its journal mode.
	ModeReadOnly Mode = "readonly"
)

const (
	busyTimeoutMillis   = "5000"
	defaultReadPoolSize = 4
	pingTimeout         = 5 * time.Second
)

// OpenSQLite opens a pool on the SQLite file at path.
//
// Both modes use WAL journaling, so a reader keeps seeing the previous
// catalog until a writer's replace transaction commits. maxOpen sizes the
// read pool; 0 selects the default. Write pools always hold one connection.
func OpenSQLite(path string, mode Mode, maxOpen int) (*sql.DB, error) {
	if mode != ModeRead && mode != ModeWrite && mode != ModeReadOnly {
		return nil, fmt.Errorf("invalid SQLite mode %q: must be %q, %q or %q", mode, ModeRead, ModeWrite, ModeReadOnly)
	}

	db, err := sql.Open("sqlite3", buildDSN(path, mode))
	if err != nil {
		return nil, fmt.Errorf("open sqlite (%s): %w", mode, err)
	}

	if mode == ModeWrite {
		maxOpen = 1
	} else if maxOpen <= 0 {
		maxOpen = defaultReadPoolSize
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxOpen)
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite (%s): %w", mode, err)
	}
	return db, nil
}

// OpenSQLitePair opens a write pool and a read pool on the same file,
// creating the parent directory when needed.
func OpenSQLitePair(path string, readMaxOpen int) (writeDB, readDB *sql.DB, err error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("create catalog directory: %w", err)
		}
	}

	writeDB, err = OpenSQLite(path, ModeWrite, 0)
	if err != nil {
		return nil, nil, err
	}
	readDB, err = OpenSQLite(path, ModeRead, readMaxOpen)
	if err != nil {
		_ = writeDB.Close()
		return nil, nil, err
	}
	return writeDB, readDB, nil
}

// OpenSQLiteReadOnly opens a read-only pool on an existing SQLite file.
// A missing file is reported as an fs.ErrNotExist error.
func OpenSQLiteReadOnly(path string, maxOpen int) (*sql.DB, error) {
	if err := requireFile(path); err != nil {
		return nil, err
	}
	return OpenSQLite(path, ModeReadOnly, maxOpen)
}

func requireFile(path string) error {
	fi, err := os.Stat(path)
	if err != nil {
		return err
	}
	if fi.IsDir() {
		return fmt.Errorf("%s is a directory", path)
	}
	return nil
}

func buildDSN(path string, mode Mode) string {
	if mode == ModeReadOnly {
		params := url.Values{}
		params.Set("mode", "ro")
		params.Set("_busy_timeout", busyTimeoutMillis)
		u := url.URL{Scheme: "file", Path: filepath.ToSlash(path), RawQuery: params.Encode()}
		return u.String()
	}

	params := url.Values{}
	params.Set("_journal_mode", "WAL")
	params.Set("_busy_timeout", busyTimeoutMillis)
	params.Set("_synchronous", "NORMAL")
	params.Set("_foreign_keys", "on")
	if mode == ModeWrite {
		params.Set("_txlock", "immediate")
	}
	return path + "?" + params.Encode()
}
