package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"cmipcat/internal/db"
	"cmipcat/internal/domain"
)

// SQLiteStore keeps the catalog in a migrated SQLite file. A store opened
// read-only has no write pool.
type SQLiteStore struct {
	path    string
	writeDB *sql.DB
	readDB  *sql.DB
	logger  *slog.Logger
}

var _ Store = (*SQLiteStore)(nil)

// OpenSQLite opens the SQLite catalog at path and applies pending migrations.
func OpenSQLite(_ context.Context, path string, logger *slog.Logger) (*SQLiteStore, error) {
	writeDB, readDB, err := db.OpenSQLitePair(path, 0)
	if err != nil {
		return nil, err
	}
	if err := db.RunMigrations(writeDB); err != nil {
		_ = readDB.Close()
		_ = writeDB.Close()
		return nil, fmt.Errorf("migrate catalog %s: %w", path, err)
	}
	return &SQLiteStore{path: path, writeDB: writeDB, readDB: readDB, logger: logger}, nil
}

// OpenSQLiteReadOnly opens an existing SQLite catalog with mode=ro.
func OpenSQLiteReadOnly(ctx context.Context, path string, logger *slog.Logger) (*SQLiteStore, error) {
	readDB, err := db.OpenSQLiteReadOnly(path, 0)
	if err != nil {
		return nil, err
	}
	ok, err := hasCatalogTables(ctx, readDB,
		`SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name = ?`)
	if err == nil && !ok {
		err = domain.ErrNoCatalog(path)
	}
	if err != nil {
		_ = readDB.Close()
		return nil, err
	}
	return &SQLiteStore{path: path, readDB: readDB, logger: logger}, nil
}

var insertEntrySQL = fmt.Sprintf(
	"INSERT INTO catalog_entries (position, %s) VALUES (?%s)",
	strings.Join(entryColumns, ", "),
	strings.Repeat(", ?", len(entryColumns)))

// Save replaces the stored table inside one immediate transaction.
func (s *SQLiteStore) Save(ctx context.Context, t *domain.CatalogTable) error {
	if s.writeDB == nil {
		return errReadOnly(s.path)
	}
	tx, err := s.writeDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM catalog_entries`); err != nil {
		return fmt.Errorf("clear entries: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM catalog_builds`); err != nil {
		return fmt.Errorf("clear build info: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, insertEntrySQL)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for i := range t.Entries {
		args := append([]any{i}, entryValues(&t.Entries[i])...)
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("insert %s: %w", t.Entries[i].FilePath, err)
		}
	}

	info := t.Info
	_, err = tx.ExecContext(ctx,
		`INSERT INTO catalog_builds (id, build_id, built_at, archive_root, version_order, entry_count)
		 VALUES (1, ?, ?, ?, ?, ?)`,
		info.BuildID, info.BuiltAt.UTC().Format(time.RFC3339Nano), info.ArchiveRoot,
		string(info.VersionOrder), len(t.Entries))
	if err != nil {
		return fmt.Errorf("insert build info: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save: %w", err)
	}
	s.logger.Info("catalog saved", "path", s.path, "entries", len(t.Entries), "build_id", info.BuildID)
	return nil
}

// Info returns the metadata of the stored build.
func (s *SQLiteStore) Info(ctx context.Context) (*domain.BuildInfo, error) {
	return s.info(ctx, s.readDB)
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLiteStore) info(ctx context.Context, q querier) (*domain.BuildInfo, error) {
	var (
		info    domain.BuildInfo
		builtAt string
		order   string
	)
	err := q.QueryRowContext(ctx,
		`SELECT build_id, built_at, archive_root, version_order, entry_count
		 FROM catalog_builds WHERE id = 1`).
		Scan(&info.BuildID, &builtAt, &info.ArchiveRoot, &order, &info.EntryCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNoCatalog(s.path)
	}
	if err != nil {
		return nil, fmt.Errorf("read build info: %w", err)
	}
	if info.BuiltAt, err = time.Parse(time.RFC3339Nano, builtAt); err != nil {
		return nil, fmt.Errorf("parse build time %q: %w", builtAt, err)
	}
	info.VersionOrder = domain.VersionOrder(order)
	return &info, nil
}

// Load reads the stored table in saved order from a single snapshot.
func (s *SQLiteStore) Load(ctx context.Context) (*domain.CatalogTable, error) {
	tx, err := s.readDB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin load: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	info, err := s.info(ctx, tx)
	if err != nil {
		return nil, err
	}

	rows, err := tx.QueryContext(ctx, fmt.Sprintf(
		"SELECT %s FROM catalog_entries ORDER BY position", strings.Join(entryColumns, ", ")))
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	entries := make([]domain.CatalogEntry, 0, info.EntryCount)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}
	return &domain.CatalogTable{Info: *info, Entries: entries}, nil
}

// Export loads the table and writes it out through an in-memory DuckDB.
func (s *SQLiteStore) Export(ctx context.Context, dst string, format ExportFormat) error {
	t, err := s.Load(ctx)
	if err != nil {
		return err
	}
	return exportEntries(ctx, t.Entries, dst, format)
}

// Close closes both pools.
func (s *SQLiteStore) Close() error {
	if s.writeDB == nil {
		return s.readDB.Close()
	}
	return errors.Join(s.readDB.Close(), s.writeDB.Close())
}
