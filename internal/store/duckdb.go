package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	duckdb "github.com/duckdb/duckdb-go/v2"

	"cmipcat/internal/db"
	"cmipcat/internal/domain"
)

const duckdbSchema = `
CREATE TABLE IF NOT EXISTS catalog_builds (
    build_id      VARCHAR NOT NULL,
    built_at      TIMESTAMP NOT NULL,
    archive_root  VARCHAR NOT NULL,
    version_order VARCHAR NOT NULL,
    entry_count   BIGINT NOT NULL
);
CREATE TABLE IF NOT EXISTS catalog_entries (
    position       BIGINT NOT NULL,
    version        VARCHAR NOT NULL,
    realm          VARCHAR NOT NULL,
    frequency      VARCHAR NOT NULL,
    file_basename  VARCHAR NOT NULL,
    file_path      VARCHAR NOT NULL,
    varname        VARCHAR,
    realm_freq_tag VARCHAR,
    model          VARCHAR,
    experiment     VARCHAR,
    ensemble       VARCHAR
);`

// DuckDBStore keeps the catalog in a DuckDB file.
type DuckDBStore struct {
	path     string
	db       *sql.DB
	logger   *slog.Logger
	readOnly bool
}

var _ Store = (*DuckDBStore)(nil)

// OpenDuckDB opens the DuckDB catalog at path, creating its tables.
func OpenDuckDB(ctx context.Context, path string, logger *slog.Logger) (*DuckDBStore, error) {
	conn, err := db.OpenDuckDB(ctx, path)
	if err != nil {
		return nil, err
	}
	if _, err := conn.ExecContext(ctx, duckdbSchema); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &DuckDBStore{path: path, db: conn, logger: logger}, nil
}

// OpenDuckDBReadOnly opens an existing DuckDB catalog with
// access_mode=READ_ONLY and runs no DDL.
func OpenDuckDBReadOnly(ctx context.Context, path string, logger *slog.Logger) (*DuckDBStore, error) {
	conn, err := db.OpenDuckDBReadOnly(ctx, path)
	if err != nil {
		return nil, err
	}
	ok, err := hasCatalogTables(ctx, conn,
		`SELECT count(*) FROM information_schema.tables WHERE table_name = ?`)
	if err == nil && !ok {
		err = domain.ErrNoCatalog(path)
	}
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return &DuckDBStore{path: path, db: conn, logger: logger, readOnly: true}, nil
}

// Save replaces the stored table, bulk-loading entries with the appender.
func (s *DuckDBStore) Save(ctx context.Context, t *domain.CatalogTable) error {
	if s.readOnly {
		return errReadOnly(s.path)
	}
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open duckdb conn: %w", err)
	}
	defer func() { _ = conn.Close() }()

	if _, err := conn.ExecContext(ctx, `BEGIN TRANSACTION`); err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	rollback := func(cause error) error {
		_, _ = conn.ExecContext(ctx, `ROLLBACK`)
		return cause
	}

	for _, stmt := range []string{`DELETE FROM catalog_entries`, `DELETE FROM catalog_builds`} {
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			return rollback(fmt.Errorf("clear catalog: %w", err))
		}
	}
	if err := appendEntries(conn, t.Entries); err != nil {
		return rollback(err)
	}

	info := t.Info
	_, err = conn.ExecContext(ctx,
		`INSERT INTO catalog_builds VALUES (?, ?, ?, ?, ?)`,
		info.BuildID, info.BuiltAt.UTC(), info.ArchiveRoot, string(info.VersionOrder), int64(len(t.Entries)))
	if err != nil {
		return rollback(fmt.Errorf("insert build info: %w", err))
	}

	if _, err := conn.ExecContext(ctx, `COMMIT`); err != nil {
		return rollback(fmt.Errorf("commit save: %w", err))
	}
	s.logger.Info("catalog saved", "path", s.path, "entries", len(t.Entries), "build_id", info.BuildID)
	return nil
}

// appendEntries bulk-loads entries into catalog_entries on conn. The
// appender flushes when closed, before the caller commits.
func appendEntries(conn *sql.Conn, entries []domain.CatalogEntry) error {
	return conn.Raw(func(raw any) error {
		driverConn, ok := raw.(driver.Conn)
		if !ok {
			return fmt.Errorf("unexpected raw conn type %T", raw)
		}
		app, err := duckdb.NewAppenderFromConn(driverConn, "", "catalog_entries")
		if err != nil {
			return fmt.Errorf("create entries appender: %w", err)
		}
		defer func() { _ = app.Close() }()

		for i := range entries {
			row := append([]any{int64(i)}, entryValues(&entries[i])...)
			if err := app.AppendRow(toDriverValues(row)...); err != nil {
				return fmt.Errorf("append %s: %w", entries[i].FilePath, err)
			}
		}
		return app.Close()
	})
}

func toDriverValues(row []any) []driver.Value {
	out := make([]driver.Value, len(row))
	for i, v := range row {
		out[i] = v
	}
	return out
}

// Info returns the metadata of the stored build.
func (s *DuckDBStore) Info(ctx context.Context) (*domain.BuildInfo, error) {
	return s.info(ctx, s.db)
}

func (s *DuckDBStore) info(ctx context.Context, q querier) (*domain.BuildInfo, error) {
	var (
		info  domain.BuildInfo
		order string
		count int64
	)
	err := q.QueryRowContext(ctx,
		`SELECT build_id, built_at, archive_root, version_order, entry_count FROM catalog_builds LIMIT 1`).
		Scan(&info.BuildID, &info.BuiltAt, &info.ArchiveRoot, &order, &count)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNoCatalog(s.path)
	}
	if err != nil {
		return nil, fmt.Errorf("read build info: %w", err)
	}
	info.VersionOrder = domain.VersionOrder(order)
	info.EntryCount = int(count)
	return &info, nil
}

// Load reads the stored table in saved order. Build info and entries are
// read in one transaction, so they come from the same Save.
func (s *DuckDBStore) Load(ctx context.Context) (*domain.CatalogTable, error) {
	tx, err := s.db.BeginTx(ctx, nil)
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

// Export copies the stored entries straight to dst. A read-only store
// stages them through a private in-memory database instead.
func (s *DuckDBStore) Export(ctx context.Context, dst string, format ExportFormat) error {
	if s.readOnly {
		t, err := s.Load(ctx)
		if err != nil {
			return err
		}
		return exportEntries(ctx, t.Entries, dst, format)
	}
	if _, err := s.Info(ctx); err != nil {
		return err
	}
	return copyEntriesTo(ctx, s.db, dst, format)
}

// Close closes the database.
func (s *DuckDBStore) Close() error {
	return s.db.Close()
}
