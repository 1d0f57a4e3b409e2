package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"cmipcat/internal/db"
	"cmipcat/internal/domain"
)

// exportEntries stages entries in a private in-memory DuckDB and copies them
// to dst.
func exportEntries(ctx context.Context, entries []domain.CatalogEntry, dst string, format ExportFormat) error {
	mem, err := db.OpenDuckDB(ctx, "")
	if err != nil {
		return err
	}
	defer func() { _ = mem.Close() }()

	conn, err := mem.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open duckdb conn: %w", err)
	}
	defer func() { _ = conn.Close() }()

	if _, err := conn.ExecContext(ctx, duckdbSchema); err != nil {
		return fmt.Errorf("create export table: %w", err)
	}
	if err := appendEntries(conn, entries); err != nil {
		return err
	}
	return copyEntriesTo(ctx, conn, dst, format)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// copyEntriesTo runs COPY for the catalog_entries table visible on x.
func copyEntriesTo(ctx context.Context, x execer, dst string, format ExportFormat) error {
	var opts string
	switch format {
	case FormatParquet:
		opts = "FORMAT PARQUET"
	case FormatCSV:
		opts = "FORMAT CSV, HEADER"
	default:
		return domain.ErrValidation("unknown export format %q: expected parquet or csv", format)
	}

	stmt := fmt.Sprintf("COPY (SELECT %s FROM catalog_entries ORDER BY position) TO %s (%s)",
		strings.Join(entryColumns, ", "), quoteLiteral(dst), opts)
	if _, err := x.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("export to %s: %w", dst, err)
	}
	return nil
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
