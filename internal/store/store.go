// Package store persists catalog tables. Every Save replaces the previous
// table as a whole; readers observe either the old or the new table.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"

	"cmipcat/internal/domain"
)

// Store is a persisted catalog.
type Store interface {
	domain.CatalogStore
	// Export writes the saved entries to dst as parquet or csv.
	Export(ctx context.Context, dst string, format ExportFormat) error
	Close() error
}

// Backend names a storage engine.
type Backend string

const (
	BackendAuto   Backend = "auto"
	BackendSQLite Backend = "sqlite"
	BackendDuckDB Backend = "duckdb"
)

// ParseBackend validates a backend name. Empty means auto.
func ParseBackend(s string) (Backend, error) {
	switch b := Backend(strings.ToLower(strings.TrimSpace(s))); b {
	case "":
		return BackendAuto, nil
	case BackendAuto, BackendSQLite, BackendDuckDB:
		return b, nil
	default:
		return "", domain.ErrValidation("unknown catalog backend %q: expected auto, sqlite or duckdb", s)
	}
}

// Resolve picks the concrete backend for path. Auto selects DuckDB for
// .duckdb and .ddb files and SQLite for everything else.
func (b Backend) Resolve(path string) Backend {
	if b != BackendAuto && b != "" {
		return b
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".duckdb", ".ddb":
		return BackendDuckDB
	default:
		return BackendSQLite
	}
}

// Create opens the catalog at path for writing, creating the file and its
// schema when absent. Builds use it; queries use OpenReadOnly.
func Create(ctx context.Context, path string, backend Backend, logger *slog.Logger) (Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch b := backend.Resolve(path); b {
	case BackendSQLite:
		return OpenSQLite(ctx, path, logger)
	case BackendDuckDB:
		return OpenDuckDB(ctx, path, logger)
	default:
		return nil, fmt.Errorf("unsupported backend %q", b)
	}
}

// OpenReadOnly opens an existing catalog for queries. It never creates,
// migrates or locks the file for writing, so any number of readers may run
// at once. A missing file, or one holding no catalog tables, is
// domain.ErrNoCatalog. Save on the returned store fails.
func OpenReadOnly(ctx context.Context, path string, backend Backend, logger *slog.Logger) (Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var (
		st  Store
		err error
	)
	switch b := backend.Resolve(path); b {
	case BackendSQLite:
		st, err = OpenSQLiteReadOnly(ctx, path, logger)
	case BackendDuckDB:
		st, err = OpenDuckDBReadOnly(ctx, path, logger)
	default:
		return nil, fmt.Errorf("unsupported backend %q", b)
	}
	if errors.Is(err, fs.ErrNotExist) {
		return nil, domain.ErrNoCatalog(path)
	}
	return st, err
}

// errReadOnly is returned by Save on a store opened with OpenReadOnly.
func errReadOnly(path string) error {
	return fmt.Errorf("catalog %s is open read-only", path)
}

// hasCatalogTables reports whether the catalog tables exist. countSQL
// must count the tables named by its single argument.
func hasCatalogTables(ctx context.Context, conn *sql.DB, countSQL string) (bool, error) {
	var n int
	if err := conn.QueryRowContext(ctx, countSQL, "catalog_builds").Scan(&n); err != nil {
		return false, fmt.Errorf("inspect catalog schema: %w", err)
	}
	return n > 0, nil
}

// ExportFormat is an export file format.
type ExportFormat string

const (
	FormatParquet ExportFormat = "parquet"
	FormatCSV     ExportFormat = "csv"
)

// ParseExportFormat validates a format name. Empty infers the format from
// the destination's extension, defaulting to parquet.
func ParseExportFormat(s, dst string) (ExportFormat, error) {
	switch f := ExportFormat(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		if strings.EqualFold(filepath.Ext(dst), ".csv") {
			return FormatCSV, nil
		}
		return FormatParquet, nil
	case FormatParquet, FormatCSV:
		return f, nil
	default:
		return "", domain.ErrValidation("unknown export format %q: expected parquet or csv", s)
	}
}

// entryColumns is the column order shared by both backends and exports.
var entryColumns = []string{
	domain.FieldVersion,
	domain.FieldRealm,
	domain.FieldFrequency,
	domain.FieldFileBasename,
	domain.FieldFilePath,
	domain.FieldVarname,
	domain.FieldRealmFreqTag,
	domain.FieldModel,
	domain.FieldExperiment,
	domain.FieldEnsemble,
}

func entryValues(e *domain.CatalogEntry) []any {
	return []any{
		e.Version,
		e.Realm,
		e.Frequency,
		e.FileBasename,
		e.FilePath,
		nullable(e.Varname),
		nullable(e.RealmFreqTag),
		nullable(e.Model),
		nullable(e.Experiment),
		nullable(e.Ensemble),
	}
}

func nullable(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(r rowScanner) (domain.CatalogEntry, error) {
	var (
		e                                      domain.CatalogEntry
		varname, tag, model, experiment, member sql.NullString
	)
	err := r.Scan(&e.Version, &e.Realm, &e.Frequency, &e.FileBasename, &e.FilePath,
		&varname, &tag, &model, &experiment, &member)
	if err != nil {
		return e, err
	}
	e.Varname = ptr(varname)
	e.RealmFreqTag = ptr(tag)
	e.Model = ptr(model)
	e.Experiment = ptr(experiment)
	e.Ensemble = ptr(member)
	return e, nil
}

func ptr(n sql.NullString) *string {
	if !n.Valid {
		return nil
	}
	return domain.StrPtr(n.String)
}
