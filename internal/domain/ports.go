package domain

import "context"

// EntryFinder answers conjunctive catalog queries.
// Implemented by query.Engine.
type EntryFinder interface {
	FindEntries(ctx context.Context, q Query) ([]CatalogEntry, error)
	FindFiles(ctx context.Context, q Query) ([]string, error)
}

// CatalogStore persists and reloads whole catalog tables.
// Implemented by store.SQLiteStore and store.DuckDBStore.
type CatalogStore interface {
	Save(ctx context.Context, t *CatalogTable) error
	Load(ctx context.Context) (*CatalogTable, error)
	Info(ctx context.Context) (*BuildInfo, error)
}
