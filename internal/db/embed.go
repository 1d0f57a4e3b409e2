package db

import "embed"

// EmbedMigrations holds the goose migrations for the SQLite catalog.
//
//go:embed migrations/*.sql
var EmbedMigrations embed.FS
