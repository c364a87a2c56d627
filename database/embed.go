package database

import (
	"embed"
	"fmt"
	"io/fs"
)

// EmbeddedMigrations holds the SQL files under migrations/.
//
//go:embed migrations/*.sql
var EmbeddedMigrations embed.FS

// Open opens dbPath with the embedded migrations applied.
func Open(dbPath string) (*DB, error) {
	sub, err := fs.Sub(EmbeddedMigrations, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to open embedded migrations: %w", err)
	}
	return New(dbPath, sub)
}
