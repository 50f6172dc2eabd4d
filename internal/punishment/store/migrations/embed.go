// Package migrations embeds the punishments schema, one directory per
// SQL dialect. Files are applied in version order and never edited once
// released.
package migrations

import (
	"embed"
	"fmt"
	"io/fs"

	"github.com/Proximyst/ban/internal/platform/database"
)

//go:embed postgres/*.sql sqlite/*.sql
var files embed.FS

// For returns the migration set of dialect.
func For(dialect database.Dialect) (fs.FS, error) {
	switch dialect {
	case database.Postgres:
		return fs.Sub(files, "postgres")
	case database.SQLite:
		return fs.Sub(files, "sqlite")
	default:
		return nil, fmt.Errorf("no migrations for dialect %q", dialect)
	}
}
