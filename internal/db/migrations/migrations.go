// Package migrations embeds the goose SQL migrations for the service schema.
package migrations

import "embed"

// FS holds the migration files at its root, ready for pg.Migrate.
//
//go:embed *.sql
var FS embed.FS
