// Package migrations embeds the goose SQL migrations for every supported dialect.
package migrations

import "embed"

// MigrationsFS holds one directory of migrations per dialect.
//
//go:embed postgres/*.sql sqlite/*.sql
var MigrationsFS embed.FS
