package migrations

import "embed"

// SQLite holds the embedded goose migrations.
//
//go:embed sqlite/*.sql
var SQLite embed.FS
