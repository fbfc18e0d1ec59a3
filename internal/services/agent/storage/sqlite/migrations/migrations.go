// Package migrations embeds the agent's SQLite schema.
package migrations

import "embed"

// FS holds ordered *.sql migrations.
//
//go:embed *.sql
var FS embed.FS
