// Package migrations embeds the goose SQL migrations for the broker schema
package migrations

import "embed"

// Migrations holds the versioned SQL files applied at startup
//
//go:embed *.sql
var Migrations embed.FS
