// Package db embeds the SQL migrations applied by golang-migrate on startup.
package db

import "embed"

// Migrations holds the versioned up/down migration files.
//
//go:embed migrations/*.sql
var Migrations embed.FS
