// Package db embeds the database schema.
package db

import _ "embed"

// Schema creates the branch, zone, user, order and point tables. Every
// statement is idempotent so it can run on each start.
//
//go:embed migrations/001_schema.sql
var Schema string
