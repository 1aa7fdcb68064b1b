// Package migrations holds the PostgreSQL schema of the server-side audit log.
package migrations

import "embed"

//go:embed *.sql
var Postgres embed.FS
