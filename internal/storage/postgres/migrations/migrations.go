// Package migrations embeds the SQL schema for the Postgres run store.
package migrations

import "embed"

// FS holds the numbered up/down migrations.
//
//go:embed *.sql
var FS embed.FS
