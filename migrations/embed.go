// Package migrations embeds the SQL migrations so binaries carry their schema.
package migrations

import "embed"

// FS holds the *.up.sql / *.down.sql pairs
//
//go:embed *.sql
var FS embed.FS
