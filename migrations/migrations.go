// Package migrations embeds the SQL schema migrations for the postgres
// stream store so the binary can apply them at startup.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
