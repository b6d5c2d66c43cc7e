// Package migrations holds the SQL schema of the dispatch audit log.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
