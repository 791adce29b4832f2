package migrations

import "embed"

// FS holds the schema migrations shared by every SQL driver
//
//go:embed *.sql
var FS embed.FS
