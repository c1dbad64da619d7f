package migrations

import "embed"

// FS holds the quality schema migrations.
//
//go:embed *.sql
var FS embed.FS
