package migrations

import "embed"

// FS holds the versioned schema migrations applied by calendar-admin.
//
//go:embed *.sql
var FS embed.FS
