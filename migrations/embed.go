// Package migrations embeds the SQL schema migrations into the binary so the
// journal can be created without the files on disk.
package migrations

import "embed"

// FS holds every *.sql file in this directory, at the root of the FS.
//
//go:embed *.sql
var FS embed.FS

// Dir is the directory within FS containing the migrations.
const Dir = "."
