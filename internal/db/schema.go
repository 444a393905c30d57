package db

import "embed"

// SchemaFiles holds the embedded migration files applied at startup.
//
//go:embed schema/*.up.sql
var SchemaFiles embed.FS
