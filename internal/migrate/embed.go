package migrate

import (
	"database/sql"
	"embed"
	"io/fs"
)

//go:embed sql/*.sql
var migrationFiles embed.FS

//go:embed seeds/*.sql
var seedFiles embed.FS

// Migrations returns the embedded schema migrations.
func Migrations() fs.FS {
	sub, _ := fs.Sub(migrationFiles, "sql")
	return sub
}

// Seeds returns the embedded seed files.
func Seeds() fs.FS {
	sub, _ := fs.Sub(seedFiles, "seeds")
	return sub
}

// NewDefault builds a Manager over the embedded migrations and seeds.
func NewDefault(db *sql.DB, opts ...Option) *Manager {
	return NewManager(db, Migrations(), Seeds(), opts...)
}
