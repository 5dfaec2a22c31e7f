// Package db stores measurement sessions and completed detection sequences
// in SQLite. The schema is owned by the embedded migrations.
package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsEmbed embed.FS

// Tables lists the tables created by the migrations, in creation order.
var Tables = []string{"sessions", "sequences"}

var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA temp_store=MEMORY",
	"PRAGMA foreign_keys=ON",
}

type DB struct {
	*sql.DB
}

// MigrationsFS returns the embedded migrations rooted at the directory that
// holds the .sql files.
func MigrationsFS() fs.FS {
	sub, err := fs.Sub(migrationsEmbed, "migrations")
	if err != nil {
		// the directory is compiled in
		panic(err)
	}
	return sub
}

// OpenDB opens the database at path and applies connection pragmas without
// touching the schema.
func OpenDB(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// pragmas apply per connection
	db.SetMaxOpenConns(1)
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", p, err)
		}
	}
	return &DB{db}, nil
}

// NewDB opens the database at path and migrates it to the latest schema.
func NewDB(path string) (*DB, error) {
	db, err := OpenDB(path)
	if err != nil {
		return nil, err
	}
	if err := db.MigrateUp(MigrationsFS()); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// TableStats holds a row count per table.
type TableStats struct {
	Table string `json:"table"`
	Rows  int64  `json:"rows"`
}

// Stats returns row counts for every table in Tables.
func (db *DB) Stats(ctx context.Context) ([]TableStats, error) {
	stats := make([]TableStats, 0, len(Tables))
	for _, table := range Tables {
		var n int64
		// table names come from Tables, never from input
		if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
			return nil, fmt.Errorf("count %s: %w", table, err)
		}
		stats = append(stats, TableStats{Table: table, Rows: n})
	}
	return stats, nil
}
