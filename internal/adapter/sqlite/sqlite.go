// Package sqlite persists the approval instances, the replicated contract
// status records, the contract change log, and the dead-letter store.
package sqlite

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"

	_ "modernc.org/sqlite" // Register SQLite driver.
)

//go:embed migrations/*.sql
var migrations embed.FS

// timeFormat is fixed-width UTC with nanoseconds so that stored timestamps
// compare correctly as strings. The last-write-wins guard on the contract
// status table relies on this.
const timeFormat = "2006-01-02T15:04:05.000000000Z"

// Open opens a SQLite database with the pragmas this service needs.
func Open(dataSourceName string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := Configure(db); err != nil {
		return nil, err
	}

	return db, nil
}

// Configure applies the pragmas and pool settings to an already opened
// handle. Use this when the *sql.DB was opened elsewhere (e.g., with otelsql
// instrumentation).
func Configure(db *sql.DB) error {
	// SQLite performs best with a single connection when the handle is
	// shared with an embedded job queue (River). Avoids SQLITE_BUSY errors.
	db.SetMaxOpenConns(1)

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return fmt.Errorf("setting WAL mode: %w", err)
	}

	// Enable foreign keys (off by default in SQLite).
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return fmt.Errorf("enabling foreign keys: %w", err)
	}

	return nil
}

// Migrate runs the embedded goose migrations. Safe to call more than once.
func Migrate(db *sql.DB) error {
	goose.SetBaseFS(migrations)

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("setting goose dialect: %w", err)
	}

	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	return nil
}
