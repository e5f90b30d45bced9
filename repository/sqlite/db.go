// Package sqlite implements the repository port on SQLite via database/sql.
// Entities are persisted as JSON rows keyed by their identifier, with an
// autoincrement position column preserving insertion order and a revision
// column backing optimistic concurrency.
package sqlite

import (
	"database/sql"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"infrakit/repository"
)

// Config carries the recognized construction options for the SQLite backend.
// The repository port itself takes no configuration.
type Config struct {
	// Path is the database file location. ":memory:" is accepted for
	// throwaway databases.
	Path string

	// MaxOpenConns and MaxIdleConns size the database/sql pool.
	// Zero values fall back to 25 and 5.
	MaxOpenConns int
	MaxIdleConns int
}

// DB wraps the shared connection handle stores are built on.
type DB struct {
	*sql.DB
}

// Open opens the database file, sizes the pool, and applies the WAL and
// foreign-key pragmas. Failures surface as BackendUnavailableError.
func Open(cfg Config) (*DB, error) {
	if cfg.Path != ":memory:" {
		dir := filepath.Dir(cfg.Path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, &repository.BackendUnavailableError{Op: "open", Cause: err}
		}
	}

	db, err := sql.Open("sqlite3", cfg.Path)
	if err != nil {
		return nil, &repository.BackendUnavailableError{Op: "open", Cause: err}
	}

	maxOpen, maxIdle := cfg.MaxOpenConns, cfg.MaxIdleConns
	if maxOpen == 0 {
		maxOpen = 25
	}
	if maxIdle == 0 {
		maxIdle = 5
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, &repository.BackendUnavailableError{Op: "open", Cause: err}
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, &repository.BackendUnavailableError{Op: "open", Cause: err}
	}

	return &DB{db}, nil
}

func (db *DB) Close() error {
	return db.DB.Close()
}
