// Package store is the local history cache: a SQLite mirror of
// confirmed messages and directory entries so the UI can render before
// the server round trip completes. The server stays the source of
// truth; everything here is advisory.
package store

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// dsnOptions enables WAL and a busy timeout so the UI goroutine and the
// channel pump can share the one connection pool without lock errors.
const dsnOptions = "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"

// DB wraps the SQLite connection for the per-account cache.db.
type DB struct {
	*sql.DB
}

// Open opens or creates the cache database at path.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path+dsnOptions)
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping cache: %w", err)
	}
	return &DB{db}, nil
}
