// Package dbstore is the transactional persistent store backing the group
// messaging core: groups, members, metadata, intents, messages, and
// cursors. It owns all durable records; every other package reaches the
// database only through a Store.
package dbstore

import (
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// Store wraps the underlying SQLite connection for the group core.
type Store struct {
	db      *sql.DB
	queries *Queries
}

// Open opens or creates a SQLite database at the given path. If the
// existing database has an incompatible schema, it is deleted and
// recreated, exactly as a local cache would be: this store holds no data
// that cannot be re-derived from the relay.
func Open(dbPath string) (*Store, error) {
	store, err := openDB(dbPath)
	if err != nil {
		if strings.Contains(err.Error(), "no such column") ||
			strings.Contains(err.Error(), "no such table") ||
			strings.Contains(err.Error(), "SQL logic error") {
			if removeErr := os.Remove(dbPath); removeErr != nil && !os.IsNotExist(removeErr) {
				return nil, fmt.Errorf("remove incompatible store: %w", removeErr)
			}
			os.Remove(dbPath + "-wal")
			os.Remove(dbPath + "-shm")
			return openDB(dbPath)
		}
		return nil, err
	}
	return store, nil
}

// OpenInMemory opens an ephemeral, process-local store. Used by tests and
// by the "ephemeral" client mode.
func OpenInMemory() (*Store, error) {
	return openDB(":memory:")
}

func openDB(dbPath string) (*Store, error) {
	var connStr string
	if dbPath == ":memory:" {
		connStr = ":memory:"
	} else {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
		escapedPath := strings.ReplaceAll(dbPath, " ", "%20")
		connStr = "file:" + escapedPath + "?_time_format=sqlite"
	}

	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	if dbPath == ":memory:" {
		// An in-memory database is private to a single connection; without
		// this, the pool would hand out a second connection that sees an
		// empty database the moment any query runs concurrently.
		db.SetMaxOpenConns(1)
	}

	if dbPath != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable WAL mode: %w", err)
		}
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return &Store{
		db:      db,
		queries: &Queries{db: db},
	}, nil
}

// Close closes the underlying connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Queries returns the hand-written query surface for this store.
func (s *Store) Queries() *Queries {
	return s.queries
}

// DB exposes the raw *sql.DB for components (like the intent queue) that
// need to run their own transactions.
func (s *Store) DB() *sql.DB {
	return s.db
}
