// Package storage provides the SQLite-backed event store.
// It persists events and the search audit log, and serves the read queries
// used to populate the in-memory index.
//
// # Thread Safety
//
// Store is safe for concurrent use. database/sql handles connection pooling;
// multi-statement writes run inside a transaction.
//
// Timestamps are stored as UTC unix nanoseconds.
package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// ErrEventNotFound is returned when an event id does not exist in the store.
var ErrEventNotFound = errors.New("event not found")

const schema = `
CREATE TABLE IF NOT EXISTS events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	title TEXT NOT NULL,
	category TEXT NOT NULL,
	tags_csv TEXT NOT NULL DEFAULT '',
	starts_on_ns INTEGER NOT NULL,
	ends_on_ns INTEGER,
	venue TEXT NOT NULL DEFAULT '',
	city TEXT NOT NULL DEFAULT '',
	location_address TEXT NOT NULL DEFAULT '',
	url TEXT NOT NULL DEFAULT '',
	latitude REAL,
	longitude REAL,
	entry_price TEXT,
	age_restriction TEXT NOT NULL DEFAULT '',
	media_url TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL,
	external_key TEXT UNIQUE
);

CREATE INDEX IF NOT EXISTS idx_events_starts_on ON events(starts_on_ns);
CREATE INDEX IF NOT EXISTS idx_events_category ON events(category);

CREATE TABLE IF NOT EXISTS search_queries (
	id TEXT PRIMARY KEY,
	categories_json TEXT NOT NULL,
	from_utc_ns INTEGER,
	to_utc_ns INTEGER,
	client_fingerprint TEXT NOT NULL,
	occurred_utc_ns INTEGER NOT NULL,
	user_id TEXT
);

CREATE INDEX IF NOT EXISTS idx_search_queries_occurred ON search_queries(occurred_utc_ns);
`

// Store is the SQLite event store.
type Store struct {
	db *sql.DB
}

// NewStore opens (creating if needed) the database at path and applies the schema.
// The special path ":memory:" opens a private in-memory database.
func NewStore(path string) (*Store, error) {
	memory := path == ":memory:"
	if !memory {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := openSQLite(path, memory)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(schema)
	return err
}

func openSQLite(path string, memory bool) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	pragmas := []string{
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
	}
	if memory {
		// Every pooled connection would otherwise see its own empty database.
		db.SetMaxOpenConns(1)
	} else {
		pragmas = append(pragmas, "PRAGMA journal_mode=WAL;", "PRAGMA synchronous=NORMAL;")
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return db, nil
}
