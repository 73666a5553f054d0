package sqlite

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/vertextoedge/filesync/internal/port"
)

// Store implements port.StateStore using SQLite
type Store struct {
	db    *sql.DB
	codec *stateCodec
}

// Option configures a Store
type Option func(*options)

type options struct {
	compress bool
}

// WithCompressedCheckpoints stores checkpoint log documents zstd-compressed.
// The latest state of each stream is always stored as plain JSON.
func WithCompressedCheckpoints(enabled bool) Option {
	return func(o *options) {
		o.compress = enabled
	}
}

// Ensure Store implements port.StateStore
var _ port.StateStore = (*Store)(nil)

// Open opens a connection to the SQLite database
func Open(dbPath string, opts ...Option) (*Store, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	if dir := filepath.Dir(dbPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// a single writer avoids SQLITE_BUSY between checkpoint writes
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %s: %w", pragma, err)
		}
	}

	store := &Store{db: db}
	if o.compress {
		codec, err := newStateCodec()
		if err != nil {
			db.Close()
			return nil, err
		}
		store.codec = codec
	}

	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	s.codec.close()
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Ping checks database connectivity
func (s *Store) Ping() error {
	return s.db.Ping()
}

// migrate creates or updates the database schema
func (s *Store) migrate() error {
	migrations := []string{
		// Latest state per stream
		`CREATE TABLE IF NOT EXISTS stream_state (
			stream TEXT PRIMARY KEY,
			cursor_field TEXT NOT NULL,
			state TEXT NOT NULL,
			cursor_value TEXT NOT NULL DEFAULT '',
			history_size INTEGER NOT NULL DEFAULT 0,
			final BOOLEAN NOT NULL DEFAULT FALSE,
			updated_at TEXT NOT NULL
		)`,

		// Append-only checkpoint log, pruned by the maintenance service
		`CREATE TABLE IF NOT EXISTS checkpoints (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			stream TEXT NOT NULL,
			cursor_field TEXT NOT NULL,
			state BLOB NOT NULL,
			compressed BOOLEAN NOT NULL DEFAULT FALSE,
			cursor_value TEXT NOT NULL DEFAULT '',
			history_size INTEGER NOT NULL DEFAULT 0,
			final BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TEXT NOT NULL
		)`,

		`CREATE INDEX IF NOT EXISTS idx_checkpoints_stream ON checkpoints(stream, id)`,
		`CREATE INDEX IF NOT EXISTS idx_checkpoints_created_at ON checkpoints(created_at)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, migration)
		}
	}

	return nil
}
