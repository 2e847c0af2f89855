// Package storage persists learning documents and their embeddings in
// SQLite, and serves similarity and keyword lookups over them.
package storage

import (
	"errors"
	"fmt"
	"sync"

	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	_ "github.com/mfenderov/compound-learning/internal/storage/migrations"
)

// ErrNotFound is returned when a learning is not found.
var ErrNotFound = errors.New("not found")

// ErrDimensionMismatch is returned when an embedding's length differs from
// the dimension already stored. Mixed dimensions mean the embedding model
// changed; the store must be rebuilt, not patched per row.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch: rebuild the index after changing models")

// Store manages the SQLite database for learning storage.
//
// Reads run against WAL snapshots and need no coordination; writes are
// serialized through mu so a scan never observes a half-written record.
type Store struct {
	db   *sqlx.DB
	mu   sync.Mutex
	path string
}

// NewStore creates a new Store, initializing the database and schema.
func NewStore(path string) (*Store, error) {
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	store := &Store{db: db, path: path}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// ListTables returns all table names in the database.
func (s *Store) ListTables() []string {
	var tables []string
	err := s.db.Select(&tables, `
		SELECT name FROM sqlite_master
		WHERE type='table' OR type='virtual table'
		ORDER BY name
	`)
	if err != nil {
		return nil
	}
	return tables
}

func (s *Store) initSchema() error {
	schema := `
	-- Core learnings table
	CREATE TABLE IF NOT EXISTS learnings (
		id TEXT PRIMARY KEY,
		content TEXT NOT NULL,
		scope TEXT NOT NULL,
		repo TEXT NOT NULL DEFAULT '',
		file_path TEXT NOT NULL,
		topic TEXT NOT NULL DEFAULT 'other',
		tags TEXT NOT NULL DEFAULT '',
		keywords TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_learnings_scope ON learnings(scope, repo);
	CREATE INDEX IF NOT EXISTS idx_learnings_topic ON learnings(topic);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create base schema: %w", err)
	}

	// FTS5 virtual tables can't use IF NOT EXISTS
	return s.initFTS()
}

func (s *Store) initFTS() error {
	var count int
	err := s.db.Get(&count, `
		SELECT COUNT(*) FROM sqlite_master
		WHERE type='table' AND name='learnings_fts'
	`)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil // FTS already initialized
	}

	ftsSchema := `
	-- FTS5 index over learning content
	CREATE VIRTUAL TABLE learnings_fts USING fts5(
		id UNINDEXED,
		content,
		tokenize='porter unicode61'
	);
	`

	if _, err := s.db.Exec(ftsSchema); err != nil {
		return fmt.Errorf("failed to create FTS schema: %w", err)
	}
	return nil
}

// migrate applies pending goose migrations (type/summary columns and the
// embeddings table).
func (s *Store) migrate() error {
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		return err
	}
	return goose.Up(s.db.DB, ".")
}

// SchemaVersion returns the current goose migration version.
func (s *Store) SchemaVersion() (int64, error) {
	return goose.GetDBVersion(s.db.DB)
}
