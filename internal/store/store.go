package store

import (
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

var (
	ErrInvalidAction = errors.New("invalid interaction action")
	ErrMissingID     = errors.New("interaction record has no id")
)

// Store handles all database operations
type Store struct {
	db *sql.DB
}

// New creates a new Store with SQLite backend
func New(dbPath string) (*Store, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// One connection: every read-modify-write goes through a single owner.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS interactions (
		id TEXT PRIMARY KEY,
		post_id TEXT,
		action TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		account_id TEXT,
		author_account_id TEXT,
		post_url TEXT,
		tags TEXT,
		view_duration_ms INTEGER,
		link_url TEXT
	);

	CREATE TABLE IF NOT EXISTS author_affinity (
		author_id TEXT PRIMARY KEY,
		score REAL NOT NULL,
		interaction_count INTEGER NOT NULL,
		last_updated INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS hashtag_affinity (
		tag TEXT PRIMARY KEY,
		score REAL NOT NULL,
		interaction_count INTEGER NOT NULL,
		last_updated INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS posts (
		id TEXT PRIMARY KEY,
		author_id TEXT,
		created_at INTEGER NOT NULL,
		data TEXT NOT NULL,
		cached_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_interactions_created_at ON interactions(created_at);
	CREATE INDEX IF NOT EXISTS idx_author_affinity_score ON author_affinity(score);
	CREATE INDEX IF NOT EXISTS idx_hashtag_affinity_score ON hashtag_affinity(score);
	CREATE INDEX IF NOT EXISTS idx_posts_created_at ON posts(created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Timestamps are stored as Unix nanoseconds so range filters compare numbers.
func toUnix(t time.Time) int64 {
	return t.UnixNano()
}

func fromUnix(n int64) time.Time {
	return time.Unix(0, n)
}
