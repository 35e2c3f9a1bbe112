package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the SQL database connection
type DB struct {
	*sql.DB
}

// New creates a new database connection
func New(dbPath string) (*DB, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	// Open database with WAL mode for better concurrency
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(1) // SQLite doesn't handle concurrent writes well
	db.SetMaxIdleConns(1)

	return &DB{db}, nil
}

// Migrate runs database migrations
func (db *DB) Migrate(ctx context.Context) error {
	migrations := []string{
		migrationVotes,
		migrationRatings,
		migrationCursor,
		migrationIndexes,
	}

	for i, migration := range migrations {
		if _, err := db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	return nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.DB.Close()
}

// migrationVotes is the append-only vote audit log. The rowid is the commit
// order ratings are applied in.
const migrationVotes = `
CREATE TABLE IF NOT EXISTS votes (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	model_a TEXT NOT NULL,
	model_b TEXT NOT NULL,
	outcome TEXT NOT NULL CHECK (outcome IN ('a_wins', 'b_wins', 'tie', 'both_bad')),
	request_id TEXT,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

const migrationRatings = `
CREATE TABLE IF NOT EXISTS ratings (
	model_id TEXT PRIMARY KEY,
	score REAL NOT NULL,
	games INTEGER NOT NULL DEFAULT 0,
	wins INTEGER NOT NULL DEFAULT 0,
	losses INTEGER NOT NULL DEFAULT 0,
	ties INTEGER NOT NULL DEFAULT 0,
	both_bad INTEGER NOT NULL DEFAULT 0,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// migrationCursor holds the rating apply watermark: the last vote id whose
// rating deltas are committed. Startup replay resumes from here.
const migrationCursor = `
CREATE TABLE IF NOT EXISTS rating_cursor (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	last_vote_id INTEGER NOT NULL DEFAULT 0
);
INSERT OR IGNORE INTO rating_cursor (id, last_vote_id) VALUES (1, 0);
`

const migrationIndexes = `
CREATE INDEX IF NOT EXISTS idx_votes_session_id ON votes(session_id);
CREATE INDEX IF NOT EXISTS idx_votes_model_a ON votes(model_a);
CREATE INDEX IF NOT EXISTS idx_votes_model_b ON votes(model_b);
CREATE INDEX IF NOT EXISTS idx_votes_created_at ON votes(created_at);
`
