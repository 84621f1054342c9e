package database

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// DB is the SQLite backend.
type DB struct {
	archive
}

// Ensure DB implements Store interface.
var _ Store = (*DB)(nil)

// New opens or creates an SQLite database at the given path.
func New(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// SQLite allows a single writer.
	conn.SetMaxOpenConns(1)
	// Enable WAL mode for better concurrency.
	if _, err := conn.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set wal mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA foreign_keys=ON;"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	db := &DB{archive{conn: conn}}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

// DatabaseType returns the database backend name.
func (db *DB) DatabaseType() string {
	return "SQLite"
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS content (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		map_title TEXT,
		map_author TEXT,
		map_url TEXT,
		flashing INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		published_at DATETIME
	);
	CREATE TABLE IF NOT EXISTS media (
		content_id INTEGER NOT NULL REFERENCES content(id) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		ref TEXT NOT NULL,
		PRIMARY KEY (content_id, position)
	);
	CREATE TABLE IF NOT EXISTS tags (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE
	);
	CREATE TABLE IF NOT EXISTS content_tags (
		content_id INTEGER NOT NULL REFERENCES content(id) ON DELETE CASCADE,
		tag_id INTEGER NOT NULL REFERENCES tags(id),
		position INTEGER NOT NULL,
		PRIMARY KEY (content_id, tag_id)
	);
	CREATE TABLE IF NOT EXISTS comments (
		content_id INTEGER NOT NULL REFERENCES content(id) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		body TEXT NOT NULL,
		PRIMARY KEY (content_id, position)
	);
	CREATE TABLE IF NOT EXISTS users (
		username TEXT PRIMARY KEY,
		password_hash TEXT NOT NULL,
		auth_cookie TEXT UNIQUE
	);
	CREATE INDEX IF NOT EXISTS idx_content_queued ON content(id) WHERE published_at IS NULL;
	`
	_, err := db.conn.Exec(schema)
	return err
}
