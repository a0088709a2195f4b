package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the SQLite database connection. Each domain is stored as one
// whole JSON document and replaced atomically on every save; callers own
// concurrency control, the store owns durability only.
type DB struct {
	conn *sql.DB
}

// Open opens or creates the SQLite database
func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return db, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// migrate creates the database schema
func (db *DB) migrate() error {
	schema := `
	-- One row per domain, whole JSON document in body
	CREATE TABLE IF NOT EXISTS documents (
		domain TEXT PRIMARY KEY,
		body TEXT NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`

	_, err := db.conn.Exec(schema)
	return err
}

// Load unmarshals the stored document for domain into v. A missing
// domain is not an error: v is left as passed in, so callers hand in an
// empty table and get the documented empty default.
func (db *DB) Load(domain string, v interface{}) error {
	var body string
	err := db.conn.QueryRow("SELECT body FROM documents WHERE domain = ?", domain).Scan(&body)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load %s document: %w", domain, err)
	}

	if err := json.Unmarshal([]byte(body), v); err != nil {
		return fmt.Errorf("failed to decode %s document: %w", domain, err)
	}
	return nil
}

// Save marshals v and replaces the whole document for domain. The upsert
// runs as a single statement, so readers never observe a partial write.
func (db *DB) Save(domain string, v interface{}) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s document: %w", domain, err)
	}

	query := `
		INSERT INTO documents (domain, body, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(domain) DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at
	`
	if _, err := db.conn.Exec(query, domain, string(body), time.Now()); err != nil {
		return fmt.Errorf("failed to save %s document: %w", domain, err)
	}
	return nil
}
