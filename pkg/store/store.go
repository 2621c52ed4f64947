// Package store provides hivemesh's persistent, sqlite-backed message and
// channel store.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// DB wraps the sqlite connection used by every store in this package.
type DB struct {
	conn     *sql.DB
	path     string
	isMemory bool
}

// Config selects where the database lives.
type Config struct {
	Path     string // path to the database file
	InMemory bool   // use an in-memory database (tests)
}

// Open opens or creates the database, applies pragmas, and runs migrations.
func Open(cfg Config) (*DB, error) {
	var dsn string
	isMemory := cfg.InMemory

	if isMemory {
		dsn = ":memory:?cache=shared"
	} else {
		dir := filepath.Dir(cfg.Path)
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("store: create directory: %w", err)
		}
		dsn = cfg.Path
	}

	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}

	conn.SetMaxOpenConns(1)

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil && !isMemory {
		conn.Close()
		return nil, fmt.Errorf("store: enable WAL: %w", err)
	}
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store: enable foreign keys: %w", err)
	}

	db := &DB{conn: conn, path: cfg.Path, isMemory: isMemory}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return db, nil
}

// Close closes the underlying connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Conn returns the underlying *sql.DB for direct use by other stores in
// this package.
func (db *DB) Conn() *sql.DB {
	return db.conn
}

// Transaction runs fn inside a transaction, rolling back on error.
func (db *DB) Transaction(fn func(tx *sql.Tx) error) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("store: begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// migration is one numbered, additive schema step. Migrations never drop
// columns or tables; they only add what's missing.
type migration struct {
	version int
	stmts   []string
}

var migrations = []migration{
	{
		version: 1,
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`,
			`CREATE TABLE IF NOT EXISTS channels (
				channel_id TEXT PRIMARY KEY,
				name TEXT NOT NULL,
				kind TEXT DEFAULT 'public',
				owner_node_id TEXT,
				created_at TEXT,
				subscribed INTEGER DEFAULT 1
			)`,
			`CREATE TABLE IF NOT EXISTS channel_members (
				channel_id TEXT,
				node_id TEXT,
				role TEXT DEFAULT 'member',
				joined_at TEXT,
				PRIMARY KEY (channel_id, node_id),
				FOREIGN KEY (channel_id) REFERENCES channels(channel_id)
			)`,
			`CREATE TABLE IF NOT EXISTS messages (
				msg_id TEXT PRIMARY KEY,
				channel_id TEXT NOT NULL,
				sender_id TEXT NOT NULL,
				timestamp TEXT NOT NULL,
				content TEXT NOT NULL,
				signature TEXT NOT NULL,
				is_encrypted INTEGER DEFAULT 0,
				nonce TEXT,
				created_at TEXT DEFAULT CURRENT_TIMESTAMP,
				FOREIGN KEY (channel_id) REFERENCES channels(channel_id)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_messages_channel_timestamp ON messages(channel_id, timestamp)`,
		},
	},
}

func (db *DB) migrate() error {
	if _, err := db.conn.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return err
	}

	var current int
	row := db.conn.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_version`)
	if err := row.Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if err := db.Transaction(func(tx *sql.Tx) error {
			for _, stmt := range m.stmts {
				if _, err := tx.Exec(stmt); err != nil {
					return fmt.Errorf("migration %d: %w", m.version, err)
				}
			}
			_, err := tx.Exec(`INSERT INTO schema_version (version) VALUES (?)`, m.version)
			return err
		}); err != nil {
			return err
		}
	}
	return nil
}
