// Package store provides the SQLite index layer: note metadata, the FTS5
// full-text table, tags, the wikilink graph and per-user health counters.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps a SQLite connection holding the derived note index.
type DB struct {
	conn *sql.DB
	mu   sync.Mutex // serialize writes
}

// Open opens or creates the database at the given path. WAL journaling with
// synchronous=NORMAL; a busy timeout covers short writer contention.
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	conn, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

// OpenMemory opens an in-memory database for testing.
func OpenMemory() (*DB, error) {
	conn, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		return nil, err
	}
	// The in-memory database vanishes when its sole connection closes.
	conn.SetMaxOpenConns(1)

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Conn returns the underlying sql.DB for direct queries.
func (db *DB) Conn() *sql.DB {
	return db.conn
}

func (db *DB) migrate() error {
	migrations := []string{
		// Schema metadata table: stores version and rebuild markers.
		`CREATE TABLE IF NOT EXISTS schema_meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS note_meta (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id TEXT NOT NULL,
			note_path TEXT NOT NULL,
			version INTEGER NOT NULL DEFAULT 1,
			title TEXT NOT NULL DEFAULT '',
			size_bytes INTEGER NOT NULL DEFAULT 0,
			created INTEGER NOT NULL,
			updated INTEGER NOT NULL,
			title_slug TEXT NOT NULL DEFAULT '',
			path_slug TEXT NOT NULL DEFAULT '',
			UNIQUE(user_id, note_path)
		)`,
		// Slug lookups drive wikilink resolution; both must be indexed so
		// inbound re-resolution stays a bounded query.
		`CREATE INDEX IF NOT EXISTS idx_note_meta_title_slug ON note_meta(user_id, title_slug)`,
		`CREATE INDEX IF NOT EXISTS idx_note_meta_path_slug ON note_meta(user_id, path_slug)`,

		`CREATE TABLE IF NOT EXISTS note_tags (
			user_id TEXT NOT NULL,
			note_path TEXT NOT NULL,
			tag TEXT NOT NULL,
			PRIMARY KEY (user_id, note_path, tag)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_note_tags_tag ON note_tags(user_id, tag)`,

		`CREATE TABLE IF NOT EXISTS note_links (
			user_id TEXT NOT NULL,
			source_path TEXT NOT NULL,
			link_text TEXT NOT NULL,
			link_slug TEXT NOT NULL DEFAULT '',
			target_path TEXT,
			is_resolved INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (user_id, source_path, link_text)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_note_links_target ON note_links(user_id, target_path)`,
		`CREATE INDEX IF NOT EXISTS idx_note_links_slug ON note_links(user_id, link_slug)`,

		`CREATE TABLE IF NOT EXISTS index_health (
			user_id TEXT PRIMARY KEY,
			note_count INTEGER NOT NULL DEFAULT 0,
			last_full_rebuild INTEGER NOT NULL DEFAULT 0,
			last_incremental_update INTEGER NOT NULL DEFAULT 0
		)`,
	}

	for _, m := range migrations {
		if _, err := db.conn.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}

	// Version-gated migrations (run once, tracked in schema_meta)
	currentVersion := db.SchemaVersion()
	versionedMigrations := []struct {
		version int
		fn      func() error
	}{
		{1, db.migrateV1}, // establishes version tracking baseline
		{2, db.migrateV2}, // contentless FTS5 table
	}
	for _, m := range versionedMigrations {
		if currentVersion < m.version {
			if err := m.fn(); err != nil {
				return fmt.Errorf("migration v%d: %w", m.version, err)
			}
			if err := db.SetMeta("schema_version", strconv.Itoa(m.version)); err != nil {
				return fmt.Errorf("record migration v%d: %w", m.version, err)
			}
		}
	}

	return nil
}

// migrateV1 is a no-op that establishes version 1 as the baseline.
func (db *DB) migrateV1() error {
	return nil
}

// migrateV2 creates the contentless FTS5 table. rowid mirrors note_meta.id;
// the index stores only tokens, note text stays in the vault. FTS5 is a
// hard requirement here, not a fallback.
func (db *DB) migrateV2() error {
	_, err := db.conn.Exec(`CREATE VIRTUAL TABLE IF NOT EXISTS note_fts USING fts5(
		title, body,
		content='', contentless_delete=1,
		tokenize='porter unicode61',
		prefix='2 3'
	)`)
	if err != nil {
		return fmt.Errorf("fts5 unavailable: %w", err)
	}
	return nil
}

// SchemaVersion returns the current schema version (0 if unset).
func (db *DB) SchemaVersion() int {
	v, ok := db.GetMeta("schema_version")
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

// GetMeta reads a value from the schema_meta table. Returns ("", false) if not found.
func (db *DB) GetMeta(key string) (string, bool) {
	var value string
	err := db.conn.QueryRow(`SELECT value FROM schema_meta WHERE key = ?`, key).Scan(&value)
	if err != nil {
		return "", false
	}
	return value, true
}

// SetMeta writes a key-value pair to the schema_meta table.
func (db *DB) SetMeta(key, value string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	_, err := db.conn.Exec(
		`INSERT INTO schema_meta (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	return err
}

// IntegrityCheck runs PRAGMA integrity_check and reports corruption.
func (db *DB) IntegrityCheck() error {
	var result string
	err := db.conn.QueryRow("PRAGMA integrity_check").Scan(&result)
	if err != nil {
		return fmt.Errorf("integrity check query failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("integrity check failed: %s", result)
	}
	return nil
}

// Begin starts a write transaction. Every indexer operation runs inside a
// single Tx: commit applies all of metadata, fts, tags, links and health,
// or none of them.
func (db *DB) Begin() (*Tx, error) {
	db.mu.Lock()
	tx, err := db.conn.Begin()
	if err != nil {
		db.mu.Unlock()
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	return &Tx{tx: tx, db: db}, nil
}

// Tx is a write transaction over the index.
type Tx struct {
	tx   *sql.Tx
	db   *DB
	done bool
}

// Commit commits the transaction.
func (t *Tx) Commit() error {
	if t.done {
		return sql.ErrTxDone
	}
	t.done = true
	defer t.db.mu.Unlock()
	return t.tx.Commit()
}

// Rollback aborts the transaction. Safe to defer after Commit.
func (t *Tx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	defer t.db.mu.Unlock()
	return t.tx.Rollback()
}
