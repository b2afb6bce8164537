package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
)

type migration struct {
	version int
	name    string
	stmts   []string
}

// migrations is the append-only schema history. Never edit an applied entry.
var migrations = []migration{
	{
		version: 1,
		name:    "baseline",
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS user_profile (
				id TEXT PRIMARY KEY,
				name TEXT NOT NULL,
				avatar_url TEXT NOT NULL DEFAULT '',
				email TEXT NOT NULL DEFAULT ''
			)`,
			`CREATE TABLE IF NOT EXISTS message (
				id TEXT PRIMARY KEY,
				sender_id TEXT NOT NULL,
				recipient_id TEXT NOT NULL,
				content TEXT NOT NULL,
				read_at TEXT,
				created_at TEXT NOT NULL,
				updated_at TEXT NOT NULL,
				CHECK (sender_id <> recipient_id)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_message_sender ON message(sender_id, created_at)`,
			`CREATE INDEX IF NOT EXISTS idx_message_recipient ON message(recipient_id, created_at)`,
		},
	},
	{
		version: 2,
		name:    "unread_index",
		stmts: []string{
			`CREATE INDEX IF NOT EXISTS idx_message_unread ON message(recipient_id, sender_id) WHERE read_at IS NULL`,
		},
	},
	{
		version: 3,
		name:    "notification_outbox",
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS outbox (
				id TEXT PRIMARY KEY,
				kind TEXT NOT NULL,
				message_id TEXT NOT NULL,
				status TEXT NOT NULL,
				attempts INTEGER NOT NULL DEFAULT 0,
				max_attempts INTEGER NOT NULL,
				last_attempted_at TEXT NOT NULL DEFAULT '',
				created_at TEXT NOT NULL,
				last_error TEXT NOT NULL DEFAULT ''
			)`,
			`CREATE INDEX IF NOT EXISTS idx_outbox_status ON outbox(status, created_at)`,
		},
	},
	{
		// SQLite cannot add a constraint in place, so the table is rebuilt.
		// Recipients that never had a profile get a bare one named after their id.
		version: 4,
		name:    "message_recipient_fk",
		stmts: []string{
			`INSERT OR IGNORE INTO user_profile (id, name) SELECT DISTINCT recipient_id, recipient_id FROM message`,
			`CREATE TABLE message_new (
				id TEXT PRIMARY KEY,
				sender_id TEXT NOT NULL,
				recipient_id TEXT NOT NULL REFERENCES user_profile(id),
				content TEXT NOT NULL,
				read_at TEXT,
				created_at TEXT NOT NULL,
				updated_at TEXT NOT NULL,
				CHECK (sender_id <> recipient_id)
			)`,
			`INSERT INTO message_new SELECT id, sender_id, recipient_id, content, read_at, created_at, updated_at FROM message`,
			`DROP TABLE message`,
			`ALTER TABLE message_new RENAME TO message`,
			`CREATE INDEX idx_message_sender ON message(sender_id, created_at)`,
			`CREATE INDEX idx_message_recipient ON message(recipient_id, created_at)`,
			`CREATE INDEX idx_message_unread ON message(recipient_id, sender_id) WHERE read_at IS NULL`,
		},
	},
}

// LatestSchemaVersion returns the version MigrateDB brings a database to.
func LatestSchemaVersion() int {
	return migrations[len(migrations)-1].version
}

// SchemaVersion returns the applied schema version, or 0 for an untracked database.
// PRE: db is a valid database connection
// POST: Returns version >= 0
func SchemaVersion(db *sql.DB) (int, error) {
	var exists int
	err := db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'`).Scan(&exists)
	if err != nil {
		return 0, fmt.Errorf("failed to inspect schema: %w", err)
	}
	if exists == 0 {
		return 0, nil
	}
	var v sql.NullInt64
	if err := db.QueryRow(`SELECT MAX(version) FROM schema_version`).Scan(&v); err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return int(v.Int64), nil
}

// MigrateDB applies every pending migration, each in its own transaction.
// A file-backed database that already carries a schema is snapshotted to
// <path>.v<version>.bak before it is upgraded.
// PRE: db is a valid database connection; path is the file db was opened from
// POST: SchemaVersion(db) == LatestSchemaVersion()
func MigrateDB(db *sql.DB, path string) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ','now'))
	)`); err != nil {
		return fmt.Errorf("failed to create schema_version: %w", err)
	}

	current, err := SchemaVersion(db)
	if err != nil {
		return err
	}
	if current >= LatestSchemaVersion() {
		return nil
	}

	if current > 0 {
		if err := backup(db, path, current); err != nil {
			return err
		}
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if err := apply(db, m); err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.version, m.name, err)
		}
		slog.Info("schema_migrated", "version", m.version, "name", m.name)
	}
	return nil
}

func apply(db *sql.DB, m migration) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stmt := range m.stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return err
		}
	}
	if _, err := tx.Exec(`INSERT INTO schema_version (version, name) VALUES (?, ?)`, m.version, m.name); err != nil {
		return err
	}
	return tx.Commit()
}

func backup(db *sql.DB, path string, version int) error {
	if path == "" || strings.HasPrefix(path, MemoryPath) || strings.HasPrefix(path, "file::memory:") {
		return nil
	}
	dest := fmt.Sprintf("%s.v%d.bak", path, version)
	if _, err := os.Stat(dest); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to stat backup: %w", err)
	}
	if _, err := db.Exec(`VACUUM INTO ?`, dest); err != nil {
		return fmt.Errorf("failed to back up database before migration: %w", err)
	}
	slog.Info("schema_backup", "path", dest, "version", version)
	return nil
}
