package storage

import (
	"database/sql"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	_ "modernc.org/sqlite"
)

// openTestDB creates an in-memory SQLite database for testing.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := Open(MemoryPath)
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// getTableNames returns sorted table names from sqlite_master, excluding internal tables.
func getTableNames(t *testing.T, db *sql.DB) []string {
	t.Helper()
	rows, err := db.Query("SELECT name FROM sqlite_master WHERE type='table' AND name NOT LIKE 'sqlite_%' ORDER BY name")
	if err != nil {
		t.Fatalf("failed to query sqlite_master: %v", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			t.Fatalf("failed to scan table name: %v", err)
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// getSchemaSQL returns sorted, whitespace-normalised CREATE statements.
func getSchemaSQL(t *testing.T, db *sql.DB) []string {
	t.Helper()
	rows, err := db.Query("SELECT sql FROM sqlite_master WHERE name NOT LIKE 'sqlite_%' AND sql IS NOT NULL")
	if err != nil {
		t.Fatalf("failed to query sqlite_master: %v", err)
	}
	defer rows.Close()

	var sqls []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			t.Fatalf("failed to scan sql: %v", err)
		}
		sqls = append(sqls, strings.Join(strings.Fields(s), " "))
	}
	sort.Strings(sqls)
	return sqls
}

var expectedTables = []string{"message", "outbox", "schema_version", "user_profile"}

// TestMigrateDB_Fresh verifies all migrations apply cleanly to an empty database.
func TestMigrateDB_Fresh(t *testing.T) {
	db := openTestDB(t)

	if err := MigrateDB(db, MemoryPath); err != nil {
		t.Fatalf("MigrateDB failed on fresh db: %v", err)
	}

	version, err := SchemaVersion(db)
	if err != nil {
		t.Fatalf("SchemaVersion failed: %v", err)
	}
	if version != LatestSchemaVersion() {
		t.Errorf("version = %d, want %d", version, LatestSchemaVersion())
	}

	tables := getTableNames(t, db)
	if strings.Join(tables, ",") != strings.Join(expectedTables, ",") {
		t.Errorf("tables = %v, want %v", tables, expectedTables)
	}
}

// TestMigrateDB_Idempotent verifies a second run is a no-op.
func TestMigrateDB_Idempotent(t *testing.T) {
	db := openTestDB(t)

	if err := MigrateDB(db, MemoryPath); err != nil {
		t.Fatalf("first MigrateDB failed: %v", err)
	}
	before := getSchemaSQL(t, db)

	if err := MigrateDB(db, MemoryPath); err != nil {
		t.Fatalf("second MigrateDB failed: %v", err)
	}
	after := getSchemaSQL(t, db)

	if strings.Join(before, "\n") != strings.Join(after, "\n") {
		t.Errorf("schema changed after idempotent run:\nbefore: %v\nafter:  %v", before, after)
	}
	var applied int
	db.QueryRow("SELECT COUNT(*) FROM schema_version").Scan(&applied)
	if applied != len(migrations) {
		t.Errorf("schema_version rows = %d, want %d", applied, len(migrations))
	}
}

// TestMigrateDB_VersionProgression verifies 0 before and latest after.
func TestMigrateDB_VersionProgression(t *testing.T) {
	db := openTestDB(t)

	v, err := SchemaVersion(db)
	if err != nil {
		t.Fatalf("SchemaVersion failed: %v", err)
	}
	if v != 0 {
		t.Errorf("initial version = %d, want 0", v)
	}

	if err := MigrateDB(db, MemoryPath); err != nil {
		t.Fatalf("MigrateDB failed: %v", err)
	}

	v, _ = SchemaVersion(db)
	if v != LatestSchemaVersion() {
		t.Errorf("post-migration version = %d, want %d", v, LatestSchemaVersion())
	}
}

// TestMigrateDB_RejectsSelfMessage verifies the table-level participant check.
func TestMigrateDB_RejectsSelfMessage(t *testing.T) {
	db := openTestDB(t)
	if err := MigrateDB(db, MemoryPath); err != nil {
		t.Fatalf("MigrateDB failed: %v", err)
	}

	if _, err := db.Exec(`INSERT INTO user_profile (id, name) VALUES ('u1', 'Ana')`); err != nil {
		t.Fatalf("seed: %v", err)
	}
	_, err := db.Exec(`INSERT INTO message (id, sender_id, recipient_id, content, created_at, updated_at)
		VALUES ('m1', 'u1', 'u1', 'hi', 'x', 'x')`)
	if err == nil || !strings.Contains(err.Error(), "CHECK") {
		t.Errorf("expected CHECK violation for self-addressed message, got %v", err)
	}
}

// TestMigrateDB_RejectsUnknownRecipient verifies message.recipient_id references user_profile.
func TestMigrateDB_RejectsUnknownRecipient(t *testing.T) {
	db := openTestDB(t)
	if err := MigrateDB(db, MemoryPath); err != nil {
		t.Fatalf("MigrateDB failed: %v", err)
	}

	_, err := db.Exec(`INSERT INTO message (id, sender_id, recipient_id, content, created_at, updated_at)
		VALUES ('m1', 'u1', 'ghost', 'hi', 'x', 'x')`)
	if err == nil || !strings.Contains(err.Error(), "FOREIGN KEY") {
		t.Errorf("expected FOREIGN KEY violation, got %v", err)
	}
}

// TestMigrateDB_RecipientKeyKeepsOrphans verifies messages stored before the
// recipient constraint survive it, with a bare profile created for each recipient.
func TestMigrateDB_RecipientKeyKeepsOrphans(t *testing.T) {
	db := openTestDB(t)
	if _, err := db.Exec(`CREATE TABLE schema_version (version INTEGER PRIMARY KEY, name TEXT NOT NULL, applied_at TEXT NOT NULL DEFAULT '')`); err != nil {
		t.Fatalf("create schema_version: %v", err)
	}
	for _, m := range migrations[:3] {
		if err := apply(db, m); err != nil {
			t.Fatalf("apply %d: %v", m.version, err)
		}
	}
	if _, err := db.Exec(`INSERT INTO message (id, sender_id, recipient_id, content, created_at, updated_at)
		VALUES ('m1', 'u1', 'u2', 'hi', 'x', 'x')`); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if err := MigrateDB(db, MemoryPath); err != nil {
		t.Fatalf("MigrateDB: %v", err)
	}

	var recipient, name string
	err := db.QueryRow(`SELECT m.recipient_id, p.name FROM message m JOIN user_profile p ON p.id = m.recipient_id WHERE m.id = 'm1'`).Scan(&recipient, &name)
	if err != nil || recipient != "u2" || name != "u2" {
		t.Errorf("recipient=%q name=%q err=%v", recipient, name, err)
	}
	var indexes int
	if err := db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND tbl_name='message' AND name LIKE 'idx_message_%'`).Scan(&indexes); err != nil || indexes != 3 {
		t.Errorf("message indexes = %d, want 3 (err %v)", indexes, err)
	}
}

// TestMigrateDB_BackupBeforeUpgrade verifies a partially migrated file is snapshotted
// and its data survives the upgrade.
func TestMigrateDB_BackupBeforeUpgrade(t *testing.T) {
	path := filepath.Join(t.TempDir(), "inbox.db")
	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	// Apply only the baseline, as an older binary would have.
	if _, err := db.Exec(`CREATE TABLE schema_version (version INTEGER PRIMARY KEY, name TEXT NOT NULL, applied_at TEXT NOT NULL DEFAULT '')`); err != nil {
		t.Fatalf("create schema_version: %v", err)
	}
	if err := apply(db, migrations[0]); err != nil {
		t.Fatalf("apply baseline: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO user_profile (id, name) VALUES ('u1', 'Ana')`); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if err := MigrateDB(db, path); err != nil {
		t.Fatalf("MigrateDB: %v", err)
	}

	if _, err := os.Stat(path + ".v1.bak"); err != nil {
		t.Errorf("expected backup file: %v", err)
	}
	var name string
	if err := db.QueryRow("SELECT name FROM user_profile WHERE id = 'u1'").Scan(&name); err != nil || name != "Ana" {
		t.Errorf("data lost after migration: name=%q err=%v", name, err)
	}
	if v, _ := SchemaVersion(db); v != LatestSchemaVersion() {
		t.Errorf("version = %d, want %d", v, LatestSchemaVersion())
	}
}

// TestDSN verifies pragmas are appended to both bare and parameterised paths.
func TestDSN(t *testing.T) {
	tests := []struct {
		path   string
		prefix string
	}{
		{"inbox.db", "inbox.db?_pragma="},
		{"file:inbox.db?mode=rwc", "file:inbox.db?mode=rwc&_pragma="},
	}
	for _, tt := range tests {
		got := DSN(tt.path)
		if !strings.HasPrefix(got, tt.prefix) {
			t.Errorf("DSN(%q) = %q, want prefix %q", tt.path, got, tt.prefix)
		}
		if !strings.Contains(got, "foreign_keys(ON)") {
			t.Errorf("DSN(%q) missing foreign_keys pragma", tt.path)
		}
	}
}
