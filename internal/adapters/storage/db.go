package storage

import (
	"database/sql"
	"fmt"
	"strings"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// DSN returns the modernc sqlite connection string for path with WAL, busy timeout
// and foreign keys enabled on every pooled connection.
func DSN(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)&_pragma=synchronous(NORMAL)"
}

// Open connects to the database at path, sizes the pool and verifies the connection.
// PRE: the sqlite driver is registered by the caller
// POST: Returns a live *sql.DB; the schema is not touched
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", DSN(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if path == MemoryPath {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(25)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database unreachable: %w", err)
	}
	return db, nil
}
