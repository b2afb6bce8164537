package outbox

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"inbox/internal/adapters/storage"
	domain "inbox/internal/domain/outbox"
)

// timeLayout matches the message table so both sort the same way as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const entryColumns = `id, kind, message_id, status, attempts, max_attempts, last_attempted_at, created_at, last_error`

// SQLiteStore implements the outbox Store interface using SQLite.
type SQLiteStore struct {
	db storage.SQLDB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new outbox store.
func NewSQLiteStore(db storage.SQLDB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// GetByID retrieves an outbox entry by its ID.
// PRE: id is non-empty
// POST: Returns (entry, true) or (zero, false) when absent
func (s *SQLiteStore) GetByID(ctx context.Context, id string) (domain.Entry, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM outbox WHERE id = ?`, id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Entry{}, false, nil
	}
	if err != nil {
		return domain.Entry{}, false, fmt.Errorf("get outbox entry %q: %w", id, err)
	}
	return e, true, nil
}

// Save persists an outbox entry to the database.
// PRE: entry has been validated
// POST: Entry is persisted (insert or update)
func (s *SQLiteStore) Save(ctx context.Context, e domain.Entry) error {
	lastAttemptedAt := ""
	if !e.LastAttemptedAt.IsZero() {
		lastAttemptedAt = formatTime(e.LastAttemptedAt)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO outbox (`+entryColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   status=excluded.status, attempts=excluded.attempts, max_attempts=excluded.max_attempts,
		   last_attempted_at=excluded.last_attempted_at, last_error=excluded.last_error`,
		e.ID, e.Kind, e.MessageID, e.Status, e.Attempts, e.MaxAttempts,
		lastAttemptedAt, formatTime(e.CreatedAt), e.LastError)
	if err != nil {
		return fmt.Errorf("save outbox entry %q: %w", e.ID, err)
	}
	return nil
}

// ListPending returns entries that need to be processed (pending or retrying).
// PRE: limit > 0
// POST: Returns up to limit entries ordered by created_at
func (s *SQLiteStore) ListPending(ctx context.Context, limit int) ([]domain.Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+entryColumns+` FROM outbox WHERE status IN (?, ?) ORDER BY created_at ASC LIMIT ?`,
		domain.StatusPending, domain.StatusRetrying, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending outbox entries: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// ListFailed returns entries that have permanently failed.
// PRE: limit > 0
// POST: Returns up to limit failed entries ordered by last_attempted_at desc
func (s *SQLiteStore) ListFailed(ctx context.Context, limit int) ([]domain.Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+entryColumns+` FROM outbox WHERE status = ? ORDER BY last_attempted_at DESC LIMIT ?`,
		domain.StatusFailed, limit)
	if err != nil {
		return nil, fmt.Errorf("list failed outbox entries: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// DeleteDone removes delivered entries created before cutoff.
// POST: Returns the number of rows removed
func (s *SQLiteStore) DeleteDone(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM outbox WHERE status = ? AND created_at < ?`, domain.StatusDone, formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("delete done outbox entries: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete done outbox entries: %w", err)
	}
	return int(n), nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (domain.Entry, error) {
	var e domain.Entry
	var createdAt, lastAttemptedAt string
	err := row.Scan(&e.ID, &e.Kind, &e.MessageID, &e.Status, &e.Attempts, &e.MaxAttempts,
		&lastAttemptedAt, &createdAt, &e.LastError)
	if err != nil {
		return domain.Entry{}, err
	}
	if e.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
		return domain.Entry{}, fmt.Errorf("bad created_at %q: %w", createdAt, err)
	}
	if lastAttemptedAt != "" {
		if e.LastAttemptedAt, err = time.Parse(timeLayout, lastAttemptedAt); err != nil {
			return domain.Entry{}, fmt.Errorf("bad last_attempted_at %q: %w", lastAttemptedAt, err)
		}
	}
	return e, nil
}

func scanEntries(rows *sql.Rows) ([]domain.Entry, error) {
	var entries []domain.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}
