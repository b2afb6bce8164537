package message

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"inbox/internal/adapters/storage"
	domain "inbox/internal/domain/message"
)

// timeLayout is fixed width so text comparison in SQL orders instants correctly.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const messageColumns = `id, sender_id, recipient_id, content, read_at, created_at, updated_at`

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db    storage.SQLDB
	newID func() string
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLiteStore.
func NewSQLiteStore(db storage.SQLDB) *SQLiteStore {
	return &SQLiteStore{db: db, newID: uuid.NewString}
}

func repoErr(op string, err error) error {
	return &domain.RepositoryError{Op: op, Err: err}
}

// FindByID retrieves a Message by its ID.
// PRE: id is non-empty
// POST: Returns (message, true) or (zero, false) when absent
func (s *SQLiteStore) FindByID(ctx context.Context, id string) (domain.Message, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM message WHERE id = ?`, id)
	m, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Message{}, false, nil
	}
	if err != nil {
		return domain.Message{}, false, repoErr("find_by_id", err)
	}
	return m, true, nil
}

// FindConversations groups userID's messages by counterpart in a single query.
// The unread window sums over the whole partition, so it never depends on paging.
// PRE: userID is non-empty
// POST: One conversation per counterpart, ordered by last message desc
func (s *SQLiteStore) FindConversations(ctx context.Context, userID string) ([]domain.Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `
		WITH mine AS (
			SELECT `+messageColumns+`,
				CASE WHEN sender_id = ? THEN recipient_id ELSE sender_id END AS counterpart_id
			FROM message
			WHERE sender_id = ? OR recipient_id = ?
		), ranked AS (
			SELECT mine.*,
				ROW_NUMBER() OVER (PARTITION BY counterpart_id ORDER BY created_at DESC, id DESC) AS rn,
				SUM(CASE WHEN sender_id = counterpart_id AND read_at IS NULL THEN 1 ELSE 0 END)
					OVER (PARTITION BY counterpart_id) AS unread
			FROM mine
		)
		SELECT r.id, r.sender_id, r.recipient_id, r.content, r.read_at, r.created_at, r.updated_at,
			r.counterpart_id, COALESCE(p.name, ''), COALESCE(p.avatar_url, ''), r.unread
		FROM ranked r
		LEFT JOIN user_profile p ON p.id = r.counterpart_id
		WHERE r.rn = 1
		ORDER BY r.created_at DESC, r.id DESC`,
		userID, userID, userID)
	if err != nil {
		return nil, repoErr("find_conversations", err)
	}
	defer rows.Close()

	conversations := []domain.Conversation{}
	for rows.Next() {
		var r messageRow
		var c domain.Conversation
		err := rows.Scan(&r.id, &r.senderID, &r.recipientID, &r.content, &r.readAt, &r.createdAt, &r.updatedAt,
			&c.Counterpart.ID, &c.Counterpart.Name, &c.Counterpart.AvatarURL, &c.UnreadCount)
		if err != nil {
			return nil, repoErr("find_conversations", err)
		}
		if c.LastMessage, err = r.toDomain(); err != nil {
			return nil, repoErr("find_conversations", err)
		}
		conversations = append(conversations, c)
	}
	if err := rows.Err(); err != nil {
		return nil, repoErr("find_conversations", err)
	}
	return conversations, nil
}

// FindConversationMessages retrieves one page of the thread between two users.
// PRE: limit > 0, offset >= 0
// POST: Messages ordered by createdAt ascending, id breaking ties
func (s *SQLiteStore) FindConversationMessages(ctx context.Context, userID, otherUserID string, limit, offset int) ([]domain.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+messageColumns+` FROM message
		 WHERE (sender_id = ? AND recipient_id = ?) OR (sender_id = ? AND recipient_id = ?)
		 ORDER BY created_at ASC, id ASC
		 LIMIT ? OFFSET ?`,
		userID, otherUserID, otherUserID, userID, limit, offset)
	if err != nil {
		return nil, repoErr("find_conversation_messages", err)
	}
	defer rows.Close()

	messages, err := scanMessages(rows)
	if err != nil {
		return nil, repoErr("find_conversation_messages", err)
	}
	return messages, nil
}

// CountConversationMessages counts every message between two users.
func (s *SQLiteStore) CountConversationMessages(ctx context.Context, userID, otherUserID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM message
		 WHERE (sender_id = ? AND recipient_id = ?) OR (sender_id = ? AND recipient_id = ?)`,
		userID, otherUserID, otherUserID, userID).Scan(&count)
	if err != nil {
		return 0, repoErr("count_conversation_messages", err)
	}
	return count, nil
}

// GetUnreadCount counts unread messages addressed to userID.
// PRE: userID is non-empty
// POST: Returns count >= 0
func (s *SQLiteStore) GetUnreadCount(ctx context.Context, userID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM message WHERE recipient_id = ? AND read_at IS NULL`, userID).Scan(&count)
	if err != nil {
		return 0, repoErr("get_unread_count", err)
	}
	return count, nil
}

// Create inserts m under a new id.
// PRE: m was built by domain.New
// POST: Returns m carrying the assigned id
func (s *SQLiteStore) Create(ctx context.Context, m domain.Message) (domain.Message, error) {
	m = m.WithID(s.newID())
	p := m.Props()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO message (`+messageColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.SenderID, p.RecipientID, p.Content,
		nullTime(p.ReadAt), formatTime(p.CreatedAt), formatTime(p.UpdatedAt))
	if isForeignKeyViolation(err) {
		return domain.Message{}, &domain.ValidationError{Rule: domain.RuleRecipientExists, Detail: p.RecipientID}
	}
	if err != nil {
		return domain.Message{}, repoErr("create", err)
	}
	return m, nil
}

// isForeignKeyViolation reports a recipient_id with no user_profile row.
func isForeignKeyViolation(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.Code()&0xff == sqlite3.SQLITE_CONSTRAINT && strings.Contains(se.Error(), "FOREIGN KEY")
}

// MarkAsRead sets read_at on the still-unread messages among ids in one statement.
// read_at is clamped to created_at and updated_at never moves backwards.
// PRE: ids are deduplicated
// POST: Returns the number of rows that transitioned to read
func (s *SQLiteStore) MarkAsRead(ctx context.Context, ids []string, at time.Time) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	ts := formatTime(at)
	args := make([]any, 0, len(ids)+2)
	args = append(args, ts, ts)
	for _, id := range ids {
		args = append(args, id)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")

	res, err := s.db.ExecContext(ctx,
		`UPDATE message
		 SET read_at = MAX(created_at, ?), updated_at = MAX(updated_at, created_at, ?)
		 WHERE id IN (`+placeholders+`) AND read_at IS NULL`, args...)
	if err != nil {
		return 0, repoErr("mark_as_read", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, repoErr("mark_as_read", err)
	}
	return int(n), nil
}

// Delete removes a Message from the database.
// PRE: id is non-empty
// POST: Entity with given id is removed
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM message WHERE id = ?`, id); err != nil {
		return repoErr("delete", err)
	}
	return nil
}

type messageRow struct {
	id, senderID, recipientID, content string
	readAt                             sql.NullString
	createdAt, updatedAt               string
}

func (r messageRow) toDomain() (domain.Message, error) {
	p := domain.Props{
		ID:          r.id,
		SenderID:    r.senderID,
		RecipientID: r.recipientID,
		Content:     r.content,
	}
	var err error
	if p.CreatedAt, err = parseTime(r.createdAt); err != nil {
		return domain.Message{}, err
	}
	if p.UpdatedAt, err = parseTime(r.updatedAt); err != nil {
		return domain.Message{}, err
	}
	if r.readAt.Valid {
		if p.ReadAt, err = parseTime(r.readAt.String); err != nil {
			return domain.Message{}, err
		}
	}
	return domain.Reconstruct(p)
}

func scanMessage(row *sql.Row) (domain.Message, error) {
	var r messageRow
	if err := row.Scan(&r.id, &r.senderID, &r.recipientID, &r.content, &r.readAt, &r.createdAt, &r.updatedAt); err != nil {
		return domain.Message{}, err
	}
	return r.toDomain()
}

func scanMessages(rows *sql.Rows) ([]domain.Message, error) {
	messages := []domain.Message{}
	for rows.Next() {
		var r messageRow
		if err := rows.Scan(&r.id, &r.senderID, &r.recipientID, &r.content, &r.readAt, &r.createdAt, &r.updatedAt); err != nil {
			return nil, err
		}
		m, err := r.toDomain()
		if err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad timestamp %q: %w", s, err)
	}
	return t, nil
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return formatTime(t)
}
