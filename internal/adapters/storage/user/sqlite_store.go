package user

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/samber/lo"

	"inbox/internal/adapters/storage"
	domain "inbox/internal/domain/user"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db storage.SQLDB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLiteStore.
func NewSQLiteStore(db storage.SQLDB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// GetSummaries looks up many users in one query.
// PRE: none
// POST: len(result) == number of distinct non-empty ids
func (s *SQLiteStore) GetSummaries(ctx context.Context, ids []string) (map[string]domain.Summary, error) {
	ids = lo.Uniq(lo.Compact(ids))
	out := make(map[string]domain.Summary, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	for _, id := range ids {
		out[id] = domain.UnknownSummary(id)
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := lo.Map(ids, func(id string, _ int) any { return id })
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, avatar_url FROM user_profile WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("get summaries: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var sum domain.Summary
		if err := rows.Scan(&sum.ID, &sum.Name, &sum.AvatarURL); err != nil {
			return nil, fmt.Errorf("get summaries: %w", err)
		}
		out[sum.ID] = sum
	}
	return out, rows.Err()
}

// GetProfile retrieves one profile.
// PRE: id is non-empty
// POST: Returns (profile, true) or (zero, false) when absent
func (s *SQLiteStore) GetProfile(ctx context.Context, id string) (domain.Profile, bool, error) {
	var p domain.Profile
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, avatar_url, email FROM user_profile WHERE id = ?`, id).
		Scan(&p.ID, &p.Name, &p.AvatarURL, &p.Email)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Profile{}, false, nil
	}
	if err != nil {
		return domain.Profile{}, false, fmt.Errorf("get profile: %w", err)
	}
	return p, true, nil
}

// Upsert inserts or replaces a profile.
// PRE: p.ID is non-empty
// POST: profile persisted
func (s *SQLiteStore) Upsert(ctx context.Context, p domain.Profile) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_profile (id, name, avatar_url, email) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   name=excluded.name, avatar_url=excluded.avatar_url, email=excluded.email`,
		p.ID, p.Name, p.AvatarURL, p.Email)
	if err != nil {
		return fmt.Errorf("upsert profile: %w", err)
	}
	return nil
}
