package user

import (
	"context"

	domain "inbox/internal/domain/user"
)

// Store reads and seeds the local copy of user profiles.
type Store interface {
	// GetSummaries returns a summary for every id; ids without a profile map to an id-only summary.
	GetSummaries(ctx context.Context, ids []string) (map[string]domain.Summary, error)
	GetProfile(ctx context.Context, id string) (domain.Profile, bool, error)
	Upsert(ctx context.Context, p domain.Profile) error
}
