package outbox

import (
	"context"
	"time"

	domain "inbox/internal/domain/outbox"
)

// Store defines the interface for outbox entry persistence.
type Store interface {
	// GetByID returns false when no entry has the id.
	GetByID(ctx context.Context, id string) (domain.Entry, bool, error)

	// Save persists an outbox entry (insert or update).
	// PRE: entry has been validated
	Save(ctx context.Context, e domain.Entry) error

	// ListPending returns pending and retrying entries, oldest first.
	// PRE: limit > 0
	ListPending(ctx context.Context, limit int) ([]domain.Entry, error)

	// ListFailed returns entries that ran out of attempts, most recent attempt first.
	// PRE: limit > 0
	ListFailed(ctx context.Context, limit int) ([]domain.Entry, error)

	// DeleteDone removes delivered entries created before cutoff and returns how many went.
	DeleteDone(ctx context.Context, cutoff time.Time) (int, error)
}
