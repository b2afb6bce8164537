package message

import (
	"context"
	"time"

	domain "inbox/internal/domain/message"
)

// Store persists Message state. Every failure is a *domain.RepositoryError.
type Store interface {
	// FindByID returns false when no message has the id.
	FindByID(ctx context.Context, id string) (domain.Message, bool, error)
	// FindConversations returns one entry per counterpart of userID, newest first.
	FindConversations(ctx context.Context, userID string) ([]domain.Conversation, error)
	// FindConversationMessages returns the messages between two users, oldest first.
	FindConversationMessages(ctx context.Context, userID, otherUserID string, limit, offset int) ([]domain.Message, error)
	CountConversationMessages(ctx context.Context, userID, otherUserID string) (int, error)
	GetUnreadCount(ctx context.Context, userID string) (int, error)
	// Create stores m under a freshly generated id and returns the stored form.
	// A recipient with no user profile fails with a ValidationError (RuleRecipientExists).
	Create(ctx context.Context, m domain.Message) (domain.Message, error)
	// MarkAsRead marks the unread messages among ids and returns how many changed.
	MarkAsRead(ctx context.Context, ids []string, at time.Time) (int, error)
	Delete(ctx context.Context, id string) error
}
