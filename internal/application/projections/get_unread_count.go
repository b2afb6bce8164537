package projections

import "context"

// UnreadStore defines the store interface needed by the unread count projection.
type UnreadStore interface {
	GetUnreadCount(ctx context.Context, userID string) (int, error)
}

// GetUnreadCountQuery carries input for the unread count projection.
type GetUnreadCountQuery struct {
	UserID string
}

// GetUnreadCountDeps holds dependencies for the unread count projection.
type GetUnreadCountDeps struct {
	MessageStore UnreadStore
}

// QueryGetUnreadCount returns how many messages addressed to the caller are unread.
func QueryGetUnreadCount(ctx context.Context, query GetUnreadCountQuery, deps GetUnreadCountDeps) (int, error) {
	return deps.MessageStore.GetUnreadCount(ctx, query.UserID)
}
