package message

import "inbox/internal/domain/user"

// Conversation is the derived view of every message between one user and one counterpart.
// It is never persisted.
type Conversation struct {
	Counterpart user.Summary
	LastMessage Message
	UnreadCount int
}
