package projections

import (
	"context"

	"inbox/internal/domain/message"
)

// ConversationListStore defines the store interface needed by the conversations projection.
type ConversationListStore interface {
	FindConversations(ctx context.Context, userID string) ([]message.Conversation, error)
}

// GetConversationsQuery carries input for the conversations projection.
type GetConversationsQuery struct {
	UserID string
}

// GetConversationsDeps holds dependencies for the conversations projection.
type GetConversationsDeps struct {
	MessageStore ConversationListStore
}

// ConversationsResult carries the output of the conversations projection.
type ConversationsResult struct {
	Conversations []message.Conversation
	Total         int
}

// QueryGetConversations lists the caller's conversations, most recent first.
// Grouping and unread counting happen in the store.
func QueryGetConversations(ctx context.Context, query GetConversationsQuery, deps GetConversationsDeps) (ConversationsResult, error) {
	convs, err := deps.MessageStore.FindConversations(ctx, query.UserID)
	if err != nil {
		return ConversationsResult{}, err
	}
	if convs == nil {
		convs = []message.Conversation{}
	}
	return ConversationsResult{Conversations: convs, Total: len(convs)}, nil
}
