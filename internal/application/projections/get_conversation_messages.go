package projections

import (
	"context"
	"log/slog"

	"github.com/samber/lo"

	"inbox/internal/application/listutil"
	"inbox/internal/domain/message"
	"inbox/internal/domain/user"
)

// ThreadStore defines the store interface needed by the thread projection.
type ThreadStore interface {
	FindConversationMessages(ctx context.Context, userID, otherUserID string, limit, offset int) ([]message.Message, error)
	CountConversationMessages(ctx context.Context, userID, otherUserID string) (int, error)
}

// SummaryLookup resolves public user summaries in bulk.
type SummaryLookup interface {
	GetSummaries(ctx context.Context, ids []string) (map[string]user.Summary, error)
}

// GetConversationMessagesQuery carries input for the thread projection.
type GetConversationMessagesQuery struct {
	UserID      string
	OtherUserID string
	Window      listutil.Window
}

// GetConversationMessagesDeps holds dependencies for the thread projection.
type GetConversationMessagesDeps struct {
	MessageStore ThreadStore
	Users        SummaryLookup // optional
}

// MessageView is a message with both participants resolved.
type MessageView struct {
	Message   message.Message
	Sender    user.Summary
	Recipient user.Summary
}

// ThreadResult carries one page of a thread plus the thread's full size.
type ThreadResult struct {
	Messages []MessageView
	Total    int
}

// QueryGetConversationMessages returns one page of the thread between two users, oldest first.
// PRE: query.Window was built by listutil
// POST: len(Messages) <= Window.Limit; Total counts the whole thread
func QueryGetConversationMessages(ctx context.Context, query GetConversationMessagesQuery, deps GetConversationMessagesDeps) (ThreadResult, error) {
	w := query.Window
	if w.Limit == 0 {
		w.Limit = listutil.DefaultLimit
	}

	msgs, err := deps.MessageStore.FindConversationMessages(ctx, query.UserID, query.OtherUserID, w.Limit, w.Offset)
	if err != nil {
		return ThreadResult{}, err
	}
	total, err := deps.MessageStore.CountConversationMessages(ctx, query.UserID, query.OtherUserID)
	if err != nil {
		return ThreadResult{}, err
	}

	return ThreadResult{
		Messages: ViewMessages(ctx, deps.Users, msgs),
		Total:    total,
	}, nil
}

// ViewMessages attaches sender and recipient summaries to msgs.
// Lookup failures degrade to id-only summaries rather than failing the read.
func ViewMessages(ctx context.Context, users SummaryLookup, msgs []message.Message) []MessageView {
	var summaries map[string]user.Summary
	if users != nil && len(msgs) > 0 {
		ids := lo.FlatMap(msgs, func(m message.Message, _ int) []string {
			return []string{m.SenderID(), m.RecipientID()}
		})
		var err error
		if summaries, err = users.GetSummaries(ctx, ids); err != nil {
			slog.Warn("message_event", "event", "summary_lookup_failed", "error", err)
		}
	}

	summary := func(id string) user.Summary {
		if s, ok := summaries[id]; ok {
			return s
		}
		return user.UnknownSummary(id)
	}
	return lo.Map(msgs, func(m message.Message, _ int) MessageView {
		return MessageView{Message: m, Sender: summary(m.SenderID()), Recipient: summary(m.RecipientID())}
	})
}
