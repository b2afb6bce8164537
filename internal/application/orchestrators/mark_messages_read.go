package orchestrators

import (
	"context"
	"log/slog"
	"time"

	"github.com/samber/lo"

	"inbox/internal/domain/message"
)

// MarkMessagesReadInput carries input for the mark-as-read orchestrator.
type MarkMessagesReadInput struct {
	MessageIDs []string
	UserID     string
}

// MarkMessagesReadDeps holds dependencies for MarkMessagesRead.
type MarkMessagesReadDeps struct {
	MessageStore MessageStoreForOrchestrator
	Publisher    EventPublisher // optional
	Now          func() time.Time
}

// ExecuteMarkMessagesRead marks a batch of messages read for their recipient.
// Every id is checked before anything is written, so one foreign or missing id
// leaves the whole batch untouched. Already-read messages are not counted.
// PRE: UserID is the authenticated caller
// POST: Returns the number of messages that transitioned Unread -> Read
func ExecuteMarkMessagesRead(ctx context.Context, input MarkMessagesReadInput, deps MarkMessagesReadDeps) (int, error) {
	ids := lo.Uniq(input.MessageIDs)
	if len(ids) == 0 {
		return 0, nil
	}

	for _, id := range ids {
		if _, err := loadForAction(ctx, deps.MessageStore, id, input.UserID, message.ActionMarkRead); err != nil {
			return 0, err
		}
	}

	updated, err := deps.MessageStore.MarkAsRead(ctx, ids, deps.Now())
	if err != nil {
		return 0, err
	}

	if updated > 0 {
		slog.Info("message_event", "event", "messages_read", "user_id", input.UserID, "requested", len(ids), "updated", updated)
		publish(ctx, deps.Publisher, message.ChangeEvent{
			UserID: input.UserID,
			Type:   message.EventUpdated,
			Scope:  message.ScopeReadState,
		})
	}
	return updated, nil
}
