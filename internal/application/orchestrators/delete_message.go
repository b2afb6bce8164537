package orchestrators

import (
	"context"
	"log/slog"

	"inbox/internal/domain/message"
)

// DeleteMessageInput carries input for the delete message orchestrator.
type DeleteMessageInput struct {
	MessageID string
	UserID    string
}

// DeleteMessageDeps holds dependencies for DeleteMessage.
type DeleteMessageDeps struct {
	MessageStore MessageStoreForOrchestrator
	Publisher    EventPublisher // optional
}

// ExecuteDeleteMessage removes a message on behalf of its sender.
// PRE: UserID is the authenticated caller
// POST: Message removed; both participants receive a deleted event
func ExecuteDeleteMessage(ctx context.Context, input DeleteMessageInput, deps DeleteMessageDeps) error {
	m, err := loadForAction(ctx, deps.MessageStore, input.MessageID, input.UserID, message.ActionDelete)
	if err != nil {
		return err
	}

	if err := deps.MessageStore.Delete(ctx, m.ID()); err != nil {
		return err
	}

	slog.Info("message_event", "event", "message_deleted", "message_id", m.ID(), "sender_id", m.SenderID())
	publish(ctx, deps.Publisher, message.DeletedEvents(m)...)
	return nil
}
