package orchestrators

import (
	"context"
	"log/slog"
	"time"

	"inbox/internal/domain/message"
)

// MessageStoreForOrchestrator defines the store interface needed by message commands.
type MessageStoreForOrchestrator interface {
	FindByID(ctx context.Context, id string) (message.Message, bool, error)
	Create(ctx context.Context, m message.Message) (message.Message, error)
	MarkAsRead(ctx context.Context, ids []string, at time.Time) (int, error)
	Delete(ctx context.Context, id string) error
}

// EventPublisher fans change notifications out to connected clients.
// Publish must not block on slow subscribers.
type EventPublisher interface {
	Publish(ctx context.Context, e message.ChangeEvent)
}

// MessageNotifier is told about every newly stored message.
type MessageNotifier interface {
	NotifyNewMessage(ctx context.Context, m message.Message) error
}

func publish(ctx context.Context, p EventPublisher, events ...message.ChangeEvent) {
	if p == nil {
		return
	}
	for _, e := range events {
		p.Publish(ctx, e)
	}
}

// loadForAction fetches a message and checks that userID may perform action on it.
func loadForAction(ctx context.Context, store MessageStoreForOrchestrator, id, userID string, action message.Action) (message.Message, error) {
	m, ok, err := store.FindByID(ctx, id)
	if err != nil {
		return message.Message{}, err
	}
	if !ok {
		return message.Message{}, &message.NotFoundError{ID: id}
	}

	allowed := false
	switch action {
	case message.ActionMarkRead:
		allowed = m.IsRecipient(userID)
	case message.ActionDelete:
		allowed = m.IsSender(userID)
	}
	if !allowed {
		slog.Warn("message_event", "event", "message_access_denied", "message_id", id, "user_id", userID, "action", action)
		return message.Message{}, &message.AuthorizationError{MessageID: id, UserID: userID, Action: action}
	}
	return m, nil
}
