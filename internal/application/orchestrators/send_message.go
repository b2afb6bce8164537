package orchestrators

import (
	"context"
	"log/slog"
	"time"

	"inbox/internal/domain/message"
)

// SendMessageInput carries input for the send message orchestrator.
type SendMessageInput struct {
	SenderID    string
	RecipientID string
	Content     string
}

// SendMessageDeps holds dependencies for SendMessage.
type SendMessageDeps struct {
	MessageStore MessageStoreForOrchestrator
	Publisher    EventPublisher  // optional
	Notifier     MessageNotifier // optional
	Now          func() time.Time
}

// ExecuteSendMessage validates, stores and announces a new direct message.
// Recipient existence is not checked here.
// PRE: SenderID is the authenticated caller
// POST: Message persisted unread; inbound/outbound events published; notifier invoked best-effort
func ExecuteSendMessage(ctx context.Context, input SendMessageInput, deps SendMessageDeps) (message.Message, error) {
	m, err := message.New("", input.SenderID, input.RecipientID, input.Content, deps.Now())
	if err != nil {
		return message.Message{}, err
	}

	saved, err := deps.MessageStore.Create(ctx, m)
	if err != nil {
		return message.Message{}, err
	}

	slog.Info("message_event", "event", "message_sent", "message_id", saved.ID(), "sender_id", saved.SenderID(), "recipient_id", saved.RecipientID())
	publish(ctx, deps.Publisher, message.SentEvents(saved)...)

	if deps.Notifier != nil {
		if err := deps.Notifier.NotifyNewMessage(ctx, saved); err != nil {
			slog.Warn("message_event", "event", "message_notify_failed", "message_id", saved.ID(), "error", err)
		}
	}
	return saved, nil
}
