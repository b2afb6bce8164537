package contract

import (
	"github.com/samber/lo"

	"inbox/internal/application/projections"
	"inbox/internal/domain/message"
	"inbox/internal/domain/user"
)

// FromSummary converts a user summary to its wire form.
func FromSummary(s user.Summary) UserSummary {
	return UserSummary{ID: s.ID, Name: s.Name, AvatarURL: s.AvatarURL}
}

// FromMessage converts a message to its wire form.
func FromMessage(m message.Message) Message {
	out := Message{
		ID:          m.ID(),
		SenderID:    m.SenderID(),
		RecipientID: m.RecipientID(),
		Content:     m.Content(),
		CreatedAt:   m.CreatedAt(),
		UpdatedAt:   m.UpdatedAt(),
	}
	if at, ok := m.ReadAt(); ok {
		out.ReadAt = lo.ToPtr(at)
	}
	return out
}

// FromView converts a message with resolved participants.
func FromView(v projections.MessageView) MessageWithUsers {
	return MessageWithUsers{
		Message:   FromMessage(v.Message),
		Sender:    FromSummary(v.Sender),
		Recipient: FromSummary(v.Recipient),
	}
}

// FromViews converts a page of messages.
func FromViews(views []projections.MessageView) []MessageWithUsers {
	return lo.Map(views, func(v projections.MessageView, _ int) MessageWithUsers { return FromView(v) })
}

// FromConversations converts derived conversations.
func FromConversations(convs []message.Conversation) []Conversation {
	return lo.Map(convs, func(c message.Conversation, _ int) Conversation {
		return Conversation{
			Counterpart: FromSummary(c.Counterpart),
			LastMessage: FromMessage(c.LastMessage),
			UnreadCount: c.UnreadCount,
		}
	})
}

// FromChangeEvent converts a change notification to its stream frame.
func FromChangeEvent(e message.ChangeEvent) PushEvent {
	return PushEvent{Type: string(e.Type), Scope: string(e.Scope), CounterpartID: e.CounterpartID}
}

// ToDomain rebuilds the entity, re-checking every invariant.
func (m Message) ToDomain() (message.Message, error) {
	p := message.Props{
		ID:          m.ID,
		SenderID:    m.SenderID,
		RecipientID: m.RecipientID,
		Content:     m.Content,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
	if m.ReadAt != nil {
		p.ReadAt = *m.ReadAt
	}
	return message.Reconstruct(p)
}

// IsRead reports whether the message carries a read instant.
func (m Message) IsRead() bool {
	return m.ReadAt != nil
}
