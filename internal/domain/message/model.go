// Package message holds the direct-message entity and its derived views.
package message

import (
	"strings"
	"time"
	"unicode/utf8"
)

// MaxContentLength is the upper bound on trimmed content, in characters.
const MaxContentLength = 5000

// Message is a direct message between two distinct users.
// Fields are unexported so every value passes through New or Reconstruct.
type Message struct {
	id          string
	senderID    string
	recipientID string
	content     string
	readAt      time.Time
	createdAt   time.Time
	updatedAt   time.Time
}

// Props is the flat form of a Message used by storage adapters.
// A zero ReadAt means unread.
type Props struct {
	ID          string
	SenderID    string
	RecipientID string
	Content     string
	ReadAt      time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// New creates an unread message stamped with now.
// The id may be empty until the store assigns one.
// PRE: none
// POST: Returns a valid unread Message or a *ValidationError
func New(id, senderID, recipientID, content string, now time.Time) (Message, error) {
	m := Message{
		id:          id,
		senderID:    senderID,
		recipientID: recipientID,
		content:     content,
		createdAt:   now,
		updatedAt:   now,
	}
	if err := m.validate(); err != nil {
		return Message{}, err
	}
	return m, nil
}

// Reconstruct wraps persisted data, re-checking every invariant.
// PRE: p was read from storage
// POST: Returns a valid Message or a *ValidationError
func Reconstruct(p Props) (Message, error) {
	if p.ID == "" {
		return Message{}, invalid(RuleIDRequired, "")
	}
	m := Message{
		id:          p.ID,
		senderID:    p.SenderID,
		recipientID: p.RecipientID,
		content:     p.Content,
		readAt:      p.ReadAt,
		createdAt:   p.CreatedAt,
		updatedAt:   p.UpdatedAt,
	}
	if err := m.validate(); err != nil {
		return Message{}, err
	}
	return m, nil
}

func (m Message) validate() error {
	if m.senderID == "" {
		return invalid(RuleSenderRequired, "")
	}
	if m.recipientID == "" {
		return invalid(RuleRecipientRequired, "")
	}
	if m.senderID == m.recipientID {
		return invalid(RuleDistinctParticipant, "cannot message yourself")
	}
	n := utf8.RuneCountInString(strings.TrimSpace(m.content))
	if n == 0 {
		return invalid(RuleContentEmpty, "")
	}
	if n > MaxContentLength {
		return invalid(RuleContentTooLong, "content exceeds 5000 characters")
	}
	if m.createdAt.IsZero() || m.updatedAt.IsZero() {
		return invalid(RuleTimestampsRequired, "")
	}
	if m.updatedAt.Before(m.createdAt) {
		return invalid(RuleUpdatedAfterCreated, "")
	}
	if !m.readAt.IsZero() && m.readAt.Before(m.createdAt) {
		return invalid(RuleReadAfterCreated, "")
	}
	return nil
}

// MarkRead returns a copy of m read at the given instant.
// An already-read message is returned unchanged, keeping the original readAt and updatedAt.
// A read instant earlier than createdAt is clamped to createdAt.
// PRE: m is valid
// POST: result.IsRead() is true
func (m Message) MarkRead(at time.Time) Message {
	if m.IsRead() {
		return m
	}
	if at.Before(m.createdAt) {
		at = m.createdAt
	}
	m.readAt = at
	if at.After(m.updatedAt) {
		m.updatedAt = at
	}
	return m
}

// WithID returns a copy of m carrying the store-assigned id.
func (m Message) WithID(id string) Message {
	m.id = id
	return m
}

func (m Message) ID() string           { return m.id }
func (m Message) SenderID() string     { return m.senderID }
func (m Message) RecipientID() string  { return m.recipientID }
func (m Message) Content() string      { return m.content }
func (m Message) CreatedAt() time.Time { return m.createdAt }
func (m Message) UpdatedAt() time.Time { return m.updatedAt }

// ReadAt returns the read instant and whether the message has been read.
func (m Message) ReadAt() (time.Time, bool) {
	return m.readAt, !m.readAt.IsZero()
}

// IsRead returns true if the message has been read.
func (m Message) IsRead() bool {
	return !m.readAt.IsZero()
}

// IsSender reports whether userID sent m.
func (m Message) IsSender(userID string) bool {
	return userID != "" && m.senderID == userID
}

// IsRecipient reports whether m was addressed to userID.
func (m Message) IsRecipient(userID string) bool {
	return userID != "" && m.recipientID == userID
}

// InvolvesUser reports whether userID is either participant.
func (m Message) InvolvesUser(userID string) bool {
	return m.IsSender(userID) || m.IsRecipient(userID)
}

// OtherParticipant returns the counterpart of userID, or "" if userID is not a participant.
func (m Message) OtherParticipant(userID string) string {
	switch {
	case m.IsSender(userID):
		return m.recipientID
	case m.IsRecipient(userID):
		return m.senderID
	default:
		return ""
	}
}

// Props returns the flat form of m.
func (m Message) Props() Props {
	return Props{
		ID:          m.id,
		SenderID:    m.senderID,
		RecipientID: m.recipientID,
		Content:     m.content,
		ReadAt:      m.readAt,
		CreatedAt:   m.createdAt,
		UpdatedAt:   m.updatedAt,
	}
}

// Equal reports whether m and o carry the same fields, comparing instants with time.Equal.
func (m Message) Equal(o Message) bool {
	return m.id == o.id &&
		m.senderID == o.senderID &&
		m.recipientID == o.recipientID &&
		m.content == o.content &&
		m.readAt.Equal(o.readAt) &&
		m.createdAt.Equal(o.createdAt) &&
		m.updatedAt.Equal(o.updatedAt)
}
