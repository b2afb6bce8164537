// Package contract defines the JSON wire format shared by the HTTP adapter and the client.
package contract

import "time"

// UserSummary is the public face of a user.
type UserSummary struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatarUrl"`
}

// Message is a direct message as sent over the wire. ReadAt is null while unread.
type Message struct {
	ID          string     `json:"id"`
	SenderID    string     `json:"senderId"`
	RecipientID string     `json:"recipientId"`
	Content     string     `json:"content"`
	ReadAt      *time.Time `json:"readAt"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// MessageWithUsers is a Message with both participants embedded.
type MessageWithUsers struct {
	Message
	Sender    UserSummary `json:"sender"`
	Recipient UserSummary `json:"recipient"`
}

// Conversation is the derived per-counterpart view.
type Conversation struct {
	Counterpart UserSummary `json:"counterpart"`
	LastMessage Message     `json:"lastMessage"`
	UnreadCount int         `json:"unreadCount"`
}

// SendMessageRequest is the body of POST /messages.
// Content length is checked by the entity, after trimming.
type SendMessageRequest struct {
	RecipientID string `json:"recipientId" validate:"required"`
	Content     string `json:"content" validate:"required"`
}

// SendMessageResponse is the 201 body of POST /messages.
type SendMessageResponse struct {
	Message MessageWithUsers `json:"message"`
}

// ConversationsResponse is the body of GET /messages/conversations.
type ConversationsResponse struct {
	Conversations []Conversation `json:"conversations"`
	Total         int            `json:"total"`
}

// ThreadResponse is the body of GET /messages/conversation/{otherUserId}.
type ThreadResponse struct {
	Messages []MessageWithUsers `json:"messages"`
	Total    int                `json:"total"`
}

// MaxMarkReadBatch bounds the ids accepted by one PUT /messages/read.
const MaxMarkReadBatch = 500

// MarkReadRequest is the body of PUT /messages/read.
type MarkReadRequest struct {
	MessageIDs []string `json:"messageIds" validate:"required,min=1,max=500,dive,required"`
}

// MarkReadResponse is the body returned by PUT /messages/read.
type MarkReadResponse struct {
	UpdatedCount int `json:"updatedCount"`
}

// UnreadCountResponse is the body of GET /messages/unread-count.
type UnreadCountResponse struct {
	UnreadCount int `json:"unreadCount"`
}

// PushEvent is one frame on the /messages/events stream.
// It only signals what to refetch; CounterpartID is a hint.
type PushEvent struct {
	Type          string `json:"type" validate:"required,oneof=inserted updated deleted"`
	Scope         string `json:"scope" validate:"required,oneof=inbound outbound read-state"`
	CounterpartID string `json:"counterpartId,omitempty"`
}

// Error codes carried by ErrorResponse.
const (
	CodeBadRequest   = "bad_request"
	CodeValidation   = "validation"
	CodeUnauthorized = "unauthorized"
	CodeForbidden    = "forbidden"
	CodeNotFound     = "not_found"
	CodeUnavailable  = "unavailable"
	CodeInternal     = "internal"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	Rule      string `json:"rule,omitempty"`
	MessageID string `json:"messageId,omitempty"`
	Action    string `json:"action,omitempty"`
}
