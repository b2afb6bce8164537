// Package email delivers notification mail through a pluggable provider.
package email

import (
	"context"
	"errors"
	"time"
)

// ErrNoRecipients is returned for a request without any To address.
var ErrNoRecipients = errors.New("email has no recipients")

// SendRequest is one outgoing email.
type SendRequest struct {
	To      []string
	From    string // empty means the sender's default
	Subject string
	HTML    string
	Text    string
	// Tags are attached for provider side filtering, e.g. kind=message_email.
	Tags map[string]string
}

func (r SendRequest) check() error {
	if len(r.To) == 0 {
		return ErrNoRecipients
	}
	return nil
}

// SendResult identifies an accepted email.
type SendResult struct {
	MessageID string
	SentAt    time.Time
}

// Sender hands an email to a provider.
type Sender interface {
	Send(ctx context.Context, req SendRequest) (SendResult, error)
}
