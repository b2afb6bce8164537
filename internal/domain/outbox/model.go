// Package outbox models side effects that are recorded first and delivered later.
package outbox

import (
	"errors"
	"time"
)

// Status constants for outbox entry lifecycle.
const (
	StatusPending   = "pending"
	StatusRetrying  = "retrying"
	StatusDone      = "done"
	StatusFailed    = "failed"
	StatusAbandoned = "abandoned"
)

// KindMessageEmail is the email telling a recipient about a new message.
const KindMessageEmail = "message_email"

// DefaultMaxAttempts applies when an entry does not set its own limit.
const DefaultMaxAttempts = 5

// Domain errors.
var (
	ErrEmptyID        = errors.New("outbox entry id is required")
	ErrEmptyKind      = errors.New("outbox entry kind is required")
	ErrEmptyMessageID = errors.New("outbox entry message id is required")
	ErrMissingCreated = errors.New("outbox entry created_at must be set")
)

// Entry is one pending delivery about a stored message.
// Only the message id is kept; the content is read again at delivery time.
type Entry struct {
	ID              string
	Kind            string
	MessageID       string
	Status          string
	Attempts        int
	MaxAttempts     int
	LastAttemptedAt time.Time
	CreatedAt       time.Time
	LastError       string
}

// New creates a pending entry.
// PRE: none
// POST: Returns a valid pending entry or an error
func New(id, kind, messageID string, now time.Time) (Entry, error) {
	e := Entry{
		ID:          id,
		Kind:        kind,
		MessageID:   messageID,
		Status:      StatusPending,
		MaxAttempts: DefaultMaxAttempts,
		CreatedAt:   now,
	}
	if err := e.Validate(); err != nil {
		return Entry{}, err
	}
	return e, nil
}

// Validate checks that the Entry has valid data.
// PRE: Entry struct is populated
// POST: Returns nil if valid, error otherwise
func (e *Entry) Validate() error {
	switch {
	case e.ID == "":
		return ErrEmptyID
	case e.Kind == "":
		return ErrEmptyKind
	case e.MessageID == "":
		return ErrEmptyMessageID
	case e.CreatedAt.IsZero():
		return ErrMissingCreated
	}
	if e.MaxAttempts <= 0 {
		e.MaxAttempts = DefaultMaxAttempts
	}
	return nil
}

// CanRetry returns true if the entry can be attempted again.
func (e Entry) CanRetry() bool {
	return (e.Status == StatusPending || e.Status == StatusRetrying) && e.Attempts < e.MaxAttempts
}

// IsTerminal returns true for done, failed and abandoned entries.
func (e Entry) IsTerminal() bool {
	return e.Status == StatusDone || e.Status == StatusFailed || e.Status == StatusAbandoned
}

// MarkAttempt records a delivery attempt at now.
// PRE: CanRetry() is true
// POST: Attempts incremented, status retrying
func (e *Entry) MarkAttempt(now time.Time) {
	e.Attempts++
	e.LastAttemptedAt = now
	e.Status = StatusRetrying
}

// MarkSuccess marks the entry delivered.
func (e *Entry) MarkSuccess() {
	e.Status = StatusDone
	e.LastError = ""
}

// MarkFailed records err; the entry fails for good once attempts run out.
// POST: LastError set; status failed when Attempts >= MaxAttempts
func (e *Entry) MarkFailed(err error) {
	e.LastError = err.Error()
	if e.Attempts >= e.MaxAttempts {
		e.Status = StatusFailed
	}
}

// MarkAbandoned stops any further attempt.
func (e *Entry) MarkAbandoned(reason string) {
	e.Status = StatusAbandoned
	e.LastError = reason
}

// NextRetryDelay calculates the delay before the next attempt.
// Uses exponential backoff: 2^(attempts-1) * baseDelay, capped at maxDelay.
// PRE: baseDelay > 0
// POST: Returns 0 before the first attempt
func (e Entry) NextRetryDelay(baseDelay, maxDelay time.Duration) time.Duration {
	if e.Attempts == 0 {
		return 0
	}
	delay := baseDelay
	for i := 1; i < e.Attempts && delay < maxDelay; i++ {
		delay *= 2
	}
	return min(delay, maxDelay)
}

// Due reports whether the backoff since the last attempt has elapsed at now.
func (e Entry) Due(now time.Time, baseDelay, maxDelay time.Duration) bool {
	if e.LastAttemptedAt.IsZero() {
		return true
	}
	return !now.Before(e.LastAttemptedAt.Add(e.NextRetryDelay(baseDelay, maxDelay)))
}
