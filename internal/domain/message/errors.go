package message

import (
	"errors"
	"fmt"
)

// Rule names the invariant a ValidationError reports.
type Rule string

const (
	RuleIDRequired          Rule = "id_required"
	RuleSenderRequired      Rule = "sender_required"
	RuleRecipientRequired   Rule = "recipient_required"
	RuleDistinctParticipant Rule = "sender_differs_from_recipient"
	RuleContentEmpty        Rule = "content_not_empty"
	RuleContentTooLong      Rule = "content_max_length"
	RuleTimestampsRequired  Rule = "timestamps_required"
	RuleUpdatedAfterCreated Rule = "updated_at_not_before_created_at"
	RuleReadAfterCreated    Rule = "read_at_not_before_created_at"
	// RuleRecipientExists is reported by storage, not by New.
	RuleRecipientExists Rule = "recipient_exists"
)

// ValidationError reports a violated Message invariant.
type ValidationError struct {
	Rule   Rule
	Detail string
}

func (e *ValidationError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("invalid message: %s", e.Rule)
	}
	return fmt.Sprintf("invalid message: %s: %s", e.Rule, e.Detail)
}

func invalid(rule Rule, detail string) error {
	return &ValidationError{Rule: rule, Detail: detail}
}

// NotFoundError reports a message id that does not exist.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("message %q not found", e.ID)
}

// Action names the operation an AuthorizationError refused.
type Action string

const (
	ActionMarkRead Action = "mark_read"
	ActionDelete   Action = "delete"
)

// AuthorizationError reports a caller that is not allowed to act on a message.
// Mark-read requires the recipient; delete requires the sender.
type AuthorizationError struct {
	MessageID string
	UserID    string
	Action    Action
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("user %q may not %s message %q", e.UserID, e.Action, e.MessageID)
}

// RepositoryError wraps a transient storage failure.
type RepositoryError struct {
	Op  string
	Err error
}

func (e *RepositoryError) Error() string {
	return fmt.Sprintf("message repository %s: %v", e.Op, e.Err)
}

func (e *RepositoryError) Unwrap() error {
	return e.Err
}

// IsValidation reports whether err is, or wraps, a ValidationError.
func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

// IsNotFound reports whether err is, or wraps, a NotFoundError.
func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}

// IsAuthorization reports whether err is, or wraps, an AuthorizationError.
func IsAuthorization(err error) bool {
	var target *AuthorizationError
	return errors.As(err, &target)
}

// IsRepository reports whether err is, or wraps, a RepositoryError.
func IsRepository(err error) bool {
	var target *RepositoryError
	return errors.As(err, &target)
}
