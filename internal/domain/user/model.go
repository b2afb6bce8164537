// Package user holds the read-only view of user profiles consumed by messaging.
package user

// Summary is the public face of a user embedded in message responses.
type Summary struct {
	ID        string
	Name      string
	AvatarURL string
}

// Profile is a Summary plus the contact address used for notifications.
type Profile struct {
	Summary
	Email string
}

// UnknownSummary returns a Summary that carries only the id.
// Used when a counterpart has no stored profile.
func UnknownSummary(id string) Summary {
	return Summary{ID: id}
}
