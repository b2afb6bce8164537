package orchestrators

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"net/url"
	"strings"

	emailAdapter "inbox/internal/adapters/email"
	"inbox/internal/domain/message"
	"inbox/internal/domain/user"
)

// ProfileLookup resolves the stored profile of a user.
type ProfileLookup interface {
	GetProfile(ctx context.Context, id string) (user.Profile, bool, error)
}

// EmailNotifier emails the recipient of a new message.
type EmailNotifier struct {
	Profiles  ProfileLookup
	Sender    emailAdapter.Sender
	From      string
	PublicURL string // base URL the thread link is built on
}

var _ MessageNotifier = (*EmailNotifier)(nil)

// NotifyNewMessage sends "New message from <sender>" to the recipient's profile email.
// Recipients without a stored email are skipped silently.
// PRE: m has been persisted
// POST: One email handed to the sender, or none
func (n *EmailNotifier) NotifyNewMessage(ctx context.Context, m message.Message) error {
	recipient, ok, err := n.Profiles.GetProfile(ctx, m.RecipientID())
	if err != nil {
		return fmt.Errorf("lookup recipient: %w", err)
	}
	if !ok || recipient.Email == "" {
		return nil
	}

	senderName := m.SenderID()
	if sender, ok, err := n.Profiles.GetProfile(ctx, m.SenderID()); err == nil && ok && sender.Name != "" {
		senderName = sender.Name
	}

	link := n.threadLink(m.SenderID())
	subject := "New message from " + senderName

	var body strings.Builder
	fmt.Fprintf(&body, "<p><strong>%s</strong> sent you a message:</p>\n", html.EscapeString(senderName))
	body.WriteString("<blockquote>")
	body.WriteString(emailAdapter.RenderMarkdown(m.Content()))
	body.WriteString("</blockquote>\n")
	fmt.Fprintf(&body, `<p><a href="%s">Open the conversation</a></p>`, html.EscapeString(link))

	res, err := n.Sender.Send(ctx, emailAdapter.SendRequest{
		To:      []string{recipient.Email},
		From:    n.From,
		Subject: subject,
		HTML:    body.String(),
		Text:    m.Content() + "\n\n" + link,
		Tags:    map[string]string{"kind": "message_email"},
	})
	if err != nil {
		return err
	}
	slog.Info("message_event", "event", "message_email_sent", "message_id", m.ID(), "provider_id", res.MessageID)
	return nil
}

func (n *EmailNotifier) threadLink(senderID string) string {
	return strings.TrimRight(n.PublicURL, "/") + "/messages/" + url.PathEscape(senderID)
}
