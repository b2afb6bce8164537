package email

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/resend/resend-go/v2"
)

// ResendSender delivers through the Resend API.
type ResendSender struct {
	client      *resend.Client
	defaultFrom string
}

var _ Sender = (*ResendSender)(nil)

// NewResendSender builds a sender for apiKey that uses from when a request names no sender.
// PRE: apiKey non-empty
// POST: No network call has been made yet
func NewResendSender(apiKey, from string) *ResendSender {
	return &ResendSender{client: resend.NewClient(apiKey), defaultFrom: from}
}

// Send submits req and returns Resend's id for it.
func (s *ResendSender) Send(ctx context.Context, req SendRequest) (SendResult, error) {
	if err := req.check(); err != nil {
		return SendResult{}, err
	}
	params := &resend.SendEmailRequest{
		From:    req.From,
		To:      req.To,
		Subject: req.Subject,
		Html:    req.HTML,
		Text:    req.Text,
		Tags:    resendTags(req.Tags),
	}
	if params.From == "" {
		params.From = s.defaultFrom
	}

	sent, err := s.client.Emails.SendWithContext(ctx, params)
	if err != nil {
		slog.Warn("email_event", "event", "resend_rejected", "subject", req.Subject, "error", err)
		return SendResult{}, fmt.Errorf("resend: %w", err)
	}
	slog.Debug("email_event", "event", "resend_accepted", "provider_id", sent.Id)
	return SendResult{MessageID: sent.Id, SentAt: time.Now()}, nil
}

// resendTags converts tags in name order so requests are reproducible.
func resendTags(tags map[string]string) []resend.Tag {
	if len(tags) == 0 {
		return nil
	}
	out := make([]resend.Tag, 0, len(tags))
	for name, value := range tags {
		out = append(out, resend.Tag{Name: name, Value: value})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
