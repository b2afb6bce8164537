package email

import (
	"context"
	"errors"
	"strings"
	"testing"
)

// TestRenderMarkdown verifies formatting is rendered and raw HTML is not passed through.
func TestRenderMarkdown(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    []string
		notWant []string
	}{
		{name: "bold", in: "**hi** there", want: []string{"<strong>hi</strong>"}},
		{name: "hard wraps", in: "line one\nline two", want: []string{"<br"}},
		{name: "raw html omitted", in: "<script>alert(1)</script>", notWant: []string{"<script>"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RenderMarkdown(tt.in)
			for _, w := range tt.want {
				if !strings.Contains(got, w) {
					t.Errorf("RenderMarkdown(%q) = %q, want it to contain %q", tt.in, got, w)
				}
			}
			for _, w := range tt.notWant {
				if strings.Contains(got, w) {
					t.Errorf("RenderMarkdown(%q) = %q, must not contain %q", tt.in, got, w)
				}
			}
		})
	}
}

// TestNoopSender_Counts verifies the noop sender accepts and counts sends.
func TestNoopSender_Counts(t *testing.T) {
	s := NewNoopSender()
	for i := 0; i < 3; i++ {
		res, err := s.Send(context.Background(), SendRequest{To: []string{"a@example.com"}, Subject: "x"})
		if err != nil {
			t.Fatalf("Send: %v", err)
		}
		if res.MessageID == "" {
			t.Error("expected a message id")
		}
	}
	if s.Sent() != 3 {
		t.Errorf("Sent() = %d, want 3", s.Sent())
	}
}

func TestNoopSender_RejectsEmptyRecipients(t *testing.T) {
	s := NewNoopSender()
	if _, err := s.Send(context.Background(), SendRequest{Subject: "x"}); !errors.Is(err, ErrNoRecipients) {
		t.Fatalf("Send() error = %v, want ErrNoRecipients", err)
	}
	if _, ok := s.Last(); ok {
		t.Error("rejected request must not be recorded")
	}
}

func TestResendTags_SortedByName(t *testing.T) {
	got := resendTags(map[string]string{"kind": "message_email", "env": "dev"})
	if len(got) != 2 || got[0].Name != "env" || got[1].Value != "message_email" {
		t.Errorf("resendTags() = %+v", got)
	}
	if resendTags(nil) != nil {
		t.Error("no tags should produce nil")
	}
}
