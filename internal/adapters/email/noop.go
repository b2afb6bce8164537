package email

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"
)

// NoopSender accepts mail without delivering it. Used when no provider key
// is configured and in tests.
type NoopSender struct {
	mu   sync.Mutex
	sent []SendRequest
}

var _ Sender = (*NoopSender)(nil)

func NewNoopSender() *NoopSender {
	return &NoopSender{}
}

// Send records req and logs its subject.
func (s *NoopSender) Send(_ context.Context, req SendRequest) (SendResult, error) {
	if err := req.check(); err != nil {
		return SendResult{}, err
	}
	s.mu.Lock()
	s.sent = append(s.sent, req)
	n := len(s.sent)
	s.mu.Unlock()

	slog.Info("email_event", "event", "noop_send", "recipients", len(req.To), "subject", req.Subject)
	return SendResult{MessageID: "noop-" + strconv.Itoa(n), SentAt: time.Now()}, nil
}

// Sent returns how many emails have been accepted.
func (s *NoopSender) Sent() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.sent))
}

// Last returns the most recently accepted request.
func (s *NoopSender) Last() (SendRequest, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.sent) == 0 {
		return SendRequest{}, false
	}
	return s.sent[len(s.sent)-1], true
}
