package client

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/samber/lo"

	"inbox/internal/contract"
	"inbox/internal/domain/message"
)

var baseTime = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// fakeAPI is an in-memory server for one pair of users plus optional gates that hold calls.
type fakeAPI struct {
	mu       sync.Mutex
	me       string
	messages []contract.MessageWithUsers
	nextID   int
	calls    map[string]int
	markRead [][]string

	sendErr error
	// gate, when set for an operation, blocks that call until a value is received.
	gates map[string]chan struct{}
	// entered is signalled each time a gated call starts waiting.
	entered chan string
}

func newFakeAPI(me string) *fakeAPI {
	return &fakeAPI{
		me:      me,
		calls:   make(map[string]int),
		gates:   make(map[string]chan struct{}),
		entered: make(chan string, 16),
	}
}

func (f *fakeAPI) gate(op string) chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan struct{})
	f.gates[op] = ch
	return ch
}

func (f *fakeAPI) enter(ctx context.Context, op string) error {
	f.mu.Lock()
	f.calls[op]++
	ch := f.gates[op]
	f.mu.Unlock()
	if ch == nil {
		return nil
	}
	f.entered <- op
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeAPI) count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// seed stores a message as if another client had sent it.
func (f *fakeAPI) seed(from, to, content string, read bool) contract.MessageWithUsers {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.insert(from, to, content, read)
}

func (f *fakeAPI) insert(from, to, content string, read bool) contract.MessageWithUsers {
	f.nextID++
	at := baseTime.Add(time.Duration(f.nextID) * time.Minute)
	m := contract.MessageWithUsers{
		Message: contract.Message{
			ID:          fmt.Sprintf("m%02d", f.nextID),
			SenderID:    from,
			RecipientID: to,
			Content:     content,
			CreatedAt:   at,
			UpdatedAt:   at,
		},
		Sender:    contract.UserSummary{ID: from, Name: from},
		Recipient: contract.UserSummary{ID: to, Name: to},
	}
	if read {
		m.ReadAt = lo.ToPtr(at)
	}
	f.messages = append(f.messages, m)
	return m
}

func (f *fakeAPI) SendMessage(ctx context.Context, recipientID, content string) (contract.MessageWithUsers, error) {
	if err := f.enter(ctx, "send"); err != nil {
		return contract.MessageWithUsers{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return contract.MessageWithUsers{}, f.sendErr
	}
	return f.insert(f.me, recipientID, content, false), nil
}

func (f *fakeAPI) Conversations(ctx context.Context) (contract.ConversationsResponse, error) {
	if err := f.enter(ctx, "conversations"); err != nil {
		return contract.ConversationsResponse{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	byOther := map[string]*contract.Conversation{}
	var order []string
	for _, m := range f.messages {
		other := m.SenderID
		if other == f.me {
			other = m.RecipientID
		}
		c, ok := byOther[other]
		if !ok {
			c = &contract.Conversation{Counterpart: contract.UserSummary{ID: other, Name: other}}
			byOther[other] = c
			order = append(order, other)
		}
		c.LastMessage = m.Message
		if m.SenderID == other && m.ReadAt == nil {
			c.UnreadCount++
		}
	}
	out := lo.Map(order, func(id string, _ int) contract.Conversation { return *byOther[id] })
	return contract.ConversationsResponse{Conversations: out, Total: len(out)}, nil
}

func (f *fakeAPI) Thread(ctx context.Context, other string, limit, offset int) (contract.ThreadResponse, error) {
	if err := f.enter(ctx, "thread"); err != nil {
		return contract.ThreadResponse{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	all := lo.Filter(f.messages, func(m contract.MessageWithUsers, _ int) bool {
		return (m.SenderID == f.me && m.RecipientID == other) || (m.SenderID == other && m.RecipientID == f.me)
	})
	page := lo.Slice(all, offset, offset+limit)
	return contract.ThreadResponse{Messages: append([]contract.MessageWithUsers{}, page...), Total: len(all)}, nil
}

func (f *fakeAPI) MarkRead(ctx context.Context, ids []string) (int, error) {
	if err := f.enter(ctx, "markRead"); err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markRead = append(f.markRead, append([]string{}, ids...))
	n := 0
	for i := range f.messages {
		m := &f.messages[i]
		if lo.Contains(ids, m.ID) && m.RecipientID == f.me && m.ReadAt == nil {
			m.ReadAt = lo.ToPtr(baseTime.Add(time.Hour))
			n++
		}
	}
	return n, nil
}

func (f *fakeAPI) DeleteMessage(ctx context.Context, id string) error {
	if err := f.enter(ctx, "delete"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	i := lo.IndexOf(lo.Map(f.messages, func(m contract.MessageWithUsers, _ int) string { return m.ID }), id)
	if i < 0 {
		return &message.NotFoundError{ID: id}
	}
	f.messages = append(f.messages[:i], f.messages[i+1:]...)
	return nil
}

func (f *fakeAPI) UnreadCount(ctx context.Context) (int, error) {
	if err := f.enter(ctx, "unread"); err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return lo.CountBy(f.messages, func(m contract.MessageWithUsers) bool {
		return m.RecipientID == f.me && m.ReadAt == nil
	}), nil
}

// fakeSource records subscriptions and lets tests push events synchronously.
type fakeSource struct {
	mu       sync.Mutex
	handlers map[message.Scope]func(Event)
	failOn   message.Scope
	closed   []message.Scope
}

func newFakeSource() *fakeSource {
	return &fakeSource{handlers: make(map[message.Scope]func(Event))}
}

func (s *fakeSource) Subscribe(_ context.Context, f Filter, handle func(Event)) (Unsubscribe, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f.Scope == s.failOn {
		return nil, fmt.Errorf("stream %s unavailable", f.Scope)
	}
	s.handlers[f.Scope] = handle
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.handlers, f.Scope)
		s.closed = append(s.closed, f.Scope)
	}, nil
}

func (s *fakeSource) emit(e Event) {
	s.mu.Lock()
	h := s.handlers[e.Scope]
	s.mu.Unlock()
	if h != nil {
		h(e)
	}
}
