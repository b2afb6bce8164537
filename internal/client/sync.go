package client

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"inbox/internal/application/listutil"
	"inbox/internal/contract"
	"inbox/internal/domain/message"
)

// TempIDPrefix marks ids of messages that exist only in the local cache.
const TempIDPrefix = "temp-"

// Options tunes a Synchronizer. Zero values pick defaults.
type Options struct {
	// PageSize is how many of the newest messages a thread view holds.
	PageSize int
	// Self is embedded as the sender of optimistic placeholders.
	Self contract.UserSummary
	// OnInvalidate is told about every entry that went stale. It runs outside the cache lock.
	OnInvalidate func(Key)
	Now          func() time.Time
	NewID        func() string
}

// Synchronizer keeps the conversation list, open threads and the unread badge
// consistent with the server under optimistic sends and push events.
type Synchronizer struct {
	api   API
	me    string
	cache *Cache
	opts  Options
}

// NewSynchronizer creates a synchronizer for the user me.
// PRE: api is non-nil; me is the authenticated user id
// POST: Returns a synchronizer with an empty cache
func NewSynchronizer(api API, me string, opts Options) *Synchronizer {
	if opts.PageSize <= 0 {
		opts.PageSize = listutil.DefaultLimit
	}
	opts.PageSize = min(opts.PageSize, listutil.MaxLimit)
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	if opts.Self.ID == "" {
		opts.Self = contract.UserSummary{ID: me}
	}
	return &Synchronizer{api: api, me: me, cache: NewCache(), opts: opts}
}

// Cache exposes the underlying cache for read-only inspection.
func (s *Synchronizer) Cache() *Cache {
	return s.cache
}

// UserID returns the user the synchronizer acts for.
func (s *Synchronizer) UserID() string {
	return s.me
}

// fetchInto serves a fresh cached value or runs fetch and stores its result.
// A result whose fetch was superseded by a later one is returned to the caller but not cached.
func fetchInto[T any](ctx context.Context, c *Cache, pick func() *slot[T], fetch func(context.Context) (T, error)) (T, error) {
	c.mu.Lock()
	sl := pick()
	if v, ok := sl.fresh(); ok {
		c.mu.Unlock()
		return v, nil
	}
	t := sl.begin()
	c.mu.Unlock()

	v, err := fetch(ctx)
	if err != nil {
		var zero T
		return zero, err
	}

	c.mu.Lock()
	kept := sl.finish(t, v)
	c.mu.Unlock()
	if !kept {
		slog.Debug("message_event", "event", "superseded_fetch_discarded", "seq", t.seq)
	}
	return v, nil
}

// Conversations returns the conversation list, fetching it when missing or stale.
func (s *Synchronizer) Conversations(ctx context.Context) ([]contract.Conversation, error) {
	v, err := fetchInto(ctx, s.cache,
		func() *slot[[]contract.Conversation] { return &s.cache.conversations },
		func(ctx context.Context) ([]contract.Conversation, error) {
			resp, err := s.api.Conversations(ctx)
			return resp.Conversations, err
		})
	return slices.Clone(v), err
}

// UnreadCount returns the global unread badge, fetching it when missing or stale.
func (s *Synchronizer) UnreadCount(ctx context.Context) (int, error) {
	return fetchInto(ctx, s.cache,
		func() *slot[int] { return &s.cache.unread },
		s.api.UnreadCount)
}

// Thread returns the newest page of the thread with other, fetching it when missing or stale.
func (s *Synchronizer) Thread(ctx context.Context, other string) (ThreadView, error) {
	v, err := fetchInto(ctx, s.cache,
		func() *slot[ThreadView] { return s.cache.thread(other) },
		func(ctx context.Context) (ThreadView, error) { return s.fetchTail(ctx, other) })
	return v.clone(), err
}

// fetchTail loads the newest PageSize messages. Threads are served oldest first,
// so a long thread takes a second request once its total is known.
func (s *Synchronizer) fetchTail(ctx context.Context, other string) (ThreadView, error) {
	resp, err := s.api.Thread(ctx, other, s.opts.PageSize, 0)
	if err != nil {
		return ThreadView{}, err
	}
	offset := 0
	if resp.Total > s.opts.PageSize {
		offset = resp.Total - s.opts.PageSize
		if resp, err = s.api.Thread(ctx, other, s.opts.PageSize, offset); err != nil {
			return ThreadView{}, err
		}
	}
	return ThreadView{Messages: slices.Clone(resp.Messages), Total: resp.Total, Offset: offset}, nil
}

// SendMessage sends content to recipient, showing it in the thread before the server answers.
// On failure the thread is restored and the error returned; nothing else is retried.
func (s *Synchronizer) SendMessage(ctx context.Context, recipient, content string) (contract.MessageWithUsers, error) {
	now := s.opts.Now().UTC()
	placeholder := contract.MessageWithUsers{
		Message: contract.Message{
			ID:          TempIDPrefix + s.opts.NewID(),
			SenderID:    s.me,
			RecipientID: recipient,
			Content:     content,
			// Outgoing messages never count as unread for their sender.
			ReadAt:    lo.ToPtr(now),
			CreatedAt: now,
			UpdatedAt: now,
		},
		Sender:    s.opts.Self,
		Recipient: contract.UserSummary{ID: recipient},
	}
	if cached, ok := s.cache.Thread(recipient); ok {
		if i := len(cached.Value.Messages); i > 0 {
			last := cached.Value.Messages[i-1]
			if last.SenderID == recipient {
				placeholder.Recipient = last.Sender
			} else if last.RecipientID == recipient {
				placeholder.Recipient = last.Recipient
			}
		}
	}

	patch := s.cache.ApplyThreadPatch(recipient, placeholder)
	s.notify(threadKey(recipient))

	sent, err := s.api.SendMessage(ctx, recipient, content)
	if err != nil {
		patch.Rollback()
		s.notify(threadKey(recipient))
		slog.Warn("message_event", "event", "optimistic_send_rolled_back", "recipient_id", recipient, "error", err)
		return contract.MessageWithUsers{}, err
	}
	patch.Commit(sent)
	s.Invalidate(conversationsKey(), threadKey(recipient), unreadKey())
	return sent, nil
}

// MarkRead marks ids read and refreshes the views that show read state.
func (s *Synchronizer) MarkRead(ctx context.Context, other string, ids []string) (int, error) {
	ids = lo.Uniq(lo.Filter(ids, func(id string, _ int) bool { return !IsTemporary(id) }))
	if len(ids) == 0 {
		return 0, nil
	}
	n, err := s.api.MarkRead(ctx, ids)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.Invalidate(conversationsKey(), threadKey(other), unreadKey())
	}
	return n, nil
}

// DeleteMessage deletes one of the caller's sent messages.
func (s *Synchronizer) DeleteMessage(ctx context.Context, other, id string) error {
	if IsTemporary(id) {
		return &message.NotFoundError{ID: id}
	}
	if err := s.api.DeleteMessage(ctx, id); err != nil {
		return err
	}
	s.Invalidate(conversationsKey(), threadKey(other))
	return nil
}

// ActivateThread opens the thread with other and marks what the caller received there as read.
// Exactly one batched mark-read is issued per activation, and only when something is unread.
func (s *Synchronizer) ActivateThread(ctx context.Context, other string) (ThreadView, int, error) {
	view, err := s.Thread(ctx, other)
	if err != nil {
		return ThreadView{}, 0, err
	}
	unread := lo.FilterMap(view.Messages, func(m contract.MessageWithUsers, _ int) (string, bool) {
		return m.ID, m.RecipientID == s.me && m.SenderID == other && m.ReadAt == nil && !IsTemporary(m.ID)
	})
	if len(unread) == 0 {
		return view, 0, nil
	}
	n, err := s.MarkRead(ctx, other, unread)
	if err != nil {
		return view, 0, fmt.Errorf("mark thread read: %w", err)
	}
	return view, n, nil
}

// Invalidate marks keys stale and notifies OnInvalidate.
func (s *Synchronizer) Invalidate(keys ...Key) {
	for _, k := range s.cache.Invalidate(keys...) {
		s.notify(k)
	}
}

func (s *Synchronizer) notify(k Key) {
	if s.opts.OnInvalidate != nil {
		s.opts.OnInvalidate(k)
	}
}

// HandleEvent maps one push event to the views it affects.
// A missing counterpart hint invalidates every thread.
func (s *Synchronizer) HandleEvent(e Event) {
	thread := threadKey(e.CounterpartID)
	switch e.Scope {
	case message.ScopeInbound:
		s.Invalidate(conversationsKey(), thread, unreadKey())
	case message.ScopeOutbound:
		s.Invalidate(conversationsKey(), thread)
	case message.ScopeReadState:
		// Conversation rows carry unread counts too.
		s.Invalidate(thread, unreadKey(), conversationsKey())
	default:
		slog.Warn("push_event", "event", "unknown_scope", "scope", e.Scope)
	}
}

// Start subscribes to the three streams. The returned stop function unsubscribes all of them.
// PRE: src is non-nil
// POST: On error no subscription is left open
func (s *Synchronizer) Start(ctx context.Context, src EventSource) (func(), error) {
	var subs []Unsubscribe
	stop := func() {
		for _, u := range subs {
			u()
		}
	}
	for _, sc := range message.Scopes {
		u, err := src.Subscribe(ctx, Filter{Scope: sc}, s.HandleEvent)
		if err != nil {
			stop()
			return nil, fmt.Errorf("subscribe %s: %w", sc, err)
		}
		subs = append(subs, u)
	}
	return stop, nil
}

// IsTemporary reports whether id belongs to an unconfirmed optimistic message.
func IsTemporary(id string) bool {
	return strings.HasPrefix(id, TempIDPrefix)
}
