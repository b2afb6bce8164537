package client

import (
	"slices"
	"sync"

	"inbox/internal/contract"
)

// View names one of the cached query results.
type View string

const (
	ViewConversations View = "conversations"
	ViewThread        View = "thread"
	ViewUnread        View = "unread"
)

// Key identifies a cache entry. CounterpartID is set only for threads.
type Key struct {
	View          View
	CounterpartID string
}

func conversationsKey() Key      { return Key{View: ViewConversations} }
func unreadKey() Key             { return Key{View: ViewUnread} }
func threadKey(other string) Key { return Key{View: ViewThread, CounterpartID: other} }

// ThreadView is the most recent page of a thread, oldest first.
type ThreadView struct {
	Messages []contract.MessageWithUsers
	Total    int
	Offset   int
}

func (v ThreadView) clone() ThreadView {
	v.Messages = slices.Clone(v.Messages)
	return v
}

// Entry is a point-in-time copy of one cache slot.
type Entry[T any] struct {
	Value  T
	Loaded bool
	Stale  bool
}

// slot holds one cached result. issued counts fetches handed out; epoch counts invalidations.
// edits versions the value as changed by thread patches.
type slot[T any] struct {
	value  T
	loaded bool
	stale  bool
	issued uint64
	epoch  uint64
	edits  uint64
}

type ticket struct {
	seq   uint64
	epoch uint64
}

func (s *slot[T]) fresh() (T, bool) {
	return s.value, s.loaded && !s.stale
}

func (s *slot[T]) begin() ticket {
	s.issued++
	return ticket{seq: s.issued, epoch: s.epoch}
}

// finish stores v unless a later fetch was issued. An invalidation that landed while
// the fetch was in flight leaves the entry stale so the next read refetches.
func (s *slot[T]) finish(t ticket, v T) bool {
	if t.seq != s.issued {
		return false
	}
	s.value = v
	s.loaded = true
	s.stale = t.epoch != s.epoch
	return true
}

func (s *slot[T]) invalidate() {
	s.stale = true
	s.epoch++
}

func (s *slot[T]) entry() Entry[T] {
	return Entry[T]{Value: s.value, Loaded: s.loaded, Stale: s.stale}
}

// Cache holds the three views. All mutation happens under one mutex; network calls never do.
type Cache struct {
	mu            sync.Mutex
	conversations slot[[]contract.Conversation]
	unread        slot[int]
	threads       map[string]*slot[ThreadView]
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{threads: make(map[string]*slot[ThreadView])}
}

// thread returns the slot for other, creating it. Caller holds mu.
func (c *Cache) thread(other string) *slot[ThreadView] {
	s, ok := c.threads[other]
	if !ok {
		s = &slot[ThreadView]{}
		c.threads[other] = s
	}
	return s
}

// Invalidate marks the given entries stale. Invalidating twice is the same as once.
// A thread key with an empty CounterpartID invalidates every thread.
// Returns the keys that were actually touched.
func (c *Cache) Invalidate(keys ...Key) []Key {
	c.mu.Lock()
	defer c.mu.Unlock()
	var touched []Key
	for _, k := range keys {
		switch k.View {
		case ViewConversations:
			c.conversations.invalidate()
			touched = append(touched, k)
		case ViewUnread:
			c.unread.invalidate()
			touched = append(touched, k)
		case ViewThread:
			if k.CounterpartID != "" {
				c.thread(k.CounterpartID).invalidate()
				touched = append(touched, k)
				continue
			}
			for other, s := range c.threads {
				s.invalidate()
				touched = append(touched, threadKey(other))
			}
		}
	}
	return touched
}

// Conversations returns a copy of the conversation list entry.
func (c *Cache) Conversations() Entry[[]contract.Conversation] {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.conversations.entry()
	e.Value = slices.Clone(e.Value)
	return e
}

// Unread returns a copy of the unread count entry.
func (c *Cache) Unread() Entry[int] {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.unread.entry()
}

// Thread returns a copy of the thread entry for other. ok is false if nothing was ever cached.
func (c *Cache) Thread(other string) (Entry[ThreadView], bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.threads[other]
	if !ok {
		return Entry[ThreadView]{}, false
	}
	e := s.entry()
	e.Value = e.Value.clone()
	return e, true
}
