package client

import (
	"slices"

	"inbox/internal/contract"
)

// ThreadPatch is an optimistic change to one thread that is either kept or undone.
type ThreadPatch struct {
	cache         *Cache
	counterpartID string
	placeholderID string

	// state before Apply
	existed bool
	before  slot[ThreadView]
	applied uint64 // slot edits right after Apply
	done    bool
}

// ApplyThreadPatch appends placeholder to the thread with other and records a snapshot.
// PRE: placeholder.ID is unique within the thread
// POST: the cached thread shows placeholder as its newest message
func (c *Cache) ApplyThreadPatch(other string, placeholder contract.MessageWithUsers) *ThreadPatch {
	c.mu.Lock()
	defer c.mu.Unlock()

	p := &ThreadPatch{cache: c, counterpartID: other, placeholderID: placeholder.ID}
	s, ok := c.threads[other]
	if ok {
		p.existed = true
		p.before = *s
		p.before.value = s.value.clone()
	} else {
		// Nothing fetched yet: show the placeholder but keep the entry stale so the
		// first read still loads history.
		s = c.thread(other)
		s.stale = true
	}

	v := s.value.clone()
	v.Messages = append(v.Messages, placeholder)
	v.Total++
	s.value = v
	s.loaded = true
	s.edits++
	p.applied = s.edits
	return p
}

// Commit swaps the placeholder for the stored message.
// The placeholder is simply dropped if a refetch already replaced it.
func (p *ThreadPatch) Commit(confirmed contract.MessageWithUsers) {
	c := p.cache
	c.mu.Lock()
	defer c.mu.Unlock()
	if p.done {
		return
	}
	p.done = true

	s, ok := c.threads[p.counterpartID]
	if !ok {
		return
	}
	i := slices.IndexFunc(s.value.Messages, func(m contract.MessageWithUsers) bool { return m.ID == p.placeholderID })
	if i < 0 {
		return
	}
	v := s.value.clone()
	if slices.ContainsFunc(v.Messages, func(m contract.MessageWithUsers) bool { return m.ID == confirmed.ID }) {
		v.Messages = slices.Delete(v.Messages, i, i+1)
		v.Total--
	} else {
		v.Messages[i] = confirmed
	}
	s.value = v
	s.edits++
}

// Rollback restores the thread to its state before Apply.
// If anything else touched the thread since Apply, including another patch, the snapshot
// is out of date; then only the placeholder is removed and the entry is left stale.
// Restoring the snapshot also restores its edits version, so an older patch whose
// placeholder is again the newest change can still restore exactly.
func (p *ThreadPatch) Rollback() {
	c := p.cache
	c.mu.Lock()
	defer c.mu.Unlock()
	if p.done {
		return
	}
	p.done = true

	s, ok := c.threads[p.counterpartID]
	if !ok {
		return
	}
	untouched := s.issued == p.before.issued && s.epoch == p.before.epoch && s.edits == p.applied
	switch {
	case untouched && !p.existed:
		delete(c.threads, p.counterpartID)
	case untouched:
		*s = p.before
	default:
		v := s.value.clone()
		before := len(v.Messages)
		v.Messages = slices.DeleteFunc(v.Messages, func(m contract.MessageWithUsers) bool { return m.ID == p.placeholderID })
		if len(v.Messages) < before {
			v.Total--
		}
		s.value = v
		s.edits++
		s.invalidate()
	}
}
