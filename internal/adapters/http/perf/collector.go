// Package perf keeps a bounded in-memory record of request, query and push
// timings for the debug endpoint.
package perf

import (
	"math"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/samber/lo"
)

// DefaultRingSize is used when NewCollector gets a non-positive size.
const DefaultRingSize = 10000

// EntryKind says which subsystem produced an Entry.
type EntryKind uint8

const (
	KindRequest EntryKind = iota
	KindQuery
	KindPush
)

// Entry is one timed operation.
type Entry struct {
	Kind       EntryKind
	Path       string // route pattern, statement label or push scope
	StatusCode int    // 0 outside HTTP
	DurationMs float64
	Timestamp  time.Time
}

// Collector overwrites its oldest entry once full. Recording never blocks on
// readers for longer than a slice copy.
type Collector struct {
	mu      sync.Mutex
	ring    []Entry
	next    int
	written atomic.Int64
}

// NewCollector allocates a ring of the given capacity.
// PRE: none
// POST: Returned collector is empty and ready for concurrent use
func NewCollector(size int) *Collector {
	if size <= 0 {
		size = DefaultRingSize
	}
	return &Collector{ring: make([]Entry, size)}
}

// Record stores e, replacing the oldest entry when the ring is full.
func (c *Collector) Record(e Entry) {
	c.mu.Lock()
	c.ring[c.next] = e
	c.next++
	if c.next == len(c.ring) {
		c.next = 0
	}
	c.mu.Unlock()
	c.written.Add(1)
}

// TotalRecorded counts every Record call, including overwritten entries.
func (c *Collector) TotalRecorded() int64 {
	return c.written.Load()
}

// Snapshot is the aggregated view of one time window.
type Snapshot struct {
	TotalRequests  int64
	RequestP50Ms   float64
	RequestP95Ms   float64
	RequestP99Ms   float64
	SlowestPaths   []PathStat
	SlowestQueries []PathStat
	PushFanouts    []PathStat
}

// PathStat summarizes the entries sharing one Path.
type PathStat struct {
	Path    string  `json:"path"`
	AvgMs   float64 `json:"avgMs"`
	MaxMs   float64 `json:"maxMs"`
	Count   int     `json:"count"`
	TotalMs float64 `json:"totalMs"`
	Errors  int     `json:"errors,omitempty"` // 5xx responses
}

// Snapshot aggregates the entries recorded at or after since, keeping the
// topN slowest paths of each kind. It sorts, so keep it off hot paths.
// PRE: topN >= 0
// POST: Lists are ordered by descending average duration
func (c *Collector) Snapshot(since time.Time, topN int) Snapshot {
	window := c.window(since)
	byKind := lo.GroupBy(window, func(e Entry) EntryKind { return e.Kind })

	snap := Snapshot{
		TotalRequests:  c.TotalRecorded(),
		SlowestPaths:   slowest(byKind[KindRequest], topN),
		SlowestQueries: slowest(byKind[KindQuery], topN),
		PushFanouts:    slowest(byKind[KindPush], topN),
	}

	if reqs := byKind[KindRequest]; len(reqs) > 0 {
		durations := lo.Map(reqs, func(e Entry, _ int) float64 { return e.DurationMs })
		slices.Sort(durations)
		snap.RequestP50Ms = nearestRank(durations, 50)
		snap.RequestP95Ms = nearestRank(durations, 95)
		snap.RequestP99Ms = nearestRank(durations, 99)
	}
	return snap
}

// window copies the live entries newer than since.
func (c *Collector) window(since time.Time) []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return lo.Filter(c.ring, func(e Entry, _ int) bool {
		return !e.Timestamp.IsZero() && !e.Timestamp.Before(since)
	})
}

func slowest(entries []Entry, topN int) []PathStat {
	stats := make([]PathStat, 0)
	for path, group := range lo.GroupBy(entries, func(e Entry) string { return e.Path }) {
		s := PathStat{Path: path, Count: len(group)}
		for _, e := range group {
			s.TotalMs += e.DurationMs
			s.MaxMs = max(s.MaxMs, e.DurationMs)
			if e.StatusCode >= 500 {
				s.Errors++
			}
		}
		s.AvgMs = s.TotalMs / float64(s.Count)
		stats = append(stats, s)
	}
	slices.SortFunc(stats, func(a, b PathStat) int {
		switch {
		case a.AvgMs > b.AvgMs:
			return -1
		case a.AvgMs < b.AvgMs:
			return 1
		}
		return 0
	})
	if len(stats) > topN {
		stats = stats[:topN]
	}
	return stats
}

// nearestRank returns the smallest value with at least p percent of the
// sorted samples at or below it.
func nearestRank(sorted []float64, p float64) float64 {
	rank := int(math.Ceil(p / 100 * float64(len(sorted))))
	return sorted[min(max(rank, 1), len(sorted))-1]
}
