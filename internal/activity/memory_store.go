package activity

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/matthewbaird/canalworks/internal/types"
)

// MemoryStore implements Store in process memory. Entries do not survive a
// restart.
//
// With a cap set the store is a ring: once full, each write overwrites the
// oldest entry. With a retention window set, entries older than the window
// are hidden from queries and pruned on the next write after pruneEvery.
type MemoryStore struct {
	mu        sync.RWMutex
	entries   []types.ActivityEntry
	head      int // next slot to overwrite once the ring is full
	max       int
	retention time.Duration
	lastPrune time.Time
	now       func() time.Time
}

const pruneEvery = time.Minute

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithMaxEntries caps the number of entries kept. n <= 0 means no cap.
func WithMaxEntries(n int) MemoryOption {
	return func(s *MemoryStore) { s.max = n }
}

// WithRetention drops entries older than d. d <= 0 keeps everything.
func WithRetention(d time.Duration) MemoryOption {
	return func(s *MemoryStore) { s.retention = d }
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStore) WriteEntries(_ context.Context, entries []types.ActivityEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked()
	for _, e := range entries {
		if s.max <= 0 || len(s.entries) < s.max {
			s.entries = append(s.entries, e)
			continue
		}
		s.entries[s.head] = e
		s.head = (s.head + 1) % s.max
	}
	return nil
}

// pruneLocked compacts the ring to the entries inside the retention window,
// oldest first.
func (s *MemoryStore) pruneLocked() {
	if s.retention <= 0 {
		return
	}
	now := s.now()
	if now.Sub(s.lastPrune) < pruneEvery {
		return
	}
	s.lastPrune = now
	cutoff := now.Add(-s.retention)
	kept := slices.DeleteFunc(s.ordered(), func(e types.ActivityEntry) bool {
		return e.OccurredAt.Before(cutoff)
	})
	s.entries, s.head = kept, 0
}

// ordered returns the entries in write order.
func (s *MemoryStore) ordered() []types.ActivityEntry {
	out := make([]types.ActivityEntry, 0, len(s.entries))
	out = append(out, s.entries[s.head:]...)
	return append(out, s.entries[:s.head]...)
}

func (s *MemoryStore) live(e types.ActivityEntry) bool {
	return s.retention <= 0 || !e.OccurredAt.Before(s.now().Add(-s.retention))
}

// newestFirst sorts entries by occurred_at, newest first.
func newestFirst(entries []types.ActivityEntry) {
	slices.SortStableFunc(entries, func(a, b types.ActivityEntry) int {
		return b.OccurredAt.Compare(a.OccurredAt)
	})
}

func (s *MemoryStore) QueryByEntity(_ context.Context, entityType, entityID string, opts QueryOptions) ([]types.ActivityEntry, string, int, error) {
	var cursor *time.Time
	if opts.Cursor != "" {
		if t, err := time.Parse(time.RFC3339Nano, opts.Cursor); err == nil {
			cursor = &t
		}
	}

	s.mu.RLock()
	var matched []types.ActivityEntry
	for _, e := range s.entries {
		switch {
		case e.IndexedEntityType != entityType || e.IndexedEntityID != entityID,
			!s.live(e),
			opts.Since != nil && e.OccurredAt.Before(*opts.Since),
			opts.Until != nil && e.OccurredAt.After(*opts.Until),
			len(opts.Categories) > 0 && !slices.Contains(opts.Categories, e.Category),
			opts.MinWeight != "" && !IsAtLeastWeight(e.Weight, opts.MinWeight),
			cursor != nil && !e.OccurredAt.Before(*cursor):
			continue
		}
		matched = append(matched, e)
	}
	s.mu.RUnlock()

	newestFirst(matched)
	total := len(matched)
	limit := opts.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var next string
	if len(matched) > limit {
		matched = matched[:limit]
		next = matched[len(matched)-1].OccurredAt.Format(time.RFC3339Nano)
	}
	return matched, next, total, nil
}

func (s *MemoryStore) Search(_ context.Context, query string, opts SearchOptions) ([]types.ActivityEntry, int, error) {
	q := strings.ToLower(query)

	s.mu.RLock()
	var matched []types.ActivityEntry
	for _, e := range s.entries {
		switch {
		case !strings.Contains(strings.ToLower(e.Summary), q),
			!s.live(e),
			opts.EntityType != "" && e.IndexedEntityType != opts.EntityType,
			opts.Since != nil && e.OccurredAt.Before(*opts.Since),
			len(opts.Categories) > 0 && !slices.Contains(opts.Categories, e.Category):
			continue
		}
		matched = append(matched, e)
	}
	s.mu.RUnlock()

	newestFirst(matched)
	total := len(matched)
	limit := opts.Limit
	if limit <= 0 {
		limit = 20
	}
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, total, nil
}

// Len returns the number of stored entries, including any past the
// retention window that have not been pruned yet.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
