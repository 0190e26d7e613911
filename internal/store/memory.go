package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/SmitUplenchwar2687/Tollgate/internal/clock"
)

// MemoryStore keeps counters in a process-local map. Counters are not shared
// between processes: N replicas each allow the full quota.
//
// Expired entries are replaced lazily on access and evicted by Sweep.
type MemoryStore struct {
	mu       sync.Mutex
	counters map[string]counter
	clock    clock.Clock
}

type counter struct {
	count   int64
	resetAt time.Time
}

// NewMemoryStore creates an empty store using c for window arithmetic.
func NewMemoryStore(c clock.Clock) *MemoryStore {
	if c == nil {
		c = clock.NewRealClock()
	}
	return &MemoryStore{
		counters: make(map[string]counter),
		clock:    c,
	}
}

func (s *MemoryStore) IncrementAndGet(_ context.Context, key string, window time.Duration) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	c, ok := s.counters[key]
	if !ok || !now.Before(c.resetAt) {
		c = counter{count: 1, resetAt: now.Add(window)}
	} else {
		c.count++
	}
	s.counters[key] = c

	return Entry{Key: key, Count: c.count, ResetAt: c.resetAt}, nil
}

func (s *MemoryStore) Decrement(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.counters[key]
	if !ok || !s.clock.Now().Before(c.resetAt) || c.count <= 0 {
		return nil
	}
	c.count--
	s.counters[key] = c
	return nil
}

func (s *MemoryStore) Get(_ context.Context, key string) (Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.counters[key]
	if !ok || !s.clock.Now().Before(c.resetAt) {
		return Entry{}, false, nil
	}
	return Entry{Key: key, Count: c.count, ResetAt: c.resetAt}, true, nil
}

func (s *MemoryStore) Clear(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.counters, key)
	return nil
}

func (s *MemoryStore) ClearAll(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.counters = make(map[string]counter)
	return nil
}

func (s *MemoryStore) List(_ context.Context, prefix string) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	out := make([]Entry, 0, len(s.counters))
	for key, c := range s.counters {
		if !now.Before(c.resetAt) || !strings.HasPrefix(key, prefix) {
			continue
		}
		out = append(out, Entry{Key: key, Count: c.count, ResetAt: c.resetAt})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Sweep deletes every entry whose window has ended. The expiry check and the
// delete happen under the same lock, so a key re-created by a concurrent
// increment is never removed.
func (s *MemoryStore) Sweep(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	removed := 0
	for key, c := range s.counters {
		if !now.Before(c.resetAt) {
			delete(s.counters, key)
			removed++
		}
	}
	return removed, nil
}

// Len returns the number of entries, including expired ones not yet swept.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.counters)
}

// Close is a no-op; it exists to satisfy Store.
func (s *MemoryStore) Close() error { return nil }

var (
	_ Store     = (*MemoryStore)(nil)
	_ Lister    = (*MemoryStore)(nil)
	_ Sweepable = (*MemoryStore)(nil)
)
