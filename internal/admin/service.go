// Package admin exposes counter inspection and reset operations for
// operators, over Go and over HTTP.
package admin

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/SmitUplenchwar2687/Tollgate/internal/clock"
	"github.com/SmitUplenchwar2687/Tollgate/internal/store"
)

// ErrListUnsupported is returned when the store cannot enumerate counters.
var ErrListUnsupported = errors.New("counter store does not support listing")

// CounterStat is the operator view of one live counter.
type CounterStat struct {
	Key        string `json:"key"`
	Count      int64  `json:"count"`
	TTLSeconds int64  `json:"ttlSeconds"`
}

// Service wraps a counter store for administrative use. It never evaluates
// or bypasses limits.
type Service struct {
	store store.Store
	clock clock.Clock
}

// NewService creates a Service over s.
func NewService(s store.Store, c clock.Clock) *Service {
	if c == nil {
		c = clock.NewRealClock()
	}
	return &Service{store: s, clock: c}
}

// ListCounters returns live counters whose key starts with prefix.
func (s *Service) ListCounters(ctx context.Context, prefix string) ([]CounterStat, error) {
	lister, ok := s.store.(store.Lister)
	if !ok {
		return nil, ErrListUnsupported
	}
	entries, err := lister.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("listing counters: %w", err)
	}

	now := s.clock.Now()
	out := make([]CounterStat, 0, len(entries))
	for _, e := range entries {
		out = append(out, CounterStat{
			Key:        e.Key,
			Count:      e.Count,
			TTLSeconds: ceilSeconds(e.TTL(now)),
		})
	}
	return out, nil
}

// ClearCounter resets the counter stored under key.
func (s *Service) ClearCounter(ctx context.Context, key string) error {
	if key == "" {
		return errors.New("counter key is required")
	}
	if err := s.store.Clear(ctx, key); err != nil {
		return fmt.Errorf("clearing counter %q: %w", key, err)
	}
	return nil
}

// ClearAllCounters resets every counter.
func (s *Service) ClearAllCounters(ctx context.Context) error {
	if err := s.store.ClearAll(ctx); err != nil {
		return fmt.Errorf("clearing counters: %w", err)
	}
	return nil
}

func ceilSeconds(d time.Duration) int64 {
	secs := int64(d / time.Second)
	if d%time.Second > 0 {
		secs++
	}
	return secs
}
