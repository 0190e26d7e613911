// Package store holds the counter backends the admission guard counts
// requests in: an in-process map and a Redis-backed store sharing one
// contract.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/SmitUplenchwar2687/Tollgate/internal/clock"
)

// ErrUnavailable marks failures of the backing counter service (network
// errors, timeouts, malformed replies). Callers treat it as infrastructure
// failure, not as a quota decision.
var ErrUnavailable = errors.New("counter store unavailable")

// Entry is the state of one counter.
type Entry struct {
	Key     string    `json:"key"`
	Count   int64     `json:"count"`
	ResetAt time.Time `json:"reset_at"`
}

// TTL returns how long the window has left at now, never negative.
func (e Entry) TTL(now time.Time) time.Duration {
	if d := e.ResetAt.Sub(now); d > 0 {
		return d
	}
	return 0
}

// Store is a fixed-window counter backend.
// Implementations must be safe for concurrent use.
type Store interface {
	// IncrementAndGet adds one to the counter for key and returns it. When the
	// key is absent or its window has ended, a new window of length window
	// starts with count 1.
	IncrementAndGet(ctx context.Context, key string, window time.Duration) (Entry, error)

	// Decrement removes one from a live counter. Absent or expired keys and
	// counters already at zero are left alone.
	Decrement(ctx context.Context, key string) error

	// Get returns the live counter for key. The bool is false when the key
	// is absent or expired.
	Get(ctx context.Context, key string) (Entry, bool, error)

	// Clear removes the counter for key.
	Clear(ctx context.Context, key string) error

	// ClearAll removes every counter owned by the store.
	ClearAll(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}

// Lister is implemented by stores that can enumerate live counters.
type Lister interface {
	// List returns live counters whose key starts with prefix, sorted by key.
	List(ctx context.Context, prefix string) ([]Entry, error)
}

// Sweepable is implemented by stores that keep expired entries around until
// they are evicted explicitly.
type Sweepable interface {
	// Sweep evicts expired entries and reports how many were removed.
	Sweep(ctx context.Context) (int, error)
}

const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Config selects and tunes the backend.
type Config struct {
	// RedisURL enables the Redis backend when set, e.g. redis://host:6379/0.
	RedisURL         string
	KeyPrefix        string
	OperationTimeout time.Duration
	PoolSize         int
	MaxRetries       int
	DialTimeout      time.Duration

	// RedisCluster treats RedisURL as a cluster seed. Extra seeds go in
	// repeated addr query parameters.
	RedisCluster bool

	// RequirePing makes Open fail when Redis does not answer. Otherwise the
	// failure is logged and the store is returned, so callers fail open
	// until Redis comes back.
	RequirePing bool

	Logger *slog.Logger
}

// Backend reports which backend Open will construct for c.
func (c Config) Backend() string {
	if c.RedisURL != "" {
		return BackendRedis
	}
	return BackendMemory
}

// Open constructs the backend described by cfg: Redis when a URL is
// configured, the in-process map otherwise.
func Open(ctx context.Context, cfg Config, c clock.Clock) (Store, error) {
	switch cfg.Backend() {
	case BackendRedis:
		s, err := NewRedisStore(ctx, &RedisConfig{
			URL:              cfg.RedisURL,
			KeyPrefix:        cfg.KeyPrefix,
			OperationTimeout: cfg.OperationTimeout,
			PoolSize:         cfg.PoolSize,
			MaxRetries:       cfg.MaxRetries,
			DialTimeout:      cfg.DialTimeout,
			Cluster:          cfg.RedisCluster,
			RequirePing:      cfg.RequirePing,
			Logger:           cfg.Logger,
			Clock:            c,
		})
		if err != nil {
			return nil, fmt.Errorf("opening redis store: %w", err)
		}
		return s, nil
	default:
		return NewMemoryStore(c), nil
	}
}
