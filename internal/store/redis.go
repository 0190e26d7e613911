package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/SmitUplenchwar2687/Tollgate/internal/clock"
)

const (
	defaultRedisKeyPrefix        = "tollgate:rl:"
	defaultRedisOperationTimeout = 250 * time.Millisecond
	defaultRedisPoolSize         = 20
	defaultRedisDialTimeout      = 2 * time.Second

	scanBatchSize = 200
)

// The TTL is only set when the increment opens a window, so later requests
// never extend it. The ttl < 0 branch repairs a key that lost its expiry.
var redisIncrementScript = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
local ttl = redis.call('PTTL', KEYS[1])
if count == 1 or ttl < 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {count, ttl}
`)

// DECR keeps the TTL, so a corrected counter still expires with its window.
var redisDecrementScript = redis.NewScript(`
local v = redis.call('GET', KEYS[1])
if not v then
  return -1
end
if tonumber(v) <= 0 then
  return 0
end
return redis.call('DECR', KEYS[1])
`)

var redisGetScript = redis.NewScript(`
local v = redis.call('GET', KEYS[1])
if not v then
  return false
end
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
  ttl = 0
end
return {tonumber(v), ttl}
`)

// RedisConfig configures the Redis backend.
type RedisConfig struct {
	URL              string
	KeyPrefix        string
	OperationTimeout time.Duration
	PoolSize         int
	MaxRetries       int
	DialTimeout      time.Duration
	Cluster          bool
	RequirePing      bool
	Clock            clock.Clock
	Logger           *slog.Logger
}

// RedisStore shares counters between processes through Redis. Increments are
// atomic inside Redis, so any number of replicas observe one monotonically
// increasing count per window.
type RedisStore struct {
	client  redis.UniversalClient
	prefix  string
	timeout time.Duration
	clock   clock.Clock

	closeOnce sync.Once
	closeErr  error
}

// NewRedisStore connects to Redis and pings it. When the ping fails the
// store is still returned unless RequirePing is set: go-redis dials lazily,
// so calls report ErrUnavailable until the server is reachable.
func NewRedisStore(ctx context.Context, cfg *RedisConfig) (*RedisStore, error) {
	conf, err := normalizeRedisConfig(cfg)
	if err != nil {
		return nil, err
	}

	client, err := newRedisClient(conf)
	if err != nil {
		return nil, err
	}

	s := newRedisStoreWithClient(client, conf)
	if err := s.pingWithRetry(ctx, conf.MaxRetries); err != nil {
		if conf.RequirePing || ctx.Err() != nil {
			_ = s.client.Close()
			return nil, fmt.Errorf("redis ping failed: %w", err)
		}
		conf.Logger.Warn("redis unreachable, requests fail open until it recovers", "error", err)
	}
	return s, nil
}

func newRedisClient(conf *RedisConfig) (redis.UniversalClient, error) {
	// go-redis treats 0 retries as "use the default of 3"; -1 disables them.
	maxRetries := conf.MaxRetries
	if maxRetries == 0 {
		maxRetries = -1
	}

	if conf.Cluster {
		opts, err := redis.ParseClusterURL(conf.URL)
		if err != nil {
			return nil, fmt.Errorf("parsing redis cluster url: %w", err)
		}
		opts.PoolSize = conf.PoolSize
		opts.MaxRetries = maxRetries
		opts.DialTimeout = conf.DialTimeout
		opts.ReadTimeout = conf.OperationTimeout
		opts.WriteTimeout = conf.OperationTimeout
		return redis.NewClusterClient(opts), nil
	}

	opts, err := redis.ParseURL(conf.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	opts.PoolSize = conf.PoolSize
	opts.MaxRetries = maxRetries
	opts.DialTimeout = conf.DialTimeout
	opts.ReadTimeout = conf.OperationTimeout
	opts.WriteTimeout = conf.OperationTimeout
	return redis.NewClient(opts), nil
}

func newRedisStoreWithClient(client redis.UniversalClient, conf *RedisConfig) *RedisStore {
	return &RedisStore{
		client:  client,
		prefix:  conf.KeyPrefix,
		timeout: conf.OperationTimeout,
		clock:   conf.Clock,
	}
}

func (s *RedisStore) IncrementAndGet(ctx context.Context, key string, window time.Duration) (Entry, error) {
	windowMS := window.Milliseconds()
	if windowMS <= 0 {
		return Entry{}, fmt.Errorf("window must be at least 1ms, got %s", window)
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	vals, err := redisIncrementScript.Run(ctx, s.client, []string{s.prefix + key}, windowMS).Int64Slice()
	if err != nil {
		return Entry{}, unavailable("increment", err)
	}
	if len(vals) != 2 {
		return Entry{}, unavailable("increment", fmt.Errorf("unexpected script result length %d", len(vals)))
	}

	return Entry{
		Key:     key,
		Count:   vals[0],
		ResetAt: s.clock.Now().Add(time.Duration(vals[1]) * time.Millisecond),
	}, nil
}

func (s *RedisStore) Decrement(ctx context.Context, key string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := redisDecrementScript.Run(ctx, s.client, []string{s.prefix + key}).Err(); err != nil {
		return unavailable("decrement", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (Entry, bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	vals, err := redisGetScript.Run(ctx, s.client, []string{s.prefix + key}).Int64Slice()
	if errors.Is(err, redis.Nil) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, unavailable("get", err)
	}
	if len(vals) != 2 {
		return Entry{}, false, unavailable("get", fmt.Errorf("unexpected script result length %d", len(vals)))
	}

	return Entry{
		Key:     key,
		Count:   vals[0],
		ResetAt: s.clock.Now().Add(time.Duration(vals[1]) * time.Millisecond),
	}, true, nil
}

func (s *RedisStore) Clear(ctx context.Context, key string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return unavailable("clear", err)
	}
	return nil
}

func (s *RedisStore) ClearAll(ctx context.Context) error {
	keys, err := s.scan(ctx, "")
	if err != nil {
		return err
	}

	// One DEL per key: a cluster rejects multi-key commands across slots.
	for start := 0; start < len(keys); start += scanBatchSize {
		end := min(start+scanBatchSize, len(keys))
		cctx, cancel := s.withTimeout(ctx)
		pipe := s.client.Pipeline()
		for _, k := range keys[start:end] {
			pipe.Del(cctx, k)
		}
		_, err := pipe.Exec(cctx)
		cancel()
		if err != nil {
			return unavailable("clear all", err)
		}
	}
	return nil
}

func (s *RedisStore) List(ctx context.Context, prefix string) ([]Entry, error) {
	keys, err := s.scan(ctx, prefix)
	if err != nil {
		return nil, err
	}

	out := make([]Entry, 0, len(keys))
	for start := 0; start < len(keys); start += scanBatchSize {
		end := min(start+scanBatchSize, len(keys))
		batch := keys[start:end]

		cctx, cancel := s.withTimeout(ctx)
		pipe := s.client.Pipeline()
		counts := make([]*redis.StringCmd, len(batch))
		ttls := make([]*redis.DurationCmd, len(batch))
		for i, k := range batch {
			counts[i] = pipe.Get(cctx, k)
			ttls[i] = pipe.PTTL(cctx, k)
		}
		_, err := pipe.Exec(cctx)
		cancel()
		if err != nil && !errors.Is(err, redis.Nil) {
			return nil, unavailable("list", err)
		}

		now := s.clock.Now()
		for i, k := range batch {
			count, err := counts[i].Int64()
			if err != nil {
				// Expired between SCAN and GET.
				continue
			}
			ttl := ttls[i].Val()
			// PTTL reports -1/-2 for missing expiry or key.
			if ttl <= 0 {
				continue
			}
			out = append(out, Entry{
				Key:     strings.TrimPrefix(k, s.prefix),
				Count:   count,
				ResetAt: now.Add(ttl),
			})
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// scan returns full Redis keys (store prefix included) matching prefix.
// Cluster clients are scanned on every master.
func (s *RedisStore) scan(ctx context.Context, prefix string) ([]string, error) {
	match := escapeGlob(s.prefix+prefix) + "*"

	cluster, ok := s.client.(*redis.ClusterClient)
	if !ok {
		keys, err := s.scanNode(ctx, s.client, match)
		if err != nil {
			return nil, unavailable("scan", err)
		}
		return keys, nil
	}

	var (
		mu   sync.Mutex
		keys []string
	)
	err := cluster.ForEachMaster(ctx, func(ctx context.Context, node *redis.Client) error {
		found, err := s.scanNode(ctx, node, match)
		if err != nil {
			return err
		}
		mu.Lock()
		keys = append(keys, found...)
		mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, unavailable("scan", err)
	}
	return keys, nil
}

func (s *RedisStore) scanNode(ctx context.Context, node redis.Cmdable, match string) ([]string, error) {
	seen := make(map[string]struct{})
	var keys []string

	var cursor uint64
	for {
		cctx, cancel := s.withTimeout(ctx)
		batch, next, err := node.Scan(cctx, cursor, match, scanBatchSize).Result()
		cancel()
		if err != nil {
			return nil, err
		}
		for _, k := range batch {
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			keys = append(keys, k)
		}
		if next == 0 {
			return keys, nil
		}
		cursor = next
	}
}

// Close releases Redis resources. It is idempotent.
func (s *RedisStore) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.client.Close()
	})
	return s.closeErr
}

func (s *RedisStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

func (s *RedisStore) pingWithRetry(ctx context.Context, maxRetries int) error {
	attempts := maxRetries + 1
	if attempts < 1 {
		attempts = 1
	}

	backoff := 100 * time.Millisecond
	var lastErr error
	for i := 0; i < attempts; i++ {
		pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := s.client.Ping(pctx).Err()
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err

		if i == attempts-1 {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
	}

	if lastErr == nil {
		lastErr = errors.New("ping failed with unknown error")
	}
	return lastErr
}

func normalizeRedisConfig(cfg *RedisConfig) (*RedisConfig, error) {
	if cfg == nil {
		return nil, fmt.Errorf("redis config is required")
	}

	conf := *cfg
	if strings.TrimSpace(conf.URL) == "" {
		return nil, fmt.Errorf("redis url is required")
	}
	if conf.KeyPrefix == "" {
		conf.KeyPrefix = defaultRedisKeyPrefix
	}
	if conf.OperationTimeout <= 0 {
		conf.OperationTimeout = defaultRedisOperationTimeout
	}
	if conf.PoolSize <= 0 {
		conf.PoolSize = defaultRedisPoolSize
	}
	if conf.MaxRetries < 0 {
		conf.MaxRetries = 0
	}
	if conf.DialTimeout <= 0 {
		conf.DialTimeout = defaultRedisDialTimeout
	}
	if conf.Clock == nil {
		conf.Clock = clock.NewRealClock()
	}
	if conf.Logger == nil {
		conf.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &conf, nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("redis %s: %w: %w", op, ErrUnavailable, err)
}

func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

var (
	_ Store  = (*RedisStore)(nil)
	_ Lister = (*RedisStore)(nil)
)
