package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/SmitUplenchwar2687/Tollgate/internal/clock"
)

func TestRedisStore_ConcurrentIncrementsAreAtomic(t *testing.T) {
	s, cleanup := newRedisStoreForTest(t)
	defer cleanup()

	const workers, perWorker = 10, 20
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				if _, err := s.IncrementAndGet(ctx, "atomic", time.Minute); err != nil {
					t.Errorf("IncrementAndGet() error = %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	e, ok, err := s.Get(ctx, "atomic")
	if err != nil || !ok {
		t.Fatalf("Get() = %v, %v", ok, err)
	}
	if e.Count != workers*perWorker {
		t.Errorf("Count = %d, want %d", e.Count, workers*perWorker)
	}
}

func TestRedisStore_LaterIncrementsDoNotExtendWindow(t *testing.T) {
	s, cleanup := newRedisStoreForTest(t)
	defer cleanup()

	first, err := s.IncrementAndGet(ctx, "ttl", 2*time.Second)
	if err != nil {
		t.Fatalf("IncrementAndGet() error = %v", err)
	}
	time.Sleep(500 * time.Millisecond)
	second, err := s.IncrementAndGet(ctx, "ttl", 2*time.Second)
	if err != nil {
		t.Fatalf("IncrementAndGet() error = %v", err)
	}

	// Both report the same reset instant, give or take scheduling jitter.
	if drift := second.ResetAt.Sub(first.ResetAt); drift > 100*time.Millisecond || drift < -100*time.Millisecond {
		t.Errorf("window moved by %v between increments", drift)
	}
}

func TestRedisStore_KeysAreNamespaced(t *testing.T) {
	s, cleanup := newRedisStoreForTest(t)
	defer cleanup()

	s.IncrementAndGet(ctx, "ns", time.Minute)

	n, err := s.client.Exists(ctx, "tollgate-test:ns").Result()
	if err != nil {
		t.Fatalf("Exists() error = %v", err)
	}
	if n != 1 {
		t.Error("expected counter under the configured key prefix")
	}
}

func TestRedisStore_UnreachableFailsFastWithErrUnavailable(t *testing.T) {
	conf, err := normalizeRedisConfig(&RedisConfig{
		URL:              "redis://127.0.0.1:1",
		OperationTimeout: 50 * time.Millisecond,
		Clock:            clock.NewVirtualClock(epoch),
	})
	if err != nil {
		t.Fatalf("normalizeRedisConfig() error = %v", err)
	}
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		MaxRetries:  -1,
		DialTimeout: 50 * time.Millisecond,
	})
	s := newRedisStoreWithClient(client, conf)
	defer s.Close()

	start := time.Now()
	_, err = s.IncrementAndGet(context.Background(), "k", time.Minute)
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("IncrementAndGet() error = %v, want ErrUnavailable", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("failure took %v, want fast failure", elapsed)
	}

	if err := s.Decrement(context.Background(), "k"); !errors.Is(err, ErrUnavailable) {
		t.Errorf("Decrement() error = %v, want ErrUnavailable", err)
	}
	if _, _, err := s.Get(context.Background(), "k"); !errors.Is(err, ErrUnavailable) {
		t.Errorf("Get() error = %v, want ErrUnavailable", err)
	}
}

func TestOpen_UnreachableRedisStillReturnsStore(t *testing.T) {
	s, err := Open(context.Background(), Config{
		RedisURL:         "redis://127.0.0.1:1/0",
		OperationTimeout: 50 * time.Millisecond,
		DialTimeout:      50 * time.Millisecond,
	}, clock.NewVirtualClock(epoch))
	if err != nil {
		t.Fatalf("Open() error = %v, want a store that fails open", err)
	}
	defer s.Close()

	if _, err := s.IncrementAndGet(context.Background(), "k", time.Minute); !errors.Is(err, ErrUnavailable) {
		t.Errorf("IncrementAndGet() error = %v, want ErrUnavailable", err)
	}
}

func TestOpen_RequirePingRejectsUnreachableRedis(t *testing.T) {
	s, err := Open(context.Background(), Config{
		RedisURL:         "redis://127.0.0.1:1/0",
		OperationTimeout: 50 * time.Millisecond,
		DialTimeout:      50 * time.Millisecond,
		RequirePing:      true,
	}, clock.NewVirtualClock(epoch))
	if err == nil {
		s.Close()
		t.Fatal("Open() error = nil, want ping failure")
	}
}

func TestNewRedisClient_ClusterMode(t *testing.T) {
	conf, err := normalizeRedisConfig(&RedisConfig{
		URL:     "redis://127.0.0.1:7000?addr=127.0.0.1:7001&addr=127.0.0.1:7002",
		Cluster: true,
	})
	if err != nil {
		t.Fatalf("normalizeRedisConfig() error = %v", err)
	}
	client, err := newRedisClient(conf)
	if err != nil {
		t.Fatalf("newRedisClient() error = %v", err)
	}
	defer client.Close()

	cc, ok := client.(*redis.ClusterClient)
	if !ok {
		t.Fatalf("client = %T, want *redis.ClusterClient", client)
	}
	if got := len(cc.Options().Addrs); got != 3 {
		t.Errorf("seed addrs = %d, want 3", got)
	}

	conf.Cluster = false
	conf.URL = "redis://127.0.0.1:7000/0"
	single, err := newRedisClient(conf)
	if err != nil {
		t.Fatalf("newRedisClient() error = %v", err)
	}
	defer single.Close()
	if _, ok := single.(*redis.Client); !ok {
		t.Errorf("client = %T, want *redis.Client", single)
	}
}

func TestNormalizeRedisConfig(t *testing.T) {
	if _, err := normalizeRedisConfig(nil); err == nil {
		t.Error("expected error for nil config")
	}
	if _, err := normalizeRedisConfig(&RedisConfig{}); err == nil {
		t.Error("expected error for empty url")
	}

	conf, err := normalizeRedisConfig(&RedisConfig{URL: "redis://localhost:6379", MaxRetries: -5})
	if err != nil {
		t.Fatalf("normalizeRedisConfig() error = %v", err)
	}
	if conf.KeyPrefix != defaultRedisKeyPrefix {
		t.Errorf("KeyPrefix = %q, want %q", conf.KeyPrefix, defaultRedisKeyPrefix)
	}
	if conf.OperationTimeout != defaultRedisOperationTimeout {
		t.Errorf("OperationTimeout = %v, want %v", conf.OperationTimeout, defaultRedisOperationTimeout)
	}
	if conf.MaxRetries != 0 {
		t.Errorf("MaxRetries = %d, want 0", conf.MaxRetries)
	}
	if conf.Clock == nil {
		t.Error("Clock should default to the real clock")
	}
}

func TestEscapeGlob(t *testing.T) {
	if got := escapeGlob(`rl:user:a*b?[c]`); got != `rl:user:a\*b\?\[c\]` {
		t.Errorf("escapeGlob() = %q", got)
	}
}
