package store

import (
	"context"
	"testing"
	"time"

	testcontainers "github.com/testcontainers/testcontainers-go"
	rediscontainer "github.com/testcontainers/testcontainers-go/modules/redis"

	"github.com/SmitUplenchwar2687/Tollgate/internal/clock"
)

func newRedisStoreForTest(t *testing.T) (*RedisStore, func()) {
	t.Helper()
	testcontainers.SkipIfProviderIsNotHealthy(t)

	bg := context.Background()
	container, err := rediscontainer.Run(bg, "redis:7.2-alpine")
	if err != nil {
		t.Skipf("redis container unavailable: %v", err)
	}

	url, err := container.ConnectionString(bg)
	if err != nil {
		_ = container.Terminate(bg)
		t.Fatalf("container connection string: %v", err)
	}

	store, err := NewRedisStore(bg, &RedisConfig{
		URL:              url,
		KeyPrefix:        "tollgate-test:",
		OperationTimeout: time.Second,
		MaxRetries:       3,
		Clock:            clock.NewRealClock(),
	})
	if err != nil {
		_ = container.Terminate(bg)
		t.Fatalf("NewRedisStore() error: %v", err)
	}

	cleanup := func() {
		_ = store.Close()
		_ = container.Terminate(context.Background())
	}
	return store, cleanup
}
