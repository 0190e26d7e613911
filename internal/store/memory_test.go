package store

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/SmitUplenchwar2687/Tollgate/internal/clock"
)

var (
	epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	ctx   = context.Background()
)

func TestMemoryStore_FirstIncrementStartsWindow(t *testing.T) {
	vc := clock.NewVirtualClock(epoch)
	s := NewMemoryStore(vc)

	e, err := s.IncrementAndGet(ctx, "auth:ip:1.2.3.4", 15*time.Minute)
	if err != nil {
		t.Fatalf("IncrementAndGet() error = %v", err)
	}
	if e.Count != 1 {
		t.Errorf("Count = %d, want 1", e.Count)
	}
	if want := epoch.Add(15 * time.Minute); !e.ResetAt.Equal(want) {
		t.Errorf("ResetAt = %v, want %v", e.ResetAt, want)
	}
}

func TestMemoryStore_IncrementsShareWindow(t *testing.T) {
	vc := clock.NewVirtualClock(epoch)
	s := NewMemoryStore(vc)

	for i := 1; i <= 5; i++ {
		e, _ := s.IncrementAndGet(ctx, "k", time.Minute)
		if e.Count != int64(i) {
			t.Fatalf("increment %d: Count = %d", i, e.Count)
		}
		if want := epoch.Add(time.Minute); !e.ResetAt.Equal(want) {
			t.Fatalf("increment %d: ResetAt moved to %v", i, e.ResetAt)
		}
		vc.Advance(10 * time.Second)
	}
}

func TestMemoryStore_WindowResetsAtBoundary(t *testing.T) {
	vc := clock.NewVirtualClock(epoch)
	s := NewMemoryStore(vc)

	for i := 0; i < 10; i++ {
		s.IncrementAndGet(ctx, "k", time.Minute)
	}

	// Exactly at resetAt the old window is over.
	vc.Advance(time.Minute)
	e, _ := s.IncrementAndGet(ctx, "k", time.Minute)
	if e.Count != 1 {
		t.Errorf("Count at boundary = %d, want 1", e.Count)
	}
	if want := epoch.Add(2 * time.Minute); !e.ResetAt.Equal(want) {
		t.Errorf("ResetAt = %v, want %v", e.ResetAt, want)
	}
}

func TestMemoryStore_WindowIsAnchoredAtFirstRequest(t *testing.T) {
	vc := clock.NewVirtualClock(epoch.Add(42 * time.Second))
	s := NewMemoryStore(vc)

	e, _ := s.IncrementAndGet(ctx, "k", time.Minute)
	if want := epoch.Add(102 * time.Second); !e.ResetAt.Equal(want) {
		t.Errorf("ResetAt = %v, want %v (not aligned to the minute)", e.ResetAt, want)
	}
}

func TestMemoryStore_KeysAreIsolated(t *testing.T) {
	s := NewMemoryStore(clock.NewVirtualClock(epoch))

	for i := 0; i < 3; i++ {
		s.IncrementAndGet(ctx, "a", time.Minute)
	}
	e, _ := s.IncrementAndGet(ctx, "b", time.Minute)
	if e.Count != 1 {
		t.Errorf("key b Count = %d, want 1", e.Count)
	}
}

func TestMemoryStore_Decrement(t *testing.T) {
	vc := clock.NewVirtualClock(epoch)
	s := NewMemoryStore(vc)

	s.IncrementAndGet(ctx, "k", time.Minute)
	s.IncrementAndGet(ctx, "k", time.Minute)
	if err := s.Decrement(ctx, "k"); err != nil {
		t.Fatalf("Decrement() error = %v", err)
	}

	e, ok, _ := s.Get(ctx, "k")
	if !ok || e.Count != 1 {
		t.Fatalf("Get() = %+v, %v; want count 1", e, ok)
	}
	if want := epoch.Add(time.Minute); !e.ResetAt.Equal(want) {
		t.Errorf("Decrement changed ResetAt to %v", e.ResetAt)
	}
}

func TestMemoryStore_DecrementNeverNegative(t *testing.T) {
	s := NewMemoryStore(clock.NewVirtualClock(epoch))

	s.IncrementAndGet(ctx, "k", time.Minute)
	s.Decrement(ctx, "k")
	s.Decrement(ctx, "k")

	e, ok, _ := s.Get(ctx, "k")
	if !ok || e.Count != 0 {
		t.Errorf("Get() = %+v, %v; want count 0", e, ok)
	}
}

func TestMemoryStore_DecrementMissingOrExpiredIsNoop(t *testing.T) {
	vc := clock.NewVirtualClock(epoch)
	s := NewMemoryStore(vc)

	if err := s.Decrement(ctx, "missing"); err != nil {
		t.Fatalf("Decrement(missing) error = %v", err)
	}
	if s.Len() != 0 {
		t.Errorf("Decrement created an entry")
	}

	s.IncrementAndGet(ctx, "k", time.Minute)
	vc.Advance(2 * time.Minute)
	s.Decrement(ctx, "k")

	e, _ := s.IncrementAndGet(ctx, "k", time.Minute)
	if e.Count != 1 {
		t.Errorf("Count after expired decrement = %d, want 1", e.Count)
	}
}

func TestMemoryStore_GetHidesExpired(t *testing.T) {
	vc := clock.NewVirtualClock(epoch)
	s := NewMemoryStore(vc)

	if _, ok, _ := s.Get(ctx, "k"); ok {
		t.Fatal("Get() on empty store should report absent")
	}

	s.IncrementAndGet(ctx, "k", time.Minute)
	vc.Advance(time.Minute)
	if _, ok, _ := s.Get(ctx, "k"); ok {
		t.Error("Get() should hide expired entry")
	}
}

func TestMemoryStore_ClearAndClearAll(t *testing.T) {
	s := NewMemoryStore(clock.NewVirtualClock(epoch))

	s.IncrementAndGet(ctx, "a", time.Minute)
	s.IncrementAndGet(ctx, "b", time.Minute)

	if err := s.Clear(ctx, "a"); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	if _, ok, _ := s.Get(ctx, "a"); ok {
		t.Error("a should be cleared")
	}
	if _, ok, _ := s.Get(ctx, "b"); !ok {
		t.Error("b should survive Clear(a)")
	}

	if err := s.ClearAll(ctx); err != nil {
		t.Fatalf("ClearAll() error = %v", err)
	}
	if s.Len() != 0 {
		t.Errorf("Len() = %d after ClearAll, want 0", s.Len())
	}
}

func TestMemoryStore_ListFiltersPrefixAndExpired(t *testing.T) {
	vc := clock.NewVirtualClock(epoch)
	s := NewMemoryStore(vc)

	s.IncrementAndGet(ctx, "auth:ip:1", time.Second)
	s.IncrementAndGet(ctx, "auth:user:7", time.Hour)
	s.IncrementAndGet(ctx, "auth:user:7", time.Hour)
	s.IncrementAndGet(ctx, "api:user:7", time.Hour)
	vc.Advance(2 * time.Second)

	got, err := s.List(ctx, "auth:")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("List() returned %d entries, want 1: %+v", len(got), got)
	}
	if got[0].Key != "auth:user:7" || got[0].Count != 2 {
		t.Errorf("List()[0] = %+v", got[0])
	}

	all, _ := s.List(ctx, "")
	if len(all) != 2 || all[0].Key != "api:user:7" {
		t.Errorf("List(\"\") = %+v, want 2 entries sorted by key", all)
	}
}

func TestMemoryStore_SweepRemovesOnlyExpired(t *testing.T) {
	vc := clock.NewVirtualClock(epoch)
	s := NewMemoryStore(vc)

	s.IncrementAndGet(ctx, "short", time.Second)
	s.IncrementAndGet(ctx, "long", time.Hour)
	vc.Advance(time.Second)

	removed, err := s.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if removed != 1 {
		t.Errorf("Sweep() removed %d, want 1", removed)
	}
	if s.Len() != 1 {
		t.Errorf("Len() = %d, want 1", s.Len())
	}
	if _, ok, _ := s.Get(ctx, "long"); !ok {
		t.Error("live entry was swept")
	}
}

func TestMemoryStore_ConcurrentIncrements(t *testing.T) {
	s := NewMemoryStore(clock.NewVirtualClock(epoch))

	const workers, perWorker = 20, 50
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				s.IncrementAndGet(ctx, "shared", time.Minute)
			}
		}()
	}
	// Sweeps racing with increments must not lose live entries.
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			s.Sweep(ctx)
		}
	}()
	wg.Wait()

	e, ok, _ := s.Get(ctx, "shared")
	if !ok || e.Count != workers*perWorker {
		t.Errorf("Get() = %+v, %v; want count %d", e, ok, workers*perWorker)
	}
}

func TestEntry_TTL(t *testing.T) {
	e := Entry{ResetAt: epoch.Add(90 * time.Second)}
	if got := e.TTL(epoch); got != 90*time.Second {
		t.Errorf("TTL() = %v, want 90s", got)
	}
	if got := e.TTL(epoch.Add(time.Hour)); got != 0 {
		t.Errorf("TTL() past reset = %v, want 0", got)
	}
}

func TestOpen_SelectsBackendFromConfig(t *testing.T) {
	s, err := Open(ctx, Config{}, clock.NewVirtualClock(epoch))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer s.Close()
	if _, ok := s.(*MemoryStore); !ok {
		t.Errorf("Open() without redis url = %T, want *MemoryStore", s)
	}

	if got := (Config{RedisURL: "redis://localhost:6379"}).Backend(); got != BackendRedis {
		t.Errorf("Backend() = %q, want %q", got, BackendRedis)
	}
}

func BenchmarkMemoryStore_IncrementAndGet(b *testing.B) {
	s := NewMemoryStore(clock.NewVirtualClock(epoch))
	keys := make([]string, 1000)
	for i := range keys {
		keys[i] = fmt.Sprintf("api:ip:10.0.%d.%d", i/256, i%256)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		s.IncrementAndGet(ctx, keys[i%len(keys)], time.Minute)
	}
}
