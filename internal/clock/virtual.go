package clock

import (
	"sync"
	"time"
)

// VirtualClock is a controllable clock for tests. Time only moves when
// Advance or Set is called, so window expiry and sweeping can be exercised
// without sleeping.
//
// Thread-safe for concurrent use.
type VirtualClock struct {
	mu      sync.RWMutex
	current time.Time
	tickers []*virtualTicker
}

// NewVirtualClock creates a VirtualClock starting at the given time.
func NewVirtualClock(start time.Time) *VirtualClock {
	return &VirtualClock{current: start}
}

// Now returns the current virtual time.
func (c *VirtualClock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

// Since returns the virtual duration elapsed since t.
func (c *VirtualClock) Since(t time.Time) time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current.Sub(t)
}

// NewTicker returns a ticker driven by Advance and Set. Ticks are dropped
// when the previous one has not been received yet, like time.Ticker.
// Panics if d is not positive.
func (c *VirtualClock) NewTicker(d time.Duration) Ticker {
	if d <= 0 {
		panic("clock: non-positive interval for NewTicker")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	t := &virtualTicker{
		clock:  c,
		ch:     make(chan time.Time, 1),
		period: d,
		next:   c.current.Add(d),
	}
	c.tickers = append(c.tickers, t)
	return t
}

// Advance moves the virtual clock forward by d and fires due tickers.
// Panics if d is negative.
func (c *VirtualClock) Advance(d time.Duration) {
	if d < 0 {
		panic("clock: cannot advance by negative duration")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.current = c.current.Add(d)
	c.fireTickers()
}

// Set moves the virtual clock to t and fires due tickers.
// Panics if t is before the current time.
func (c *VirtualClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if t.Before(c.current) {
		panic("clock: cannot set time to the past")
	}

	c.current = t
	c.fireTickers()
}

// fireTickers must be called with c.mu held.
func (c *VirtualClock) fireTickers() {
	for _, t := range c.tickers {
		if t.next.After(c.current) {
			continue
		}
		select {
		case t.ch <- c.current:
		default:
		}
		// Skip missed periods instead of queueing them.
		for !t.next.After(c.current) {
			t.next = t.next.Add(t.period)
		}
	}
}

func (c *VirtualClock) removeTicker(target *virtualTicker) {
	c.mu.Lock()
	defer c.mu.Unlock()

	remaining := c.tickers[:0]
	for _, t := range c.tickers {
		if t != target {
			remaining = append(remaining, t)
		}
	}
	c.tickers = remaining
}

type virtualTicker struct {
	clock  *VirtualClock
	ch     chan time.Time
	period time.Duration
	next   time.Time
	once   sync.Once
}

func (t *virtualTicker) C() <-chan time.Time { return t.ch }

func (t *virtualTicker) Stop() {
	t.once.Do(func() { t.clock.removeTicker(t) })
}
