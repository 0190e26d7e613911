// Package sweeper periodically evicts expired counters from stores that do
// not expire entries on their own.
package sweeper

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/SmitUplenchwar2687/Tollgate/internal/clock"
	"github.com/SmitUplenchwar2687/Tollgate/internal/metrics"
	"github.com/SmitUplenchwar2687/Tollgate/internal/store"
)

// DefaultInterval is used when Options.Interval is not positive.
const DefaultInterval = time.Minute

// Options configures a Sweeper.
type Options struct {
	Interval time.Duration
	Clock    clock.Clock
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
}

// Sweeper evicts expired entries from a store on a fixed interval.
type Sweeper struct {
	target   store.Sweepable
	interval time.Duration
	clock    clock.Clock
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// New creates a Sweeper for target.
func New(target store.Sweepable, opts Options) *Sweeper {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Clock == nil {
		opts.Clock = clock.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Sweeper{
		target:   target,
		interval: opts.Interval,
		clock:    opts.Clock,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
	}
}

// Run sweeps every interval until ctx is done. It returns nil on
// cancellation.
func (s *Sweeper) Run(ctx context.Context) error {
	if s == nil || s.target == nil {
		return errors.New("sweeper is not configured")
	}

	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Debug("sweeper started", "interval", s.interval)
	for {
		select {
		case <-ctx.Done():
			s.logger.Debug("sweeper stopped")
			return nil
		case <-ticker.C():
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce runs a single eviction pass and reports how many entries were
// removed. Errors are logged, not returned; the next tick retries.
func (s *Sweeper) SweepOnce(ctx context.Context) int {
	removed, err := s.target.Sweep(ctx)
	if err != nil {
		s.logger.Warn("sweep failed", "error", err)
		return 0
	}
	s.metrics.Evicted(removed)
	if removed > 0 {
		s.logger.Debug("evicted expired counters", "removed", removed)
	}
	return removed
}
