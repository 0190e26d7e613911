// Package admission decides whether a request may proceed under the quota
// policy that applies to it, and corrects the counter once the response
// outcome is known.
package admission

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/SmitUplenchwar2687/Tollgate/internal/clock"
	"github.com/SmitUplenchwar2687/Tollgate/internal/metrics"
	"github.com/SmitUplenchwar2687/Tollgate/internal/policy"
	"github.com/SmitUplenchwar2687/Tollgate/internal/store"
)

// failureLogInterval bounds how often store failures are logged. Metrics
// still count every one.
const failureLogInterval = 10 * time.Second

// Options configures a Guard. Selector and Store are required.
type Options struct {
	Selector *policy.Selector
	Store    store.Store
	Clock    clock.Clock
	Logger   *slog.Logger
	Metrics  *metrics.Metrics

	// OnLimitReached is called for every denied request.
	OnLimitReached func(Request, Result)
	// OnDecision receives an Event for every decision, fail-open included.
	OnDecision func(Event)
}

// Guard runs admission checks. It is safe for concurrent use.
type Guard struct {
	selector *policy.Selector
	store    store.Store
	clock    clock.Clock
	logger   *slog.Logger
	metrics  *metrics.Metrics

	onLimitReached func(Request, Result)
	onDecision     func(Event)

	failureLog *rate.Sometimes
}

// New creates a Guard.
func New(opts Options) (*Guard, error) {
	if opts.Selector == nil {
		return nil, errors.New("admission: selector is required")
	}
	if opts.Store == nil {
		return nil, errors.New("admission: store is required")
	}
	if opts.Clock == nil {
		opts.Clock = clock.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Guard{
		selector:       opts.Selector,
		store:          opts.Store,
		clock:          opts.Clock,
		logger:         opts.Logger,
		metrics:        opts.Metrics,
		onLimitReached: opts.OnLimitReached,
		onDecision:     opts.OnDecision,
		failureLog:     &rate.Sometimes{First: 1, Interval: failureLogInterval},
	}, nil
}

// Evaluate counts req against its policy and reports whether it may proceed.
// It never fails: when the store cannot be reached the request is admitted
// uncounted and the result is flagged FailOpen.
func (g *Guard) Evaluate(ctx context.Context, req Request) Result {
	if req.Header == nil {
		req.Header = http.Header{}
	}
	p := g.selector.Select(req.Path)
	key := p.Name + ":" + ClientKey(req)

	// The check must resolve even if the client goes away; the store's own
	// operation timeout bounds it.
	entry, err := g.increment(context.WithoutCancel(ctx), key, p.Window)
	if err != nil {
		res := Result{Allowed: true, Policy: p, Key: key, FailOpen: true}
		g.metrics.StoreError("increment")
		g.metrics.Decision(p.Name, metrics.OutcomeFailOpen)
		g.failureLog.Do(func() {
			g.logger.Error("rate limit check failed, admitting request",
				"key", key, "policy", p.Name, "error", err)
		})
		g.emit(req, res)
		return res
	}

	res := Result{
		Policy:  p,
		Key:     key,
		Count:   entry.Count,
		ResetAt: entry.ResetAt,
		counted: true,
	}
	res.Header = counterHeaders(p, res.Remaining(), entry.ResetAt)

	if entry.Count > int64(p.MaxRequests) {
		res.Status = http.StatusTooManyRequests
		res.Body = &DenialBody{
			Success:    false,
			Error:      ErrorCode,
			Message:    p.Message,
			RetryAfter: int(p.Window / time.Second),
			Limit:      p.MaxRequests,
			Remaining:  0,
			ResetTime:  formatReset(entry.ResetAt),
		}
		res.Header.Set(HeaderRetryAfter, fmt.Sprint(retryAfterSeconds(g.clock.Now(), entry.ResetAt)))

		g.metrics.Decision(p.Name, metrics.OutcomeDenied)
		g.logger.Warn("rate limit exceeded",
			"key", key, "policy", p.Name, "count", entry.Count, "limit", p.MaxRequests)
		if g.onLimitReached != nil {
			g.onLimitReached(req, res)
		}
		g.emit(req, res)
		return res
	}

	res.Allowed = true
	g.metrics.Decision(p.Name, metrics.OutcomeAllowed)
	g.emit(req, res)
	return res
}

// Settle gives back the slot taken by an admitted request when the policy
// does not count the response outcome. Statuses below 400 are successes.
// Failures are logged and counted, never retried or returned.
func (g *Guard) Settle(ctx context.Context, res Result, status int) {
	if !res.Allowed || !res.counted {
		return
	}

	success := status < http.StatusBadRequest
	if (success && res.Policy.CountSuccessResponses) || (!success && res.Policy.CountFailureResponses) {
		return
	}

	if err := g.decrement(context.WithoutCancel(ctx), res.Key); err != nil {
		g.metrics.StoreError("decrement")
		g.metrics.Correction(metrics.CorrectionFailed)
		g.logger.Warn("rate limit correction failed",
			"key", res.Key, "policy", res.Policy.Name, "status", status, "error", err)
		return
	}
	g.metrics.Correction(metrics.CorrectionApplied)
	g.logger.Debug("rate limit corrected", "key", res.Key, "policy", res.Policy.Name, "status", status)
}

// Selector returns the selector the guard resolves policies with.
func (g *Guard) Selector() *policy.Selector {
	return g.selector
}

func (g *Guard) increment(ctx context.Context, key string, window time.Duration) (e store.Entry, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("store panic: %v", r)
		}
	}()
	start := time.Now()
	e, err = g.store.IncrementAndGet(ctx, key, window)
	g.metrics.ObserveStore("increment", time.Since(start))
	return e, err
}

func (g *Guard) decrement(ctx context.Context, key string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("store panic: %v", r)
		}
	}()
	start := time.Now()
	err = g.store.Decrement(ctx, key)
	g.metrics.ObserveStore("decrement", time.Since(start))
	return err
}

func (g *Guard) emit(req Request, res Result) {
	if g.onDecision == nil {
		return
	}
	g.onDecision(newEvent(g.clock.Now(), req, res))
}
