// Package generate produces synthetic gateway traffic for replay.
package generate

import (
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/SmitUplenchwar2687/Tollgate/internal/recorder"
)

const (
	// PatternSteady generates evenly distributed traffic.
	PatternSteady = "steady"
	// PatternBurst generates clustered bursts with quiet gaps.
	PatternBurst = "burst"
	// PatternRamp generates traffic density that increases over time.
	PatternRamp = "ramp"
)

// Route is a method and path requests are sent to.
type Route struct {
	Method string
	Path   string
}

// DefaultRoutes touches every built-in policy.
var DefaultRoutes = []Route{
	{http.MethodGet, "/api/orders"},
	{http.MethodGet, "/api/search"},
	{http.MethodPost, "/api/auth/login"},
	{http.MethodPost, "/api/files/upload"},
	{http.MethodPut, "/admin/settings"},
	{http.MethodGet, "/public/catalog"},
}

// Options controls how traffic is generated.
type Options struct {
	Count     int
	Users     int // authenticated clients, user-1..user-N
	Anonymous int // anonymous clients, one address each
	Duration  time.Duration
	Pattern   string
	Start     time.Time
	Seed      int64
	Routes    []Route

	// FailureRate is the fraction of requests answered with a client
	// error: 401 on auth routes, 400 elsewhere.
	FailureRate float64
}

// DefaultOptions returns the defaults used by the generate command.
func DefaultOptions() Options {
	return Options{
		Count:       100,
		Users:       3,
		Anonymous:   2,
		Duration:    5 * time.Minute,
		Pattern:     PatternSteady,
		FailureRate: 0.1,
	}
}

// Traffic creates synthetic traffic records.
func Traffic(opts *Options) ([]recorder.TrafficRecord, error) {
	if opts == nil {
		return nil, errors.New("options are required")
	}
	o := *opts
	if o.Count <= 0 {
		return nil, fmt.Errorf("count must be positive, got %d", o.Count)
	}
	if o.Users < 0 || o.Anonymous < 0 || o.Users+o.Anonymous == 0 {
		return nil, fmt.Errorf("need at least one client, got %d users and %d anonymous", o.Users, o.Anonymous)
	}
	if o.Duration <= 0 {
		return nil, fmt.Errorf("duration must be positive, got %s", o.Duration)
	}
	if o.FailureRate < 0 || o.FailureRate > 1 {
		return nil, fmt.Errorf("failure rate must be within [0, 1], got %v", o.FailureRate)
	}

	if o.Pattern == "" {
		o.Pattern = PatternSteady
	}
	if o.Start.IsZero() {
		o.Start = time.Now().UTC().Truncate(time.Second)
	}
	if len(o.Routes) == 0 {
		o.Routes = DefaultRoutes
	}
	if o.Seed == 0 {
		o.Seed = time.Now().UnixNano()
	}

	g := &generator{rng: rand.New(rand.NewSource(o.Seed)), opts: o}

	var times []time.Time
	switch o.Pattern {
	case PatternBurst:
		times = g.burstTimes()
	case PatternRamp:
		times = g.rampTimes()
	case PatternSteady:
		times = g.steadyTimes()
	default:
		return nil, fmt.Errorf("unknown pattern %q", o.Pattern)
	}

	records := make([]recorder.TrafficRecord, len(times))
	for i, t := range times {
		records[i] = g.record(t)
	}
	return records, nil
}

type generator struct {
	rng  *rand.Rand
	opts Options
}

func (g *generator) record(t time.Time) recorder.TrafficRecord {
	route := g.opts.Routes[g.rng.Intn(len(g.opts.Routes))]
	rec := recorder.TrafficRecord{
		Timestamp: t,
		Method:    route.Method,
		Path:      route.Path,
		Status:    http.StatusOK,
	}

	if c := g.rng.Intn(g.opts.Users + g.opts.Anonymous); c < g.opts.Users {
		rec.UserID = fmt.Sprintf("user-%d", c+1)
	} else {
		// 192.0.2.0/24 is reserved for documentation.
		rec.RemoteAddr = fmt.Sprintf("192.0.2.%d:%d", c-g.opts.Users+1, 40000+g.rng.Intn(20000))
	}

	if g.rng.Float64() < g.opts.FailureRate {
		rec.Status = http.StatusBadRequest
		if route.Method == http.MethodPost && (strings.Contains(route.Path, "auth") || strings.Contains(route.Path, "login")) {
			rec.Status = http.StatusUnauthorized
		}
	}
	return rec
}

func (g *generator) steadyTimes() []time.Time {
	interval := g.opts.Duration / time.Duration(g.opts.Count)
	times := make([]time.Time, g.opts.Count)
	for i := range times {
		times[i] = g.opts.Start.Add(time.Duration(i) * interval)
	}
	return times
}

func (g *generator) burstTimes() []time.Time {
	const numBursts = 4
	count, start, dur := g.opts.Count, g.opts.Start, g.opts.Duration
	burstSize := count / numBursts
	burstGap := dur / numBursts

	times := make([]time.Time, 0, count)
	for b := 0; b < numBursts; b++ {
		burstStart := start.Add(time.Duration(b) * burstGap)
		for i := 0; i < burstSize; i++ {
			offset := time.Duration(g.rng.Intn(1000)) * time.Millisecond
			times = append(times, burstStart.Add(offset))
		}
	}
	for len(times) < count {
		times = append(times, start.Add(time.Duration(g.rng.Int63n(int64(dur)))))
	}
	return times
}

// rampTimes concentrates requests towards the end of the span.
func (g *generator) rampTimes() []time.Time {
	times := make([]time.Time, g.opts.Count)
	for i := range times {
		frac := float64(i) / float64(g.opts.Count)
		times[i] = g.opts.Start.Add(time.Duration(frac * frac * float64(g.opts.Duration)))
	}
	return times
}
