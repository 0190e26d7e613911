// Package replay runs recorded traffic through an admission guard on a
// virtual clock, so a policy change can be evaluated against real load
// before it ships.
package replay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/SmitUplenchwar2687/Tollgate/internal/admission"
	"github.com/SmitUplenchwar2687/Tollgate/internal/clock"
	"github.com/SmitUplenchwar2687/Tollgate/internal/recorder"
)

// Replayer replays recorded traffic through a guard at a configurable speed.
type Replayer struct {
	records []recorder.TrafficRecord
	guard   *admission.Guard
	clock   *clock.VirtualClock
	filter  Filter
	speed   float64 // 1.0 = real-time, 10.0 = 10x, 0 = instant
}

// Result is the outcome of replaying a single record.
type Result struct {
	Record    recorder.TrafficRecord `json:"record"`
	Client    string                 `json:"client"`
	Policy    string                 `json:"policy"`
	Allowed   bool                   `json:"allowed"`
	FailOpen  bool                   `json:"fail_open,omitempty"`
	Remaining int                    `json:"remaining"`
	Limit     int                    `json:"limit"`
	Time      time.Time              `json:"time"` // virtual time of the decision
}

// Summary aggregates replay statistics.
type Summary struct {
	TotalRecords int               `json:"total_records"`
	Filtered     int               `json:"filtered"`
	Replayed     int               `json:"replayed"`
	Allowed      int               `json:"allowed"`
	Denied       int               `json:"denied"`
	Duration     time.Duration     `json:"duration"`      // virtual time span
	WallDuration time.Duration     `json:"wall_duration"` // actual wall clock time
	PerClient    map[string]Counts `json:"per_client"`
	PerPolicy    map[string]Counts `json:"per_policy"`
}

// Counts is an allowed/denied tally.
type Counts struct {
	Allowed int `json:"allowed"`
	Denied  int `json:"denied"`
}

// New creates a replayer. The guard must read time from vc, and vc should
// start no later than the first record so decisions carry recorded times.
func New(g *admission.Guard, vc *clock.VirtualClock, speed float64, filter Filter) *Replayer {
	if speed < 0 {
		speed = 0
	}
	return &Replayer{
		guard:  g,
		clock:  vc,
		speed:  speed,
		filter: filter,
	}
}

// Load reads traffic records written by a Recorder.
func (r *Replayer) Load(reader io.Reader) error {
	records, err := recorder.Load(reader)
	if err != nil {
		return fmt.Errorf("loading records: %w", err)
	}
	r.records = records
	return nil
}

// LoadRecords sets the records directly.
func (r *Replayer) LoadRecords(records []recorder.TrafficRecord) {
	r.records = make([]recorder.TrafficRecord, len(records))
	copy(r.records, records)
}

// Run replays the loaded records in timestamp order. The virtual clock is
// moved to each record's timestamp before it is evaluated, and admitted
// records are settled with their recorded status. cb, if non-nil, sees
// every result.
func (r *Replayer) Run(ctx context.Context, cb func(Result)) (*Summary, error) {
	if len(r.records) == 0 {
		return nil, errors.New("no records loaded")
	}

	sorted := make([]recorder.TrafficRecord, len(r.records))
	copy(sorted, r.records)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	var filtered []recorder.TrafficRecord
	for _, rec := range sorted {
		if r.filter.Match(rec) {
			filtered = append(filtered, rec)
		}
	}

	summary := &Summary{
		TotalRecords: len(sorted),
		Filtered:     len(filtered),
		PerClient:    make(map[string]Counts),
		PerPolicy:    make(map[string]Counts),
	}
	if len(filtered) == 0 {
		return summary, nil
	}

	wallStart := time.Now()
	if first := filtered[0].Timestamp; first.After(r.clock.Now()) {
		r.clock.Set(first)
	}

	for i, rec := range filtered {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		if i > 0 {
			if gap := rec.Timestamp.Sub(filtered[i-1].Timestamp); gap > 0 {
				if err := r.pace(ctx, gap); err != nil {
					return summary, err
				}
				r.clock.Advance(gap)
			}
		}

		res := r.guard.Evaluate(ctx, rec.Request())
		if res.Allowed {
			r.guard.Settle(ctx, res, rec.Status)
		}

		result := Result{
			Record:    rec,
			Client:    rec.ClientKey(),
			Policy:    res.Policy.Name,
			Allowed:   res.Allowed,
			FailOpen:  res.FailOpen,
			Remaining: res.Remaining(),
			Limit:     res.Policy.MaxRequests,
			Time:      r.clock.Now(),
		}

		summary.Replayed++
		tally(summary.PerClient, result.Client, res.Allowed)
		tally(summary.PerPolicy, result.Policy, res.Allowed)
		if res.Allowed {
			summary.Allowed++
		} else {
			summary.Denied++
		}

		if cb != nil {
			cb(result)
		}
	}

	summary.Duration = filtered[len(filtered)-1].Timestamp.Sub(filtered[0].Timestamp)
	summary.WallDuration = time.Since(wallStart)
	return summary, nil
}

// pace sleeps for gap scaled by the replay speed.
func (r *Replayer) pace(ctx context.Context, gap time.Duration) error {
	if r.speed <= 0 {
		return nil
	}
	scaled := time.Duration(float64(gap) / r.speed)
	if scaled <= time.Millisecond {
		return nil
	}
	t := time.NewTimer(scaled)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func tally(m map[string]Counts, key string, allowed bool) {
	c := m[key]
	if allowed {
		c.Allowed++
	} else {
		c.Denied++
	}
	m[key] = c
}
