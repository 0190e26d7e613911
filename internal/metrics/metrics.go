// Package metrics exposes Prometheus instruments for admission decisions,
// counter store calls and the sweeper.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Decision outcomes.
const (
	OutcomeAllowed  = "allowed"
	OutcomeDenied   = "denied"
	OutcomeFailOpen = "fail_open"
)

// Correction results.
const (
	CorrectionApplied = "applied"
	CorrectionFailed  = "failed"
)

// Metrics holds the registered instruments. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	decisions     *prometheus.CounterVec
	storeErrors   *prometheus.CounterVec
	corrections   *prometheus.CounterVec
	evictions     prometheus.Counter
	storeDuration *prometheus.HistogramVec
}

// New creates the instruments and registers them with reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tollgate_admission_decisions_total",
			Help: "Admission decisions by policy and outcome.",
		}, []string{"policy", "outcome"}),
		storeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tollgate_store_errors_total",
			Help: "Counter store calls that failed, by operation.",
		}, []string{"op"}),
		corrections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tollgate_counter_corrections_total",
			Help: "Post-response counter decrements by result.",
		}, []string{"result"}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tollgate_sweeper_evictions_total",
			Help: "Expired counters evicted by the sweeper.",
		}),
		storeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tollgate_store_duration_seconds",
			Help:    "Counter store call latency by operation.",
			Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5},
		}, []string{"op"}),
	}

	for _, c := range []prometheus.Collector{m.decisions, m.storeErrors, m.corrections, m.evictions, m.storeDuration} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("registering metric: %w", err)
		}
	}
	return m, nil
}

func (m *Metrics) Decision(policy, outcome string) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(policy, outcome).Inc()
}

func (m *Metrics) StoreError(op string) {
	if m == nil {
		return
	}
	m.storeErrors.WithLabelValues(op).Inc()
}

func (m *Metrics) Correction(result string) {
	if m == nil {
		return
	}
	m.corrections.WithLabelValues(result).Inc()
}

func (m *Metrics) Evicted(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.evictions.Add(float64(n))
}

// ObserveStore records how long a store operation took.
func (m *Metrics) ObserveStore(op string, d time.Duration) {
	if m == nil {
		return
	}
	m.storeDuration.WithLabelValues(op).Observe(d.Seconds())
}
