package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	m.Decision("auth", OutcomeAllowed)
	m.Decision("auth", OutcomeAllowed)
	m.Decision("auth", OutcomeDenied)
	m.StoreError("increment")
	m.Correction(CorrectionApplied)
	m.Evicted(3)
	m.Evicted(0)
	m.ObserveStore("increment", 2*time.Millisecond)

	if got := testutil.ToFloat64(m.decisions.WithLabelValues("auth", OutcomeAllowed)); got != 2 {
		t.Errorf("allowed decisions = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.decisions.WithLabelValues("auth", OutcomeDenied)); got != 1 {
		t.Errorf("denied decisions = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.storeErrors.WithLabelValues("increment")); got != 1 {
		t.Errorf("store errors = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.evictions); got != 3 {
		t.Errorf("evictions = %v, want 3", got)
	}

	expected := `
# HELP tollgate_counter_corrections_total Post-response counter decrements by result.
# TYPE tollgate_counter_corrections_total counter
tollgate_counter_corrections_total{result="applied"} 1
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected), "tollgate_counter_corrections_total"); err != nil {
		t.Error(err)
	}
	if n := testutil.CollectAndCount(m.storeDuration); n != 1 {
		t.Errorf("store duration series = %d, want 1", n)
	}
}

func TestMetrics_DoubleRegistrationFails(t *testing.T) {
	reg := prometheus.NewRegistry()
	if _, err := New(reg); err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, err := New(reg); err == nil {
		t.Error("second New() on the same registry should fail")
	}
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.Decision("api", OutcomeAllowed)
	m.StoreError("get")
	m.Correction(CorrectionFailed)
	m.Evicted(1)
	m.ObserveStore("get", time.Millisecond)
}
