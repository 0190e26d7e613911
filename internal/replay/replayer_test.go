package replay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/SmitUplenchwar2687/Tollgate/internal/admission"
	"github.com/SmitUplenchwar2687/Tollgate/internal/clock"
	"github.com/SmitUplenchwar2687/Tollgate/internal/policy"
	"github.com/SmitUplenchwar2687/Tollgate/internal/recorder"
	"github.com/SmitUplenchwar2687/Tollgate/internal/store"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func newReplayer(t *testing.T, filter Filter, policies ...policy.Policy) *Replayer {
	t.Helper()
	if len(policies) == 0 {
		policies = policy.Defaults()
	}
	reg, err := policy.NewRegistry(policies...)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	vc := clock.NewVirtualClock(time.Unix(0, 0))
	g, err := admission.New(admission.Options{
		Selector: policy.NewSelector(reg),
		Store:    store.NewMemoryStore(vc),
		Clock:    vc,
	})
	if err != nil {
		t.Fatalf("admission.New() error = %v", err)
	}
	return New(g, vc, 0, filter)
}

func makeRecords(count int, user, path string, status int, interval time.Duration) []recorder.TrafficRecord {
	records := make([]recorder.TrafficRecord, count)
	for i := range records {
		records[i] = recorder.TrafficRecord{
			Timestamp: epoch.Add(time.Duration(i) * interval),
			Method:    http.MethodPost,
			Path:      path,
			UserID:    user,
			Status:    status,
		}
	}
	return records
}

func TestReplayer_FailedLoginsHitTheLimit(t *testing.T) {
	r := newReplayer(t, Filter{})
	r.LoadRecords(makeRecords(8, "alice", "/api/auth/login", http.StatusUnauthorized, time.Second))

	var results []Result
	summary, err := r.Run(context.Background(), func(res Result) {
		results = append(results, res)
	})
	if err != nil {
		t.Fatal(err)
	}

	if summary.Replayed != 8 || summary.Allowed != 5 || summary.Denied != 3 {
		t.Errorf("summary = %+v, want 8 replayed, 5 allowed, 3 denied", summary)
	}
	if len(results) != 8 {
		t.Fatalf("got %d results, want 8", len(results))
	}
	if results[0].Policy != policy.Auth || results[0].Client != "user:alice" || results[0].Remaining != 4 {
		t.Errorf("results[0] = %+v", results[0])
	}
	if !results[7].Time.Equal(epoch.Add(7 * time.Second)) {
		t.Errorf("virtual time = %v, want %v", results[7].Time, epoch.Add(7*time.Second))
	}
	if summary.Duration != 7*time.Second {
		t.Errorf("Duration = %v, want 7s", summary.Duration)
	}
}

func TestReplayer_RecordedSuccessesAreSettled(t *testing.T) {
	r := newReplayer(t, Filter{})
	r.LoadRecords(makeRecords(20, "alice", "/api/auth/login", http.StatusOK, time.Second))

	summary, err := r.Run(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if summary.Allowed != 20 {
		t.Errorf("Allowed = %d, want 20 (successful logins are not counted)", summary.Allowed)
	}
}

func TestReplayer_WindowResetsBetweenGaps(t *testing.T) {
	r := newReplayer(t, Filter{})

	records := makeRecords(5, "alice", "/api/auth/login", http.StatusUnauthorized, time.Second)
	later := makeRecords(5, "alice", "/api/auth/login", http.StatusUnauthorized, time.Second)
	for i := range later {
		later[i].Timestamp = later[i].Timestamp.Add(16 * time.Minute)
	}
	r.LoadRecords(append(records, later...))

	summary, err := r.Run(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if summary.Allowed != 10 {
		t.Errorf("Allowed = %d, want 10 (clock should pass the window reset)", summary.Allowed)
	}
}

func TestReplayer_PolicyOverrideChangesOutcome(t *testing.T) {
	strict := policy.Defaults()
	for i := range strict {
		if strict[i].Name == policy.Auth {
			strict[i].MaxRequests = 2
		}
	}
	r := newReplayer(t, Filter{}, strict...)
	r.LoadRecords(makeRecords(5, "alice", "/api/auth/login", http.StatusUnauthorized, time.Second))

	summary, err := r.Run(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if summary.Allowed != 2 || summary.Denied != 3 {
		t.Errorf("summary = %+v, want 2 allowed, 3 denied", summary)
	}
}

func TestReplayer_PerClientAndPolicySummary(t *testing.T) {
	r := newReplayer(t, Filter{})

	records := append(
		makeRecords(12, "alice", "/admin/settings", http.StatusOK, time.Second),
		makeRecords(12, "bob", "/admin/settings", http.StatusOK, time.Second)...,
	)
	r.LoadRecords(records)

	summary, err := r.Run(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}

	for _, c := range []string{"user:alice", "user:bob"} {
		if got := summary.PerClient[c]; got.Allowed != 10 || got.Denied != 2 {
			t.Errorf("%s: %+v, want 10/2", c, got)
		}
	}
	if got := summary.PerPolicy[policy.Critical]; got.Allowed != 20 || got.Denied != 4 {
		t.Errorf("critical: %+v, want 20/4", got)
	}
}

func TestReplayer_Filter(t *testing.T) {
	r := newReplayer(t, Filter{Clients: []string{"user:alice"}})
	r.LoadRecords(append(
		makeRecords(5, "alice", "/api/data", http.StatusOK, time.Second),
		makeRecords(5, "bob", "/api/data", http.StatusOK, time.Second)...,
	))

	summary, err := r.Run(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if summary.TotalRecords != 10 || summary.Filtered != 5 || summary.Replayed != 5 {
		t.Errorf("summary = %+v, want 10 total, 5 filtered, 5 replayed", summary)
	}
}

func TestReplayer_FilterMatchesNothing(t *testing.T) {
	r := newReplayer(t, Filter{Paths: []string{"/nowhere"}})
	r.LoadRecords(makeRecords(3, "alice", "/api/data", http.StatusOK, time.Second))

	summary, err := r.Run(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if summary.Filtered != 0 || summary.Replayed != 0 {
		t.Errorf("summary = %+v", summary)
	}
}

func TestReplayer_Load_FromJSON(t *testing.T) {
	r := newReplayer(t, Filter{})

	data, _ := json.Marshal(makeRecords(3, "alice", "/api/data", http.StatusOK, time.Second))
	if err := r.Load(bytes.NewReader(data)); err != nil {
		t.Fatal(err)
	}

	summary, err := r.Run(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if summary.Replayed != 3 {
		t.Errorf("Replayed = %d, want 3", summary.Replayed)
	}
}

func TestReplayer_EmptyRecords(t *testing.T) {
	r := newReplayer(t, Filter{})
	if _, err := r.Run(context.Background(), nil); err == nil {
		t.Error("expected error for empty records")
	}
}

func TestReplayer_ContextCancellation(t *testing.T) {
	r := newReplayer(t, Filter{})
	r.LoadRecords(makeRecords(1000, "alice", "/api/data", http.StatusOK, time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	count := 0
	summary, err := r.Run(ctx, func(res Result) {
		count++
		if count >= 5 {
			cancel()
		}
	})

	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if summary.Replayed != 5 {
		t.Errorf("Replayed = %d, want 5", summary.Replayed)
	}
}

func TestReplayer_SortsRecords(t *testing.T) {
	r := newReplayer(t, Filter{})
	r.LoadRecords([]recorder.TrafficRecord{
		{Timestamp: epoch.Add(2 * time.Second), UserID: "u1", Path: "/c"},
		{Timestamp: epoch, UserID: "u1", Path: "/a"},
		{Timestamp: epoch.Add(time.Second), UserID: "u1", Path: "/b"},
	})

	var order []string
	if _, err := r.Run(context.Background(), func(res Result) {
		order = append(order, res.Record.Path)
	}); err != nil {
		t.Fatal(err)
	}

	if len(order) != 3 || order[0] != "/a" || order[1] != "/b" || order[2] != "/c" {
		t.Errorf("records not sorted, got %v", order)
	}
}
