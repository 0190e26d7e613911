package generate

import (
	"net/http"
	"testing"
	"time"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func TestTraffic_AllPatterns(t *testing.T) {
	for _, p := range []string{PatternSteady, PatternBurst, PatternRamp} {
		t.Run(p, func(t *testing.T) {
			records, err := Traffic(&Options{
				Count:     32,
				Users:     3,
				Anonymous: 2,
				Duration:  2 * time.Minute,
				Pattern:   p,
				Start:     epoch,
				Seed:      7,
			})
			if err != nil {
				t.Fatalf("Traffic() error = %v", err)
			}
			if len(records) != 32 {
				t.Fatalf("len(records) = %d, want 32", len(records))
			}
			for _, rec := range records {
				if rec.Path == "" || rec.Method == "" || rec.Status == 0 {
					t.Fatalf("incomplete record: %+v", rec)
				}
				if (rec.UserID == "") == (rec.RemoteAddr == "") {
					t.Fatalf("record should carry exactly one identity: %+v", rec)
				}
				if rec.Timestamp.Before(epoch) || rec.Timestamp.After(epoch.Add(2*time.Minute)) {
					t.Fatalf("timestamp %v outside the span", rec.Timestamp)
				}
			}
		})
	}
}

func TestTraffic_SteadyInterval(t *testing.T) {
	records, err := Traffic(&Options{Count: 10, Users: 2, Duration: 10 * time.Second, Start: epoch, Seed: 1})
	if err != nil {
		t.Fatalf("Traffic() error = %v", err)
	}
	if !records[1].Timestamp.Equal(epoch.Add(time.Second)) {
		t.Fatalf("records[1].Timestamp = %v, want %v", records[1].Timestamp, epoch.Add(time.Second))
	}
}

func TestTraffic_SeedIsDeterministic(t *testing.T) {
	opts := Options{Count: 20, Users: 3, Anonymous: 3, Duration: time.Minute, Pattern: PatternBurst, Start: epoch, Seed: 42, FailureRate: 0.5}
	a, _ := Traffic(&opts)
	b, _ := Traffic(&opts)
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("record %d differs: %+v vs %+v", i, a[i], b[i])
		}
	}
}

func TestTraffic_FailureRate(t *testing.T) {
	routes := []Route{{http.MethodPost, "/api/auth/login"}}

	all, err := Traffic(&Options{Count: 50, Users: 1, Duration: time.Minute, Start: epoch, Seed: 3, Routes: routes, FailureRate: 1})
	if err != nil {
		t.Fatalf("Traffic() error = %v", err)
	}
	for _, rec := range all {
		if rec.Status != http.StatusUnauthorized {
			t.Fatalf("status = %d, want 401 on failed logins", rec.Status)
		}
	}

	none, _ := Traffic(&Options{Count: 50, Users: 1, Duration: time.Minute, Start: epoch, Seed: 3, Routes: routes})
	for _, rec := range none {
		if rec.Status != http.StatusOK {
			t.Fatalf("status = %d, want 200 with no failures", rec.Status)
		}
	}
}

func TestTraffic_InvalidOptions(t *testing.T) {
	tests := []struct {
		name string
		opts *Options
	}{
		{"nil", nil},
		{"zero count", &Options{Count: 0, Users: 1, Duration: time.Minute}},
		{"no clients", &Options{Count: 1, Duration: time.Minute}},
		{"negative users", &Options{Count: 1, Users: -1, Anonymous: 2, Duration: time.Minute}},
		{"zero duration", &Options{Count: 1, Users: 1}},
		{"failure rate", &Options{Count: 1, Users: 1, Duration: time.Minute, FailureRate: 1.5}},
		{"pattern", &Options{Count: 1, Users: 1, Duration: time.Minute, Pattern: "zigzag"}},
	}
	for _, tt := range tests {
		if _, err := Traffic(tt.opts); err == nil {
			t.Errorf("%s: expected error", tt.name)
		}
	}
}
