package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/SmitUplenchwar2687/Tollgate/internal/admission"
	"github.com/SmitUplenchwar2687/Tollgate/internal/clock"
	"github.com/SmitUplenchwar2687/Tollgate/internal/policy"
	"github.com/SmitUplenchwar2687/Tollgate/internal/store"
)

func newSimulateCmd(configPath *string) *cobra.Command {
	var (
		path        string
		method      string
		requests    int
		clients     []string
		status      int
		fastForward time.Duration
		outputJSON  bool
	)

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Replay a burst of requests against a policy on a virtual clock",
		Long: `Runs admission checks against an in-process store driven by a virtual
clock, so window resets can be observed without waiting.

A batch of requests is sent for every client, the clock is optionally
fast-forwarded, and a second batch shows how the window resets. Every
admitted request is settled with --status, so the counting rules of the
selected policy apply.`,
		Example: `  tollgate simulate --path /api/auth/login --requests 8
  tollgate simulate --path /api/upload --clients alice,bob --fast-forward 1h
  tollgate simulate --path /api/auth/login --status 200 --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if requests < 1 {
				return fmt.Errorf("--requests must be at least 1, got %d", requests)
			}
			if status < 100 || status > 599 {
				return fmt.Errorf("--status must be an HTTP status code, got %d", status)
			}
			if len(clients) == 0 {
				clients = []string{"sim-user"}
			}

			cfg, err := loadConfig(cmd, *configPath, nil)
			if err != nil {
				return err
			}
			selector, err := buildSelector(cfg)
			if err != nil {
				return err
			}

			vc := clock.NewVirtualClock(time.Now().UTC().Truncate(time.Second))
			st := store.NewMemoryStore(vc)
			defer st.Close()

			guard, err := admission.New(admission.Options{
				Selector: selector,
				Store:    st,
				Clock:    vc,
			})
			if err != nil {
				return err
			}

			result := runSimulation(cmd.Context(), vc, guard, simulation{
				path:        path,
				method:      method,
				clients:     clients,
				requests:    requests,
				status:      status,
				fastForward: fastForward,
			})

			out := cmd.OutOrStdout()
			if outputJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(result)
			}
			printSimulation(out, &result)
			return nil
		},
	}

	cmd.Flags().StringVar(&path, "path", "/api/resource", "request path, used to select the policy")
	cmd.Flags().StringVar(&method, "method", http.MethodGet, "request method")
	cmd.Flags().IntVar(&requests, "requests", 10, "requests to send per client per batch")
	cmd.Flags().StringSliceVar(&clients, "clients", nil, "comma-separated user ids to send as")
	cmd.Flags().IntVar(&status, "status", http.StatusOK, "response status every admitted request is settled with")
	cmd.Flags().DurationVar(&fastForward, "fast-forward", 0, "time to fast-forward between batches")
	cmd.Flags().BoolVar(&outputJSON, "json", false, "output results as JSON")

	return cmd
}

type simulation struct {
	path        string
	method      string
	clients     []string
	requests    int
	status      int
	fastForward time.Duration
}

// SimulationResult captures the full output of a simulate run.
type SimulationResult struct {
	Path        string             `json:"path"`
	Policy      policy.Policy      `json:"policy"`
	Status      int                `json:"status"`
	FastForward string             `json:"fast_forward,omitempty"`
	Batches     []BatchResult      `json:"batches"`
	Summary     map[string]Summary `json:"summary"`
}

// BatchResult captures the decisions of one batch.
type BatchResult struct {
	Label     string           `json:"label"`
	Time      string           `json:"time"`
	Decisions []DecisionRecord `json:"decisions"`
}

// DecisionRecord is a single admission decision.
type DecisionRecord struct {
	Client     string `json:"client"`
	Allowed    bool   `json:"allowed"`
	Remaining  int    `json:"remaining"`
	Limit      int    `json:"limit"`
	ResetTime  string `json:"reset_time"`
	RetryAfter string `json:"retry_after,omitempty"`
}

// Summary aggregates decisions per client.
type Summary struct {
	TotalRequests int `json:"total_requests"`
	Allowed       int `json:"allowed"`
	Denied        int `json:"denied"`
}

func runSimulation(ctx context.Context, vc *clock.VirtualClock, g *admission.Guard, sim simulation) SimulationResult {
	result := SimulationResult{
		Path:    sim.path,
		Policy:  g.Selector().Select(sim.path),
		Status:  sim.status,
		Summary: make(map[string]Summary),
	}

	batch := func(label string) BatchResult {
		b := BatchResult{Label: label, Time: vc.Now().Format(time.RFC3339)}
		for i := 0; i < sim.requests; i++ {
			for _, client := range sim.clients {
				res := g.Evaluate(ctx, admission.Request{
					Path:   sim.path,
					Method: sim.method,
					UserID: client,
				})
				rec := DecisionRecord{
					Client:    client,
					Allowed:   res.Allowed,
					Remaining: res.Remaining(),
					Limit:     res.Policy.MaxRequests,
					ResetTime: res.ResetAt.Format(time.RFC3339),
				}
				s := result.Summary[client]
				s.TotalRequests++
				if res.Allowed {
					s.Allowed++
					g.Settle(ctx, res, sim.status)
				} else {
					s.Denied++
					rec.RetryAfter = res.Header.Get(admission.HeaderRetryAfter) + "s"
				}
				result.Summary[client] = s
				b.Decisions = append(b.Decisions, rec)
			}
		}
		return b
	}

	result.Batches = append(result.Batches, batch("Initial requests"))

	if sim.fastForward > 0 {
		vc.Advance(sim.fastForward)
		result.FastForward = sim.fastForward.String()
		result.Batches = append(result.Batches, batch(fmt.Sprintf("After fast-forward %s", sim.fastForward)))
	}

	return result
}

func printSimulation(w io.Writer, r *SimulationResult) {
	p := r.Policy
	fmt.Fprintln(w, "=== Tollgate Admission Simulation ===")
	fmt.Fprintf(w, "path=%s policy=%s limit=%d/%s settle-status=%d\n\n",
		r.Path, p.Name, p.MaxRequests, p.Window, r.Status)

	for _, batch := range r.Batches {
		fmt.Fprintf(w, "--- %s (at %s) ---\n", batch.Label, batch.Time)
		for i, d := range batch.Decisions {
			state := "ALLOW"
			if !d.Allowed {
				state = "DENY "
			}
			line := fmt.Sprintf("  #%03d [%s] client=%s remaining=%d/%d",
				i+1, state, d.Client, d.Remaining, d.Limit)
			if d.RetryAfter != "" {
				line += " retry-after=" + d.RetryAfter
			}
			fmt.Fprintln(w, line)
		}
		fmt.Fprintln(w)
	}

	fmt.Fprintln(w, "--- Summary ---")
	clients := make([]string, 0, len(r.Summary))
	for c := range r.Summary {
		clients = append(clients, c)
	}
	sort.Strings(clients)
	for _, c := range clients {
		s := r.Summary[c]
		fmt.Fprintf(w, "  %s: %d total, %d allowed, %d denied\n", c, s.TotalRequests, s.Allowed, s.Denied)
	}

	if r.FastForward == "" || len(r.Batches) < 2 {
		return
	}
	fmt.Fprintf(w, "\nTime travel: fast-forwarded %s\n", r.FastForward)

	denied, recovered := false, false
	for _, d := range r.Batches[0].Decisions {
		denied = denied || !d.Allowed
	}
	for _, d := range r.Batches[1].Decisions {
		recovered = recovered || d.Allowed
	}
	if denied && recovered {
		fmt.Fprintln(w)
		fmt.Fprintln(w, strings.Repeat("=", 50))
		fmt.Fprintln(w, "The window reset: requests were denied, then")
		fmt.Fprintln(w, "admitted again after fast-forwarding the clock.")
		fmt.Fprintln(w, strings.Repeat("=", 50))
	}
}
