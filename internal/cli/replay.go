package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/SmitUplenchwar2687/Tollgate/internal/admission"
	"github.com/SmitUplenchwar2687/Tollgate/internal/clock"
	"github.com/SmitUplenchwar2687/Tollgate/internal/replay"
	"github.com/SmitUplenchwar2687/Tollgate/internal/store"
)

func newReplayCmd(configPath *string) *cobra.Command {
	var (
		file       string
		speed      float64
		clients    []string
		paths      []string
		methods    []string
		outputJSON bool
	)

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay recorded traffic through the configured policies",
		Long: `Replays traffic captured with "tollgate serve --record" through the
policies of the current configuration, on a virtual clock and an in-process
store. Admitted requests are settled with the status they were answered
with when recorded.

Speed: 0 = instant, 1 = real-time, 10 = 10x, 100 = 100x`,
		Example: `  tollgate replay --file traffic.ndjson
  tollgate replay --file traffic.ndjson -c stricter.yaml --paths /api/auth
  tollgate replay --file traffic.ndjson --clients user:alice --speed 100
  tollgate replay --file traffic.ndjson --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				return fmt.Errorf("--file is required")
			}
			f, err := os.Open(file)
			if err != nil {
				return fmt.Errorf("opening file: %w", err)
			}
			defer f.Close()

			cfg, err := loadConfig(cmd, *configPath, nil)
			if err != nil {
				return err
			}
			selector, err := buildSelector(cfg)
			if err != nil {
				return err
			}

			vc := clock.NewVirtualClock(time.Time{})
			st := store.NewMemoryStore(vc)
			defer st.Close()
			guard, err := admission.New(admission.Options{Selector: selector, Store: st, Clock: vc})
			if err != nil {
				return err
			}

			r := replay.New(guard, vc, speed, replay.Filter{
				Clients: clients,
				Paths:   paths,
				Methods: methods,
			})
			if err := r.Load(f); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if !outputJSON {
				fmt.Fprintf(out, "Replaying %s at %.0fx speed...\n\n", file, speed)
			}

			var results []replay.Result
			summary, err := r.Run(cmd.Context(), func(res replay.Result) {
				if outputJSON {
					results = append(results, res)
					return
				}
				state := "ALLOW"
				if !res.Allowed {
					state = "DENY "
				}
				fmt.Fprintf(out, "  [%s] %s %s %s client=%s policy=%s remaining=%d/%d\n",
					state,
					res.Record.Timestamp.Format("15:04:05"),
					res.Record.Method,
					res.Record.Path,
					res.Client,
					res.Policy,
					res.Remaining,
					res.Limit)
			})
			if err != nil {
				return err
			}

			if outputJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(map[string]any{
					"results": results,
					"summary": summary,
				})
			}

			fmt.Fprintln(out)
			fmt.Fprintln(out, "--- Replay Summary ---")
			fmt.Fprintf(out, "  Total records:  %d\n", summary.TotalRecords)
			fmt.Fprintf(out, "  Filtered:       %d\n", summary.Filtered)
			fmt.Fprintf(out, "  Replayed:       %d\n", summary.Replayed)
			fmt.Fprintf(out, "  Allowed:        %d\n", summary.Allowed)
			fmt.Fprintf(out, "  Denied:         %d\n", summary.Denied)
			fmt.Fprintf(out, "  Virtual time:   %s\n", summary.Duration)
			fmt.Fprintf(out, "  Wall time:      %s\n", summary.WallDuration.Round(time.Millisecond))

			printCounts(out, "Per policy", summary.PerPolicy)
			if len(summary.PerClient) > 1 {
				printCounts(out, "Per client", summary.PerClient)
			}

			if summary.Denied > 0 && summary.Allowed > 0 {
				fmt.Fprintln(out)
				fmt.Fprintln(out, strings.Repeat("=", 50))
				denyRate := float64(summary.Denied) / float64(summary.Replayed) * 100
				fmt.Fprintf(out, "Deny rate: %.1f%% (%d/%d requests denied)\n", denyRate, summary.Denied, summary.Replayed)
				fmt.Fprintln(out, strings.Repeat("=", 50))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "path to recorded traffic, JSON array or NDJSON (required)")
	cmd.Flags().Float64Var(&speed, "speed", 0, "replay speed (0=instant, 1=real-time, 10=10x)")
	cmd.Flags().StringSliceVar(&clients, "clients", nil, "filter by client key, e.g. user:alice,ip:203.0.113.9")
	cmd.Flags().StringSliceVar(&paths, "paths", nil, "filter by path substring (comma-separated)")
	cmd.Flags().StringSliceVar(&methods, "methods", nil, "filter by HTTP method (comma-separated)")
	cmd.Flags().BoolVar(&outputJSON, "json", false, "output results as JSON")

	return cmd
}

func printCounts(w io.Writer, title string, counts map[string]replay.Counts) {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fmt.Fprintf(w, "\n  %s:\n", title)
	for _, k := range keys {
		fmt.Fprintf(w, "    %s: %d allowed, %d denied\n", k, counts[k].Allowed, counts[k].Denied)
	}
}
