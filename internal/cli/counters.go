package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/SmitUplenchwar2687/Tollgate/internal/admin"
	"github.com/SmitUplenchwar2687/Tollgate/internal/clock"
	"github.com/SmitUplenchwar2687/Tollgate/internal/store"
)

func newCountersCmd(configPath *string) *cobra.Command {
	var opts overrideOptions

	cmd := &cobra.Command{
		Use:   "counters",
		Short: "Inspect or reset live counters in the configured store",
		Long: `Operates directly on the configured counter store. Counters of the
in-process store live inside a running server, so these commands are only
useful with a shared Redis store.`,
	}

	openService := func(cmd *cobra.Command) (*admin.Service, func(), error) {
		cfg, err := loadConfig(cmd, *configPath, &opts)
		if err != nil {
			return nil, nil, err
		}
		if cfg.StoreConfig().Backend() == store.BackendMemory {
			fmt.Fprintln(cmd.ErrOrStderr(), "note: no redis url configured, using an empty in-process store")
		}
		clk := clock.NewRealClock()
		sc := cfg.StoreConfig()
		// An operator command against a dead Redis should say so.
		sc.RequirePing = true
		st, err := store.Open(cmd.Context(), sc, clk)
		if err != nil {
			return nil, nil, err
		}
		return admin.NewService(st, clk), func() { st.Close() }, nil
	}

	var (
		prefix     string
		outputJSON bool
	)
	listCmd := &cobra.Command{
		Use:     "list",
		Short:   "List live counters",
		Example: `  tollgate counters list --redis-url redis://localhost:6379 --prefix auth:`,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, closeFn, err := openService(cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			stats, err := svc.ListCounters(cmd.Context(), prefix)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if outputJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(stats)
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "KEY\tCOUNT\tTTL")
			for _, s := range stats {
				fmt.Fprintf(tw, "%s\t%d\t%ds\n", s.Key, s.Count, s.TTLSeconds)
			}
			return tw.Flush()
		},
	}
	opts.addStoreFlags(listCmd)
	listCmd.Flags().StringVar(&prefix, "prefix", "", "only list counters whose key starts with prefix")
	listCmd.Flags().BoolVar(&outputJSON, "json", false, "output as JSON")

	var all bool
	clearCmd := &cobra.Command{
		Use:   "clear [key]",
		Short: "Reset one counter, or all of them with --all",
		Example: `  tollgate counters clear auth:ip:203.0.113.9
  tollgate counters clear --all`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if all == (len(args) == 1) {
				return errors.New("pass exactly one of: a counter key, --all")
			}
			svc, closeFn, err := openService(cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			if all {
				if err := svc.ClearAllCounters(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "cleared all counters")
				return nil
			}
			if err := svc.ClearCounter(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cleared %s\n", args[0])
			return nil
		},
	}
	opts.addStoreFlags(clearCmd)
	clearCmd.Flags().BoolVar(&all, "all", false, "reset every counter")

	cmd.AddCommand(listCmd, clearCmd)
	return cmd
}
