package cli

import (
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root tollgate command.
func NewRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "tollgate",
		Short: "Request admission and rate limiting gateway",
		Long: `Tollgate admits or rejects HTTP requests against named fixed-window
quota policies, keyed by authenticated user or client address, with counters
kept in process or shared through Redis.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")

	root.AddCommand(
		newServeCmd(&configPath),
		newPoliciesCmd(&configPath),
		newCountersCmd(&configPath),
		newSimulateCmd(&configPath),
		newReplayCmd(&configPath),
		newGenerateCmd(),
		newConfigCmd(&configPath),
	)

	return root
}
