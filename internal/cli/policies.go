package cli

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newPoliciesCmd(configPath *string) *cobra.Command {
	var outputJSON bool

	cmd := &cobra.Command{
		Use:   "policies",
		Short: "Print the effective quota policies and route rules",
		Example: `  tollgate policies
  tollgate policies -c tollgate.yaml --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, *configPath, nil)
			if err != nil {
				return err
			}
			selector, err := buildSelector(cfg)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if outputJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(map[string]any{
					"policies": selector.Registry().All(),
					"routes":   selector.Rules(),
				})
			}

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "POLICY\tWINDOW\tMAX\tCOUNT SUCCESS\tCOUNT FAILURE\tMESSAGE")
			for _, p := range selector.Registry().All() {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%t\t%t\t%s\n",
					p.Name, p.Window, p.MaxRequests, p.CountSuccessResponses, p.CountFailureResponses, p.Message)
			}
			fmt.Fprintln(tw)
			fmt.Fprintln(tw, "ROUTE MATCHES\tPOLICY")
			for _, r := range selector.Rules() {
				fmt.Fprintf(tw, "%s\t%s\n", strings.Join(r.Contains, ","), r.Policy)
			}
			fmt.Fprintf(tw, "(anything else)\t%s\n", selector.Select("/").Name)
			return tw.Flush()
		},
	}

	cmd.Flags().BoolVar(&outputJSON, "json", false, "output as JSON")
	return cmd
}
