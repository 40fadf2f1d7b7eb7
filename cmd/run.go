package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/jmehdipour/drip/internal/app"
	"github.com/spf13/cobra"
)

var (
	runAll      bool
	runFunnelID string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Process due steps once, for one funnel or all active funnels",
	RunE: func(cmd *cobra.Command, args []string) error {
		if runAll == (runFunnelID != "") {
			return fmt.Errorf("exactly one of --all or --funnel is required")
		}
		a, err := app.Bootstrap(cmd.Context(), cfgPath)
		if err != nil {
			return err
		}
		defer a.Close()

		var out any
		if runAll {
			out, err = a.Orchestrator.RunAll(cmd.Context())
		} else {
			out, err = a.Orchestrator.Run(cmd.Context(), runFunnelID)
		}
		if err != nil {
			return err
		}
		return printJSON(cmd, out)
	},
}

func init() {
	runCmd.Flags().BoolVar(&runAll, "all", false, "process every active funnel")
	runCmd.Flags().StringVar(&runFunnelID, "funnel", "", "process a single funnel by id")
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
