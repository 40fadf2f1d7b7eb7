package cmd

import (
	"github.com/jmehdipour/drip/internal/app"
	"github.com/spf13/cobra"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed demo funnels, contacts and purchases",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := app.Bootstrap(cmd.Context(), cfgPath)
		if err != nil {
			return err
		}
		defer a.Close()
		return a.SeedDemo(cmd.Context())
	},
}
