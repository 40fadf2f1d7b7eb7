package cmd

import (
	"fmt"

	"github.com/jmehdipour/drip/internal/app"
	"github.com/jmehdipour/drip/internal/model"
	"github.com/spf13/cobra"
)

var (
	enrollFunnelID string
	enrollFilter   string
	enrollDays     int
	enrollSource   string
	enrollOffering string
)

var enrollCmd = &cobra.Command{
	Use:   "enroll",
	Short: "Enroll recorded contacts into a funnel by filter",
	RunE: func(cmd *cobra.Command, args []string) error {
		if enrollFunnelID == "" {
			return fmt.Errorf("--funnel is required")
		}
		kind, ok := model.ParseFilterKind(enrollFilter)
		if !ok {
			return fmt.Errorf("unknown filter %q", enrollFilter)
		}
		a, err := app.Bootstrap(cmd.Context(), cfgPath)
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.Manager.EnrollFilter(cmd.Context(), enrollFunnelID, model.RecipientFilter{
			Kind:     kind,
			Days:     enrollDays,
			Source:   enrollSource,
			Offering: enrollOffering,
		})
		if err != nil {
			return err
		}
		return printJSON(cmd, res)
	},
}

func init() {
	f := enrollCmd.Flags()
	f.StringVar(&enrollFunnelID, "funnel", "", "funnel id")
	f.StringVar(&enrollFilter, "filter", "all", "all | opted_in | recent | source | offering")
	f.IntVar(&enrollDays, "days", 0, "window for the recent filter")
	f.StringVar(&enrollSource, "source", "", "contact source for the source filter")
	f.StringVar(&enrollOffering, "offering", "", "offering for the offering filter")
}
