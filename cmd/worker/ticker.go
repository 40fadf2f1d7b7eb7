package worker

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmehdipour/drip/internal/app"
	"github.com/jmehdipour/drip/internal/worker"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var tickerInterval time.Duration

var tickerCmd = &cobra.Command{
	Use:   "ticker",
	Short: "Run a processing pass over all active funnels on a fixed interval",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := app.Bootstrap(ctx, configPath(cmd))
		if err != nil {
			return err
		}
		defer a.Close()

		interval := a.Cfg.Scheduler.Interval
		if tickerInterval > 0 {
			interval = tickerInterval
		}
		a.Log.Info("ticker started", zap.Duration("interval", interval))
		return worker.NewTicker(a.Orchestrator, interval, a.Log).Run(ctx)
	},
}

func init() {
	tickerCmd.Flags().DurationVar(&tickerInterval, "interval", 0, "override scheduler.interval")
}
