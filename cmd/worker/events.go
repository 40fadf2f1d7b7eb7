package worker

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/jmehdipour/drip/internal/app"
	"github.com/jmehdipour/drip/internal/kafka"
	"github.com/jmehdipour/drip/internal/worker"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Consume funnel trigger events from Kafka and enroll recipients",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := app.Bootstrap(ctx, configPath(cmd))
		if err != nil {
			return err
		}
		defer a.Close()

		kc := kafka.FromConfig(a.Cfg.Kafka)
		consumer := kafka.NewConsumer(kc)
		defer consumer.Close()

		a.Log.Info("events worker started",
			zap.Strings("brokers", kc.Brokers),
			zap.String("topic", kc.Topic),
			zap.String("group", kc.GroupID),
		)
		return worker.NewEventsWorker(consumer, a.Funnels, a.Manager, a.Log).Run(ctx)
	},
}
