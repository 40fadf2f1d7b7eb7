package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmehdipour/drip/internal/app"
	httpSrv "github.com/jmehdipour/drip/internal/http"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var seedDemo bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := app.Bootstrap(ctx, cfgPath)
		if err != nil {
			return err
		}
		defer a.Close()

		if seedDemo {
			if err := a.SeedDemo(ctx); err != nil {
				return err
			}
		}

		server := httpSrv.NewServer(a.Cfg, httpSrv.Deps{
			Service:      a.Service,
			Manager:      a.Manager,
			Orchestrator: a.Orchestrator,
			Analytics:    a.Analytics,
			Redis:        a.Redis,
			Log:          a.Log,
		})

		errCh := make(chan error, 1)
		go func() {
			a.Log.Info("starting http", zap.String("addr", a.Cfg.HTTP.Addr))
			errCh <- server.Start(a.Cfg.HTTP.Addr)
		}()

		select {
		case <-ctx.Done():
			a.Log.Info("signal received, shutting down")
		case err := <-errCh:
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.Log.Error("http server exited", zap.Error(err))
			}
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return nil
	},
}

func init() {
	serveCmd.Flags().BoolVar(&seedDemo, "seed-demo", false, "install demo funnels and contacts before serving")
}
