package worker

import (
	"context"
	"time"

	"github.com/jmehdipour/drip/internal/funnel"
	"go.uber.org/zap"
)

// Runner is satisfied by *funnel.Orchestrator.
type Runner interface {
	RunAll(ctx context.Context) (funnel.Summary, error)
}

// Ticker is the external periodic trigger: it calls RunAll once at start
// and then every Interval. Passes never overlap within one process.
type Ticker struct {
	runner   Runner
	interval time.Duration
	log      *zap.Logger
}

func NewTicker(runner Runner, interval time.Duration, log *zap.Logger) *Ticker {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Ticker{runner: runner, interval: interval, log: log}
}

func (t *Ticker) Run(ctx context.Context) error {
	tick := time.NewTicker(t.interval)
	defer tick.Stop()

	for {
		if _, err := t.runner.RunAll(ctx); err != nil && ctx.Err() == nil {
			t.log.Error("scheduled run failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-tick.C:
		}
	}
}
