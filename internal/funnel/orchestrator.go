package funnel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmehdipour/drip/internal/lock"
	"github.com/jmehdipour/drip/internal/metrics"
	"github.com/jmehdipour/drip/internal/model"
	"github.com/jmehdipour/drip/internal/repository"
	"github.com/jmehdipour/drip/internal/util"
	"go.uber.org/zap"
)

// FunnelError is a per-funnel failure collected during RunAll.
type FunnelError struct {
	FunnelID string `json:"funnel_id"`
	Error    string `json:"error"`
}

// Summary aggregates a pass over every active funnel.
type Summary struct {
	Processed int           `json:"processed"`
	Skipped   int           `json:"skipped"`
	Locked    int           `json:"locked"`
	Sent      int           `json:"sent"`
	Failed    int           `json:"failed"`
	Chained   int           `json:"chained"`
	Results   []Result      `json:"results"`
	Errors    []FunnelError `json:"errors,omitempty"`
}

// Orchestrator runs the Processor over funnels, one at a time, holding the
// optional per-funnel run lock and sweeping chains after each pass.
type Orchestrator struct {
	funnels   repository.FunnelsRepository
	processor *Processor
	chain     *ChainSweeper
	locker    lock.Locker
	lockTTL   time.Duration
	log       *zap.Logger
}

func NewOrchestrator(
	funnels repository.FunnelsRepository,
	processor *Processor,
	chain *ChainSweeper,
	locker lock.Locker,
	lockTTL time.Duration,
	log *zap.Logger,
) *Orchestrator {
	if locker == nil {
		locker = lock.Nop{}
	}
	if lockTTL <= 0 {
		lockTTL = 10 * time.Minute
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Orchestrator{funnels: funnels, processor: processor, chain: chain, locker: locker, lockTTL: lockTTL, log: log}
}

// RunAll processes every active funnel. Only failing to list funnels aborts
// the pass; per-funnel errors are collected in the Summary.
func (o *Orchestrator) RunAll(ctx context.Context) (Summary, error) {
	var sum Summary

	funnels, err := o.funnels.ListActive(ctx)
	if err != nil {
		metrics.PassesTotal.WithLabelValues("error").Inc()
		return sum, fmt.Errorf("list active funnels: %w", err)
	}

	for _, f := range funnels {
		if ctx.Err() != nil {
			return sum, ctx.Err()
		}
		res, err := o.runFunnel(ctx, f)
		switch {
		case errors.Is(err, ErrLocked):
			sum.Locked++
			continue
		case err != nil:
			o.log.Error("funnel pass failed", zap.String("funnel_id", f.ID), zap.Error(err))
			sum.Errors = append(sum.Errors, FunnelError{FunnelID: f.ID, Error: err.Error()})
		}

		sum.Results = append(sum.Results, res)
		sum.Sent += res.Sent
		sum.Failed += res.Failed
		sum.Chained += res.Chained
		if res.Skipped {
			sum.Skipped++
		} else if err == nil {
			sum.Processed++
		}
	}

	o.log.Info("run finished",
		zap.Int("funnels", len(funnels)),
		zap.Int("processed", sum.Processed),
		zap.Int("sent", sum.Sent),
		zap.Int("failed", sum.Failed),
		zap.Int("errors", len(sum.Errors)),
	)
	return sum, nil
}

// Run processes a single funnel, e.g. on an operator's manual trigger.
func (o *Orchestrator) Run(ctx context.Context, funnelID string) (Result, error) {
	f, err := o.funnels.Get(ctx, funnelID)
	if err != nil {
		return Result{FunnelID: funnelID}, fmt.Errorf("load funnel: %w", err)
	}
	if f == nil {
		return Result{FunnelID: funnelID}, ErrFunnelNotFound
	}
	return o.runFunnel(ctx, *f)
}

func (o *Orchestrator) runFunnel(ctx context.Context, f model.Funnel) (Result, error) {
	key := "funnel:" + f.ID
	token := util.NewID()
	switch err := o.locker.Acquire(ctx, key, token, o.lockTTL); {
	case errors.Is(err, lock.ErrNotHeld):
		metrics.PassesTotal.WithLabelValues("locked").Inc()
		o.log.Info("funnel locked elsewhere, skipping", zap.String("funnel_id", f.ID))
		return Result{FunnelID: f.ID, Skipped: true, Reason: ReasonLocked}, ErrLocked
	case err != nil:
		// Claims keep the pass safe without the lock.
		o.log.Warn("funnel lock unavailable, running unlocked", zap.String("funnel_id", f.ID), zap.Error(err))
	default:
		defer func() {
			if err := o.locker.Release(context.WithoutCancel(ctx), key, token); err != nil {
				o.log.Warn("release funnel lock", zap.String("funnel_id", f.ID), zap.Error(err))
			}
		}()
	}

	start := time.Now()
	res, err := o.processor.ProcessFunnel(ctx, f)
	metrics.PassDuration.Observe(time.Since(start).Seconds())
	switch {
	case err != nil:
		metrics.PassesTotal.WithLabelValues("error").Inc()
		return res, err
	case res.Skipped:
		metrics.PassesTotal.WithLabelValues("skipped").Inc()
	default:
		metrics.PassesTotal.WithLabelValues("processed").Inc()
	}

	if o.chain != nil {
		n, err := o.chain.Sweep(ctx, f)
		res.Chained = n
		if err != nil {
			return res, fmt.Errorf("chain sweep: %w", err)
		}
	}
	return res, nil
}
