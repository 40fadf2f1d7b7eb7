package funnel

import (
	"context"
	"fmt"
	"time"

	"github.com/jmehdipour/drip/internal/model"
	"github.com/jmehdipour/drip/internal/repository"
	"go.uber.org/zap"
)

// ChainSweeper hands recipients who completed a funnel to its chained
// successor. Enroll is idempotent, so a crash between enrolling and marking
// only repeats a no-op.
type ChainSweeper struct {
	enrollments repository.EnrollmentsRepository
	manager     *Manager
	log         *zap.Logger
	batch       int

	Now func() time.Time
}

func NewChainSweeper(enrollments repository.EnrollmentsRepository, manager *Manager, log *zap.Logger, batch int) *ChainSweeper {
	if log == nil {
		log = zap.NewNop()
	}
	if batch <= 0 {
		batch = 500
	}
	return &ChainSweeper{enrollments: enrollments, manager: manager, log: log, batch: batch, Now: time.Now}
}

// Sweep returns how many completed enrollments of f were handed over.
func (c *ChainSweeper) Sweep(ctx context.Context, f model.Funnel) (int, error) {
	if f.ChainFunnelID == nil || *f.ChainFunnelID == "" {
		return 0, nil
	}
	next := *f.ChainFunnelID

	total := 0
	for {
		rows, err := c.enrollments.ListUnchained(ctx, f.ID, c.batch)
		if err != nil {
			return total, fmt.Errorf("list completed: %w", err)
		}
		if len(rows) == 0 {
			return total, nil
		}

		recips := make([]model.Recipient, 0, len(rows))
		for _, e := range rows {
			recips = append(recips, model.Recipient{Email: e.Email, Name: e.Name})
		}
		res, err := c.manager.Enroll(ctx, next, recips)
		if err != nil {
			return total, fmt.Errorf("enroll into chained funnel %s: %w", next, err)
		}

		now := c.Now().UTC()
		for _, e := range rows {
			if err := c.enrollments.MarkChained(ctx, e.ID, now); err != nil {
				return total, fmt.Errorf("mark chained %s: %w", e.ID, err)
			}
			total++
		}
		c.log.Info("chained completed enrollments",
			zap.String("funnel_id", f.ID),
			zap.String("next_funnel_id", next),
			zap.Int("handed_over", len(rows)),
			zap.Int("enrolled", res.Enrolled),
		)

		if len(rows) < c.batch {
			return total, nil
		}
	}
}
