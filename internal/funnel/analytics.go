package funnel

import (
	"context"
	"fmt"

	"github.com/jmehdipour/drip/internal/model"
	"github.com/jmehdipour/drip/internal/repository"
)

// Analytics is the read path for an operator console.
type Analytics struct {
	funnels     repository.FunnelsRepository
	enrollments repository.EnrollmentsRepository
	attempts    repository.CHAttemptsRepository // nil when ClickHouse is not configured
}

func NewAnalytics(
	funnels repository.FunnelsRepository,
	enrollments repository.EnrollmentsRepository,
	attempts repository.CHAttemptsRepository,
) *Analytics {
	return &Analytics{funnels: funnels, enrollments: enrollments, attempts: attempts}
}

func (a *Analytics) Stats(ctx context.Context, funnelID string) (model.FunnelStats, error) {
	if err := a.exists(ctx, funnelID); err != nil {
		return model.FunnelStats{}, err
	}
	st, err := a.enrollments.Stats(ctx, funnelID)
	if err != nil {
		return st, fmt.Errorf("stats: %w", err)
	}
	return st, nil
}

func (a *Analytics) Attempts(ctx context.Context, funnelID string, outcome model.AttemptOutcome, limit, offset int) ([]model.SendAttempt, error) {
	if a.attempts == nil {
		return nil, ErrAnalyticsDisabled
	}
	if outcome != "" && !outcome.Valid() {
		return nil, fmt.Errorf("%w: outcome %q", ErrInvalid, outcome)
	}
	if err := a.exists(ctx, funnelID); err != nil {
		return nil, err
	}
	rows, err := a.attempts.ListByFunnel(ctx, funnelID, outcome, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	return rows, nil
}

func (a *Analytics) exists(ctx context.Context, funnelID string) error {
	f, err := a.funnels.Get(ctx, funnelID)
	if err != nil {
		return fmt.Errorf("load funnel: %w", err)
	}
	if f == nil {
		return ErrFunnelNotFound
	}
	return nil
}
