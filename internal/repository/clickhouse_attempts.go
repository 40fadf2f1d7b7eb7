package repository

import (
	"context"
	"fmt"

	"github.com/jmehdipour/drip/internal/model"
	"github.com/jmoiron/sqlx"
)

// CHAttemptsRepository stores and lists send attempts in ClickHouse.
type CHAttemptsRepository interface {
	InsertBatch(ctx context.Context, rows []model.SendAttempt) error
	ListByFunnel(ctx context.Context, funnelID string, outcome model.AttemptOutcome, limit, offset int) ([]model.SendAttempt, error)
}

type chAttemptsRepository struct {
	ch *sqlx.DB // ClickHouse connection
}

func NewCHAttemptsRepository(ch *sqlx.DB) CHAttemptsRepository {
	return &chAttemptsRepository{ch: ch}
}

// InsertBatch uses the clickhouse-go std batch protocol: prepare inside a tx,
// exec per row, commit sends the block.
func (r *chAttemptsRepository) InsertBatch(ctx context.Context, rows []model.SendAttempt) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := r.ch.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin batch: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PreparexContext(ctx, `
		INSERT INTO send_attempts
		    (funnel_id, enrollment_id, email, step_index, message_id, outcome, error, attempted_at)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}
	defer stmt.Close()

	for _, a := range rows {
		if _, err := stmt.ExecContext(ctx,
			a.FunnelID, a.EnrollmentID, a.Email, uint32(a.StepIndex), a.MessageID, a.Outcome.String(), a.Error, a.AttemptedAt,
		); err != nil {
			return fmt.Errorf("append attempt: %w", err)
		}
	}
	return tx.Commit()
}

func (r *chAttemptsRepository) ListByFunnel(ctx context.Context, funnelID string, outcome model.AttemptOutcome, limit, offset int) ([]model.SendAttempt, error) {
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	q := `
		SELECT funnel_id, enrollment_id, email, toInt64(step_index) AS step_index, message_id, outcome, error, attempted_at
		FROM send_attempts
		WHERE funnel_id = ?
	`
	args := []any{funnelID}

	if outcome != "" {
		q += " AND outcome = ?"
		args = append(args, outcome.String())
	}

	q += " ORDER BY attempted_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	var rows []model.SendAttempt
	if err := r.ch.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, err
	}
	return rows, nil
}
