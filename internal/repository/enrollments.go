package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmehdipour/drip/internal/model"
	"github.com/jmoiron/sqlx"
)

// EnrollmentsRepository persists per-recipient funnel progress.
//
// Claim and Advance form a compare-and-swap pair: a pass claims the
// enrollment at its current step before sending, and Advance only commits
// while that claim and step still hold. Both report false when they lose.
type EnrollmentsRepository interface {
	// Insert creates e unless (funnel_id, email) already exists; reports whether a row was created.
	Insert(ctx context.Context, e model.Enrollment) (bool, error)
	Get(ctx context.Context, id string) (*model.Enrollment, error)
	GetByEmail(ctx context.Context, funnelID, email string) (*model.Enrollment, error)
	ListActive(ctx context.Context, funnelID string) ([]model.Enrollment, error)

	Claim(ctx context.Context, id string, step int, token string, now, until time.Time) (bool, error)
	Advance(ctx context.Context, id string, fromStep int, token string, status model.EnrollmentStatus, now time.Time) (bool, error)
	Release(ctx context.Context, id, token string) error
	MarkCompleted(ctx context.Context, id string, now time.Time) error
	Unsubscribe(ctx context.Context, funnelID, email string, now time.Time) (bool, error)

	ListUnchained(ctx context.Context, funnelID string, limit int) ([]model.Enrollment, error)
	MarkChained(ctx context.Context, id string, at time.Time) error

	Stats(ctx context.Context, funnelID string) (model.FunnelStats, error)
}

type EnrollmentsRepositoryImpl struct {
	db *sqlx.DB
}

func NewEnrollmentsRepository(db *sqlx.DB) *EnrollmentsRepositoryImpl {
	return &EnrollmentsRepositoryImpl{db: db}
}

var _ EnrollmentsRepository = (*EnrollmentsRepositoryImpl)(nil)

const enrollmentColumns = `id, funnel_id, email, name, current_step, last_sent_at, sent_count, status,
	claim_token, claimed_until, chained_at, created_at, updated_at`

// Insert relies on uq_enrollments_funnel_email; a duplicate affects 0 rows.
func (r *EnrollmentsRepositoryImpl) Insert(ctx context.Context, e model.Enrollment) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO funnel_enrollments
		    (id, funnel_id, email, name, current_step, sent_count, status, created_at, updated_at)
		VALUES
		    (?,  ?,         ?,     ?,    0,            0,          'active', ?,        ?)
		ON DUPLICATE KEY UPDATE id = id
	`, e.ID, e.FunnelID, e.Email, e.Name, e.CreatedAt, e.UpdatedAt)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *EnrollmentsRepositoryImpl) get(ctx context.Context, q string, args ...any) (*model.Enrollment, error) {
	var e model.Enrollment
	err := r.db.GetContext(ctx, &e, q, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *EnrollmentsRepositoryImpl) Get(ctx context.Context, id string) (*model.Enrollment, error) {
	return r.get(ctx, `SELECT `+enrollmentColumns+` FROM funnel_enrollments WHERE id = ? LIMIT 1`, id)
}

func (r *EnrollmentsRepositoryImpl) GetByEmail(ctx context.Context, funnelID, email string) (*model.Enrollment, error) {
	return r.get(ctx,
		`SELECT `+enrollmentColumns+` FROM funnel_enrollments WHERE funnel_id = ? AND email = ? LIMIT 1`,
		funnelID, email)
}

func (r *EnrollmentsRepositoryImpl) ListActive(ctx context.Context, funnelID string) ([]model.Enrollment, error) {
	var rows []model.Enrollment
	err := r.db.SelectContext(ctx, &rows,
		`SELECT `+enrollmentColumns+` FROM funnel_enrollments WHERE funnel_id = ? AND status = 'active'`, funnelID)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *EnrollmentsRepositoryImpl) Claim(ctx context.Context, id string, step int, token string, now, until time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE funnel_enrollments
		SET claim_token = ?, claimed_until = ?, updated_at = ?
		WHERE id = ? AND status = 'active' AND current_step = ?
		  AND (claimed_until IS NULL OR claimed_until < ?)
	`, token, until, now, id, step, now)
	return affectedOne(res, err)
}

func (r *EnrollmentsRepositoryImpl) Advance(ctx context.Context, id string, fromStep int, token string, status model.EnrollmentStatus, now time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE funnel_enrollments
		SET current_step = ?, sent_count = sent_count + 1, last_sent_at = ?, status = ?,
		    claim_token = NULL, claimed_until = NULL, updated_at = ?
		WHERE id = ? AND status = 'active' AND current_step = ? AND claim_token = ?
	`, fromStep+1, now, status.String(), now, id, fromStep, token)
	return affectedOne(res, err)
}

func (r *EnrollmentsRepositoryImpl) Release(ctx context.Context, id, token string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE funnel_enrollments
		SET claim_token = NULL, claimed_until = NULL
		WHERE id = ? AND claim_token = ?
	`, id, token)
	return err
}

func (r *EnrollmentsRepositoryImpl) MarkCompleted(ctx context.Context, id string, now time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE funnel_enrollments SET status = 'completed', updated_at = ?
		WHERE id = ? AND status = 'active'
	`, now, id)
	return err
}

func (r *EnrollmentsRepositoryImpl) Unsubscribe(ctx context.Context, funnelID, email string, now time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE funnel_enrollments
		SET status = 'unsubscribed', claim_token = NULL, claimed_until = NULL, updated_at = ?
		WHERE funnel_id = ? AND email = ? AND status <> 'unsubscribed'
	`, now, funnelID, email)
	return affectedOne(res, err)
}

func (r *EnrollmentsRepositoryImpl) ListUnchained(ctx context.Context, funnelID string, limit int) ([]model.Enrollment, error) {
	if limit <= 0 || limit > 1000 {
		limit = 500
	}
	var rows []model.Enrollment
	err := r.db.SelectContext(ctx, &rows, `
		SELECT `+enrollmentColumns+`
		FROM funnel_enrollments
		WHERE funnel_id = ? AND status = 'completed' AND chained_at IS NULL
		ORDER BY updated_at
		LIMIT ?
	`, funnelID, limit)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *EnrollmentsRepositoryImpl) MarkChained(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE funnel_enrollments SET chained_at = ? WHERE id = ? AND chained_at IS NULL`, at, id)
	return err
}

type statusCount struct {
	Status string `db:"status"`
	Count  int    `db:"cnt"`
	Sent   int    `db:"sent"`
}

type stepCount struct {
	Step  int `db:"current_step"`
	Count int `db:"cnt"`
}

func (r *EnrollmentsRepositoryImpl) Stats(ctx context.Context, funnelID string) (model.FunnelStats, error) {
	st := model.FunnelStats{FunnelID: funnelID, ByStep: map[int]int{}}

	var counts []statusCount
	if err := r.db.SelectContext(ctx, &counts, `
		SELECT status, COUNT(*) AS cnt, COALESCE(SUM(sent_count), 0) AS sent
		FROM funnel_enrollments
		WHERE funnel_id = ?
		GROUP BY status
	`, funnelID); err != nil {
		return st, err
	}
	for _, c := range counts {
		st.Add(model.EnrollmentStatus(c.Status), c.Count, c.Sent)
	}

	var steps []stepCount
	if err := r.db.SelectContext(ctx, &steps, `
		SELECT current_step, COUNT(*) AS cnt
		FROM funnel_enrollments
		WHERE funnel_id = ? AND status = 'active'
		GROUP BY current_step
	`, funnelID); err != nil {
		return st, err
	}
	for _, s := range steps {
		st.ByStep[s.Step] = s.Count
	}
	return st, nil
}

func affectedOne(res sql.Result, err error) (bool, error) {
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
