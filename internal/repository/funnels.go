package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jmehdipour/drip/internal/model"
	"github.com/jmoiron/sqlx"
)

var (
	// ErrNotFound is returned by deletes that matched no row.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned when a unique key (e.g. funnel step index) is taken.
	ErrDuplicate = errors.New("duplicate")
	// ErrIndexGap is returned when a step index would leave a hole after the last step.
	ErrIndexGap = errors.New("step index beyond end of sequence")
)

const mysqlDupEntry = 1062

func mapDup(err error) error {
	var me *mysql.MySQLError
	if errors.As(err, &me) && me.Number == mysqlDupEntry {
		return ErrDuplicate
	}
	return err
}

// FunnelsRepository is the funnel definition store: funnels and their steps.
// Get methods return (nil, nil) for absent rows.
type FunnelsRepository interface {
	Create(ctx context.Context, f model.Funnel) error
	Get(ctx context.Context, id string) (*model.Funnel, error)
	List(ctx context.Context) ([]model.Funnel, error)
	ListActive(ctx context.Context) ([]model.Funnel, error)
	ListActiveByTrigger(ctx context.Context, trigger string) ([]model.Funnel, error)
	Update(ctx context.Context, f model.Funnel) error
	SetActive(ctx context.Context, id string, active bool) error
	TouchProcessed(ctx context.Context, id string, at time.Time) error
	// Delete removes the funnel together with its steps and enrollments and
	// clears the chain reference of any funnel that pointed at it.
	Delete(ctx context.Context, id string) error

	ListSteps(ctx context.Context, funnelID string) ([]model.Step, error)
	// AddStep stores s; an Index of 0 appends after the current last step.
	// An Index past last+1 fails with ErrIndexGap.
	AddStep(ctx context.Context, s *model.Step) error
	UpdateStep(ctx context.Context, s model.Step) error
	// DeleteStep removes the step and shifts later steps down by one so
	// indices stay 1..n.
	DeleteStep(ctx context.Context, funnelID string, index int) error
}

type FunnelsRepositoryImpl struct {
	db *sqlx.DB
}

func NewFunnelsRepository(db *sqlx.DB) *FunnelsRepositoryImpl {
	return &FunnelsRepositoryImpl{db: db}
}

var _ FunnelsRepository = (*FunnelsRepositoryImpl)(nil)

const funnelColumns = `id, name, description, trigger_kind, active, chain_funnel_id, last_processed_at, created_at, updated_at`

const stepColumns = `id, funnel_id, step_index, subject, body, delay_days, delay_hours,
	cta_url, cta_label, sender_name, sender_email, active, created_at, updated_at`

func (r *FunnelsRepositoryImpl) withTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	t, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = t.Rollback() }()
	if err := fn(t); err != nil {
		return err
	}
	return t.Commit()
}

func (r *FunnelsRepositoryImpl) Create(ctx context.Context, f model.Funnel) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO funnels
		    (id, name, description, trigger_kind, active, chain_funnel_id, created_at, updated_at)
		VALUES
		    (?,  ?,    ?,           ?,            ?,      ?,               ?,          ?)
	`, f.ID, f.Name, f.Description, f.Trigger, f.Active, f.ChainFunnelID, f.CreatedAt, f.UpdatedAt)
	return err
}

func (r *FunnelsRepositoryImpl) Get(ctx context.Context, id string) (*model.Funnel, error) {
	var f model.Funnel
	err := r.db.GetContext(ctx, &f, `SELECT `+funnelColumns+` FROM funnels WHERE id = ? LIMIT 1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func (r *FunnelsRepositoryImpl) List(ctx context.Context) ([]model.Funnel, error) {
	var rows []model.Funnel
	if err := r.db.SelectContext(ctx, &rows, `SELECT `+funnelColumns+` FROM funnels ORDER BY created_at`); err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *FunnelsRepositoryImpl) ListActive(ctx context.Context) ([]model.Funnel, error) {
	var rows []model.Funnel
	if err := r.db.SelectContext(ctx, &rows, `SELECT `+funnelColumns+` FROM funnels WHERE active = 1 ORDER BY created_at`); err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *FunnelsRepositoryImpl) ListActiveByTrigger(ctx context.Context, trigger string) ([]model.Funnel, error) {
	var rows []model.Funnel
	err := r.db.SelectContext(ctx, &rows,
		`SELECT `+funnelColumns+` FROM funnels WHERE active = 1 AND trigger_kind = ? ORDER BY created_at`, trigger)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *FunnelsRepositoryImpl) Update(ctx context.Context, f model.Funnel) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE funnels
		SET name = ?, description = ?, trigger_kind = ?, chain_funnel_id = ?, updated_at = ?
		WHERE id = ?
	`, f.Name, f.Description, f.Trigger, f.ChainFunnelID, f.UpdatedAt, f.ID)
	return err
}

func (r *FunnelsRepositoryImpl) SetActive(ctx context.Context, id string, active bool) error {
	_, err := r.db.ExecContext(ctx, `UPDATE funnels SET active = ?, updated_at = ? WHERE id = ?`,
		active, time.Now().UTC(), id)
	return err
}

func (r *FunnelsRepositoryImpl) TouchProcessed(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE funnels SET last_processed_at = ? WHERE id = ?`, at, id)
	return err
}

// Delete removes children explicitly so the cascade does not depend on FK settings.
func (r *FunnelsRepositoryImpl) Delete(ctx context.Context, id string) error {
	return r.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `UPDATE funnels SET chain_funnel_id = NULL WHERE chain_funnel_id = ?`, id); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM funnel_enrollments WHERE funnel_id = ?`, id); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM funnel_steps WHERE funnel_id = ?`, id); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM funnels WHERE id = ?`, id)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func (r *FunnelsRepositoryImpl) ListSteps(ctx context.Context, funnelID string) ([]model.Step, error) {
	var rows []model.Step
	err := r.db.SelectContext(ctx, &rows,
		`SELECT `+stepColumns+` FROM funnel_steps WHERE funnel_id = ? ORDER BY step_index`, funnelID)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *FunnelsRepositoryImpl) AddStep(ctx context.Context, s *model.Step) error {
	return r.withTx(ctx, func(tx *sqlx.Tx) error {
		var last sql.NullInt64
		err := tx.QueryRowxContext(ctx,
			`SELECT MAX(step_index) FROM funnel_steps WHERE funnel_id = ? FOR UPDATE`, s.FunnelID,
		).Scan(&last)
		if err != nil {
			return err
		}
		switch next := int(last.Int64) + 1; {
		case s.Index <= 0:
			s.Index = next
		case s.Index > next:
			return ErrIndexGap
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO funnel_steps
			    (id, funnel_id, step_index, subject, body, delay_days, delay_hours,
			     cta_url, cta_label, sender_name, sender_email, active, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, s.ID, s.FunnelID, s.Index, s.Subject, s.Body, s.DelayDays, s.DelayHours,
			s.CTAURL, s.CTALabel, s.SenderName, s.SenderEmail, s.Active, s.CreatedAt, s.UpdatedAt)
		return mapDup(err)
	})
}

func (r *FunnelsRepositoryImpl) UpdateStep(ctx context.Context, s model.Step) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE funnel_steps
		SET subject = ?, body = ?, delay_days = ?, delay_hours = ?, cta_url = ?, cta_label = ?,
		    sender_name = ?, sender_email = ?, active = ?, updated_at = ?
		WHERE funnel_id = ? AND step_index = ?
	`, s.Subject, s.Body, s.DelayDays, s.DelayHours, s.CTAURL, s.CTALabel,
		s.SenderName, s.SenderEmail, s.Active, s.UpdatedAt, s.FunnelID, s.Index)
	return err
}

// DeleteStep renumbers in ascending order so each row moves into a slot
// that is already free under uq_steps_funnel_index.
func (r *FunnelsRepositoryImpl) DeleteStep(ctx context.Context, funnelID string, index int) error {
	return r.withTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM funnel_steps WHERE funnel_id = ? AND step_index = ?`, funnelID, index)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE funnel_steps SET step_index = step_index - 1
			WHERE funnel_id = ? AND step_index > ?
			ORDER BY step_index
		`, funnelID, index)
		return err
	})
}
