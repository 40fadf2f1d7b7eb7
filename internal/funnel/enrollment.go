package funnel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmehdipour/drip/internal/metrics"
	"github.com/jmehdipour/drip/internal/model"
	"github.com/jmehdipour/drip/internal/repository"
	"github.com/jmehdipour/drip/internal/util"
	"go.uber.org/zap"
)

// EnrollResult tallies one Enroll call.
type EnrollResult struct {
	Enrolled        int `json:"enrolled"`
	AlreadyEnrolled int `json:"already_enrolled"`
	Invalid         int `json:"invalid"`
}

func (r *EnrollResult) add(o EnrollResult) {
	r.Enrolled += o.Enrolled
	r.AlreadyEnrolled += o.AlreadyEnrolled
	r.Invalid += o.Invalid
}

// Manager owns enrollment state transitions: enroll, advance, unsubscribe.
type Manager struct {
	funnels     repository.FunnelsRepository
	enrollments repository.EnrollmentsRepository
	contacts    repository.ContactsRepository
	log         *zap.Logger

	Now func() time.Time
}

func NewManager(
	funnels repository.FunnelsRepository,
	enrollments repository.EnrollmentsRepository,
	contacts repository.ContactsRepository,
	log *zap.Logger,
) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{funnels: funnels, enrollments: enrollments, contacts: contacts, log: log, Now: time.Now}
}

// Enroll inserts each recipient at step 0. Existing (funnel, address) pairs
// are left alone and counted as AlreadyEnrolled.
func (m *Manager) Enroll(ctx context.Context, funnelID string, recipients []model.Recipient) (EnrollResult, error) {
	var res EnrollResult

	f, err := m.funnels.Get(ctx, funnelID)
	if err != nil {
		return res, fmt.Errorf("load funnel: %w", err)
	}
	if f == nil {
		return res, ErrFunnelNotFound
	}

	now := m.Now().UTC()
	for _, r := range recipients {
		addr := util.NormalizeEmail(r.Email)
		if !util.ValidEmail(addr) {
			res.Invalid++
			metrics.EnrollmentsTotal.WithLabelValues("invalid").Inc()
			continue
		}

		created, err := m.enrollments.Insert(ctx, model.Enrollment{
			ID:        util.NewID(),
			FunnelID:  funnelID,
			Email:     addr,
			Name:      r.Name,
			Status:    model.EnrollmentActive,
			CreatedAt: now,
			UpdatedAt: now,
		})
		if err != nil {
			return res, fmt.Errorf("enroll %s: %w", addr, err)
		}
		if created {
			res.Enrolled++
			metrics.EnrollmentsTotal.WithLabelValues("enrolled").Inc()
		} else {
			res.AlreadyEnrolled++
			metrics.EnrollmentsTotal.WithLabelValues("duplicate").Inc()
		}
	}

	m.log.Info("enrolled recipients",
		zap.String("funnel_id", funnelID),
		zap.Int("enrolled", res.Enrolled),
		zap.Int("already_enrolled", res.AlreadyEnrolled),
		zap.Int("invalid", res.Invalid),
	)
	return res, nil
}

// EnrollFilter resolves the filter against recorded contacts and enrolls the result.
func (m *Manager) EnrollFilter(ctx context.Context, funnelID string, f model.RecipientFilter) (EnrollResult, error) {
	if m.contacts == nil {
		return EnrollResult{}, fmt.Errorf("%w: no recipient source configured", ErrInvalid)
	}
	recips, err := m.contacts.Resolve(ctx, f)
	if errors.Is(err, repository.ErrBadFilter) {
		return EnrollResult{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err != nil {
		return EnrollResult{}, fmt.Errorf("resolve recipients: %w", err)
	}
	return m.Enroll(ctx, funnelID, recips)
}

// Advance moves e one step forward after a confirmed send, completing it
// when the new position reaches totalSteps. It commits only while the claim
// identified by token still holds.
func (m *Manager) Advance(ctx context.Context, e model.Enrollment, totalSteps int, token string) error {
	status := model.EnrollmentActive
	if e.CurrentStep+1 >= totalSteps {
		status = model.EnrollmentCompleted
	}
	ok, err := m.enrollments.Advance(ctx, e.ID, e.CurrentStep, token, status, m.Now().UTC())
	if err != nil {
		return fmt.Errorf("advance enrollment %s: %w", e.ID, err)
	}
	if !ok {
		return ErrClaimLost
	}
	return nil
}

// Unsubscribe marks the recipient's enrollment terminal. Reports false when
// there was nothing to change.
func (m *Manager) Unsubscribe(ctx context.Context, funnelID, email string) (bool, error) {
	addr := util.NormalizeEmail(email)
	if !util.ValidEmail(addr) {
		return false, fmt.Errorf("%w: email %q", ErrInvalid, email)
	}
	ok, err := m.enrollments.Unsubscribe(ctx, funnelID, addr, m.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("unsubscribe: %w", err)
	}
	if ok {
		m.log.Info("unsubscribed", zap.String("funnel_id", funnelID), zap.String("email", addr))
	}
	return ok, nil
}
