package funnel

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmehdipour/drip/internal/model"
	"github.com/jmehdipour/drip/internal/repository"
	"github.com/jmehdipour/drip/internal/util"
)

// FunnelInput carries operator-editable funnel fields. Nil pointers are
// left unchanged on update.
type FunnelInput struct {
	Name          *string
	Description   *string
	Trigger       *string
	ChainFunnelID *string // "" clears the chain
}

// StepInput carries operator-editable step fields. Nil pointers take the
// default on create and are left unchanged on update.
type StepInput struct {
	Index       int
	Subject     *string
	Body        *string
	DelayDays   *int
	DelayHours  *int
	CTAURL      *string
	CTALabel    *string
	SenderName  *string
	SenderEmail *string
	Active      *bool
}

// Service is the authoring side: funnel and step CRUD.
type Service struct {
	funnels repository.FunnelsRepository

	Now func() time.Time
}

func NewService(funnels repository.FunnelsRepository) *Service {
	return &Service{funnels: funnels, Now: time.Now}
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

func (s *Service) CreateFunnel(ctx context.Context, in FunnelInput) (model.Funnel, error) {
	now := s.Now().UTC()
	f := model.Funnel{ID: util.NewID(), Trigger: model.TriggerManual, CreatedAt: now, UpdatedAt: now}
	if err := s.apply(ctx, &f, in); err != nil {
		return model.Funnel{}, err
	}
	if f.Name == "" {
		return model.Funnel{}, invalid("name is required")
	}
	if err := s.funnels.Create(ctx, f); err != nil {
		return model.Funnel{}, fmt.Errorf("create funnel: %w", err)
	}
	return f, nil
}

func (s *Service) apply(ctx context.Context, f *model.Funnel, in FunnelInput) error {
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if name == "" {
			return invalid("name is required")
		}
		f.Name = name
	}
	if in.Description != nil {
		f.Description = strings.TrimSpace(*in.Description)
	}
	if in.Trigger != nil {
		t, ok := model.ParseTrigger(*in.Trigger)
		if !ok {
			return invalid("trigger %q: want manual or event:<type>", *in.Trigger)
		}
		f.Trigger = t
	}
	if in.ChainFunnelID != nil {
		next := strings.TrimSpace(*in.ChainFunnelID)
		if next == "" {
			f.ChainFunnelID = nil
			return nil
		}
		if next == f.ID {
			return invalid("a funnel cannot chain to itself")
		}
		target, err := s.funnels.Get(ctx, next)
		if err != nil {
			return fmt.Errorf("load chained funnel: %w", err)
		}
		if target == nil {
			return invalid("chained funnel %s does not exist", next)
		}
		f.ChainFunnelID = &next
	}
	return nil
}

func (s *Service) GetFunnel(ctx context.Context, id string) (model.Funnel, error) {
	f, err := s.funnels.Get(ctx, id)
	if err != nil {
		return model.Funnel{}, fmt.Errorf("load funnel: %w", err)
	}
	if f == nil {
		return model.Funnel{}, ErrFunnelNotFound
	}
	return *f, nil
}

func (s *Service) ListFunnels(ctx context.Context) ([]model.Funnel, error) {
	return s.funnels.List(ctx)
}

func (s *Service) UpdateFunnel(ctx context.Context, id string, in FunnelInput) (model.Funnel, error) {
	f, err := s.GetFunnel(ctx, id)
	if err != nil {
		return f, err
	}
	if err := s.apply(ctx, &f, in); err != nil {
		return model.Funnel{}, err
	}
	f.UpdatedAt = s.Now().UTC()
	if err := s.funnels.Update(ctx, f); err != nil {
		return model.Funnel{}, fmt.Errorf("update funnel: %w", err)
	}
	return f, nil
}

func (s *Service) SetActive(ctx context.Context, id string, active bool) (model.Funnel, error) {
	f, err := s.GetFunnel(ctx, id)
	if err != nil {
		return f, err
	}
	if err := s.funnels.SetActive(ctx, id, active); err != nil {
		return model.Funnel{}, fmt.Errorf("set active: %w", err)
	}
	f.Active = active
	return f, nil
}

func (s *Service) DeleteFunnel(ctx context.Context, id string) error {
	err := s.funnels.Delete(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return ErrFunnelNotFound
	}
	return err
}

func (s *Service) ListSteps(ctx context.Context, funnelID string) ([]model.Step, error) {
	if _, err := s.GetFunnel(ctx, funnelID); err != nil {
		return nil, err
	}
	return s.funnels.ListSteps(ctx, funnelID)
}

// AddStep appends a step, or places it at in.Index when that is positive.
// A positive index must be free and at most one past the last step.
func (s *Service) AddStep(ctx context.Context, funnelID string, in StepInput) (model.Step, error) {
	if _, err := s.GetFunnel(ctx, funnelID); err != nil {
		return model.Step{}, err
	}
	now := s.Now().UTC()
	st := model.Step{ID: util.NewID(), FunnelID: funnelID, Index: in.Index, Active: true, CreatedAt: now, UpdatedAt: now}
	if err := applyStep(&st, in); err != nil {
		return model.Step{}, err
	}
	if st.Subject == "" || st.Body == "" {
		return model.Step{}, invalid("subject and body are required")
	}

	err := s.funnels.AddStep(ctx, &st)
	switch {
	case errors.Is(err, repository.ErrDuplicate):
		return model.Step{}, invalid("step index %d already exists", in.Index)
	case errors.Is(err, repository.ErrIndexGap):
		return model.Step{}, invalid("step index %d would leave a gap", in.Index)
	case err != nil:
		return model.Step{}, fmt.Errorf("add step: %w", err)
	}
	return st, nil
}

func (s *Service) UpdateStep(ctx context.Context, funnelID string, index int, in StepInput) (model.Step, error) {
	steps, err := s.ListSteps(ctx, funnelID)
	if err != nil {
		return model.Step{}, err
	}
	var st *model.Step
	for i := range steps {
		if steps[i].Index == index {
			st = &steps[i]
			break
		}
	}
	if st == nil {
		return model.Step{}, ErrStepNotFound
	}
	if err := applyStep(st, in); err != nil {
		return model.Step{}, err
	}
	st.UpdatedAt = s.Now().UTC()
	if err := s.funnels.UpdateStep(ctx, *st); err != nil {
		return model.Step{}, fmt.Errorf("update step: %w", err)
	}
	return *st, nil
}

func (s *Service) DeleteStep(ctx context.Context, funnelID string, index int) error {
	if _, err := s.GetFunnel(ctx, funnelID); err != nil {
		return err
	}
	err := s.funnels.DeleteStep(ctx, funnelID, index)
	if errors.Is(err, repository.ErrNotFound) {
		return ErrStepNotFound
	}
	return err
}

func applyStep(st *model.Step, in StepInput) error {
	if in.Subject != nil {
		st.Subject = strings.TrimSpace(*in.Subject)
	}
	if in.Body != nil {
		st.Body = *in.Body
	}
	if in.DelayDays != nil {
		if *in.DelayDays < 0 {
			return invalid("delay_days must be >= 0")
		}
		st.DelayDays = *in.DelayDays
	}
	if in.DelayHours != nil {
		if *in.DelayHours < 0 {
			return invalid("delay_hours must be >= 0")
		}
		st.DelayHours = *in.DelayHours
	}
	if in.CTAURL != nil {
		st.CTAURL = strings.TrimSpace(*in.CTAURL)
	}
	if in.CTALabel != nil {
		st.CTALabel = strings.TrimSpace(*in.CTALabel)
	}
	if in.SenderName != nil {
		st.SenderName = strings.TrimSpace(*in.SenderName)
	}
	if in.SenderEmail != nil {
		addr := util.NormalizeEmail(*in.SenderEmail)
		if addr != "" && !util.ValidEmail(addr) {
			return invalid("sender_email %q", *in.SenderEmail)
		}
		st.SenderEmail = addr
	}
	if in.Active != nil {
		st.Active = *in.Active
	}
	return nil
}
