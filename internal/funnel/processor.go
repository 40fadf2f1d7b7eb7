package funnel

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jmehdipour/drip/internal/dispatcher"
	"github.com/jmehdipour/drip/internal/metrics"
	"github.com/jmehdipour/drip/internal/model"
	"github.com/jmehdipour/drip/internal/render"
	"github.com/jmehdipour/drip/internal/repository"
	"github.com/jmehdipour/drip/internal/util"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Skip reasons reported in Result.Reason.
const (
	ReasonInactive = "inactive"
	ReasonNoSteps  = "no_steps"
	ReasonLocked   = "locked"
)

// Gateway transmits one message. Any error is a delivery failure.
type Gateway interface {
	Send(ctx context.Context, m dispatcher.Message) error
}

// AttemptRecorder receives every delivery attempt for the send log.
type AttemptRecorder interface {
	Record(a model.SendAttempt)
}

type NopRecorder struct{}

func (NopRecorder) Record(model.SendAttempt) {}

// Result summarizes one funnel pass.
type Result struct {
	FunnelID      string `json:"funnel_id"`
	Skipped       bool   `json:"skipped"`
	Reason        string `json:"reason,omitempty"`
	Sent          int    `json:"sent"`
	Failed        int    `json:"failed"`
	Completed     int    `json:"completed"`
	Blocked       int    `json:"blocked"`
	NotDue        int    `json:"not_due"`
	Contended     int    `json:"contended"`
	AdvanceErrors int    `json:"advance_errors"`
	StoreErrors   int    `json:"store_errors"`
	Chained       int    `json:"chained"`
}

type tally struct {
	sent, failed, completed, blocked, notDue, contended, advanceErrs, storeErrs atomic.Int64
}

func (t *tally) into(r *Result) {
	r.Sent = int(t.sent.Load())
	r.Failed = int(t.failed.Load())
	r.Completed = int(t.completed.Load())
	r.Blocked = int(t.blocked.Load())
	r.NotDue = int(t.notDue.Load())
	r.Contended = int(t.contended.Load())
	r.AdvanceErrors = int(t.advanceErrs.Load())
	r.StoreErrors = int(t.storeErrs.Load())
}

// ProcessorOpts tune a Processor; zero values fall back to defaults.
type ProcessorOpts struct {
	Workers         int
	ClaimTTL        time.Duration
	MessageIDDomain string
	SenderName      string
	SenderEmail     string
}

// Processor runs one pass over a funnel: every active enrollment whose next
// step is due gets exactly one message and one step of progress.
type Processor struct {
	funnels     repository.FunnelsRepository
	enrollments repository.EnrollmentsRepository
	manager     *Manager
	gateway     Gateway
	recorder    AttemptRecorder
	log         *zap.Logger
	opts        ProcessorOpts

	Now func() time.Time
}

func NewProcessor(
	funnels repository.FunnelsRepository,
	enrollments repository.EnrollmentsRepository,
	manager *Manager,
	gateway Gateway,
	recorder AttemptRecorder,
	log *zap.Logger,
	opts ProcessorOpts,
) *Processor {
	if log == nil {
		log = zap.NewNop()
	}
	if recorder == nil {
		recorder = NopRecorder{}
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.ClaimTTL <= 0 {
		opts.ClaimTTL = 5 * time.Minute
	}
	return &Processor{
		funnels:     funnels,
		enrollments: enrollments,
		manager:     manager,
		gateway:     gateway,
		recorder:    recorder,
		log:         log,
		opts:        opts,
		Now:         time.Now,
	}
}

// Process loads the funnel by id and runs a pass over it.
func (p *Processor) Process(ctx context.Context, funnelID string) (Result, error) {
	f, err := p.funnels.Get(ctx, funnelID)
	if err != nil {
		return Result{FunnelID: funnelID}, fmt.Errorf("load funnel: %w", err)
	}
	if f == nil {
		return Result{FunnelID: funnelID}, ErrFunnelNotFound
	}
	return p.ProcessFunnel(ctx, *f)
}

// ProcessFunnel runs a pass over f. Missing configuration yields a skipped
// Result, not an error; per-enrollment failures are counted, never returned.
func (p *Processor) ProcessFunnel(ctx context.Context, f model.Funnel) (Result, error) {
	res := Result{FunnelID: f.ID}
	if !f.Active {
		res.Skipped, res.Reason = true, ReasonInactive
		return res, nil
	}

	steps, err := p.funnels.ListSteps(ctx, f.ID)
	if err != nil {
		return res, fmt.Errorf("load steps: %w", err)
	}
	if !hasActive(steps) {
		res.Skipped, res.Reason = true, ReasonNoSteps
		return res, nil
	}

	enrollments, err := p.enrollments.ListActive(ctx, f.ID)
	if err != nil {
		return res, fmt.Errorf("load enrollments: %w", err)
	}

	now := p.Now().UTC()
	var t tally
	var g errgroup.Group
	g.SetLimit(p.opts.Workers)
	for i := range enrollments {
		if ctx.Err() != nil {
			break
		}
		e := enrollments[i]
		g.Go(func() error {
			p.handle(ctx, f, steps, e, now, &t)
			return nil
		})
	}
	_ = g.Wait()
	t.into(&res)

	if err := p.funnels.TouchProcessed(ctx, f.ID, p.Now().UTC()); err != nil {
		p.log.Warn("record last processed", zap.String("funnel_id", f.ID), zap.Error(err))
	}

	p.log.Info("funnel pass finished",
		zap.String("funnel_id", f.ID),
		zap.Int("enrollments", len(enrollments)),
		zap.Int("sent", res.Sent),
		zap.Int("failed", res.Failed),
		zap.Int("completed", res.Completed),
		zap.Int("contended", res.Contended),
		zap.Int("advance_errors", res.AdvanceErrors),
	)
	return res, ctx.Err()
}

func hasActive(steps []model.Step) bool {
	for _, s := range steps {
		if s.Active {
			return true
		}
	}
	return false
}

func (p *Processor) handle(ctx context.Context, f model.Funnel, steps []model.Step, e model.Enrollment, now time.Time, t *tally) {
	log := p.log.With(zap.String("funnel_id", f.ID), zap.String("email", e.Email), zap.Int("step", e.CurrentStep))

	if e.CurrentStep >= len(steps) {
		if err := p.enrollments.MarkCompleted(ctx, e.ID, now); err != nil {
			log.Warn("mark completed", zap.Error(err))
			t.storeErrs.Add(1)
			return
		}
		t.completed.Add(1)
		return
	}

	step := steps[e.CurrentStep]
	if !step.Active {
		t.blocked.Add(1)
		return
	}
	if !due(e, step, now) {
		t.notDue.Add(1)
		return
	}

	out := render.Render(render.Input{
		Subject:  step.Subject,
		Body:     step.Body,
		Name:     e.DisplayName(),
		CTAURL:   step.CTAURL,
		CTALabel: step.CTALabel,
	})

	token := util.NewID()
	claimed, err := p.enrollments.Claim(ctx, e.ID, e.CurrentStep, token, now, now.Add(p.opts.ClaimTTL))
	if err != nil {
		log.Warn("claim enrollment", zap.Error(err))
		t.storeErrs.Add(1)
		return
	}
	if !claimed {
		t.contended.Add(1)
		return
	}

	msg := p.message(f, step, e, out)
	attempt := model.SendAttempt{
		FunnelID:     f.ID,
		EnrollmentID: e.ID,
		Email:        e.Email,
		StepIndex:    step.Index,
		MessageID:    msg.MessageID,
	}

	if err := p.gateway.Send(ctx, msg); err != nil {
		if rerr := p.enrollments.Release(context.WithoutCancel(ctx), e.ID, token); rerr != nil {
			log.Warn("release claim", zap.Error(rerr))
		}
		t.failed.Add(1)
		metrics.MessagesTotal.WithLabelValues(model.AttemptFailed.String()).Inc()
		log.Warn("delivery failed", zap.Int("step_index", step.Index), zap.Error(err))

		attempt.Outcome, attempt.Error, attempt.AttemptedAt = model.AttemptFailed, err.Error(), p.Now().UTC()
		p.recorder.Record(attempt)
		return
	}

	t.sent.Add(1)
	metrics.MessagesTotal.WithLabelValues(model.AttemptSent.String()).Inc()
	attempt.Outcome, attempt.AttemptedAt = model.AttemptSent, p.Now().UTC()
	p.recorder.Record(attempt)

	// The message is out: the advance must not be abandoned with the pass context.
	if err := p.manager.Advance(context.WithoutCancel(ctx), e, len(steps), token); err != nil {
		t.advanceErrs.Add(1)
		if errors.Is(err, ErrClaimLost) {
			log.Error("advance lost claim after send; recipient may get a duplicate", zap.Error(err))
			return
		}
		log.Error("advance failed after send; next pass will resend", zap.Error(err))
	}
}

// due reports whether the enrollment's next step may be sent at now. The
// first step is always due; later steps wait their delay from the last send.
func due(e model.Enrollment, step model.Step, now time.Time) bool {
	if e.CurrentStep == 0 || e.LastSentAt == nil {
		return true
	}
	return !now.Before(e.LastSentAt.Add(step.Delay()))
}

func (p *Processor) message(f model.Funnel, step model.Step, e model.Enrollment, out render.Output) dispatcher.Message {
	fromName, fromAddr := step.SenderName, step.SenderEmail
	if fromAddr == "" {
		fromAddr = p.opts.SenderEmail
		if fromName == "" {
			fromName = p.opts.SenderName
		}
	}
	return dispatcher.Message{
		To:          e.Email,
		ToName:      e.Name,
		FromName:    fromName,
		FromAddress: fromAddr,
		Subject:     out.Subject,
		HTML:        out.HTML,
		Text:        out.Text,
		MessageID:   MessageID(f.ID, e.Email, step.Index, p.opts.MessageIDDomain),
	}
}
