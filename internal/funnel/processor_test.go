package funnel

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jmehdipour/drip/internal/model"
	"github.com/jmehdipour/drip/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessor_WelcomeScenario(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	f := fx.welcome(t)

	_, err := fx.manager.Enroll(ctx, f.ID, []model.Recipient{{Email: "ada@example.com", Name: "Ada"}})
	require.NoError(t, err)

	passes := []struct {
		at       time.Time
		sent     int
		subjects []string
		step     int
		status   model.EnrollmentStatus
	}{
		{t0, 1, []string{"Hi"}, 1, model.EnrollmentActive},
		{t0.Add(24 * time.Hour), 0, []string{"Hi"}, 1, model.EnrollmentActive},
		{t0.Add(48*time.Hour + time.Minute), 1, []string{"Hi", "Tips"}, 2, model.EnrollmentCompleted},
		{t0.Add(72 * time.Hour), 0, []string{"Hi", "Tips"}, 2, model.EnrollmentCompleted},
	}
	for i, p := range passes {
		fx.clock.Set(p.at)
		res, err := fx.processor.Process(ctx, f.ID)
		require.NoError(t, err, "pass %d", i)
		assert.Equal(t, p.sent, res.Sent, "pass %d sent", i)
		assert.Equal(t, p.subjects, fx.gateway.subjectsFor("ada@example.com"), "pass %d subjects", i)

		e := fx.enrollment(t, f.ID, "ada@example.com")
		assert.Equal(t, p.step, e.CurrentStep, "pass %d step", i)
		assert.Equal(t, p.status, e.Status, "pass %d status", i)
		assert.Equal(t, p.step, e.SentCount, "pass %d sent count", i)
	}

	e := fx.enrollment(t, f.ID, "ada@example.com")
	require.NotNil(t, e.LastSentAt)
	assert.Equal(t, t0.Add(48*time.Hour+time.Minute), *e.LastSentAt)
}

func TestProcessor_RendersAndAddressesMessage(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	f := fx.welcome(t)

	_, err := fx.manager.Enroll(ctx, f.ID, []model.Recipient{{Email: "bo@example.com"}})
	require.NoError(t, err)
	_, err = fx.processor.Process(ctx, f.ID)
	require.NoError(t, err)

	require.Equal(t, 1, fx.gateway.count())
	m := fx.gateway.sent[0]
	assert.Equal(t, "bo@example.com", m.To)
	assert.Equal(t, "<p>Hello bo</p>", m.HTML, "display name falls back to the local part")
	assert.Equal(t, "Hello bo", m.Text)
	assert.Equal(t, "hello@academy.test", m.FromAddress)
	assert.Equal(t, "Academy", m.FromName)
	assert.Equal(t, MessageID(f.ID, "bo@example.com", 1, ""), m.MessageID)

	require.Len(t, fx.recorder.rows, 1)
	assert.Equal(t, model.AttemptSent, fx.recorder.rows[0].Outcome)
	assert.Equal(t, 1, fx.recorder.rows[0].StepIndex)
}

func TestProcessor_NoCatchUpBurst(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	f := fx.welcome(t)
	_, err := fx.service.AddStep(ctx, f.ID, StepInput{Subject: ptr("More"), Body: ptr("x"), DelayDays: ptr(1)})
	require.NoError(t, err)

	_, err = fx.manager.Enroll(ctx, f.ID, []model.Recipient{{Email: "ada@example.com"}})
	require.NoError(t, err)

	_, err = fx.processor.Process(ctx, f.ID)
	require.NoError(t, err)

	// Far past every delay: still one step per pass.
	fx.clock.Set(t0.Add(30 * 24 * time.Hour))
	res, err := fx.processor.Process(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Sent)
	assert.Equal(t, 2, fx.enrollment(t, f.ID, "ada@example.com").CurrentStep)

	// The third step waits a day from the real second send.
	fx.clock.Set(t0.Add(30*24*time.Hour + 23*time.Hour))
	res, err = fx.processor.Process(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Sent)
	assert.Equal(t, 1, res.NotDue)
}

func TestProcessor_FailureIsolation(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	f := fx.welcome(t)

	_, err := fx.manager.Enroll(ctx, f.ID, []model.Recipient{
		{Email: "ok1@example.com"}, {Email: "bad@example.com"}, {Email: "ok2@example.com"},
	})
	require.NoError(t, err)
	fx.gateway.fail["bad@example.com"] = errors.New("mailbox unavailable")

	res, err := fx.processor.Process(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Sent)
	assert.Equal(t, 1, res.Failed)

	bad := fx.enrollment(t, f.ID, "bad@example.com")
	assert.Equal(t, 0, bad.CurrentStep)
	assert.Nil(t, bad.LastSentAt)
	assert.Nil(t, bad.ClaimToken, "failed send releases the claim")

	// Recovered transport: retried on the next pass.
	delete(fx.gateway.fail, "bad@example.com")
	res, err = fx.processor.Process(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Sent)
	assert.Equal(t, 2, res.NotDue)
	assert.Equal(t, 1, fx.enrollment(t, f.ID, "bad@example.com").CurrentStep)

	var failed int
	for _, a := range fx.recorder.rows {
		if a.Outcome == model.AttemptFailed {
			failed++
			assert.Equal(t, "mailbox unavailable", a.Error)
		}
	}
	assert.Equal(t, 1, failed)
}

func TestProcessor_SkipReasons(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	f, err := fx.service.CreateFunnel(ctx, FunnelInput{Name: ptr("Empty")})
	require.NoError(t, err)

	res, err := fx.processor.Process(ctx, f.ID)
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Equal(t, ReasonInactive, res.Reason)

	_, err = fx.service.SetActive(ctx, f.ID, true)
	require.NoError(t, err)
	res, err = fx.processor.Process(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, ReasonNoSteps, res.Reason)

	_, err = fx.service.AddStep(ctx, f.ID, StepInput{Subject: ptr("s"), Body: ptr("b"), Active: ptr(false)})
	require.NoError(t, err)
	res, err = fx.processor.Process(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, ReasonNoSteps, res.Reason, "only inactive steps")

	_, err = fx.processor.Process(ctx, "missing")
	assert.ErrorIs(t, err, ErrFunnelNotFound)
}

func TestProcessor_InactiveStepBlocks(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	f := fx.welcome(t)

	_, err := fx.manager.Enroll(ctx, f.ID, []model.Recipient{{Email: "ada@example.com"}})
	require.NoError(t, err)
	_, err = fx.processor.Process(ctx, f.ID)
	require.NoError(t, err)

	_, err = fx.service.UpdateStep(ctx, f.ID, 2, StepInput{Active: ptr(false)})
	require.NoError(t, err)

	fx.clock.Set(t0.Add(5 * 24 * time.Hour))
	res, err := fx.processor.Process(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Blocked)
	assert.Equal(t, 1, fx.enrollment(t, f.ID, "ada@example.com").CurrentStep)

	_, err = fx.service.UpdateStep(ctx, f.ID, 2, StepInput{Active: ptr(true)})
	require.NoError(t, err)
	res, err = fx.processor.Process(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Sent)
}

func TestProcessor_CompletesWhenStepsWereRemoved(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	f := fx.welcome(t)

	_, err := fx.manager.Enroll(ctx, f.ID, []model.Recipient{{Email: "ada@example.com"}})
	require.NoError(t, err)
	_, err = fx.processor.Process(ctx, f.ID)
	require.NoError(t, err)
	require.NoError(t, fx.service.DeleteStep(ctx, f.ID, 2))

	res, err := fx.processor.Process(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Completed)
	assert.Equal(t, model.EnrollmentCompleted, fx.enrollment(t, f.ID, "ada@example.com").Status)
}

func TestProcessor_TerminalEnrollmentsNeverSelected(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	f := fx.welcome(t)

	_, err := fx.manager.Enroll(ctx, f.ID, []model.Recipient{{Email: "gone@example.com"}})
	require.NoError(t, err)
	ok, err := fx.manager.Unsubscribe(ctx, f.ID, "Gone@Example.com")
	require.NoError(t, err)
	require.True(t, ok)

	res, err := fx.processor.Process(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Sent)
	assert.Zero(t, fx.gateway.count())
}

func TestProcessor_ClaimPreventsDoubleSend(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	f := fx.welcome(t)

	_, err := fx.manager.Enroll(ctx, f.ID, []model.Recipient{{Email: "ada@example.com"}})
	require.NoError(t, err)
	e := fx.enrollment(t, f.ID, "ada@example.com")

	// Another pass holds the enrollment.
	ok, err := fx.store.Enrollments().Claim(ctx, e.ID, 0, "other-pass", t0, t0.Add(5*time.Minute))
	require.NoError(t, err)
	require.True(t, ok)

	res, err := fx.processor.Process(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Contended)
	assert.Zero(t, fx.gateway.count())

	// The other pass died; its lease runs out.
	fx.clock.Set(t0.Add(6 * time.Minute))
	res, err = fx.processor.Process(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Sent)

	// A stale holder cannot advance.
	err = fx.manager.Advance(ctx, e, 2, "other-pass")
	assert.ErrorIs(t, err, ErrClaimLost)
	assert.Equal(t, 1, fx.enrollment(t, f.ID, "ada@example.com").CurrentStep)
}

func TestProcessor_AdvanceFailureIsCounted(t *testing.T) {
	fx := newFixtureWith(t, func(r repository.EnrollmentsRepository) repository.EnrollmentsRepository {
		return failingAdvance{r}
	})
	ctx := context.Background()
	f := fx.welcome(t)

	_, err := fx.manager.Enroll(ctx, f.ID, []model.Recipient{{Email: "a@example.com"}, {Email: "b@example.com"}})
	require.NoError(t, err)

	res, err := fx.processor.Process(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Sent)
	assert.Equal(t, 2, res.AdvanceErrors)
	assert.Equal(t, 0, fx.enrollment(t, f.ID, "a@example.com").CurrentStep)
}

func TestProcessor_RecordsLastProcessed(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	f := fx.welcome(t)

	_, err := fx.processor.Process(ctx, f.ID)
	require.NoError(t, err)

	got, err := fx.service.GetFunnel(ctx, f.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastProcessedAt)
	assert.Equal(t, t0, *got.LastProcessedAt)
}

func TestDue(t *testing.T) {
	last := t0
	step := model.Step{DelayDays: 1, DelayHours: 6}
	cases := []struct {
		name string
		e    model.Enrollment
		now  time.Time
		want bool
	}{
		{"first step", model.Enrollment{CurrentStep: 0}, t0, true},
		{"before delay", model.Enrollment{CurrentStep: 1, LastSentAt: &last}, t0.Add(30*time.Hour - time.Second), false},
		{"at delay", model.Enrollment{CurrentStep: 1, LastSentAt: &last}, t0.Add(30 * time.Hour), true},
		{"missing last sent", model.Enrollment{CurrentStep: 1}, t0, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, due(tc.e, step, tc.now))
		})
	}
}
