package funnel

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jmehdipour/drip/internal/dispatcher"
	"github.com/jmehdipour/drip/internal/model"
	"github.com/jmehdipour/drip/internal/repository"
	"github.com/jmehdipour/drip/internal/repository/memory"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

type fakeGateway struct {
	mu   sync.Mutex
	sent []dispatcher.Message
	fail map[string]error // by recipient
}

func (g *fakeGateway) Send(_ context.Context, m dispatcher.Message) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.fail[m.To]; err != nil {
		return err
	}
	g.sent = append(g.sent, m)
	return nil
}

func (g *fakeGateway) subjectsFor(to string) []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []string
	for _, m := range g.sent {
		if m.To == to {
			out = append(out, m.Subject)
		}
	}
	return out
}

func (g *fakeGateway) count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.sent)
}

type memRecorder struct {
	mu   sync.Mutex
	rows []model.SendAttempt
}

func (r *memRecorder) Record(a model.SendAttempt) {
	r.mu.Lock()
	r.rows = append(r.rows, a)
	r.mu.Unlock()
}

// failingAdvance simulates a store outage right after a successful send.
type failingAdvance struct {
	repository.EnrollmentsRepository
}

func (failingAdvance) Advance(context.Context, string, int, string, model.EnrollmentStatus, time.Time) (bool, error) {
	return false, errors.New("connection reset")
}

type fixture struct {
	store     *memory.Store
	clock     *clock
	gateway   *fakeGateway
	recorder  *memRecorder
	manager   *Manager
	processor *Processor
	service   *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWith(t, nil)
}

func newFixtureWith(t *testing.T, wrap func(repository.EnrollmentsRepository) repository.EnrollmentsRepository) *fixture {
	t.Helper()
	fx := &fixture{
		store:    memory.New(),
		clock:    &clock{t: t0},
		gateway:  &fakeGateway{fail: map[string]error{}},
		recorder: &memRecorder{},
	}
	fx.store.Now = fx.clock.Now

	var enr repository.EnrollmentsRepository = fx.store.Enrollments()
	managerEnr := enr
	if wrap != nil {
		managerEnr = wrap(enr)
	}

	fx.manager = NewManager(fx.store.Funnels(), managerEnr, fx.store.Contacts(), nil)
	fx.manager.Now = fx.clock.Now
	fx.processor = NewProcessor(fx.store.Funnels(), enr, fx.manager, fx.gateway, fx.recorder, nil, ProcessorOpts{
		Workers:     4,
		ClaimTTL:    5 * time.Minute,
		SenderName:  "Academy",
		SenderEmail: "hello@academy.test",
	})
	fx.processor.Now = fx.clock.Now
	fx.service = NewService(fx.store.Funnels())
	fx.service.Now = fx.clock.Now
	return fx
}

func ptr[T any](v T) *T { return &v }

// welcome creates the two-step Welcome funnel: "Hi" immediately, "Tips" two days later.
func (fx *fixture) welcome(t *testing.T) model.Funnel {
	t.Helper()
	ctx := context.Background()
	f, err := fx.service.CreateFunnel(ctx, FunnelInput{Name: ptr("Welcome")})
	require.NoError(t, err)
	_, err = fx.service.AddStep(ctx, f.ID, StepInput{Subject: ptr("Hi"), Body: ptr("<p>Hello {{name}}</p>")})
	require.NoError(t, err)
	_, err = fx.service.AddStep(ctx, f.ID, StepInput{Subject: ptr("Tips"), Body: ptr("<p>Tips for {name}</p>"), DelayDays: ptr(2)})
	require.NoError(t, err)
	f, err = fx.service.SetActive(ctx, f.ID, true)
	require.NoError(t, err)
	return f
}

func (fx *fixture) enrollment(t *testing.T, funnelID, email string) model.Enrollment {
	t.Helper()
	e, err := fx.store.Enrollments().GetByEmail(context.Background(), funnelID, email)
	require.NoError(t, err)
	require.NotNil(t, e)
	return *e
}
