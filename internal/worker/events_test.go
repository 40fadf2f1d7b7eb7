package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jmehdipour/drip/internal/funnel"
	"github.com/jmehdipour/drip/internal/kafka"
	"github.com/jmehdipour/drip/internal/model"
	"github.com/jmehdipour/drip/internal/repository/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sliceSource struct {
	mu        sync.Mutex
	msgs      []kafka.Message
	committed []int64
	drained   chan struct{}
}

func newSliceSource(values ...string) *sliceSource {
	s := &sliceSource{drained: make(chan struct{})}
	for i, v := range values {
		s.msgs = append(s.msgs, kafka.Message{Offset: int64(i), Value: []byte(v)})
	}
	return s
}

func (s *sliceSource) Fetch(ctx context.Context) (kafka.Message, error) {
	s.mu.Lock()
	if len(s.msgs) > 0 {
		m := s.msgs[0]
		s.msgs = s.msgs[1:]
		s.mu.Unlock()
		return m, nil
	}
	s.mu.Unlock()
	select {
	case <-s.drained:
	default:
		close(s.drained)
	}
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (s *sliceSource) Commit(_ context.Context, m kafka.Message) error {
	s.mu.Lock()
	s.committed = append(s.committed, m.Offset)
	s.mu.Unlock()
	return nil
}

func eventFunnel(t *testing.T, store *memory.Store, trigger string, active bool) model.Funnel {
	t.Helper()
	f := model.Funnel{ID: trigger + "-funnel", Name: trigger, Trigger: trigger, Active: active}
	require.NoError(t, store.Funnels().Create(context.Background(), f))
	return f
}

func TestEventsWorker_EnrollsMatchingFunnels(t *testing.T) {
	store := memory.New()
	buyers := eventFunnel(t, store, "event:course.purchased", true)
	paused := model.Funnel{ID: "paused", Trigger: "event:course.purchased"}
	require.NoError(t, store.Funnels().Create(context.Background(), paused))
	other := eventFunnel(t, store, "event:newsletter.joined", true)

	manager := funnel.NewManager(store.Funnels(), store.Enrollments(), store.Contacts(), nil)
	src := newSliceSource(
		`{"type":"Course.Purchased","email":"Ada@Example.com","name":"Ada"}`,
		`not json`,
		`{"type":"course.purchased"}`,
		`{"type":"course.purchased","email":"ada@example.com"}`,
	)
	w := NewEventsWorker(src, store.Funnels(), manager, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	<-src.drained
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, []int64{0, 1, 2, 3}, src.committed, "poison messages are committed too")

	e, err := store.Enrollments().GetByEmail(ctx, buyers.ID, "ada@example.com")
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, "Ada", e.Name)

	for _, id := range []string{paused.ID, other.ID} {
		e, err := store.Enrollments().GetByEmail(ctx, id, "ada@example.com")
		require.NoError(t, err)
		assert.Nil(t, e, id)
	}
}

type flakyEnroller struct {
	fails int
	calls int
}

func (f *flakyEnroller) Enroll(context.Context, string, []model.Recipient) (funnel.EnrollResult, error) {
	f.calls++
	if f.calls <= f.fails {
		return funnel.EnrollResult{}, errors.New("deadlock found")
	}
	return funnel.EnrollResult{Enrolled: 1}, nil
}

func TestEventsWorker_RetriesStoreFailures(t *testing.T) {
	store := memory.New()
	eventFunnel(t, store, "event:webinar.attended", true)

	enroller := &flakyEnroller{fails: 2}
	src := newSliceSource(`{"type":"webinar.attended","email":"ada@example.com"}`)
	w := NewEventsWorker(src, store.Funnels(), enroller, nil)
	w.MaxBackoff = time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	<-src.drained
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, 3, enroller.calls)
	assert.Equal(t, []int64{0}, src.committed)
}

func TestEventsWorker_UncommittedOnShutdown(t *testing.T) {
	store := memory.New()
	eventFunnel(t, store, "event:webinar.attended", true)

	src := newSliceSource(`{"type":"webinar.attended","email":"ada@example.com"}`)
	w := NewEventsWorker(src, store.Funnels(), &flakyEnroller{fails: 1 << 30}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.NoError(t, w.Run(ctx))
	assert.Empty(t, src.committed)
}
