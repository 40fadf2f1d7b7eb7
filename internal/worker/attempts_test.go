package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jmehdipour/drip/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type batchRepo struct {
	mu      sync.Mutex
	batches [][]model.SendAttempt
}

func (r *batchRepo) InsertBatch(_ context.Context, rows []model.SendAttempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, append([]model.SendAttempt(nil), rows...))
	return nil
}

func (r *batchRepo) ListByFunnel(context.Context, string, model.AttemptOutcome, int, int) ([]model.SendAttempt, error) {
	return nil, nil
}

func (r *batchRepo) total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, b := range r.batches {
		n += len(b)
	}
	return n
}

func TestAttemptWriter_FlushesBySize(t *testing.T) {
	repo := &batchRepo{}
	w := NewAttemptWriter(repo, 2, time.Hour, nil)
	stop := w.Start(context.Background())

	for i := 0; i < 4; i++ {
		w.Record(model.SendAttempt{FunnelID: "f", StepIndex: i + 1, Outcome: model.AttemptSent})
	}
	require.Eventually(t, func() bool { return repo.total() == 4 }, time.Second, 5*time.Millisecond)
	stop()

	for _, b := range repo.batches {
		assert.LessOrEqual(t, len(b), 2)
	}
}

func TestAttemptWriter_FlushesOnTick(t *testing.T) {
	repo := &batchRepo{}
	w := NewAttemptWriter(repo, 100, 10*time.Millisecond, nil)
	stop := w.Start(context.Background())
	defer stop()

	w.Record(model.SendAttempt{FunnelID: "f", Outcome: model.AttemptFailed})
	require.Eventually(t, func() bool { return repo.total() == 1 }, time.Second, 5*time.Millisecond)
}

func TestAttemptWriter_StopDrainsBuffer(t *testing.T) {
	repo := &batchRepo{}
	w := NewAttemptWriter(repo, 100, time.Hour, nil)
	stop := w.Start(context.Background())

	for i := 0; i < 10; i++ {
		w.Record(model.SendAttempt{FunnelID: "f"})
	}
	stop()
	assert.Equal(t, 10, repo.total())
}
