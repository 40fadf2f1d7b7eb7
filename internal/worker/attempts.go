package worker

import (
	"context"
	"sync"
	"time"

	"github.com/jmehdipour/drip/internal/model"
	"github.com/jmehdipour/drip/internal/repository"
	"go.uber.org/zap"
)

// AttemptWriter buffers send attempts from funnel passes and writes them
// to ClickHouse in size- or time-bounded batches. Record never blocks a pass:
// when the buffer is full the attempt is dropped and logged.
type AttemptWriter struct {
	repo      repository.CHAttemptsRepository
	in        chan model.SendAttempt
	batchSize int
	batchWait time.Duration
	log       *zap.Logger

	wg sync.WaitGroup
}

func NewAttemptWriter(repo repository.CHAttemptsRepository, batchSize int, batchWait time.Duration, log *zap.Logger) *AttemptWriter {
	if batchSize <= 0 {
		batchSize = 200
	}
	if batchWait <= 0 {
		batchWait = time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &AttemptWriter{
		repo:      repo,
		in:        make(chan model.SendAttempt, batchSize*4),
		batchSize: batchSize,
		batchWait: batchWait,
		log:       log,
	}
}

func (w *AttemptWriter) Record(a model.SendAttempt) {
	select {
	case w.in <- a:
	default:
		w.log.Warn("attempt buffer full, dropping",
			zap.String("funnel_id", a.FunnelID), zap.String("email", a.Email), zap.Int("step", a.StepIndex))
	}
}

// Start runs the writer until the returned stop func is called; stop
// flushes whatever is buffered before returning.
func (w *AttemptWriter) Start(ctx context.Context) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.run(ctx)
	}()
	return func() {
		cancel()
		w.wg.Wait()
	}
}

func (w *AttemptWriter) run(ctx context.Context) {
	tick := time.NewTicker(w.batchWait)
	defer tick.Stop()

	buf := make([]model.SendAttempt, 0, w.batchSize)
	flush := func() {
		if len(buf) == 0 {
			return
		}
		if err := w.repo.InsertBatch(context.WithoutCancel(ctx), buf); err != nil {
			w.log.Error("write send attempts", zap.Int("rows", len(buf)), zap.Error(err))
		} else {
			w.log.Debug("flushed send attempts", zap.Int("rows", len(buf)))
		}
		buf = buf[:0]
	}

	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case a := <-w.in:
					buf = append(buf, a)
					if len(buf) >= w.batchSize {
						flush()
					}
				default:
					flush()
					return
				}
			}
		case a := <-w.in:
			buf = append(buf, a)
			if len(buf) >= w.batchSize {
				flush()
			}
		case <-tick.C:
			flush()
		}
	}
}

// LogRecorder stands in for the writer when ClickHouse is not configured.
type LogRecorder struct {
	Log *zap.Logger
}

func (r LogRecorder) Record(a model.SendAttempt) {
	if r.Log == nil {
		return
	}
	r.Log.Debug("send attempt",
		zap.String("funnel_id", a.FunnelID),
		zap.String("email", a.Email),
		zap.Int("step", a.StepIndex),
		zap.String("outcome", a.Outcome.String()),
	)
}
