package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmehdipour/drip/internal/funnel"
	"github.com/jmehdipour/drip/internal/kafka"
	"github.com/jmehdipour/drip/internal/model"
	"github.com/jmehdipour/drip/internal/repository"
	"go.uber.org/zap"
)

// Source is the subset of the Kafka consumer the events worker needs.
type Source interface {
	Fetch(ctx context.Context) (kafka.Message, error)
	Commit(ctx context.Context, m kafka.Message) error
}

// Enroller is satisfied by *funnel.Manager.
type Enroller interface {
	Enroll(ctx context.Context, funnelID string, recipients []model.Recipient) (funnel.EnrollResult, error)
}

// EventsWorker enrolls recipients into active funnels whose trigger matches
// an incoming event. Messages are handled in order and committed only once
// handled, so a store outage stalls the partition instead of skipping it.
type EventsWorker struct {
	source   Source
	funnels  repository.FunnelsRepository
	enroller Enroller
	log      *zap.Logger

	MaxBackoff time.Duration
}

func NewEventsWorker(source Source, funnels repository.FunnelsRepository, enroller Enroller, log *zap.Logger) *EventsWorker {
	if log == nil {
		log = zap.NewNop()
	}
	return &EventsWorker{source: source, funnels: funnels, enroller: enroller, log: log, MaxBackoff: 5 * time.Second}
}

// Run blocks until ctx is cancelled.
func (w *EventsWorker) Run(ctx context.Context) error {
	for {
		m, err := w.source.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.log.Warn("kafka fetch", zap.Error(err))
			if !sleep(ctx, 200*time.Millisecond) {
				return nil
			}
			continue
		}

		if !w.handleWithRetry(ctx, m) {
			return nil
		}
		if err := w.source.Commit(ctx, m); err != nil {
			w.log.Warn("kafka commit", zap.Int64("offset", m.Offset), zap.Error(err))
		}
	}
}

// handleWithRetry reports false only when ctx ended before the message was handled.
func (w *EventsWorker) handleWithRetry(ctx context.Context, m kafka.Message) bool {
	backoff := 200 * time.Millisecond
	for {
		err := w.Handle(ctx, m.Value)
		if err == nil {
			return true
		}
		w.log.Error("handle event, will retry", zap.Int64("offset", m.Offset), zap.Duration("backoff", backoff), zap.Error(err))
		if !sleep(ctx, backoff) {
			return false
		}
		if backoff *= 2; backoff > w.MaxBackoff {
			backoff = w.MaxBackoff
		}
	}
}

// Handle processes one raw event. Malformed payloads are logged and
// swallowed; only store failures are returned.
func (w *EventsWorker) Handle(ctx context.Context, raw []byte) error {
	var ev model.TriggerEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		w.log.Warn("bad event json, skipping", zap.Error(err))
		return nil
	}
	if strings.TrimSpace(ev.Type) == "" || strings.TrimSpace(ev.Email) == "" {
		w.log.Warn("event missing type or email, skipping", zap.String("type", ev.Type))
		return nil
	}

	trigger := model.EventTrigger(ev.Type)
	funnels, err := w.funnels.ListActiveByTrigger(ctx, trigger)
	if err != nil {
		return fmt.Errorf("list funnels for %s: %w", trigger, err)
	}

	for _, f := range funnels {
		res, err := w.enroller.Enroll(ctx, f.ID, []model.Recipient{{Email: ev.Email, Name: ev.Name}})
		if errors.Is(err, funnel.ErrFunnelNotFound) {
			continue // deleted since listing
		}
		if err != nil {
			return err
		}
		w.log.Info("event enrollment",
			zap.String("trigger", trigger),
			zap.String("funnel_id", f.ID),
			zap.String("email", ev.Email),
			zap.Int("enrolled", res.Enrolled),
		)
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
