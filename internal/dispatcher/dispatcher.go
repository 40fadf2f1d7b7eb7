package dispatcher

import (
	"context"
	"errors"
	"sync/atomic"
)

var (
	ErrNoHealthy = errors.New("no healthy providers")
	ErrNoAcquire = errors.New("provider not acquired")
)

// Dispatcher round-robins messages across ready providers, retrying on
// another provider up to maxAttempts times.
type Dispatcher struct {
	providers   []Provider
	rr          atomic.Uint64
	maxAttempts int
}

func NewDispatcher(provs []Provider, maxAttempts int) *Dispatcher {
	if maxAttempts < 1 {
		maxAttempts = 2
	}
	return &Dispatcher{providers: provs, maxAttempts: maxAttempts}
}

func (d *Dispatcher) pick() (Provider, error) {
	ready := make([]Provider, 0, len(d.providers))
	for _, p := range d.providers {
		if p.Ready() {
			ready = append(ready, p)
		}
	}
	if len(ready) == 0 {
		return nil, ErrNoHealthy
	}
	n := d.rr.Add(1)
	return ready[int((n-1)%uint64(len(ready)))], nil
}

func (d *Dispatcher) tryOnce(ctx context.Context, m Message) error {
	p, err := d.pick()
	if err != nil {
		return err
	}
	if !p.Acquire() {
		return ErrNoAcquire
	}
	return p.Send(ctx, m)
}

// Send delivers m or returns the last attempt's error.
func (d *Dispatcher) Send(ctx context.Context, m Message) error {
	var last error
	for i := 0; i < d.maxAttempts; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if last = d.tryOnce(ctx, m); last == nil {
			return nil
		}
	}
	return last
}
