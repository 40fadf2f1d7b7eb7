package dispatcher

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	name  string
	ready bool
	err   error

	mu   sync.Mutex
	sent []Message
}

func (f *fakeProvider) Name() string  { return f.name }
func (f *fakeProvider) Ready() bool   { return f.ready }
func (f *fakeProvider) Acquire() bool { return f.ready }
func (f *fakeProvider) Send(_ context.Context, m Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, m)
	return f.err
}

func msg() Message {
	return Message{To: "ada@example.com", FromAddress: "team@example.com", Subject: "Hi", HTML: "<p>Hi</p>"}
}

func TestDispatcher_RoundRobin(t *testing.T) {
	a := &fakeProvider{name: "a", ready: true}
	b := &fakeProvider{name: "b", ready: true}
	d := NewDispatcher([]Provider{a, b}, 1)

	for i := 0; i < 4; i++ {
		require.NoError(t, d.Send(context.Background(), msg()))
	}
	assert.Len(t, a.sent, 2)
	assert.Len(t, b.sent, 2)
}

func TestDispatcher_FailsOverToNextProvider(t *testing.T) {
	bad := &fakeProvider{name: "bad", ready: true, err: errors.New("550")}
	good := &fakeProvider{name: "good", ready: true}
	d := NewDispatcher([]Provider{bad, good}, 2)

	require.NoError(t, d.Send(context.Background(), msg()))
	assert.Len(t, bad.sent, 1)
	assert.Len(t, good.sent, 1)
}

func TestDispatcher_ReturnsLastError(t *testing.T) {
	boom := errors.New("boom")
	p := &fakeProvider{name: "p", ready: true, err: boom}
	d := NewDispatcher([]Provider{p}, 3)

	err := d.Send(context.Background(), msg())
	require.ErrorIs(t, err, boom)
	assert.Len(t, p.sent, 3)
}

func TestDispatcher_NoHealthy(t *testing.T) {
	d := NewDispatcher([]Provider{&fakeProvider{name: "down"}}, 2)
	assert.ErrorIs(t, d.Send(context.Background(), msg()), ErrNoHealthy)

	d = NewDispatcher(nil, 1)
	assert.ErrorIs(t, d.Send(context.Background(), msg()), ErrNoHealthy)
}

func TestDispatcher_CancelledContext(t *testing.T) {
	p := &fakeProvider{name: "p", ready: true}
	d := NewDispatcher([]Provider{p}, 2)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, d.Send(ctx, msg()), context.Canceled)
	assert.Empty(t, p.sent)
}
