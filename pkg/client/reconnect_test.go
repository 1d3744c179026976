package client

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"huddle/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeTimer struct {
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	was := !t.stopped
	t.stopped = true
	return was
}

type scheduled struct {
	delay time.Duration
	fn    func()
	timer *fakeTimer
}

// fakeClock records callbacks and runs them only when fired.
type fakeClock struct {
	mu      sync.Mutex
	pending []scheduled
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{}
	c.pending = append(c.pending, scheduled{delay: d, fn: f, timer: t})
	return t
}

func (c *fakeClock) delays() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]time.Duration, 0, len(c.pending))
	for _, s := range c.pending {
		out = append(out, s.delay)
	}
	return out
}

// fireLast runs the most recent callback unless it was stopped.
func (c *fakeClock) fireLast(t *testing.T) {
	t.Helper()
	c.mu.Lock()
	require.NotEmpty(t, c.pending)
	s := c.pending[len(c.pending)-1]
	c.mu.Unlock()
	if !s.timer.stopped {
		s.fn()
	}
}

func TestReconnectConfig_Delay(t *testing.T) {
	cfg := DefaultReconnectConfig()
	want := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second, 10 * time.Second, 10 * time.Second}
	for i, d := range want {
		assert.Equal(t, d, cfg.Delay(i+1), "attempt %d", i+1)
	}
}

func newTestManager(t *testing.T, dial func(context.Context) error) (*ReconnectionManager, *fakeClock) {
	t.Helper()
	clock := &fakeClock{}
	m := NewReconnectionManager(DefaultReconnectConfig(), dial, zaptest.NewLogger(t).Sugar())
	m.SetClock(clock)
	return m, clock
}

func TestReconnectionManager_Exhausted(t *testing.T) {
	dials := 0
	m, clock := newTestManager(t, func(context.Context) error {
		dials++
		return errors.New("refused")
	})
	exhausted := make(chan error, 1)
	m.OnExhausted(func(err error) { exhausted <- err })

	m.Disconnected()
	for i := 0; i < 5; i++ {
		clock.fireLast(t)
	}

	select {
	case err := <-exhausted:
		assert.ErrorIs(t, err, domain.ErrReconnectionExhausted)
	case <-time.After(time.Second):
		t.Fatal("exhaustion not reported")
	}

	assert.Equal(t, 5, dials)
	assert.Equal(t, []time.Duration{
		2 * time.Second, 4 * time.Second, 8 * time.Second, 10 * time.Second, 10 * time.Second,
	}, clock.delays(), "no sixth attempt is scheduled")
	assert.False(t, m.Reconnecting())
}

func TestReconnectionManager_SucceedsAndResets(t *testing.T) {
	dials := 0
	m, clock := newTestManager(t, func(context.Context) error {
		dials++
		if dials < 3 {
			return errors.New("refused")
		}
		return nil
	})
	reconnected := make(chan struct{}, 1)
	m.OnReconnected(func() { reconnected <- struct{}{} })

	m.Disconnected()
	m.Disconnected() // already running
	require.Len(t, clock.delays(), 1)

	for i := 0; i < 3; i++ {
		clock.fireLast(t)
	}

	select {
	case <-reconnected:
	case <-time.After(time.Second):
		t.Fatal("reconnect not reported")
	}
	assert.Equal(t, 0, m.Attempts())
	assert.False(t, m.Reconnecting())

	// A later loss starts again from the first delay.
	m.Disconnected()
	delays := clock.delays()
	assert.Equal(t, 2*time.Second, delays[len(delays)-1])
}

func TestReconnectionManager_StopClearsTimer(t *testing.T) {
	dials := 0
	m, clock := newTestManager(t, func(context.Context) error {
		dials++
		return nil
	})

	m.Disconnected()
	m.Stop()
	clock.fireLast(t)
	assert.Equal(t, 0, dials)

	m.Disconnected()
	assert.Len(t, clock.delays(), 1, "stopped manager does not schedule")
}

func TestReconnectionManager_ConnectedCancelsFlow(t *testing.T) {
	dials := 0
	m, clock := newTestManager(t, func(context.Context) error {
		dials++
		return nil
	})

	m.Disconnected()
	m.Connected()
	clock.fireLast(t)
	assert.Equal(t, 0, dials)
	assert.False(t, m.Reconnecting())
}

func TestReconnectionManager_StopCancelsDial(t *testing.T) {
	started := make(chan struct{})
	m, clock := newTestManager(t, func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})

	m.Disconnected()
	done := make(chan struct{})
	go func() {
		clock.fireLast(t)
		close(done)
	}()

	<-started
	m.Stop()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dial was not cancelled")
	}
	assert.Len(t, clock.delays(), 1)
}
