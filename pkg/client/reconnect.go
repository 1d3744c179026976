package client

import (
	"context"
	"sync"
	"time"

	"huddle/internal/core/domain"
	"huddle/pkg/retry"

	"go.uber.org/zap"
)

type ReconnectConfig struct {
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int
}

func DefaultReconnectConfig() ReconnectConfig {
	return ReconnectConfig{
		BaseDelay:   time.Second,
		MaxDelay:    10 * time.Second,
		MaxAttempts: 5,
	}
}

// Delay is the wait before attempt n (1-based): BaseDelay * 2^n capped at
// MaxDelay.
func (c ReconnectConfig) Delay(attempt int) time.Duration {
	return retry.Delay(retry.Config{
		InitialDelay: c.BaseDelay,
		MaxDelay:     c.MaxDelay,
		Multiplier:   2,
	}, attempt)
}

// Timer is the part of *time.Timer the manager needs.
type Timer interface {
	Stop() bool
}

// Clock schedules delayed callbacks.
type Clock interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// ReconnectionManager retries a dial function with exponential backoff after
// the transport is lost.
type ReconnectionManager struct {
	cfg    ReconnectConfig
	dial   func(ctx context.Context) error
	clock  Clock
	logger *zap.SugaredLogger

	onReconnected func()
	onExhausted   func(error)

	mu       sync.Mutex
	attempts int
	timer    Timer
	cancel   context.CancelFunc
	stopped  bool
	running  bool
}

func NewReconnectionManager(cfg ReconnectConfig, dial func(ctx context.Context) error, logger *zap.SugaredLogger) *ReconnectionManager {
	if cfg.MaxAttempts <= 0 {
		cfg = DefaultReconnectConfig()
	}
	return &ReconnectionManager{
		cfg:    cfg,
		dial:   dial,
		clock:  realClock{},
		logger: logger,
	}
}

// SetClock replaces the timer source. It must be called before Disconnected.
func (m *ReconnectionManager) SetClock(clock Clock) { m.clock = clock }

// OnReconnected runs after a successful dial.
func (m *ReconnectionManager) OnReconnected(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onReconnected = fn
}

// OnExhausted runs once with domain.ErrReconnectionExhausted when every
// attempt failed.
func (m *ReconnectionManager) OnExhausted(fn func(error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExhausted = fn
}

// Disconnected starts the reconnection flow unless one is already running.
func (m *ReconnectionManager) Disconnected() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped || m.running {
		return
	}
	m.running = true
	m.attempts = 0
	m.scheduleLocked()
}

func (m *ReconnectionManager) scheduleLocked() {
	if m.attempts >= m.cfg.MaxAttempts {
		m.running = false
		m.timer = nil
		m.logger.Errorw("reconnection attempts exhausted", "attempts", m.attempts)
		if fn := m.onExhausted; fn != nil {
			go fn(domain.ErrReconnectionExhausted)
		}
		return
	}

	m.attempts++
	attempt := m.attempts
	delay := m.cfg.Delay(attempt)
	m.logger.Infow("scheduling reconnection", "attempt", attempt, "max_attempts", m.cfg.MaxAttempts, "delay", delay)
	m.timer = m.clock.AfterFunc(delay, func() { m.attempt(attempt) })
}

func (m *ReconnectionManager) attempt(attempt int) {
	m.mu.Lock()
	if m.stopped || !m.running || m.attempts != attempt {
		m.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.mu.Unlock()

	err := m.dial(ctx)
	cancel()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancel = nil
	if m.stopped || !m.running {
		return
	}
	if err != nil {
		m.logger.Warnw("reconnection failed", "attempt", attempt, "error", err)
		m.scheduleLocked()
		return
	}

	m.logger.Infow("reconnected", "attempt", attempt)
	m.running = false
	m.attempts = 0
	m.timer = nil
	if fn := m.onReconnected; fn != nil {
		go fn()
	}
}

// Connected ends a running flow because the transport came back by other
// means.
func (m *ReconnectionManager) Connected() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.running = false
	m.attempts = 0
}

// Attempts is the number of attempts made in the current flow.
func (m *ReconnectionManager) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

func (m *ReconnectionManager) Reconnecting() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Stop clears any pending timer, cancels an in-flight dial and disables
// further reconnection.
func (m *ReconnectionManager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = true
	m.running = false
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
}
