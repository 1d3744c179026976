package webrtc

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"huddle/internal/core/domain"
	"huddle/internal/core/ports"
	"huddle/pkg/utils"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// EngineConfig configures every worker created by the engine.
type EngineConfig struct {
	ICEServers []webrtc.ICEServer
	PortRange  struct {
		Min uint16
		Max uint16
	}
	// HandshakeTimeout bounds how long Produce waits for the first packet of
	// the announced track.
	HandshakeTimeout time.Duration
}

// Engine runs media workers in process. A worker is a group of routers whose
// forwarding loops share one load account and one failure domain.
type Engine struct {
	cfg    EngineConfig
	logger *zap.SugaredLogger
}

var _ ports.MediaEngine = (*Engine)(nil)

func NewEngine(cfg EngineConfig, logger *zap.SugaredLogger) *Engine {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	return &Engine{cfg: cfg, logger: logger}
}

func (e *Engine) CreateWorker(ctx context.Context, index int) (ports.MediaWorker, error) {
	settings := webrtc.SettingEngine{}
	if e.cfg.PortRange.Min > 0 && e.cfg.PortRange.Max > 0 {
		if err := settings.SetEphemeralUDPPortRange(e.cfg.PortRange.Min, e.cfg.PortRange.Max); err != nil {
			return nil, fmt.Errorf("invalid port range: %w", err)
		}
	}

	id := utils.GenerateWorkerID(index)
	return &Worker{
		id:       id,
		cfg:      e.cfg,
		settings: settings,
		died:     make(chan struct{}),
		routers:  make(map[string]*Router),
		logger:   e.logger.With("worker_id", id),
	}, nil
}

type Worker struct {
	id       string
	cfg      EngineConfig
	settings webrtc.SettingEngine
	logger   *zap.SugaredLogger

	busy atomic.Int64 // nanoseconds spent forwarding

	died    chan struct{}
	dieOnce sync.Once

	mu      sync.Mutex
	routers map[string]*Router
	closed  bool
}

var _ ports.MediaWorker = (*Worker)(nil)

func (w *Worker) ID() string { return w.id }

// ResourceUsage reports the time this worker's forwarding loops spent on
// packets, the in-process equivalent of a worker's CPU time.
func (w *Worker) ResourceUsage(ctx context.Context) (ports.ResourceUsage, error) {
	if w.dead() {
		return ports.ResourceUsage{}, domain.ErrWorkerDied
	}
	return ports.ResourceUsage{UserTime: time.Duration(w.busy.Load())}, nil
}

func (w *Worker) account(d time.Duration) {
	w.busy.Add(int64(d))
}

func (w *Worker) CreateRouter(ctx context.Context, codecs []domain.CodecCapability) (ports.Router, error) {
	if w.dead() {
		return nil, domain.ErrWorkerDied
	}

	api, err := newAPI(codecs, w.settings)
	if err != nil {
		return nil, err
	}

	r := &Router{
		id:        utils.GenerateID("router"),
		worker:    w,
		api:       api,
		codecs:    append([]domain.CodecCapability(nil), codecs...),
		producers: make(map[domain.ProducerID]*Producer),
		closers:   make(map[string]func() error),
	}
	r.logger = w.logger.With("router_id", r.id)

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil, domain.ErrPoolClosed
	}
	w.routers[r.id] = r
	return r, nil
}

func (w *Worker) removeRouter(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.routers, id)
}

func (w *Worker) Died() <-chan struct{} { return w.died }

func (w *Worker) dead() bool {
	select {
	case <-w.died:
		return true
	default:
		return false
	}
}

// fail marks the worker dead. Its routers stop being usable; the pool
// replaces the worker and rooms on it are evicted.
func (w *Worker) fail(err error) {
	w.dieOnce.Do(func() {
		w.logger.Errorw("media worker died", "error", err)
		close(w.died)
	})
}

// guard recovers a panicking forwarding goroutine into a worker death.
func (w *Worker) guard() {
	if r := recover(); r != nil {
		w.fail(fmt.Errorf("forwarding panic: %v", r))
	}
}

func (w *Worker) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	routers := make([]*Router, 0, len(w.routers))
	for _, r := range w.routers {
		routers = append(routers, r)
	}
	w.mu.Unlock()

	for _, r := range routers {
		if err := r.Close(); err != nil {
			w.logger.Warnw("failed to close router", "router_id", r.id, "error", err)
		}
	}
	return nil
}
