package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"huddle/internal/core/domain"
	"huddle/internal/core/ports"
	"huddle/pkg/retry"

	"go.uber.org/zap"
)

type WorkerStatus struct {
	Index int           `json:"index"`
	ID    string        `json:"id"`
	Load  time.Duration `json:"load"`
	Alive bool          `json:"alive"`
}

// workerForgetter is implemented by metrics sinks that keep per-worker series.
type workerForgetter interface {
	ForgetWorker(workerID string)
}

// WorkerPool keeps a fixed number of media workers. A worker that dies is
// replaced in its slot; the process never exits because of it.
type WorkerPool struct {
	engine   ports.MediaEngine
	restart  retry.Config
	metrics  ports.ConferenceMetrics
	logger   *zap.SugaredLogger
	ctx      context.Context
	cancel   context.CancelFunc
	watchers sync.WaitGroup

	mu      sync.RWMutex
	workers []ports.MediaWorker
	closed  bool
}

func NewWorkerPool(ctx context.Context, engine ports.MediaEngine, size int, restart retry.Config, metrics ports.ConferenceMetrics, logger *zap.SugaredLogger) (*WorkerPool, error) {
	if size <= 0 {
		return nil, fmt.Errorf("worker pool size must be > 0, got %d", size)
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}

	poolCtx, cancel := context.WithCancel(context.Background())
	p := &WorkerPool{
		engine:  engine,
		restart: restart,
		metrics: metrics,
		logger:  logger,
		ctx:     poolCtx,
		cancel:  cancel,
		workers: make([]ports.MediaWorker, size),
	}

	for i := 0; i < size; i++ {
		w, err := engine.CreateWorker(ctx, i)
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("failed to create worker %d: %w", i, err)
		}
		p.workers[i] = w
		p.watch(i, w)
		logger.Infow("media worker started", "index", i, "worker_id", w.ID())
	}

	return p, nil
}

// Assign samples every worker's cumulative CPU time concurrently and returns
// the one with the strictly lowest load; ties go to the lowest index.
// Workers whose sample fails are skipped.
func (p *WorkerPool) Assign(ctx context.Context) (ports.MediaWorker, int, error) {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return nil, -1, domain.ErrPoolClosed
	}
	workers := append([]ports.MediaWorker(nil), p.workers...)
	p.mu.RUnlock()

	type sample struct {
		load time.Duration
		err  error
	}
	samples := make([]sample, len(workers))

	var wg sync.WaitGroup
	for i, w := range workers {
		wg.Add(1)
		go func(i int, w ports.MediaWorker) {
			defer wg.Done()
			usage, err := w.ResourceUsage(ctx)
			samples[i] = sample{load: usage.Total(), err: err}
		}(i, w)
	}
	wg.Wait()

	best := -1
	for i, s := range samples {
		if s.err != nil {
			p.logger.Warnw("failed to sample worker load", "index", i, "worker_id", workers[i].ID(), "error", s.err)
			continue
		}
		p.metrics.WorkerLoadSampled(workers[i].ID(), s.load)
		if best < 0 || s.load < samples[best].load {
			best = i
		}
	}
	if best < 0 {
		return nil, -1, fmt.Errorf("%w: no worker could be sampled", domain.ErrWorkerDied)
	}

	return workers[best], best, nil
}

func (p *WorkerPool) watch(index int, w ports.MediaWorker) {
	p.watchers.Add(1)
	go func() {
		defer p.watchers.Done()
		select {
		case <-w.Died():
			p.HandleWorkerDeath(index, w)
		case <-p.ctx.Done():
		}
	}()
}

// HandleWorkerDeath replaces the dead worker in slot index with a freshly
// created one. Stale notifications for an already replaced worker are ignored.
func (p *WorkerPool) HandleWorkerDeath(index int, dead ports.MediaWorker) {
	p.mu.RLock()
	stale := p.closed || index < 0 || index >= len(p.workers) || p.workers[index] != dead
	p.mu.RUnlock()
	if stale {
		return
	}

	p.logger.Errorw("media worker died, replacing", "index", index, "worker_id", dead.ID())

	replacement, err := retry.RetryWithResult(p.ctx, p.restart, func() (ports.MediaWorker, error) {
		return p.engine.CreateWorker(p.ctx, index)
	})
	if err != nil {
		p.logger.Errorw("failed to replace media worker", "index", index, "error", err)
		return
	}

	p.mu.Lock()
	if p.closed || p.workers[index] != dead {
		p.mu.Unlock()
		_ = replacement.Close()
		return
	}
	p.workers[index] = replacement
	p.mu.Unlock()

	p.metrics.WorkerReplaced()
	if f, ok := p.metrics.(workerForgetter); ok {
		f.ForgetWorker(dead.ID())
	}
	p.watch(index, replacement)
	p.logger.Infow("media worker replaced", "index", index, "worker_id", replacement.ID())
}

func (p *WorkerPool) Size() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.workers)
}

func (p *WorkerPool) Status(ctx context.Context) []WorkerStatus {
	p.mu.RLock()
	workers := append([]ports.MediaWorker(nil), p.workers...)
	p.mu.RUnlock()

	status := make([]WorkerStatus, 0, len(workers))
	for i, w := range workers {
		if w == nil {
			continue
		}
		s := WorkerStatus{Index: i, ID: w.ID(), Alive: true}
		select {
		case <-w.Died():
			s.Alive = false
		default:
		}
		if usage, err := w.ResourceUsage(ctx); err == nil {
			s.Load = usage.Total()
		}
		status = append(status, s)
	}
	return status
}

// Close stops all workers and the death watchers.
func (p *WorkerPool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	workers := p.workers
	p.mu.Unlock()

	p.cancel()
	p.watchers.Wait()

	for i, w := range workers {
		if w == nil {
			continue
		}
		if err := w.Close(); err != nil {
			p.logger.Warnw("failed to close worker", "index", i, "error", err)
		}
	}
}
