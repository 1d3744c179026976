package webrtc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"huddle/internal/core/domain"
	"huddle/internal/core/ports"
	"huddle/pkg/utils"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// Router is the media context of one room: its codec set, its producers and
// the transports created from it.
type Router struct {
	id     string
	worker *Worker
	api    *webrtc.API
	codecs []domain.CodecCapability
	logger *zap.SugaredLogger

	mu        sync.RWMutex
	producers map[domain.ProducerID]*Producer
	observer  *SpeakerObserver
	closers   map[string]func() error
	closed    bool
}

var _ ports.Router = (*Router)(nil)

func (r *Router) ID() string { return r.id }

func (r *Router) Capabilities() domain.RTPCapabilities {
	return domain.RTPCapabilities{Codecs: append([]domain.CodecCapability(nil), r.codecs...)}
}

func (r *Router) producer(id domain.ProducerID) (*Producer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.producers[id]
	return p, ok
}

// CanConsume reports whether caps can receive the codec producerID is sending.
func (r *Router) CanConsume(producerID domain.ProducerID, caps domain.RTPCapabilities) bool {
	p, ok := r.producer(producerID)
	if !ok {
		return false
	}
	codec := p.Codec()
	return caps.Supports(codec.MimeType, codec.ClockRate)
}

func (r *Router) CreateWebRTCTransport(ctx context.Context, opts ports.WebRTCTransportOptions) (ports.WebRTCTransport, error) {
	if err := r.usable(); err != nil {
		return nil, err
	}

	pc, err := r.api.NewPeerConnection(webrtc.Configuration{
		ICEServers:   r.worker.cfg.ICEServers,
		SDPSemantics: webrtc.SDPSemanticsUnifiedPlan,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	t := &WebRTCTransport{
		id:       domain.TransportID(utils.NewID()),
		role:     opts.Role,
		router:   r,
		pc:       pc,
		arrivals: make(map[domain.MediaKind]chan arrival),
		slots:    make(map[domain.MediaKind]*sendSlot),
		logger:   r.logger,
	}
	t.logger = r.logger.With("transport_id", t.id, "role", opts.Role)

	if err := t.prepare(ctx, opts); err != nil {
		_ = pc.Close()
		return nil, err
	}

	r.track(string(t.id), t.Close)
	return t, nil
}

func (r *Router) CreatePlainTransport(ctx context.Context, opts ports.PlainTransportOptions) (ports.PlainTransport, error) {
	if err := r.usable(); err != nil {
		return nil, err
	}
	t := &PlainTransport{
		id:     domain.TransportID(utils.NewID()),
		router: r,
		opts:   opts,
	}
	t.logger = r.logger.With("transport_id", t.id, "plain", true)
	r.track(string(t.id), t.Close)
	return t, nil
}

func (r *Router) CreateActiveSpeakerObserver(ctx context.Context, interval time.Duration) (ports.ActiveSpeakerObserver, error) {
	if err := r.usable(); err != nil {
		return nil, err
	}
	o := NewSpeakerObserver(interval, r.logger)

	r.mu.Lock()
	r.observer = o
	r.mu.Unlock()

	o.Start()
	return o, nil
}

func (r *Router) speakerObserver() *SpeakerObserver {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.observer
}

func (r *Router) usable() error {
	if r.worker.dead() {
		return domain.ErrWorkerDied
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return domain.ErrRoomClosed
	}
	return nil
}

func (r *Router) addProducer(p *Producer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.producers[p.id] = p
}

func (r *Router) removeProducer(id domain.ProducerID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.producers, id)
}

// track registers a transport so that closing the router closes it too.
func (r *Router) track(id string, closeFn func() error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closers[id] = closeFn
}

func (r *Router) untrack(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.closers, id)
}

func (r *Router) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	closers := r.closers
	observer := r.observer
	r.closers = make(map[string]func() error)
	r.mu.Unlock()

	for id, closeFn := range closers {
		if err := closeFn(); err != nil {
			r.logger.Warnw("failed to close transport", "transport_id", id, "error", err)
		}
	}
	if observer != nil {
		_ = observer.Close()
	}
	r.worker.removeRouter(r.id)
	return nil
}
