// Package testutils provides in-memory media engine and signaling doubles
// for exercising the conference services without a real WebRTC stack.
package testutils

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"huddle/internal/core/domain"
	"huddle/internal/core/ports"
)

var _ ports.MediaEngine = (*FakeEngine)(nil)

// FakeEngine creates FakeWorkers. Every object it hands out shares one id
// sequence so ids are unique and predictable within a test.
type FakeEngine struct {
	seq atomic.Int64

	mu        sync.Mutex
	workers   []*FakeWorker
	createErr error
}

func NewFakeEngine() *FakeEngine {
	return &FakeEngine{}
}

func (e *FakeEngine) nextID(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, e.seq.Add(1))
}

// FailCreate makes subsequent CreateWorker calls fail with err.
func (e *FakeEngine) FailCreate(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.createErr = err
}

func (e *FakeEngine) CreateWorker(ctx context.Context, index int) (ports.MediaWorker, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.createErr != nil {
		return nil, e.createErr
	}
	w := &FakeWorker{
		engine: e,
		id:     e.nextID(fmt.Sprintf("worker%d", index)),
		index:  index,
		died:   make(chan struct{}),
	}
	e.workers = append(e.workers, w)
	return w, nil
}

// Workers returns every worker created so far, replacements included.
func (e *FakeEngine) Workers() []*FakeWorker {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*FakeWorker(nil), e.workers...)
}

type FakeWorker struct {
	engine *FakeEngine
	id     string
	index  int
	died   chan struct{}

	mu        sync.Mutex
	load      time.Duration
	usageErr  error
	routers   []*FakeRouter
	closed    bool
	killed    bool
	sampleHit int
}

func (w *FakeWorker) ID() string { return w.id }
func (w *FakeWorker) Index() int { return w.index }

func (w *FakeWorker) SetLoad(load time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.load = load
}

func (w *FakeWorker) FailUsage(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.usageErr = err
}

func (w *FakeWorker) Samples() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.sampleHit
}

// Kill simulates an unexpected worker exit.
func (w *FakeWorker) Kill() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.killed {
		w.killed = true
		close(w.died)
	}
}

func (w *FakeWorker) Closed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}

func (w *FakeWorker) Routers() []*FakeRouter {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]*FakeRouter(nil), w.routers...)
}

func (w *FakeWorker) dead() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.killed
}

func (w *FakeWorker) ResourceUsage(ctx context.Context) (ports.ResourceUsage, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.sampleHit++
	if w.usageErr != nil {
		return ports.ResourceUsage{}, w.usageErr
	}
	return ports.ResourceUsage{UserTime: w.load}, nil
}

func (w *FakeWorker) CreateRouter(ctx context.Context, codecs []domain.CodecCapability) (ports.Router, error) {
	if w.dead() {
		return nil, domain.ErrWorkerDied
	}
	r := &FakeRouter{
		worker:    w,
		id:        w.engine.nextID("router"),
		caps:      domain.RTPCapabilities{Codecs: append([]domain.CodecCapability(nil), codecs...)},
		producers: make(map[domain.ProducerID]*FakeProducer),
	}
	w.mu.Lock()
	w.routers = append(w.routers, r)
	w.mu.Unlock()
	return r, nil
}

func (w *FakeWorker) Died() <-chan struct{} { return w.died }

func (w *FakeWorker) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

type FakeRouter struct {
	worker *FakeWorker
	id     string
	caps   domain.RTPCapabilities

	mu         sync.Mutex
	producers  map[domain.ProducerID]*FakeProducer
	transports []*FakeTransport
	plain      []*FakePlainTransport
	observer   *FakeObserver
	closed     bool
}

func (r *FakeRouter) ID() string                           { return r.id }
func (r *FakeRouter) Capabilities() domain.RTPCapabilities { return r.caps }

func (r *FakeRouter) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func (r *FakeRouter) Observer() *FakeObserver {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.observer
}

func (r *FakeRouter) Transports() []*FakeTransport {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*FakeTransport(nil), r.transports...)
}

func (r *FakeRouter) PlainTransports() []*FakePlainTransport {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*FakePlainTransport(nil), r.plain...)
}

func (r *FakeRouter) Producer(id domain.ProducerID) *FakeProducer {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.producers[id]
}

func (r *FakeRouter) CanConsume(producerID domain.ProducerID, caps domain.RTPCapabilities) bool {
	p := r.Producer(producerID)
	if p == nil || p.Closed() {
		return false
	}
	for _, codec := range r.caps.Codecs {
		if codec.Kind == p.kind && caps.Supports(codec.MimeType, codec.ClockRate) {
			return true
		}
	}
	return false
}

func (r *FakeRouter) CreateWebRTCTransport(ctx context.Context, opts ports.WebRTCTransportOptions) (ports.WebRTCTransport, error) {
	if r.worker.dead() {
		return nil, domain.ErrWorkerDied
	}
	id := domain.TransportID(r.worker.engine.nextID("transport"))
	t := &FakeTransport{
		router: r,
		id:     id,
		role:   opts.Role,
	}
	r.mu.Lock()
	r.transports = append(r.transports, t)
	r.mu.Unlock()
	return t, nil
}

func (r *FakeRouter) CreatePlainTransport(ctx context.Context, opts ports.PlainTransportOptions) (ports.PlainTransport, error) {
	if r.worker.dead() {
		return nil, domain.ErrWorkerDied
	}
	t := &FakePlainTransport{
		router: r,
		id:     domain.TransportID(r.worker.engine.nextID("plain")),
		opts:   opts,
	}
	r.mu.Lock()
	r.plain = append(r.plain, t)
	r.mu.Unlock()
	return t, nil
}

func (r *FakeRouter) CreateActiveSpeakerObserver(ctx context.Context, interval time.Duration) (ports.ActiveSpeakerObserver, error) {
	o := &FakeObserver{interval: interval, tracked: make(map[domain.ProducerID]bool)}
	r.mu.Lock()
	r.observer = o
	r.mu.Unlock()
	return o, nil
}

func (r *FakeRouter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *FakeRouter) newConsumer(opts ports.ConsumeOptions) (*FakeConsumer, error) {
	if r.worker.dead() {
		return nil, domain.ErrWorkerDied
	}
	p := r.Producer(opts.ProducerID)
	if p == nil {
		return nil, domain.ErrProducerNotFound
	}
	c := &FakeConsumer{
		id:       domain.ConsumerID(r.worker.engine.nextID("consumer")),
		producer: p,
		paused:   opts.Paused,
	}
	for _, codec := range r.caps.Codecs {
		if codec.Kind == p.kind {
			c.params = domain.ConsumerParameters{
				ID:         c.id,
				ProducerID: p.id,
				Kind:       p.kind,
				RTPParameters: domain.ConsumerRTPParameters{
					MimeType:    codec.MimeType,
					ClockRate:   codec.ClockRate,
					Channels:    codec.Channels,
					PayloadType: codec.PayloadType,
					FmtpLine:    codec.FmtpLine,
				},
			}
			break
		}
	}
	p.addConsumer(c)
	return c, nil
}

type FakeTransport struct {
	router *FakeRouter
	id     domain.TransportID
	role   domain.TransportRole

	mu         sync.Mutex
	connected  bool
	connectErr error
	produceErr error
	consumers  []*FakeConsumer
	closed     bool
}

func (t *FakeTransport) ID() domain.TransportID { return t.id }

func (t *FakeTransport) Role() domain.TransportRole { return t.role }

func (t *FakeTransport) Parameters() domain.TransportParameters {
	return domain.TransportParameters{
		ID:   t.id,
		Role: t.role,
		Type: "offer",
		SDP:  "v=0 fake-offer " + string(t.id),
	}
}

func (t *FakeTransport) FailConnect(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connectErr = err
}

func (t *FakeTransport) FailProduce(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.produceErr = err
}

func (t *FakeTransport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

func (t *FakeTransport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *FakeTransport) Connect(ctx context.Context, params domain.SecurityParameters) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.connectErr != nil {
		return t.connectErr
	}
	if t.router.worker.dead() {
		return domain.ErrWorkerDied
	}
	t.connected = true
	return nil
}

func (t *FakeTransport) Produce(ctx context.Context, kind domain.MediaKind, rtpParameters json.RawMessage) (ports.Producer, error) {
	t.mu.Lock()
	err := t.produceErr
	t.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if t.router.worker.dead() {
		return nil, domain.ErrWorkerDied
	}

	p := &FakeProducer{
		id:   domain.ProducerID(t.router.worker.engine.nextID(string(kind))),
		kind: kind,
	}
	t.router.mu.Lock()
	t.router.producers[p.id] = p
	t.router.mu.Unlock()
	return p, nil
}

func (t *FakeTransport) Consume(ctx context.Context, opts ports.ConsumeOptions) (ports.Consumer, error) {
	c, err := t.router.newConsumer(opts)
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	t.consumers = append(t.consumers, c)
	t.mu.Unlock()
	return c, nil
}

func (t *FakeTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

type FakePlainTransport struct {
	router *FakeRouter
	id     domain.TransportID
	opts   ports.PlainTransportOptions

	mu        sync.Mutex
	ip        string
	port      int
	consumers []*FakeConsumer
	closed    bool
}

func (t *FakePlainTransport) ID() domain.TransportID { return t.id }

func (t *FakePlainTransport) Options() ports.PlainTransportOptions { return t.opts }

func (t *FakePlainTransport) Target() (string, int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ip, t.port
}

func (t *FakePlainTransport) Consumers() []*FakeConsumer {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*FakeConsumer(nil), t.consumers...)
}

func (t *FakePlainTransport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *FakePlainTransport) Connect(ctx context.Context, ip string, port int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ip, t.port = ip, port
	return nil
}

func (t *FakePlainTransport) Consume(ctx context.Context, opts ports.ConsumeOptions) (ports.Consumer, error) {
	c, err := t.router.newConsumer(opts)
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	t.consumers = append(t.consumers, c)
	t.mu.Unlock()
	return c, nil
}

func (t *FakePlainTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

type FakeProducer struct {
	id   domain.ProducerID
	kind domain.MediaKind

	mu        sync.Mutex
	paused    bool
	pauses    int
	resumes   int
	closed    bool
	consumers []*FakeConsumer
}

func (p *FakeProducer) ID() domain.ProducerID  { return p.id }
func (p *FakeProducer) Kind() domain.MediaKind { return p.kind }

func (p *FakeProducer) Paused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

func (p *FakeProducer) Pause(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paused = true
	p.pauses++
	return nil
}

func (p *FakeProducer) Resume(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paused = false
	p.resumes++
	return nil
}

// Calls reports how many times Pause and Resume were invoked.
func (p *FakeProducer) Calls() (pauses, resumes int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pauses, p.resumes
}

func (p *FakeProducer) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *FakeProducer) Consumers() []*FakeConsumer {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*FakeConsumer(nil), p.consumers...)
}

func (p *FakeProducer) addConsumer(c *FakeConsumer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.consumers = append(p.consumers, c)
}

func (p *FakeProducer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

type FakeConsumer struct {
	id       domain.ConsumerID
	producer *FakeProducer
	params   domain.ConsumerParameters

	mu      sync.Mutex
	paused  bool
	pauses  int
	resumes int
	closed  bool
}

func (c *FakeConsumer) ID() domain.ConsumerID                 { return c.id }
func (c *FakeConsumer) ProducerID() domain.ProducerID         { return c.producer.id }
func (c *FakeConsumer) Kind() domain.MediaKind                { return c.producer.kind }
func (c *FakeConsumer) Parameters() domain.ConsumerParameters { return c.params }

func (c *FakeConsumer) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

func (c *FakeConsumer) Pause(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paused = true
	c.pauses++
	return nil
}

func (c *FakeConsumer) Resume(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paused = false
	c.resumes++
	return nil
}

func (c *FakeConsumer) Calls() (pauses, resumes int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pauses, c.resumes
}

func (c *FakeConsumer) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *FakeConsumer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// FakeObserver records tracked producers; Emit plays the role of the audio
// level sampler declaring a dominant speaker.
type FakeObserver struct {
	interval time.Duration

	mu      sync.Mutex
	tracked map[domain.ProducerID]bool
	handler func(domain.ProducerID)
	closed  bool
}

func (o *FakeObserver) Interval() time.Duration { return o.interval }

func (o *FakeObserver) AddProducer(id domain.ProducerID) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.tracked[id] = true
	return nil
}

func (o *FakeObserver) RemoveProducer(id domain.ProducerID) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.tracked, id)
	return nil
}

func (o *FakeObserver) Tracks(id domain.ProducerID) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.tracked[id]
}

func (o *FakeObserver) OnDominantSpeaker(handler func(domain.ProducerID)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.handler = handler
}

// Emit synchronously delivers a dominant speaker event.
func (o *FakeObserver) Emit(id domain.ProducerID) {
	o.mu.Lock()
	handler := o.handler
	o.mu.Unlock()
	if handler != nil {
		handler(id)
	}
}

func (o *FakeObserver) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed = true
	return nil
}
