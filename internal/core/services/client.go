package services

import (
	"context"
	"fmt"
	"sync"

	"huddle/internal/core/domain"
	"huddle/internal/core/ports"

	"go.uber.org/zap"
)

type ClientState int

const (
	ClientJoining ClientState = iota
	ClientIdle
	ClientPublishing
	ClientLeaving
	ClientClosed
)

func (s ClientState) String() string {
	switch s {
	case ClientJoining:
		return "joining"
	case ClientIdle:
		return "idle"
	case ClientPublishing:
		return "publishing"
	case ClientLeaving:
		return "leaving"
	case ClientClosed:
		return "closed"
	default:
		return "unknown"
	}
}

type consumerKey struct {
	peer domain.ProducerID
	kind domain.MediaKind
}

type consumerEntry struct {
	consumer ports.Consumer
	// ready is set once the participant confirmed it can receive; only ready
	// consumers are resumed by the scheduler.
	ready bool
}

// downstream bundles one remote peer's consumers, keyed by its audio producer.
type downstream struct {
	peerAudioID domain.ProducerID
	peerVideoID domain.ProducerID
	transport   ports.WebRTCTransport
}

// Client is the server-side state of one connected participant.
type Client struct {
	conn     domain.ConnectionID
	userName string
	logger   *zap.SugaredLogger
	metrics  ports.ConferenceMetrics

	mu          sync.Mutex
	state       ClientState
	room        *Room
	upstream    ports.WebRTCTransport
	producers   map[domain.MediaKind]ports.Producer
	selfMuted   bool
	downstreams map[domain.ProducerID]*downstream
	videoAlias  map[domain.ProducerID]domain.ProducerID // remote video id -> remote audio id
	consumers   map[consumerKey]*consumerEntry
	pending     map[domain.ProducerID]struct{}
}

func NewClient(conn domain.ConnectionID, userName string, metrics ports.ConferenceMetrics, logger *zap.SugaredLogger) *Client {
	return &Client{
		conn:        conn,
		userName:    userName,
		logger:      logger.With("connection_id", conn, "user", userName),
		metrics:     metrics,
		state:       ClientJoining,
		producers:   make(map[domain.MediaKind]ports.Producer),
		downstreams: make(map[domain.ProducerID]*downstream),
		videoAlias:  make(map[domain.ProducerID]domain.ProducerID),
		consumers:   make(map[consumerKey]*consumerEntry),
		pending:     make(map[domain.ProducerID]struct{}),
	}
}

func (c *Client) ConnectionID() domain.ConnectionID { return c.conn }
func (c *Client) UserName() string                  { return c.userName }

func (c *Client) State() ClientState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) Room() *Room {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.room
}

func (c *Client) attach(room *Room) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != ClientJoining {
		return fmt.Errorf("%w: state %s", domain.ErrClientClosed, c.state)
	}
	c.room = room
	c.state = ClientIdle
	return nil
}

func (c *Client) usableLocked() error {
	if c.state == ClientLeaving || c.state == ClientClosed {
		return domain.ErrClientClosed
	}
	return nil
}

func (c *Client) Upstream() ports.WebRTCTransport {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.upstream
}

// setUpstream stores t unless an upstream already exists, in which case the
// existing one is returned and the caller must close t.
func (c *Client) setUpstream(t ports.WebRTCTransport) (ports.WebRTCTransport, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.usableLocked(); err != nil {
		return nil, err
	}
	if c.upstream != nil {
		return c.upstream, nil
	}
	c.upstream = t
	return nil, nil
}

func (c *Client) hasProducer(kind domain.MediaKind) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.producers[kind]
	return ok
}

func (c *Client) addProducer(p ports.Producer) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.usableLocked(); err != nil {
		return err
	}
	if _, exists := c.producers[p.Kind()]; exists {
		return domain.ErrProducerExists
	}
	c.producers[p.Kind()] = p
	c.state = ClientPublishing
	return nil
}

func (c *Client) producerID(kind domain.MediaKind) (domain.ProducerID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.producers[kind]; ok {
		return p.ID(), true
	}
	return "", false
}

// addDownstream registers a transport bundling the given peer. When one is
// already registered it is returned and the caller must close t.
func (c *Client) addDownstream(peerAudioID, peerVideoID domain.ProducerID, t ports.WebRTCTransport) (*downstream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.usableLocked(); err != nil {
		return nil, err
	}
	if existing, ok := c.downstreams[peerAudioID]; ok {
		return existing, nil
	}
	c.downstreams[peerAudioID] = &downstream{
		peerAudioID: peerAudioID,
		peerVideoID: peerVideoID,
		transport:   t,
	}
	if peerVideoID != "" {
		c.videoAlias[peerVideoID] = peerAudioID
	}
	delete(c.pending, peerAudioID)
	return nil, nil
}

// aliasVideo attaches a peer's late video producer to the downstream that
// already bundles its audio.
func (c *Client) aliasVideo(peerAudioID, peerVideoID domain.ProducerID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ds, ok := c.downstreams[peerAudioID]; ok {
		ds.peerVideoID = peerVideoID
		c.videoAlias[peerVideoID] = peerAudioID
	}
}

func (c *Client) downstreamByPeer(peerAudioID domain.ProducerID) (*downstream, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ds, ok := c.downstreams[peerAudioID]
	return ds, ok
}

// downstreamFor resolves a remote producer id of either kind to its bundle.
func (c *Client) downstreamFor(producerID domain.ProducerID, kind domain.MediaKind) (*downstream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	peer := producerID
	if kind == domain.KindVideo {
		alias, ok := c.videoAlias[producerID]
		if !ok {
			return nil, fmt.Errorf("%w: no transport bundles video %s", domain.ErrTransportNotFound, producerID)
		}
		peer = alias
	}
	ds, ok := c.downstreams[peer]
	if !ok {
		return nil, fmt.Errorf("%w: no transport bundles %s", domain.ErrTransportNotFound, producerID)
	}
	return ds, nil
}

func (c *Client) consumer(peerAudioID domain.ProducerID, kind domain.MediaKind) (ports.Consumer, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.consumers[consumerKey{peer: peerAudioID, kind: kind}]
	if !ok {
		return nil, false
	}
	return entry.consumer, true
}

func (c *Client) addConsumer(peerAudioID domain.ProducerID, consumer ports.Consumer) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.usableLocked(); err != nil {
		return err
	}
	key := consumerKey{peer: peerAudioID, kind: consumer.Kind()}
	if _, exists := c.consumers[key]; exists {
		return fmt.Errorf("%w: consumer for %s/%s already exists", domain.ErrConsume, peerAudioID, consumer.Kind())
	}
	c.consumers[key] = &consumerEntry{consumer: consumer}
	return nil
}

// markReady flags the consumer as confirmed by the participant.
func (c *Client) markReady(peerAudioID domain.ProducerID, kind domain.MediaKind) (ports.Consumer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.consumers[consumerKey{peer: peerAudioID, kind: kind}]
	if !ok {
		return nil, domain.ErrConsumerNotFound
	}
	entry.ready = true
	return entry.consumer, nil
}

// setSelfMuted pauses or resumes the audio producer on participant request.
// Unmuting only resumes when the scheduler currently forwards this speaker.
func (c *Client) setSelfMuted(ctx context.Context, mute, forwarded bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.selfMuted = mute

	p, ok := c.producers[domain.KindAudio]
	if !ok {
		return domain.ErrProducerNotFound
	}
	if mute {
		return p.Pause(ctx)
	}
	if forwarded {
		return p.Resume(ctx)
	}
	return nil
}

func (c *Client) OwnsProducer(id domain.ProducerID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.producers[domain.KindAudio]
	return ok && p.ID() == id
}

func (c *Client) HasSubscription(id domain.ProducerID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.downstreams[id]
	return ok
}

func (c *Client) PauseOwn(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for kind, p := range c.producers {
		if err := p.Pause(ctx); err != nil {
			c.logger.Warnw("failed to pause producer", "kind", kind, "producer_id", p.ID(), "error", err)
		}
	}
}

func (c *Client) ResumeOwn(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for kind, p := range c.producers {
		if kind == domain.KindAudio && c.selfMuted {
			continue
		}
		if err := p.Resume(ctx); err != nil {
			c.logger.Warnw("failed to resume producer", "kind", kind, "producer_id", p.ID(), "error", err)
		}
	}
}

func (c *Client) PauseSubscription(ctx context.Context, id domain.ProducerID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, kind := range []domain.MediaKind{domain.KindAudio, domain.KindVideo} {
		entry, ok := c.consumers[consumerKey{peer: id, kind: kind}]
		if !ok {
			continue
		}
		if err := entry.consumer.Pause(ctx); err != nil {
			c.logger.Warnw("failed to pause consumer", "peer", id, "kind", kind, "error", err)
		}
	}
}

func (c *Client) ResumeSubscription(ctx context.Context, id domain.ProducerID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, kind := range []domain.MediaKind{domain.KindAudio, domain.KindVideo} {
		entry, ok := c.consumers[consumerKey{peer: id, kind: kind}]
		if !ok || !entry.ready {
			continue
		}
		if err := entry.consumer.Resume(ctx); err != nil {
			c.logger.Warnw("failed to resume consumer", "peer", id, "kind", kind, "error", err)
		}
	}
}

func (c *Client) MarkPending(id domain.ProducerID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.pending[id]; ok {
		return false
	}
	c.pending[id] = struct{}{}
	return true
}

func (c *Client) ClearPending(id domain.ProducerID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, id)
}

// beginLeave moves the client to Leaving so that no further resources can be
// attached, and returns false when leave already started.
func (c *Client) beginLeave() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == ClientLeaving || c.state == ClientClosed {
		return false
	}
	c.state = ClientLeaving
	return true
}

// close releases every producer, consumer and transport. Close errors are
// logged and swallowed; calling close twice is a no-op.
func (c *Client) close() {
	c.mu.Lock()
	if c.state == ClientClosed {
		c.mu.Unlock()
		return
	}
	c.state = ClientClosed
	consumers := c.consumers
	downstreams := c.downstreams
	producers := c.producers
	upstream := c.upstream
	c.consumers = make(map[consumerKey]*consumerEntry)
	c.downstreams = make(map[domain.ProducerID]*downstream)
	c.videoAlias = make(map[domain.ProducerID]domain.ProducerID)
	c.producers = make(map[domain.MediaKind]ports.Producer)
	c.pending = make(map[domain.ProducerID]struct{})
	c.upstream = nil
	c.mu.Unlock()

	for key, entry := range consumers {
		if entry == nil || entry.consumer == nil {
			continue
		}
		if err := entry.consumer.Close(); err != nil {
			c.logger.Warnw("failed to close consumer", "peer", key.peer, "kind", key.kind, "error", err)
		}
		c.metrics.ConsumerClosed(key.kind)
	}
	for peer, ds := range downstreams {
		if ds == nil || ds.transport == nil {
			continue
		}
		if err := ds.transport.Close(); err != nil {
			c.logger.Warnw("failed to close downstream transport", "peer", peer, "error", err)
		}
	}
	for kind, p := range producers {
		if p == nil {
			continue
		}
		if err := p.Close(); err != nil {
			c.logger.Warnw("failed to close producer", "kind", kind, "error", err)
		}
		c.metrics.ProducerClosed(kind)
	}
	if upstream != nil {
		if err := upstream.Close(); err != nil {
			c.logger.Warnw("failed to close upstream transport", "error", err)
		}
	}
}
