package webrtc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"huddle/internal/core/domain"
	"huddle/internal/core/ports"
	"huddle/pkg/utils"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

type arrival struct {
	track    *webrtc.TrackRemote
	receiver *webrtc.RTPReceiver
}

// sendSlot is a pre-negotiated outgoing track of a consumer transport. A
// consumer binds to the slot of its kind.
type sendSlot struct {
	codec       domain.CodecCapability
	track       *webrtc.TrackLocalStaticRTP
	transceiver *webrtc.RTPTransceiver
	consumer    *Consumer
}

// WebRTCTransport wraps one PeerConnection. Producer transports offer
// receive-only audio and video sections; consumer transports offer one
// send-only section per kind so a downstream bundles a peer's audio and video
// without renegotiation.
type WebRTCTransport struct {
	id     domain.TransportID
	role   domain.TransportRole
	router *Router
	pc     *webrtc.PeerConnection
	logger *zap.SugaredLogger

	mu        sync.Mutex
	arrivals  map[domain.MediaKind]chan arrival
	slots     map[domain.MediaKind]*sendSlot
	producers []*Producer
	connected bool
	closed    bool
}

var _ ports.WebRTCTransport = (*WebRTCTransport)(nil)

func (t *WebRTCTransport) ID() domain.TransportID { return t.id }

func (t *WebRTCTransport) prepare(ctx context.Context, opts ports.WebRTCTransportOptions) error {
	kinds := []domain.MediaKind{domain.KindAudio, domain.KindVideo}

	switch opts.Role {
	case domain.RoleProducer:
		for _, kind := range kinds {
			if _, ok := firstCodec(t.router.codecs, kind); !ok {
				continue
			}
			if _, err := t.pc.AddTransceiverFromKind(codecType(kind), webrtc.RTPTransceiverInit{
				Direction: webrtc.RTPTransceiverDirectionRecvonly,
			}); err != nil {
				return fmt.Errorf("failed to add %s transceiver: %w", kind, err)
			}
			t.arrivals[kind] = make(chan arrival, 1)
		}
		t.pc.OnTrack(t.handleTrack)

	case domain.RoleConsumer:
		for _, kind := range kinds {
			codec, ok := firstCodec(t.router.codecs, kind)
			if !ok {
				continue
			}
			track, err := webrtc.NewTrackLocalStaticRTP(codecParameters(codec).RTPCodecCapability, string(kind), string(t.id))
			if err != nil {
				return fmt.Errorf("failed to create %s track: %w", kind, err)
			}
			transceiver, err := t.pc.AddTransceiverFromTrack(track, webrtc.RTPTransceiverInit{
				Direction: webrtc.RTPTransceiverDirectionSendonly,
			})
			if err != nil {
				return fmt.Errorf("failed to add %s transceiver: %w", kind, err)
			}
			slot := &sendSlot{codec: codec, track: track, transceiver: transceiver}
			t.slots[kind] = slot
			go t.readSenderRTCP(slot)
		}

	default:
		return fmt.Errorf("unknown transport role %q", opts.Role)
	}

	t.pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		t.logger.Debugw("transport connection state changed", "state", state)
	})

	offer, err := t.pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("failed to create offer: %w", err)
	}
	gathered := webrtc.GatheringCompletePromise(t.pc)
	if err := t.pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("failed to set local description: %w", err)
	}

	select {
	case <-gathered:
	case <-ctx.Done():
		return ctx.Err()
	}

	if opts.InitialOutgoingBitrate > 0 || opts.MaxIncomingBitrate > 0 {
		t.logger.Debugw("transport bitrate hints",
			"initial_outgoing", opts.InitialOutgoingBitrate,
			"max_incoming", opts.MaxIncomingBitrate,
		)
	}
	return nil
}

func (t *WebRTCTransport) handleTrack(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
	kind := mediaKind(track.Kind())

	t.mu.Lock()
	ch := t.arrivals[kind]
	t.mu.Unlock()
	if ch == nil {
		t.logger.Warnw("unexpected track", "kind", kind, "track_id", track.ID())
		return
	}

	select {
	case ch <- arrival{track: track, receiver: receiver}:
		t.logger.Debugw("track arrived", "kind", kind, "codec", track.Codec().MimeType)
	default:
		t.logger.Warnw("duplicate track ignored", "kind", kind, "track_id", track.ID())
	}
}

func (t *WebRTCTransport) Parameters() domain.TransportParameters {
	params := domain.TransportParameters{ID: t.id, Role: t.role}
	if desc := t.pc.LocalDescription(); desc != nil {
		params.Type = desc.Type.String()
		params.SDP = desc.SDP
	}
	return params
}

// Connect applies the participant's answer, completing ICE and DTLS setup.
func (t *WebRTCTransport) Connect(ctx context.Context, params domain.SecurityParameters) error {
	if params.Type != "" && params.Type != webrtc.SDPTypeAnswer.String() {
		return fmt.Errorf("expected answer, got %q", params.Type)
	}
	if params.SDP == "" {
		return errors.New("missing sdp")
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return domain.ErrTransportNotFound
	}
	if t.connected {
		return nil
	}
	if err := t.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: params.SDP}); err != nil {
		return err
	}
	t.connected = true
	return nil
}

// Produce waits for the announced track to arrive, bounded by the handshake
// timeout, and starts forwarding it.
func (t *WebRTCTransport) Produce(ctx context.Context, kind domain.MediaKind, rtpParameters json.RawMessage) (ports.Producer, error) {
	if t.role != domain.RoleProducer {
		return nil, fmt.Errorf("transport %s cannot produce", t.role)
	}
	if len(rtpParameters) > 0 && !json.Valid(rtpParameters) {
		return nil, errors.New("malformed rtp parameters")
	}

	t.mu.Lock()
	ch, ok := t.arrivals[kind]
	connected := t.connected
	t.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("no %s codec configured", kind)
	}
	if !connected {
		return nil, errors.New("transport not connected")
	}

	timer := time.NewTimer(t.router.worker.cfg.HandshakeTimeout)
	defer timer.Stop()

	var a arrival
	select {
	case a = <-ch:
	case <-timer.C:
		return nil, fmt.Errorf("%w: no %s track", domain.ErrHandshakeTimeout, kind)
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-t.router.worker.Died():
		return nil, domain.ErrWorkerDied
	}

	p := newProducer(domain.ProducerID(utils.NewID()), kind, t, a.track, a.receiver)

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, domain.ErrTransportNotFound
	}
	t.producers = append(t.producers, p)
	t.mu.Unlock()

	t.router.addProducer(p)
	go p.run()
	return p, nil
}

func (t *WebRTCTransport) Consume(ctx context.Context, opts ports.ConsumeOptions) (ports.Consumer, error) {
	if t.role != domain.RoleConsumer {
		return nil, fmt.Errorf("transport %s cannot consume", t.role)
	}
	p, ok := t.router.producer(opts.ProducerID)
	if !ok {
		return nil, domain.ErrProducerNotFound
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, domain.ErrTransportNotFound
	}
	slot, ok := t.slots[p.kind]
	if !ok {
		return nil, fmt.Errorf("%w: no %s slot", domain.ErrCannotConsume, p.kind)
	}
	if slot.consumer != nil {
		return nil, fmt.Errorf("%s slot already bound to %s", p.kind, slot.consumer.ProducerID())
	}
	if codec := p.Codec(); !opts.Capabilities.Supports(codec.MimeType, codec.ClockRate) || codec.MimeType != slot.codec.MimeType {
		return nil, fmt.Errorf("%w: %s", domain.ErrCannotConsume, codec.MimeType)
	}

	params := domain.ConsumerParameters{
		ID:         domain.ConsumerID(utils.NewID()),
		ProducerID: p.id,
		Kind:       p.kind,
		RTPParameters: domain.ConsumerRTPParameters{
			Mid:         slot.transceiver.Mid(),
			MimeType:    slot.codec.MimeType,
			ClockRate:   slot.codec.ClockRate,
			Channels:    slot.codec.Channels,
			PayloadType: slot.codec.PayloadType,
			FmtpLine:    slot.codec.FmtpLine,
		},
	}
	if sender := slot.transceiver.Sender(); sender != nil {
		if enc := sender.GetParameters().Encodings; len(enc) > 0 {
			params.RTPParameters.SSRC = uint32(enc[0].SSRC)
		}
	}

	c := newConsumer(params, p, slot.track, opts.Paused, t.logger)
	c.onClose = func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if slot.consumer == c {
			slot.consumer = nil
		}
	}
	slot.consumer = c
	p.addSink(c)
	return c, nil
}

// readSenderRTCP relays key frame requests from the participant to the
// producer feeding the slot.
func (t *WebRTCTransport) readSenderRTCP(slot *sendSlot) {
	defer t.router.worker.guard()
	sender := slot.transceiver.Sender()
	if sender == nil {
		return
	}
	for {
		packets, _, err := sender.ReadRTCP()
		if err != nil {
			return
		}
		for _, packet := range packets {
			switch packet.(type) {
			case *rtcp.PictureLossIndication, *rtcp.FullIntraRequest:
				t.mu.Lock()
				c := slot.consumer
				t.mu.Unlock()
				if c != nil {
					c.producer.requestKeyframe()
				}
			}
		}
	}
}

func (t *WebRTCTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	producers := t.producers
	var consumers []*Consumer
	for _, slot := range t.slots {
		if slot.consumer != nil {
			consumers = append(consumers, slot.consumer)
		}
	}
	t.mu.Unlock()

	for _, c := range consumers {
		_ = c.Close()
	}
	for _, p := range producers {
		_ = p.Close()
	}
	t.router.untrack(string(t.id))
	return t.pc.Close()
}
