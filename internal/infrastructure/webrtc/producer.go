package webrtc

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"huddle/internal/core/domain"
	"huddle/internal/core/ports"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

const keyframeRequestInterval = 500 * time.Millisecond

// rtpSink receives the packets of one producer.
type rtpSink interface {
	ID() domain.ConsumerID
	writeRTP(pkt *rtp.Packet)
}

// Producer reads one remote track and fans its packets out to consumers.
type Producer struct {
	id         domain.ProducerID
	kind       domain.MediaKind
	codec      domain.CodecCapability
	transport  *WebRTCTransport
	track      *webrtc.TrackRemote
	receiver   *webrtc.RTPReceiver
	ssrc       uint32
	levelExtID uint8
	logger     *zap.SugaredLogger

	paused       atomic.Bool
	lastKeyframe atomic.Int64

	mu     sync.RWMutex
	sinks  map[domain.ConsumerID]rtpSink
	closed bool
}

var _ ports.Producer = (*Producer)(nil)

func newProducer(id domain.ProducerID, kind domain.MediaKind, t *WebRTCTransport, track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) *Producer {
	params := track.Codec()
	p := &Producer{
		id:   id,
		kind: kind,
		codec: domain.CodecCapability{
			Kind:        kind,
			MimeType:    params.MimeType,
			ClockRate:   params.ClockRate,
			Channels:    params.Channels,
			PayloadType: uint8(params.PayloadType),
			FmtpLine:    params.SDPFmtpLine,
		},
		transport: t,
		track:     track,
		receiver:  receiver,
		ssrc:      uint32(track.SSRC()),
		sinks:     make(map[domain.ConsumerID]rtpSink),
		logger:    t.logger.With("producer_id", id, "kind", kind),
	}
	if kind == domain.KindAudio {
		for _, ext := range receiver.GetParameters().HeaderExtensions {
			if ext.URI == AudioLevelURI {
				p.levelExtID = uint8(ext.ID)
			}
		}
	}
	return p
}

func (p *Producer) ID() domain.ProducerID         { return p.id }
func (p *Producer) Kind() domain.MediaKind        { return p.kind }
func (p *Producer) Codec() domain.CodecCapability { return p.codec }
func (p *Producer) Paused() bool                  { return p.paused.Load() }

func (p *Producer) Pause(ctx context.Context) error {
	p.paused.Store(true)
	return nil
}

func (p *Producer) Resume(ctx context.Context) error {
	if p.paused.Swap(false) && p.kind == domain.KindVideo {
		p.requestKeyframe()
	}
	return nil
}

func (p *Producer) addSink(s rtpSink) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sinks[s.ID()] = s
}

func (p *Producer) removeSink(id domain.ConsumerID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.sinks, id)
}

func (p *Producer) snapshot() []rtpSink {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return nil
	}
	out := make([]rtpSink, 0, len(p.sinks))
	for _, s := range p.sinks {
		out = append(out, s)
	}
	return out
}

// run forwards packets until the track ends. A panic here takes the worker
// down with it.
func (p *Producer) run() {
	worker := p.transport.router.worker
	defer worker.guard()

	buf := make([]byte, 1500)
	pkt := &rtp.Packet{}
	var forwarded uint64

	for {
		n, _, err := p.track.Read(buf)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				p.logger.Debugw("track read ended", "error", err)
			}
			return
		}

		start := time.Now()
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			p.logger.Warnw("error unmarshaling RTP packet", "error", err)
			continue
		}

		// Levels are reported even while paused so a muted participant
		// can still be ranked once unmuted.
		if p.levelExtID != 0 {
			p.reportLevel(pkt)
		}

		if !p.paused.Load() {
			for _, s := range p.snapshot() {
				s.writeRTP(pkt)
			}
		}

		forwarded++
		if forwarded%1000 == 0 {
			p.logger.Debugw("forwarding RTP", "packets_forwarded", forwarded, "sequence", pkt.SequenceNumber)
		}
		worker.account(time.Since(start))
	}
}

func (p *Producer) reportLevel(pkt *rtp.Packet) {
	raw := pkt.GetExtension(p.levelExtID)
	if raw == nil {
		return
	}
	var ext rtp.AudioLevelExtension
	if err := ext.Unmarshal(raw); err != nil {
		return
	}
	if o := p.transport.router.speakerObserver(); o != nil {
		o.Report(p.id, ext.Level, ext.Voice)
	}
}

// requestKeyframe sends a PLI upstream, at most once per interval.
func (p *Producer) requestKeyframe() {
	if p.kind != domain.KindVideo {
		return
	}
	now := time.Now().UnixNano()
	last := p.lastKeyframe.Load()
	if now-last < int64(keyframeRequestInterval) || !p.lastKeyframe.CompareAndSwap(last, now) {
		return
	}
	err := p.transport.pc.WriteRTCP([]rtcp.Packet{
		&rtcp.PictureLossIndication{MediaSSRC: p.ssrc},
	})
	if err != nil {
		p.logger.Debugw("failed to request keyframe", "error", err)
	}
}

func (p *Producer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.sinks = make(map[domain.ConsumerID]rtpSink)
	p.mu.Unlock()

	p.transport.router.removeProducer(p.id)
	return p.receiver.Stop()
}
