package webrtc

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"

	"huddle/internal/core/domain"
	"huddle/internal/core/ports"
	"huddle/pkg/utils"

	"github.com/pion/rtp"
	"go.uber.org/zap"
)

// PlainTransport sends raw RTP over UDP to a single target, with RTCP muxed
// on the same port. Used to feed the HLS encoder.
type PlainTransport struct {
	id     domain.TransportID
	router *Router
	opts   ports.PlainTransportOptions
	logger *zap.SugaredLogger

	mu        sync.Mutex
	conn      *net.UDPConn
	consumers []*Consumer
	closed    bool
}

var _ ports.PlainTransport = (*PlainTransport)(nil)

func (t *PlainTransport) ID() domain.TransportID { return t.id }

func (t *PlainTransport) Connect(ctx context.Context, ip string, port int) error {
	remote, err := net.ResolveUDPAddr("udp", net.JoinHostPort(ip, strconv.Itoa(port)))
	if err != nil {
		return err
	}
	var local *net.UDPAddr
	if t.opts.ListenIP != "" {
		local = &net.UDPAddr{IP: net.ParseIP(t.opts.ListenIP)}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return domain.ErrTransportNotFound
	}
	if t.conn != nil {
		return fmt.Errorf("plain transport already connected")
	}
	conn, err := net.DialUDP("udp", local, remote)
	if err != nil {
		return err
	}
	t.conn = conn
	t.logger.Debugw("plain transport connected", "target", remote.String())
	return nil
}

func (t *PlainTransport) Consume(ctx context.Context, opts ports.ConsumeOptions) (ports.Consumer, error) {
	p, ok := t.router.producer(opts.ProducerID)
	if !ok {
		return nil, domain.ErrProducerNotFound
	}
	codec := p.Codec()
	if !opts.Capabilities.Supports(codec.MimeType, codec.ClockRate) {
		return nil, fmt.Errorf("%w: %s", domain.ErrCannotConsume, codec.MimeType)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, domain.ErrTransportNotFound
	}
	if t.conn == nil {
		return nil, fmt.Errorf("plain transport not connected")
	}

	pt := codec.PayloadType
	if rc, ok := firstCodec(t.router.codecs, p.kind); ok {
		pt = rc.PayloadType
	}
	params := domain.ConsumerParameters{
		ID:         domain.ConsumerID(utils.NewID()),
		ProducerID: p.id,
		Kind:       p.kind,
		RTPParameters: domain.ConsumerRTPParameters{
			MimeType:    codec.MimeType,
			ClockRate:   codec.ClockRate,
			Channels:    codec.Channels,
			PayloadType: pt,
			FmtpLine:    codec.FmtpLine,
			SSRC:        p.ssrc,
		},
	}

	c := newConsumer(params, p, &udpWriter{conn: t.conn, payloadType: pt}, opts.Paused, t.logger)
	t.consumers = append(t.consumers, c)
	p.addSink(c)
	return c, nil
}

func (t *PlainTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	consumers := t.consumers
	conn := t.conn
	t.mu.Unlock()

	for _, c := range consumers {
		_ = c.Close()
	}
	t.router.untrack(string(t.id))
	if conn != nil {
		return conn.Close()
	}
	return nil
}

// udpWriter rewrites the payload type to the one announced to the receiver.
type udpWriter struct {
	conn        *net.UDPConn
	payloadType uint8
	buf         []byte
}

func (w *udpWriter) WriteRTP(pkt *rtp.Packet) error {
	out := *pkt
	out.Header.PayloadType = w.payloadType
	size := out.MarshalSize()
	if cap(w.buf) < size {
		w.buf = make([]byte, size)
	}
	n, err := out.MarshalTo(w.buf[:size])
	if err != nil {
		return err
	}
	_, err = w.conn.Write(w.buf[:n])
	return err
}
