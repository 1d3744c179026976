package webrtc

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"huddle/internal/core/domain"
	"huddle/internal/core/ports"

	"github.com/pion/rtp"
	"go.uber.org/zap"
)

type rtpWriter interface {
	WriteRTP(pkt *rtp.Packet) error
}

// Consumer forwards one producer's packets to a writer. A paused consumer
// drops packets; a resumed video consumer waits for a key frame so the
// decoder never starts mid-GOP.
type Consumer struct {
	params   domain.ConsumerParameters
	producer *Producer
	writer   rtpWriter
	logger   *zap.SugaredLogger

	paused       atomic.Bool
	waitKeyframe atomic.Bool

	closeOnce sync.Once
	onClose   func()
}

var _ ports.Consumer = (*Consumer)(nil)

func newConsumer(params domain.ConsumerParameters, p *Producer, w rtpWriter, paused bool, logger *zap.SugaredLogger) *Consumer {
	c := &Consumer{
		params:   params,
		producer: p,
		writer:   w,
		logger:   logger.With("consumer_id", params.ID, "producer_id", p.id),
	}
	c.paused.Store(paused)
	c.waitKeyframe.Store(p.kind == domain.KindVideo)
	return c
}

func (c *Consumer) ID() domain.ConsumerID                 { return c.params.ID }
func (c *Consumer) ProducerID() domain.ProducerID         { return c.params.ProducerID }
func (c *Consumer) Kind() domain.MediaKind                { return c.params.Kind }
func (c *Consumer) Parameters() domain.ConsumerParameters { return c.params }
func (c *Consumer) Paused() bool                          { return c.paused.Load() }

func (c *Consumer) Pause(ctx context.Context) error {
	c.paused.Store(true)
	return nil
}

func (c *Consumer) Resume(ctx context.Context) error {
	if !c.paused.Swap(false) {
		return nil
	}
	if c.params.Kind == domain.KindVideo {
		c.waitKeyframe.Store(true)
		c.producer.requestKeyframe()
	}
	return nil
}

func (c *Consumer) writeRTP(pkt *rtp.Packet) {
	if c.paused.Load() {
		return
	}
	if c.waitKeyframe.Load() {
		if !isKeyframe(c.params.RTPParameters.MimeType, pkt.Payload) {
			c.producer.requestKeyframe()
			return
		}
		c.waitKeyframe.Store(false)
	}
	if err := c.writer.WriteRTP(pkt); err != nil && !errors.Is(err, io.ErrClosedPipe) {
		c.logger.Debugw("error writing RTP packet", "error", err)
	}
}

func (c *Consumer) Close() error {
	c.closeOnce.Do(func() {
		c.producer.removeSink(c.params.ID)
		if c.onClose != nil {
			c.onClose()
		}
	})
	return nil
}
