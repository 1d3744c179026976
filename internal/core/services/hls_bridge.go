package services

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"huddle/internal/core/domain"
	"huddle/internal/core/ports"

	"go.uber.org/zap"
)

// PortAllocator hands out RTP ports from a monotonically increasing pool.
// Ports are never reused; the stride keeps the odd RTCP port free even when
// RTCP is multiplexed.
type PortAllocator struct {
	mu     sync.Mutex
	next   int
	stride int
}

func NewPortAllocator(base, stride int) *PortAllocator {
	if stride <= 0 {
		stride = 2
	}
	return &PortAllocator{next: base, stride: stride}
}

func (a *PortAllocator) Next() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	port := a.next
	a.next += a.stride
	return port
}

// SpeakerMedia is one speaker of the active window.
type SpeakerMedia struct {
	AudioID domain.ProducerID
	VideoID domain.ProducerID
}

type hlsTap struct {
	info      domain.HLSTapInfo
	transport ports.PlainTransport
	consumer  ports.Consumer
}

// HLSBridge taps the producers of a room's active window into one-way RTP
// transports for the external packager.
type HLSBridge struct {
	room     domain.RoomName
	router   ports.Router
	ports    *PortAllocator
	listenIP string
	output   ports.RoomOutput
	metrics  ports.ConferenceMetrics
	logger   *zap.SugaredLogger

	mu     sync.Mutex
	taps   map[domain.ProducerID]*hlsTap
	closed bool
}

func NewHLSBridge(room domain.RoomName, router ports.Router, allocator *PortAllocator, listenIP string, output ports.RoomOutput, metrics ports.ConferenceMetrics, logger *zap.SugaredLogger) *HLSBridge {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &HLSBridge{
		room:     room,
		router:   router,
		ports:    allocator,
		listenIP: listenIP,
		output:   output,
		metrics:  metrics,
		logger:   logger.With("room", room, "component", "hls"),
		taps:     make(map[domain.ProducerID]*hlsTap),
	}
}

// Sync makes the set of taps match speakers: producers that left the window
// lose their tap and new ones get a freshly allocated port.
func (b *HLSBridge) Sync(ctx context.Context, speakers []SpeakerMedia) error {
	type wanted struct {
		id   domain.ProducerID
		kind domain.MediaKind
	}
	var order []wanted
	want := make(map[domain.ProducerID]struct{})
	for _, s := range speakers {
		if s.AudioID != "" {
			order = append(order, wanted{s.AudioID, domain.KindAudio})
			want[s.AudioID] = struct{}{}
		}
		if s.VideoID != "" {
			order = append(order, wanted{s.VideoID, domain.KindVideo})
			want[s.VideoID] = struct{}{}
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}

	for id, tap := range b.taps {
		if _, keep := want[id]; !keep {
			b.closeTapLocked(tap)
			delete(b.taps, id)
		}
	}

	var firstErr error
	for _, w := range order {
		if _, exists := b.taps[w.id]; exists {
			continue
		}
		tap, err := b.openTap(ctx, w.id, w.kind)
		if err != nil {
			b.logger.Warnw("failed to open hls tap", "producer_id", w.id, "kind", w.kind, "error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		b.taps[w.id] = tap
	}
	return firstErr
}

func (b *HLSBridge) openTap(ctx context.Context, id domain.ProducerID, kind domain.MediaKind) (*hlsTap, error) {
	port := b.ports.Next()

	transport, err := b.router.CreatePlainTransport(ctx, ports.PlainTransportOptions{
		ListenIP: b.listenIP,
		RTCPMux:  true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrTransportCreation, err)
	}

	if err := transport.Connect(ctx, b.listenIP, port); err != nil {
		_ = transport.Close()
		return nil, fmt.Errorf("%w: %w", domain.ErrConnect, err)
	}

	consumer, err := transport.Consume(ctx, ports.ConsumeOptions{
		ProducerID:   id,
		Capabilities: b.router.Capabilities(),
		Paused:       true,
	})
	if err != nil {
		_ = transport.Close()
		return nil, fmt.Errorf("%w: %w", domain.ErrConsume, err)
	}
	if err := consumer.Resume(ctx); err != nil {
		_ = consumer.Close()
		_ = transport.Close()
		return nil, fmt.Errorf("%w: %w", domain.ErrConsume, err)
	}

	tap := &hlsTap{
		info:      domain.HLSTapInfo{ProducerID: id, Kind: kind, Port: port},
		transport: transport,
		consumer:  consumer,
	}
	if b.output != nil {
		path, err := b.output.WriteTap(tap.info, consumer.Parameters())
		if err != nil {
			b.logger.Warnw("failed to write tap descriptor", "producer_id", id, "error", err)
		}
		tap.info.SDPPath = path
	}

	b.metrics.HLSTapOpened(kind)
	b.logger.Infow("hls tap opened", "producer_id", id, "kind", kind, "port", port)
	return tap, nil
}

func (b *HLSBridge) closeTapLocked(tap *hlsTap) {
	if err := tap.consumer.Close(); err != nil {
		b.logger.Warnw("failed to close hls consumer", "producer_id", tap.info.ProducerID, "error", err)
	}
	if err := tap.transport.Close(); err != nil {
		b.logger.Warnw("failed to close hls transport", "producer_id", tap.info.ProducerID, "error", err)
	}
	if b.output != nil && tap.info.SDPPath != "" {
		if err := b.output.RemoveTap(tap.info.SDPPath); err != nil {
			b.logger.Warnw("failed to remove tap descriptor", "path", tap.info.SDPPath, "error", err)
		}
	}
	b.metrics.HLSTapClosed(tap.info.Kind)
}

func (b *HLSBridge) Taps() []domain.HLSTapInfo {
	b.mu.Lock()
	defer b.mu.Unlock()
	taps := make([]domain.HLSTapInfo, 0, len(b.taps))
	for _, tap := range b.taps {
		taps = append(taps, tap.info)
	}
	sort.Slice(taps, func(i, j int) bool { return taps[i].Port < taps[j].Port })
	return taps
}

func (b *HLSBridge) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, tap := range b.taps {
		b.closeTapLocked(tap)
		delete(b.taps, id)
	}
	if b.output != nil {
		if err := b.output.Close(); err != nil {
			b.logger.Warnw("failed to close room output", "error", err)
		}
	}
}
