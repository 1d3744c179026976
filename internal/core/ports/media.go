package ports

import (
	"context"
	"encoding/json"
	"time"

	"huddle/internal/core/domain"
)

// ResourceUsage is a worker's cumulative CPU time.
type ResourceUsage struct {
	UserTime   time.Duration
	SystemTime time.Duration
}

func (u ResourceUsage) Total() time.Duration {
	return u.UserTime + u.SystemTime
}

type MediaEngine interface {
	CreateWorker(ctx context.Context, index int) (MediaWorker, error)
}

type MediaWorker interface {
	ID() string
	ResourceUsage(ctx context.Context) (ResourceUsage, error)
	CreateRouter(ctx context.Context, codecs []domain.CodecCapability) (Router, error)
	// Died is closed when the worker exits unexpectedly. A graceful Close does
	// not close it.
	Died() <-chan struct{}
	Close() error
}

type WebRTCTransportOptions struct {
	Role                   domain.TransportRole
	MaxIncomingBitrate     int
	InitialOutgoingBitrate int
}

type PlainTransportOptions struct {
	ListenIP string
	RTCPMux  bool
	Comedia  bool
}

type ConsumeOptions struct {
	ProducerID   domain.ProducerID
	Capabilities domain.RTPCapabilities
	Paused       bool
}

type Router interface {
	ID() string
	Capabilities() domain.RTPCapabilities
	CanConsume(producerID domain.ProducerID, caps domain.RTPCapabilities) bool
	CreateWebRTCTransport(ctx context.Context, opts WebRTCTransportOptions) (WebRTCTransport, error)
	CreatePlainTransport(ctx context.Context, opts PlainTransportOptions) (PlainTransport, error)
	CreateActiveSpeakerObserver(ctx context.Context, interval time.Duration) (ActiveSpeakerObserver, error)
	Close() error
}

type WebRTCTransport interface {
	ID() domain.TransportID
	Parameters() domain.TransportParameters
	Connect(ctx context.Context, params domain.SecurityParameters) error
	Produce(ctx context.Context, kind domain.MediaKind, rtpParameters json.RawMessage) (Producer, error)
	Consume(ctx context.Context, opts ConsumeOptions) (Consumer, error)
	Close() error
}

type PlainTransport interface {
	ID() domain.TransportID
	Connect(ctx context.Context, ip string, port int) error
	Consume(ctx context.Context, opts ConsumeOptions) (Consumer, error)
	Close() error
}

type Producer interface {
	ID() domain.ProducerID
	Kind() domain.MediaKind
	Paused() bool
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	Close() error
}

type Consumer interface {
	ID() domain.ConsumerID
	ProducerID() domain.ProducerID
	Kind() domain.MediaKind
	Parameters() domain.ConsumerParameters
	Paused() bool
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	Close() error
}

// ActiveSpeakerObserver samples audio energy of the tracked producers and
// reports the loudest one whenever it changes.
type ActiveSpeakerObserver interface {
	AddProducer(id domain.ProducerID) error
	RemoveProducer(id domain.ProducerID) error
	OnDominantSpeaker(handler func(domain.ProducerID))
	Close() error
}
