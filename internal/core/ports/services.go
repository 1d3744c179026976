package ports

import (
	"context"
	"encoding/json"
	"time"

	"huddle/internal/core/domain"
)

type ConferenceService interface {
	Join(ctx context.Context, conn domain.ConnectionID, req domain.JoinRequest) (*domain.JoinResult, error)
	RequestTransport(ctx context.Context, conn domain.ConnectionID, role domain.TransportRole, peerAudioID domain.ProducerID) (*domain.TransportParameters, error)
	ConnectTransport(ctx context.Context, conn domain.ConnectionID, role domain.TransportRole, peerAudioID domain.ProducerID, params domain.SecurityParameters) error
	Produce(ctx context.Context, conn domain.ConnectionID, kind domain.MediaKind, rtpParameters json.RawMessage) (domain.ProducerID, error)
	Consume(ctx context.Context, conn domain.ConnectionID, producerID domain.ProducerID, kind domain.MediaKind, caps domain.RTPCapabilities) (*domain.ConsumerParameters, error)
	UnpauseConsumer(ctx context.Context, conn domain.ConnectionID, producerID domain.ProducerID, kind domain.MediaKind) error
	ChangeAudio(ctx context.Context, conn domain.ConnectionID, mute bool) error
	Leave(ctx context.Context, conn domain.ConnectionID, reason domain.LeaveReason) error
	ListRooms() []domain.RoomInfo
	GetRoom(name domain.RoomName) (*domain.RoomInfo, error)
}

// Notifier pushes unsolicited messages to a signaling connection.
type Notifier interface {
	Notify(conn domain.ConnectionID, method string, payload any) error
}

type EventPublisher interface {
	PublishRoomEvent(ctx context.Context, event domain.RoomEvent) error
}

type ConferenceMetrics interface {
	RoomCreated()
	RoomDestroyed()
	ClientJoined()
	ClientLeft(reason domain.LeaveReason)
	ProducerOpened(kind domain.MediaKind)
	ProducerClosed(kind domain.MediaKind)
	ConsumerOpened(kind domain.MediaKind)
	ConsumerClosed(kind domain.MediaKind)
	DominantSpeakerChanged()
	ForwardingRecomputed(duration time.Duration, active, muted int)
	WorkerLoadSampled(workerID string, load time.Duration)
	WorkerReplaced()
	HLSTapOpened(kind domain.MediaKind)
	HLSTapClosed(kind domain.MediaKind)
	HLSSegmentWritten()
	SignalingRequest(method, result string, duration time.Duration)
}

// HLSOutput prepares per-room output consumed by the external packager.
type HLSOutput interface {
	OpenRoom(room domain.RoomName) (RoomOutput, error)
}

type RoomOutput interface {
	// WriteTap publishes the descriptor of a new tap and returns its path.
	WriteTap(tap domain.HLSTapInfo, params domain.ConsumerParameters) (string, error)
	RemoveTap(path string) error
	Close() error
}
