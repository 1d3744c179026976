package services

import (
	"context"
	"time"

	"huddle/internal/core/domain"
	"huddle/internal/core/ports"
)

// NopMetrics discards every observation.
func NopMetrics() ports.ConferenceMetrics { return noopMetrics{} }

type noopMetrics struct{}

func (noopMetrics) RoomCreated()                                   {}
func (noopMetrics) RoomDestroyed()                                 {}
func (noopMetrics) ClientJoined()                                  {}
func (noopMetrics) ClientLeft(domain.LeaveReason)                  {}
func (noopMetrics) ProducerOpened(domain.MediaKind)                {}
func (noopMetrics) ProducerClosed(domain.MediaKind)                {}
func (noopMetrics) ConsumerOpened(domain.MediaKind)                {}
func (noopMetrics) ConsumerClosed(domain.MediaKind)                {}
func (noopMetrics) DominantSpeakerChanged()                        {}
func (noopMetrics) ForwardingRecomputed(time.Duration, int, int)   {}
func (noopMetrics) WorkerLoadSampled(string, time.Duration)        {}
func (noopMetrics) WorkerReplaced()                                {}
func (noopMetrics) HLSTapOpened(domain.MediaKind)                  {}
func (noopMetrics) HLSTapClosed(domain.MediaKind)                  {}
func (noopMetrics) HLSSegmentWritten()                             {}
func (noopMetrics) SignalingRequest(string, string, time.Duration) {}

type noopPublisher struct{}

func (noopPublisher) PublishRoomEvent(context.Context, domain.RoomEvent) error { return nil }

type noopDirectory struct{}

func (noopDirectory) Register(context.Context, domain.RoomRecord) error         { return nil }
func (noopDirectory) Unregister(context.Context, domain.RoomName, string) error { return nil }
func (noopDirectory) Get(context.Context, domain.RoomName) (*domain.RoomRecord, error) {
	return nil, domain.ErrRoomNotFound
}
func (noopDirectory) List(context.Context) ([]domain.RoomRecord, error) { return nil, nil }
