package testutils

import (
	"context"
	"encoding/json"

	"huddle/internal/core/domain"
	"huddle/internal/core/ports"

	"github.com/stretchr/testify/mock"
)

// MockConferenceService is a testify mock of ports.ConferenceService.
type MockConferenceService struct {
	mock.Mock
}

func (m *MockConferenceService) Join(ctx context.Context, conn domain.ConnectionID, req domain.JoinRequest) (*domain.JoinResult, error) {
	args := m.Called(ctx, conn, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.JoinResult), args.Error(1)
}

func (m *MockConferenceService) RequestTransport(ctx context.Context, conn domain.ConnectionID, role domain.TransportRole, peerAudioID domain.ProducerID) (*domain.TransportParameters, error) {
	args := m.Called(ctx, conn, role, peerAudioID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.TransportParameters), args.Error(1)
}

func (m *MockConferenceService) ConnectTransport(ctx context.Context, conn domain.ConnectionID, role domain.TransportRole, peerAudioID domain.ProducerID, params domain.SecurityParameters) error {
	return m.Called(ctx, conn, role, peerAudioID, params).Error(0)
}

func (m *MockConferenceService) Produce(ctx context.Context, conn domain.ConnectionID, kind domain.MediaKind, rtpParameters json.RawMessage) (domain.ProducerID, error) {
	args := m.Called(ctx, conn, kind, rtpParameters)
	return args.Get(0).(domain.ProducerID), args.Error(1)
}

func (m *MockConferenceService) Consume(ctx context.Context, conn domain.ConnectionID, producerID domain.ProducerID, kind domain.MediaKind, caps domain.RTPCapabilities) (*domain.ConsumerParameters, error) {
	args := m.Called(ctx, conn, producerID, kind, caps)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ConsumerParameters), args.Error(1)
}

func (m *MockConferenceService) UnpauseConsumer(ctx context.Context, conn domain.ConnectionID, producerID domain.ProducerID, kind domain.MediaKind) error {
	return m.Called(ctx, conn, producerID, kind).Error(0)
}

func (m *MockConferenceService) ChangeAudio(ctx context.Context, conn domain.ConnectionID, mute bool) error {
	return m.Called(ctx, conn, mute).Error(0)
}

func (m *MockConferenceService) Leave(ctx context.Context, conn domain.ConnectionID, reason domain.LeaveReason) error {
	return m.Called(ctx, conn, reason).Error(0)
}

func (m *MockConferenceService) ListRooms() []domain.RoomInfo {
	return m.Called().Get(0).([]domain.RoomInfo)
}

func (m *MockConferenceService) GetRoom(name domain.RoomName) (*domain.RoomInfo, error) {
	args := m.Called(name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.RoomInfo), args.Error(1)
}

var _ ports.ConferenceService = (*MockConferenceService)(nil)
