package signal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"huddle/internal/core/domain"
	apperrors "huddle/pkg/errors"
)

// Envelope types.
const (
	TypeRequest      = "request"
	TypeResponse     = "response"
	TypeNotification = "notification"
)

// Request methods.
const (
	MethodJoin             = "join"
	MethodRequestTransport = "requestTransport"
	MethodConnectTransport = "connectTransport"
	MethodStartProducing   = "startProducing"
	MethodConsumeMedia     = "consumeMedia"
	MethodUnpauseConsumer  = "unpauseConsumer"
	MethodAudioChange      = "audioChange"
	MethodLeaveRoom        = "leaveRoom"
)

// NoRoomToLeave is the leaveRoom error text for a connection that never
// joined.
const NoRoomToLeave = "No room to leave"

// Request is a client to server message. ID 0 marks a fire-and-forget
// request that gets no response.
type Request struct {
	Type    string          `json:"type"`
	ID      uint64          `json:"id"`
	Method  string          `json:"method"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type Response struct {
	Type    string          `json:"type"`
	ID      uint64          `json:"id"`
	OK      bool            `json:"ok"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
	Message string          `json:"message,omitempty"`
}

type Notification struct {
	Type    string          `json:"type"`
	Method  string          `json:"method"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Inbound is any server to client frame. Type tells which fields are set.
type Inbound struct {
	Type    string          `json:"type"`
	ID      uint64          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	OK      bool            `json:"ok,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
	Message string          `json:"message,omitempty"`
}

type TransportRequest struct {
	Role        domain.TransportRole `json:"role"`
	PeerAudioID domain.ProducerID    `json:"peerAudioId,omitempty"`
}

type ConnectTransportRequest struct {
	Role               domain.TransportRole      `json:"role"`
	PeerAudioID        domain.ProducerID         `json:"peerAudioId,omitempty"`
	SecurityParameters domain.SecurityParameters `json:"securityParameters"`
}

type ProduceRequest struct {
	Kind          domain.MediaKind `json:"kind"`
	RTPParameters json.RawMessage  `json:"rtpParameters,omitempty"`
}

type ProduceResponse struct {
	ID domain.ProducerID `json:"id"`
}

type ConsumeRequest struct {
	Capabilities domain.RTPCapabilities `json:"capabilities"`
	ProducerID   domain.ProducerID      `json:"producerId"`
	Kind         domain.MediaKind       `json:"kind"`
}

type UnpauseRequest struct {
	ProducerID domain.ProducerID `json:"producerId"`
	Kind       domain.MediaKind  `json:"kind"`
}

type AudioChangeRequest struct {
	Change string `json:"change"`
}

const (
	AudioMute   = "mute"
	AudioUnmute = "unmute"
)

type LeaveResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// ConnectSuccess is the connectTransport result.
const ConnectSuccess = "success"

func encodeResponse(id uint64, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Response{Type: TypeResponse, ID: id, OK: true, Payload: raw})
}

func encodeError(id uint64, appErr *apperrors.AppError) ([]byte, error) {
	return json.Marshal(Response{
		Type:    TypeResponse,
		ID:      id,
		Error:   string(appErr.Code),
		Message: appErr.Message,
	})
}

func encodeNotification(method string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Notification{Type: TypeNotification, Method: method, Payload: raw})
}

// errorMapping lists sentinel errors in match order. A media failure caused by
// a dead worker reports workerDied rather than the operation that hit it.
var errorMapping = []struct {
	target error
	code   apperrors.ErrorCode
	status int
}{
	{domain.ErrWorkerDied, apperrors.ErrCodeWorkerDied, http.StatusServiceUnavailable},
	{domain.ErrCannotConsume, apperrors.ErrCodeCannotConsume, http.StatusBadRequest},
	{domain.ErrConsume, apperrors.ErrCodeConsume, http.StatusBadGateway},
	{domain.ErrConnect, apperrors.ErrCodeConnect, http.StatusBadGateway},
	{domain.ErrTransportCreation, apperrors.ErrCodeTransportCreation, http.StatusBadGateway},
	{domain.ErrProduce, apperrors.ErrCodeProduce, http.StatusBadGateway},
	{domain.ErrNotInRoom, apperrors.ErrCodeNotInRoom, http.StatusConflict},
	{domain.ErrUnauthorized, apperrors.ErrCodeUnauthorized, http.StatusForbidden},
	{domain.ErrInvalidName, apperrors.ErrCodeInvalidInput, http.StatusBadRequest},
	{domain.ErrAlreadyJoined, apperrors.ErrCodeConflict, http.StatusConflict},
	{domain.ErrProducerExists, apperrors.ErrCodeConflict, http.StatusConflict},
	{domain.ErrTransportNotFound, apperrors.ErrCodeNotFound, http.StatusNotFound},
	{domain.ErrProducerNotFound, apperrors.ErrCodeNotFound, http.StatusNotFound},
	{domain.ErrConsumerNotFound, apperrors.ErrCodeNotFound, http.StatusNotFound},
	{domain.ErrRoomNotFound, apperrors.ErrCodeNotFound, http.StatusNotFound},
	{domain.ErrHandshakeTimeout, apperrors.ErrCodeTimeout, http.StatusGatewayTimeout},
	{domain.ErrPoolClosed, apperrors.ErrCodeServiceUnavailable, http.StatusServiceUnavailable},
	{domain.ErrRoomClosed, apperrors.ErrCodeServiceUnavailable, http.StatusServiceUnavailable},
	{domain.ErrClientClosed, apperrors.ErrCodeServiceUnavailable, http.StatusServiceUnavailable},
	{context.DeadlineExceeded, apperrors.ErrCodeTimeout, http.StatusGatewayTimeout},
}

// ToAppError converts a service error into the error sent to the client.
func ToAppError(err error) *apperrors.AppError {
	if appErr := apperrors.GetAppError(err); appErr != nil {
		return appErr
	}
	for _, m := range errorMapping {
		if errors.Is(err, m.target) {
			return apperrors.WrapError(err, m.code, err.Error(), m.status)
		}
	}
	return apperrors.WrapError(err, apperrors.ErrCodeInternal, "internal error", http.StatusInternalServerError)
}
