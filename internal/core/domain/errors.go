package domain

import "errors"

// Failure taxonomy surfaced to participants.
var (
	ErrTransportCreation     = errors.New("transport creation failed")
	ErrConnect               = errors.New("transport connect failed")
	ErrProduce               = errors.New("produce failed")
	ErrCannotConsume         = errors.New("cannot consume")
	ErrConsume               = errors.New("consume failed")
	ErrDeviceLoad            = errors.New("device load failed")
	ErrReconnectionExhausted = errors.New("reconnection attempts exhausted")
	ErrWorkerDied            = errors.New("media worker died")
)

var (
	ErrRoomNotFound      = errors.New("room not found")
	ErrRoomClosed        = errors.New("room closed")
	ErrNotInRoom         = errors.New("not in a room")
	ErrAlreadyJoined     = errors.New("already joined a room")
	ErrClientClosed      = errors.New("client closed")
	ErrTransportNotFound = errors.New("transport not found")
	ErrProducerNotFound  = errors.New("producer not found")
	ErrProducerExists    = errors.New("producer of this kind already exists")
	ErrConsumerNotFound  = errors.New("consumer not found")
	ErrHandshakeTimeout  = errors.New("media handshake timed out")
	ErrPoolClosed        = errors.New("worker pool closed")
	ErrInvalidName       = errors.New("invalid name")
	ErrUnauthorized      = errors.New("unauthorized")
)
