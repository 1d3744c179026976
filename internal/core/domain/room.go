package domain

import (
	"strings"
	"time"
)

type RoomName string
type ConnectionID string

// NormalizeRoomName trims surrounding whitespace; names stay case-sensitive.
func NormalizeRoomName(name string) RoomName {
	return RoomName(strings.TrimSpace(name))
}

type SpeakerPlacement string

const (
	PlacementTail SpeakerPlacement = "tail"
	PlacementHead SpeakerPlacement = "head"
)

type LeaveReason string

const (
	LeaveVoluntary   LeaveReason = "left"
	LeaveDisconnect  LeaveReason = "disconnected"
	LeaveWorkerDied  LeaveReason = "worker_died"
	LeaveServerClose LeaveReason = "server_shutdown"
)

type JoinRequest struct {
	UserName string `json:"userName"`
	RoomName string `json:"roomName"`
}

// JoinResult is returned to a joining participant. The three id slices are
// index-aligned: videoIdsToSubscribe[i] and displayNames[i] belong to the
// speaker publishing audioIdsToSubscribe[i].
type JoinResult struct {
	Capabilities        RTPCapabilities `json:"capabilities"`
	IsNewRoom           bool            `json:"isNewRoom"`
	AudioIDsToSubscribe []ProducerID    `json:"audioIdsToSubscribe"`
	VideoIDsToSubscribe []ProducerID    `json:"videoIdsToSubscribe"`
	DisplayNames        []string        `json:"displayNames"`
}

type RoomInfo struct {
	Name           RoomName     `json:"name"`
	WorkerID       string       `json:"worker_id"`
	Clients        []string     `json:"clients"`
	ActiveSpeakers []ProducerID `json:"active_speakers"`
	SpeakerList    []ProducerID `json:"speaker_list"`
	HLSTaps        []HLSTapInfo `json:"hls_taps,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
}

// RoomRecord is the cluster-wide directory entry for a live room.
//
// ID is unique per room instance, so a room recreated under the same name
// after a worker death gets a distinct record.
type RoomRecord struct {
	ID         string    `json:"id"`
	Name       RoomName  `json:"name"`
	InstanceID string    `json:"instance_id"`
	WorkerID   string    `json:"worker_id"`
	CreatedAt  time.Time `json:"created_at"`
}

type RoomEventType string

const (
	EventRoomCreated       RoomEventType = "room.created"
	EventRoomDestroyed     RoomEventType = "room.destroyed"
	EventParticipantJoined RoomEventType = "participant.joined"
	EventParticipantLeft   RoomEventType = "participant.left"
	EventSpeakersUpdated   RoomEventType = "speakers.updated"
)

type RoomEvent struct {
	Type           RoomEventType `json:"type"`
	Room           RoomName      `json:"room"`
	UserName       string        `json:"user_name,omitempty"`
	ActiveSpeakers []ProducerID  `json:"active_speakers,omitempty"`
	Timestamp      time.Time     `json:"timestamp"`
}

type HLSTapInfo struct {
	ProducerID ProducerID `json:"producer_id"`
	Kind       MediaKind  `json:"kind"`
	Port       int        `json:"port"`
	SDPPath    string     `json:"sdp_path,omitempty"`
}
