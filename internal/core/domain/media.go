package domain

import (
	"fmt"
	"strings"
)

type ProducerID string
type ConsumerID string
type TransportID string

type MediaKind string

const (
	KindAudio MediaKind = "audio"
	KindVideo MediaKind = "video"
)

func ParseMediaKind(s string) (MediaKind, error) {
	switch MediaKind(s) {
	case KindAudio, KindVideo:
		return MediaKind(s), nil
	}
	return "", fmt.Errorf("unknown media kind %q", s)
}

type TransportRole string

const (
	RoleProducer TransportRole = "producer"
	RoleConsumer TransportRole = "consumer"
)

func ParseTransportRole(s string) (TransportRole, error) {
	switch TransportRole(s) {
	case RoleProducer, RoleConsumer:
		return TransportRole(s), nil
	}
	return "", fmt.Errorf("unknown transport role %q", s)
}

type CodecCapability struct {
	Kind        MediaKind `json:"kind"`
	MimeType    string    `json:"mimeType"`
	ClockRate   uint32    `json:"clockRate"`
	Channels    uint16    `json:"channels,omitempty"`
	PayloadType uint8     `json:"preferredPayloadType"`
	FmtpLine    string    `json:"parameters,omitempty"`
}

// RTPCapabilities describes the codecs an endpoint can send or receive.
type RTPCapabilities struct {
	Codecs []CodecCapability `json:"codecs"`
}

// Supports reports whether a codec with the given mime type (case-insensitive)
// and clock rate is present.
func (c RTPCapabilities) Supports(mimeType string, clockRate uint32) bool {
	for _, codec := range c.Codecs {
		if strings.EqualFold(codec.MimeType, mimeType) && codec.ClockRate == clockRate {
			return true
		}
	}
	return false
}

// Intersect keeps the codecs of c that remote also supports, preserving order.
func (c RTPCapabilities) Intersect(remote RTPCapabilities) RTPCapabilities {
	var out RTPCapabilities
	for _, codec := range c.Codecs {
		if remote.Supports(codec.MimeType, codec.ClockRate) {
			out.Codecs = append(out.Codecs, codec)
		}
	}
	return out
}

func (c RTPCapabilities) HasKind(kind MediaKind) bool {
	for _, codec := range c.Codecs {
		if codec.Kind == kind {
			return true
		}
	}
	return false
}

// TransportParameters are handed to the participant after transport creation.
// The SDP offer carries ICE credentials, candidates and the DTLS fingerprint.
type TransportParameters struct {
	ID   TransportID   `json:"id"`
	Role TransportRole `json:"role"`
	Type string        `json:"type"`
	SDP  string        `json:"sdp"`
}

// SecurityParameters confirm a transport: the participant's answer with its
// own DTLS fingerprint and ICE credentials.
type SecurityParameters struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

type ConsumerRTPParameters struct {
	Mid         string `json:"mid,omitempty"`
	MimeType    string `json:"mimeType"`
	ClockRate   uint32 `json:"clockRate"`
	Channels    uint16 `json:"channels,omitempty"`
	PayloadType uint8  `json:"payloadType"`
	FmtpLine    string `json:"parameters,omitempty"`
	SSRC        uint32 `json:"ssrc,omitempty"`
}

type ConsumerParameters struct {
	ID            ConsumerID            `json:"id"`
	ProducerID    ProducerID            `json:"producerId"`
	Kind          MediaKind             `json:"kind"`
	RTPParameters ConsumerRTPParameters `json:"rtpParameters"`
}
