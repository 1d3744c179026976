package webrtc

import (
	"fmt"
	"strings"

	"huddle/internal/core/domain"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v3"
)

// AudioLevelURI is the RFC 6464 client-to-mixer audio level extension.
const AudioLevelURI = "urn:ietf:params:rtp-hdrext:ssrc-audio-level"

var videoFeedback = []webrtc.RTCPFeedback{
	{Type: webrtc.TypeRTCPFBGoogREMB},
	{Type: webrtc.TypeRTCPFBCCM, Parameter: "fir"},
	{Type: webrtc.TypeRTCPFBNACK},
	{Type: webrtc.TypeRTCPFBNACK, Parameter: "pli"},
}

func codecType(kind domain.MediaKind) webrtc.RTPCodecType {
	if kind == domain.KindVideo {
		return webrtc.RTPCodecTypeVideo
	}
	return webrtc.RTPCodecTypeAudio
}

func mediaKind(t webrtc.RTPCodecType) domain.MediaKind {
	if t == webrtc.RTPCodecTypeVideo {
		return domain.KindVideo
	}
	return domain.KindAudio
}

func codecParameters(c domain.CodecCapability) webrtc.RTPCodecParameters {
	params := webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:    c.MimeType,
			ClockRate:   c.ClockRate,
			Channels:    c.Channels,
			SDPFmtpLine: c.FmtpLine,
		},
		PayloadType: webrtc.PayloadType(c.PayloadType),
	}
	if c.Kind == domain.KindVideo {
		params.RTCPFeedback = videoFeedback
	}
	return params
}

// newAPI builds the per-router pion API: the configured codec set, the audio
// level extension used for speaker detection and the default NACK/RTCP
// report interceptors.
func newAPI(codecs []domain.CodecCapability, settings webrtc.SettingEngine) (*webrtc.API, error) {
	m := &webrtc.MediaEngine{}
	for _, c := range codecs {
		if err := m.RegisterCodec(codecParameters(c), codecType(c.Kind)); err != nil {
			return nil, fmt.Errorf("failed to register codec %s: %w", c.MimeType, err)
		}
	}
	if err := m.RegisterHeaderExtension(webrtc.RTPHeaderExtensionCapability{URI: AudioLevelURI}, webrtc.RTPCodecTypeAudio); err != nil {
		return nil, fmt.Errorf("failed to register audio level extension: %w", err)
	}

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, registry); err != nil {
		return nil, fmt.Errorf("failed to register interceptors: %w", err)
	}

	return webrtc.NewAPI(
		webrtc.WithMediaEngine(m),
		webrtc.WithInterceptorRegistry(registry),
		webrtc.WithSettingEngine(settings),
	), nil
}

// firstCodec returns the first configured codec of kind.
func firstCodec(codecs []domain.CodecCapability, kind domain.MediaKind) (domain.CodecCapability, bool) {
	for _, c := range codecs {
		if c.Kind == kind {
			return c, true
		}
	}
	return domain.CodecCapability{}, false
}

// isKeyframe reports whether an RTP payload starts a decodable frame.
// VP8 and H.264 are inspected; other codecs are always treated as decodable.
func isKeyframe(mime string, payload []byte) bool {
	switch strings.ToLower(mime) {
	case strings.ToLower(webrtc.MimeTypeVP8):
		return vp8Keyframe(payload)
	case strings.ToLower(webrtc.MimeTypeH264):
		return h264Keyframe(payload)
	}
	return true
}

// vp8Keyframe parses the RFC 7741 payload descriptor and checks the inverse
// key frame bit of the first partition.
func vp8Keyframe(payload []byte) bool {
	if len(payload) < 1 {
		return false
	}
	b := payload[0]
	x, s, pid := b&0x80 != 0, b&0x10 != 0, b&0x07
	if !s || pid != 0 {
		return false
	}

	i := 1
	if x {
		if len(payload) <= i {
			return false
		}
		ext := payload[i]
		i++
		if ext&0x80 != 0 { // I: picture id
			if len(payload) <= i {
				return false
			}
			if payload[i]&0x80 != 0 {
				i += 2
			} else {
				i++
			}
		}
		if ext&0x40 != 0 { // L: tl0picidx
			i++
		}
		if ext&0x20 != 0 || ext&0x10 != 0 { // T or K
			i++
		}
	}
	if len(payload) <= i {
		return false
	}
	return payload[i]&0x01 == 0
}

// h264Keyframe looks for an IDR or SPS unit, directly or inside STAP-A and
// FU-A packets.
func h264Keyframe(payload []byte) bool {
	if len(payload) < 1 {
		return false
	}
	switch nal := payload[0] & 0x1f; nal {
	case 5, 7:
		return true
	case 24: // STAP-A
		for i := 1; i+2 < len(payload); {
			size := int(payload[i])<<8 | int(payload[i+1])
			i += 2
			if i >= len(payload) {
				break
			}
			if t := payload[i] & 0x1f; t == 5 || t == 7 {
				return true
			}
			i += size
		}
	case 28: // FU-A
		if len(payload) < 2 {
			return false
		}
		start := payload[1]&0x80 != 0
		t := payload[1] & 0x1f
		return start && (t == 5 || t == 7)
	}
	return false
}
