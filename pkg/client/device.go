package client

import (
	"fmt"
	"strings"
	"sync"

	"huddle/internal/core/domain"
)

// DefaultCodecs is what a Device can handle unless told otherwise.
func DefaultCodecs() []domain.CodecCapability {
	return []domain.CodecCapability{
		{Kind: domain.KindAudio, MimeType: "audio/opus", ClockRate: 48000, Channels: 2},
		{Kind: domain.KindVideo, MimeType: "video/VP8", ClockRate: 90000},
		{Kind: domain.KindVideo, MimeType: "video/H264", ClockRate: 90000},
	}
}

// Device holds the codecs shared between this endpoint and the room's router.
type Device struct {
	local []domain.CodecCapability

	mu     sync.RWMutex
	loaded bool
	caps   domain.RTPCapabilities
}

func NewDevice(local []domain.CodecCapability) *Device {
	if len(local) == 0 {
		local = DefaultCodecs()
	}
	return &Device{local: local}
}

// Load negotiates against router capabilities. It fails with
// domain.ErrDeviceLoad when no codec is shared.
func (d *Device) Load(router domain.RTPCapabilities) error {
	var shared []domain.CodecCapability
	for _, remote := range router.Codecs {
		for _, local := range d.local {
			if local.Kind == remote.Kind &&
				strings.EqualFold(local.MimeType, remote.MimeType) &&
				local.ClockRate == remote.ClockRate {
				shared = append(shared, remote)
				break
			}
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if len(shared) == 0 {
		d.loaded = false
		d.caps = domain.RTPCapabilities{}
		return fmt.Errorf("%w: no codec in common with the router", domain.ErrDeviceLoad)
	}
	d.loaded = true
	d.caps = domain.RTPCapabilities{Codecs: shared}
	return nil
}

func (d *Device) Loaded() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.loaded
}

// RTPCapabilities returns the negotiated codecs sent with consume requests.
func (d *Device) RTPCapabilities() domain.RTPCapabilities {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return domain.RTPCapabilities{Codecs: append([]domain.CodecCapability(nil), d.caps.Codecs...)}
}

// CanProduce reports whether a codec of kind was negotiated.
func (d *Device) CanProduce(kind domain.MediaKind) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, c := range d.caps.Codecs {
		if c.Kind == kind {
			return true
		}
	}
	return false
}
