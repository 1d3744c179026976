package client

import (
	"testing"

	"huddle/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDevice_Load(t *testing.T) {
	d := NewDevice(nil)
	assert.False(t, d.Loaded())

	router := domain.RTPCapabilities{Codecs: []domain.CodecCapability{
		{Kind: domain.KindAudio, MimeType: "audio/OPUS", ClockRate: 48000, Channels: 2, PayloadType: 111},
		{Kind: domain.KindVideo, MimeType: "video/VP9", ClockRate: 90000, PayloadType: 98},
	}}
	require.NoError(t, d.Load(router))
	assert.True(t, d.Loaded())
	assert.True(t, d.CanProduce(domain.KindAudio))
	assert.False(t, d.CanProduce(domain.KindVideo))

	caps := d.RTPCapabilities()
	require.Len(t, caps.Codecs, 1)
	assert.Equal(t, uint8(111), caps.Codecs[0].PayloadType)
}

func TestDevice_LoadFailure(t *testing.T) {
	d := NewDevice([]domain.CodecCapability{{Kind: domain.KindVideo, MimeType: "video/AV1", ClockRate: 90000}})

	err := d.Load(domain.RTPCapabilities{Codecs: []domain.CodecCapability{
		{Kind: domain.KindVideo, MimeType: "video/VP8", ClockRate: 90000},
	}})
	assert.ErrorIs(t, err, domain.ErrDeviceLoad)
	assert.False(t, d.Loaded())

	assert.ErrorIs(t, d.Load(domain.RTPCapabilities{}), domain.ErrDeviceLoad)
}
