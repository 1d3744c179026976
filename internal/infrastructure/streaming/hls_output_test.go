package streaming

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"huddle/internal/core/domain"
	"huddle/internal/core/ports"
	"huddle/internal/core/services"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type segmentCounter struct {
	ports.ConferenceMetrics
	segments atomic.Int32
}

func (c *segmentCounter) HLSSegmentWritten() { c.segments.Add(1) }

func opusTap() (domain.HLSTapInfo, domain.ConsumerParameters) {
	tap := domain.HLSTapInfo{ProducerID: "a1", Kind: domain.KindAudio, Port: 5004}
	params := domain.ConsumerParameters{
		ID:         "c1",
		ProducerID: "a1",
		Kind:       domain.KindAudio,
		RTPParameters: domain.ConsumerRTPParameters{
			MimeType:    "audio/opus",
			ClockRate:   48000,
			Channels:    2,
			PayloadType: 111,
			FmtpLine:    "minptime=10;useinbandfec=1",
			SSRC:        1234,
		},
	}
	return tap, params
}

func TestTapSDP(t *testing.T) {
	tap, params := opusTap()

	sdp := TapSDP("R1", "127.0.0.1", tap, params)

	assert.Contains(t, sdp, "c=IN IP4 127.0.0.1\r\n")
	assert.Contains(t, sdp, "m=audio 5004 RTP/AVP 111\r\n")
	assert.Contains(t, sdp, "a=rtpmap:111 opus/48000/2\r\n")
	assert.Contains(t, sdp, "a=fmtp:111 minptime=10;useinbandfec=1\r\n")
	assert.Contains(t, sdp, "a=ssrc:1234 cname:a1\r\n")
	assert.Contains(t, sdp, "a=rtcp-mux\r\n")

	video := domain.HLSTapInfo{ProducerID: "v1", Kind: domain.KindVideo, Port: 5006}
	vp8 := domain.ConsumerParameters{RTPParameters: domain.ConsumerRTPParameters{MimeType: "video/VP8", ClockRate: 90000, PayloadType: 96}}
	sdp = TapSDP("R1", "127.0.0.1", video, vp8)
	assert.Contains(t, sdp, "a=rtpmap:96 VP8/90000\r\n")
	assert.NotContains(t, sdp, "a=fmtp")
}

func TestHLSOutput_WritesAndRemovesTaps(t *testing.T) {
	root := t.TempDir()
	out, err := NewHLSOutput(root, "127.0.0.1", services.NopMetrics(), zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	defer out.Close()

	room, err := out.OpenRoom("R1")
	require.NoError(t, err)

	tap, params := opusTap()
	path, err := room.WriteTap(tap, params)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "R1", "audio-a1.sdp"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "m=audio 5004")

	require.NoError(t, room.RemoveTap(path))
	assert.NoFileExists(t, path)
	assert.NoError(t, room.RemoveTap(path))

	path, err = room.WriteTap(tap, params)
	require.NoError(t, err)
	require.NoError(t, room.Close())
	assert.NoFileExists(t, path)
	assert.NoError(t, room.Close())

	_, err = room.WriteTap(tap, params)
	assert.ErrorIs(t, err, domain.ErrRoomClosed)
}

func TestHLSOutput_CountsNewSegments(t *testing.T) {
	root := t.TempDir()
	metrics := &segmentCounter{ConferenceMetrics: services.NopMetrics()}
	out, err := NewHLSOutput(root, "127.0.0.1", metrics, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	defer out.Close()

	room, err := out.OpenRoom("R1")
	require.NoError(t, err)
	defer room.Close()

	dir := out.RoomDir("R1")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "segment_0.ts"), []byte("ts"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "stream.m3u8"), []byte("#EXTM3U"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "segment_1.ts"), []byte("ts"), 0o644))

	require.Eventually(t, func() bool { return metrics.segments.Load() == 2 }, 3*time.Second, 10*time.Millisecond)

	// Rewriting a known segment is not a new segment.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "segment_1.ts"), []byte("ts2"), 0o644))
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(2), metrics.segments.Load())
	assert.ElementsMatch(t, []string{"segment_0.ts", "segment_1.ts"}, out.watcher.Known(dir))
}
