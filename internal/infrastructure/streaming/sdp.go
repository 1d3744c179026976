package streaming

import (
	"fmt"
	"strings"

	"huddle/internal/core/domain"
)

// TapSDP describes one HLS tap for the packager: a single receive-only RTP
// stream on the tap's port with RTCP multiplexed.
func TapSDP(room domain.RoomName, listenIP string, tap domain.HLSTapInfo, params domain.ConsumerParameters) string {
	rtp := params.RTPParameters
	codec := rtp.MimeType
	if i := strings.IndexByte(codec, '/'); i >= 0 {
		codec = codec[i+1:]
	}
	rtpmap := fmt.Sprintf("%s/%d", codec, rtp.ClockRate)
	if rtp.Channels > 1 {
		rtpmap = fmt.Sprintf("%s/%d", rtpmap, rtp.Channels)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "v=0\r\n")
	fmt.Fprintf(&b, "o=- 0 0 IN IP4 %s\r\n", listenIP)
	fmt.Fprintf(&b, "s=%s %s\r\n", room, tap.Kind)
	fmt.Fprintf(&b, "c=IN IP4 %s\r\n", listenIP)
	fmt.Fprintf(&b, "t=0 0\r\n")
	fmt.Fprintf(&b, "m=%s %d RTP/AVP %d\r\n", tap.Kind, tap.Port, rtp.PayloadType)
	fmt.Fprintf(&b, "a=rtpmap:%d %s\r\n", rtp.PayloadType, rtpmap)
	if rtp.FmtpLine != "" {
		fmt.Fprintf(&b, "a=fmtp:%d %s\r\n", rtp.PayloadType, rtp.FmtpLine)
	}
	if rtp.SSRC != 0 {
		fmt.Fprintf(&b, "a=ssrc:%d cname:%s\r\n", rtp.SSRC, tap.ProducerID)
	}
	fmt.Fprintf(&b, "a=rtcp-mux\r\n")
	fmt.Fprintf(&b, "a=recvonly\r\n")
	return b.String()
}
