package media

import (
	"strings"

	"github.com/pion/webrtc/v4"
)

// Capability returns the RTP capability for a mime type such as "video/VP8".
func Capability(mime string) webrtc.RTPCodecCapability {
	switch strings.ToLower(mime) {
	case strings.ToLower(webrtc.MimeTypeOpus):
		return webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}
	case strings.ToLower(webrtc.MimeTypeH264):
		return webrtc.RTPCodecCapability{
			MimeType:    webrtc.MimeTypeH264,
			ClockRate:   90000,
			SDPFmtpLine: "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42e01f",
		}
	case strings.ToLower(webrtc.MimeTypeVP9):
		return webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP9, ClockRate: 90000}
	case strings.ToLower(webrtc.MimeTypeAV1):
		return webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeAV1, ClockRate: 90000}
	default:
		return webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}
	}
}

// Kind is "audio" or "video" for a mime type.
func Kind(mime string) string {
	if strings.HasPrefix(strings.ToLower(mime), "audio/") {
		return "audio"
	}
	return "video"
}

// mimeForFourCC maps an IVF header FourCC to a mime type.
func mimeForFourCC(fourcc string) (string, bool) {
	switch fourcc {
	case "VP80":
		return webrtc.MimeTypeVP8, true
	case "VP90":
		return webrtc.MimeTypeVP9, true
	case "AV01":
		return webrtc.MimeTypeAV1, true
	}
	return "", false
}
