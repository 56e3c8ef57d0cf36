package rtc

import (
	"github.com/pion/sdp/v3"

	"github.com/dorisoy/Dorisoy.Mediasoup-sub002/pkg/codec"
)

// Fixed header extension ids and feedback sets shared between the SDP builder
// and the RTP senders. The underlying engine derives its demuxing from the
// SDP it is handed, so these tables and the packetizers must agree
// byte-for-byte. Payload types live on the codec variants themselves.
const (
	ExtensionIdMid         uint8 = 1
	ExtensionIdAbsSendTime uint8 = 2
	ExtensionIdTransportCC uint8 = 3
	ExtensionIdTimeOffset  uint8 = 4
	ExtensionIdAudioLevel  uint8 = 5
)

const TimeOffsetURI = "urn:ietf:params:rtp-hdrext:toffset"

// Fmtp lines per codec. VP8 carries none for its primary payload type.
const (
	FmtpVP9  = "profile-id=0"
	FmtpH264 = "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42e01f"
	FmtpOpus = "minptime=10;useinbandfec=1"
)

// VideoRtcpFeedback is the fixed feedback set advertised for every video
// payload type.
func VideoRtcpFeedback() []RtcpFeedback {
	return []RtcpFeedback{
		{Type: "nack"},
		{Type: "nack", Parameter: "pli"},
		{Type: "ccm", Parameter: "fir"},
		{Type: "goog-remb"},
		{Type: "transport-cc"},
	}
}

// HeaderExtensionsForKind returns the fixed extension set for a media kind.
func HeaderExtensionsForKind(kind MediaKind) []RtpHeaderExtensionParameter {
	common := []RtpHeaderExtensionParameter{
		{Uri: sdp.SDESMidURI, Id: ExtensionIdMid},
		{Uri: sdp.ABSSendTimeURI, Id: ExtensionIdAbsSendTime},
		{Uri: sdp.TransportCCURI, Id: ExtensionIdTransportCC},
	}
	if kind == MediaKindAudio {
		return append(common, RtpHeaderExtensionParameter{
			Uri: sdp.AudioLevelURI, Id: ExtensionIdAudioLevel,
		})
	}
	return append(common, RtpHeaderExtensionParameter{
		Uri: TimeOffsetURI, Id: ExtensionIdTimeOffset,
	})
}

// SupportedCapabilities is the full capability set this host can offer before
// intersecting with the router and the native codec availability probes.
func SupportedCapabilities() RtpCapabilities {
	caps := RtpCapabilities{
		Codecs: []RtpCodecCapability{
			{
				Kind:                 MediaKindAudio,
				MimeType:             "audio/opus",
				PreferredPayloadType: codec.OpusPayloadType,
				ClockRate:            codec.OpusClockRate,
				Channels:             uint8(codec.OpusChannels),
				Parameters:           map[string]any{"minptime": 10, "useinbandfec": 1},
			},
		},
	}
	for _, v := range []codec.VideoCodecType{codec.VideoCodecVP8, codec.VideoCodecVP9, codec.VideoCodecH264} {
		vcap := RtpCodecCapability{
			Kind:                 MediaKindVideo,
			MimeType:             v.MimeType(),
			PreferredPayloadType: v.PayloadType(),
			ClockRate:            v.ClockRate(),
			RtcpFeedback:         VideoRtcpFeedback(),
		}
		switch v {
		case codec.VideoCodecVP9:
			vcap.Parameters = map[string]any{"profile-id": 0}
		case codec.VideoCodecH264:
			vcap.Parameters = map[string]any{
				"level-asymmetry-allowed": 1,
				"packetization-mode":      1,
				"profile-level-id":        "42e01f",
			}
		}
		caps.Codecs = append(caps.Codecs,
			vcap,
			RtpCodecCapability{
				Kind:                 MediaKindVideo,
				MimeType:             "video/rtx",
				PreferredPayloadType: v.RtxPayloadType(),
				ClockRate:            v.ClockRate(),
				Parameters:           map[string]any{"apt": int(v.PayloadType())},
			},
		)
	}
	for _, kind := range []MediaKind{MediaKindAudio, MediaKindVideo} {
		for _, ext := range HeaderExtensionsForKind(kind) {
			caps.HeaderExtensions = append(caps.HeaderExtensions, RtpHeaderExtension{
				Kind:        kind,
				Uri:         ext.Uri,
				PreferredId: ext.Id,
			})
		}
	}
	return caps
}
