package rtc

import (
	"fmt"
	"strings"

	"github.com/pion/webrtc/v3"

	"github.com/dorisoy/Dorisoy.Mediasoup-sub002/pkg/codec"
)

// The engine parses media according to the codecs registered here; they must
// agree with the synthesized SDP, which is why both draw from the same fixed
// tables.

func pionFeedback(fbs []RtcpFeedback) []webrtc.RTCPFeedback {
	out := make([]webrtc.RTCPFeedback, 0, len(fbs))
	for _, fb := range fbs {
		out = append(out, webrtc.RTCPFeedback{Type: fb.Type, Parameter: fb.Parameter})
	}
	return out
}

// buildSendMediaEngine registers Opus plus every video variant with the
// fixed payload types. All variants go in up front because the engine's
// codec table is fixed for the connection's lifetime and a mid-session
// variant switch only renegotiates; each offer still carries the selected
// variant alone.
func buildSendMediaEngine() (*webrtc.MediaEngine, error) {
	me := &webrtc.MediaEngine{}

	err := me.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:    webrtc.MimeTypeOpus,
			ClockRate:   codec.OpusClockRate,
			Channels:    uint16(codec.OpusChannels),
			SDPFmtpLine: FmtpOpus,
		},
		PayloadType: webrtc.PayloadType(codec.OpusPayloadType),
	}, webrtc.RTPCodecTypeAudio)
	if err != nil {
		return nil, err
	}

	for _, v := range []codec.VideoCodecType{codec.VideoCodecVP8, codec.VideoCodecVP9, codec.VideoCodecH264} {
		err = me.RegisterCodec(webrtc.RTPCodecParameters{
			RTPCodecCapability: webrtc.RTPCodecCapability{
				MimeType:     v.MimeType(),
				ClockRate:    v.ClockRate(),
				SDPFmtpLine:  videoFmtp(v),
				RTCPFeedback: pionFeedback(VideoRtcpFeedback()),
			},
			PayloadType: webrtc.PayloadType(v.PayloadType()),
		}, webrtc.RTPCodecTypeVideo)
		if err != nil {
			return nil, err
		}

		err = me.RegisterCodec(webrtc.RTPCodecParameters{
			RTPCodecCapability: webrtc.RTPCodecCapability{
				MimeType:    "video/rtx",
				ClockRate:   v.ClockRate(),
				SDPFmtpLine: fmt.Sprintf("apt=%d", v.PayloadType()),
			},
			PayloadType: webrtc.PayloadType(v.RtxPayloadType()),
		}, webrtc.RTPCodecTypeVideo)
		if err != nil {
			return nil, err
		}
	}

	if err := registerHeaderExtensions(me); err != nil {
		return nil, err
	}
	return me, nil
}

// buildRecvMediaEngine registers every codec the router advertises with the
// router's preferred payload types, since consumer parameters are expressed
// in those.
func buildRecvMediaEngine(routerCaps RtpCapabilities) (*webrtc.MediaEngine, error) {
	me := &webrtc.MediaEngine{}

	for _, c := range routerCaps.Codecs {
		kind := webrtc.RTPCodecTypeVideo
		if c.Kind == MediaKindAudio {
			kind = webrtc.RTPCodecTypeAudio
		}
		params := webrtc.RTPCodecParameters{
			RTPCodecCapability: webrtc.RTPCodecCapability{
				MimeType:     c.MimeType,
				ClockRate:    c.ClockRate,
				Channels:     uint16(c.Channels),
				SDPFmtpLine:  capabilityFmtpLine(c),
				RTCPFeedback: pionFeedback(c.RtcpFeedback),
			},
			PayloadType: webrtc.PayloadType(c.PreferredPayloadType),
		}
		if err := me.RegisterCodec(params, kind); err != nil {
			return nil, err
		}
	}

	if err := registerHeaderExtensions(me); err != nil {
		return nil, err
	}
	return me, nil
}

func registerHeaderExtensions(me *webrtc.MediaEngine) error {
	for _, kind := range []MediaKind{MediaKindAudio, MediaKindVideo} {
		typ := webrtc.RTPCodecTypeVideo
		if kind == MediaKindAudio {
			typ = webrtc.RTPCodecTypeAudio
		}
		for _, ext := range HeaderExtensionsForKind(kind) {
			err := me.RegisterHeaderExtension(webrtc.RTPHeaderExtensionCapability{URI: ext.Uri}, typ)
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// capabilityFmtpLine serializes a capability's parameter map into an fmtp
// line, keeping an apt parameter first for rtx codecs.
func capabilityFmtpLine(c RtpCodecCapability) string {
	if len(c.Parameters) == 0 {
		return ""
	}
	if apt, ok := c.Parameters["apt"]; ok {
		return fmt.Sprintf("apt=%v", apt)
	}
	parts := make([]string, 0, len(c.Parameters))
	for _, key := range sortedParamKeys(c.Parameters) {
		parts = append(parts, fmt.Sprintf("%s=%v", key, c.Parameters[key]))
	}
	return strings.Join(parts, ";")
}
