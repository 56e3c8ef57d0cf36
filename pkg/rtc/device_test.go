package rtc

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dorisoy/Dorisoy.Mediasoup-sub002/pkg/codec"
)

func allCodecsProbe(string) bool { return true }

func vp8OnlyRouterCaps() RtpCapabilities {
	return RtpCapabilities{
		Codecs: []RtpCodecCapability{
			{
				Kind:                 MediaKindAudio,
				MimeType:             "audio/opus",
				PreferredPayloadType: 111,
				ClockRate:            48000,
				Channels:             2,
			},
			{
				Kind:                 MediaKindVideo,
				MimeType:             "video/VP8",
				PreferredPayloadType: 101,
				ClockRate:            90000,
			},
		},
	}
}

func fullRouterCaps() RtpCapabilities {
	caps := vp8OnlyRouterCaps()
	caps.Codecs = append(caps.Codecs,
		RtpCodecCapability{
			Kind:                 MediaKindVideo,
			MimeType:             "video/VP9",
			PreferredPayloadType: 102,
			ClockRate:            90000,
			Parameters:           map[string]any{"profile-id": 0},
		},
		RtpCodecCapability{
			Kind:                 MediaKindVideo,
			MimeType:             "video/H264",
			PreferredPayloadType: 103,
			ClockRate:            90000,
			Parameters: map[string]any{
				"packetization-mode": 1,
				"profile-level-id":   "42e01f",
			},
		},
	)
	return caps
}

func TestDeviceLoadOnce(t *testing.T) {
	d := NewDevice(allCodecsProbe)
	require.NoError(t, d.Load(fullRouterCaps()))
	assert.True(t, d.Loaded())
	assert.ErrorIs(t, d.Load(fullRouterCaps()), ErrDeviceLoaded)
}

func TestDeviceLoadNoCommonCodec(t *testing.T) {
	d := NewDevice(allCodecsProbe)
	err := d.Load(RtpCapabilities{
		Codecs: []RtpCodecCapability{
			{Kind: MediaKindAudio, MimeType: "audio/PCMU", PreferredPayloadType: 0, ClockRate: 8000},
		},
	})
	assert.ErrorIs(t, err, ErrInvalidCapabilities)
	assert.False(t, d.Loaded())
}

func TestDeviceCanProduce(t *testing.T) {
	d := NewDevice(allCodecsProbe)
	require.NoError(t, d.Load(fullRouterCaps()))
	assert.True(t, d.CanProduce(MediaKindAudio))
	assert.True(t, d.CanProduce(MediaKindVideo))

	unloaded := NewDevice(allCodecsProbe)
	assert.False(t, unloaded.CanProduce(MediaKindVideo))
}

func TestDeviceSelectVideoCodecFallbackScenario(t *testing.T) {
	// router only routes VP8, requesting H264 must fail so the caller can
	// fall back
	d := NewDevice(allCodecsProbe)
	require.NoError(t, d.Load(vp8OnlyRouterCaps()))

	assert.NoError(t, d.SelectVideoCodec(codec.VideoCodecVP8))
	assert.ErrorIs(t, d.SelectVideoCodec(codec.VideoCodecH264), ErrCodecUnavailable)
	assert.ErrorIs(t, d.SelectVideoCodec(codec.VideoCodecVP9), ErrCodecUnavailable)
}

func TestDeviceProbeFiltersCodecs(t *testing.T) {
	// native shim misses H264, the device must not advertise it even though
	// the router routes it
	noH264 := func(mime string) bool {
		return !strings.EqualFold(mime, "video/h264")
	}
	d := NewDevice(noH264)
	require.NoError(t, d.Load(fullRouterCaps()))

	assert.NoError(t, d.SelectVideoCodec(codec.VideoCodecVP8))
	assert.ErrorIs(t, d.SelectVideoCodec(codec.VideoCodecH264), ErrCodecUnavailable)
}

func TestDeviceCanConsume(t *testing.T) {
	d := NewDevice(allCodecsProbe)
	require.NoError(t, d.Load(vp8OnlyRouterCaps()))

	vp8Params := RtpParameters{
		Codecs: []RtpCodecParameters{
			{MimeType: "video/VP8", PayloadType: 101, ClockRate: 90000},
		},
	}
	assert.True(t, d.CanConsume(MediaKindVideo, vp8Params))

	h264Params := RtpParameters{
		Codecs: []RtpCodecParameters{
			{MimeType: "video/H264", PayloadType: 103, ClockRate: 90000},
		},
	}
	assert.False(t, d.CanConsume(MediaKindVideo, h264Params))
}

func TestDeviceH264PacketizationModeMatching(t *testing.T) {
	// router's H264 is packetization-mode 0, local tables are mode 1, no match
	caps := vp8OnlyRouterCaps()
	caps.Codecs = append(caps.Codecs, RtpCodecCapability{
		Kind:                 MediaKindVideo,
		MimeType:             "video/H264",
		PreferredPayloadType: 103,
		ClockRate:            90000,
		Parameters:           map[string]any{"packetization-mode": 0},
	})

	d := NewDevice(allCodecsProbe)
	require.NoError(t, d.Load(caps))
	assert.ErrorIs(t, d.SelectVideoCodec(codec.VideoCodecH264), ErrCodecUnavailable)
}

func TestDeviceTransportRequiresLoad(t *testing.T) {
	d := NewDevice(allCodecsProbe)
	_, err := NewSendTransport(d, TransportInfo{}, codec.VideoCodecVP8)
	assert.ErrorIs(t, err, ErrDeviceNotLoaded)
	_, err = NewRecvTransport(d, TransportInfo{})
	assert.ErrorIs(t, err, ErrDeviceNotLoaded)
}
