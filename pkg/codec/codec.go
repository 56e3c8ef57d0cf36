package codec

import (
	"errors"
	"strings"
)

var (
	// ErrCodecUnavailable means the native library cannot provide the
	// requested codec on this host.
	ErrCodecUnavailable = errors.New("native codec unavailable")

	// ErrDisposed is returned by any operation on a closed encoder/decoder.
	ErrDisposed = errors.New("codec instance disposed")

	// ErrDecodeFailed means the native decoder rejected a frame. The caller
	// resyncs by requesting a keyframe.
	ErrDecodeFailed = errors.New("decode failed")
)

// VideoCodecType is the closed set of video codec variants. A variant is
// selected once per encoder instance and once per consumer.
type VideoCodecType int

const (
	VideoCodecVP8 VideoCodecType = iota
	VideoCodecVP9
	VideoCodecH264
)

func (c VideoCodecType) String() string {
	switch c {
	case VideoCodecVP8:
		return "VP8"
	case VideoCodecVP9:
		return "VP9"
	case VideoCodecH264:
		return "H264"
	}
	return "Unknown"
}

func (c VideoCodecType) MimeType() string {
	switch c {
	case VideoCodecVP8:
		return "video/VP8"
	case VideoCodecVP9:
		return "video/VP9"
	case VideoCodecH264:
		return "video/H264"
	}
	return ""
}

// Fixed RTP payload types, shared byte-for-byte between the synthesized SDP
// and the packetizers.
func (c VideoCodecType) PayloadType() uint8 {
	switch c {
	case VideoCodecVP9:
		return 103
	case VideoCodecH264:
		return 105
	default:
		return 96
	}
}

func (c VideoCodecType) RtxPayloadType() uint8 {
	switch c {
	case VideoCodecVP9:
		return 104
	case VideoCodecH264:
		return 106
	default:
		return 97
	}
}

// ClockRate returns the RTP clock rate; every supported video codec runs the
// 90 kHz clock.
func (c VideoCodecType) ClockRate() uint32 { return 90000 }

// VideoCodecTypeFromMimeType maps a codec mime type to its variant.
func VideoCodecTypeFromMimeType(mime string) (VideoCodecType, bool) {
	switch strings.ToLower(mime) {
	case "video/vp8":
		return VideoCodecVP8, true
	case "video/vp9":
		return VideoCodecVP9, true
	case "video/h264":
		return VideoCodecH264, true
	}
	return VideoCodecVP8, false
}

// Opus is the single audio codec.
const (
	OpusPayloadType uint8  = 100
	OpusClockRate   uint32 = 48000
	OpusChannels    int    = 2
	OpusFrameMs     int    = 20
)

// OpusSamplesPerFrame is the per-channel sample count of one 20 ms frame.
const OpusSamplesPerFrame = int(OpusClockRate) * OpusFrameMs / 1000

// RawVideoFrame is one uncompressed picture in packed I420 layout
// (Y plane, then quarter-size U and V planes).
type RawVideoFrame struct {
	Data   []byte
	Width  int
	Height int
}

// I420Size returns the byte size of a packed I420 frame.
func I420Size(width, height int) int {
	return width*height + 2*((width+1)/2)*((height+1)/2)
}

// EncodedFrame is one compressed frame as it leaves an encoder. Transient:
// consumed by the RTP sender immediately, the buffer is reused on the next
// encode call.
type EncodedFrame struct {
	Data       []byte
	IsKeyFrame bool
}

// VideoCodecAvailable probes whether the native shim can provide the variant.
func VideoCodecAvailable(v VideoCodecType) bool {
	switch v {
	case VideoCodecH264:
		return h264Available()
	default:
		return vpxAvailable(v)
	}
}

// AudioCodecAvailable probes the Opus shim.
func AudioCodecAvailable() bool { return opusAvailable() }

// MimeTypeAvailable is the probe shape consumed by the device layer.
func MimeTypeAvailable(mime string) bool {
	if strings.EqualFold(mime, "audio/opus") {
		return AudioCodecAvailable()
	}
	if v, ok := VideoCodecTypeFromMimeType(mime); ok {
		return VideoCodecAvailable(v)
	}
	return false
}
