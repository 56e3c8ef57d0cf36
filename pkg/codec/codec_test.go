package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVideoCodecTypeTables(t *testing.T) {
	assert.Equal(t, uint8(96), VideoCodecVP8.PayloadType())
	assert.Equal(t, uint8(97), VideoCodecVP8.RtxPayloadType())
	assert.Equal(t, uint8(103), VideoCodecVP9.PayloadType())
	assert.Equal(t, uint8(104), VideoCodecVP9.RtxPayloadType())
	assert.Equal(t, uint8(105), VideoCodecH264.PayloadType())
	assert.Equal(t, uint8(106), VideoCodecH264.RtxPayloadType())

	for _, v := range []VideoCodecType{VideoCodecVP8, VideoCodecVP9, VideoCodecH264} {
		assert.Equal(t, uint32(90000), v.ClockRate())
	}
}

func TestVideoCodecTypeFromMimeType(t *testing.T) {
	v, ok := VideoCodecTypeFromMimeType("video/VP8")
	assert.True(t, ok)
	assert.Equal(t, VideoCodecVP8, v)

	v, ok = VideoCodecTypeFromMimeType("video/h264")
	assert.True(t, ok)
	assert.Equal(t, VideoCodecH264, v)

	_, ok = VideoCodecTypeFromMimeType("video/av1")
	assert.False(t, ok)
}

func TestI420Size(t *testing.T) {
	assert.Equal(t, 1280*720*3/2, I420Size(1280, 720))
	// odd dimensions round the chroma planes up
	assert.Equal(t, 3*3+2*2*2, I420Size(3, 3))
}

func TestOpusFrameConstants(t *testing.T) {
	assert.Equal(t, 960, OpusSamplesPerFrame)
}
