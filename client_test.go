package meeting

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dorisoy/Dorisoy.Mediasoup-sub002/pkg/codec"
)

func TestEncodeVideoFrameWithoutEncoder(t *testing.T) {
	c, err := New(DefaultConfig())
	require.NoError(t, err)
	defer c.decoder.Close()

	frame := codec.RawVideoFrame{Data: make([]byte, codec.I420Size(320, 240)), Width: 320, Height: 240}
	assert.ErrorIs(t, c.encodeVideoFrame(frame), codec.ErrDisposed)
}

func TestEncodeVideoFrameTracksEncoderSwap(t *testing.T) {
	if !codec.VideoCodecAvailable(codec.VideoCodecVP8) {
		t.Skip("vpx shim not loadable")
	}

	c, err := New(DefaultConfig())
	require.NoError(t, err)
	defer c.decoder.Close()

	cfg := codec.VideoEncoderConfig{
		Codec: codec.VideoCodecVP8, Width: 320, Height: 240,
		FPS: 30, BitrateKbps: 300, Threads: 1,
	}
	frame := codec.RawVideoFrame{Data: make([]byte, codec.I420Size(320, 240)), Width: 320, Height: 240}

	first := codec.NewVideoEncoder(cfg)
	firstFrames := 0
	first.OnFrameEncoded(func(codec.EncodedFrame) { firstFrames++ })
	require.NoError(t, first.Init())
	c.mu.Lock()
	c.videoEnc = first
	c.mu.Unlock()

	require.NoError(t, c.encodeVideoFrame(frame))
	assert.Equal(t, 1, firstFrames)

	// a codec switch closes the old encoder and installs a replacement, the
	// capture path must pick it up rather than keep the dead one
	second := codec.NewVideoEncoder(cfg)
	secondFrames := 0
	second.OnFrameEncoded(func(codec.EncodedFrame) { secondFrames++ })
	require.NoError(t, second.Init())
	require.NoError(t, first.Close())
	c.mu.Lock()
	c.videoEnc = second
	c.mu.Unlock()

	require.NoError(t, c.encodeVideoFrame(frame))
	assert.Equal(t, 1, secondFrames)
	require.NoError(t, second.Close())
}
