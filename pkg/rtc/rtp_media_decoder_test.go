package rtc

import (
	"sync"
	"testing"
	"time"

	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dorisoy/Dorisoy.Mediasoup-sub002/pkg/codec"
)

// vp8Packet wraps a raw VP8 frame slice in the minimal payload descriptor
// (S bit on the first packet of the frame).
func vp8Packet(seq uint16, frameBytes []byte, startOfFrame, marker bool) *rtp.Packet {
	descriptor := byte(0x00)
	if startOfFrame {
		descriptor = 0x10
	}
	return &rtp.Packet{
		Header: rtp.Header{
			SequenceNumber: seq,
			Marker:         marker,
			PayloadType:    96,
		},
		Payload: append([]byte{descriptor}, frameBytes...),
	}
}

func TestRtpMediaDecoderUnknownConsumerRejected(t *testing.T) {
	m := NewRtpMediaDecoder()
	defer m.Close()

	err := m.ProcessVideoRtpPacket("nobody", vp8Packet(1, []byte{0x00}, true, true))
	assert.ErrorIs(t, err, ErrConsumerNotFound)

	err = m.ProcessAudioRtpPacket("nobody", &rtp.Packet{Payload: []byte{0xfc}})
	assert.ErrorIs(t, err, ErrConsumerNotFound)
}

func TestRtpMediaDecoderRemoveConsumerUnknownIsNoop(t *testing.T) {
	m := NewRtpMediaDecoder()
	defer m.Close()
	m.RemoveConsumer("nobody")
}

// encodeVP8KeyFrame produces one real encoded keyframe to feed back through
// the decode path.
func encodeVP8KeyFrame(t *testing.T) []byte {
	t.Helper()
	enc := codec.NewVideoEncoder(codec.VideoEncoderConfig{
		Codec: codec.VideoCodecVP8, Width: 320, Height: 240,
		FPS: 30, BitrateKbps: 300, Threads: 1,
	})
	var out []byte
	enc.OnFrameEncoded(func(frame codec.EncodedFrame) {
		out = append([]byte(nil), frame.Data...)
	})
	require.NoError(t, enc.Init())
	raw := codec.RawVideoFrame{Data: make([]byte, codec.I420Size(320, 240)), Width: 320, Height: 240}
	require.NoError(t, enc.Encode(raw))
	require.NoError(t, enc.Close())
	require.NotEmpty(t, out)
	return out
}

func TestRtpMediaDecoderFrameAssemblyAndIsolation(t *testing.T) {
	if !codec.VideoCodecAvailable(codec.VideoCodecVP8) {
		t.Skip("vpx shim not loadable")
	}

	m := NewRtpMediaDecoder()
	defer m.Close()

	require.NoError(t, m.SetConsumerVideoCodecType("good", codec.VideoCodecVP8))
	require.NoError(t, m.SetConsumerVideoCodecType("lossy", codec.VideoCodecVP8))

	var lostMu sync.Mutex
	lost := map[string]int{}
	m.OnFrameLost(func(consumerId string) {
		lostMu.Lock()
		lost[consumerId]++
		lostMu.Unlock()
	})
	decoded := make(chan string, 4)
	m.OnDecodedVideoFrame(func(consumerId string, i420 []byte, width, height int) {
		decoded <- consumerId
	})

	// one real keyframe split across two contiguous packets, marker on the last
	key := encodeVP8KeyFrame(t)
	half := len(key) / 2
	require.NoError(t, m.ProcessVideoRtpPacket("good", vp8Packet(10, key[:half], true, false)))
	require.NoError(t, m.ProcessVideoRtpPacket("good", vp8Packet(11, key[half:], false, true)))

	select {
	case id := <-decoded:
		assert.Equal(t, "good", id)
	case <-time.After(time.Second):
		t.Fatal("assembled frame never decoded")
	}

	// a gap on the lossy consumer discards its partial frame and asks for a
	// keyframe, the good consumer's state is untouched. The inter-frame bit
	// on the follow-up keeps it gated instead of decoded.
	require.NoError(t, m.ProcessVideoRtpPacket("lossy", vp8Packet(20, []byte{0x01}, true, false)))
	require.NoError(t, m.ProcessVideoRtpPacket("lossy", vp8Packet(25, []byte{0x01}, true, true)))

	time.Sleep(50 * time.Millisecond)
	lostMu.Lock()
	defer lostMu.Unlock()
	assert.Zero(t, lost["good"])
	assert.Equal(t, 1, lost["lossy"])
}

func TestRtpMediaDecoderDecodeFailureRequestsKeyFrame(t *testing.T) {
	if !codec.VideoCodecAvailable(codec.VideoCodecVP8) {
		t.Skip("vpx shim not loadable")
	}

	m := NewRtpMediaDecoder()
	defer m.Close()
	require.NoError(t, m.SetConsumerVideoCodecType("c1", codec.VideoCodecVP8))

	var lostMu sync.Mutex
	lostCount := 0
	m.OnFrameLost(func(consumerId string) {
		lostMu.Lock()
		lostCount++
		lostMu.Unlock()
	})
	decoded := make(chan struct{}, 1)
	m.OnDecodedVideoFrame(func(consumerId string, i420 []byte, width, height int) {
		decoded <- struct{}{}
	})

	// garbage that looks like a keyframe to the header heuristic but fails
	// in the decoder, with no sequence gap in front of it
	require.NoError(t, m.ProcessVideoRtpPacket("c1", vp8Packet(1, []byte{0x00, 0xde, 0xad}, true, true)))
	lostMu.Lock()
	assert.Equal(t, 1, lostCount)
	lostMu.Unlock()

	// inter frames stay gated until a keyframe arrives, no repeated decode
	require.NoError(t, m.ProcessVideoRtpPacket("c1", vp8Packet(2, []byte{0x01, 0xbe, 0xef}, true, true)))
	lostMu.Lock()
	assert.Equal(t, 1, lostCount)
	lostMu.Unlock()

	// a real keyframe resyncs the consumer
	require.NoError(t, m.ProcessVideoRtpPacket("c1", vp8Packet(3, encodeVP8KeyFrame(t), true, true)))
	select {
	case <-decoded:
	case <-time.After(time.Second):
		t.Fatal("keyframe never resynced the decoder")
	}
	lostMu.Lock()
	assert.Equal(t, 1, lostCount)
	lostMu.Unlock()
}

func TestIsKeyFrameVP8(t *testing.T) {
	assert.True(t, isKeyFrame(codec.VideoCodecVP8, []byte{0x10, 0x02, 0x00}))
	assert.False(t, isKeyFrame(codec.VideoCodecVP8, []byte{0x11, 0x02, 0x00}))
	assert.False(t, isKeyFrame(codec.VideoCodecVP8, nil))
}

func TestIsKeyFrameH264(t *testing.T) {
	idr := []byte{0x00, 0x00, 0x00, 0x01, 0x65, 0x88, 0x80}
	nonIdr := []byte{0x00, 0x00, 0x00, 0x01, 0x41, 0x9a, 0x00}
	assert.True(t, isKeyFrame(codec.VideoCodecH264, idr))
	assert.False(t, isKeyFrame(codec.VideoCodecH264, nonIdr))
}

func TestDispatchQueueOrderAndClose(t *testing.T) {
	q := newDispatchQueue()

	var mu sync.Mutex
	var got []int
	done := make(chan struct{})
	for i := 0; i < 10; i++ {
		i := i
		q.push(func() {
			mu.Lock()
			got = append(got, i)
			if len(got) == 10 {
				close(done)
			}
			mu.Unlock()
		})
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatch queue stalled")
	}

	mu.Lock()
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, got)
	mu.Unlock()

	q.close()
	// pushes after close are dropped, not queued
	q.push(func() { t.Error("must not run") })
	time.Sleep(20 * time.Millisecond)
}
