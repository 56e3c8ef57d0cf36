package rtc

import (
	"testing"

	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dorisoy/Dorisoy.Mediasoup-sub002/pkg/codec"
)

const testFingerprint = "14:B1:8F:5A:2C:70:9E:41:D3:66:0F:8B:11:42:97:CE:" +
	"3D:A4:55:28:6A:F0:19:8C:B7:62:0D:E1:4F:93:76:2B"

func testTransportInfo() TransportInfo {
	return TransportInfo{
		Id:            "t1",
		IceParameters: testIceParameters(),
		IceCandidates: testCandidates(),
		DtlsParameters: DtlsParameters{
			Role: "auto",
			Fingerprints: []DtlsFingerprint{
				{Algorithm: "sha-256", Value: testFingerprint},
			},
		},
	}
}

func loadedDevice(t *testing.T) *Device {
	t.Helper()
	d := NewDevice(allCodecsProbe)
	require.NoError(t, d.Load(fullRouterCaps()))
	return d
}

func TestSendTransportNegotiation(t *testing.T) {
	tr, err := NewSendTransport(loadedDevice(t), testTransportInfo(), codec.VideoCodecVP8)
	require.NoError(t, err)
	defer tr.Close()

	assert.Equal(t, TransportStateNew, tr.State())
	require.NoError(t, tr.Connect())
	assert.Equal(t, TransportStateConnecting, tr.State())

	dtls, err := tr.LocalDtlsParameters()
	require.NoError(t, err)
	assert.Equal(t, "client", dtls.Role)
	require.NotEmpty(t, dtls.Fingerprints)
	assert.NotEmpty(t, dtls.Fingerprints[0].Algorithm)
	assert.NotEmpty(t, dtls.Fingerprints[0].Value)
}

func TestSendTransportProducerRtpParameters(t *testing.T) {
	tr, err := NewSendTransport(loadedDevice(t), testTransportInfo(), codec.VideoCodecVP8)
	require.NoError(t, err)
	defer tr.Close()
	require.NoError(t, tr.Connect())

	audio, err := tr.ProducerRtpParameters(MediaKindAudio)
	require.NoError(t, err)
	require.Len(t, audio.Codecs, 1)
	assert.Equal(t, uint8(100), audio.Codecs[0].PayloadType)
	require.NotEmpty(t, audio.Encodings)
	assert.NotZero(t, audio.Encodings[0].Ssrc)

	video, err := tr.ProducerRtpParameters(MediaKindVideo)
	require.NoError(t, err)
	require.Len(t, video.Codecs, 2)
	assert.Equal(t, uint8(96), video.Codecs[0].PayloadType)
	assert.Equal(t, uint8(97), video.Codecs[1].PayloadType)
	assert.NotZero(t, video.Encodings[0].Ssrc)
	assert.NotEqual(t, audio.Encodings[0].Ssrc, video.Encodings[0].Ssrc)
}

func TestSendTransportParametersBeforeNegotiation(t *testing.T) {
	tr, err := NewSendTransport(loadedDevice(t), testTransportInfo(), codec.VideoCodecVP8)
	require.NoError(t, err)
	defer tr.Close()

	_, err = tr.LocalDtlsParameters()
	assert.Error(t, err)
	_, err = tr.ProducerRtpParameters(MediaKindAudio)
	assert.Error(t, err)
}

func TestSendTransportUnavailableVariant(t *testing.T) {
	d := NewDevice(allCodecsProbe)
	require.NoError(t, d.Load(vp8OnlyRouterCaps()))

	_, err := NewSendTransport(d, testTransportInfo(), codec.VideoCodecH264)
	assert.ErrorIs(t, err, ErrCodecUnavailable)
}

func TestTransportDtlsConnectedFiresOnce(t *testing.T) {
	tr, err := NewSendTransport(loadedDevice(t), testTransportInfo(), codec.VideoCodecVP8)
	require.NoError(t, err)
	defer tr.Close()

	fired := 0
	tr.OnDtlsConnected(func() { fired++ })

	tr.handleConnectionState(webrtc.PeerConnectionStateConnected)
	assert.Equal(t, TransportStateConnected, tr.State())

	// a renegotiation completing again must not re-announce the handshake
	tr.handleConnectionState(webrtc.PeerConnectionStateConnected)
	assert.Equal(t, 1, fired)
}

func TestTransportFailedTransition(t *testing.T) {
	tr, err := NewSendTransport(loadedDevice(t), testTransportInfo(), codec.VideoCodecVP8)
	require.NoError(t, err)
	defer tr.Close()

	failed := 0
	tr.OnFailed(func() { failed++ })

	tr.handleConnectionState(webrtc.PeerConnectionStateConnected)
	tr.handleConnectionState(webrtc.PeerConnectionStateFailed)
	assert.Equal(t, 1, failed)
	assert.Equal(t, TransportStateFailed, tr.State())
}

func TestTransportCloseIdempotent(t *testing.T) {
	tr, err := NewSendTransport(loadedDevice(t), testTransportInfo(), codec.VideoCodecVP8)
	require.NoError(t, err)
	require.NoError(t, tr.Connect())

	require.NoError(t, tr.Close())
	assert.True(t, tr.Closed())
	assert.Equal(t, TransportStateClosed, tr.State())
	assert.NoError(t, tr.Close())
}

func TestRecvTransportConsumeLifecycle(t *testing.T) {
	tr, err := NewRecvTransport(loadedDevice(t), testTransportInfo())
	require.NoError(t, err)
	defer tr.Close()
	require.NoError(t, tr.Connect())
	assert.False(t, tr.Negotiated())

	consumer := &Consumer{
		Id:   "c1",
		Kind: MediaKindVideo,
		RtpParameters: RtpParameters{
			Codecs: []RtpCodecParameters{
				{MimeType: "video/VP8", PayloadType: 101, ClockRate: 90000, RtcpFeedback: VideoRtcpFeedback()},
				{MimeType: "video/rtx", PayloadType: 102, ClockRate: 90000, Parameters: map[string]any{"apt": 101}},
			},
			Encodings: []RtpEncodingParameters{
				{Ssrc: 123456, Rtx: &RtpEncodingRtx{Ssrc: 123457}},
			},
			Rtcp: RtcpParameters{Cname: "remote"},
		},
	}
	require.NoError(t, tr.Consume(consumer))
	assert.True(t, tr.Negotiated())
	assert.Equal(t, "0", consumer.Mid())
	assert.Len(t, tr.Consumers(), 1)

	// duplicate ids are rejected
	assert.Error(t, tr.Consume(&Consumer{
		Id:            "c1",
		Kind:          MediaKindVideo,
		RtpParameters: consumer.RtpParameters,
	}))

	assert.ErrorIs(t, tr.CloseConsumer("unknown"), ErrConsumerNotFound)
	require.NoError(t, tr.CloseConsumer("c1"))
	assert.Empty(t, tr.Consumers())
}

func TestRecvTransportConsumeInvalidParameters(t *testing.T) {
	tr, err := NewRecvTransport(loadedDevice(t), testTransportInfo())
	require.NoError(t, err)
	defer tr.Close()

	err = tr.Consume(&Consumer{Id: "bad", Kind: MediaKindVideo})
	assert.Error(t, err)
}

func TestRecvTransportRequestKeyFrameUnknownConsumer(t *testing.T) {
	tr, err := NewRecvTransport(loadedDevice(t), testTransportInfo())
	require.NoError(t, err)
	defer tr.Close()

	assert.ErrorIs(t, tr.RequestKeyFrame("unknown"), ErrConsumerNotFound)
}
