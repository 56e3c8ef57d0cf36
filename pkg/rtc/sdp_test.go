package rtc

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dorisoy/Dorisoy.Mediasoup-sub002/pkg/codec"
)

func testIceParameters() IceParameters {
	return IceParameters{
		UsernameFragment: "ufrag1234",
		Password:         "pwd5678secret",
		IceLite:          true,
	}
}

func testCandidates() []IceCandidate {
	return []IceCandidate{
		{
			Foundation: "udpcandidate",
			Ip:         "192.168.1.10",
			Port:       40123,
			Priority:   1015,
			Protocol:   "udp",
			Type:       "host",
		},
	}
}

func testDtlsParameters() DtlsParameters {
	return DtlsParameters{
		Role: "auto",
		Fingerprints: []DtlsFingerprint{
			{Algorithm: "sha-256", Value: "AB:CD:EF:00:11:22"},
		},
	}
}

func TestBuildSendRemoteOfferVP8(t *testing.T) {
	raw, err := BuildSendRemoteOffer(testIceParameters(), testCandidates(), testDtlsParameters(), codec.VideoCodecVP8)
	require.NoError(t, err)

	assert.Contains(t, raw, "a=group:BUNDLE 0 1")
	assert.Contains(t, raw, "a=ice-lite")
	assert.Contains(t, raw, "a=ice-ufrag:ufrag1234")
	assert.Contains(t, raw, "a=ice-pwd:pwd5678secret")
	assert.Contains(t, raw, "a=fingerprint:sha-256 AB:CD:EF:00:11:22")
	assert.Contains(t, raw, "a=setup:actpass")
	assert.Contains(t, raw, "a=recvonly")
	assert.NotContains(t, raw, "a=sendonly")

	assert.Contains(t, raw, "a=rtpmap:100 opus/48000/2")
	assert.Contains(t, raw, "a=fmtp:100 minptime=10;useinbandfec=1")
	assert.Contains(t, raw, "a=rtpmap:96 VP8/90000")
	assert.Contains(t, raw, "a=rtpmap:97 rtx/90000")
	assert.Contains(t, raw, "a=fmtp:97 apt=96")
	// VP8 carries no fmtp for its primary payload type
	assert.NotContains(t, raw, "a=fmtp:96")

	assert.Contains(t, raw, "a=rtcp-fb:96 nack")
	assert.Contains(t, raw, "a=rtcp-fb:96 nack pli")
	assert.Contains(t, raw, "a=rtcp-fb:96 ccm fir")
	assert.Contains(t, raw, "a=rtcp-fb:96 goog-remb")
	assert.Contains(t, raw, "a=rtcp-fb:96 transport-cc")

	assert.Contains(t, raw, "typ host")
	assert.Contains(t, raw, "a=end-of-candidates")
}

func TestBuildSendRemoteOfferVP9(t *testing.T) {
	raw, err := BuildSendRemoteOffer(testIceParameters(), testCandidates(), testDtlsParameters(), codec.VideoCodecVP9)
	require.NoError(t, err)

	assert.Contains(t, raw, "a=rtpmap:103 VP9/90000")
	assert.Contains(t, raw, "a=fmtp:103 profile-id=0")
	assert.Contains(t, raw, "a=fmtp:104 apt=103")
	assert.NotContains(t, raw, "VP8")
}

func TestBuildSendRemoteOfferH264(t *testing.T) {
	raw, err := BuildSendRemoteOffer(testIceParameters(), testCandidates(), testDtlsParameters(), codec.VideoCodecH264)
	require.NoError(t, err)

	assert.Contains(t, raw, "a=rtpmap:105 H264/90000")
	assert.Contains(t, raw, "a=fmtp:105 level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42e01f")
	assert.Contains(t, raw, "a=fmtp:106 apt=105")
}

func TestBuildSendRemoteOfferSetupFollowsRole(t *testing.T) {
	dtls := testDtlsParameters()

	dtls.Role = "client"
	raw, err := BuildSendRemoteOffer(testIceParameters(), nil, dtls, codec.VideoCodecVP8)
	require.NoError(t, err)
	assert.Contains(t, raw, "a=setup:active")

	dtls.Role = "server"
	raw, err = BuildSendRemoteOffer(testIceParameters(), nil, dtls, codec.VideoCodecVP8)
	require.NoError(t, err)
	assert.Contains(t, raw, "a=setup:passive")
}

func TestBuildSendRemoteOfferNoFingerprint(t *testing.T) {
	_, err := BuildSendRemoteOffer(testIceParameters(), nil, DtlsParameters{Role: "auto"}, codec.VideoCodecVP8)
	assert.Error(t, err)
}

func TestBuildRecvRemoteOfferSections(t *testing.T) {
	consumers := []ConsumerSdpInfo{
		{
			ConsumerId: "c1",
			Mid:        "0",
			Kind:       MediaKindVideo,
			Codecs: []RtpCodecParameters{
				{MimeType: "video/VP8", PayloadType: 101, ClockRate: 90000, RtcpFeedback: VideoRtcpFeedback()},
				{MimeType: "video/rtx", PayloadType: 102, ClockRate: 90000, Parameters: map[string]any{"apt": 101}},
			},
			Ssrc:    222222,
			RtxSsrc: 333333,
			Cname:   "remotecname",
		},
		{
			ConsumerId: "c2",
			Mid:        "1",
			Kind:       MediaKindAudio,
			Codecs: []RtpCodecParameters{
				{MimeType: "audio/opus", PayloadType: 111, ClockRate: 48000, Channels: 2},
			},
			Ssrc:  444444,
			Cname: "remotecname",
		},
	}

	raw, err := BuildRecvRemoteOffer(testIceParameters(), testCandidates(), testDtlsParameters(), consumers)
	require.NoError(t, err)

	assert.Contains(t, raw, "a=group:BUNDLE 0 1")
	assert.Equal(t, 2, strings.Count(raw, "a=sendonly"))
	assert.NotContains(t, raw, "a=recvonly")

	// consumer payload types, not the fixed local tables
	assert.Contains(t, raw, "a=rtpmap:101 VP8/90000")
	assert.Contains(t, raw, "a=fmtp:102 apt=101")
	assert.Contains(t, raw, "a=rtpmap:111 opus/48000/2")

	assert.Contains(t, raw, "a=ssrc-group:FID 222222 333333")
	assert.Contains(t, raw, "a=ssrc:222222 cname:remotecname")
	assert.Contains(t, raw, "a=ssrc:333333 cname:remotecname")
	assert.Contains(t, raw, "a=ssrc:444444 cname:remotecname")
}

func TestBuildRemoteAnswerAlwaysPassive(t *testing.T) {
	consumers := []ConsumerSdpInfo{
		{
			Mid:  "0",
			Kind: MediaKindAudio,
			Codecs: []RtpCodecParameters{
				{MimeType: "audio/opus", PayloadType: 111, ClockRate: 48000, Channels: 2},
			},
			Ssrc:  555,
			Cname: "x",
		},
	}
	raw, err := BuildRemoteAnswer(testIceParameters(), nil, testDtlsParameters(), consumers)
	require.NoError(t, err)
	assert.Contains(t, raw, "a=setup:passive")
	assert.Contains(t, raw, "a=sendonly")
}

func TestCandidateLineTcpType(t *testing.T) {
	line := candidateLine(IceCandidate{
		Foundation: "tcpcandidate",
		Ip:         "10.0.0.1",
		Port:       443,
		Priority:   1020,
		Protocol:   "TCP",
		Type:       "host",
		TcpType:    "passive",
	})
	assert.Equal(t, "tcpcandidate 1 tcp 1020 10.0.0.1 443 typ host tcptype passive", line)
}
