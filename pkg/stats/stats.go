// Package stats exposes prometheus counters for the media pipeline hot paths.
// Registration uses the default registry; an embedding application scrapes or
// ignores them as it sees fit.
package stats

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FramesEncoded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "media_frames_encoded_total",
		Help: "Video frames encoded, by codec variant.",
	}, []string{"codec"})

	KeyFramesForced = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "media_keyframes_forced_total",
		Help: "Keyframes forced by PLI/FIR or encoder restarts, by codec variant.",
	}, []string{"codec"})

	EncodeFaults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "media_encode_faults_total",
		Help: "Native encoder faults recovered by reinitialization.",
	}, []string{"codec"})

	FramesDecoded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "media_frames_decoded_total",
		Help: "Video frames decoded, by codec variant.",
	}, []string{"codec"})

	DecodeFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "media_decode_failures_total",
		Help: "Non-fatal decode failures awaiting keyframe recovery.",
	}, []string{"codec"})

	RtpPacketsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "media_rtp_packets_sent_total",
		Help: "RTP packets written to the send transport, by kind.",
	}, []string{"kind"})

	RtpPacketsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "media_rtp_packets_received_total",
		Help: "RTP packets routed to consumers, by kind.",
	}, []string{"kind"})

	KeyFrameRequests = promauto.NewCounter(prometheus.CounterOpts{
		Name: "media_keyframe_requests_total",
		Help: "PLI keyframe requests sent for remote consumers.",
	})

	ChunksExpired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "media_chunk_assemblies_expired_total",
		Help: "Chunked signaling payloads dropped after the reassembly TTL.",
	})
)
