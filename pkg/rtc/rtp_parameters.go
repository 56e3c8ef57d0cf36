package rtc

import (
	"strings"

	"github.com/dorisoy/Dorisoy.Mediasoup-sub002/pkg/codec"
)

// Media kind ("audio" or "video").
type MediaKind string

const (
	MediaKindAudio MediaKind = "audio"
	MediaKindVideo MediaKind = "video"
)

// RtcpFeedback is a transport-layer or codec-specific feedback message
// supported for a codec.
type RtcpFeedback struct {
	Type      string `json:"type"`
	Parameter string `json:"parameter,omitempty"`
}

// RtpCodecCapability describes one codec within the router's RTP capabilities.
type RtpCodecCapability struct {
	Kind                 MediaKind         `json:"kind"`
	MimeType             string            `json:"mimeType"`
	PreferredPayloadType uint8             `json:"preferredPayloadType,omitempty"`
	ClockRate            uint32            `json:"clockRate"`
	Channels             uint8             `json:"channels,omitempty"`
	Parameters           map[string]any    `json:"parameters,omitempty"`
	RtcpFeedback         []RtcpFeedback    `json:"rtcpFeedback,omitempty"`
}

func (r RtpCodecCapability) isRtxCodec() bool {
	return strings.HasSuffix(strings.ToLower(r.MimeType), "/rtx")
}

// RtpHeaderExtension is one header extension within the router capabilities.
type RtpHeaderExtension struct {
	Kind             MediaKind `json:"kind"`
	Uri              string    `json:"uri"`
	PreferredId      uint8     `json:"preferredId"`
	PreferredEncrypt bool      `json:"preferredEncrypt,omitempty"`
	Direction        string    `json:"direction,omitempty"`
}

// RtpCapabilities is what the router (or this endpoint) can receive at the
// media level. Immutable once loaded into a Device.
type RtpCapabilities struct {
	Codecs           []RtpCodecCapability `json:"codecs,omitempty"`
	HeaderExtensions []RtpHeaderExtension `json:"headerExtensions,omitempty"`
}

// RtpCodecParameters is a negotiated codec inside RtpParameters.
type RtpCodecParameters struct {
	MimeType     string         `json:"mimeType"`
	PayloadType  uint8          `json:"payloadType"`
	ClockRate    uint32         `json:"clockRate"`
	Channels     uint8          `json:"channels,omitempty"`
	Parameters   map[string]any `json:"parameters,omitempty"`
	RtcpFeedback []RtcpFeedback `json:"rtcpFeedback,omitempty"`
}

// RtpHeaderExtensionParameter is a negotiated header extension id.
type RtpHeaderExtensionParameter struct {
	Uri string `json:"uri"`
	Id  uint8  `json:"id"`
}

// RtpEncodingRtx carries the RTX SSRC of an encoding.
type RtpEncodingRtx struct {
	Ssrc uint32 `json:"ssrc"`
}

// RtpEncodingParameters is one encoding (one SSRC) of a stream.
type RtpEncodingParameters struct {
	Ssrc            uint32          `json:"ssrc,omitempty"`
	Rid             string          `json:"rid,omitempty"`
	Rtx             *RtpEncodingRtx `json:"rtx,omitempty"`
	MaxBitrate      uint32          `json:"maxBitrate,omitempty"`
	ScalabilityMode string          `json:"scalabilityMode,omitempty"`
}

// RtcpParameters carries the per-stream RTCP settings (cname mainly).
type RtcpParameters struct {
	Cname       string `json:"cname,omitempty"`
	ReducedSize bool   `json:"reducedSize,omitempty"`
}

// RtpParameters fully describe one producer or consumer stream as negotiated
// with the SFU. Supplied by the server on consumer creation; built locally for
// producers.
type RtpParameters struct {
	Mid              string                        `json:"mid,omitempty"`
	Codecs           []RtpCodecParameters          `json:"codecs"`
	HeaderExtensions []RtpHeaderExtensionParameter `json:"headerExtensions,omitempty"`
	Encodings        []RtpEncodingParameters       `json:"encodings,omitempty"`
	Rtcp             RtcpParameters                `json:"rtcp,omitempty"`
}

// VideoCodec returns the variant of the first video codec in the parameters.
func (p RtpParameters) VideoCodec() (codec.VideoCodecType, bool) {
	for _, c := range p.Codecs {
		if v, ok := codec.VideoCodecTypeFromMimeType(c.MimeType); ok {
			return v, true
		}
	}
	return codec.VideoCodecVP8, false
}

// Ssrc returns the primary SSRC of the parameters, 0 when absent.
func (p RtpParameters) Ssrc() uint32 {
	if len(p.Encodings) == 0 {
		return 0
	}
	return p.Encodings[0].Ssrc
}

// IceParameters are the SFU-supplied ICE credentials for one transport.
// Consumed verbatim when synthesizing SDP, never mutated.
type IceParameters struct {
	UsernameFragment string `json:"usernameFragment"`
	Password         string `json:"password"`
	IceLite          bool   `json:"iceLite,omitempty"`
}

// IceCandidate is one SFU-side candidate for one transport.
type IceCandidate struct {
	Foundation string `json:"foundation"`
	Priority   uint32 `json:"priority"`
	Ip         string `json:"ip"`
	Protocol   string `json:"protocol"`
	Port       uint16 `json:"port"`
	Type       string `json:"type"`
	TcpType    string `json:"tcpType,omitempty"`
}

// DtlsFingerprint is one certificate fingerprint of a DTLS endpoint.
type DtlsFingerprint struct {
	Algorithm string `json:"algorithm"`
	Value     string `json:"value"`
}

// DtlsParameters describe one side of the DTLS handshake.
type DtlsParameters struct {
	Role         string            `json:"role,omitempty"`
	Fingerprints []DtlsFingerprint `json:"fingerprints"`
}

// TransportInfo is the bundle of wire parameters the SFU returns when a
// transport is created.
type TransportInfo struct {
	Id             string         `json:"id"`
	IceParameters  IceParameters  `json:"iceParameters"`
	IceCandidates  []IceCandidate `json:"iceCandidates"`
	DtlsParameters DtlsParameters `json:"dtlsParameters"`
}
