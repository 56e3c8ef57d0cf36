package rtc

import (
	"fmt"
	"strings"

	"github.com/pion/sdp/v3"

	"github.com/dorisoy/Dorisoy.Mediasoup-sub002/pkg/codec"
)

// The SDP builder translates SFU wire parameters (ICE, DTLS, RTP) into the
// synthetic session descriptions the underlying engine expects. The SFU side
// of this protocol never exchanges SDP, so every remote description the
// engine sees is synthesized here. All functions are pure: credentials,
// fingerprints and candidates are taken verbatim from the SFU parameters and
// the fixed wire tables; the builder never invents its own.

// ConsumerSdpInfo is the per-consumer slice of negotiated parameters needed
// to synthesize one receive-side media section.
type ConsumerSdpInfo struct {
	ConsumerId string
	Mid        string
	Kind       MediaKind
	Codecs     []RtpCodecParameters
	Ssrc       uint32
	RtxSsrc    uint32
	Cname      string
}

type mediaSection struct {
	mid        string
	kind       MediaKind
	direction  string
	codecs     []RtpCodecParameters
	extensions []RtpHeaderExtensionParameter
	ssrc       uint32
	rtxSsrc    uint32
	cname      string
}

// BuildSendRemoteOffer synthesizes the remote offer describing the SFU's
// send-side endpoint: one Opus audio section and one video section for the
// selected codec variant, both recvonly from the SFU's perspective so the
// local answer comes out sendonly.
func BuildSendRemoteOffer(ice IceParameters, candidates []IceCandidate, dtls DtlsParameters, videoCodec codec.VideoCodecType) (string, error) {
	sections := []mediaSection{
		{
			mid:        "0",
			kind:       MediaKindAudio,
			direction:  "recvonly",
			codecs:     opusCodecParameters(),
			extensions: HeaderExtensionsForKind(MediaKindAudio),
		},
		{
			mid:        "1",
			kind:       MediaKindVideo,
			direction:  "recvonly",
			codecs:     videoCodecParameters(videoCodec),
			extensions: HeaderExtensionsForKind(MediaKindVideo),
		},
	}
	return marshalSession(ice, candidates, dtls, offerSetupRole(dtls), sections)
}

// BuildRecvRemoteOffer synthesizes the remote offer describing the SFU's
// receive-side endpoint: one sendonly media section per active consumer with
// that consumer's negotiated payload types, SSRCs and cname.
func BuildRecvRemoteOffer(ice IceParameters, candidates []IceCandidate, dtls DtlsParameters, consumers []ConsumerSdpInfo) (string, error) {
	sections := make([]mediaSection, 0, len(consumers))
	for _, c := range consumers {
		sections = append(sections, mediaSection{
			mid:        c.Mid,
			kind:       c.Kind,
			direction:  "sendonly",
			codecs:     c.Codecs,
			extensions: HeaderExtensionsForKind(c.Kind),
			ssrc:       c.Ssrc,
			rtxSsrc:    c.RtxSsrc,
			cname:      c.Cname,
		})
	}
	return marshalSession(ice, candidates, dtls, offerSetupRole(dtls), sections)
}

// BuildRemoteAnswer is the server-perspective mirror used when the engine has
// produced a local offer and needs a remote answer: every section answers
// sendonly with setup:passive.
func BuildRemoteAnswer(ice IceParameters, candidates []IceCandidate, dtls DtlsParameters, consumers []ConsumerSdpInfo) (string, error) {
	sections := make([]mediaSection, 0, len(consumers))
	for _, c := range consumers {
		sections = append(sections, mediaSection{
			mid:        c.Mid,
			kind:       c.Kind,
			direction:  "sendonly",
			codecs:     c.Codecs,
			extensions: HeaderExtensionsForKind(c.Kind),
			ssrc:       c.Ssrc,
			rtxSsrc:    c.RtxSsrc,
			cname:      c.Cname,
		})
	}
	return marshalSession(ice, candidates, dtls, "passive", sections)
}

// offerSetupRole maps the SFU's DTLS role to the setup attribute of the
// synthesized remote description. The remote description states the remote
// endpoint's own role: "client" maps to active, "server" to passive.
func offerSetupRole(dtls DtlsParameters) string {
	switch dtls.Role {
	case "client":
		return "active"
	case "server":
		return "passive"
	default:
		return "actpass"
	}
}

func opusCodecParameters() []RtpCodecParameters {
	return []RtpCodecParameters{
		{
			MimeType:    "audio/opus",
			PayloadType: codec.OpusPayloadType,
			ClockRate:   codec.OpusClockRate,
			Channels:    uint8(codec.OpusChannels),
		},
	}
}

func videoCodecParameters(v codec.VideoCodecType) []RtpCodecParameters {
	return []RtpCodecParameters{
		{
			MimeType:     v.MimeType(),
			PayloadType:  v.PayloadType(),
			ClockRate:    v.ClockRate(),
			RtcpFeedback: VideoRtcpFeedback(),
		},
		{
			MimeType:    "video/rtx",
			PayloadType: v.RtxPayloadType(),
			ClockRate:   v.ClockRate(),
		},
	}
}

func marshalSession(ice IceParameters, candidates []IceCandidate, dtls DtlsParameters, setup string, sections []mediaSection) (string, error) {
	if len(dtls.Fingerprints) == 0 {
		return "", fmt.Errorf("dtls parameters carry no fingerprint")
	}
	fingerprint := dtls.Fingerprints[len(dtls.Fingerprints)-1]

	desc := &sdp.SessionDescription{
		Version: 0,
		Origin: sdp.Origin{
			Username:       "-",
			SessionID:      10000,
			SessionVersion: 2,
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: "0.0.0.0",
		},
		SessionName: "-",
		TimeDescriptions: []sdp.TimeDescription{
			{Timing: sdp.Timing{StartTime: 0, StopTime: 0}},
		},
	}

	mids := make([]string, 0, len(sections))
	for _, s := range sections {
		mids = append(mids, s.mid)
	}
	desc.Attributes = append(desc.Attributes,
		sdp.Attribute{Key: "group", Value: "BUNDLE " + strings.Join(mids, " ")},
		sdp.Attribute{Key: "msid-semantic", Value: " WMS *"},
	)
	if ice.IceLite {
		desc.Attributes = append(desc.Attributes, sdp.Attribute{Key: "ice-lite"})
	}

	for _, s := range sections {
		media, err := buildMediaDescription(s, ice, candidates, fingerprint, setup)
		if err != nil {
			return "", err
		}
		desc.MediaDescriptions = append(desc.MediaDescriptions, media)
	}

	raw, err := desc.Marshal()
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func buildMediaDescription(s mediaSection, ice IceParameters, candidates []IceCandidate, fingerprint DtlsFingerprint, setup string) (*sdp.MediaDescription, error) {
	if len(s.codecs) == 0 {
		return nil, fmt.Errorf("media section %q has no codecs", s.mid)
	}

	formats := make([]string, 0, len(s.codecs))
	for _, c := range s.codecs {
		formats = append(formats, fmt.Sprintf("%d", c.PayloadType))
	}

	media := &sdp.MediaDescription{
		MediaName: sdp.MediaName{
			Media:   string(s.kind),
			Port:    sdp.RangedPort{Value: 7},
			Protos:  []string{"UDP", "TLS", "RTP", "SAVPF"},
			Formats: formats,
		},
		ConnectionInformation: &sdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: "IP4",
			Address:     &sdp.Address{Address: "127.0.0.1"},
		},
	}

	attr := func(key, value string) {
		media.Attributes = append(media.Attributes, sdp.Attribute{Key: key, Value: value})
	}
	flag := func(key string) {
		media.Attributes = append(media.Attributes, sdp.Attribute{Key: key})
	}

	attr("mid", s.mid)
	attr("ice-ufrag", ice.UsernameFragment)
	attr("ice-pwd", ice.Password)
	attr("fingerprint", strings.ToLower(fingerprint.Algorithm)+" "+fingerprint.Value)
	attr("setup", setup)
	flag(s.direction)
	flag("rtcp-mux")
	flag("rtcp-rsize")

	for _, c := range s.codecs {
		name := c.MimeType[strings.Index(c.MimeType, "/")+1:]
		rtpmap := fmt.Sprintf("%d %s/%d", c.PayloadType, name, c.ClockRate)
		if c.Channels > 1 {
			rtpmap = fmt.Sprintf("%s/%d", rtpmap, c.Channels)
		}
		attr("rtpmap", rtpmap)

		for _, fb := range c.RtcpFeedback {
			value := fb.Type
			if fb.Parameter != "" {
				value += " " + fb.Parameter
			}
			attr("rtcp-fb", fmt.Sprintf("%d %s", c.PayloadType, value))
		}

		fmtp := codecFmtpLine(c)
		if fmtp != "" {
			attr("fmtp", fmt.Sprintf("%d %s", c.PayloadType, fmtp))
		}
	}

	for _, ext := range s.extensions {
		attr("extmap", fmt.Sprintf("%d %s", ext.Id, ext.Uri))
	}

	if s.ssrc != 0 {
		if s.rtxSsrc != 0 {
			attr("ssrc-group", fmt.Sprintf("FID %d %d", s.ssrc, s.rtxSsrc))
		}
		attr("ssrc", fmt.Sprintf("%d cname:%s", s.ssrc, s.cname))
		if s.rtxSsrc != 0 {
			attr("ssrc", fmt.Sprintf("%d cname:%s", s.rtxSsrc, s.cname))
		}
	}

	for _, c := range candidates {
		attr("candidate", candidateLine(c))
	}
	flag("end-of-candidates")

	return media, nil
}

// codecFmtpLine maps a negotiated codec to its fmtp line. The fixed variants
// carry the fixed tables; rtx codecs always carry the apt parameter.
func codecFmtpLine(c RtpCodecParameters) string {
	mime := strings.ToLower(c.MimeType)
	switch mime {
	case "video/vp8":
		return ""
	case "video/vp9":
		return FmtpVP9
	case "video/h264":
		return FmtpH264
	case "audio/opus":
		return FmtpOpus
	case "video/rtx":
		if apt, ok := c.Parameters["apt"]; ok {
			return fmt.Sprintf("apt=%v", apt)
		}
		for _, v := range []codec.VideoCodecType{codec.VideoCodecVP8, codec.VideoCodecVP9, codec.VideoCodecH264} {
			if c.PayloadType == v.RtxPayloadType() {
				return fmt.Sprintf("apt=%d", v.PayloadType())
			}
		}
	}
	// Consumer-supplied parameters pass through untouched.
	if len(c.Parameters) > 0 {
		parts := make([]string, 0, len(c.Parameters))
		for k, v := range c.Parameters {
			parts = append(parts, fmt.Sprintf("%s=%v", k, v))
		}
		return strings.Join(parts, ";")
	}
	return ""
}

func candidateLine(c IceCandidate) string {
	line := fmt.Sprintf("%s 1 %s %d %s %d typ %s",
		c.Foundation, strings.ToLower(c.Protocol), c.Priority, c.Ip, c.Port, c.Type)
	if c.TcpType != "" {
		line += " tcptype " + c.TcpType
	}
	return line
}
