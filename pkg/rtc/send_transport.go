package rtc

import (
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"sync"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"
	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v3"

	"github.com/dorisoy/Dorisoy.Mediasoup-sub002/pkg/codec"
	"github.com/dorisoy/Dorisoy.Mediasoup-sub002/pkg/stats"
)

const rtpOutboundMTU = 1200

// OnKeyFrameRequestedFunc fires when the SFU asks for a keyframe via PLI or
// FIR. The codec pipeline must force the next encoded frame to be intra.
type OnKeyFrameRequestedFunc func()

// OnTargetBitrateFunc fires when REMB feedback changes the target bitrate.
type OnTargetBitrateFunc func(bitrateBps uint64)

// SendTransport carries the locally produced streams. It owns the RTP
// packetization: encoded frames enter whole and leave as codec-fragmented
// RTP packets whose payload types match the synthesized SDP.
type SendTransport struct {
	*Transport

	mu     sync.Mutex
	device *Device

	videoCodec      codec.VideoCodecType
	videoProducer   *Producer
	audioProducer   *Producer
	videoPacketizer rtp.Packetizer
	videoFPS        uint32

	onKeyFrameRequested OnKeyFrameRequestedFunc
	onTargetBitrate     OnTargetBitrateFunc
}

// NewSendTransport builds a send-direction transport for the given SFU wire
// parameters. The device must be loaded and the variant usable.
func NewSendTransport(device *Device, info TransportInfo, videoCodec codec.VideoCodecType) (*SendTransport, error) {
	if !device.Loaded() {
		return nil, ErrDeviceNotLoaded
	}
	if err := device.SelectVideoCodec(videoCodec); err != nil {
		return nil, err
	}

	me, err := buildSendMediaEngine()
	if err != nil {
		return nil, err
	}
	base, err := newTransport(info.Id, DirectionSend, info, me)
	if err != nil {
		return nil, err
	}

	return &SendTransport{
		Transport:  base,
		device:     device,
		videoCodec: videoCodec,
		videoFPS:   30,
	}, nil
}

// OnKeyFrameRequested registers the keyframe-demand callback.
func (t *SendTransport) OnKeyFrameRequested(fn OnKeyFrameRequestedFunc) {
	t.mu.Lock()
	t.onKeyFrameRequested = fn
	t.mu.Unlock()
}

// OnTargetBitrateChanged registers the REMB bitrate callback.
func (t *SendTransport) OnTargetBitrateChanged(fn OnTargetBitrateFunc) {
	t.mu.Lock()
	t.onTargetBitrate = fn
	t.mu.Unlock()
}

// Connect adds the local tracks and hands the engine the synthesized remote
// offer. The DTLS handshake completes asynchronously; OnDtlsConnected fires
// when it does.
func (t *SendTransport) Connect() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.ensureProducersLocked(); err != nil {
		return err
	}
	offer, err := BuildSendRemoteOffer(t.info.IceParameters, t.info.IceCandidates, t.info.DtlsParameters, t.videoCodec)
	if err != nil {
		return err
	}
	return t.negotiate(offer)
}

// ensureProducersLocked creates the audio and video producers and their
// engine tracks. Tracks exist before the first negotiation so the local
// answer carries their sections.
func (t *SendTransport) ensureProducersLocked() error {
	if t.videoProducer != nil {
		return nil
	}

	streamId := "stream-" + GenerateRandomString(8)

	videoTrack, err := webrtc.NewTrackLocalStaticRTP(webrtc.RTPCodecCapability{
		MimeType:  t.videoCodec.MimeType(),
		ClockRate: t.videoCodec.ClockRate(),
	}, "video-"+GenerateRandomString(8), streamId)
	if err != nil {
		return errProduceFailed(err)
	}
	videoSender, err := t.pc.AddTrack(videoTrack)
	if err != nil {
		return errProduceFailed(err)
	}

	audioTrack, err := webrtc.NewTrackLocalStaticRTP(webrtc.RTPCodecCapability{
		MimeType:  webrtc.MimeTypeOpus,
		ClockRate: codec.OpusClockRate,
		Channels:  uint16(codec.OpusChannels),
	}, "audio-"+GenerateRandomString(8), streamId)
	if err != nil {
		return errProduceFailed(err)
	}
	audioSender, err := t.pc.AddTrack(audioTrack)
	if err != nil {
		return errProduceFailed(err)
	}

	t.videoProducer = newProducer(MediaKindVideo, videoTrack, videoSender)
	t.audioProducer = newProducer(MediaKindAudio, audioTrack, audioSender)
	t.videoPacketizer = t.newVideoPacketizerLocked()
	t.audioProducer.packetizer = rtp.NewPacketizer(
		rtpOutboundMTU,
		codec.OpusPayloadType,
		rand.Uint32(),
		&codecs.OpusPayloader{},
		rtp.NewRandomSequencer(),
		codec.OpusClockRate,
	)

	go t.rtcpLoop(videoSender, true)
	go t.rtcpLoop(audioSender, false)
	return nil
}

// newVideoPacketizerLocked builds the packetizer matching the selected
// variant. The engine rewrites SSRC and payload type per its track binding;
// the fragmentation is the part that must be codec-correct here.
func (t *SendTransport) newVideoPacketizerLocked() rtp.Packetizer {
	var payloader rtp.Payloader
	switch t.videoCodec {
	case codec.VideoCodecVP9:
		payloader = &codecs.VP9Payloader{}
	case codec.VideoCodecH264:
		payloader = &codecs.H264Payloader{}
	default:
		payloader = &codecs.VP8Payloader{EnablePictureID: true}
	}
	return rtp.NewPacketizer(
		rtpOutboundMTU,
		t.videoCodec.PayloadType(),
		rand.Uint32(),
		payloader,
		rtp.NewRandomSequencer(),
		t.videoCodec.ClockRate(),
	)
}

// VideoCodec returns the currently selected video variant.
func (t *SendTransport) VideoCodec() codec.VideoCodecType {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.videoCodec
}

// SetVideoCodec switches the outbound video variant mid-session: the track
// and packetizer are replaced and the engine renegotiated. The caller owns
// rebuilding the encoder; the first frame it produces is a keyframe.
func (t *SendTransport) SetVideoCodec(variant codec.VideoCodecType) error {
	if err := t.device.SelectVideoCodec(variant); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed.Load() {
		return ErrTransportClosed
	}
	if variant == t.videoCodec {
		return nil
	}

	if t.videoProducer == nil {
		t.videoCodec = variant
		return nil
	}

	// Renegotiate before swapping the track: the replacement can only bind
	// once the new variant is part of the sender's negotiated parameters.
	offer, err := BuildSendRemoteOffer(t.info.IceParameters, t.info.IceCandidates, t.info.DtlsParameters, variant)
	if err != nil {
		return err
	}
	if err := t.negotiate(offer); err != nil {
		return err
	}

	track, err := webrtc.NewTrackLocalStaticRTP(webrtc.RTPCodecCapability{
		MimeType:  variant.MimeType(),
		ClockRate: variant.ClockRate(),
	}, t.videoProducer.track.ID(), t.videoProducer.track.StreamID())
	if err != nil {
		return errProduceFailed(err)
	}
	if err := t.videoProducer.sender.ReplaceTrack(track); err != nil {
		return errProduceFailed(err)
	}
	t.videoProducer.track = track
	t.videoCodec = variant
	t.videoPacketizer = t.newVideoPacketizerLocked()

	t.log.Infof("video codec switched to %s", variant)
	return nil
}

// SetVideoFPS sets the frame cadence used for RTP timestamp advancement.
func (t *SendTransport) SetVideoFPS(fps uint32) {
	t.mu.Lock()
	if fps > 0 {
		t.videoFPS = fps
	}
	t.mu.Unlock()
}

// SendVideoFrame fragments one encoded frame into RTP packets per the
// variant's payload format and writes them on the video track. Called inline
// from the capture/encode thread.
func (t *SendTransport) SendVideoFrame(frame codec.EncodedFrame) error {
	t.mu.Lock()
	packetizer := t.videoPacketizer
	producer := t.videoProducer
	samples := t.videoCodec.ClockRate() / t.videoFPS
	t.mu.Unlock()

	if producer == nil || t.closed.Load() {
		return ErrTransportClosed
	}
	if producer.Paused() || len(frame.Data) == 0 {
		return nil
	}

	packets := packetizer.Packetize(frame.Data, samples)
	for _, pkt := range packets {
		if err := producer.track.WriteRTP(pkt); err != nil {
			return err
		}
	}
	stats.RtpPacketsSent.WithLabelValues(string(MediaKindVideo)).Add(float64(len(packets)))
	return nil
}

// SendAudioFrame writes one 20 ms Opus packet on the audio track.
func (t *SendTransport) SendAudioFrame(packet []byte) error {
	t.mu.Lock()
	producer := t.audioProducer
	t.mu.Unlock()

	if producer == nil || t.closed.Load() {
		return ErrTransportClosed
	}
	if producer.Paused() || len(packet) == 0 {
		return nil
	}

	packets := producer.packetizer.Packetize(packet, uint32(codec.OpusSamplesPerFrame))
	for _, pkt := range packets {
		if err := producer.track.WriteRTP(pkt); err != nil {
			return err
		}
	}
	stats.RtpPacketsSent.WithLabelValues(string(MediaKindAudio)).Add(float64(len(packets)))
	return nil
}

// ProducerRtpParameters assembles the wire parameters the SFU needs to
// route the producer's stream: codecs from the fixed tables, mid and SSRC
// parsed out of the engine's local description.
func (t *SendTransport) ProducerRtpParameters(kind MediaKind) (RtpParameters, error) {
	t.mu.Lock()
	variant := t.videoCodec
	t.mu.Unlock()

	local := t.pc.LocalDescription()
	if local == nil {
		return RtpParameters{}, errProduceFailed(errNotNegotiated)
	}
	parsed := &sdp.SessionDescription{}
	if err := parsed.Unmarshal([]byte(local.SDP)); err != nil {
		return RtpParameters{}, errProduceFailed(err)
	}

	for _, md := range parsed.MediaDescriptions {
		if md.MediaName.Media != string(kind) {
			continue
		}
		mid, _ := md.Attribute("mid")
		ssrc, cname := firstSsrc(md)
		if ssrc == 0 {
			continue
		}

		params := RtpParameters{
			Mid:              mid,
			HeaderExtensions: HeaderExtensionsForKind(kind),
			Encodings:        []RtpEncodingParameters{{Ssrc: ssrc}},
			Rtcp:             RtcpParameters{Cname: cname, ReducedSize: true},
		}
		if kind == MediaKindAudio {
			params.Codecs = opusCodecParameters()
		} else {
			params.Codecs = videoCodecParameters(variant)
		}
		return params, nil
	}
	return RtpParameters{}, errProduceFailed(fmt.Errorf("no %s section in local description", kind))
}

func firstSsrc(md *sdp.MediaDescription) (uint32, string) {
	var ssrc uint32
	var cname string
	for _, attr := range md.Attributes {
		if attr.Key != "ssrc" {
			continue
		}
		fields := strings.Fields(attr.Value)
		if len(fields) == 0 {
			continue
		}
		v, err := strconv.ParseUint(fields[0], 10, 32)
		if err != nil {
			continue
		}
		if ssrc == 0 {
			ssrc = uint32(v)
		}
		if len(fields) > 1 && strings.HasPrefix(fields[1], "cname:") && cname == "" {
			cname = strings.TrimPrefix(fields[1], "cname:")
		}
	}
	return ssrc, cname
}

// VideoProducer returns the video producer, nil before Connect.
func (t *SendTransport) VideoProducer() *Producer {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.videoProducer
}

// AudioProducer returns the audio producer, nil before Connect.
func (t *SendTransport) AudioProducer() *Producer {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.audioProducer
}

// rtcpLoop surfaces keyframe demands and bitrate feedback from the SFU.
// Runs on its own goroutine until the engine session closes.
func (t *SendTransport) rtcpLoop(sender *webrtc.RTPSender, video bool) {
	for {
		pkts, _, err := sender.ReadRTCP()
		if err != nil {
			return
		}
		for _, pkt := range pkts {
			switch p := pkt.(type) {
			case *rtcp.PictureLossIndication, *rtcp.FullIntraRequest:
				if !video {
					continue
				}
				t.log.Debug("keyframe requested by SFU")
				t.mu.Lock()
				fn := t.onKeyFrameRequested
				t.mu.Unlock()
				if fn != nil {
					fn()
				}
			case *rtcp.ReceiverEstimatedMaximumBitrate:
				t.mu.Lock()
				fn := t.onTargetBitrate
				t.mu.Unlock()
				if fn != nil {
					fn(uint64(p.Bitrate))
				}
			}
		}
	}
}
