package rtc

import (
	"io"
	"sync"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"golang.org/x/time/rate"

	"github.com/dorisoy/Dorisoy.Mediasoup-sub002/pkg/stats"
)

// keyframe requests per consumer are throttled so a stuck decoder does not
// flood the SFU with PLIs.
const keyFrameRequestInterval = 500 * time.Millisecond

// OnRtpPacketFunc receives one inbound RTP packet attributed to a consumer.
type OnRtpPacketFunc func(consumerId string, pkt *rtp.Packet)

// RecvTransport carries the streams the SFU forwards to this client. Each
// Consume renegotiates the engine with one more synthesized sendonly media
// section; inbound packets are attributed to consumers by SSRC.
type RecvTransport struct {
	*Transport

	mu        sync.Mutex
	device    *Device
	consumers []*Consumer
	// ssrc to consumer id, registered before renegotiation so the first
	// packets of a new track never race the mapping.
	ssrcIndex  map[uint32]string
	limiters   map[string]*rate.Limiter
	nextMid    int
	connected  bool
	negotiated bool

	onVideoRtpPacket OnRtpPacketFunc
	onAudioRtpPacket OnRtpPacketFunc
}

// NewRecvTransport builds a receive-direction transport. The engine's codec
// tables are populated from the router capabilities because consumer payload
// types are the router's, not the fixed local ones.
func NewRecvTransport(device *Device, info TransportInfo) (*RecvTransport, error) {
	if !device.Loaded() {
		return nil, ErrDeviceNotLoaded
	}
	routerCaps, err := device.RtpCapabilities()
	if err != nil {
		return nil, err
	}
	me, err := buildRecvMediaEngine(routerCaps)
	if err != nil {
		return nil, err
	}
	base, err := newTransport(info.Id, DirectionRecv, info, me)
	if err != nil {
		return nil, err
	}

	t := &RecvTransport{
		Transport: base,
		device:    device,
		ssrcIndex: make(map[uint32]string),
		limiters:  make(map[string]*rate.Limiter),
	}
	t.pc.OnTrack(t.handleTrack)
	return t, nil
}

// OnVideoRtpPacket registers the inbound video packet callback.
func (t *RecvTransport) OnVideoRtpPacket(fn OnRtpPacketFunc) {
	t.mu.Lock()
	t.onVideoRtpPacket = fn
	t.mu.Unlock()
}

// OnAudioRtpPacket registers the inbound audio packet callback.
func (t *RecvTransport) OnAudioRtpPacket(fn OnRtpPacketFunc) {
	t.mu.Lock()
	t.onAudioRtpPacket = fn
	t.mu.Unlock()
}

// Connect arms the transport. The engine cannot negotiate a session with no
// media sections, so the actual handshake starts with the first Consume.
func (t *RecvTransport) Connect() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed.Load() {
		return ErrTransportClosed
	}
	t.connected = true
	if len(t.consumers) == 0 {
		return nil
	}
	return t.renegotiateLocked()
}

// Negotiated reports whether at least one negotiation has run, meaning the
// local DTLS parameters exist.
func (t *RecvTransport) Negotiated() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.negotiated
}

// Consume adds one SFU-forwarded stream. The SSRC mapping is registered
// before the renegotiation that makes packets flow.
func (t *RecvTransport) Consume(consumer *Consumer) error {
	if err := consumer.validate(); err != nil {
		return errConsumeFailed(err)
	}
	if !t.device.CanConsume(consumer.Kind, consumer.RtpParameters) {
		return ErrCodecUnavailable
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed.Load() {
		return ErrTransportClosed
	}
	for _, existing := range t.consumers {
		if existing.Id == consumer.Id {
			return errConsumeFailed(errDuplicateConsumer)
		}
	}

	consumer.mid = midForIndex(t.nextMid)
	t.nextMid++
	t.consumers = append(t.consumers, consumer)
	t.ssrcIndex[consumer.Ssrc()] = consumer.Id
	if rtx := consumer.RtxSsrc(); rtx != 0 {
		t.ssrcIndex[rtx] = consumer.Id
	}
	t.limiters[consumer.Id] = rate.NewLimiter(rate.Every(keyFrameRequestInterval), 1)

	if !t.connected {
		return nil
	}
	if err := t.renegotiateLocked(); err != nil {
		t.removeConsumerLocked(consumer.Id)
		return err
	}
	t.log.Infof("consuming %s %s (ssrc %d, mid %s)", consumer.Kind, consumer.Id, consumer.Ssrc(), consumer.mid)
	return nil
}

// CloseConsumer drops one consumer and renegotiates without its section.
// Unknown ids return ErrConsumerNotFound.
func (t *RecvTransport) CloseConsumer(consumerId string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.removeConsumerLocked(consumerId) {
		return ErrConsumerNotFound
	}
	// a session needs at least one section, the last consumer's stays until
	// the next Consume replaces the negotiation
	if !t.connected || t.closed.Load() || len(t.consumers) == 0 {
		return nil
	}
	return t.renegotiateLocked()
}

func (t *RecvTransport) removeConsumerLocked(consumerId string) bool {
	for i, c := range t.consumers {
		if c.Id != consumerId {
			continue
		}
		delete(t.ssrcIndex, c.Ssrc())
		if rtx := c.RtxSsrc(); rtx != 0 {
			delete(t.ssrcIndex, rtx)
		}
		delete(t.limiters, consumerId)
		t.consumers = append(t.consumers[:i], t.consumers[i+1:]...)
		return true
	}
	return false
}

// Consumers returns a snapshot of the active consumers.
func (t *RecvTransport) Consumers() []*Consumer {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Consumer, len(t.consumers))
	copy(out, t.consumers)
	return out
}

// RequestKeyFrame sends a PLI for the consumer's stream, rate limited per
// consumer.
func (t *RecvTransport) RequestKeyFrame(consumerId string) error {
	t.mu.Lock()
	var ssrc uint32
	for _, c := range t.consumers {
		if c.Id == consumerId {
			ssrc = c.Ssrc()
			break
		}
	}
	limiter := t.limiters[consumerId]
	t.mu.Unlock()

	if ssrc == 0 {
		return ErrConsumerNotFound
	}
	if t.closed.Load() {
		return ErrTransportClosed
	}
	if limiter != nil && !limiter.Allow() {
		return nil
	}
	stats.KeyFrameRequests.Inc()
	return t.pc.WriteRTCP([]rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: ssrc}})
}

func (t *RecvTransport) renegotiateLocked() error {
	infos := make([]ConsumerSdpInfo, 0, len(t.consumers))
	for _, c := range t.consumers {
		infos = append(infos, c.sdpInfo())
	}
	offer, err := BuildRecvRemoteOffer(t.info.IceParameters, t.info.IceCandidates, t.info.DtlsParameters, infos)
	if err != nil {
		return err
	}
	if err := t.negotiate(offer); err != nil {
		return err
	}
	t.negotiated = true
	return nil
}

// handleTrack attributes the engine track to a consumer by SSRC and pumps
// its packets to the registered callback until the track ends.
func (t *RecvTransport) handleTrack(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
	ssrc := uint32(track.SSRC())

	t.mu.Lock()
	consumerId, ok := t.ssrcIndex[ssrc]
	t.mu.Unlock()
	if !ok {
		t.log.Warnf("track with unknown ssrc %d, dropping", ssrc)
		return
	}
	kind := MediaKindAudio
	if track.Kind() == webrtc.RTPCodecTypeVideo {
		kind = MediaKindVideo
	}
	t.log.Infof("track up for consumer %s (%s)", consumerId, kind)

	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			if err != io.EOF {
				t.log.WithError(err).Debugf("track read ended for consumer %s", consumerId)
			}
			return
		}
		t.mu.Lock()
		fn := t.onVideoRtpPacket
		if kind == MediaKindAudio {
			fn = t.onAudioRtpPacket
		}
		// a consumer closed mid-read stops its pump
		_, alive := t.limiters[consumerId]
		t.mu.Unlock()
		if !alive {
			return
		}
		stats.RtpPacketsReceived.WithLabelValues(string(kind)).Inc()
		if fn != nil {
			fn(consumerId, pkt)
		}
	}
}
