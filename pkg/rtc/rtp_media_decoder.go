package rtc

import (
	"sync"

	"github.com/gammazero/deque"
	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"

	"github.com/dorisoy/Dorisoy.Mediasoup-sub002/pkg/codec"
	"github.com/dorisoy/Dorisoy.Mediasoup-sub002/pkg/logger"
)

// OnDecodedVideoFunc receives one decoded I420 frame for a consumer. The
// buffer is only valid for the duration of the call.
type OnDecodedVideoFunc func(consumerId string, i420 []byte, width, height int)

// OnDecodedAudioFunc receives one decoded 20 ms PCM frame for a consumer.
type OnDecodedAudioFunc func(consumerId string, pcm []int16, samples int)

// OnFrameLostFunc fires when a frame assembly had to be discarded and a
// keyframe is needed to resync the consumer's decoder.
type OnFrameLostFunc func(consumerId string)

// videoEntry is one consumer's reassembly and decode state. Owned by
// RtpMediaDecoder, touched only with the entry's own mutex held so one
// consumer's stall or failure never blocks another's packets.
type videoEntry struct {
	mu           sync.Mutex
	variant      codec.VideoCodecType
	depacketizer rtp.Depacketizer
	decoder      *codec.VideoDecoder

	frame     []byte
	havePart  bool
	lastSeq   uint16
	awaitKey  bool
	sawPacket bool
}

type audioEntry struct {
	mu      sync.Mutex
	decoder *codec.AudioDecoder
}

// RtpMediaDecoder demultiplexes inbound RTP per consumer: depacketizes the
// variant's payload format, reassembles marker-terminated frames and runs
// them through that consumer's decoder. Decoded output is handed to the sink
// callbacks on a dispatch goroutine, never on the packet receive path.
type RtpMediaDecoder struct {
	mu    sync.RWMutex
	video map[string]*videoEntry
	audio map[string]*audioEntry

	onVideo OnDecodedVideoFunc
	onAudio OnDecodedAudioFunc
	onLost  OnFrameLostFunc

	dispatch *dispatchQueue
	log      logger.Logger
}

func NewRtpMediaDecoder() *RtpMediaDecoder {
	return &RtpMediaDecoder{
		video:    make(map[string]*videoEntry),
		audio:    make(map[string]*audioEntry),
		dispatch: newDispatchQueue(),
		log:      logger.NewLogger("rtpmediadecoder"),
	}
}

// OnDecodedVideoFrame registers the video sink.
func (m *RtpMediaDecoder) OnDecodedVideoFrame(fn OnDecodedVideoFunc) {
	m.mu.Lock()
	m.onVideo = fn
	m.mu.Unlock()
}

// OnDecodedAudioFrame registers the audio sink.
func (m *RtpMediaDecoder) OnDecodedAudioFrame(fn OnDecodedAudioFunc) {
	m.mu.Lock()
	m.onAudio = fn
	m.mu.Unlock()
}

// OnFrameLost registers the resync callback, usually wired to
// RecvTransport.RequestKeyFrame.
func (m *RtpMediaDecoder) OnFrameLost(fn OnFrameLostFunc) {
	m.mu.Lock()
	m.onLost = fn
	m.mu.Unlock()
}

// SetConsumerVideoCodecType prepares decode state for a video consumer. Must
// be called before its first packet; packets for unknown consumers are
// dropped with an error.
func (m *RtpMediaDecoder) SetConsumerVideoCodecType(consumerId string, variant codec.VideoCodecType) error {
	decoder, err := codec.NewVideoDecoder(variant)
	if err != nil {
		return err
	}

	entry := &videoEntry{
		variant:      variant,
		depacketizer: depacketizerFor(variant),
		decoder:      decoder,
	}
	decoder.OnFrameDecoded(func(i420 []byte, width, height int) {
		m.dispatchVideo(consumerId, i420, width, height)
	})

	m.mu.Lock()
	old := m.video[consumerId]
	m.video[consumerId] = entry
	m.mu.Unlock()

	if old != nil {
		old.mu.Lock()
		old.decoder.Close()
		old.mu.Unlock()
	}
	m.log.Infof("video consumer %s using %s", consumerId, variant)
	return nil
}

// AddAudioConsumer prepares decode state for an audio consumer.
func (m *RtpMediaDecoder) AddAudioConsumer(consumerId string) error {
	decoder, err := codec.NewAudioDecoder()
	if err != nil {
		return err
	}
	entry := &audioEntry{decoder: decoder}
	decoder.OnFrameDecoded(func(pcm []int16, samples int) {
		m.dispatchAudio(consumerId, pcm, samples)
	})

	m.mu.Lock()
	old := m.audio[consumerId]
	m.audio[consumerId] = entry
	m.mu.Unlock()

	if old != nil {
		old.mu.Lock()
		old.decoder.Close()
		old.mu.Unlock()
	}
	return nil
}

// ProcessVideoRtpPacket feeds one packet into the consumer's frame assembly.
// A complete frame (marker bit) is decoded in place; a sequence gap discards
// the partial frame and asks for a keyframe.
func (m *RtpMediaDecoder) ProcessVideoRtpPacket(consumerId string, pkt *rtp.Packet) error {
	m.mu.RLock()
	entry := m.video[consumerId]
	onLost := m.onLost
	m.mu.RUnlock()
	if entry == nil {
		return ErrConsumerNotFound
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.sawPacket && pkt.SequenceNumber != entry.lastSeq+1 {
		if entry.havePart {
			m.log.Debugf("consumer %s lost packets (%d -> %d), dropping partial frame",
				consumerId, entry.lastSeq, pkt.SequenceNumber)
		}
		entry.frame = entry.frame[:0]
		entry.havePart = false
		entry.awaitKey = true
		if onLost != nil {
			onLost(consumerId)
		}
	}
	entry.lastSeq = pkt.SequenceNumber
	entry.sawPacket = true

	payload, err := entry.depacketizer.Unmarshal(pkt.Payload)
	if err != nil {
		m.log.WithError(err).Debugf("consumer %s depacketize failed", consumerId)
		entry.frame = entry.frame[:0]
		entry.havePart = false
		return nil
	}
	if len(payload) == 0 {
		return nil
	}

	entry.frame = append(entry.frame, payload...)
	entry.havePart = true
	if !pkt.Marker {
		return nil
	}

	frame := entry.frame
	entry.frame = nil
	entry.havePart = false

	if entry.awaitKey {
		if !isKeyFrame(entry.variant, frame) {
			return nil
		}
		entry.awaitKey = false
	}
	if err := entry.decoder.Decode(frame); err != nil {
		entry.awaitKey = true
		if onLost != nil {
			onLost(consumerId)
		}
	}
	return nil
}

// ProcessAudioRtpPacket decodes one Opus packet for the consumer.
func (m *RtpMediaDecoder) ProcessAudioRtpPacket(consumerId string, pkt *rtp.Packet) error {
	m.mu.RLock()
	entry := m.audio[consumerId]
	m.mu.RUnlock()
	if entry == nil {
		return ErrConsumerNotFound
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.decoder.Decode(pkt.Payload)
}

// RemoveConsumer disposes the consumer's decode state. Unknown ids are a
// no-op.
func (m *RtpMediaDecoder) RemoveConsumer(consumerId string) {
	m.mu.Lock()
	v := m.video[consumerId]
	a := m.audio[consumerId]
	delete(m.video, consumerId)
	delete(m.audio, consumerId)
	m.mu.Unlock()

	if v != nil {
		v.mu.Lock()
		v.decoder.Close()
		v.mu.Unlock()
	}
	if a != nil {
		a.mu.Lock()
		a.decoder.Close()
		a.mu.Unlock()
	}
}

// Close disposes every consumer and stops the dispatch goroutine.
func (m *RtpMediaDecoder) Close() {
	m.mu.Lock()
	videos := m.video
	audios := m.audio
	m.video = make(map[string]*videoEntry)
	m.audio = make(map[string]*audioEntry)
	m.mu.Unlock()

	for _, v := range videos {
		v.mu.Lock()
		v.decoder.Close()
		v.mu.Unlock()
	}
	for _, a := range audios {
		a.mu.Lock()
		a.decoder.Close()
		a.mu.Unlock()
	}
	m.dispatch.close()
}

func (m *RtpMediaDecoder) dispatchVideo(consumerId string, i420 []byte, width, height int) {
	m.mu.RLock()
	fn := m.onVideo
	m.mu.RUnlock()
	if fn == nil {
		return
	}
	// the decoder reuses its scratch buffer, copy before leaving the call
	out := make([]byte, len(i420))
	copy(out, i420)
	m.dispatch.push(func() { fn(consumerId, out, width, height) })
}

func (m *RtpMediaDecoder) dispatchAudio(consumerId string, pcm []int16, samples int) {
	m.mu.RLock()
	fn := m.onAudio
	m.mu.RUnlock()
	if fn == nil {
		return
	}
	out := make([]int16, len(pcm))
	copy(out, pcm)
	m.dispatch.push(func() { fn(consumerId, out, samples) })
}

func depacketizerFor(variant codec.VideoCodecType) rtp.Depacketizer {
	switch variant {
	case codec.VideoCodecVP9:
		return &codecs.VP9Packet{}
	case codec.VideoCodecH264:
		return &codecs.H264Packet{}
	default:
		return &codecs.VP8Packet{}
	}
}

// isKeyFrame inspects the first bytes of an assembled frame. VP8 and VP9
// mark intra frames in the uncompressed header; H264 frames out of the
// depacketizer are Annex B, scan for an IDR NAL.
func isKeyFrame(variant codec.VideoCodecType, frame []byte) bool {
	if len(frame) == 0 {
		return false
	}
	switch variant {
	case codec.VideoCodecVP8:
		return frame[0]&0x01 == 0
	case codec.VideoCodecVP9:
		return frame[0]&0x04 == 0
	case codec.VideoCodecH264:
		for i := 0; i+4 < len(frame); i++ {
			if frame[i] == 0 && frame[i+1] == 0 && frame[i+2] == 1 {
				if frame[i+3]&0x1f == 5 {
					return true
				}
			}
		}
		return false
	}
	return false
}

// dispatchQueue runs sink callbacks on a single goroutine so slow UI code
// never backpressures the packet receive path.
type dispatchQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  deque.Deque[func()]
	closed bool
}

func newDispatchQueue() *dispatchQueue {
	q := &dispatchQueue{}
	q.cond = sync.NewCond(&q.mu)
	go q.run()
	return q
}

func (q *dispatchQueue) push(fn func()) {
	q.mu.Lock()
	if !q.closed {
		q.queue.PushBack(fn)
		q.cond.Signal()
	}
	q.mu.Unlock()
}

func (q *dispatchQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.cond.Signal()
	q.mu.Unlock()
}

func (q *dispatchQueue) run() {
	for {
		q.mu.Lock()
		for q.queue.Len() == 0 && !q.closed {
			q.cond.Wait()
		}
		if q.closed && q.queue.Len() == 0 {
			q.mu.Unlock()
			return
		}
		fn := q.queue.PopFront()
		q.mu.Unlock()
		fn()
	}
}
