package rtc

import (
	"sync"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
)

// Producer is one locally produced media stream on the send transport.
type Producer struct {
	Id   string
	Kind MediaKind

	mu         sync.Mutex
	paused     bool
	track      *webrtc.TrackLocalStaticRTP
	sender     *webrtc.RTPSender
	packetizer rtp.Packetizer
}

func newProducer(kind MediaKind, track *webrtc.TrackLocalStaticRTP, sender *webrtc.RTPSender) *Producer {
	return &Producer{
		Id:     GenerateRandomString(12),
		Kind:   kind,
		track:  track,
		sender: sender,
	}
}

// Pause drops outbound frames without touching the engine session.
func (p *Producer) Pause() {
	p.mu.Lock()
	p.paused = true
	p.mu.Unlock()
}

// Resume re-enables outbound frames. The caller should force a keyframe so
// the far end recovers immediately.
func (p *Producer) Resume() {
	p.mu.Lock()
	p.paused = false
	p.mu.Unlock()
}

func (p *Producer) Paused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}
