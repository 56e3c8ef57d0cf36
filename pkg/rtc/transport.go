package rtc

import (
	"regexp"
	"strings"
	"sync"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v3"
	"go.uber.org/atomic"

	"github.com/dorisoy/Dorisoy.Mediasoup-sub002/pkg/logger"
)

// TransportDirection tells which way media flows over a transport.
type TransportDirection string

const (
	DirectionSend TransportDirection = "send"
	DirectionRecv TransportDirection = "recv"
)

// TransportState is the transport connection state machine. failed and closed
// are reachable from any state; a failed transport is recreated, never
// repaired, because the engine's ICE/DTLS sessions are not resumable.
type TransportState string

const (
	TransportStateNew        TransportState = "new"
	TransportStateConnecting TransportState = "connecting"
	TransportStateConnected  TransportState = "connected"
	TransportStateFailed     TransportState = "failed"
	TransportStateClosed     TransportState = "closed"
)

// Transport owns one engine session for one direction. The engine is SDP
// driven, so every remote description it sees is synthesized from the SFU's
// wire parameters by the SDP builder.
type Transport struct {
	mu sync.Mutex

	id        string
	direction TransportDirection
	info      TransportInfo

	pc    *webrtc.PeerConnection
	state TransportState

	closed        *atomic.Bool
	connectedOnce sync.Once

	onDtlsConnected func()
	onFailed        func()

	log logger.Logger
}

func newTransport(id string, direction TransportDirection, info TransportInfo, me *webrtc.MediaEngine) (*Transport, error) {
	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(me, registry); err != nil {
		return nil, err
	}

	se := webrtc.SettingEngine{LoggerFactory: pionLoggerFactory{}}
	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(me),
		webrtc.WithInterceptorRegistry(registry),
		webrtc.WithSettingEngine(se),
	)

	pc, err := api.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return nil, err
	}

	t := &Transport{
		id:        id,
		direction: direction,
		info:      info,
		pc:        pc,
		state:     TransportStateNew,
		closed:    atomic.NewBool(false),
		log:       logger.NewLogger("transport").WithField("id", id).WithField("direction", string(direction)),
	}

	pc.OnConnectionStateChange(t.handleConnectionState)

	return t, nil
}

func (t *Transport) handleConnectionState(state webrtc.PeerConnectionState) {
	t.log.Infof("engine connection state: %s", state)
	switch state {
	case webrtc.PeerConnectionStateConnected:
		t.setState(TransportStateConnected)
		// Repeated negotiation completions must not re-invoke the
		// connect callback.
		t.connectedOnce.Do(func() {
			t.mu.Lock()
			fn := t.onDtlsConnected
			t.mu.Unlock()
			if fn != nil {
				fn()
			}
		})
	case webrtc.PeerConnectionStateFailed:
		t.setState(TransportStateFailed)
		t.mu.Lock()
		fn := t.onFailed
		t.mu.Unlock()
		if fn != nil {
			fn()
		}
	}
}

func (t *Transport) Id() string                    { return t.id }
func (t *Transport) Direction() TransportDirection { return t.direction }
func (t *Transport) Info() TransportInfo           { return t.info }

// State returns the current connection state.
func (t *Transport) State() TransportState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Transport) setState(s TransportState) {
	t.mu.Lock()
	if t.state == TransportStateClosed {
		t.mu.Unlock()
		return
	}
	t.state = s
	t.mu.Unlock()
}

// OnDtlsConnected registers the callback fired exactly once when the DTLS
// handshake completes.
func (t *Transport) OnDtlsConnected(fn func()) {
	t.mu.Lock()
	t.onDtlsConnected = fn
	t.mu.Unlock()
}

// OnFailed registers the callback fired when the engine reports ICE/DTLS
// failure. The owner must recreate the transport.
func (t *Transport) OnFailed(fn func()) {
	t.mu.Lock()
	t.onFailed = fn
	t.mu.Unlock()
}

// negotiate hands the engine a synthesized remote offer and answers it.
func (t *Transport) negotiate(remoteOffer string) error {
	if t.closed.Load() {
		return ErrTransportClosed
	}
	t.setState(TransportStateConnecting)

	err := t.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  remoteOffer,
	})
	if err != nil {
		return errNegotiationFailed(err)
	}

	answer, err := t.pc.CreateAnswer(nil)
	if err != nil {
		return errNegotiationFailed(err)
	}
	if err := t.pc.SetLocalDescription(answer); err != nil {
		return errNegotiationFailed(err)
	}
	return nil
}

var fingerprintRe = regexp.MustCompile(`(?m)^a=fingerprint:(\S+)\s+(\S+)`)

// LocalDtlsParameters extracts this endpoint's DTLS parameters from the
// engine's local description. They are sent to the SFU on transport connect;
// the client always takes the active role.
func (t *Transport) LocalDtlsParameters() (DtlsParameters, error) {
	local := t.pc.LocalDescription()
	if local == nil {
		return DtlsParameters{}, errTransportConnect(ErrTransportClosed)
	}
	match := fingerprintRe.FindStringSubmatch(local.SDP)
	if match == nil {
		return DtlsParameters{}, errTransportConnect(errNoFingerprint)
	}
	return DtlsParameters{
		Role: "client",
		Fingerprints: []DtlsFingerprint{
			{Algorithm: strings.ToLower(match[1]), Value: match[2]},
		},
	}, nil
}

// Closed reports whether Close has been called.
func (t *Transport) Closed() bool { return t.closed.Load() }

// Close releases the engine session. Terminal and idempotent; safe from any
// goroutine.
func (t *Transport) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	t.mu.Lock()
	t.state = TransportStateClosed
	t.mu.Unlock()
	return t.pc.Close()
}
