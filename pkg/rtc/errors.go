package rtc

import (
	"errors"
	"fmt"

	"github.com/dorisoy/Dorisoy.Mediasoup-sub002/pkg/codec"
)

var (
	// ErrInvalidCapabilities means no common codec exists between this host
	// and the router. Fatal to session start.
	ErrInvalidCapabilities = errors.New("no common codec between device and router")

	// ErrCodecUnavailable means the native library cannot provide the
	// requested codec. Fatal to that media kind only.
	ErrCodecUnavailable = codec.ErrCodecUnavailable

	// ErrTransportFailed means ICE or DTLS failed. The transport must be
	// recreated, never retried in place.
	ErrTransportFailed = errors.New("transport failed")

	ErrTransportClosed  = errors.New("transport closed")
	ErrDeviceNotLoaded  = errors.New("device not loaded")
	ErrDeviceLoaded     = errors.New("device already loaded")
	ErrConsumerNotFound = errors.New("consumer not found")

	errNoFingerprint     = errors.New("local description carries no fingerprint")
	errDuplicateConsumer = errors.New("consumer id already in use")
	errNotNegotiated     = errors.New("transport not negotiated yet")
)

var (
	errTransportConnect = func(e error) error {
		return fmt.Errorf("transport connect failed: %w", e)
	}

	errProduceFailed = func(e error) error {
		return fmt.Errorf("failed to produce: %w", e)
	}

	errConsumeFailed = func(e error) error {
		return fmt.Errorf("failed to consume: %w", e)
	}

	errNegotiationFailed = func(e error) error {
		return fmt.Errorf("sdp negotiation failed: %w", e)
	}
)
