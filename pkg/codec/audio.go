package codec

import (
	"sync"

	"github.com/dorisoy/Dorisoy.Mediasoup-sub002/pkg/logger"
)

// OnAudioFrameEncodedFunc receives each Opus packet.
type OnAudioFrameEncodedFunc func(packet []byte)

// OnAudioFrameDecodedFunc receives decoded interleaved int16 PCM.
type OnAudioFrameDecodedFunc func(pcm []int16, samplesPerChannel int)

// AudioEncoder frames raw PCM into fixed 20 ms Opus frames. The microphone
// callback pushes whatever sample count it has; the framer buffers until a
// full frame is available and encodes inline.
type AudioEncoder struct {
	mu sync.Mutex

	handle   uint64
	disposed bool

	pending []int16
	outBuf  []byte

	onFrameEncoded OnAudioFrameEncodedFunc
	log            logger.Logger
}

// opusMaxPacketSize is generous for 20 ms at any bitrate Opus produces.
const opusMaxPacketSize = 4000

// NewAudioEncoder opens an Opus encoder at the fixed 48 kHz stereo settings.
func NewAudioEncoder() (*AudioEncoder, error) {
	handle, err := opusEncoderCreate(int(OpusClockRate), OpusChannels)
	if err != nil {
		return nil, err
	}
	return &AudioEncoder{
		handle:  handle,
		pending: make([]int16, 0, OpusSamplesPerFrame*OpusChannels*2),
		outBuf:  make([]byte, opusMaxPacketSize),
		log:     logger.NewLogger("audio-encoder"),
	}, nil
}

// OnFrameEncoded registers the packet sink.
func (e *AudioEncoder) OnFrameEncoded(fn OnAudioFrameEncodedFunc) {
	e.mu.Lock()
	e.onFrameEncoded = fn
	e.mu.Unlock()
}

// Write buffers interleaved stereo PCM and encodes every complete 20 ms
// frame it can assemble.
func (e *AudioEncoder) Write(pcm []int16) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.disposed {
		return ErrDisposed
	}

	e.pending = append(e.pending, pcm...)
	frameLen := OpusSamplesPerFrame * OpusChannels
	for len(e.pending) >= frameLen {
		frame := e.pending[:frameLen]
		n, err := opusEncode(e.handle, frame, OpusSamplesPerFrame, e.outBuf)
		e.pending = e.pending[:copy(e.pending, e.pending[frameLen:])]
		if err != nil {
			e.log.WithError(err).Warn("opus encode failed, frame dropped")
			continue
		}
		if n > 0 && e.onFrameEncoded != nil {
			e.onFrameEncoded(e.outBuf[:n])
		}
	}
	return nil
}

// Close releases the native context; idempotent.
func (e *AudioEncoder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.disposed {
		return nil
	}
	e.disposed = true
	opusEncoderDestroy(e.handle)
	e.handle = 0
	e.pending = nil
	return nil
}

// AudioDecoder reverses the framer on receive: one Opus packet in, one PCM
// frame out.
type AudioDecoder struct {
	mu sync.Mutex

	handle   uint64
	disposed bool
	pcmBuf   []int16

	onFrameDecoded OnAudioFrameDecodedFunc
	log            logger.Logger
}

// NewAudioDecoder opens an Opus decoder at the fixed settings.
func NewAudioDecoder() (*AudioDecoder, error) {
	handle, err := opusDecoderCreate(int(OpusClockRate), OpusChannels)
	if err != nil {
		return nil, err
	}
	return &AudioDecoder{
		handle: handle,
		// Opus packets can carry up to 120 ms.
		pcmBuf: make([]int16, 6*OpusSamplesPerFrame*OpusChannels),
		log:    logger.NewLogger("audio-decoder"),
	}, nil
}

// OnFrameDecoded registers the PCM sink.
func (d *AudioDecoder) OnFrameDecoded(fn OnAudioFrameDecodedFunc) {
	d.mu.Lock()
	d.onFrameDecoded = fn
	d.mu.Unlock()
}

// Decode depacketizes one Opus payload. Failures are logged and skipped.
func (d *AudioDecoder) Decode(packet []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.disposed {
		return ErrDisposed
	}
	if len(packet) == 0 {
		return nil
	}

	samples, err := opusDecode(d.handle, packet, d.pcmBuf, len(d.pcmBuf)/OpusChannels)
	if err != nil {
		d.log.WithError(err).Debug("opus decode failed, packet dropped")
		return nil
	}
	if samples > 0 && d.onFrameDecoded != nil {
		d.onFrameDecoded(d.pcmBuf[:samples*OpusChannels], samples)
	}
	return nil
}

// Close releases the native context; idempotent.
func (d *AudioDecoder) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.disposed {
		return nil
	}
	d.disposed = true
	opusDecoderDestroy(d.handle)
	d.handle = 0
	d.pcmBuf = nil
	return nil
}
