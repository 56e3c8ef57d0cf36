package codec

import (
	"fmt"
	"sync"

	"github.com/dorisoy/Dorisoy.Mediasoup-sub002/pkg/logger"
	"github.com/dorisoy/Dorisoy.Mediasoup-sub002/pkg/stats"
)

// OnFrameDecodedFunc receives each fully decoded picture as packed I420.
// Invoked synchronously on the receive path; implementations hand off to the
// UI executor and return.
type OnFrameDecodedFunc func(data []byte, width, height int)

// VideoDecoder wraps one native decoder context. One instance exists per
// consumer, selected by that consumer's negotiated codec variant.
type VideoDecoder struct {
	mu sync.Mutex

	variant  VideoCodecType
	handle   uint64
	disposed bool
	outBuf   []byte

	onFrameDecoded OnFrameDecodedFunc
	log            logger.Logger
}

// maxDecodeDimensions bounds the scratch buffer; 4K I420.
const maxDecodeWidth, maxDecodeHeight = 3840, 2160

// NewVideoDecoder opens a native decoder context for the variant.
func NewVideoDecoder(variant VideoCodecType) (*VideoDecoder, error) {
	var handle uint64
	var err error
	if variant == VideoCodecH264 {
		handle, err = h264DecoderCreate(0)
	} else {
		handle, err = vpxDecoderCreate(variant, 0)
	}
	if err != nil {
		return nil, err
	}
	return &VideoDecoder{
		variant: variant,
		handle:  handle,
		outBuf:  make([]byte, I420Size(maxDecodeWidth, maxDecodeHeight)),
		log:     logger.NewLogger("decoder").WithField("codec", variant.String()),
	}, nil
}

// OnFrameDecoded registers the decoded-frame sink.
func (d *VideoDecoder) OnFrameDecoded(fn OnFrameDecodedFunc) {
	d.mu.Lock()
	d.onFrameDecoded = fn
	d.mu.Unlock()
}

// Variant returns the codec variant this decoder was built for.
func (d *VideoDecoder) Variant() VideoCodecType { return d.variant }

// Decode feeds one reassembled encoded frame into the native decoder. A
// native failure returns ErrDecodeFailed; the decoder context stays usable
// and the caller resyncs by requesting a keyframe upstream.
func (d *VideoDecoder) Decode(frame []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.disposed {
		return ErrDisposed
	}
	if len(frame) == 0 {
		return nil
	}

	var n, w, h int
	var err error
	if d.variant == VideoCodecH264 {
		n, w, h, err = h264DecoderDecode(d.handle, frame, d.outBuf)
	} else {
		n, w, h, err = vpxDecoderDecode(d.handle, frame, d.outBuf)
	}
	if err != nil {
		stats.DecodeFailures.WithLabelValues(d.variant.String()).Inc()
		d.log.WithError(err).Debug("decode failed, waiting for keyframe")
		return fmt.Errorf("%w: %v", ErrDecodeFailed, err)
	}
	if n == 0 {
		return nil
	}
	if n > len(d.outBuf) {
		return fmt.Errorf("decoded frame larger than scratch buffer: %d", n)
	}

	stats.FramesDecoded.WithLabelValues(d.variant.String()).Inc()
	if d.onFrameDecoded != nil {
		d.onFrameDecoded(d.outBuf[:n], w, h)
	}
	return nil
}

// Close releases the native context; idempotent, safe from any goroutine.
func (d *VideoDecoder) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.disposed {
		return nil
	}
	d.disposed = true
	if d.variant == VideoCodecH264 {
		h264DecoderDestroy(d.handle)
	} else {
		vpxDecoderDestroy(d.handle)
	}
	d.handle = 0
	d.outBuf = nil
	return nil
}
