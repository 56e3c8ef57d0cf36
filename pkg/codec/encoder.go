package codec

import (
	"fmt"
	"sync"

	"github.com/dorisoy/Dorisoy.Mediasoup-sub002/pkg/logger"
	"github.com/dorisoy/Dorisoy.Mediasoup-sub002/pkg/stats"
)

// VideoEncoderConfig is fixed at Init time; changing any field requires a new
// encoder instance.
type VideoEncoderConfig struct {
	Codec       VideoCodecType
	Width       int
	Height      int
	FPS         int
	BitrateKbps int
	Threads     int
}

// OnFrameEncodedFunc receives each encoded frame. Encoding runs inline on the
// capture thread, so the callback must hand off to the transport without
// blocking. The frame buffer is reused by the next Encode call.
type OnFrameEncodedFunc func(frame EncodedFrame)

// VideoEncoder wraps one native encoder context for one codec variant.
// Exactly one instance exists per active local media kind; variant or
// resolution changes tear it down and rebuild it atomically under its lock.
type VideoEncoder struct {
	mu sync.Mutex

	cfg      VideoEncoderConfig
	handle   uint64
	initOnce bool
	disposed bool

	forceKeyFrame bool
	firstFrame    bool
	outBuf        []byte

	onFrameEncoded OnFrameEncodedFunc
	log            logger.Logger
}

// NewVideoEncoder creates an uninitialized encoder; Init opens the native
// context.
func NewVideoEncoder(cfg VideoEncoderConfig) *VideoEncoder {
	return &VideoEncoder{
		cfg: cfg,
		log: logger.NewLogger("encoder").WithField("codec", cfg.Codec.String()),
	}
}

// OnFrameEncoded registers the encoded-frame sink. Set before Init.
func (e *VideoEncoder) OnFrameEncoded(fn OnFrameEncodedFunc) {
	e.mu.Lock()
	e.onFrameEncoded = fn
	e.mu.Unlock()
}

// Init opens the native codec context. Fails with ErrCodecUnavailable when
// the native library lacks the variant.
func (e *VideoEncoder) Init() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.disposed {
		return ErrDisposed
	}
	if e.initOnce {
		return fmt.Errorf("encoder already initialized")
	}
	return e.openLocked()
}

// openLocked opens a native context for the current config. Callers hold e.mu.
func (e *VideoEncoder) openLocked() error {
	handle, err := e.createNative()
	if err != nil {
		return err
	}
	e.handle = handle
	e.initOnce = true
	e.firstFrame = true
	maxSize := e.maxOutputSize()
	if maxSize <= 0 {
		maxSize = I420Size(e.cfg.Width, e.cfg.Height)
	}
	e.outBuf = make([]byte, maxSize)
	e.log.Infof("encoder opened %dx%d@%d %dkbps", e.cfg.Width, e.cfg.Height, e.cfg.FPS, e.cfg.BitrateKbps)
	return nil
}

func (e *VideoEncoder) createNative() (uint64, error) {
	switch e.cfg.Codec {
	case VideoCodecH264:
		return h264EncoderCreate(e.cfg.Width, e.cfg.Height, e.cfg.FPS, e.cfg.BitrateKbps, e.cfg.Threads)
	default:
		return vpxEncoderCreate(e.cfg.Codec, e.cfg.Width, e.cfg.Height, e.cfg.FPS, e.cfg.BitrateKbps, e.cfg.Threads)
	}
}

func (e *VideoEncoder) maxOutputSize() int {
	if e.cfg.Codec == VideoCodecH264 {
		return h264EncoderMaxOutputSize(e.handle)
	}
	return vpxEncoderMaxOutputSize(e.handle)
}

func (e *VideoEncoder) destroyNativeLocked() {
	if e.handle == 0 {
		return
	}
	if e.cfg.Codec == VideoCodecH264 {
		h264EncoderDestroy(e.handle)
	} else {
		vpxEncoderDestroy(e.handle)
	}
	e.handle = 0
}

// bitrate updates below this fraction of the current value are ignored,
// rebuilding the native context per REMB tick would thrash it
const minBitrateChangeRatio = 0.1

// SetTargetBitrateKbps applies congestion feedback to the open context. The
// native shims cannot reconfigure in place, so a meaningful change rebuilds
// the context like a resolution change does; the first frame after the
// rebuild is a keyframe.
func (e *VideoEncoder) SetTargetBitrateKbps(kbps int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.disposed {
		return ErrDisposed
	}
	if kbps <= 0 || !e.initOnce {
		return nil
	}

	delta := float64(kbps-e.cfg.BitrateKbps) / float64(e.cfg.BitrateKbps)
	if delta < 0 {
		delta = -delta
	}
	if delta < minBitrateChangeRatio {
		return nil
	}

	e.log.Infof("target bitrate %dkbps -> %dkbps, rebuilding encoder", e.cfg.BitrateKbps, kbps)
	e.destroyNativeLocked()
	e.cfg.BitrateKbps = kbps
	e.initOnce = false
	return e.openLocked()
}

// ForceKeyFrame makes the next encoded frame an intra frame. Idempotent while
// pending.
func (e *VideoEncoder) ForceKeyFrame() {
	e.mu.Lock()
	e.forceKeyFrame = true
	e.mu.Unlock()
}

// Encode compresses one raw frame and delivers the result through the
// OnFrameEncoded callback. If the frame dimensions differ from the open
// context the context is rebuilt first; in-place reconfiguration is not
// supported by the native shims. A native fault tears the context down and
// reopens it, dropping the frame; the session keeps running.
func (e *VideoEncoder) Encode(frame RawVideoFrame) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.disposed {
		return ErrDisposed
	}
	if !e.initOnce {
		return fmt.Errorf("encoder not initialized")
	}
	if len(frame.Data) < I420Size(frame.Width, frame.Height) {
		return fmt.Errorf("short frame buffer: %d bytes for %dx%d", len(frame.Data), frame.Width, frame.Height)
	}

	if frame.Width != e.cfg.Width || frame.Height != e.cfg.Height {
		e.log.Infof("resolution change %dx%d -> %dx%d, rebuilding encoder",
			e.cfg.Width, e.cfg.Height, frame.Width, frame.Height)
		e.destroyNativeLocked()
		e.cfg.Width = frame.Width
		e.cfg.Height = frame.Height
		e.initOnce = false
		if err := e.openLocked(); err != nil {
			return err
		}
	}

	forceKey := e.firstFrame || e.forceKeyFrame
	if forceKey && !e.firstFrame {
		stats.KeyFramesForced.WithLabelValues(e.cfg.Codec.String()).Inc()
	}

	n, isKey, err := e.encodeNative(frame.Data, forceKey)
	if err != nil {
		if err == errNativeFault {
			// One bad frame never kills the session: rebuild and move on.
			e.log.WithError(err).Error("native encoder fault, reinitializing")
			stats.EncodeFaults.WithLabelValues(e.cfg.Codec.String()).Inc()
			e.destroyNativeLocked()
			e.initOnce = false
			if reopenErr := e.openLocked(); reopenErr != nil {
				return reopenErr
			}
			return nil
		}
		return err
	}

	e.firstFrame = false
	e.forceKeyFrame = false

	if n == 0 {
		// Encoder is buffering; nothing to deliver.
		return nil
	}

	stats.FramesEncoded.WithLabelValues(e.cfg.Codec.String()).Inc()
	if e.onFrameEncoded != nil {
		e.onFrameEncoded(EncodedFrame{Data: e.outBuf[:n], IsKeyFrame: isKey})
	}
	return nil
}

func (e *VideoEncoder) encodeNative(i420 []byte, forceKey bool) (int, bool, error) {
	if e.cfg.Codec == VideoCodecH264 {
		return h264EncoderEncode(e.handle, i420, forceKey, e.outBuf)
	}
	return vpxEncoderEncode(e.handle, i420, forceKey, e.outBuf)
}

// Config returns the current encoder configuration.
func (e *VideoEncoder) Config() VideoEncoderConfig {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg
}

// Close releases the native context. Safe to call from any goroutine and more
// than once; any later operation returns ErrDisposed.
func (e *VideoEncoder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.disposed {
		return nil
	}
	e.disposed = true
	e.destroyNativeLocked()
	e.outBuf = nil
	return nil
}
