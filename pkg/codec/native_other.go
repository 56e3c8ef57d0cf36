//go:build !linux && !darwin

package codec

import "errors"

// No shim loader on this platform; every codec probes unavailable and the
// device layer reports the host cannot produce or consume media.

var errNativeFault = errors.New("native codec fault")

func vpxAvailable(VideoCodecType) bool { return false }
func h264Available() bool              { return false }
func opusAvailable() bool              { return false }

func vpxEncoderCreate(VideoCodecType, int, int, int, int, int) (uint64, error) {
	return 0, ErrCodecUnavailable
}
func vpxEncoderMaxOutputSize(uint64) int { return 0 }
func vpxEncoderEncode(uint64, []byte, bool, []byte) (int, bool, error) {
	return 0, false, ErrCodecUnavailable
}
func vpxEncoderDestroy(uint64) {}
func vpxDecoderCreate(VideoCodecType, int) (uint64, error) {
	return 0, ErrCodecUnavailable
}
func vpxDecoderDecode(uint64, []byte, []byte) (int, int, int, error) {
	return 0, 0, 0, ErrCodecUnavailable
}
func vpxDecoderDestroy(uint64) {}

func h264EncoderCreate(int, int, int, int, int) (uint64, error) {
	return 0, ErrCodecUnavailable
}
func h264EncoderMaxOutputSize(uint64) int { return 0 }
func h264EncoderEncode(uint64, []byte, bool, []byte) (int, bool, error) {
	return 0, false, ErrCodecUnavailable
}
func h264EncoderDestroy(uint64) {}
func h264DecoderCreate(int) (uint64, error) {
	return 0, ErrCodecUnavailable
}
func h264DecoderDecode(uint64, []byte, []byte) (int, int, int, error) {
	return 0, 0, 0, ErrCodecUnavailable
}
func h264DecoderDestroy(uint64) {}

func opusEncoderCreate(int, int) (uint64, error) { return 0, ErrCodecUnavailable }
func opusEncode(uint64, []int16, int, []byte) (int, error) {
	return 0, ErrCodecUnavailable
}
func opusEncoderDestroy(uint64) {}
func opusDecoderCreate(int, int) (uint64, error) { return 0, ErrCodecUnavailable }
func opusDecode(uint64, []byte, []int16, int) (int, error) {
	return 0, ErrCodecUnavailable
}
func opusDecoderDestroy(uint64) {}
