//go:build linux || darwin

package codec

import (
	"sync"
	"unsafe"

	"github.com/ebitengine/purego"
)

const rtcOpusApplicationVoip int32 = 2048

var (
	rtcOpusOnce    sync.Once
	rtcOpusHandle  uintptr
	rtcOpusInitErr error
)

var (
	rtcOpusEncoderCreate  func(sampleRate, channels, application int32) uint64
	rtcOpusEncoderEncode  func(enc uint64, pcm uintptr, frameSize int32, out uintptr, outCap int32) int32
	rtcOpusEncoderDestroy func(enc uint64)

	rtcOpusDecoderCreate  func(sampleRate, channels int32) uint64
	rtcOpusDecoderDecode  func(dec uint64, data uintptr, dataLen int32, pcm uintptr, frameSize int32) int32
	rtcOpusDecoderDestroy func(dec uint64)

	rtcOpusUsable func() int32
)

func loadRtcOpus() error {
	rtcOpusOnce.Do(func() {
		handle, err := loadShim("RTC_OPUS_LIB_PATH", "librtcopus")
		if err != nil {
			rtcOpusInitErr = err
			return
		}
		rtcOpusHandle = handle
		purego.RegisterLibFunc(&rtcOpusEncoderCreate, handle, "rtc_opus_encoder_create")
		purego.RegisterLibFunc(&rtcOpusEncoderEncode, handle, "rtc_opus_encoder_encode")
		purego.RegisterLibFunc(&rtcOpusEncoderDestroy, handle, "rtc_opus_encoder_destroy")
		purego.RegisterLibFunc(&rtcOpusDecoderCreate, handle, "rtc_opus_decoder_create")
		purego.RegisterLibFunc(&rtcOpusDecoderDecode, handle, "rtc_opus_decoder_decode")
		purego.RegisterLibFunc(&rtcOpusDecoderDestroy, handle, "rtc_opus_decoder_destroy")
		purego.RegisterLibFunc(&rtcOpusUsable, handle, "rtc_opus_available")
	})
	return rtcOpusInitErr
}

func opusAvailable() bool {
	if loadRtcOpus() != nil {
		return false
	}
	return rtcOpusUsable() != 0
}

func opusEncoderCreate(sampleRate, channels int) (uint64, error) {
	if err := loadRtcOpus(); err != nil {
		return 0, ErrCodecUnavailable
	}
	handle := rtcOpusEncoderCreate(int32(sampleRate), int32(channels), rtcOpusApplicationVoip)
	if handle == 0 {
		return 0, ErrCodecUnavailable
	}
	return handle, nil
}

// opusEncode consumes frameSize samples per channel of interleaved int16 PCM.
func opusEncode(enc uint64, pcm []int16, frameSize int, out []byte) (int, error) {
	rc := rtcOpusEncoderEncode(enc,
		uintptr(unsafe.Pointer(&pcm[0])), int32(frameSize),
		uintptr(unsafe.Pointer(&out[0])), int32(len(out)))
	if rc < 0 {
		return 0, shimError(rc)
	}
	return int(rc), nil
}

func opusEncoderDestroy(enc uint64) {
	rtcOpusEncoderDestroy(enc)
}

func opusDecoderCreate(sampleRate, channels int) (uint64, error) {
	if err := loadRtcOpus(); err != nil {
		return 0, ErrCodecUnavailable
	}
	handle := rtcOpusDecoderCreate(int32(sampleRate), int32(channels))
	if handle == 0 {
		return 0, ErrCodecUnavailable
	}
	return handle, nil
}

// opusDecode returns the number of samples per channel written into pcm.
func opusDecode(dec uint64, data []byte, pcm []int16, frameSize int) (int, error) {
	rc := rtcOpusDecoderDecode(dec,
		uintptr(unsafe.Pointer(&data[0])), int32(len(data)),
		uintptr(unsafe.Pointer(&pcm[0])), int32(frameSize))
	if rc < 0 {
		return 0, shimError(rc)
	}
	return int(rc), nil
}

func opusDecoderDestroy(dec uint64) {
	rtcOpusDecoderDestroy(dec)
}
