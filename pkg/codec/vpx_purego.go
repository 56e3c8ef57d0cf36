//go:build linux || darwin

package codec

import (
	"sync"
	"unsafe"

	"github.com/ebitengine/purego"
)

// librtcvpx codec ids.
const (
	rtcVpxCodecVP8 int32 = 0
	rtcVpxCodecVP9 int32 = 1
)

var (
	rtcVpxOnce    sync.Once
	rtcVpxHandle  uintptr
	rtcVpxInitErr error
)

var (
	rtcVpxEncoderCreate  func(codec, width, height, fps, bitrateKbps, threads int32) uint64
	rtcVpxEncoderEncode  func(enc uint64, i420 uintptr, i420Len, forceKeyframe int32, out uintptr, outCap int32, outIsKey uintptr) int32
	rtcVpxEncoderMaxSize func(enc uint64) int32
	rtcVpxEncoderDestroy func(enc uint64)

	rtcVpxDecoderCreate  func(codec, threads int32) uint64
	rtcVpxDecoderDecode  func(dec uint64, data uintptr, dataLen int32, out uintptr, outCap int32, outWidth, outHeight uintptr) int32
	rtcVpxDecoderDestroy func(dec uint64)

	rtcVpxCodecUsable func(codec int32) int32
)

func loadRtcVpx() error {
	rtcVpxOnce.Do(func() {
		handle, err := loadShim("RTC_VPX_LIB_PATH", "librtcvpx")
		if err != nil {
			rtcVpxInitErr = err
			return
		}
		rtcVpxHandle = handle
		purego.RegisterLibFunc(&rtcVpxEncoderCreate, handle, "rtc_vpx_encoder_create")
		purego.RegisterLibFunc(&rtcVpxEncoderEncode, handle, "rtc_vpx_encoder_encode")
		purego.RegisterLibFunc(&rtcVpxEncoderMaxSize, handle, "rtc_vpx_encoder_max_output_size")
		purego.RegisterLibFunc(&rtcVpxEncoderDestroy, handle, "rtc_vpx_encoder_destroy")
		purego.RegisterLibFunc(&rtcVpxDecoderCreate, handle, "rtc_vpx_decoder_create")
		purego.RegisterLibFunc(&rtcVpxDecoderDecode, handle, "rtc_vpx_decoder_decode")
		purego.RegisterLibFunc(&rtcVpxDecoderDestroy, handle, "rtc_vpx_decoder_destroy")
		purego.RegisterLibFunc(&rtcVpxCodecUsable, handle, "rtc_vpx_codec_available")
	})
	return rtcVpxInitErr
}

func vpxCodecId(v VideoCodecType) int32 {
	if v == VideoCodecVP9 {
		return rtcVpxCodecVP9
	}
	return rtcVpxCodecVP8
}

func vpxAvailable(v VideoCodecType) bool {
	if loadRtcVpx() != nil {
		return false
	}
	return rtcVpxCodecUsable(vpxCodecId(v)) != 0
}

func vpxEncoderCreate(v VideoCodecType, width, height, fps, bitrateKbps, threads int) (uint64, error) {
	if err := loadRtcVpx(); err != nil {
		return 0, ErrCodecUnavailable
	}
	handle := rtcVpxEncoderCreate(vpxCodecId(v), int32(width), int32(height), int32(fps), int32(bitrateKbps), int32(threads))
	if handle == 0 {
		return 0, ErrCodecUnavailable
	}
	return handle, nil
}

func vpxEncoderMaxOutputSize(enc uint64) int {
	return int(rtcVpxEncoderMaxSize(enc))
}

// vpxEncoderEncode feeds one packed I420 frame and fills out with the encoded
// payload. n == 0 means the encoder is still buffering.
func vpxEncoderEncode(enc uint64, i420 []byte, forceKeyframe bool, out []byte) (n int, isKey bool, err error) {
	var force int32
	if forceKeyframe {
		force = 1
	}
	var keyOut int32
	rc := rtcVpxEncoderEncode(enc,
		uintptr(unsafe.Pointer(&i420[0])), int32(len(i420)), force,
		uintptr(unsafe.Pointer(&out[0])), int32(len(out)),
		uintptr(unsafe.Pointer(&keyOut)))
	if rc < 0 {
		return 0, false, shimError(rc)
	}
	return int(rc), keyOut != 0, nil
}

func vpxEncoderDestroy(enc uint64) {
	rtcVpxEncoderDestroy(enc)
}

func vpxDecoderCreate(v VideoCodecType, threads int) (uint64, error) {
	if err := loadRtcVpx(); err != nil {
		return 0, ErrCodecUnavailable
	}
	handle := rtcVpxDecoderCreate(vpxCodecId(v), int32(threads))
	if handle == 0 {
		return 0, ErrCodecUnavailable
	}
	return handle, nil
}

// vpxDecoderDecode feeds one encoded frame and fills out with packed I420.
// n == 0 means the decoder needs more data.
func vpxDecoderDecode(dec uint64, data, out []byte) (n, width, height int, err error) {
	var w, h int32
	rc := rtcVpxDecoderDecode(dec,
		uintptr(unsafe.Pointer(&data[0])), int32(len(data)),
		uintptr(unsafe.Pointer(&out[0])), int32(len(out)),
		uintptr(unsafe.Pointer(&w)), uintptr(unsafe.Pointer(&h)))
	if rc < 0 {
		return 0, 0, 0, shimError(rc)
	}
	return int(rc), int(w), int(h), nil
}

func vpxDecoderDestroy(dec uint64) {
	rtcVpxDecoderDestroy(dec)
}
