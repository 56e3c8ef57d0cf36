//go:build linux || darwin

package codec

import (
	"sync"
	"unsafe"

	"github.com/ebitengine/purego"
)

var (
	rtcH264Once    sync.Once
	rtcH264Handle  uintptr
	rtcH264InitErr error
)

var (
	rtcH264EncoderCreate  func(width, height, fps, bitrateKbps, threads int32) uint64
	rtcH264EncoderEncode  func(enc uint64, i420 uintptr, i420Len, forceKeyframe int32, out uintptr, outCap int32, outIsKey uintptr) int32
	rtcH264EncoderMaxSize func(enc uint64) int32
	rtcH264EncoderDestroy func(enc uint64)

	rtcH264DecoderCreate  func(threads int32) uint64
	rtcH264DecoderDecode  func(dec uint64, data uintptr, dataLen int32, out uintptr, outCap int32, outWidth, outHeight uintptr) int32
	rtcH264DecoderDestroy func(dec uint64)

	rtcH264Usable func() int32
)

func loadRtcH264() error {
	rtcH264Once.Do(func() {
		handle, err := loadShim("RTC_H264_LIB_PATH", "librtch264")
		if err != nil {
			rtcH264InitErr = err
			return
		}
		rtcH264Handle = handle
		purego.RegisterLibFunc(&rtcH264EncoderCreate, handle, "rtc_h264_encoder_create")
		purego.RegisterLibFunc(&rtcH264EncoderEncode, handle, "rtc_h264_encoder_encode")
		purego.RegisterLibFunc(&rtcH264EncoderMaxSize, handle, "rtc_h264_encoder_max_output_size")
		purego.RegisterLibFunc(&rtcH264EncoderDestroy, handle, "rtc_h264_encoder_destroy")
		purego.RegisterLibFunc(&rtcH264DecoderCreate, handle, "rtc_h264_decoder_create")
		purego.RegisterLibFunc(&rtcH264DecoderDecode, handle, "rtc_h264_decoder_decode")
		purego.RegisterLibFunc(&rtcH264DecoderDestroy, handle, "rtc_h264_decoder_destroy")
		purego.RegisterLibFunc(&rtcH264Usable, handle, "rtc_h264_available")
	})
	return rtcH264InitErr
}

func h264Available() bool {
	if loadRtcH264() != nil {
		return false
	}
	return rtcH264Usable() != 0
}

func h264EncoderCreate(width, height, fps, bitrateKbps, threads int) (uint64, error) {
	if err := loadRtcH264(); err != nil {
		return 0, ErrCodecUnavailable
	}
	handle := rtcH264EncoderCreate(int32(width), int32(height), int32(fps), int32(bitrateKbps), int32(threads))
	if handle == 0 {
		return 0, ErrCodecUnavailable
	}
	return handle, nil
}

func h264EncoderMaxOutputSize(enc uint64) int {
	return int(rtcH264EncoderMaxSize(enc))
}

// h264EncoderEncode returns an Annex B bitstream (SPS/PPS prepended on
// keyframes by the shim) so the packetizer can split on start codes.
func h264EncoderEncode(enc uint64, i420 []byte, forceKeyframe bool, out []byte) (n int, isKey bool, err error) {
	var force int32
	if forceKeyframe {
		force = 1
	}
	var keyOut int32
	rc := rtcH264EncoderEncode(enc,
		uintptr(unsafe.Pointer(&i420[0])), int32(len(i420)), force,
		uintptr(unsafe.Pointer(&out[0])), int32(len(out)),
		uintptr(unsafe.Pointer(&keyOut)))
	if rc < 0 {
		return 0, false, shimError(rc)
	}
	return int(rc), keyOut != 0, nil
}

func h264EncoderDestroy(enc uint64) {
	rtcH264EncoderDestroy(enc)
}

func h264DecoderCreate(threads int) (uint64, error) {
	if err := loadRtcH264(); err != nil {
		return 0, ErrCodecUnavailable
	}
	handle := rtcH264DecoderCreate(int32(threads))
	if handle == 0 {
		return 0, ErrCodecUnavailable
	}
	return handle, nil
}

func h264DecoderDecode(dec uint64, data, out []byte) (n, width, height int, err error) {
	var w, h int32
	rc := rtcH264DecoderDecode(dec,
		uintptr(unsafe.Pointer(&data[0])), int32(len(data)),
		uintptr(unsafe.Pointer(&out[0])), int32(len(out)),
		uintptr(unsafe.Pointer(&w)), uintptr(unsafe.Pointer(&h)))
	if rc < 0 {
		return 0, 0, 0, shimError(rc)
	}
	return int(rc), int(w), int(h), nil
}

func h264DecoderDestroy(dec uint64) {
	rtcH264DecoderDestroy(dec)
}
