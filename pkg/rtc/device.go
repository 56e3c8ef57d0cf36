package rtc

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/dorisoy/Dorisoy.Mediasoup-sub002/pkg/codec"
	"github.com/dorisoy/Dorisoy.Mediasoup-sub002/pkg/logger"
)

// CodecProbe reports whether the native codec library can actually provide a
// codec for the given mime type. Wired from the codec package so the device
// never advertises a codec the host cannot encode or decode.
type CodecProbe func(mimeType string) bool

// Device owns the router capabilities for one session and the intersection of
// those with what this host supports. Loaded exactly once, read-only after.
type Device struct {
	mu sync.RWMutex

	loaded     bool
	routerCaps RtpCapabilities
	// Usable codecs per kind after intersecting router caps, the fixed wire
	// tables, and the native availability probe.
	sendable map[MediaKind][]RtpCodecCapability

	probe CodecProbe
	log   logger.Logger
}

// NewDevice creates an unloaded device. probe may be nil, in which case every
// codec in the wire tables is assumed available.
func NewDevice(probe CodecProbe) *Device {
	if probe == nil {
		probe = func(string) bool { return true }
	}
	return &Device{
		sendable: make(map[MediaKind][]RtpCodecCapability),
		probe:    probe,
		log:      logger.NewLogger("device"),
	}
}

// Load stores the router capabilities and computes the per-kind usable codec
// subset. It must be called exactly once, before any transport is created.
func (d *Device) Load(routerCaps RtpCapabilities) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.loaded {
		return ErrDeviceLoaded
	}

	local := SupportedCapabilities()
	matched := 0
	for _, localCodec := range local.Codecs {
		if localCodec.isRtxCodec() {
			continue
		}
		if !d.probe(localCodec.MimeType) {
			d.log.Debugf("codec %s not provided by native library, skipping", localCodec.MimeType)
			continue
		}
		remote, ok := findMatchingCodec(localCodec, routerCaps.Codecs)
		if !ok {
			continue
		}
		d.sendable[localCodec.Kind] = append(d.sendable[localCodec.Kind], remote)
		matched++
	}

	if matched == 0 {
		return ErrInvalidCapabilities
	}

	d.routerCaps = routerCaps
	d.loaded = true
	d.log.Infof("device loaded, %d usable codecs (audio: %d, video: %d)",
		matched, len(d.sendable[MediaKindAudio]), len(d.sendable[MediaKindVideo]))
	return nil
}

// Loaded reports whether Load has completed successfully.
func (d *Device) Loaded() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.loaded
}

// RtpCapabilities returns the loaded router capabilities.
func (d *Device) RtpCapabilities() (RtpCapabilities, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if !d.loaded {
		return RtpCapabilities{}, ErrDeviceNotLoaded
	}
	return d.routerCaps, nil
}

// CanProduce reports whether an intersecting codec exists for the kind.
func (d *Device) CanProduce(kind MediaKind) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.loaded && len(d.sendable[kind]) > 0
}

// CanConsume reports whether this host can decode the given consumer
// parameters: its first media codec must intersect the usable set.
func (d *Device) CanConsume(kind MediaKind, params RtpParameters) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if !d.loaded {
		return false
	}
	for _, c := range params.Codecs {
		if strings.HasSuffix(strings.ToLower(c.MimeType), "/rtx") {
			continue
		}
		for _, usable := range d.sendable[kind] {
			if strings.EqualFold(usable.MimeType, c.MimeType) && usable.ClockRate == c.ClockRate {
				return true
			}
		}
	}
	return false
}

// SelectVideoCodec validates that the requested variant is usable, returning
// ErrCodecUnavailable otherwise so the caller can fall back.
func (d *Device) SelectVideoCodec(variant codec.VideoCodecType) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if !d.loaded {
		return ErrDeviceNotLoaded
	}
	for _, usable := range d.sendable[MediaKindVideo] {
		if strings.EqualFold(usable.MimeType, variant.MimeType()) {
			return nil
		}
	}
	return ErrCodecUnavailable
}

// findMatchingCodec mirrors the fuzzy codec matching the SFU family applies:
// mime type, clock rate and channels must agree; H264 additionally matches on
// packetization-mode and VP9 on profile-id.
func findMatchingCodec(local RtpCodecCapability, remote []RtpCodecCapability) (RtpCodecCapability, bool) {
	for _, r := range remote {
		if !strings.EqualFold(local.MimeType, r.MimeType) {
			continue
		}
		if local.ClockRate != r.ClockRate {
			continue
		}
		if local.Kind == MediaKindAudio && local.Channels != r.Channels && r.Channels != 0 {
			continue
		}
		if !codecParametersCompatible(local, r) {
			continue
		}
		return r, true
	}
	return RtpCodecCapability{}, false
}

func codecParametersCompatible(local, remote RtpCodecCapability) bool {
	switch strings.ToLower(local.MimeType) {
	case "video/h264":
		return fmtpParam(local.Parameters, "packetization-mode") == fmtpParam(remote.Parameters, "packetization-mode")
	case "video/vp9":
		return fmtpParam(local.Parameters, "profile-id") == fmtpParam(remote.Parameters, "profile-id")
	}
	return true
}

// fmtpParam normalizes a codec parameter to a string, missing values map to
// their protocol defaults ("0"). JSON decoding yields float64 for numbers.
func fmtpParam(params map[string]any, key string) string {
	v, ok := params[key]
	if !ok {
		return "0"
	}
	if f, isFloat := v.(float64); isFloat && f == float64(int64(f)) {
		return strconv.FormatInt(int64(f), 10)
	}
	return fmt.Sprint(v)
}
