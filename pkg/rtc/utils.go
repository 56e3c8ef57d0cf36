package rtc

import (
	"math/rand"
	"sort"

	"github.com/dorisoy/Dorisoy.Mediasoup-sub002/pkg/codec"
)

// videoFmtp returns the fixed fmtp line of a video variant, empty for VP8.
func videoFmtp(v codec.VideoCodecType) string {
	switch v {
	case codec.VideoCodecVP9:
		return FmtpVP9
	case codec.VideoCodecH264:
		return FmtpH264
	default:
		return ""
	}
}

func sortedParamKeys(params map[string]any) []string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

const letters = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// GenerateRandomString returns a short random identifier, used for cnames
// and track ids.
func GenerateRandomString(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = letters[rand.Intn(len(letters))]
	}
	return string(b)
}
