package audio

import (
	"encoding/binary"
	"math"
)

// Decode converts little-endian s16 bytes into samples, writing into dst and
// returning the filled prefix. A trailing odd byte is ignored.
func Decode(dst []int16, p []byte) []int16 {
	n := len(p) / 2
	if cap(dst) < n {
		dst = make([]int16, n)
	}
	dst = dst[:n]
	for i := range dst {
		dst[i] = int16(binary.LittleEndian.Uint16(p[2*i:]))
	}
	return dst
}

// Encode is the inverse of Decode.
func Encode(dst []byte, samples []int16) []byte {
	n := len(samples) * 2
	if cap(dst) < n {
		dst = make([]byte, n)
	}
	dst = dst[:n]
	for i, s := range samples {
		binary.LittleEndian.PutUint16(dst[2*i:], uint16(s))
	}
	return dst
}

// ApplyGain multiplies every sample by gain in place, saturating at the
// int16 range instead of wrapping.
func ApplyGain(samples []int16, gain int) {
	for i, s := range samples {
		samples[i] = Saturate(int64(s) * int64(gain))
	}
}

// Saturate clamps v into the int16 range.
func Saturate(v int64) int16 {
	switch {
	case v > math.MaxInt16:
		return math.MaxInt16
	case v < math.MinInt16:
		return math.MinInt16
	default:
		return int16(v)
	}
}
