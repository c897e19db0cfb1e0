package audio

import (
	"encoding/binary"
	"math"
)

// EncodePCM16 converts float samples in [-1, 1] to signed 16-bit PCM.
// Negative values scale by 32768 and non-negative values by 32767 so that
// +1.0 stays inside the int16 range.
func EncodePCM16(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		out[i] = encodeSample(s)
	}
	return out
}

func encodeSample(s float32) int16 {
	if s != s { // NaN
		return 0
	}
	if s < -1 {
		s = -1
	} else if s > 1 {
		s = 1
	}
	if s < 0 {
		return int16(s * 32768)
	}
	return int16(s * 32767)
}

// decodeF32LE appends the complete little-endian float32 values in data to
// dst and returns the trailing bytes that did not form a whole sample.
func decodeF32LE(dst []float32, data []byte) ([]float32, []byte) {
	n := len(data) / 4
	for i := 0; i < n; i++ {
		dst = append(dst, math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:])))
	}
	return dst, data[n*4:]
}
