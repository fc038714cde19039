// Package audio provides helpers for the raw audio the gateway accepts:
// 16 kHz, mono, signed 16-bit little-endian PCM.
//
// # Conventions
//
// Samples travel through the pipeline in two shapes. The wire and the
// per-session buffers carry int16 samples; the inference toolkit consumes
// float32 samples normalized to [-1, 1]. Time is accounted in integer
// milliseconds since session start: at 16 kHz one millisecond is exactly
// 16 samples.
package audio

import "encoding/binary"

const (
	// SampleRate is the only sample rate the gateway accepts.
	SampleRate = 16000

	// SamplesPerMS is the number of samples per millisecond at SampleRate.
	SamplesPerMS = SampleRate / 1000

	// BytesPerSample is the width of one s16le sample on the wire.
	BytesPerSample = 2
)

// Int16FromBytes decodes little-endian s16le bytes into samples.
// The byte length must be a multiple of two; a trailing odd byte is
// ignored.
func Int16FromBytes(b []byte) []int16 {
	n := len(b) / BytesPerSample
	samples := make([]int16, n)
	for i := range n {
		samples[i] = int16(binary.LittleEndian.Uint16(b[i*BytesPerSample:]))
	}
	return samples
}

// BytesFromInt16 encodes samples as little-endian s16le bytes.
func BytesFromInt16(samples []int16) []byte {
	b := make([]byte, len(samples)*BytesPerSample)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(b[i*BytesPerSample:], uint16(s))
	}
	return b
}

// FloatFromInt16 converts int16 samples to float32 in [-1, 1].
// -32768 maps to -1.0 and 0 maps to 0.
func FloatFromInt16(samples []int16) []float32 {
	return AppendFloat(make([]float32, 0, len(samples)), samples)
}

// AppendFloat converts int16 samples to float32 and appends them to dst.
func AppendFloat(dst []float32, samples []int16) []float32 {
	for _, s := range samples {
		dst = append(dst, float32(s)/32768)
	}
	return dst
}

// SamplesToMS converts a sample count to integer milliseconds at SampleRate.
func SamplesToMS(n int64) int64 {
	return n / SamplesPerMS
}

// MSToSamples converts milliseconds to a sample count at SampleRate.
func MSToSamples(ms int64) int64 {
	return ms * SamplesPerMS
}
