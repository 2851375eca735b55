package audio

import (
	"fmt"
	"time"
)

// Supported sample rates. The VAD models operate on 8 kHz or 16 kHz mono
// 16-bit PCM only.
const (
	SampleRate8k  = 8000
	SampleRate16k = 16000
)

// BytesPerSample is the width of one signed 16-bit little-endian PCM sample.
const BytesPerSample = 2

// Frame is a fixed-length run of consecutive mono samples, the atomic unit of
// classification. Frames are produced by an [Assembler] and are never
// partially consumed or re-emitted.
type Frame struct {
	// Index is the zero-based position of the frame within its session.
	Index int

	// Samples holds exactly FrameSamplesFor(rate) signed 16-bit samples.
	Samples []int16

	// Padded is true for a final frame that was completed with zero samples
	// because the upstream ended mid-frame.
	Padded bool
}

// FrameSamplesFor returns the number of samples per frame for sampleRate:
// 512 at 16 kHz and 256 at 8 kHz (32 ms in both cases).
func FrameSamplesFor(sampleRate int) (int, error) {
	switch sampleRate {
	case SampleRate16k:
		return 512, nil
	case SampleRate8k:
		return 256, nil
	default:
		return 0, fmt.Errorf("audio: unsupported sample rate %d (want 8000 or 16000)", sampleRate)
	}
}

// FrameDuration returns the wall-clock length of one frame at sampleRate.
func FrameDuration(sampleRate int) (time.Duration, error) {
	n, err := FrameSamplesFor(sampleRate)
	if err != nil {
		return 0, err
	}
	return time.Duration(n) * time.Second / time.Duration(sampleRate), nil
}

// Normalize converts int16 samples to float32 in [-1, 1) by dividing by
// 32768.
func Normalize(samples []int16) []float32 {
	out := make([]float32, len(samples))
	NormalizeInto(out, samples)
	return out
}

// NormalizeInto is [Normalize] writing into dst, which must hold at least
// len(src) values. It returns dst[:len(src)].
func NormalizeInto(dst []float32, src []int16) []float32 {
	dst = dst[:len(src)]
	for i, s := range src {
		dst[i] = float32(s) / 32768.0
	}
	return dst
}

// DecodeSamples interprets b as little-endian int16 PCM. A trailing odd byte
// is ignored.
func DecodeSamples(b []byte) []int16 {
	out := make([]int16, len(b)/BytesPerSample)
	for i := range out {
		out[i] = int16(b[i*2]) | int16(b[i*2+1])<<8
	}
	return out
}

// EncodeSamples is the inverse of [DecodeSamples].
func EncodeSamples(samples []int16) []byte {
	out := make([]byte, len(samples)*BytesPerSample)
	for i, s := range samples {
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}
