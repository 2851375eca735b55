package audio

import (
	"fmt"
	"log/slog"
)

// Format describes the sample rate and channel count of a PCM stream.
type Format struct {
	SampleRate int
	Channels   int
}

// String renders f as e.g. "16000Hz mono".
func (f Format) String() string {
	switch {
	case f.Channels <= 1:
		return fmt.Sprintf("%dHz mono", f.SampleRate)
	case f.Channels == 2:
		return fmt.Sprintf("%dHz stereo", f.SampleRate)
	}
	return fmt.Sprintf("%dHz %dch", f.SampleRate, f.Channels)
}

// Converter turns a little-endian PCM byte stream in some source format into
// mono samples at a target rate. It is stateful: partial sample frames and
// the resampling phase carry over between Convert calls, so a stream may be
// fed in chunks of any size. A Converter serves one stream.
type Converter struct {
	src        Format
	targetRate int

	pending []byte  // trailing bytes of an incomplete sample frame
	tail    []int16 // source samples still needed for interpolation
	phase   int64   // position of the next output sample, in 1/targetRate source samples
}

// NewConverter returns a converter from src to mono at targetRate, or nil
// when src already is mono at targetRate.
func NewConverter(src Format, targetRate int, logger *slog.Logger) *Converter {
	if src.Channels < 1 {
		src.Channels = 1
	}
	if src.Channels == 1 && (src.SampleRate == targetRate || src.SampleRate <= 0 || targetRate <= 0) {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("audio: converting input format",
		"from", src.String(),
		"to", Format{SampleRate: targetRate, Channels: 1}.String(),
	)
	return &Converter{src: src, targetRate: targetRate}
}

// Convert consumes chunk and returns whatever target-rate mono PCM it
// completes. The result may be empty.
func (c *Converter) Convert(chunk []byte) []byte {
	frameBytes := c.src.Channels * BytesPerSample
	buf := append(c.pending, chunk...)
	whole := len(buf) - len(buf)%frameBytes
	c.pending = append(c.pending[:0:0], buf[whole:]...)
	if whole == 0 {
		return nil
	}
	mono := DownmixToMono(buf[:whole], c.src.Channels)
	if c.src.SampleRate == c.targetRate || c.src.SampleRate <= 0 || c.targetRate <= 0 {
		return mono
	}
	return EncodeSamples(c.resample(DecodeSamples(mono)))
}

// resample interpolates linearly between neighbouring source samples. An
// output sample is only produced once its right-hand neighbour has arrived.
func (c *Converter) resample(in []int16) []int16 {
	src := append(c.tail, in...)
	dst := int64(c.targetRate)
	step := int64(c.src.SampleRate)

	out := make([]int16, 0, len(in)*c.targetRate/c.src.SampleRate+1)
	for {
		idx := c.phase / dst
		if idx+1 >= int64(len(src)) {
			break
		}
		frac := c.phase % dst
		s0, s1 := int64(src[idx]), int64(src[idx+1])
		out = append(out, int16((s0*(dst-frac)+s1*frac)/dst))
		c.phase += step
	}

	keep := min(c.phase/dst, int64(len(src)))
	c.tail = append(c.tail[:0:0], src[keep:]...)
	c.phase -= keep * dst
	return out
}

// DownmixToMono averages interleaved channels per sample frame. The result
// always fits int16.
func DownmixToMono(pcm []byte, channels int) []byte {
	if channels <= 1 {
		return pcm
	}
	frameBytes := channels * BytesPerSample
	frames := len(pcm) / frameBytes
	out := make([]byte, frames*BytesPerSample)
	for i := range frames {
		var sum int32
		for ch := range channels {
			off := i*frameBytes + ch*BytesPerSample
			sum += int32(int16(pcm[off]) | int16(pcm[off+1])<<8)
		}
		avg := int16(sum / int32(channels))
		out[i*2] = byte(avg)
		out[i*2+1] = byte(avg >> 8)
	}
	return out
}
