package audio

import (
	"errors"
	"fmt"
	"io"
)

// ChunkSource yields raw PCM chunks of arbitrary, transport-defined length.
// Chunks are never assumed to be frame- or even sample-aligned. NextChunk
// returns io.EOF once the upstream has ended; any other error is a transport
// failure. NextChunk may block.
type ChunkSource interface {
	NextChunk() ([]byte, error)
}

// ChunkSourceFunc adapts a function to [ChunkSource].
type ChunkSourceFunc func() ([]byte, error)

// NextChunk calls f.
func (f ChunkSourceFunc) NextChunk() ([]byte, error) { return f() }

// maxEmptyReads bounds consecutive (0, nil) reads before ReaderSource gives
// up with io.ErrNoProgress.
const maxEmptyReads = 100

// ReaderSource turns r into a [ChunkSource] that reads up to bufSize bytes per
// chunk. Each returned chunk is a fresh slice owned by the caller. A reader
// that keeps returning no data and no error ends with [io.ErrNoProgress].
func ReaderSource(r io.Reader, bufSize int) ChunkSource {
	if bufSize <= 0 {
		bufSize = 4096
	}
	buf := make([]byte, bufSize)
	empty := 0
	return ChunkSourceFunc(func() ([]byte, error) {
		for {
			n, err := r.Read(buf)
			if n > 0 {
				empty = 0
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				// Deliver data first; the error (if any) surfaces on the next call.
				return chunk, nil
			}
			if err != nil {
				return nil, err
			}
			empty++
			if empty >= maxEmptyReads {
				return nil, io.ErrNoProgress
			}
		}
	})
}

// SliceSource returns a [ChunkSource] that yields chunks in order and then
// io.EOF.
func SliceSource(chunks [][]byte) ChunkSource {
	i := 0
	return ChunkSourceFunc(func() ([]byte, error) {
		if i >= len(chunks) {
			return nil, io.EOF
		}
		c := chunks[i]
		i++
		return c, nil
	})
}

// AssemblerStats is byte-level telemetry for one [Assembler]. It is the first
// place to look when a session reports zero frames.
type AssemblerStats struct {
	// BytesReceived counts every byte delivered by the upstream, including
	// bytes that never made it into a frame.
	BytesReceived int64

	// Chunks counts upstream chunks, including empty ones.
	Chunks int64

	// Frames counts emitted frames.
	Frames int64

	// PaddedSamples counts zero samples appended to complete the final frame.
	PaddedSamples int64

	// DiscardedBytes counts bytes that could not form a whole sample (a
	// dangling odd byte at end of stream).
	DiscardedBytes int64
}

// Assembler turns an unbounded sequence of variable-length chunks into
// fixed-length frames, oldest samples first. It is not safe for concurrent
// use and cannot be restarted: each sample is observed exactly once.
type Assembler struct {
	src        ChunkSource
	frameBytes int
	frameLen   int

	buf   []byte
	next  int
	done  bool
	err   error
	stats AssemblerStats
}

// NewAssembler creates an [Assembler] emitting frames of frameSamples
// samples. It panics if frameSamples is not positive.
func NewAssembler(src ChunkSource, frameSamples int) *Assembler {
	if frameSamples <= 0 {
		panic(fmt.Sprintf("audio: invalid frame size %d", frameSamples))
	}
	return &Assembler{
		src:        src,
		frameLen:   frameSamples,
		frameBytes: frameSamples * BytesPerSample,
	}
}

// Next returns the next complete frame. When the upstream ends with a
// partial frame buffered, that tail is zero-padded and returned once with
// Padded set. After the last frame Next returns io.EOF; a transport error is
// returned as-is once the buffered whole frames have been drained, and the
// partial tail is then accounted in [AssemblerStats.DiscardedBytes].
func (a *Assembler) Next() (Frame, error) {
	for len(a.buf) < a.frameBytes {
		if a.done {
			return a.finish()
		}
		chunk, err := a.src.NextChunk()
		a.stats.Chunks++
		a.stats.BytesReceived += int64(len(chunk))
		a.buf = append(a.buf, chunk...)
		if err != nil {
			a.done = true
			if !errors.Is(err, io.EOF) {
				a.err = err
			}
		}
	}
	f := a.emit(a.buf[:a.frameBytes], false)
	a.shift()
	return f, nil
}

// Stats returns a snapshot of the byte-level counters.
func (a *Assembler) Stats() AssemblerStats { return a.stats }

// FrameSamples returns the frame length in samples.
func (a *Assembler) FrameSamples() int { return a.frameLen }

// Buffered returns the number of bytes waiting for a frame to complete.
func (a *Assembler) Buffered() int { return len(a.buf) }

// shift drops the frame at the front of the buffer.
func (a *Assembler) shift() {
	n := copy(a.buf, a.buf[a.frameBytes:])
	a.buf = a.buf[:n]
}

func (a *Assembler) emit(b []byte, padded bool) Frame {
	f := Frame{
		Index:   a.next,
		Samples: DecodeSamples(b),
		Padded:  padded,
	}
	a.next++
	a.stats.Frames++
	return f
}

// finish handles the buffered tail once the upstream is exhausted.
func (a *Assembler) finish() (Frame, error) {
	if a.err != nil {
		a.stats.DiscardedBytes += int64(len(a.buf))
		a.buf = a.buf[:0]
		return Frame{}, a.err
	}
	if odd := len(a.buf) % BytesPerSample; odd != 0 {
		a.stats.DiscardedBytes += int64(odd)
		a.buf = a.buf[:len(a.buf)-odd]
	}
	if len(a.buf) == 0 {
		return Frame{}, io.EOF
	}
	missing := a.frameBytes - len(a.buf)
	a.stats.PaddedSamples += int64(missing / BytesPerSample)
	a.buf = append(a.buf, make([]byte, missing)...)
	f := a.emit(a.buf, true)
	a.buf = a.buf[:0]
	return f, nil
}
