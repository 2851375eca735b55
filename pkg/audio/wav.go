package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// WAVHeaderSize is the size of the canonical 44-byte RIFF/WAVE header that
// the firmware emits ahead of the PCM payload.
const WAVHeaderSize = 44

// ErrNotWAV is returned when data does not start with a RIFF/WAVE header.
var ErrNotWAV = errors.New("audio: not a RIFF/WAVE stream")

// WAVHeader holds the fields of a PCM WAV header that the pipeline uses.
type WAVHeader struct {
	Format        Format
	BitsPerSample int

	// DataSize is the length in bytes of the PCM payload that follows.
	DataSize uint32
}

// ParseWAVHeader decodes a canonical 44-byte header. Only the RIFF and WAVE
// tags are validated; the firmware is known to emit a fixed layout so the
// data size is read from offset 40 without walking sub-chunks.
func ParseWAVHeader(b []byte) (WAVHeader, error) {
	if len(b) < WAVHeaderSize {
		return WAVHeader{}, fmt.Errorf("audio: wav header: need %d bytes, have %d", WAVHeaderSize, len(b))
	}
	if string(b[0:4]) != "RIFF" || string(b[8:12]) != "WAVE" {
		return WAVHeader{}, ErrNotWAV
	}
	return WAVHeader{
		Format: Format{
			Channels:   int(binary.LittleEndian.Uint16(b[22:24])),
			SampleRate: int(binary.LittleEndian.Uint32(b[24:28])),
		},
		BitsPerSample: int(binary.LittleEndian.Uint16(b[34:36])),
		DataSize:      binary.LittleEndian.Uint32(b[40:44]),
	}, nil
}

// ReadWAV walks the RIFF chunks of r until it reaches the "data" chunk and
// returns the parsed header. On return r is positioned at the first PCM byte.
// Unlike [ParseWAVHeader] it tolerates extra chunks (LIST, fact, ...) between
// "fmt " and "data", as written by desktop tools.
func ReadWAV(r io.Reader) (WAVHeader, error) {
	var riff [12]byte
	if _, err := io.ReadFull(r, riff[:]); err != nil {
		return WAVHeader{}, fmt.Errorf("audio: read riff header: %w", err)
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return WAVHeader{}, ErrNotWAV
	}

	var (
		h      WAVHeader
		gotFmt bool
	)
	for {
		var ch [8]byte
		if _, err := io.ReadFull(r, ch[:]); err != nil {
			return WAVHeader{}, fmt.Errorf("audio: read chunk header: %w", err)
		}
		id := string(ch[0:4])
		size := binary.LittleEndian.Uint32(ch[4:8])
		switch id {
		case "fmt ":
			body := make([]byte, size)
			if _, err := io.ReadFull(r, body); err != nil {
				return WAVHeader{}, fmt.Errorf("audio: read fmt chunk: %w", err)
			}
			if size < 16 {
				return WAVHeader{}, fmt.Errorf("audio: fmt chunk too short (%d bytes)", size)
			}
			if tag := binary.LittleEndian.Uint16(body[0:2]); tag != 1 {
				return WAVHeader{}, fmt.Errorf("audio: unsupported wav encoding %d (want PCM)", tag)
			}
			h.Format.Channels = int(binary.LittleEndian.Uint16(body[2:4]))
			h.Format.SampleRate = int(binary.LittleEndian.Uint32(body[4:8]))
			h.BitsPerSample = int(binary.LittleEndian.Uint16(body[14:16]))
			gotFmt = true
		case "data":
			if !gotFmt {
				return WAVHeader{}, errors.New("audio: data chunk before fmt chunk")
			}
			if h.BitsPerSample != 16 {
				return WAVHeader{}, fmt.Errorf("audio: unsupported bit depth %d (want 16)", h.BitsPerSample)
			}
			h.DataSize = size
			return h, nil
		default:
			// Chunks are word aligned.
			skip := int64(size) + int64(size%2)
			if _, err := io.CopyN(io.Discard, r, skip); err != nil {
				return WAVHeader{}, fmt.Errorf("audio: skip %q chunk: %w", id, err)
			}
		}
	}
}

// WAVWriter writes 16-bit PCM to an [io.WriteSeeker] and patches the header
// sizes on Close.
type WAVWriter struct {
	w       io.WriteSeeker
	format  Format
	written uint32
	closed  bool
}

// NewWAVWriter writes a placeholder header for format and returns a writer
// positioned at the start of the payload.
func NewWAVWriter(w io.WriteSeeker, format Format) (*WAVWriter, error) {
	ww := &WAVWriter{w: w, format: format}
	if _, err := w.Write(ww.header()); err != nil {
		return nil, fmt.Errorf("audio: write wav header: %w", err)
	}
	return ww, nil
}

// Write appends PCM bytes to the payload.
func (ww *WAVWriter) Write(p []byte) (int, error) {
	n, err := ww.w.Write(p)
	ww.written += uint32(n)
	return n, err
}

// BytesWritten returns the payload size so far.
func (ww *WAVWriter) BytesWritten() uint32 { return ww.written }

// Close rewrites the header with the final sizes. It does not close the
// underlying writer. Calling Close more than once is safe.
func (ww *WAVWriter) Close() error {
	if ww.closed {
		return nil
	}
	ww.closed = true
	if _, err := ww.w.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("audio: seek wav header: %w", err)
	}
	if _, err := ww.w.Write(ww.header()); err != nil {
		return fmt.Errorf("audio: rewrite wav header: %w", err)
	}
	_, err := ww.w.Seek(0, io.SeekEnd)
	return err
}

func (ww *WAVWriter) header() []byte {
	channels := max(ww.format.Channels, 1)
	blockAlign := channels * BytesPerSample
	b := make([]byte, WAVHeaderSize)
	copy(b[0:4], "RIFF")
	binary.LittleEndian.PutUint32(b[4:8], 36+ww.written)
	copy(b[8:12], "WAVE")
	copy(b[12:16], "fmt ")
	binary.LittleEndian.PutUint32(b[16:20], 16)
	binary.LittleEndian.PutUint16(b[20:22], 1)
	binary.LittleEndian.PutUint16(b[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(b[24:28], uint32(ww.format.SampleRate))
	binary.LittleEndian.PutUint32(b[28:32], uint32(ww.format.SampleRate*blockAlign))
	binary.LittleEndian.PutUint16(b[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(b[34:36], 16)
	copy(b[36:40], "data")
	binary.LittleEndian.PutUint32(b[40:44], ww.written)
	return b
}
