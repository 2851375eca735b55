package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/MrWong99/vadstream/pkg/audio"
)

// ErrNoHeader is returned when no RIFF header appears within the scan
// timeout or byte budget.
var ErrNoHeader = errors.New("source: no RIFF header found")

// DefaultMaxPreamble bounds the bytes discarded while looking for "RIFF".
const DefaultMaxPreamble = 1 << 20

var riffTag = []byte("RIFF")

// ScanHeader discards the noisy preamble that precedes a WAV stream (boot
// log lines, stale samples) until it finds "RIFF", then returns the
// canonical 44-byte header and any bytes already read past it.
//
// r may return (0, nil) on read timeouts; the scan keeps polling until ctx is
// done, timeout elapses, or maxPreamble bytes were discarded.
func ScanHeader(ctx context.Context, r io.Reader, timeout time.Duration, maxPreamble int) (header, rest []byte, err error) {
	if maxPreamble <= 0 {
		maxPreamble = DefaultMaxPreamble
	}
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	var (
		buf       []byte
		discarded int
		found     bool
		chunk     = make([]byte, 512)
	)
	for {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			return nil, nil, fmt.Errorf("%w within %v (discarded %d bytes)", ErrNoHeader, timeout, discarded)
		}

		n, rerr := r.Read(chunk)
		buf = append(buf, chunk[:n]...)

		if !found {
			if i := bytes.Index(buf, riffTag); i >= 0 {
				discarded += i
				buf = buf[i:]
				found = true
			} else if len(buf) > len(riffTag)-1 {
				// Keep a possible partial tag at the end.
				drop := len(buf) - (len(riffTag) - 1)
				discarded += drop
				buf = buf[drop:]
			}
			if !found && discarded > maxPreamble {
				return nil, nil, fmt.Errorf("%w in first %d bytes", ErrNoHeader, maxPreamble)
			}
		}
		if found && len(buf) >= audio.WAVHeaderSize {
			return buf[:audio.WAVHeaderSize], buf[audio.WAVHeaderSize:], nil
		}

		if rerr != nil {
			if cerr := ctx.Err(); cerr != nil {
				return nil, nil, cerr
			}
			if errors.Is(rerr, io.EOF) {
				if found {
					return nil, nil, fmt.Errorf("source: truncated wav header: %w", io.ErrUnexpectedEOF)
				}
				return nil, nil, fmt.Errorf("%w before end of stream", ErrNoHeader)
			}
			return nil, nil, fmt.Errorf("source: scan header: %w", rerr)
		}
	}
}

// limitedWAV yields exactly DataSize payload bytes, then io.EOF. A transport
// that ends early surfaces io.ErrUnexpectedEOF.
type limitedWAV struct {
	pending   []byte
	r         io.Reader
	remaining int64
}

func newLimitedWAV(rest []byte, r io.Reader, dataSize uint32) *limitedWAV {
	return &limitedWAV{pending: rest, r: r, remaining: int64(dataSize)}
}

func (l *limitedWAV) Read(p []byte) (int, error) {
	if l.remaining <= 0 {
		return 0, io.EOF
	}
	if int64(len(p)) > l.remaining {
		p = p[:l.remaining]
	}
	if len(l.pending) > 0 {
		n := copy(p, l.pending)
		l.pending = l.pending[n:]
		l.remaining -= int64(n)
		return n, nil
	}
	n, err := l.r.Read(p)
	l.remaining -= int64(n)
	if errors.Is(err, io.EOF) && l.remaining > 0 {
		if n > 0 {
			// Deliver the bytes; the short stream surfaces on the next call.
			return n, nil
		}
		return 0, fmt.Errorf("source: wav payload ended with %d bytes missing: %w", l.remaining, io.ErrUnexpectedEOF)
	}
	return n, err
}

// checkFormat validates a parsed header against what the pipeline can
// consume.
func checkFormat(h audio.WAVHeader) error {
	if h.BitsPerSample != 16 {
		return fmt.Errorf("source: unsupported bit depth %d (want 16)", h.BitsPerSample)
	}
	if h.Format.SampleRate <= 0 || h.Format.Channels <= 0 {
		return fmt.Errorf("source: invalid wav format %s", h.Format)
	}
	return nil
}
