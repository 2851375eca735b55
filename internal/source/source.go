// Package source implements the audio transports a session can read from:
// serial ports (WAV-framed or raw PCM), TCP and WebSocket listeners, and WAV
// files. Every opener yields a session.Source whose Close is idempotent and
// unblocks a pending read.
package source

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/MrWong99/vadstream/pkg/audio"
)

// ErrStalled is returned when a transport delivers no bytes within its read
// timeout. It wraps io.ErrUnexpectedEOF so the driver treats it as a
// transport error.
var ErrStalled = fmt.Errorf("source: no data within read timeout: %w", io.ErrUnexpectedEOF)

// ErrClosed is returned by NextChunk after Close.
var ErrClosed = errors.New("source: closed")

const defaultChunkSize = 4096

// stream is the shared [session.Source] implementation: it reads chunks from
// r, optionally converts them to the session format, and closes c once.
type stream struct {
	chunks    audio.ChunkSource
	conv      *audio.Converter
	closer    io.Closer
	closeOnce sync.Once
	closeErr  error

	mu     sync.Mutex
	closed bool
}

func newStream(r io.Reader, c io.Closer, conv *audio.Converter) *stream {
	return &stream{chunks: audio.ReaderSource(r, defaultChunkSize), conv: conv, closer: c}
}

// NextChunk implements audio.ChunkSource.
func (s *stream) NextChunk() ([]byte, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}
	chunk, err := s.chunks.NextChunk()
	if err != nil {
		s.mu.Lock()
		closed = s.closed
		s.mu.Unlock()
		// A read interrupted by Close is a cancellation, not a transport
		// failure.
		if closed && !errors.Is(err, io.EOF) {
			return nil, ErrClosed
		}
		return nil, err
	}
	if s.conv != nil {
		chunk = s.conv.Convert(chunk)
	}
	return chunk, nil
}

// Close releases the transport. Safe to call more than once and from another
// goroutine while NextChunk is blocked.
func (s *stream) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		if s.closer != nil {
			s.closeErr = s.closer.Close()
		}
	})
	return s.closeErr
}

// pollReader adapts a reader whose Read returns (0, nil) on timeout, as
// serial ports do. It keeps polling until data arrives or limit elapses
// without any byte, then returns [ErrStalled].
type pollReader struct {
	r     io.Reader
	limit time.Duration
	now   func() time.Time
	last  time.Time
}

func newPollReader(r io.Reader, limit time.Duration) *pollReader {
	return &pollReader{r: r, limit: limit, now: time.Now, last: time.Now()}
}

func (p *pollReader) Read(b []byte) (int, error) {
	for {
		n, err := p.r.Read(b)
		if n > 0 || err != nil {
			p.last = p.now()
			return n, err
		}
		if p.limit > 0 && p.now().Sub(p.last) > p.limit {
			return 0, ErrStalled
		}
	}
}
