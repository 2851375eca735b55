package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/MrWong99/vadstream/internal/session"
	"github.com/MrWong99/vadstream/pkg/audio"
)

// Recorder wraps an opener so every session's audio is also written to a
// mono 16-bit WAV file in Dir, one file per session.
type Recorder struct {
	Opener     session.Opener
	Dir        string
	SampleRate int
	Logger     *slog.Logger

	// Now names files; defaults to time.Now.
	Now func() time.Time
}

// Open opens the wrapped source and the recording file.
func (r *Recorder) Open(ctx context.Context) (session.Source, error) {
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := r.Now
	if now == nil {
		now = time.Now
	}

	if err := os.MkdirAll(r.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("source: create record dir: %w", err)
	}
	src, err := r.Opener.Open(ctx)
	if err != nil {
		return nil, err
	}

	path := filepath.Join(r.Dir, "session-"+now().UTC().Format("20060102T150405.000Z")+".wav")
	f, err := os.Create(path)
	if err != nil {
		_ = src.Close()
		return nil, fmt.Errorf("source: create recording: %w", err)
	}
	ww, err := audio.NewWAVWriter(f, audio.Format{SampleRate: r.SampleRate, Channels: 1})
	if err != nil {
		_ = f.Close()
		_ = src.Close()
		return nil, fmt.Errorf("source: %w", err)
	}
	logger.Info("recording session", "path", path)
	return &recordingSource{Source: src, file: f, wav: ww, path: path, logger: logger}, nil
}

type recordingSource struct {
	session.Source

	mu     sync.Mutex
	file   *os.File
	wav    *audio.WAVWriter
	path   string
	logger *slog.Logger
	werr   error
	done   bool
}

func (s *recordingSource) NextChunk() ([]byte, error) {
	chunk, err := s.Source.NextChunk()
	if len(chunk) > 0 {
		s.mu.Lock()
		if !s.done && s.werr == nil {
			if _, werr := s.wav.Write(chunk); werr != nil {
				// Recording is best effort; the session keeps running.
				s.werr = werr
				s.logger.Warn("recording write failed", "path", s.path, "error", werr)
			}
		}
		s.mu.Unlock()
	}
	return chunk, err
}

// Close finalises the WAV header, then closes the wrapped source.
func (s *recordingSource) Close() error {
	s.mu.Lock()
	var ferr error
	if !s.done {
		s.done = true
		ferr = errors.Join(s.wav.Close(), s.file.Close())
		if ferr == nil {
			s.logger.Info("recording finished", "path", s.path, "bytes", s.wav.BytesWritten())
		}
	}
	s.mu.Unlock()
	return errors.Join(s.Source.Close(), ferr)
}
