package source

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/MrWong99/vadstream/internal/session"
	"github.com/MrWong99/vadstream/pkg/audio"
)

// FileOpener reads a PCM WAV file, converting it to mono at SampleRate.
type FileOpener struct {
	Path       string
	SampleRate int
	Logger     *slog.Logger
}

// Open implements session.Opener.
func (o *FileOpener) Open(context.Context) (session.Source, error) {
	f, err := os.Open(o.Path)
	if err != nil {
		return nil, fmt.Errorf("source: open %s: %w", o.Path, err)
	}
	h, err := audio.ReadWAV(f)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("source: %s: %w", o.Path, err)
	}
	if err := checkFormat(h); err != nil {
		_ = f.Close()
		return nil, err
	}
	logger := o.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("file: reading wav", "path", o.Path, "format", h.Format.String(), "data_bytes", h.DataSize)
	return newStream(newLimitedWAV(nil, f, h.DataSize), f, audio.NewConverter(h.Format, o.SampleRate, logger)), nil
}

var _ session.Opener = (*FileOpener)(nil)
