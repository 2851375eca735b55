package source

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/MrWong99/vadstream/internal/session"
	"github.com/MrWong99/vadstream/pkg/audio"
)

func TestRecorder_WritesSessionWAV(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	payload := ramp(3200)
	in := filepath.Join(dir, "in.wav")
	if err := os.WriteFile(in, wavBytes(t, audio.Format{SampleRate: 16000, Channels: 1}, payload), 0o644); err != nil {
		t.Fatal(err)
	}

	out := filepath.Join(dir, "rec")
	rec := &Recorder{
		Opener:     &FileOpener{Path: in, SampleRate: 16000},
		Dir:        out,
		SampleRate: 16000,
		Now:        func() time.Time { return time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC) },
	}
	src, err := rec.Open(context.Background())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	got, err := drain(t, src)
	if !errors.Is(err, io.EOF) {
		t.Fatalf("drain err = %v, want EOF", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("session saw %d bytes, want %d", len(got), len(payload))
	}
	if err := src.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := src.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	f, err := os.Open(filepath.Join(out, "session-20260301T080000.000Z.wav"))
	if err != nil {
		t.Fatalf("recording missing: %v", err)
	}
	defer f.Close()
	h, err := audio.ReadWAV(f)
	if err != nil {
		t.Fatalf("ReadWAV: %v", err)
	}
	if h.DataSize != uint32(len(payload)) || h.Format.SampleRate != 16000 || h.Format.Channels != 1 {
		t.Fatalf("header = %+v", h)
	}
	recorded, _ := io.ReadAll(f)
	if !bytes.Equal(recorded, payload) {
		t.Fatal("recorded payload differs from session audio")
	}
}

func TestRecorder_OpenError(t *testing.T) {
	t.Parallel()
	boom := errors.New("no client")
	rec := &Recorder{
		Opener:     session.OpenerFunc(func(context.Context) (session.Source, error) { return nil, boom }),
		Dir:        t.TempDir(),
		SampleRate: 16000,
	}
	if _, err := rec.Open(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
}
