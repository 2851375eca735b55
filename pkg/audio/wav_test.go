package audio_test

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/MrWong99/vadstream/pkg/audio"
)

func TestWAVWriter_RoundTripThroughReadWAV(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "rec.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	ww, err := audio.NewWAVWriter(f, audio.Format{SampleRate: 16000, Channels: 1})
	if err != nil {
		t.Fatalf("NewWAVWriter: %v", err)
	}
	payload := audio.EncodeSamples([]int16{1, -2, 3, -4})
	if _, err := ww.Write(payload); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := ww.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	h, err := audio.ParseWAVHeader(data)
	if err != nil {
		t.Fatalf("ParseWAVHeader: %v", err)
	}
	if h.DataSize != uint32(len(payload)) {
		t.Errorf("DataSize = %d, want %d", h.DataSize, len(payload))
	}

	r := bytes.NewReader(data)
	h2, err := audio.ReadWAV(r)
	if err != nil {
		t.Fatalf("ReadWAV: %v", err)
	}
	if h2.Format.SampleRate != 16000 || h2.Format.Channels != 1 || h2.BitsPerSample != 16 {
		t.Errorf("unexpected header: %+v", h2)
	}
	rest, _ := io.ReadAll(r)
	if !bytes.Equal(rest, payload) {
		t.Errorf("payload mismatch: got %v, want %v", rest, payload)
	}
}

func TestReadWAV_SkipsExtraChunks(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	buf.WriteString("RIFF\x00\x00\x00\x00WAVE")
	// fmt chunk: PCM, stereo, 44100 Hz, 16 bit.
	buf.WriteString("fmt \x10\x00\x00\x00")
	buf.Write([]byte{1, 0, 2, 0, 0x44, 0xac, 0, 0, 0x10, 0xb1, 0x02, 0, 4, 0, 16, 0})
	// Odd-sized LIST chunk followed by its pad byte.
	buf.WriteString("LIST\x03\x00\x00\x00abc\x00")
	buf.WriteString("data\x04\x00\x00\x00")
	buf.Write([]byte{1, 0, 2, 0})

	h, err := audio.ReadWAV(&buf)
	if err != nil {
		t.Fatalf("ReadWAV: %v", err)
	}
	if h.Format.SampleRate != 44100 || h.Format.Channels != 2 {
		t.Errorf("format = %+v, want 44100Hz stereo", h.Format)
	}
	if h.DataSize != 4 {
		t.Errorf("DataSize = %d, want 4", h.DataSize)
	}
}

func TestParseWAVHeader_Rejects(t *testing.T) {
	t.Parallel()
	if _, err := audio.ParseWAVHeader([]byte("RIFF")); err == nil {
		t.Error("expected error for short header")
	}
	junk := bytes.Repeat([]byte{'x'}, audio.WAVHeaderSize)
	if _, err := audio.ParseWAVHeader(junk); !errors.Is(err, audio.ErrNotWAV) {
		t.Errorf("err = %v, want ErrNotWAV", err)
	}
}
