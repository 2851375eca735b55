package audio_test

import (
	"log/slog"
	"slices"
	"testing"

	"github.com/MrWong99/vadstream/pkg/audio"
)

var quiet = slog.New(slog.DiscardHandler)

func TestDownmixToMono(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   []int16
		want []int16
	}{
		{"average", []int16{100, 200, -100, -200}, []int16{150, -150}},
		{"no overflow", []int16{32767, 32767, -32768, -32768}, []int16{32767, -32768}},
		{"partial frame dropped", []int16{10, 20, 30}, []int16{15}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := audio.DecodeSamples(audio.DownmixToMono(audio.EncodeSamples(tt.in), 2))
			if !slices.Equal(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewConverter_NilForMatchingFormat(t *testing.T) {
	t.Parallel()
	if c := audio.NewConverter(audio.Format{SampleRate: 16000, Channels: 1}, 16000, quiet); c != nil {
		t.Error("expected nil converter for mono input at the target rate")
	}
	if c := audio.NewConverter(audio.Format{SampleRate: 16000}, 16000, quiet); c != nil {
		t.Error("zero channels should count as mono")
	}
}

func TestConverter_StereoCarriesPartialFrames(t *testing.T) {
	t.Parallel()
	c := audio.NewConverter(audio.Format{SampleRate: 16000, Channels: 2}, 16000, quiet)
	stereo := audio.EncodeSamples([]int16{10, 20, 30, 40, 50, 60})
	var out []byte
	for _, n := range []int{3, 5, 1, 3} {
		out = append(out, c.Convert(stereo[:n])...)
		stereo = stereo[n:]
	}
	if got := audio.DecodeSamples(out); !slices.Equal(got, []int16{15, 35, 55}) {
		t.Errorf("samples = %v, want [15 35 55]", got)
	}
}

func TestConverter_Downsample(t *testing.T) {
	t.Parallel()
	c := audio.NewConverter(audio.Format{SampleRate: 48000, Channels: 1}, 16000, quiet)
	got := audio.DecodeSamples(c.Convert(audio.EncodeSamples([]int16{100, 200, 300, 400, 500, 600})))
	if !slices.Equal(got, []int16{100, 400}) {
		t.Errorf("samples = %v, want [100 400]", got)
	}
}

func TestConverter_UpsampleInterpolates(t *testing.T) {
	t.Parallel()
	c := audio.NewConverter(audio.Format{SampleRate: 8000, Channels: 1}, 16000, quiet)
	got := audio.DecodeSamples(c.Convert(audio.EncodeSamples([]int16{0, 100, 200})))
	// The sample at the last input position waits for its right neighbour.
	if want := []int16{0, 50, 100, 150}; !slices.Equal(got, want) {
		t.Errorf("samples = %v, want %v", got, want)
	}
	got = audio.DecodeSamples(c.Convert(audio.EncodeSamples([]int16{300})))
	if want := []int16{200, 250}; !slices.Equal(got, want) {
		t.Errorf("next chunk samples = %v, want %v", got, want)
	}
}

// Chunking must not change the output.
func TestConverter_ChunkBoundariesAreSeamless(t *testing.T) {
	t.Parallel()
	in := make([]int16, 3000)
	for i := range in {
		in[i] = int16(i*7%2000 - 1000)
	}
	pcm := audio.EncodeSamples(in)
	src := audio.Format{SampleRate: 44100, Channels: 2}

	whole := audio.NewConverter(src, 16000, quiet).Convert(pcm)

	c := audio.NewConverter(src, 16000, quiet)
	var pieces []byte
	for rest := pcm; len(rest) > 0; {
		n := min(len(rest), 333)
		pieces = append(pieces, c.Convert(rest[:n])...)
		rest = rest[n:]
	}
	if !slices.Equal(audio.DecodeSamples(pieces), audio.DecodeSamples(whole)) {
		t.Errorf("chunked output (%d bytes) differs from one-shot output (%d bytes)", len(pieces), len(whole))
	}
	// 1500 frames at 44.1 kHz is about 544 samples at 16 kHz.
	if n := len(whole) / audio.BytesPerSample; n < 540 || n > 545 {
		t.Errorf("got %d output samples, want about 544", n)
	}
}

func TestFormat_String(t *testing.T) {
	t.Parallel()
	tests := []struct {
		f    audio.Format
		want string
	}{
		{audio.Format{SampleRate: 16000, Channels: 1}, "16000Hz mono"},
		{audio.Format{SampleRate: 44100, Channels: 2}, "44100Hz stereo"},
		{audio.Format{SampleRate: 48000, Channels: 6}, "48000Hz 6ch"},
	}
	for _, tt := range tests {
		if got := tt.f.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

func TestFrameSamplesFor(t *testing.T) {
	tests := []struct {
		rate    int
		want    int
		wantErr bool
	}{
		{16000, 512, false},
		{8000, 256, false},
		{44100, 0, true},
	}
	for _, tt := range tests {
		got, err := audio.FrameSamplesFor(tt.rate)
		if (err != nil) != tt.wantErr {
			t.Errorf("FrameSamplesFor(%d) err = %v, wantErr %v", tt.rate, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("FrameSamplesFor(%d) = %d, want %d", tt.rate, got, tt.want)
		}
	}
	d, err := audio.FrameDuration(16000)
	if err != nil || d.Milliseconds() != 32 {
		t.Errorf("FrameDuration(16000) = %v, %v; want 32ms", d, err)
	}
}

func TestNormalize(t *testing.T) {
	got := audio.Normalize([]int16{0, 16384, -32768})
	want := []float32{0, 0.5, -1}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %v, want %v", i, got[i], want[i])
		}
	}
}

func TestNormalizeInto_ReusesBuffer(t *testing.T) {
	t.Parallel()
	buf := make([]float32, 8)
	first := audio.NormalizeInto(buf, []int16{32767, -16384})
	if len(first) != 2 || &first[0] != &buf[0] {
		t.Fatalf("NormalizeInto returned len %d, not backed by dst", len(first))
	}
	src := []int16{100, -100, 0, 32767}
	got := audio.NormalizeInto(buf, src)
	want := audio.Normalize(src)
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d = %v, want %v", i, got[i], want[i])
		}
	}
}
