package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	eventmock "github.com/MrWong99/vadstream/internal/event/mock"
	"github.com/MrWong99/vadstream/internal/pipeline"
	"github.com/MrWong99/vadstream/internal/segment"
	"github.com/MrWong99/vadstream/pkg/audio"
	vadmock "github.com/MrWong99/vadstream/pkg/provider/vad/mock"
)

// fakeSource serves fixed chunks and records Close calls.
type fakeSource struct {
	audio.ChunkSource
	mu     sync.Mutex
	closed int
}

func (f *fakeSource) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

type scriptedOpener struct {
	mu      sync.Mutex
	results []func() (Source, error)
	calls   int
}

func (o *scriptedOpener) Open(context.Context) (Source, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	i := min(o.calls, len(o.results)-1)
	o.calls++
	return o.results[i]()
}

func okSource(frames int) func() (Source, error) {
	return func() (Source, error) {
		return &fakeSource{ChunkSource: audio.SliceSource(chunked(frames * frameBytes))}, nil
	}
}

func failingSource() func() (Source, error) {
	return func() (Source, error) {
		calls := 0
		return &fakeSource{ChunkSource: audio.ChunkSourceFunc(func() ([]byte, error) {
			calls++
			if calls == 1 {
				return make([]byte, frameBytes), nil
			}
			return nil, errors.New("serial read timeout")
		})}, nil
	}
}

func TestSupervisor_Defaults(t *testing.T) {
	s := NewSupervisor(SupervisorConfig{})
	if s.cfg.Backoff != 1*time.Second {
		t.Errorf("expected default backoff=1s, got %v", s.cfg.Backoff)
	}
	if s.cfg.MaxBackoff != 30*time.Second {
		t.Errorf("expected default maxBackoff=30s, got %v", s.cfg.MaxBackoff)
	}
}

func TestSupervisor_SingleCleanSession(t *testing.T) {
	sess := &vadmock.Session{Script: script(true, 3, false, 3)}
	d := newTestDriver(t, sess, &eventmock.Publisher{}, 64)
	opener := &scriptedOpener{results: []func() (Source, error){okSource(6)}}

	var summaries []Summary
	s := NewSupervisor(SupervisorConfig{
		Opener:    opener,
		Driver:    d,
		OnSummary: func(sum Summary) { summaries = append(summaries, sum) },
	})
	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if opener.calls != 1 {
		t.Errorf("opened %d sources, want 1", opener.calls)
	}
	if len(summaries) != 1 || summaries[0].SegmentCount != 1 {
		t.Errorf("summaries = %+v", summaries)
	}
}

func TestSupervisor_RestartsWithBackoff(t *testing.T) {
	sess := &vadmock.Session{Script: script(true, 2)}
	d := newTestDriver(t, sess, &eventmock.Publisher{}, 64)
	opener := &scriptedOpener{results: []func() (Source, error){
		func() (Source, error) { return nil, errors.New("no RIFF header") },
		failingSource(),
		failingSource(),
		okSource(4),
	}}

	var waits []time.Duration
	var summaries []Summary
	s := NewSupervisor(SupervisorConfig{
		Opener:     opener,
		Driver:     d,
		Backoff:    100 * time.Millisecond,
		MaxBackoff: 250 * time.Millisecond,
		OnSummary:  func(sum Summary) { summaries = append(summaries, sum) },
	})
	s.sleep = func(_ context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 250 * time.Millisecond}
	if len(waits) != len(want) {
		t.Fatalf("waits = %v, want %v", waits, want)
	}
	for i := range want {
		if waits[i] != want[i] {
			t.Errorf("wait %d = %v, want %v", i, waits[i], want[i])
		}
	}
	// The open failure produces no session; the two transport failures and
	// the final clean run each report a summary.
	if len(summaries) != 3 {
		t.Fatalf("summaries = %d, want 3", len(summaries))
	}
	if summaries[0].EndReason != EndTransportError || summaries[2].EndReason != EndEOF {
		t.Errorf("reasons = %q, %q", summaries[0].EndReason, summaries[2].EndReason)
	}
	if sess.ResetCallCount != 3 {
		t.Errorf("classifier reset %d times, want one per session", sess.ResetCallCount)
	}
}

func TestSupervisor_GivesUpAfterMaxRetries(t *testing.T) {
	sess := &vadmock.Session{}
	d := newTestDriver(t, sess, &eventmock.Publisher{}, 64)
	opener := &scriptedOpener{results: []func() (Source, error){
		func() (Source, error) { return nil, errors.New("port busy") },
	}}

	s := NewSupervisor(SupervisorConfig{Opener: opener, Driver: d, MaxRetries: 2})
	s.sleep = func(context.Context, time.Duration) error { return nil }

	err := s.Run(context.Background())
	if err == nil {
		t.Fatal("expected error after max retries")
	}
	if opener.calls != 3 {
		t.Errorf("open attempts = %d, want 3", opener.calls)
	}
}

func TestSupervisor_StopsOnFatalSessionError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		target error
	}{
		{"frame length", fmt.Errorf("model window: %w", pipeline.ErrFrameLength), pipeline.ErrFrameLength},
		{"invariant", fmt.Errorf("tracker: %w", segment.ErrInvariant), segment.ErrInvariant},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sess := &vadmock.Session{ProcessFrameErr: tt.err}
			d := newTestDriver(t, sess, &eventmock.Publisher{}, 64)
			opener := &scriptedOpener{results: []func() (Source, error){okSource(4)}}

			var slept int
			var summaries []Summary
			s := NewSupervisor(SupervisorConfig{
				Opener:     opener,
				Driver:     d,
				Continuous: true,
				OnSummary:  func(sum Summary) { summaries = append(summaries, sum) },
			})
			s.sleep = func(context.Context, time.Duration) error {
				slept++
				return nil
			}

			err := s.Run(context.Background())
			if !errors.Is(err, tt.target) {
				t.Fatalf("Run err = %v, want %v", err, tt.target)
			}
			if opener.calls != 1 || slept != 0 {
				t.Errorf("open attempts = %d, backoff sleeps = %d; want 1 and 0", opener.calls, slept)
			}
			if len(summaries) != 1 || summaries[0].EndReason != EndClassifierError {
				t.Errorf("summaries = %+v, want one classifier_error", summaries)
			}
		})
	}
}

func TestSupervisor_RetriesOrdinaryClassifierError(t *testing.T) {
	sess := &vadmock.Session{ProcessFrameErr: errors.New("onnx: session busy")}
	d := newTestDriver(t, sess, &eventmock.Publisher{}, 64)
	opener := &scriptedOpener{results: []func() (Source, error){okSource(4)}}

	s := NewSupervisor(SupervisorConfig{Opener: opener, Driver: d, Continuous: true, MaxRetries: 2})
	s.sleep = func(context.Context, time.Duration) error { return nil }

	if err := s.Run(context.Background()); err == nil {
		t.Fatal("expected error after max retries")
	}
	if opener.calls != 3 {
		t.Errorf("open attempts = %d, want 3", opener.calls)
	}
}

func TestSupervisor_ContinuousStopsOnCancel(t *testing.T) {
	sess := &vadmock.Session{}
	d := newTestDriver(t, sess, &eventmock.Publisher{}, 64)

	ctx, cancel := context.WithCancel(context.Background())
	var sources []*fakeSource
	opener := OpenerFunc(func(context.Context) (Source, error) {
		src := &fakeSource{ChunkSource: audio.SliceSource(chunked(2 * frameBytes))}
		sources = append(sources, src)
		if len(sources) == 3 {
			cancel()
		}
		return src, nil
	})

	s := NewSupervisor(SupervisorConfig{Opener: opener, Driver: d, Continuous: true})
	if err := s.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(sources) != 3 {
		t.Fatalf("sessions = %d, want 3", len(sources))
	}
	for i, src := range sources {
		src.mu.Lock()
		closed := src.closed
		src.mu.Unlock()
		if closed == 0 {
			t.Errorf("source %d was not closed", i)
		}
	}
}
