package resilience

import (
	"errors"
	"testing"
	"time"
)

func newEngineGroup(maxFailures int) *FallbackGroup[string] {
	fg := NewFallbackGroup("silero", "silero", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: maxFailures, ResetTimeout: time.Hour},
	})
	fg.AddFallback("energy", "energy")
	return fg
}

func TestFallbackGroup_Execute(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		failing  map[string]bool
		wantUsed string
		wantErr  bool
	}{
		{name: "primary healthy", wantUsed: "silero"},
		{name: "primary fails", failing: map[string]bool{"silero": true}, wantUsed: "energy"},
		{name: "all fail", failing: map[string]bool{"silero": true, "energy": true}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			fg := newEngineGroup(3)
			var used string
			err := fg.Execute(func(v string) error {
				if tt.failing[v] {
					return errTest
				}
				used = v
				return nil
			})
			if tt.wantErr {
				if !errors.Is(err, ErrAllFailed) || !errors.Is(err, errTest) {
					t.Fatalf("err = %v, want ErrAllFailed wrapping errTest", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if used != tt.wantUsed {
				t.Fatalf("used = %q, want %q", used, tt.wantUsed)
			}
		})
	}
}

func TestFallbackGroup_SkipsOpenEntry(t *testing.T) {
	t.Parallel()
	fg := newEngineGroup(2)

	for range 2 {
		_ = fg.Execute(func(v string) error {
			if v == "silero" {
				return errTest
			}
			return nil
		})
	}

	states := fg.States()
	if len(states) != 2 || states[0].Name != "silero" || states[0].State != StateOpen || states[1].State != StateClosed {
		t.Fatalf("States() = %+v", states)
	}

	var calls []string
	if err := fg.Execute(func(v string) error {
		calls = append(calls, v)
		return nil
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(calls) != 1 || calls[0] != "energy" {
		t.Fatalf("calls = %v, want only energy", calls)
	}
}

func TestExecuteWithResult(t *testing.T) {
	t.Parallel()
	fg := NewFallbackGroup(512, "16k", FallbackConfig{})
	fg.AddFallback("8k", 256)

	got, err := ExecuteWithResult(fg, func(frame int) (int, error) {
		if frame == 512 {
			return 0, errTest
		}
		return frame * 2, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 512 {
		t.Fatalf("result = %d, want 512", got)
	}

	_, err = ExecuteWithResult(fg, func(int) (int, error) { return 0, errTest })
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}
