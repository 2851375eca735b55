package resilience

import (
	"errors"
	"testing"

	"github.com/MrWong99/vadstream/pkg/provider/vad"
	vadmock "github.com/MrWong99/vadstream/pkg/provider/vad/mock"
)

var testVADConfig = vad.Config{SampleRate: 16000, FrameSamples: 512, SpeechThreshold: 0.5}

func TestVADFallback_NewSession_PrimarySuccess(t *testing.T) {
	t.Parallel()
	primary := &vadmock.Engine{Session: &vadmock.Session{}}
	secondary := &vadmock.Engine{}

	fb := NewVADFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	handle, err := fb.NewSession(testVADConfig)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if handle == nil {
		t.Fatal("handle is nil")
	}
	if len(primary.NewSessionCalls) != 1 {
		t.Fatalf("primary called %d times, want 1", len(primary.NewSessionCalls))
	}
	if len(secondary.NewSessionCalls) != 0 {
		t.Fatalf("secondary called %d times, want 0", len(secondary.NewSessionCalls))
	}
	if primary.NewSessionCalls[0].Cfg != testVADConfig {
		t.Errorf("cfg = %+v, want %+v", primary.NewSessionCalls[0].Cfg, testVADConfig)
	}
}

func TestVADFallback_NewSession_Failover(t *testing.T) {
	t.Parallel()
	primary := &vadmock.Engine{NewSessionErr: errors.New("model missing")}
	secondarySess := &vadmock.Session{}
	secondary := &vadmock.Engine{Session: secondarySess}

	fb := NewVADFallback(primary, "silero", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("energy", secondary)

	handle, err := fb.NewSession(testVADConfig)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if handle != secondarySess {
		t.Fatal("expected the secondary session")
	}
	if len(secondary.NewSessionCalls) != 1 {
		t.Fatalf("secondary called %d times, want 1", len(secondary.NewSessionCalls))
	}
}

func TestVADFallback_NewSession_AllFail(t *testing.T) {
	t.Parallel()
	primary := &vadmock.Engine{NewSessionErr: errors.New("primary down")}
	secondary := &vadmock.Engine{NewSessionErr: errors.New("secondary down")}

	fb := NewVADFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	_, err := fb.NewSession(testVADConfig)
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}
