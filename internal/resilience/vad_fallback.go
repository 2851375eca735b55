package resilience

import (
	"github.com/MrWong99/vadstream/pkg/provider/vad"
)

// VADFallback implements [vad.Engine] with automatic failover across multiple
// VAD backends. Each backend has its own circuit breaker, so a model engine
// that repeatedly fails to load is skipped until its breaker half-opens.
type VADFallback struct {
	group *FallbackGroup[vad.Engine]
}

// Compile-time interface assertion.
var _ vad.Engine = (*VADFallback)(nil)

// NewVADFallback creates a [VADFallback] with primary as the preferred engine.
func NewVADFallback(primary vad.Engine, primaryName string, cfg FallbackConfig) *VADFallback {
	return &VADFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional engine as a fallback.
func (f *VADFallback) AddFallback(name string, engine vad.Engine) {
	f.group.AddFallback(name, engine)
}

// NewSession creates a session on the first engine that accepts cfg.
func (f *VADFallback) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	return ExecuteWithResult(f.group, func(e vad.Engine) (vad.SessionHandle, error) {
		return e.NewSession(cfg)
	})
}

// States reports the breaker state of every engine, primary first.
func (f *VADFallback) States() []EntryState { return f.group.States() }
