package commands

import (
	"fmt"

	"github.com/MrWong99/vadstream/internal/config"
	"github.com/MrWong99/vadstream/internal/health"
	"github.com/MrWong99/vadstream/internal/resilience"
	"github.com/MrWong99/vadstream/pkg/provider/vad"
	"github.com/MrWong99/vadstream/pkg/provider/vad/energy"
)

// engineFactories lists the engines compiled into this binary. Optional
// engines add themselves from build-tagged files.
var engineFactories = map[string]config.VADFactory{
	"energy": func(config.VADConfig) (vad.Engine, error) { return energy.New() },
}

func newEngineRegistry() *config.Registry {
	reg := config.NewRegistry()
	for name, f := range engineFactories {
		reg.RegisterVAD(name, f)
	}
	return reg
}

// buildEngine creates the configured engine. With a fallback configured the
// two are combined so a primary that cannot open sessions is bypassed.
func buildEngine(rt *runtime, reg *config.Registry) (vad.Engine, error) {
	v := rt.cfg.VAD
	primary, err := reg.CreateVAD(v.Engine, v)
	if v.Fallback == "" {
		if err != nil {
			return nil, fmt.Errorf("vad engine %q: %w", v.Engine, err)
		}
		return primary, nil
	}

	secondary, ferr := reg.CreateVAD(v.Fallback, v)
	if ferr != nil {
		return nil, fmt.Errorf("vad fallback %q: %w", v.Fallback, ferr)
	}
	if err != nil {
		rt.logger.Warn("primary vad engine unavailable, using fallback",
			"engine", v.Engine, "fallback", v.Fallback, "err", err,
			"available", reg.VADNames())
		return secondary, nil
	}

	fb := resilience.NewVADFallback(primary, v.Engine, resilience.FallbackConfig{
		CircuitBreaker: rt.breakerConfig("vad"),
	})
	fb.AddFallback(v.Fallback, secondary)
	rt.health.Add(health.Fallback("vad", fb.States))
	return fb, nil
}
