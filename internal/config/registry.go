package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/vadstream/pkg/provider/vad"
)

// ErrEngineNotRegistered is returned by [Registry.CreateVAD] when no factory
// has been registered under the requested engine name.
var ErrEngineNotRegistered = errors.New("config: vad engine not registered")

// VADFactory builds a VAD engine from the vad section of the config.
type VADFactory func(VADConfig) (vad.Engine, error)

// Registry maps VAD engine names to their constructor functions. It is safe
// for concurrent use.
type Registry struct {
	mu  sync.RWMutex
	vad map[string]VADFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{vad: make(map[string]VADFactory)}
}

// RegisterVAD registers a VAD engine factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterVAD(name string, factory VADFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.vad[name] = factory
}

// CreateVAD instantiates the engine registered under name.
// Returns [ErrEngineNotRegistered] if no factory has been registered for it.
func (r *Registry) CreateVAD(name string, cfg VADConfig) (vad.Engine, error) {
	r.mu.RLock()
	factory, ok := r.vad[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrEngineNotRegistered, name)
	}
	return factory(cfg)
}

// VADNames returns the registered engine names in sorted order.
func (r *Registry) VADNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.vad))
	for name := range r.vad {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
