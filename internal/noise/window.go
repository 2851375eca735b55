// Package noise maintains a trailing-window noise profile from per-node audio
// feature messages and republishes it on every update.
package noise

import (
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"
)

// Sample is one RMS level reading.
type Sample struct {
	Time  time.Time
	RMSdB float64
}

// Profile summarises the samples inside the window. Mean, Max and Min are
// only meaningful when Count > 0.
type Profile struct {
	Count     int
	MeanRMSdB float64
	MaxRMSdB  float64
	MinRMSdB  float64
}

type profileJSON struct {
	Count     int      `json:"count"`
	MeanRMSdB *float64 `json:"mean_rms_db,omitempty"`
	MaxRMSdB  *float64 `json:"max_rms_db,omitempty"`
	MinRMSdB  *float64 `json:"min_rms_db,omitempty"`
}

// MarshalJSON renders an empty profile as {"count":0}.
func (p Profile) MarshalJSON() ([]byte, error) {
	out := profileJSON{Count: p.Count}
	if p.Count > 0 {
		out.MeanRMSdB, out.MaxRMSdB, out.MinRMSdB = &p.MeanRMSdB, &p.MaxRMSdB, &p.MinRMSdB
	}
	return json.Marshal(out)
}

// UnmarshalJSON accepts the form written by MarshalJSON. Missing levels
// decode as zero.
func (p *Profile) UnmarshalJSON(b []byte) error {
	var in profileJSON
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	*p = Profile{Count: in.Count}
	if in.MeanRMSdB != nil {
		p.MeanRMSdB = *in.MeanRMSdB
	}
	if in.MaxRMSdB != nil {
		p.MaxRMSdB = *in.MaxRMSdB
	}
	if in.MinRMSdB != nil {
		p.MinRMSdB = *in.MinRMSdB
	}
	return nil
}

// Window keeps samples no older than span relative to the supplied clock.
// It is safe for concurrent use.
type Window struct {
	span time.Duration

	mu      sync.Mutex
	samples []Sample
}

// NewWindow returns a window of the given span.
func NewWindow(span time.Duration) (*Window, error) {
	if span <= 0 {
		return nil, fmt.Errorf("noise: window span %v must be positive", span)
	}
	return &Window{span: span}, nil
}

// Span returns the window length.
func (w *Window) Span() time.Duration { return w.span }

// Add records s and expires samples older than now-span.
func (w *Window) Add(s Sample, now time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.samples = append(w.samples, s)
	w.expire(now)
}

// Profile expires stale samples and summarises the rest.
func (w *Window) Profile(now time.Time) Profile {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.expire(now)
	if len(w.samples) == 0 {
		return Profile{}
	}
	p := Profile{
		Count:    len(w.samples),
		MaxRMSdB: math.Inf(-1),
		MinRMSdB: math.Inf(1),
	}
	var sum float64
	for _, s := range w.samples {
		sum += s.RMSdB
		p.MaxRMSdB = max(p.MaxRMSdB, s.RMSdB)
		p.MinRMSdB = min(p.MinRMSdB, s.RMSdB)
	}
	p.MeanRMSdB = sum / float64(len(w.samples))
	return p
}

// Len returns the number of retained samples without expiring.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.samples)
}

func (w *Window) expire(now time.Time) {
	cutoff := now.Add(-w.span)
	kept := w.samples[:0]
	for _, s := range w.samples {
		if !s.Time.Before(cutoff) {
			kept = append(kept, s)
		}
	}
	clear(w.samples[len(kept):])
	w.samples = kept
}
