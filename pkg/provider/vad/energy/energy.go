// Package energy provides a pure-Go [vad.Engine] that classifies frames by
// their RMS level.
//
// The frame level is mapped from dBFS onto a pseudo-probability between
// FloorDB (0.0) and CeilDB (1.0) and smoothed with an exponential moving
// average, so a single loud click does not flip the decision on its own. The
// smoothed value is compared against [vad.Config.SpeechThreshold].
//
// It needs no model file and no cgo, which makes it the default engine and
// the fallback when a model-backed engine cannot be created.
package energy

import (
	"fmt"
	"math"
	"sync"

	"github.com/MrWong99/vadstream/pkg/provider/vad"
)

const (
	// DefaultFloorDB is the level mapped to probability 0.
	DefaultFloorDB = -60.0

	// DefaultCeilDB is the level mapped to probability 1.
	DefaultCeilDB = -20.0

	// DefaultSmoothing is the weight of the newest frame in the moving average.
	DefaultSmoothing = 0.6
)

// Option configures an [Engine].
type Option func(*Engine)

// WithRange overrides the dBFS range mapped onto [0, 1].
func WithRange(floorDB, ceilDB float64) Option {
	return func(e *Engine) {
		e.floorDB = floorDB
		e.ceilDB = ceilDB
	}
}

// WithSmoothing sets the moving-average weight of the newest frame. A value
// of 1 disables smoothing.
func WithSmoothing(alpha float64) Option {
	return func(e *Engine) { e.alpha = alpha }
}

// Engine creates energy-based VAD sessions. It holds no mutable state and is
// safe for concurrent use.
type Engine struct {
	floorDB float64
	ceilDB  float64
	alpha   float64
}

// New returns an Engine with the default range and smoothing.
func New(opts ...Option) (*Engine, error) {
	e := &Engine{
		floorDB: DefaultFloorDB,
		ceilDB:  DefaultCeilDB,
		alpha:   DefaultSmoothing,
	}
	for _, o := range opts {
		o(e)
	}
	if e.ceilDB <= e.floorDB {
		return nil, fmt.Errorf("energy: ceil %.1f dB must exceed floor %.1f dB", e.ceilDB, e.floorDB)
	}
	if e.alpha <= 0 || e.alpha > 1 {
		return nil, fmt.Errorf("energy: smoothing %.2f out of range (0, 1]", e.alpha)
	}
	return e, nil
}

// NewSession implements [vad.Engine].
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if err := vad.ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return &session{
		frameSamples: cfg.FrameSamples,
		threshold:    cfg.SpeechThreshold,
		floorDB:      e.floorDB,
		ceilDB:       e.ceilDB,
		alpha:        e.alpha,
	}, nil
}

type session struct {
	mu sync.Mutex

	frameSamples int
	threshold    float64
	floorDB      float64
	ceilDB       float64
	alpha        float64

	smoothed float64
	primed   bool
	closed   bool
}

func (s *session) ProcessFrame(frame []float32) (vad.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return vad.Result{}, vad.ErrClosed
	}
	if len(frame) != s.frameSamples {
		return vad.Result{}, fmt.Errorf("energy: frame has %d samples, want %d", len(frame), s.frameSamples)
	}

	p := s.levelToProb(RMSdB(frame))
	if !s.primed {
		s.smoothed = p
		s.primed = true
	} else {
		s.smoothed = s.alpha*p + (1-s.alpha)*s.smoothed
	}
	return vad.Result{
		IsSpeech:    s.smoothed >= s.threshold,
		Probability: s.smoothed,
	}, nil
}

func (s *session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.smoothed = 0
	s.primed = false
}

func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *session) levelToProb(db float64) float64 {
	p := (db - s.floorDB) / (s.ceilDB - s.floorDB)
	return min(max(p, 0), 1)
}

// RMSdB returns the RMS level of frame in dBFS. Digital silence returns
// -math.MaxFloat64 rather than -Inf so it can be averaged safely.
func RMSdB(frame []float32) float64 {
	if len(frame) == 0 {
		return -math.MaxFloat64
	}
	var sum float64
	for _, v := range frame {
		sum += float64(v) * float64(v)
	}
	rms := math.Sqrt(sum / float64(len(frame)))
	if rms == 0 {
		return -math.MaxFloat64
	}
	return 20 * math.Log10(rms)
}

var (
	_ vad.Engine        = (*Engine)(nil)
	_ vad.SessionHandle = (*session)(nil)
)
