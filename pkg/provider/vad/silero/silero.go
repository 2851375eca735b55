//go:build silero

// Package silero provides a [vad.Engine] backed by the Silero VAD ONNX model
// through github.com/streamer45/silero-vad-go. It requires cgo and the ONNX
// runtime shared library, so it is only compiled with the "silero" build tag.
package silero

import (
	"errors"
	"fmt"
	"sync"

	"github.com/streamer45/silero-vad-go/speech"

	"github.com/MrWong99/vadstream/pkg/provider/vad"
)

// Engine creates Silero sessions. Each session owns its own detector and
// recurrent state.
type Engine struct {
	modelPath string
}

// New returns an Engine that loads weights from modelPath for every session.
func New(modelPath string) (*Engine, error) {
	if modelPath == "" {
		return nil, errors.New("silero: model path is required")
	}
	return &Engine{modelPath: modelPath}, nil
}

// NewSession implements [vad.Engine].
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if err := vad.ValidateConfig(cfg); err != nil {
		return nil, err
	}
	path := e.modelPath
	if cfg.ModelPath != "" {
		path = cfg.ModelPath
	}
	det, err := speech.NewDetector(speech.DetectorConfig{
		ModelPath:  path,
		SampleRate: cfg.SampleRate,
		Threshold:  float32(cfg.SpeechThreshold),
		// Segmentation is done downstream; the detector only reports raw
		// transitions.
		MinSilenceDurationMs: 0,
		SpeechPadMs:          0,
	})
	if err != nil {
		return nil, fmt.Errorf("silero: create detector: %w", err)
	}
	return &session{
		det:          det,
		frameSamples: cfg.FrameSamples,
		sampleRate:   cfg.SampleRate,
		buf:          make([]float32, cfg.FrameSamples+1),
	}, nil
}

type session struct {
	mu sync.Mutex

	det          *speech.Detector
	frameSamples int
	sampleRate   int
	buf          []float32

	speaking bool
	closed   bool
}

// ProcessFrame feeds one window to the detector. Detect only runs windows
// that are strictly followed by more input, so the frame is passed with one
// trailing zero sample appended.
func (s *session) ProcessFrame(frame []float32) (vad.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return vad.Result{}, vad.ErrClosed
	}
	if len(frame) != s.frameSamples {
		return vad.Result{}, fmt.Errorf("silero: frame has %d samples, want %d", len(frame), s.frameSamples)
	}
	copy(s.buf, frame)
	s.buf[s.frameSamples] = 0

	segs, err := s.det.Detect(s.buf)
	if err != nil {
		return vad.Result{}, fmt.Errorf("silero: detect: %w", err)
	}

	var res vad.Result
	for _, seg := range segs {
		// An open segment has no end yet; a closed one may also carry the
		// start when both fell into this window.
		if seg.SpeechEndAt == 0 || (!s.speaking && seg.SpeechStartAt > 0) {
			s.speaking = true
			ms := int64(seg.SpeechStartAt * 1000)
			res.StartMs = &ms
		}
		if seg.SpeechEndAt > 0 {
			s.speaking = false
			ms := int64(seg.SpeechEndAt * 1000)
			res.EndMs = &ms
		}
	}
	res.IsSpeech = s.speaking
	if s.speaking {
		res.Probability = 1
	}
	return res, nil
}

func (s *session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.speaking = false
	if s.closed {
		return
	}
	_ = s.det.Reset()
}

func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.det.Destroy()
}

var (
	_ vad.Engine        = (*Engine)(nil)
	_ vad.SessionHandle = (*session)(nil)
)
