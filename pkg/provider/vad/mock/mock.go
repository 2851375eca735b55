// Package mock provides a scripted [vad.Engine] for tests that need
// deterministic speech decisions without a model.
package mock

import (
	"sync"

	"github.com/MrWong99/vadstream/pkg/provider/vad"
)

// NewSessionCall is one recorded Engine.NewSession invocation.
type NewSessionCall struct {
	Cfg vad.Config
}

// Engine hands out Session (or a fresh unscripted one when Session is nil).
type Engine struct {
	mu sync.Mutex

	Session       vad.SessionHandle
	NewSessionErr error

	NewSessionCalls []NewSessionCall
}

func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.NewSessionCalls = append(e.NewSessionCalls, NewSessionCall{Cfg: cfg})
	switch {
	case e.NewSessionErr != nil:
		return nil, e.NewSessionErr
	case e.Session != nil:
		return e.Session, nil
	}
	return &Session{}, nil
}

// Session answers ProcessFrame from Script. Frame n after the latest Reset is
// speech when Script[n] is true; frames past the end of the script are
// silence. Probabilities, when set, overrides the reported score for the
// same frame index.
//
// Unlike a real engine the mock keeps working after Close unless
// FailAfterClose is set, so tests can inspect a session that a driver
// already released.
type Session struct {
	mu sync.Mutex

	Script        []bool
	Probabilities []float64

	ProcessFrameErr error
	FailAfterClose  bool

	// Frames holds a copy of every submitted frame.
	Frames         [][]float32
	ResetCallCount int
	Closed         bool

	pos int
}

func (s *Session) ProcessFrame(frame []float32) (vad.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Closed && s.FailAfterClose {
		return vad.Result{}, vad.ErrClosed
	}
	s.Frames = append(s.Frames, append([]float32(nil), frame...))
	if s.ProcessFrameErr != nil {
		return vad.Result{}, s.ProcessFrameErr
	}

	i := s.pos
	s.pos++
	res := vad.Result{IsSpeech: i < len(s.Script) && s.Script[i], Probability: 0.1}
	if res.IsSpeech {
		res.Probability = 0.9
	}
	if i < len(s.Probabilities) {
		res.Probability = s.Probabilities[i]
	}
	return res, nil
}

// Reset rewinds the script.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ResetCallCount++
	s.pos = 0
}

func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Closed = true
	return nil
}

var (
	_ vad.Engine        = (*Engine)(nil)
	_ vad.SessionHandle = (*Session)(nil)
)
