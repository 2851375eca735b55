// Package vad defines the Engine interface for frame-level speech classifiers.
//
// An engine produces one session per audio stream. A session carries
// whatever history its backend needs (recurrent model state for Silero,
// smoothing for the energy detector), so the decision for frame n may depend
// on frames 0..n-1. Call [SessionHandle.Reset] before feeding an unrelated
// stream.
//
// ProcessFrame is synchronous and returns as soon as the frame is
// classified; the session driver calls it from its single reader goroutine.
// Engines must allow concurrent NewSession calls, but a SessionHandle belongs
// to one goroutine.
package vad

import "errors"

// ErrClosed is returned by ProcessFrame after the session has been closed.
var ErrClosed = errors.New("vad: session closed")

// Config holds the parameters for a VAD session.
type Config struct {
	// SampleRate is the audio sample rate in Hz. Must be 8000 or 16000.
	SampleRate int

	// FrameSamples is the exact number of samples passed to each
	// ProcessFrame call: 512 at 16 kHz, 256 at 8 kHz.
	FrameSamples int

	// SpeechThreshold is the probability above which a frame is classified as
	// speech. Range: [0.0, 1.0]. Typical: 0.5.
	SpeechThreshold float64

	// ModelPath points at model weights for engines that need them (Silero).
	// Ignored by engines that carry no model.
	ModelPath string
}

// SessionHandle represents an active VAD session for a single audio stream.
// It is an interface so that test code can supply mock implementations
// without a live model.
type SessionHandle interface {
	// ProcessFrame classifies a single frame of normalised samples in
	// approximately [-1, 1]. The frame must be exactly Config.FrameSamples
	// long; implementations return an error otherwise.
	//
	// This method is called synchronously in the pipeline loop; it must not
	// block.
	ProcessFrame(frame []float32) (Result, error)

	// Reset clears all accumulated detection state without closing the
	// session. Call it at the start of every stream so that state from a
	// previous stream does not leak into the next one.
	Reset()

	// Close releases all resources associated with the session. After Close,
	// ProcessFrame returns [ErrClosed]. Calling Close more than once is safe
	// and returns nil.
	Close() error
}

// Engine is the factory for VAD sessions. It is the top-level interface
// implemented by each VAD backend.
//
// Implementations must be safe for concurrent use: multiple goroutines may
// call NewSession simultaneously to create independent sessions.
type Engine interface {
	// NewSession creates a new VAD session with the given configuration. The
	// session is immediately ready to accept frames.
	//
	// Returns an error if the configuration is invalid or if the engine
	// cannot allocate resources for the session.
	NewSession(cfg Config) (SessionHandle, error)
}
