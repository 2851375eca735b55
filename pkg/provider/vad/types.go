package vad

import "fmt"

// Result is the classification of a single frame.
type Result struct {
	// IsSpeech is the engine's binary decision for the frame. It is the only
	// field that drives segmentation downstream.
	IsSpeech bool

	// Probability is the speech probability score in [0, 1]. Carried for
	// observability only.
	Probability float64

	// StartMs and EndMs are optional boundary hints reported by engines that
	// track speech internally. They are advisory; segment boundaries are
	// derived from frame counting.
	StartMs *int64
	EndMs   *int64
}

// ValidateConfig checks the fields shared by every engine.
func ValidateConfig(cfg Config) error {
	switch {
	case cfg.SampleRate == 16000 && cfg.FrameSamples == 512:
	case cfg.SampleRate == 8000 && cfg.FrameSamples == 256:
	default:
		return fmt.Errorf("vad: unsupported sample rate / frame size %d Hz / %d samples", cfg.SampleRate, cfg.FrameSamples)
	}
	if cfg.SpeechThreshold < 0 || cfg.SpeechThreshold > 1 {
		return fmt.Errorf("vad: speech threshold %.2f out of range [0, 1]", cfg.SpeechThreshold)
	}
	return nil
}
