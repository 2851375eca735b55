// Package pipeline adapts a per-stream VAD session to the frames produced by
// [audio.Assembler].
package pipeline

import (
	"errors"
	"fmt"

	"github.com/MrWong99/vadstream/pkg/audio"
	"github.com/MrWong99/vadstream/pkg/provider/vad"
)

// ErrFrameLength is returned when a frame does not have exactly the number of
// samples the classifier was configured for. It indicates a defect upstream
// and ends the session.
var ErrFrameLength = errors.New("pipeline: frame length mismatch")

// Classifier feeds frames to a [vad.SessionHandle]. It owns a reusable
// normalisation buffer and is therefore not safe for concurrent use; each
// session driver owns one Classifier.
type Classifier struct {
	handle       vad.SessionHandle
	frameSamples int
	norm         []float32
}

// NewClassifier wraps handle. frameSamples must match the session's
// configured frame length.
func NewClassifier(handle vad.SessionHandle, frameSamples int) *Classifier {
	return &Classifier{
		handle:       handle,
		frameSamples: frameSamples,
		norm:         make([]float32, frameSamples),
	}
}

// Classify normalises the frame's int16 samples to [-1, 1) and classifies it.
func (c *Classifier) Classify(f audio.Frame) (vad.Result, error) {
	if len(f.Samples) != c.frameSamples {
		return vad.Result{}, fmt.Errorf("%w: frame %d has %d samples, want %d",
			ErrFrameLength, f.Index, len(f.Samples), c.frameSamples)
	}
	return c.classify(audio.NormalizeInto(c.norm, f.Samples))
}

// ClassifyNormalized classifies samples that are already in [-1, 1].
func (c *Classifier) ClassifyNormalized(samples []float32) (vad.Result, error) {
	if len(samples) != c.frameSamples {
		return vad.Result{}, fmt.Errorf("%w: got %d samples, want %d",
			ErrFrameLength, len(samples), c.frameSamples)
	}
	return c.classify(samples)
}

func (c *Classifier) classify(samples []float32) (vad.Result, error) {
	r, err := c.handle.ProcessFrame(samples)
	if err != nil {
		return vad.Result{}, fmt.Errorf("pipeline: classify: %w", err)
	}
	return r, nil
}

// Reset clears the model's recurrent state. Call it once at the start of
// every session.
func (c *Classifier) Reset() { c.handle.Reset() }

// FrameSamples returns the configured frame length.
func (c *Classifier) FrameSamples() int { return c.frameSamples }

// Close releases the underlying session.
func (c *Classifier) Close() error { return c.handle.Close() }
