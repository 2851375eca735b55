// Package segment turns per-frame speech decisions into speech_start and
// speech_end transitions and closed speech segments.
//
// The [Tracker] is a two-state machine (Silent, Speaking) with a silence
// grace period: a speech run only ends once min_silence_ms worth of
// consecutive non-speech frames has been seen. Only the boolean decision of
// each frame drives the machine; the classifier probability is carried along
// as telemetry.
//
// A Tracker is owned by exactly one session and is not safe for concurrent
// use.
package segment

import (
	"errors"
	"fmt"
	"math"

	"github.com/MrWong99/vadstream/internal/event"
	"github.com/MrWong99/vadstream/pkg/provider/vad"
)

// ErrInvariant is returned when the tracker detects corrupted state. It is
// fatal to the session.
var ErrInvariant = errors.New("segment: invariant violated")

// State is the accepted speech state of the stream.
type State int

const (
	// Silent is the initial state.
	Silent State = iota
	// Speaking means a speech run is open.
	Speaking
)

// String returns "silent" or "speaking".
func (s State) String() string {
	if s == Speaking {
		return "speaking"
	}
	return "silent"
}

// Config holds the tracker's policy parameters.
type Config struct {
	// FrameMs is the duration of one frame in milliseconds (32 for 512
	// samples at 16 kHz).
	FrameMs int64

	// MinSilenceMs is the grace period of consecutive silence that ends a
	// speech run.
	MinSilenceMs int

	// MinSpeechMs is the minimum segment duration. Shorter runs still emit
	// their speech_start and speech_end transitions but produce no segment
	// event and are not recorded. Zero keeps every segment.
	MinSpeechMs int
}

// Segment is a closed speech interval, in milliseconds from stream start.
type Segment struct {
	StartMs    int64
	EndMs      int64
	DurationMs int64

	// Confidence is the mean classifier probability over the segment's
	// speech frames.
	Confidence float64

	// Truncated marks a segment closed by end of stream rather than by
	// silence.
	Truncated bool
}

// Stats are the tracker's running counters.
type Stats struct {
	FramesProcessed int
	SpeechFrames    int
	Segments        int
	DroppedSegments int
}

// SilenceThresholdFrames converts a grace period to a frame count, rounding
// to the nearest frame. The result is at least 1.
func SilenceThresholdFrames(minSilenceMs int, frameMs int64) int {
	if frameMs <= 0 {
		return 1
	}
	n := int(math.Round(float64(minSilenceMs) / float64(frameMs)))
	return max(n, 1)
}

// Tracker is the hysteresis state machine for one stream.
type Tracker struct {
	cfg       Config
	threshold int

	state      State
	silenceRun int
	startIndex int // -1 when Silent
	lastIndex  int // -1 before the first frame

	framesProcessed int
	speechFrames    int

	runSpeechFrames int
	runConfSum      float64

	segments []Segment
	dropped  int
}

// New returns a Tracker in the Silent state.
func New(cfg Config) (*Tracker, error) {
	if cfg.FrameMs <= 0 {
		return nil, fmt.Errorf("segment: frame duration must be positive, got %d ms", cfg.FrameMs)
	}
	if cfg.MinSilenceMs < 0 || cfg.MinSpeechMs < 0 {
		return nil, fmt.Errorf("segment: negative policy (min_silence_ms=%d, min_speech_ms=%d)",
			cfg.MinSilenceMs, cfg.MinSpeechMs)
	}
	t := &Tracker{
		cfg:       cfg,
		threshold: SilenceThresholdFrames(cfg.MinSilenceMs, cfg.FrameMs),
	}
	t.Reset()
	return t, nil
}

// Reset returns the tracker to its initial state and discards all segments
// and counters.
func (t *Tracker) Reset() {
	t.state = Silent
	t.silenceRun = 0
	t.startIndex = -1
	t.lastIndex = -1
	t.framesProcessed = 0
	t.speechFrames = 0
	t.runSpeechFrames = 0
	t.runConfSum = 0
	t.segments = nil
	t.dropped = 0
}

// Step advances the machine by one frame. Frame indices must be strictly
// increasing. The returned events are in the order they must be published.
func (t *Tracker) Step(frameIndex int, r vad.Result) ([]event.Event, error) {
	if frameIndex <= t.lastIndex {
		return nil, fmt.Errorf("%w: frame %d does not follow frame %d", ErrInvariant, frameIndex, t.lastIndex)
	}
	t.lastIndex = frameIndex
	t.framesProcessed++

	var events []event.Event
	switch {
	case t.state == Silent && r.IsSpeech:
		t.state = Speaking
		t.startIndex = frameIndex
		t.silenceRun = 0
		t.speechFrames++
		t.runSpeechFrames = 1
		t.runConfSum = r.Probability
		events = append(events, event.Event{
			Kind:       event.KindSpeechStart,
			FrameIndex: frameIndex,
			Confidence: r.Probability,
			StartMs:    t.ms(frameIndex),
		})

	case t.state == Silent:
		// Silence while silent.

	case r.IsSpeech:
		t.silenceRun = 0
		t.speechFrames++
		t.runSpeechFrames++
		t.runConfSum += r.Probability

	default:
		t.silenceRun++
		if t.silenceRun >= t.threshold {
			events = t.close(frameIndex, r.Probability, false)
		}
	}

	if err := t.checkInvariants(); err != nil {
		return events, err
	}
	return events, nil
}

// Flush ends the stream. If a speech run is still open it is closed at the
// final frame boundary, frameCount*FrameMs, and marked truncated. frameCount
// is the number of frames processed, i.e. one past the last frame index.
func (t *Tracker) Flush(frameCount int) ([]event.Event, error) {
	if t.state != Speaking {
		return nil, nil
	}
	if frameCount <= t.lastIndex {
		return nil, fmt.Errorf("%w: flush at frame %d before last frame %d", ErrInvariant, frameCount, t.lastIndex)
	}
	events := t.close(frameCount, 0, true)
	if err := t.checkInvariants(); err != nil {
		return events, err
	}
	return events, nil
}

// close ends the open run at frame boundary endIndex.
func (t *Tracker) close(endIndex int, confidence float64, truncated bool) []event.Event {
	seg := Segment{
		StartMs:   t.ms(t.startIndex),
		EndMs:     t.ms(endIndex),
		Truncated: truncated,
	}
	seg.DurationMs = seg.EndMs - seg.StartMs
	if t.runSpeechFrames > 0 {
		seg.Confidence = t.runConfSum / float64(t.runSpeechFrames)
	}

	events := []event.Event{{
		Kind:       event.KindSpeechEnd,
		FrameIndex: endIndex,
		Confidence: confidence,
		EndMs:      seg.EndMs,
		Truncated:  truncated,
	}}
	if seg.DurationMs < int64(t.cfg.MinSpeechMs) {
		t.dropped++
	} else {
		t.segments = append(t.segments, seg)
		events = append(events, event.Event{
			Kind:       event.KindSegment,
			FrameIndex: endIndex,
			Confidence: seg.Confidence,
			StartMs:    seg.StartMs,
			EndMs:      seg.EndMs,
			Truncated:  truncated,
		})
	}

	t.state = Silent
	t.startIndex = -1
	t.silenceRun = 0
	t.runSpeechFrames = 0
	t.runConfSum = 0
	return events
}

func (t *Tracker) checkInvariants() error {
	switch t.state {
	case Speaking:
		if t.startIndex < 0 {
			return fmt.Errorf("%w: speaking without a start frame", ErrInvariant)
		}
		if t.silenceRun >= t.threshold {
			return fmt.Errorf("%w: silence run %d reached threshold %d while speaking",
				ErrInvariant, t.silenceRun, t.threshold)
		}
	case Silent:
		if t.startIndex >= 0 || t.silenceRun != 0 {
			return fmt.Errorf("%w: silent with start frame %d and silence run %d",
				ErrInvariant, t.startIndex, t.silenceRun)
		}
	}
	if n := len(t.segments); n > 0 {
		last := t.segments[n-1]
		if last.EndMs <= last.StartMs {
			return fmt.Errorf("%w: segment [%d, %d] is empty", ErrInvariant, last.StartMs, last.EndMs)
		}
		if n > 1 && last.StartMs < t.segments[n-2].EndMs {
			return fmt.Errorf("%w: segment starting at %d overlaps previous ending at %d",
				ErrInvariant, last.StartMs, t.segments[n-2].EndMs)
		}
	}
	return nil
}

func (t *Tracker) ms(frameIndex int) int64 { return int64(frameIndex) * t.cfg.FrameMs }

// State returns the current accepted state.
func (t *Tracker) State() State { return t.state }

// Threshold returns the silence threshold in frames.
func (t *Tracker) Threshold() int { return t.threshold }

// Segments returns a copy of the closed segments in start order.
func (t *Tracker) Segments() []Segment {
	out := make([]Segment, len(t.segments))
	copy(out, t.segments)
	return out
}

// Stats returns the running counters.
func (t *Tracker) Stats() Stats {
	return Stats{
		FramesProcessed: t.framesProcessed,
		SpeechFrames:    t.speechFrames,
		Segments:        len(t.segments),
		DroppedSegments: t.dropped,
	}
}
