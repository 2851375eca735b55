// Package event defines the events emitted by a VAD session and the
// [Publisher] contract that delivers them.
//
// An [Event] is a tagged variant: [Event.Kind] selects which fields are
// meaningful, and [Event.Payload] serialises each kind to its own wire shape.
// Events are published synchronously and in frame order by the session driver.
package event

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Kind tags the variant carried by an [Event].
type Kind int

const (
	// KindSpeechStart marks the first speech frame of a run.
	KindSpeechStart Kind = iota + 1

	// KindSpeechEnd marks the frame at which the silence grace period ran out,
	// or the final frame boundary when the stream ended mid-speech.
	KindSpeechEnd

	// KindSegment carries a closed speech segment.
	KindSegment

	// KindSummary carries the end-of-session statistics.
	KindSummary
)

// String returns the wire name of the kind.
func (k Kind) String() string {
	switch k {
	case KindSpeechStart:
		return "speech_start"
	case KindSpeechEnd:
		return "speech_end"
	case KindSegment:
		return "segment"
	case KindSummary:
		return "summary"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Event is one transition, segment or summary produced by a session.
type Event struct {
	Kind Kind

	// Time is the wall-clock time the event was published. Stamped by the
	// session driver; zero means "now" at serialisation.
	Time time.Time

	// FrameIndex is the frame at which the event fired. Unused for summaries.
	FrameIndex int

	// Confidence is the classifier probability for transitions, or the mean
	// probability over a segment's speech frames. Telemetry only.
	Confidence float64

	// StartMs and EndMs are stream-relative offsets. StartMs is set for
	// KindSpeechStart and KindSegment, EndMs for KindSpeechEnd and KindSegment.
	StartMs int64
	EndMs   int64

	// Truncated is set on the closing events of a segment that was still
	// open when the stream ended.
	Truncated bool

	// Summary is set only for KindSummary.
	Summary *Summary
}

// Summary aggregates one session's statistics.
type Summary struct {
	SessionID        string        `json:"session_id"`
	TotalFrames      int           `json:"total_frames"`
	SpeechFrames     int           `json:"speech_frames"`
	SpeechPercent    float64       `json:"speech_percent"`
	SegmentCount     int           `json:"segment_count"`
	TotalSpeechMs    int64         `json:"total_speech_ms"`
	AverageSegmentMs float64       `json:"average_segment_ms"`
	MaxSegmentMs     int64         `json:"max_segment_ms"`
	DroppedSegments  int           `json:"dropped_segments"`
	BytesReceived    int64         `json:"bytes_received"`
	DiscardedBytes   int64         `json:"discarded_bytes"`
	PaddedSamples    int64         `json:"padded_samples"`
	PublishErrors    int           `json:"publish_errors"`
	Duration         time.Duration `json:"-"`
	EndReason        string        `json:"end_reason"`
}

// Meta is the read-only per-deployment context attached to every payload.
type Meta struct {
	// DeviceID is the opaque tag identifying the emitting device.
	DeviceID string

	// Source names the detector in payloads, e.g. "silero_vad_v0".
	Source string

	// SampleRate is reported in segment payloads.
	SampleRate int

	// TopicPrefix is prepended to every topic, e.g. "classroom/room1".
	TopicPrefix string
}

// Topic suffixes below [Meta.TopicPrefix].
const (
	TopicSuffixTransition = "/vad/event"
	TopicSuffixSegment    = "/vad"
	TopicSuffixSummary    = "/vad/summary"
)

// Topic returns the topic for events of kind k.
func (m Meta) Topic(k Kind) string {
	switch k {
	case KindSpeechStart, KindSpeechEnd:
		return m.TopicPrefix + TopicSuffixTransition
	case KindSegment:
		return m.TopicPrefix + TopicSuffixSegment
	default:
		return m.TopicPrefix + TopicSuffixSummary
	}
}

type transitionPayload struct {
	Timestamp string `json:"timestamp"`
	DeviceID  string `json:"device_id"`
	Event     string `json:"event"`
	Source    string `json:"source"`
}

type segmentPayload struct {
	Timestamp  string  `json:"timestamp"`
	DeviceID   string  `json:"device_id"`
	Speech     bool    `json:"speech"`
	StartMs    int64   `json:"start_ms"`
	EndMs      int64   `json:"end_ms"`
	Confidence float64 `json:"confidence"`
	SampleRate int     `json:"sample_rate"`
	Source     string  `json:"source"`
	Truncated  bool    `json:"truncated,omitempty"`
}

type summaryPayload struct {
	Timestamp  string  `json:"timestamp"`
	DeviceID   string  `json:"device_id"`
	Source     string  `json:"source"`
	DurationMs int64   `json:"duration_ms"`
	Summary    Summary `json:"summary"`
}

// Timestamp formats t as ISO-8601 UTC with a trailing Z.
func Timestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000000Z")
}

// Payload returns the topic and JSON body for e.
func (e Event) Payload(meta Meta) (string, []byte, error) {
	at := e.Time
	if at.IsZero() {
		at = time.Now()
	}
	ts := Timestamp(at)

	var v any
	switch e.Kind {
	case KindSpeechStart, KindSpeechEnd:
		v = transitionPayload{
			Timestamp: ts,
			DeviceID:  meta.DeviceID,
			Event:     e.Kind.String(),
			Source:    meta.Source,
		}
	case KindSegment:
		v = segmentPayload{
			Timestamp:  ts,
			DeviceID:   meta.DeviceID,
			Speech:     true,
			StartMs:    e.StartMs,
			EndMs:      e.EndMs,
			Confidence: e.Confidence,
			SampleRate: meta.SampleRate,
			Source:     meta.Source,
			Truncated:  e.Truncated,
		}
	case KindSummary:
		if e.Summary == nil {
			return "", nil, fmt.Errorf("event: summary event without summary")
		}
		v = summaryPayload{
			Timestamp:  ts,
			DeviceID:   meta.DeviceID,
			Source:     meta.Source,
			DurationMs: e.Summary.Duration.Milliseconds(),
			Summary:    *e.Summary,
		}
	default:
		return "", nil, fmt.Errorf("event: unknown kind %v", e.Kind)
	}

	body, err := json.Marshal(v)
	if err != nil {
		return "", nil, fmt.Errorf("event: marshal %v: %w", e.Kind, err)
	}
	return meta.Topic(e.Kind), body, nil
}

type sessionKey struct{}

// ContextWithSession returns a context carrying the session ID. Sinks read it
// with [SessionFromContext].
func ContextWithSession(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionKey{}, id)
}

// SessionFromContext returns the session ID stored by [ContextWithSession],
// or "" if none.
func SessionFromContext(ctx context.Context) string {
	id, _ := ctx.Value(sessionKey{}).(string)
	return id
}
