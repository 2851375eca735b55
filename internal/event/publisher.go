package event

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/MrWong99/vadstream/internal/resilience"
)

// Publisher delivers events to a sink. Publish is called synchronously from
// the session loop, once per event and in frame order. An error is reported
// to the caller but never alters session state.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// PublisherFunc adapts a function to [Publisher].
type PublisherFunc func(ctx context.Context, e Event) error

// Publish calls f.
func (f PublisherFunc) Publish(ctx context.Context, e Event) error { return f(ctx, e) }

// RawPublisher sends a serialised payload to a topic. It is implemented by
// the MQTT client in internal/bus.
type RawPublisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// TopicPublisher serialises events with [Event.Payload] and hands them to a
// [RawPublisher].
type TopicPublisher struct {
	raw  RawPublisher
	meta Meta
}

// NewTopicPublisher returns a [TopicPublisher] that stamps every payload
// with meta.
func NewTopicPublisher(raw RawPublisher, meta Meta) *TopicPublisher {
	return &TopicPublisher{raw: raw, meta: meta}
}

// Publish implements [Publisher].
func (p *TopicPublisher) Publish(ctx context.Context, e Event) error {
	topic, body, err := e.Payload(p.meta)
	if err != nil {
		return err
	}
	if err := p.raw.Publish(ctx, topic, body); err != nil {
		return fmt.Errorf("event: publish %s to %q: %w", e.Kind, topic, err)
	}
	return nil
}

// LogPublisher writes every event as a structured log record.
type LogPublisher struct {
	logger *slog.Logger
}

// NewLogPublisher returns a [LogPublisher]. A nil logger uses slog.Default.
func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogPublisher{logger: logger}
}

// Publish implements [Publisher]. It never fails.
func (p *LogPublisher) Publish(ctx context.Context, e Event) error {
	switch e.Kind {
	case KindSpeechStart:
		p.logger.InfoContext(ctx, "speech started",
			"frame", e.FrameIndex, "start_ms", e.StartMs, "confidence", e.Confidence)
	case KindSpeechEnd:
		p.logger.InfoContext(ctx, "speech ended",
			"frame", e.FrameIndex, "end_ms", e.EndMs, "truncated", e.Truncated)
	case KindSegment:
		p.logger.InfoContext(ctx, "speech segment",
			"start_ms", e.StartMs, "end_ms", e.EndMs,
			"duration", float64(e.EndMs-e.StartMs)/1000, "truncated", e.Truncated)
	case KindSummary:
		if s := e.Summary; s != nil {
			p.logger.InfoContext(ctx, "session summary",
				"session_id", s.SessionID,
				"total_frames", s.TotalFrames,
				"speech_frames", s.SpeechFrames,
				"speech_percent", fmt.Sprintf("%.1f", s.SpeechPercent),
				"segments", s.SegmentCount,
				"total_speech_ms", s.TotalSpeechMs,
				"avg_segment_ms", fmt.Sprintf("%.0f", s.AverageSegmentMs),
				"max_segment_ms", s.MaxSegmentMs,
				"dropped_segments", s.DroppedSegments,
				"bytes_received", s.BytesReceived,
				"end_reason", s.EndReason)
		}
	}
	return nil
}

// Multi fans an event out to several publishers. Every publisher is called
// even when an earlier one fails; the errors are joined.
type Multi []Publisher

// Publish implements [Publisher].
func (m Multi) Publish(ctx context.Context, e Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Guarded wraps a Publisher with a circuit breaker so that an unreachable
// sink is not retried on every frame. While the breaker is open Publish
// returns [resilience.ErrCircuitOpen] immediately.
type Guarded struct {
	next    Publisher
	breaker *resilience.CircuitBreaker
}

// NewGuarded wraps next with a breaker built from cfg.
func NewGuarded(next Publisher, cfg resilience.CircuitBreakerConfig) *Guarded {
	return &Guarded{next: next, breaker: resilience.NewCircuitBreaker(cfg)}
}

// Publish implements [Publisher].
func (g *Guarded) Publish(ctx context.Context, e Event) error {
	return g.breaker.Execute(func() error {
		return g.next.Publish(ctx, e)
	})
}

// State reports the breaker state, for health checks.
func (g *Guarded) State() resilience.State { return g.breaker.State() }

var (
	_ Publisher = (*TopicPublisher)(nil)
	_ Publisher = (*LogPublisher)(nil)
	_ Publisher = Multi(nil)
	_ Publisher = (*Guarded)(nil)
	_ Publisher = PublisherFunc(nil)
)
