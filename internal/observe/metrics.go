// Package observe wires OpenTelemetry into vadstream: the metric instruments
// every service records into, a tracer for per-session spans, a trace-aware
// slog helper and HTTP middleware for the health and metrics endpoints.
//
// [InitProvider] installs a Prometheus-backed meter provider globally.
// Components fall back to [DefaultMetrics] when none is injected; tests build
// their own with [NewMetrics] and a ManualReader.
package observe

import (
	"context"
	"strconv"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all vadstream metrics.
const meterName = "github.com/MrWong99/vadstream"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Latency histograms ---

	// ClassifyDuration tracks per-frame classifier latency. A frame is 32 ms
	// of audio, so anything near that bound means the session falls behind.
	ClassifyDuration metric.Float64Histogram

	// SessionDuration tracks wall-clock session length.
	SessionDuration metric.Float64Histogram

	// SegmentDuration tracks closed speech segment length.
	SegmentDuration metric.Float64Histogram

	// --- Counters ---

	// Frames counts classified frames. Use with attribute:
	//   attribute.Bool("speech", ...)
	Frames metric.Int64Counter

	// Transitions counts speech_start / speech_end events. Use with attribute:
	//   attribute.String("event", ...)
	Transitions metric.Int64Counter

	// DroppedSegments counts speech runs shorter than min_speech_ms.
	DroppedSegments metric.Int64Counter

	// BytesReceived counts raw PCM bytes read from sources.
	BytesReceived metric.Int64Counter

	// DiscardedBytes counts bytes that could not form a sample or were lost
	// with a failed transport.
	DiscardedBytes metric.Int64Counter

	// SessionsEnded counts finished sessions. Use with attribute:
	//   attribute.String("reason", ...)
	SessionsEnded metric.Int64Counter

	// AggregatorMessages counts feature messages seen by the noise
	// aggregator. Use with attribute:
	//   attribute.String("status", "ok"|"malformed")
	AggregatorMessages metric.Int64Counter

	// --- Error counters ---

	// PublishErrors counts failed event publications. Use with attribute:
	//   attribute.String("kind", ...)
	PublishErrors metric.Int64Counter

	// BreakerTransitions counts circuit breaker state changes. Use with
	// attributes:
	//   attribute.String("breaker", ...), attribute.String("to", ...)
	BreakerTransitions metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of running VAD sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// classifyBuckets defines histogram bucket boundaries (in seconds) around the
// 32 ms frame budget.
var classifyBuckets = []float64{
	0.0005, 0.001, 0.0025, 0.005, 0.01, 0.016, 0.032, 0.064,
}

// lengthBuckets defines histogram bucket boundaries (in seconds) for segment
// and session lengths.
var lengthBuckets = []float64{
	0.25, 0.5, 1, 2, 5, 10, 30, 60, 300, 1800,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.ClassifyDuration, err = m.Float64Histogram("vadstream.classify.duration",
		metric.WithDescription("Latency of per-frame speech classification."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(classifyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SessionDuration, err = m.Float64Histogram("vadstream.session.duration",
		metric.WithDescription("Wall-clock length of VAD sessions."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(lengthBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SegmentDuration, err = m.Float64Histogram("vadstream.segment.duration",
		metric.WithDescription("Length of closed speech segments."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(lengthBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Frames, err = m.Int64Counter("vadstream.frames",
		metric.WithDescription("Total classified frames by speech decision."),
	); err != nil {
		return nil, err
	}
	if met.Transitions, err = m.Int64Counter("vadstream.transitions",
		metric.WithDescription("Total speech_start and speech_end transitions."),
	); err != nil {
		return nil, err
	}
	if met.DroppedSegments, err = m.Int64Counter("vadstream.segments.dropped",
		metric.WithDescription("Speech runs shorter than the minimum speech duration."),
	); err != nil {
		return nil, err
	}
	if met.BytesReceived, err = m.Int64Counter("vadstream.bytes.received",
		metric.WithDescription("Raw PCM bytes read from audio sources."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if met.DiscardedBytes, err = m.Int64Counter("vadstream.bytes.discarded",
		metric.WithDescription("Bytes dropped without forming a frame."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if met.SessionsEnded, err = m.Int64Counter("vadstream.sessions.ended",
		metric.WithDescription("Finished VAD sessions by end reason."),
	); err != nil {
		return nil, err
	}
	if met.AggregatorMessages, err = m.Int64Counter("vadstream.aggregator.messages",
		metric.WithDescription("Feature messages seen by the noise aggregator by status."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.PublishErrors, err = m.Int64Counter("vadstream.publish.errors",
		metric.WithDescription("Failed event publications by event kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("vadstream.active_sessions",
		metric.WithDescription("Number of running VAD sessions."),
	); err != nil {
		return nil, err
	}

	if met.BreakerTransitions, err = m.Int64Counter("vadstream.breaker.transitions",
		metric.WithDescription("Circuit breaker state changes by breaker and target state."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("vadstream.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns metrics bound to the global meter provider at the
// time of the first call.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// RecordFrame records one classified frame and its classifier latency.
func (m *Metrics) RecordFrame(ctx context.Context, speech bool, seconds float64) {
	m.Frames.Add(ctx, 1, metric.WithAttributes(attribute.Bool("speech", speech)))
	m.ClassifyDuration.Record(ctx, seconds)
}

// RecordTransition records a speech_start or speech_end event.
func (m *Metrics) RecordTransition(ctx context.Context, event string) {
	m.Transitions.Add(ctx, 1, metric.WithAttributes(attribute.String("event", event)))
}

// RecordSegment records a closed speech segment.
func (m *Metrics) RecordSegment(ctx context.Context, durationMs int64, truncated bool) {
	m.SegmentDuration.Record(ctx, float64(durationMs)/1000,
		metric.WithAttributes(attribute.String("truncated", strconv.FormatBool(truncated))),
	)
}

// RecordPublishError records a failed publication of an event of the given
// kind.
func (m *Metrics) RecordPublishError(ctx context.Context, kind string) {
	m.PublishErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordSessionEnd records a finished session.
func (m *Metrics) RecordSessionEnd(ctx context.Context, reason string, seconds float64) {
	m.SessionsEnded.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
	m.SessionDuration.Record(ctx, seconds, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordAggregatorMessage records a feature message with status "ok" or
// "malformed".
func (m *Metrics) RecordAggregatorMessage(ctx context.Context, status string) {
	m.AggregatorMessages.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordBreakerTransition records a circuit breaker moving to state to.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, breaker, to string) {
	m.BreakerTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("breaker", breaker),
		attribute.String("to", to),
	))
}
