package observe

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// sumFor returns the data point of counter name that carries kv.
func sumFor(t *testing.T, rm metricdata.ResourceMetrics, name string, kv attribute.KeyValue) int64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is %T, want Sum[int64]", name, met.Data)
	}
	for _, dp := range sum.DataPoints {
		if v, ok := dp.Attributes.Value(kv.Key); ok && v == kv.Value {
			return dp.Value
		}
	}
	t.Fatalf("metric %q: no data point with %s=%s", name, kv.Key, kv.Value.Emit())
	return 0
}

// histCount returns the total observation count of histogram name.
func histCount(t *testing.T, rm metricdata.ResourceMetrics, name string) uint64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("metric %q is %T, want Histogram[float64]", name, met.Data)
	}
	var n uint64
	for _, dp := range hist.DataPoints {
		n += dp.Count
	}
	return n
}

func TestCounters(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		record func(context.Context, *Metrics)
		metric string
		attr   attribute.KeyValue
		want   int64
	}{
		{
			name: "speech frames",
			record: func(ctx context.Context, m *Metrics) {
				m.RecordFrame(ctx, true, 0.002)
				m.RecordFrame(ctx, false, 0.001)
				m.RecordFrame(ctx, true, 0.003)
			},
			metric: "vadstream.frames",
			attr:   attribute.Bool("speech", true),
			want:   2,
		},
		{
			name: "transitions",
			record: func(ctx context.Context, m *Metrics) {
				m.RecordTransition(ctx, "speech_start")
				m.RecordTransition(ctx, "speech_end")
				m.RecordTransition(ctx, "speech_start")
			},
			metric: "vadstream.transitions",
			attr:   attribute.String("event", "speech_start"),
			want:   2,
		},
		{
			name:   "publish errors",
			record: func(ctx context.Context, m *Metrics) { m.RecordPublishError(ctx, "segment") },
			metric: "vadstream.publish.errors",
			attr:   attribute.String("kind", "segment"),
			want:   1,
		},
		{
			name: "sessions by reason",
			record: func(ctx context.Context, m *Metrics) {
				m.RecordSessionEnd(ctx, "eof", 12)
				m.RecordSessionEnd(ctx, "transport_error", 3)
				m.RecordSessionEnd(ctx, "eof", 4)
			},
			metric: "vadstream.sessions.ended",
			attr:   attribute.String("reason", "eof"),
			want:   2,
		},
		{
			name: "malformed aggregator input",
			record: func(ctx context.Context, m *Metrics) {
				m.RecordAggregatorMessage(ctx, "ok")
				m.RecordAggregatorMessage(ctx, "malformed")
				m.RecordAggregatorMessage(ctx, "ok")
			},
			metric: "vadstream.aggregator.messages",
			attr:   attribute.String("status", "malformed"),
			want:   1,
		},
		{
			name: "breaker opened",
			record: func(ctx context.Context, m *Metrics) {
				m.RecordBreakerTransition(ctx, "mqtt_publisher", "open")
				m.RecordBreakerTransition(ctx, "mqtt_publisher", "half-open")
				m.RecordBreakerTransition(ctx, "mqtt_publisher", "open")
			},
			metric: "vadstream.breaker.transitions",
			attr:   attribute.String("to", "open"),
			want:   2,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			m, reader := newTestMetrics(t)
			tt.record(context.Background(), m)
			if got := sumFor(t, collect(t, reader), tt.metric, tt.attr); got != tt.want {
				t.Errorf("%s{%s=%s} = %d, want %d", tt.metric, tt.attr.Key, tt.attr.Value.Emit(), got, tt.want)
			}
		})
	}
}

func TestDurations(t *testing.T) {
	t.Parallel()
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordFrame(ctx, false, 0.0004)
	m.RecordFrame(ctx, true, 0.004)
	m.RecordSegment(ctx, 1200, false)
	m.RecordSegment(ctx, 640, true)
	m.RecordSessionEnd(ctx, "eof", 30)

	rm := collect(t, reader)
	for name, want := range map[string]uint64{
		"vadstream.classify.duration": 2,
		"vadstream.segment.duration":  2,
		"vadstream.session.duration":  1,
	} {
		if got := histCount(t, rm, name); got != want {
			t.Errorf("%s count = %d, want %d", name, got, want)
		}
	}
}

func TestActiveSessions(t *testing.T) {
	t.Parallel()
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.ActiveSessions.Add(ctx, 1)
	m.ActiveSessions.Add(ctx, 1)
	m.ActiveSessions.Add(ctx, -1)

	met := findMetric(collect(t, reader), "vadstream.active_sessions")
	if met == nil {
		t.Fatal("vadstream.active_sessions not found")
	}
	sum := met.Data.(metricdata.Sum[int64])
	if sum.IsMonotonic {
		t.Error("active sessions must be an up/down counter")
	}
	if got := sum.DataPoints[0].Value; got != 1 {
		t.Errorf("active sessions = %d, want 1", got)
	}
}

func TestDefaultMetrics_Memoised(t *testing.T) {
	if DefaultMetrics() != DefaultMetrics() {
		t.Error("DefaultMetrics built a second instance")
	}
}
