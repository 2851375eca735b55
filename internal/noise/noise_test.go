package noise_test

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/vadstream/internal/event/mock"
	"github.com/MrWong99/vadstream/internal/noise"
	"github.com/MrWong99/vadstream/internal/observe"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func TestWindow_ExcludesSamplesOlderThanSpan(t *testing.T) {
	t.Parallel()
	w, err := noise.NewWindow(60 * time.Second)
	if err != nil {
		t.Fatal(err)
	}
	w.Add(noise.Sample{Time: t0, RMSdB: -30}, t0)
	w.Add(noise.Sample{Time: t0.Add(30 * time.Second), RMSdB: -50}, t0.Add(30*time.Second))

	p := w.Profile(t0.Add(61 * time.Second))
	if p.Count != 1 {
		t.Fatalf("Count = %d, want 1 (t=0 sample must be expired at t=61s)", p.Count)
	}
	if p.MeanRMSdB != -50 || p.MaxRMSdB != -50 || p.MinRMSdB != -50 {
		t.Errorf("profile = %+v, want only the -50 dB sample", p)
	}
}

func TestWindow_KeepsSampleAtExactCutoff(t *testing.T) {
	t.Parallel()
	w, _ := noise.NewWindow(60 * time.Second)
	w.Add(noise.Sample{Time: t0, RMSdB: -40}, t0)
	if p := w.Profile(t0.Add(60 * time.Second)); p.Count != 1 {
		t.Errorf("Count = %d, want 1 at exactly the window edge", p.Count)
	}
}

func TestWindow_Stats(t *testing.T) {
	t.Parallel()
	w, _ := noise.NewWindow(time.Minute)
	for i, db := range []float64{-60, -40, -20} {
		w.Add(noise.Sample{Time: t0.Add(time.Duration(i) * time.Second), RMSdB: db}, t0.Add(time.Duration(i)*time.Second))
	}
	p := w.Profile(t0.Add(3 * time.Second))
	if p.Count != 3 || p.MeanRMSdB != -40 || p.MaxRMSdB != -20 || p.MinRMSdB != -60 {
		t.Errorf("profile = %+v", p)
	}
}

func TestWindow_EmptyProfile(t *testing.T) {
	t.Parallel()
	w, _ := noise.NewWindow(time.Minute)
	b, err := json.Marshal(w.Profile(t0))
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != `{"count":0}` {
		t.Errorf("empty profile JSON = %s, want {\"count\":0}", b)
	}
}

func TestNewWindow_RejectsNonPositiveSpan(t *testing.T) {
	t.Parallel()
	if _, err := noise.NewWindow(0); err == nil {
		t.Error("expected error for zero span")
	}
}

func TestParseFeatures(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		payload string
		want    noise.Sample
		wantErr bool
	}{
		{name: "rfc3339", payload: `{"timestamp":"2026-03-01T08:59:30Z","rms_db":-42.5}`, want: noise.Sample{Time: t0.Add(-30 * time.Second), RMSdB: -42.5}},
		{name: "naive iso", payload: `{"timestamp":"2026-03-01T08:59:30.250000","rms_db":-10}`, want: noise.Sample{Time: t0.Add(-29750 * time.Millisecond), RMSdB: -10}},
		{name: "missing timestamp uses now", payload: `{"rms_db":-35}`, want: noise.Sample{Time: t0, RMSdB: -35}},
		{name: "missing rms is zero", payload: `{}`, want: noise.Sample{Time: t0}},
		{name: "bad json", payload: `{"rms_db":`, wantErr: true},
		{name: "bad type", payload: `{"rms_db":"loud"}`, wantErr: true},
		{name: "bad timestamp", payload: `{"timestamp":"yesterday"}`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := noise.ParseFeatures([]byte(tt.payload), t0)
			if tt.wantErr {
				if !errors.Is(err, noise.ErrMalformed) {
					t.Fatalf("err = %v, want ErrMalformed", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseFeatures: %v", err)
			}
			if !got.Time.Equal(tt.want.Time) || got.RMSdB != tt.want.RMSdB {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func newMetrics(t *testing.T) (*observe.Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func counterByStatus(t *testing.T, reader *sdkmetric.ManualReader, name string) map[string]int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	out := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("%s: unexpected data type %T", name, m.Data)
			}
			for _, dp := range sum.DataPoints {
				v, _ := dp.Attributes.Value("status")
				out[v.AsString()] += dp.Value
			}
		}
	}
	return out
}

func TestService_PublishesProfileAndSkipsMalformed(t *testing.T) {
	t.Parallel()
	pub := &mock.RawPublisher{}
	met, reader := newMetrics(t)
	now := t0
	svc, err := noise.NewService(pub, "classroom/room1", time.Minute,
		noise.WithMetrics(met),
		noise.WithClock(func() time.Time { return now }),
	)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	topic := "classroom/room1/esp32/node1/audio/features"

	svc.HandleMessage(ctx, topic, []byte(`{"rms_db":-30}`))
	svc.HandleMessage(ctx, topic, []byte(`not json`))
	now = t0.Add(10 * time.Second)
	svc.HandleMessage(ctx, topic, []byte(`{"rms_db":-50}`))

	msgs := pub.Snapshot()
	if len(msgs) != 2 {
		t.Fatalf("published %d profiles, want 2", len(msgs))
	}
	if msgs[1].Topic != "classroom/room1/pi/aggregator/noise_profile" {
		t.Errorf("topic = %q", msgs[1].Topic)
	}
	var got noise.ProfileMessage
	if err := json.Unmarshal(msgs[1].Payload, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Profile.Count != 2 || math.Abs(got.Profile.MeanRMSdB+40) > 1e-9 {
		t.Errorf("profile = %+v, want count 2 mean -40", got.Profile)
	}
	if got.Timestamp != "2026-03-01T09:00:10.000000Z" {
		t.Errorf("timestamp = %q", got.Timestamp)
	}

	counts := counterByStatus(t, reader, "vadstream.aggregator.messages")
	if counts["ok"] != 2 || counts["malformed"] != 1 {
		t.Errorf("aggregator message counts = %v, want ok=2 malformed=1", counts)
	}
}

func TestService_PublishErrorDoesNotLoseSample(t *testing.T) {
	t.Parallel()
	pub := &mock.RawPublisher{Err: errors.New("broker down")}
	met, _ := newMetrics(t)
	svc, _ := noise.NewService(pub, "classroom/r", time.Minute, noise.WithMetrics(met), noise.WithClock(func() time.Time { return t0 }))
	svc.HandleMessage(context.Background(), "x", []byte(`{"rms_db":-20}`))
	if svc.Window().Len() != 1 {
		t.Errorf("window len = %d, want 1", svc.Window().Len())
	}
}

type fakeSubscriber struct {
	mu     sync.Mutex
	filter string
}

func (f *fakeSubscriber) Subscribe(_ context.Context, filter string, _ func(context.Context, string, []byte)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.filter = filter
	return nil
}

func (f *fakeSubscriber) filterSet() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.filter
}

func TestService_RunSubscribesFeatureFilter(t *testing.T) {
	t.Parallel()
	pub := &mock.RawPublisher{}
	met, _ := newMetrics(t)
	svc, _ := noise.NewService(pub, "classroom/room1", time.Minute, noise.WithMetrics(met))
	sub := &fakeSubscriber{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx, sub) }()

	deadline := time.After(2 * time.Second)
	for sub.filterSet() == "" {
		select {
		case <-deadline:
			t.Fatal("Run did not subscribe")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
	if f := sub.filterSet(); f != "classroom/room1/esp32/+/audio/features" {
		t.Errorf("filter = %q", f)
	}
}
