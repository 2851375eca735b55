package noise

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/MrWong99/vadstream/internal/event"
)

// FeatureMessage is the body a capture node publishes on its features topic.
type FeatureMessage struct {
	Timestamp      string  `json:"timestamp"`
	DeviceID       string  `json:"device_id"`
	SampleWindowMs int     `json:"sample_window_ms"`
	RMSdB          float64 `json:"rms_db"`
	PeakdB         float64 `json:"peak_db"`
}

// MotionMessage is the body a capture node publishes on its PIR topic.
type MotionMessage struct {
	Timestamp string `json:"timestamp"`
	DeviceID  string `json:"device_id"`
	Motion    bool   `json:"motion"`
}

// FeaturesTopic returns the features topic of node under prefix.
func FeaturesTopic(prefix, node string) string {
	return prefix + "/esp32/" + node + "/audio/features"
}

// MotionTopic returns the PIR topic of node under prefix.
func MotionTopic(prefix, node string) string {
	return prefix + "/esp32/" + node + "/pir"
}

// Simulated level ranges in dBFS.
const (
	simMinRMSdB   = -60
	simMaxRMSdB   = -20
	simMaxCrestdB = 3
	simWindowMs   = 100
)

// Simulator stands in for a capture node: it publishes plausible feature and
// motion messages so the aggregator can be exercised without hardware.
type Simulator struct {
	pub    event.RawPublisher
	prefix string
	node   string
	rng    *rand.Rand
	now    func() time.Time
	logger *slog.Logger
}

// NewSimulator returns a simulator for node under prefix. The same seed
// yields the same level sequence.
func NewSimulator(pub event.RawPublisher, prefix, node string, seed uint64, logger *slog.Logger) *Simulator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Simulator{
		pub:    pub,
		prefix: prefix,
		node:   node,
		rng:    rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		now:    time.Now,
		logger: logger,
	}
}

// PublishOnce sends one feature message and one motion message.
func (s *Simulator) PublishOnce(ctx context.Context) error {
	ts := event.Timestamp(s.now())
	rms := simMinRMSdB + s.rng.Float64()*(simMaxRMSdB-simMinRMSdB)
	features := FeatureMessage{
		Timestamp:      ts,
		DeviceID:       s.node,
		SampleWindowMs: simWindowMs,
		RMSdB:          rms,
		PeakdB:         rms + s.rng.Float64()*simMaxCrestdB,
	}
	motion := MotionMessage{Timestamp: ts, DeviceID: s.node, Motion: s.rng.IntN(2) == 1}

	if err := s.publish(ctx, FeaturesTopic(s.prefix, s.node), features); err != nil {
		return err
	}
	if err := s.publish(ctx, MotionTopic(s.prefix, s.node), motion); err != nil {
		return err
	}
	s.logger.Debug("noise: simulated sample", "node", s.node, "rms_db", features.RMSdB, "motion", motion.Motion)
	return nil
}

// Run publishes every interval until ctx is done or count messages were sent.
// A count of 0 means no limit.
func (s *Simulator) Run(ctx context.Context, interval time.Duration, count int) error {
	if interval <= 0 {
		return fmt.Errorf("noise: simulator interval %v must be positive", interval)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for sent := 0; count == 0 || sent < count; sent++ {
		if sent > 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
			}
		}
		if err := s.PublishOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
	return nil
}

func (s *Simulator) publish(ctx context.Context, topic string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("noise: encode %s: %w", topic, err)
	}
	if err := s.pub.Publish(ctx, topic, body); err != nil {
		return fmt.Errorf("noise: publish %s: %w", topic, err)
	}
	return nil
}
