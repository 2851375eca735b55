// Package decision maps noise profiles to speaker actuation commands.
package decision

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/MrWong99/vadstream/internal/event"
	"github.com/MrWong99/vadstream/internal/noise"
	"github.com/MrWong99/vadstream/internal/observe"
)

// ActuationTopicSuffix is appended to the room prefix for commands.
const ActuationTopicSuffix = "/pi/decision/actuation/speaker"

// ActionSetVolume is the only action currently issued.
const ActionSetVolume = "set_volume"

// Command is the JSON body published on the actuation topic.
type Command struct {
	Timestamp  string  `json:"timestamp"`
	Action     string  `json:"action"`
	Level      float64 `json:"level"`
	Confidence float64 `json:"confidence"`
}

// Scorer turns a mean noise level into a loudness score in [0, 1].
type Scorer func(meanRMSdB float64) float64

// Heuristic scores -60 dB as 0 and 0 dB as 1, linearly, clamped.
func Heuristic(meanRMSdB float64) float64 {
	return min(1, max(0, (meanRMSdB+60)/60))
}

// Decide maps a profile to a volume command: the louder the room, the lower
// the speaker level.
func Decide(p noise.Profile, score Scorer, now time.Time) Command {
	if score == nil {
		score = Heuristic
	}
	s := min(1, max(0, score(p.MeanRMSdB)))
	return Command{
		Timestamp:  event.Timestamp(now),
		Action:     ActionSetVolume,
		Level:      math.Round((1-s)*100) / 100,
		Confidence: 1.0,
	}
}

// Service subscribes to noise profiles and publishes commands.
type Service struct {
	pub     event.RawPublisher
	prefix  string
	score   Scorer
	metrics *observe.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures a [Service].
type Option func(*Service)

// WithScorer replaces [Heuristic].
func WithScorer(s Scorer) Option { return func(svc *Service) { svc.score = s } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(svc *Service) { svc.logger = l } }

// WithMetrics sets the metrics sink.
func WithMetrics(m *observe.Metrics) Option { return func(svc *Service) { svc.metrics = m } }

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(svc *Service) { svc.now = now } }

// NewService creates a decision service for the room prefix.
func NewService(pub event.RawPublisher, prefix string, opts ...Option) *Service {
	svc := &Service{pub: pub, prefix: prefix, score: Heuristic, logger: slog.Default(), now: time.Now}
	for _, o := range opts {
		o(svc)
	}
	if svc.metrics == nil {
		svc.metrics = observe.DefaultMetrics()
	}
	return svc
}

// ProfileTopic returns the subscription topic.
func (s *Service) ProfileTopic() string { return s.prefix + noise.ProfileTopicSuffix }

// ActuationTopic returns the publish topic.
func (s *Service) ActuationTopic() string { return s.prefix + ActuationTopicSuffix }

// HandleMessage decodes a profile message and publishes the resulting
// command. Undecodable messages are logged and skipped.
func (s *Service) HandleMessage(ctx context.Context, topic string, payload []byte) {
	var msg noise.ProfileMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		s.logger.Warn("decision: skipping profile", "topic", topic, "err", err)
		return
	}
	cmd := Decide(msg.Profile, s.score, s.now())
	body, err := json.Marshal(cmd)
	if err != nil {
		s.logger.Error("decision: encode command", "err", err)
		return
	}
	if err := s.pub.Publish(ctx, s.ActuationTopic(), body); err != nil {
		s.metrics.RecordPublishError(ctx, "actuation")
		s.logger.Warn("decision: publish failed", "topic", s.ActuationTopic(), "err", err)
		return
	}
	s.logger.Info("decision: actuation published",
		"level", cmd.Level,
		"mean_rms_db", msg.Profile.MeanRMSdB,
		"count", msg.Profile.Count,
	)
}

// Run subscribes and blocks until ctx is done.
func (s *Service) Run(ctx context.Context, sub noise.Subscriber) error {
	if err := sub.Subscribe(ctx, s.ProfileTopic(), s.HandleMessage); err != nil {
		return fmt.Errorf("decision: %w", err)
	}
	s.logger.Info("decision service running", "profile_topic", s.ProfileTopic(), "actuation_topic", s.ActuationTopic())
	<-ctx.Done()
	return nil
}
