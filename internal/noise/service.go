package noise

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/vadstream/internal/event"
	"github.com/MrWong99/vadstream/internal/observe"
)

// Topic suffixes below the room prefix.
const (
	FeaturesTopicSuffix = "/esp32/+/audio/features"
	ProfileTopicSuffix  = "/pi/aggregator/noise_profile"
)

// ErrMalformed wraps every feature message that cannot be decoded.
var ErrMalformed = errors.New("noise: malformed feature message")

// Subscriber registers a handler for a topic filter. *bus.Client satisfies
// it.
type Subscriber interface {
	Subscribe(ctx context.Context, filter string, h func(ctx context.Context, topic string, payload []byte)) error
}

// ProfileMessage is the JSON body published on the profile topic.
type ProfileMessage struct {
	Timestamp string  `json:"timestamp"`
	Profile   Profile `json:"profile"`
}

type featureMessage struct {
	Timestamp string   `json:"timestamp"`
	RMSdB     *float64 `json:"rms_db"`
}

// ParseFeatures decodes a feature message. A missing timestamp means now; a
// missing rms_db reads as 0 dB.
func ParseFeatures(payload []byte, now time.Time) (Sample, error) {
	var m featureMessage
	if err := json.Unmarshal(payload, &m); err != nil {
		return Sample{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	s := Sample{Time: now}
	if m.RMSdB != nil {
		s.RMSdB = *m.RMSdB
	}
	if m.Timestamp != "" {
		ts, err := ParseTime(m.Timestamp)
		if err != nil {
			return Sample{}, fmt.Errorf("%w: %w", ErrMalformed, err)
		}
		s.Time = ts
	}
	return s, nil
}

// ParseTime accepts RFC 3339 timestamps and zone-less ISO 8601 ones, which
// are taken as UTC.
func ParseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation("2006-01-02T15:04:05.999999999", s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("noise: parse timestamp %q: %w", s, err)
	}
	return t, nil
}

// Service subscribes to feature messages and publishes the updated profile
// after each accepted message.
type Service struct {
	window  *Window
	pub     event.RawPublisher
	prefix  string
	metrics *observe.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures a [Service].
type Option func(*Service)

// WithMetrics sets the metrics sink. Defaults to observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates an aggregator publishing under prefix, e.g.
// "classroom/room1".
func NewService(pub event.RawPublisher, prefix string, span time.Duration, opts ...Option) (*Service, error) {
	w, err := NewWindow(span)
	if err != nil {
		return nil, err
	}
	s := &Service{window: w, pub: pub, prefix: prefix, logger: slog.Default(), now: time.Now}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s, nil
}

// FeaturesTopic returns the subscription filter.
func (s *Service) FeaturesTopic() string { return s.prefix + FeaturesTopicSuffix }

// ProfileTopic returns the publish topic.
func (s *Service) ProfileTopic() string { return s.prefix + ProfileTopicSuffix }

// Window exposes the underlying window.
func (s *Service) Window() *Window { return s.window }

// HandleMessage processes one feature message. Malformed messages are logged
// and skipped.
func (s *Service) HandleMessage(ctx context.Context, topic string, payload []byte) {
	now := s.now()
	sample, err := ParseFeatures(payload, now)
	if err != nil {
		s.metrics.RecordAggregatorMessage(ctx, "malformed")
		s.logger.Warn("noise: skipping message", "topic", topic, "err", err)
		return
	}
	s.metrics.RecordAggregatorMessage(ctx, "ok")
	s.window.Add(sample, now)

	body, err := json.Marshal(ProfileMessage{
		Timestamp: event.Timestamp(now),
		Profile:   s.window.Profile(now),
	})
	if err != nil {
		s.logger.Error("noise: encode profile", "err", err)
		return
	}
	if err := s.pub.Publish(ctx, s.ProfileTopic(), body); err != nil {
		s.metrics.RecordPublishError(ctx, "noise_profile")
		s.logger.Warn("noise: publish profile failed", "topic", s.ProfileTopic(), "err", err)
		return
	}
	s.logger.Debug("noise: profile published", "topic", s.ProfileTopic(), "body", string(body))
}

// Run subscribes and blocks until ctx is done.
func (s *Service) Run(ctx context.Context, sub Subscriber) error {
	if err := sub.Subscribe(ctx, s.FeaturesTopic(), s.HandleMessage); err != nil {
		return fmt.Errorf("noise: %w", err)
	}
	s.logger.Info("noise aggregator running",
		"features_topic", s.FeaturesTopic(),
		"profile_topic", s.ProfileTopic(),
		"window", s.window.Span(),
	)
	<-ctx.Done()
	return nil
}
