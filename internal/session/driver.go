// Package session drives one VAD stream from raw chunks to published events.
//
// A [Driver] runs a single session at a time: it builds a fresh
// [segment.Tracker], resets the classifier, and pulls frames through the
// assembler until the source ends, the context is cancelled or the transport
// fails. Every exit path flushes the tracker and publishes a summary.
//
// A [Supervisor] opens a new source per cycle and restarts sessions with
// exponential backoff for continuous monitoring.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/vadstream/internal/event"
	"github.com/MrWong99/vadstream/internal/observe"
	"github.com/MrWong99/vadstream/internal/pipeline"
	"github.com/MrWong99/vadstream/internal/segment"
	"github.com/MrWong99/vadstream/pkg/audio"
)

// Summary aggregates one session's statistics.
type Summary = event.Summary

// End reasons reported in [Summary.EndReason].
const (
	EndEOF             = "eof"
	EndCancelled       = "cancelled"
	EndTransportError  = "transport_error"
	EndClassifierError = "classifier_error"
	EndInvariant       = "invariant"
)

// Default driver parameters.
const (
	defaultProgressEvery   = 100
	defaultFinalizeTimeout = 5 * time.Second
)

// Config configures a [Driver].
type Config struct {
	// SampleRate selects the frame size: 16000 (512 samples) or 8000 (256).
	SampleRate int

	// MinSilenceMs and MinSpeechMs are the tracker policy. They can be
	// changed between sessions with [Driver.SetPolicy].
	MinSilenceMs int
	MinSpeechMs  int

	// ProgressEvery logs a progress line every n frames. Defaults to 100.
	ProgressEvery int

	// FinalizeTimeout bounds publishing the closing events and summary once
	// the session context is already cancelled. Defaults to 5s.
	FinalizeTimeout time.Duration
}

// Option configures optional [Driver] dependencies.
type Option func(*Driver)

// WithMetrics records session metrics into m.
func WithMetrics(m *observe.Metrics) Option {
	return func(d *Driver) { d.metrics = m }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(d *Driver) { d.now = now }
}

// WithSessionIDs replaces the session ID generator, for tests.
func WithSessionIDs(next func() string) Option {
	return func(d *Driver) { d.newID = next }
}

// Driver runs VAD sessions. Run must not be called concurrently; create one
// Driver (and one classifier) per concurrent stream.
type Driver struct {
	classifier   *pipeline.Classifier
	publisher    event.Publisher
	frameSamples int
	frameMs      int64
	cfg          Config

	metrics *observe.Metrics
	now     func() time.Time
	newID   func() string

	mu     sync.Mutex
	policy segment.Config
}

// NewDriver validates cfg and returns a Driver. The classifier must have been
// created for the same frame size as cfg.SampleRate implies.
func NewDriver(classifier *pipeline.Classifier, pub event.Publisher, cfg Config, opts ...Option) (*Driver, error) {
	frameSamples, err := audio.FrameSamplesFor(cfg.SampleRate)
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	if classifier.FrameSamples() != frameSamples {
		return nil, fmt.Errorf("session: classifier expects %d samples, %d Hz needs %d",
			classifier.FrameSamples(), cfg.SampleRate, frameSamples)
	}
	frameDur, err := audio.FrameDuration(cfg.SampleRate)
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	if cfg.ProgressEvery <= 0 {
		cfg.ProgressEvery = defaultProgressEvery
	}
	if cfg.FinalizeTimeout <= 0 {
		cfg.FinalizeTimeout = defaultFinalizeTimeout
	}

	d := &Driver{
		classifier:   classifier,
		publisher:    pub,
		frameSamples: frameSamples,
		frameMs:      frameDur.Milliseconds(),
		cfg:          cfg,
		metrics:      observe.DefaultMetrics(),
		now:          time.Now,
		newID:        uuid.NewString,
	}
	d.policy = segment.Config{FrameMs: d.frameMs, MinSilenceMs: cfg.MinSilenceMs, MinSpeechMs: cfg.MinSpeechMs}
	if _, err := segment.New(d.policy); err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	for _, o := range opts {
		o(d)
	}
	return d, nil
}

// SetPolicy updates the tracker policy. It takes effect at the start of the
// next session; a running session keeps the policy it started with.
func (d *Driver) SetPolicy(minSilenceMs, minSpeechMs int) error {
	p := segment.Config{FrameMs: d.frameMs, MinSilenceMs: minSilenceMs, MinSpeechMs: minSpeechMs}
	if _, err := segment.New(p); err != nil {
		return fmt.Errorf("session: %w", err)
	}
	d.mu.Lock()
	d.policy = p
	d.mu.Unlock()
	return nil
}

func (d *Driver) currentPolicy() segment.Config {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.policy
}

// Run processes src until it ends and returns the session summary. On a
// transport, classifier or invariant error the summary reflects the frames
// processed so far and the error is returned alongside it. Cancelling ctx
// ends the session cleanly with EndReason "cancelled" and a nil error; the
// caller is expected to close the transport to unblock a pending read.
func (d *Driver) Run(ctx context.Context, src audio.ChunkSource) (Summary, error) {
	id := d.newID()
	ctx = event.ContextWithSession(ctx, id)
	ctx, span := observe.StartSpan(ctx, "vad.session")
	defer span.End()

	log := observe.Logger(ctx).With("session_id", id)
	policy := d.currentPolicy()
	tracker, err := segment.New(policy)
	if err != nil {
		return Summary{SessionID: id, EndReason: EndInvariant}, fmt.Errorf("session: %w", err)
	}

	d.classifier.Reset()
	asm := audio.NewAssembler(src, d.frameSamples)
	start := d.now()
	d.metrics.ActiveSessions.Add(ctx, 1)
	defer d.metrics.ActiveSessions.Add(context.WithoutCancel(ctx), -1)

	log.Info("session started",
		"sample_rate", d.cfg.SampleRate,
		"frame_samples", d.frameSamples,
		"min_silence_ms", policy.MinSilenceMs,
		"silence_threshold_frames", tracker.Threshold(),
		"min_speech_ms", policy.MinSpeechMs,
	)

	var (
		runErr        error
		reason        = EndEOF
		publishErrors int
	)
	publish := func(ctx context.Context, events []event.Event) {
		for _, e := range events {
			publishErrors += d.publish(ctx, log, e)
		}
	}

loop:
	for {
		if ctx.Err() != nil {
			reason = EndCancelled
			break
		}
		f, err := asm.Next()
		switch {
		case errors.Is(err, io.EOF):
			break loop
		case err != nil:
			if ctx.Err() != nil {
				reason = EndCancelled
			} else {
				reason = EndTransportError
				runErr = fmt.Errorf("session: read audio: %w", err)
			}
			break loop
		}

		t0 := time.Now()
		r, err := d.classifier.Classify(f)
		if err != nil {
			reason = EndClassifierError
			runErr = err
			break
		}
		d.metrics.RecordFrame(ctx, r.IsSpeech, time.Since(t0).Seconds())

		events, err := tracker.Step(f.Index, r)
		publish(ctx, events)
		if err != nil {
			reason = EndInvariant
			runErr = err
			break
		}

		if n := tracker.Stats().FramesProcessed; n%d.cfg.ProgressEvery == 0 {
			st := tracker.Stats()
			log.Info("progress",
				"frames", n,
				"speech_percent", fmt.Sprintf("%.1f", percent(st.SpeechFrames, n)),
				"state", tracker.State().String())
		}
	}

	// Finalisation runs even when ctx is already cancelled.
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.cfg.FinalizeTimeout)
	defer cancel()

	if reason != EndInvariant {
		events, err := tracker.Flush(tracker.Stats().FramesProcessed)
		publish(fctx, events)
		if err != nil {
			reason = EndInvariant
			runErr = errors.Join(runErr, err)
		}
	}

	asmStats := asm.Stats()
	if asmStats.BytesReceived == 0 {
		log.Warn("session received no audio", "chunks", asmStats.Chunks)
	}
	d.metrics.BytesReceived.Add(fctx, asmStats.BytesReceived)
	d.metrics.DiscardedBytes.Add(fctx, asmStats.DiscardedBytes)

	sum := summarize(tracker, asmStats)
	sum.SessionID = id
	sum.Duration = d.now().Sub(start)
	sum.EndReason = reason
	sum.PublishErrors = publishErrors
	if e := d.publisher.Publish(fctx, event.Event{Kind: event.KindSummary, Time: d.now(), Summary: &sum}); e != nil {
		log.Warn("failed to publish session summary", "error", e)
		d.metrics.RecordPublishError(fctx, event.KindSummary.String())
	}
	d.metrics.RecordSessionEnd(fctx, reason, sum.Duration.Seconds())

	attrs := []any{
		"reason", reason,
		"frames", sum.TotalFrames,
		"speech_frames", sum.SpeechFrames,
		"segments", sum.SegmentCount,
		"bytes_received", sum.BytesReceived,
		"duration", sum.Duration,
	}
	if runErr != nil {
		log.Error("session ended with error", append(attrs, "error", runErr)...)
	} else {
		log.Info("session ended", attrs...)
	}
	return sum, runErr
}

// publish stamps and sends e, returning 1 on failure. A failed publish never
// alters tracker state.
func (d *Driver) publish(ctx context.Context, log *slog.Logger, e event.Event) int {
	e.Time = d.now()
	switch e.Kind {
	case event.KindSpeechStart, event.KindSpeechEnd:
		d.metrics.RecordTransition(ctx, e.Kind.String())
	case event.KindSegment:
		d.metrics.RecordSegment(ctx, e.EndMs-e.StartMs, e.Truncated)
	}
	if err := d.publisher.Publish(ctx, e); err != nil {
		log.Warn("failed to publish event", "kind", e.Kind.String(), "frame", e.FrameIndex, "error", err)
		d.metrics.RecordPublishError(ctx, e.Kind.String())
		return 1
	}
	return 0
}

func summarize(tr *segment.Tracker, asm audio.AssemblerStats) Summary {
	st := tr.Stats()
	sum := Summary{
		TotalFrames:     st.FramesProcessed,
		SpeechFrames:    st.SpeechFrames,
		SpeechPercent:   percent(st.SpeechFrames, st.FramesProcessed),
		SegmentCount:    st.Segments,
		DroppedSegments: st.DroppedSegments,
		BytesReceived:   asm.BytesReceived,
		DiscardedBytes:  asm.DiscardedBytes,
		PaddedSamples:   asm.PaddedSamples,
	}
	for _, s := range tr.Segments() {
		sum.TotalSpeechMs += s.DurationMs
		sum.MaxSegmentMs = max(sum.MaxSegmentMs, s.DurationMs)
	}
	if sum.SegmentCount > 0 {
		sum.AverageSegmentMs = float64(sum.TotalSpeechMs) / float64(sum.SegmentCount)
	}
	return sum
}

func percent(part, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(part) / float64(total) * 100
}
