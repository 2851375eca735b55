package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/vadstream/internal/pipeline"
	"github.com/MrWong99/vadstream/internal/segment"
	"github.com/MrWong99/vadstream/pkg/audio"
)

// Default restart parameters.
const (
	defaultBackoff    = 1 * time.Second
	defaultMaxBackoff = 30 * time.Second
)

// Source is an audio stream for one session. Close must unblock a pending
// NextChunk.
type Source interface {
	audio.ChunkSource
	Close() error
}

// Opener opens the source for the next session, e.g. by sending the serial
// trigger and waiting for a WAV header, or by accepting a TCP client.
type Opener interface {
	Open(ctx context.Context) (Source, error)
}

// OpenerFunc adapts a function to [Opener].
type OpenerFunc func(ctx context.Context) (Source, error)

// Open calls f.
func (f OpenerFunc) Open(ctx context.Context) (Source, error) { return f(ctx) }

// SupervisorConfig configures a [Supervisor].
type SupervisorConfig struct {
	// Opener provides a fresh source per session.
	Opener Opener

	// Driver runs each session.
	Driver *Driver

	// Continuous starts another session after a clean end of stream. When
	// false the supervisor returns after the first clean session.
	Continuous bool

	// MaxRetries is the number of consecutive failed sessions (open or
	// transport errors) tolerated before Run gives up. Zero retries forever.
	MaxRetries int

	// Backoff is the initial wait after a failure. Doubles each consecutive
	// failure up to MaxBackoff. Defaults to 1s if zero.
	Backoff time.Duration

	// MaxBackoff is the upper limit on backoff duration. Defaults to 30s if zero.
	MaxBackoff time.Duration

	// OnSummary is called after every session with its summary. May be nil.
	OnSummary func(Summary)
}

// Supervisor runs sessions back to back, restarting after transport errors
// with exponential backoff. Each session gets a fresh tracker and a reset
// classifier from the [Driver].
type Supervisor struct {
	cfg SupervisorConfig

	// sleep waits for d or until ctx is done. Replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewSupervisor creates a [Supervisor] with the given configuration.
func NewSupervisor(cfg SupervisorConfig) *Supervisor {
	if cfg.Backoff <= 0 {
		cfg.Backoff = defaultBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = defaultMaxBackoff
	}
	return &Supervisor{cfg: cfg, sleep: sleepCtx}
}

// Run supervises sessions until ctx is cancelled, a non-continuous session
// ends cleanly, a session fails with a defect that a restart cannot cure, or
// MaxRetries consecutive failures occur. Cancellation is not an error.
func (s *Supervisor) Run(ctx context.Context) error {
	backoff := s.cfg.Backoff
	failures := 0

	for cycle := 1; ; cycle++ {
		if ctx.Err() != nil {
			return nil
		}

		err := s.runOnce(ctx, cycle)
		switch {
		case ctx.Err() != nil:
			return nil
		case err == nil:
			failures = 0
			backoff = s.cfg.Backoff
			if !s.cfg.Continuous {
				return nil
			}
			continue
		}

		if isFatal(err) {
			return fmt.Errorf("session: not restarting: %w", err)
		}
		failures++
		if s.cfg.MaxRetries > 0 && failures > s.cfg.MaxRetries {
			return fmt.Errorf("session: giving up after %d consecutive failures: %w", failures, err)
		}

		slog.Warn("session failed, restarting",
			"cycle", cycle,
			"failures", failures,
			"backoff", backoff,
			"error", err,
		)
		if err := s.sleep(ctx, backoff); err != nil {
			return nil
		}

		// Exponential backoff.
		backoff *= 2
		if backoff > s.cfg.MaxBackoff {
			backoff = s.cfg.MaxBackoff
		}
	}
}

// runOnce opens a source and runs a single session on it.
func (s *Supervisor) runOnce(ctx context.Context, cycle int) error {
	src, err := s.cfg.Opener.Open(ctx)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	// Closing the transport is what unblocks a read stuck in NextChunk.
	stop := context.AfterFunc(ctx, func() { _ = src.Close() })
	defer func() {
		stop()
		if err := src.Close(); err != nil && !errors.Is(err, context.Canceled) {
			slog.Debug("closing source", "cycle", cycle, "error", err)
		}
	}()

	sum, err := s.cfg.Driver.Run(ctx, src)
	if s.cfg.OnSummary != nil {
		s.cfg.OnSummary(sum)
	}
	return err
}

// isFatal reports whether err means the pipeline itself is broken, so the
// next session would fail the same way.
func isFatal(err error) bool {
	return errors.Is(err, segment.ErrInvariant) || errors.Is(err, pipeline.ErrFrameLength)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
