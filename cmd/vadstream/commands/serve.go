package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/vadstream/internal/config"
	"github.com/MrWong99/vadstream/internal/event"
	"github.com/MrWong99/vadstream/internal/event/pgsink"
	"github.com/MrWong99/vadstream/internal/health"
	"github.com/MrWong99/vadstream/internal/pipeline"
	"github.com/MrWong99/vadstream/internal/session"
	"github.com/MrWong99/vadstream/internal/source"
	"github.com/MrWong99/vadstream/pkg/audio"
	"github.com/MrWong99/vadstream/pkg/provider/vad"
)

var serveFlags struct {
	recordDir  string
	maxRetries int
	continuous bool
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Detect speech on the configured input and publish events",
	Long: `Run VAD sessions on the configured input. Every session publishes
speech_start / speech_end transitions, closed segments and a summary to
<prefix>/vad/event, <prefix>/vad and <prefix>/vad/summary.

Without an MQTT broker events are only logged. With postgres.dsn set,
segments and summaries are also stored.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveFlags.recordDir, "record-dir", "", "also write each session's audio to a WAV file in this directory")
	serveCmd.Flags().IntVar(&serveFlags.maxRetries, "max-retries", 0, "consecutive failed sessions before giving up (0 retries forever)")
	serveCmd.Flags().BoolVar(&serveFlags.continuous, "continuous", false, "start a new session after every clean end of stream (overrides input.continuous)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	rt, err := newRuntime(ctx, "serve")
	if err != nil {
		return err
	}
	defer rt.close()
	cfg := rt.cfg

	engine, err := buildEngine(rt, newEngineRegistry())
	if err != nil {
		return err
	}
	frameSamples, err := audio.FrameSamplesFor(cfg.VAD.SampleRate)
	if err != nil {
		return err
	}
	handle, err := engine.NewSession(vad.Config{
		SampleRate:      cfg.VAD.SampleRate,
		FrameSamples:    frameSamples,
		SpeechThreshold: cfg.VAD.Threshold,
		ModelPath:       cfg.VAD.ModelPath,
	})
	if err != nil {
		return fmt.Errorf("create vad session: %w", err)
	}
	classifier := pipeline.NewClassifier(handle, frameSamples)
	defer classifier.Close()

	pub, closePub, err := buildPublisher(ctx, rt)
	if err != nil {
		return err
	}
	defer closePub()

	driver, err := session.NewDriver(classifier, pub, session.Config{
		SampleRate:   cfg.VAD.SampleRate,
		MinSilenceMs: cfg.VAD.MinSilenceMs,
		MinSpeechMs:  cfg.VAD.MinSpeechMs,
	}, session.WithMetrics(rt.metrics))
	if err != nil {
		return err
	}

	stopWatch, err := rt.watchConfig(func(d config.ConfigDiff) {
		if !d.PolicyChanged {
			return
		}
		if err := driver.SetPolicy(d.MinSilenceMs, d.MinSpeechMs); err != nil {
			rt.logger.Warn("rejected vad policy from reloaded config", "err", err)
			return
		}
		rt.logger.Info("vad policy updated for next session",
			"min_silence_ms", d.MinSilenceMs, "min_speech_ms", d.MinSpeechMs)
	})
	if err != nil {
		return err
	}
	defer stopWatch()

	in, err := buildInput(rt)
	if err != nil {
		return err
	}
	defer in.close()

	var opener session.Opener = in.opener
	if serveFlags.recordDir != "" {
		opener = &source.Recorder{
			Opener:     opener,
			Dir:        serveFlags.recordDir,
			SampleRate: cfg.VAD.SampleRate,
			Logger:     rt.logger,
		}
	}

	sup := session.NewSupervisor(session.SupervisorConfig{
		Opener:     opener,
		Driver:     driver,
		Continuous: cfg.Input.Continuous || serveFlags.continuous,
		MaxRetries: serveFlags.maxRetries,
	})

	rt.logger.Info("vad pipeline ready",
		"engine", cfg.VAD.Engine,
		"fallback", cfg.VAD.Fallback,
		"sample_rate", cfg.VAD.SampleRate,
		"frame_samples", frameSamples,
		"min_silence_ms", cfg.VAD.MinSilenceMs,
		"min_speech_ms", cfg.VAD.MinSpeechMs,
		"input", cfg.Input.Kind,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return rt.serveHTTP(gctx) })
	g.Go(func() error { return in.run(gctx) })
	g.Go(func() error {
		// A non-continuous run ends the process once its session is done.
		defer cancel()
		return sup.Run(gctx)
	})
	return g.Wait()
}

// buildPublisher assembles the event sinks: the log always, MQTT behind a
// circuit breaker when a broker is configured, and Postgres when a DSN is.
func buildPublisher(ctx context.Context, rt *runtime) (event.Publisher, func(), error) {
	cfg := rt.cfg
	pubs := event.Multi{event.NewLogPublisher(rt.logger)}
	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if cfg.MQTT.Broker != "" {
		client, err := rt.dialBus(ctx, "vad")
		if err != nil {
			return nil, nil, err
		}
		closers = append(closers, func() { _ = client.Close() })

		meta := event.Meta{
			DeviceID:    cfg.DeviceID,
			Source:      cfg.Source,
			SampleRate:  cfg.VAD.SampleRate,
			TopicPrefix: cfg.MQTT.Prefix(),
		}
		guarded := event.NewGuarded(event.NewTopicPublisher(client, meta), rt.breakerConfig("mqtt_publisher"))
		rt.health.Add(health.Breaker("mqtt_publisher", guarded.State))
		pubs = append(pubs, guarded)
	} else {
		rt.logger.Warn("no mqtt broker configured; events are only logged")
	}

	if cfg.Postgres.DSN != "" {
		pool, err := pgsink.Connect(ctx, cfg.Postgres.DSN)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		closers = append(closers, pool.Close)
		rt.health.Add(health.Ping("postgres", pool.Ping))
		pubs = append(pubs, pgsink.New(pool, cfg.DeviceID))
	}
	return pubs, closeAll, nil
}
