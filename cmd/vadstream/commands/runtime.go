package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"

	"github.com/MrWong99/vadstream/internal/bus"
	"github.com/MrWong99/vadstream/internal/config"
	"github.com/MrWong99/vadstream/internal/health"
	"github.com/MrWong99/vadstream/internal/observe"
	"github.com/MrWong99/vadstream/internal/resilience"
)

const shutdownTimeout = 5 * time.Second

// runtime is the ambient state shared by every subcommand: configuration,
// logging, telemetry and the health endpoint.
type runtime struct {
	cfg     *config.Config
	logger  *slog.Logger
	level   *slog.LevelVar
	metrics *observe.Metrics
	health  *health.Handler

	// registry backs /metrics. Each runtime owns one so collectors are never
	// registered twice in a process.
	registry *prometheus.Registry

	shutdownTelemetry func(context.Context) error
}

func newRuntime(ctx context.Context, component string) (*runtime, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	level := new(slog.LevelVar)
	level.Set(slogLevel(cfg.LogLevel))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})).
		With("component", component)
	slog.SetDefault(logger)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	shutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "vadstream-" + component,
		ServiceVersion: version,
		InstanceID:     cfg.DeviceID,
		Registerer:     registry,
	})
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}
	metrics, err := observe.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		_ = shutdown(ctx)
		return nil, fmt.Errorf("init metrics: %w", err)
	}

	logger.Info("vadstream starting",
		"version", version,
		"config", configPath,
		"device_id", cfg.DeviceID,
		"topic_prefix", cfg.MQTT.Prefix(),
		"log_level", cfg.LogLevel,
	)
	return &runtime{
		cfg:               cfg,
		logger:            logger,
		level:             level,
		metrics:           metrics,
		health:            health.New(),
		registry:          registry,
		shutdownTelemetry: shutdown,
	}, nil
}

func loadConfig() (*config.Config, error) {
	if configPath == "" {
		return config.LoadEnv()
	}
	cfg, err := config.Load(configPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config file %q not found; copy configs/example.yaml to get started", configPath)
	}
	return cfg, err
}

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// close flushes telemetry.
func (rt *runtime) close() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := rt.shutdownTelemetry(ctx); err != nil {
		rt.logger.Warn("telemetry shutdown", "err", err)
	}
}

// watchConfig hot-reloads the config file when one was given. The returned
// stop function is always non-nil.
func (rt *runtime) watchConfig(onChange func(diff config.ConfigDiff)) (stop func(), err error) {
	if configPath == "" {
		return func() {}, nil
	}
	w, err := config.NewWatcher(configPath, func(d config.ConfigDiff, _ *config.Config) {
		if d.LogLevelChanged {
			rt.level.Set(slogLevel(d.NewLogLevel))
		}
		if onChange != nil {
			onChange(d)
		}
	}, config.WithLogger(rt.logger))
	if err != nil {
		return nil, err
	}
	return w.Stop, nil
}

// breakerConfig returns breaker settings that report transitions as metrics.
func (rt *runtime) breakerConfig(name string) resilience.CircuitBreakerConfig {
	return resilience.CircuitBreakerConfig{
		Name:         name,
		MaxFailures:  5,
		ResetTimeout: 30 * time.Second,
		HalfOpenMax:  1,
		Logger:       rt.logger,
		OnStateChange: func(name string, _, to resilience.State) {
			rt.metrics.RecordBreakerTransition(context.Background(), name, to.String())
		},
	}
}

// dialBus connects to the configured broker and registers its health check.
func (rt *runtime) dialBus(ctx context.Context, role string) (*bus.Client, error) {
	if rt.cfg.MQTT.Broker == "" {
		return nil, errors.New("mqtt.broker (or MQTT_BROKER) is required")
	}
	clientID := rt.cfg.MQTT.ClientID
	if clientID == "" {
		clientID = fmt.Sprintf("vadstream-%s-%s", role, rt.cfg.DeviceID)
	}
	client, err := bus.Dial(ctx, bus.Config{
		Broker:         rt.cfg.MQTT.Broker,
		ClientID:       clientID,
		PublishTimeout: rt.cfg.MQTT.PublishTimeout,
		Logger:         rt.logger,
	})
	if err != nil {
		return nil, err
	}
	rt.health.Add(health.Connected("mqtt", client.Connected))
	return client, nil
}

// serveHTTP serves /metrics, /healthz and /readyz until ctx is done. It
// blocks until ctx is done even when the endpoint is disabled.
func (rt *runtime) serveHTTP(ctx context.Context) error {
	addr := rt.cfg.HTTP.ListenAddr
	if addr == "" {
		<-ctx.Done()
		return nil
	}
	mux := http.NewServeMux()
	rt.health.Register(mux)
	mux.Handle("GET /metrics", promhttp.HandlerFor(rt.registry, promhttp.HandlerOpts{}))
	rt.logger.Info("http endpoint listening", "addr", addr)
	return runServer(ctx, &http.Server{
		Addr:              addr,
		Handler:           observe.Middleware(rt.metrics)(mux),
		ReadHeaderTimeout: 5 * time.Second,
	})
}

// runServer runs srv until ctx is done, then shuts it down gracefully.
func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http %s: %w", srv.Addr, err)
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutCtx); err != nil {
			return fmt.Errorf("http %s: shutdown: %w", srv.Addr, err)
		}
		return nil
	}
}
