package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied by [ApplyDefaults].
const (
	DefaultSampleRate     = 16000
	DefaultMinSilenceMs   = 300
	DefaultThreshold      = 0.5
	DefaultEngine         = "energy"
	DefaultSource         = "silero_vad_v0"
	DefaultDeviceID       = "aggregator1"
	DefaultRoomID         = "room1"
	DefaultBaudRate       = 921600
	DefaultTrigger        = "G"
	DefaultHeaderTimeout  = 20 * time.Second
	DefaultReadTimeout    = 5 * time.Second
	DefaultPublishTimeout = 2 * time.Second
	DefaultWindowSec      = 60
	DefaultTCPListenAddr  = ":8080"
	DefaultMQTTPort       = "1883"
)

// ValidVADEngines lists the engine names known to this build. Used by
// [Validate] to warn about unrecognised names.
var ValidVADEngines = []string{"energy", "silero"}

// Load reads the YAML configuration file at path, applies environment
// overrides and defaults, and returns a validated [Config].
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	cfg, err := parse(data, os.Getenv)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadEnv builds a [Config] from defaults and the environment alone, for
// deployments that configure the aggregator and decision services through
// MQTT_BROKER / ROOM_ID only.
func LoadEnv() (*Config, error) {
	cfg, err := parse(nil, os.Getenv)
	if err != nil {
		return nil, fmt.Errorf("config: environment: %w", err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. Environment variables are not consulted.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	return parse(data, nil)
}

// parse decodes data, applies env overrides when getenv is non-nil, then
// defaults, then validation.
func parse(data []byte, getenv func(string) string) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if getenv != nil {
		if err := ApplyEnv(cfg, getenv); err != nil {
			return nil, err
		}
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides cfg from the deployment environment variables
// MQTT_BROKER, MQTT_PORT, ROOM_ID, DEVICE_ID, LOG_LEVEL and
// AGGREGATION_WINDOW_SEC. MQTT_BROKER may be a bare host, in which case
// MQTT_PORT (default 1883) completes the URL.
func ApplyEnv(cfg *Config, getenv func(string) string) error {
	if host := getenv("MQTT_BROKER"); host != "" {
		if strings.Contains(host, "://") {
			cfg.MQTT.Broker = host
		} else {
			port := getenv("MQTT_PORT")
			if port == "" {
				port = DefaultMQTTPort
			}
			cfg.MQTT.Broker = "tcp://" + net.JoinHostPort(host, port)
		}
	}
	if v := getenv("ROOM_ID"); v != "" {
		cfg.MQTT.RoomID = v
	}
	if v := getenv("DEVICE_ID"); v != "" {
		cfg.DeviceID = v
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = LogLevel(strings.ToLower(v))
	}
	if v := getenv("AGGREGATION_WINDOW_SEC"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: AGGREGATION_WINDOW_SEC %q: %w", v, err)
		}
		cfg.Aggregator.WindowSec = n
	}
	return nil
}

// ApplyDefaults fills zero-valued fields. The min_silence_ms default is
// logged because callers historically disagreed on it.
func ApplyDefaults(cfg *Config) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = LogInfo
	}
	if cfg.DeviceID == "" {
		cfg.DeviceID = DefaultDeviceID
	}
	if cfg.Source == "" {
		cfg.Source = DefaultSource
	}
	if cfg.MQTT.RoomID == "" {
		cfg.MQTT.RoomID = DefaultRoomID
	}
	if cfg.MQTT.PublishTimeout == 0 {
		cfg.MQTT.PublishTimeout = DefaultPublishTimeout
	}
	if cfg.VAD.Engine == "" {
		cfg.VAD.Engine = DefaultEngine
	}
	if cfg.VAD.SampleRate == 0 {
		cfg.VAD.SampleRate = DefaultSampleRate
	}
	if cfg.VAD.MinSilenceMs == 0 {
		slog.Info("vad.min_silence_ms not set; using default", "min_silence_ms", DefaultMinSilenceMs)
		cfg.VAD.MinSilenceMs = DefaultMinSilenceMs
	}
	if cfg.VAD.Threshold == 0 {
		cfg.VAD.Threshold = DefaultThreshold
	}
	if cfg.Input.BaudRate == 0 {
		cfg.Input.BaudRate = DefaultBaudRate
	}
	if cfg.Input.Trigger == "" {
		cfg.Input.Trigger = DefaultTrigger
	}
	if cfg.Input.HeaderTimeout == 0 {
		cfg.Input.HeaderTimeout = DefaultHeaderTimeout
	}
	if cfg.Input.ReadTimeout == 0 {
		cfg.Input.ReadTimeout = DefaultReadTimeout
	}
	if cfg.Input.ListenAddr == "" && (cfg.Input.Kind == InputTCP || cfg.Input.Kind == InputWebSocket) {
		cfg.Input.ListenAddr = DefaultTCPListenAddr
	}
	if cfg.Aggregator.WindowSec == 0 {
		cfg.Aggregator.WindowSec = DefaultWindowSec
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.LogLevel != "" && !cfg.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("log_level %q is invalid; valid values: debug, info, warn, error", cfg.LogLevel))
	}

	// VAD
	if cfg.VAD.SampleRate != 16000 && cfg.VAD.SampleRate != 8000 {
		errs = append(errs, fmt.Errorf("vad.sample_rate %d is invalid; valid values: 8000, 16000", cfg.VAD.SampleRate))
	}
	if cfg.VAD.MinSilenceMs < 0 {
		errs = append(errs, fmt.Errorf("vad.min_silence_ms %d must not be negative", cfg.VAD.MinSilenceMs))
	}
	if cfg.VAD.MinSpeechMs < 0 {
		errs = append(errs, fmt.Errorf("vad.min_speech_ms %d must not be negative", cfg.VAD.MinSpeechMs))
	}
	if cfg.VAD.Threshold < 0 || cfg.VAD.Threshold > 1 {
		errs = append(errs, fmt.Errorf("vad.threshold %.2f is out of range [0, 1]", cfg.VAD.Threshold))
	}
	validateEngineName("vad.engine", cfg.VAD.Engine)
	validateEngineName("vad.fallback", cfg.VAD.Fallback)
	if cfg.VAD.Fallback != "" && cfg.VAD.Fallback == cfg.VAD.Engine {
		errs = append(errs, fmt.Errorf("vad.fallback %q must differ from vad.engine", cfg.VAD.Fallback))
	}
	if cfg.VAD.Engine == "silero" && cfg.VAD.ModelPath == "" {
		errs = append(errs, errors.New("vad.model_path is required for the silero engine"))
	}

	// Input
	in := cfg.Input
	if in.Kind != "" && !in.Kind.IsValid() {
		errs = append(errs, fmt.Errorf("input.kind %q is invalid; valid values: serial-wav, serial-pcm, tcp, websocket, file", in.Kind))
	}
	switch in.Kind {
	case InputSerialWAV, InputSerialPCM:
		if in.Port == "" {
			errs = append(errs, fmt.Errorf("input.port is required when input.kind is %s", in.Kind))
		}
		if in.BaudRate <= 0 {
			errs = append(errs, fmt.Errorf("input.baud_rate %d must be positive", in.BaudRate))
		}
	case InputTCP, InputWebSocket:
		if in.ListenAddr == "" {
			errs = append(errs, fmt.Errorf("input.listen_addr is required when input.kind is %s", in.Kind))
		}
	case InputFile:
		if in.Path == "" {
			errs = append(errs, errors.New("input.path is required when input.kind is file"))
		}
	}

	// MQTT
	if cfg.MQTT.Broker != "" && !strings.Contains(cfg.MQTT.Broker, "://") {
		errs = append(errs, fmt.Errorf("mqtt.broker %q must be a URL such as tcp://host:1883", cfg.MQTT.Broker))
	}
	if cfg.MQTT.PublishTimeout < 0 {
		errs = append(errs, fmt.Errorf("mqtt.publish_timeout %v must not be negative", cfg.MQTT.PublishTimeout))
	}

	// Aggregator
	if cfg.Aggregator.WindowSec < 0 {
		errs = append(errs, fmt.Errorf("aggregator.window_sec %d must not be negative", cfg.Aggregator.WindowSec))
	}

	return errors.Join(errs...)
}

// validateEngineName logs a warning if name is non-empty and not found in
// [ValidVADEngines].
func validateEngineName(field, name string) {
	if name == "" || slices.Contains(ValidVADEngines, name) {
		return
	}
	slog.Warn("unknown VAD engine name; may be a typo or a third-party engine",
		"field", field,
		"name", name,
		"known", ValidVADEngines,
	)
}
