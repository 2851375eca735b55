// Package config provides the configuration schema, loader, and VAD engine
// registry for vadstream.
package config

import "time"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// InputKind selects the audio transport a session reads from.
type InputKind string

const (
	// InputSerialWAV sends a trigger byte over a serial port and reads one
	// WAV-framed recording per session.
	InputSerialWAV InputKind = "serial-wav"

	// InputSerialPCM reads raw headerless PCM from a serial port.
	InputSerialPCM InputKind = "serial-pcm"

	// InputTCP accepts one TCP client per session streaming raw PCM.
	InputTCP InputKind = "tcp"

	// InputWebSocket accepts one WebSocket client per session streaming raw
	// PCM in binary messages.
	InputWebSocket InputKind = "websocket"

	// InputFile reads a WAV file, converting it to the session format.
	InputFile InputKind = "file"
)

// IsValid reports whether k is a recognised input kind.
func (k InputKind) IsValid() bool {
	switch k {
	case InputSerialWAV, InputSerialPCM, InputTCP, InputWebSocket, InputFile:
		return true
	}
	return false
}

// Config is the root configuration structure for vadstream.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// DeviceID is the opaque tag attached to every published event.
	DeviceID string `yaml:"device_id"`

	// Source names the detector in published payloads.
	Source string `yaml:"source"`

	MQTT       MQTTConfig       `yaml:"mqtt"`
	VAD        VADConfig        `yaml:"vad"`
	Input      InputConfig      `yaml:"input"`
	Postgres   PostgresConfig   `yaml:"postgres"`
	HTTP       HTTPConfig       `yaml:"http"`
	Aggregator AggregatorConfig `yaml:"aggregator"`
}

// MQTTConfig configures the broker connection shared by all subcommands.
type MQTTConfig struct {
	// Broker is the broker URL, e.g. "tcp://localhost:1883". Empty disables
	// MQTT publishing for the serve command.
	Broker string `yaml:"broker"`

	// RoomID scopes all topics: classroom/<room_id>/...
	RoomID string `yaml:"room_id"`

	// TopicPrefix overrides the derived "classroom/<room_id>" prefix.
	TopicPrefix string `yaml:"topic_prefix"`

	// ClientID is the MQTT client identifier. Derived from the device ID and
	// command when empty.
	ClientID string `yaml:"client_id"`

	// PublishTimeout bounds a single publish call.
	PublishTimeout time.Duration `yaml:"publish_timeout"`
}

// Prefix returns the topic prefix.
func (m MQTTConfig) Prefix() string {
	if m.TopicPrefix != "" {
		return m.TopicPrefix
	}
	return "classroom/" + m.RoomID
}

// VADConfig configures the classifier and the segmentation policy.
type VADConfig struct {
	// Engine selects the registered VAD engine ("energy", "silero").
	Engine string `yaml:"engine"`

	// Fallback optionally names a second engine used when Engine fails to
	// create a session.
	Fallback string `yaml:"fallback"`

	// SampleRate is 16000 or 8000.
	SampleRate int `yaml:"sample_rate"`

	// MinSilenceMs is the silence grace period that ends a speech run.
	MinSilenceMs int `yaml:"min_silence_ms"`

	// MinSpeechMs suppresses segment events for shorter runs. 0 keeps all.
	MinSpeechMs int `yaml:"min_speech_ms"`

	// Threshold is the speech probability threshold passed to the engine.
	Threshold float64 `yaml:"threshold"`

	// ModelPath is the model file for engines that need one.
	ModelPath string `yaml:"model_path"`
}

// InputConfig configures the audio transport.
type InputConfig struct {
	Kind InputKind `yaml:"kind"`

	// Port is the serial device, e.g. "/dev/ttyUSB0".
	Port string `yaml:"port"`

	// BaudRate is the serial speed.
	BaudRate int `yaml:"baud_rate"`

	// ListenAddr is the TCP or WebSocket listen address.
	ListenAddr string `yaml:"listen_addr"`

	// Path is the WAV file for the file input.
	Path string `yaml:"path"`

	// Trigger is the byte sequence written to start a serial WAV recording.
	Trigger string `yaml:"trigger"`

	// HeaderTimeout bounds the search for the RIFF header.
	HeaderTimeout time.Duration `yaml:"header_timeout"`

	// ReadTimeout bounds a single serial read; a stalled stream ends the
	// session as a transport error.
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// Continuous restarts a new session after each clean end of stream.
	Continuous bool `yaml:"continuous"`
}

// PostgresConfig configures the optional segment store.
type PostgresConfig struct {
	// DSN is the PostgreSQL connection string. Empty disables persistence.
	DSN string `yaml:"dsn"`
}

// HTTPConfig configures the metrics and health endpoint.
type HTTPConfig struct {
	// ListenAddr is the address for /metrics, /healthz and /readyz. Empty
	// disables the endpoint.
	ListenAddr string `yaml:"listen_addr"`
}

// AggregatorConfig configures the rolling noise profile.
type AggregatorConfig struct {
	// WindowSec is the trailing window length in seconds.
	WindowSec int `yaml:"window_sec"`
}

// Window returns the aggregation window as a duration.
func (a AggregatorConfig) Window() time.Duration {
	return time.Duration(a.WindowSec) * time.Second
}
