package config

// ConfigDiff describes what changed between two configs.
// Policy changes are applied at the next session boundary; anything listed in
// RestartRequired only takes effect after a process restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// PolicyChanged is true if min_silence_ms or min_speech_ms changed.
	PolicyChanged bool
	MinSilenceMs  int
	MinSpeechMs   int

	// RestartRequired lists the keys that changed but cannot be hot-reloaded.
	RestartRequired []string
}

// Changed reports whether any field differs.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.PolicyChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.LogLevel != new.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.LogLevel
	}

	if old.VAD.MinSilenceMs != new.VAD.MinSilenceMs || old.VAD.MinSpeechMs != new.VAD.MinSpeechMs {
		d.PolicyChanged = true
		d.MinSilenceMs = new.VAD.MinSilenceMs
		d.MinSpeechMs = new.VAD.MinSpeechMs
	}

	restart := func(key string, changed bool) {
		if changed {
			d.RestartRequired = append(d.RestartRequired, key)
		}
	}
	restart("device_id", old.DeviceID != new.DeviceID)
	restart("source", old.Source != new.Source)
	restart("mqtt", old.MQTT != new.MQTT)
	restart("vad.engine", old.VAD.Engine != new.VAD.Engine || old.VAD.Fallback != new.VAD.Fallback)
	restart("vad.sample_rate", old.VAD.SampleRate != new.VAD.SampleRate)
	restart("vad.threshold", old.VAD.Threshold != new.VAD.Threshold)
	restart("vad.model_path", old.VAD.ModelPath != new.VAD.ModelPath)
	restart("input", old.Input != new.Input)
	restart("postgres", old.Postgres != new.Postgres)
	restart("http", old.HTTP != new.HTTP)
	restart("aggregator", old.Aggregator != new.Aggregator)

	return d
}
