package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/vadstream/internal/config"
)

const watcherBaseYAML = `
log_level: info
vad:
  min_silence_ms: 300
input:
  kind: file
  path: /tmp/rec.wav
`

func noEnv(string) string { return "" }

// rewrite atomically replaces the file and pushes its mtime forward so the
// change is visible even on filesystems with coarse timestamps.
func rewrite(t *testing.T, path, content string, bump time.Duration) {
	t.Helper()
	tmp, err := os.CreateTemp(filepath.Dir(path), ".vadstream-*.yaml")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := tmp.WriteString(content); err != nil {
		t.Fatalf("write %q: %v", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		t.Fatal(err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		t.Fatalf("rename onto %q: %v", path, err)
	}
	at := time.Now().Add(bump)
	if err := os.Chtimes(path, at, at); err != nil {
		t.Fatalf("chtimes %q: %v", path, err)
	}
}

type changes struct {
	mu    sync.Mutex
	diffs []config.ConfigDiff
	ch    chan struct{}
}

func newChanges() *changes { return &changes{ch: make(chan struct{}, 16)} }

func (c *changes) record(d config.ConfigDiff, _ *config.Config) {
	c.mu.Lock()
	c.diffs = append(c.diffs, d)
	c.mu.Unlock()
	c.ch <- struct{}{}
}

func (c *changes) wait(t *testing.T) config.ConfigDiff {
	t.Helper()
	select {
	case <-c.ch:
	case <-time.After(2 * time.Second):
		t.Fatal("change callback not invoked")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.diffs[len(c.diffs)-1]
}

func (c *changes) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.diffs)
}

func startWatcher(t *testing.T, content string) (*config.Watcher, string, *changes) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vadstream.yaml")
	rewrite(t, path, content, -time.Minute)
	c := newChanges()
	w, err := config.NewWatcher(path, c.record, config.WithInterval(20*time.Millisecond), config.WithEnv(noEnv))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	t.Cleanup(w.Stop)
	return w, path, c
}

func TestWatcher_InitialLoad(t *testing.T) {
	t.Parallel()
	w, _, _ := startWatcher(t, watcherBaseYAML)
	cfg := w.Current()
	if cfg.LogLevel != config.LogInfo || cfg.VAD.MinSilenceMs != 300 {
		t.Fatalf("Current() = %+v", cfg)
	}
}

func TestWatcher_PolicyAndLogLevelChange(t *testing.T) {
	t.Parallel()
	w, path, c := startWatcher(t, watcherBaseYAML)

	rewrite(t, path, `
log_level: debug
vad:
  min_silence_ms: 500
  min_speech_ms: 250
input:
  kind: file
  path: /tmp/rec.wav
`, 0)
	d := c.wait(t)

	if !d.LogLevelChanged || d.NewLogLevel != config.LogDebug {
		t.Errorf("log level diff = %+v", d)
	}
	if !d.PolicyChanged || d.MinSilenceMs != 500 || d.MinSpeechMs != 250 {
		t.Errorf("policy diff = %+v", d)
	}
	if len(d.RestartRequired) != 0 {
		t.Errorf("RestartRequired = %v, want none", d.RestartRequired)
	}
	if w.Current().VAD.MinSilenceMs != 500 {
		t.Errorf("Current() not updated: %+v", w.Current().VAD)
	}
}

func TestWatcher_RestartRequiredChange(t *testing.T) {
	t.Parallel()
	_, path, c := startWatcher(t, watcherBaseYAML)

	rewrite(t, path, `
log_level: info
vad:
  min_silence_ms: 300
input:
  kind: file
  path: /tmp/other.wav
`, 0)
	d := c.wait(t)
	if d.PolicyChanged || d.LogLevelChanged {
		t.Errorf("unexpected hot changes: %+v", d)
	}
	if !slices.Equal(d.RestartRequired, []string{"input"}) {
		t.Errorf("RestartRequired = %v, want [input]", d.RestartRequired)
	}
}

func TestWatcher_IgnoresNonSemanticEdits(t *testing.T) {
	t.Parallel()
	_, path, c := startWatcher(t, watcherBaseYAML)

	// Same settings, different bytes.
	rewrite(t, path, "# reviewed\n"+watcherBaseYAML, 0)
	// Touch only.
	at := time.Now().Add(time.Minute)
	if err := os.Chtimes(path, at, at); err != nil {
		t.Fatal(err)
	}
	time.Sleep(200 * time.Millisecond)
	if n := c.count(); n != 0 {
		t.Fatalf("callback fired %d times for edits without setting changes", n)
	}
}

func TestWatcher_InvalidFileKeepsOldConfig(t *testing.T) {
	t.Parallel()
	w, path, c := startWatcher(t, watcherBaseYAML)

	rewrite(t, path, "log_level: bananas\n", 0)
	time.Sleep(200 * time.Millisecond)
	if n := c.count(); n != 0 {
		t.Fatalf("callback fired %d times for an invalid config", n)
	}
	if w.Current().LogLevel != config.LogInfo {
		t.Fatalf("Current() replaced by invalid config: %+v", w.Current())
	}

	// A later valid edit is still picked up.
	rewrite(t, path, "log_level: warn\n"+watcherBaseYAML[len("\nlog_level: info"):], time.Second)
	if d := c.wait(t); d.NewLogLevel != config.LogWarn {
		t.Fatalf("diff = %+v, want log level warn", d)
	}
}

func TestWatcher_TruncatedFileKeepsOldConfig(t *testing.T) {
	t.Parallel()
	w, path, c := startWatcher(t, `
log_level: warn
vad:
  min_silence_ms: 1500
input:
  kind: file
  path: /tmp/rec.wav
`)

	// An in-place rewrite is visible as an empty file for a moment.
	if err := os.Truncate(path, 0); err != nil {
		t.Fatal(err)
	}
	at := time.Now().Add(time.Second)
	if err := os.Chtimes(path, at, at); err != nil {
		t.Fatal(err)
	}
	time.Sleep(200 * time.Millisecond)
	if n := c.count(); n != 0 {
		t.Fatalf("callback fired %d times for an empty file", n)
	}
	if got := w.Current(); got.VAD.MinSilenceMs != 1500 || got.LogLevel != config.LogWarn {
		t.Fatalf("Current() fell back to defaults: log=%s min_silence=%d", got.LogLevel, got.VAD.MinSilenceMs)
	}
}

func TestWatcher_InitialLoadRejectsEmptyFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "vadstream.yaml")
	rewrite(t, path, "\n  \n", 0)
	if _, err := config.NewWatcher(path, nil, config.WithEnv(noEnv)); !errors.Is(err, config.ErrEmptyConfig) {
		t.Fatalf("err = %v, want ErrEmptyConfig", err)
	}
}

func TestWatcher_InitialLoadFails(t *testing.T) {
	t.Parallel()
	if _, err := config.NewWatcher(filepath.Join(t.TempDir(), "missing.yaml"), nil); err == nil {
		t.Fatal("expected error for a missing file")
	}
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	t.Parallel()
	w, _, _ := startWatcher(t, watcherBaseYAML)
	w.Stop()
	w.Stop()
}
