package config

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// ErrEmptyConfig is returned when a watched file holds no YAML document,
// which is what a poll sees between the truncate and the write of an
// in-place rewrite.
var ErrEmptyConfig = errors.New("config: file is empty")

// ChangeFunc receives the difference between the previous and the reloaded
// configuration together with the new configuration.
type ChangeFunc func(d ConfigDiff, cfg *Config)

// Watcher polls a config file and reports validated changes. Only the log
// level and the segmentation policy can be applied to a running detector;
// other changes are logged as needing a restart.
type Watcher struct {
	path     string
	interval time.Duration
	onChange ChangeFunc
	getenv   func(string) string
	logger   *slog.Logger

	mu        sync.Mutex
	current   *Config
	lastMtime time.Time
	lastHash  [sha256.Size]byte

	// pending is the stamp seen on the previous poll. A file is only read
	// once two consecutive polls agree on it. Owned by the poll goroutine.
	pending fileStamp

	done     chan struct{}
	stopOnce sync.Once
}

type fileStamp struct {
	mtime time.Time
	size  int64
}

func (a fileStamp) same(b fileStamp) bool { return a.size == b.size && a.mtime.Equal(b.mtime) }

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. The default is 5 seconds.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithEnv sets the environment lookup applied on every reload. The default
// is [os.Getenv], matching [Load].
func WithEnv(getenv func(string) string) WatcherOption {
	return func(w *Watcher) { w.getenv = getenv }
}

// WithLogger sets the logger used for reload diagnostics.
func WithLogger(l *slog.Logger) WatcherOption {
	return func(w *Watcher) {
		if l != nil {
			w.logger = l
		}
	}
}

// NewWatcher loads path and starts polling it in the background. onChange is
// called from the polling goroutine for every reload that differs in at least
// one setting.
func NewWatcher(path string, onChange ChangeFunc, opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: 5 * time.Second,
		onChange: onChange,
		getenv:   os.Getenv,
		logger:   slog.Default(),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	cfg, hash, mtime, err := w.load()
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.current, w.lastHash, w.lastMtime = cfg, hash, mtime

	go w.poll()
	return w, nil
}

// Current returns the most recently loaded valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Stop ends polling. It is safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.done) })
}

func (w *Watcher) poll() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.check()
		}
	}
}

// check reloads the file when its mtime moved, the file stayed unchanged
// for one full interval and its content hash changed. An invalid or empty
// file is rejected and the previous config stays current.
func (w *Watcher) check() {
	info, err := os.Stat(w.path)
	if err != nil {
		w.logger.Warn("config watcher: cannot stat file", "path", w.path, "err", err)
		return
	}
	w.mu.Lock()
	unchanged := info.ModTime().Equal(w.lastMtime)
	w.mu.Unlock()
	if unchanged {
		w.pending = fileStamp{}
		return
	}
	stamp := fileStamp{mtime: info.ModTime(), size: info.Size()}
	if !stamp.same(w.pending) {
		w.pending = stamp
		return
	}

	cfg, hash, mtime, err := w.load()
	if err != nil {
		w.logger.Warn("config watcher: rejected new config; keeping previous", "path", w.path, "err", err)
		// Wait for the next write rather than re-reading the same bad file.
		w.mu.Lock()
		w.lastMtime = stamp.mtime
		w.mu.Unlock()
		return
	}

	w.mu.Lock()
	w.lastMtime = mtime
	if hash == w.lastHash {
		w.mu.Unlock()
		return
	}
	old := w.current
	w.current = cfg
	w.lastHash = hash
	w.mu.Unlock()

	d := Diff(old, cfg)
	if !d.Changed() {
		return
	}
	w.logger.Info("config watcher: configuration reloaded",
		"path", w.path,
		"log_level_changed", d.LogLevelChanged,
		"policy_changed", d.PolicyChanged,
	)
	if len(d.RestartRequired) > 0 {
		w.logger.Warn("config watcher: changes need a restart to take effect", "keys", d.RestartRequired)
	}
	if w.onChange != nil {
		w.onChange(d, cfg)
	}
}

func (w *Watcher) load() (*Config, [sha256.Size]byte, time.Time, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return nil, [sha256.Size]byte{}, time.Time{}, err
	}
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, [sha256.Size]byte{}, time.Time{}, err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, [sha256.Size]byte{}, time.Time{}, ErrEmptyConfig
	}
	cfg, err := parse(data, w.getenv)
	if err != nil {
		return nil, [sha256.Size]byte{}, time.Time{}, err
	}
	return cfg, sha256.Sum256(data), info.ModTime(), nil
}
