package config

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Watcher polls the config file and the seed files it names. Every valid
// change is reported to the callback as a [ConfigDiff]; an edited seed file
// is reported as [ConfigDiff.SeedChanged] even when the config itself is
// unchanged. Invalid config versions are logged and skipped, and the last
// valid config stays current.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(ConfigDiff)

	mu      sync.Mutex
	current *Config
	file    fingerprint
	seeds   map[string]fingerprint
}

// fingerprint identifies one version of a file. The mtime lets unchanged
// files skip hashing.
type fingerprint struct {
	mtime time.Time
	hash  [sha256.Size]byte
}

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

// NewWatcher loads the config at path. Polling starts with [Watcher.Run].
func NewWatcher(path string, onChange func(ConfigDiff), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: 5 * time.Second,
		onChange: onChange,
	}
	for _, opt := range opts {
		opt(w)
	}

	data, fp, err := readFingerprint(path)
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.current = cfg
	w.file = fp
	w.seeds = seedFingerprints(cfg.Seed, nil)
	return w, nil
}

// Current returns the most recently loaded valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Run polls until ctx is done.
func (w *Watcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.check()
		}
	}
}

func (w *Watcher) check() {
	w.mu.Lock()
	old, file, seeds := w.current, w.file, w.seeds
	w.mu.Unlock()

	cfg := old
	if next, fp, changed := w.reload(file); changed {
		file = fp
		if next != nil {
			cfg = next
		}
	}

	newSeeds := seedFingerprints(cfg.Seed, seeds)
	d := Diff(old, cfg)
	if !d.SeedChanged && !sameFingerprints(seeds, newSeeds) {
		d.SeedChanged = true
		d.NewSeed = cfg.Seed
	}

	w.mu.Lock()
	w.current, w.file, w.seeds = cfg, file, newSeeds
	w.mu.Unlock()

	if cfg != old {
		slog.Info("config watcher: configuration reloaded", "path", w.path)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config watcher: changes need a restart to take effect", "sections", d.RestartRequired)
	}
	if w.onChange != nil && d.Changed() {
		w.onChange(d)
	}
}

// reload returns the config file's new version when its content changed
// since prev. A changed but invalid file yields a nil config and the new
// fingerprint, so the same broken version is not reported twice.
func (w *Watcher) reload(prev fingerprint) (*Config, fingerprint, bool) {
	info, err := os.Stat(w.path)
	if err != nil {
		slog.Warn("config watcher: cannot stat file", "path", w.path, "err", err)
		return nil, prev, false
	}
	if info.ModTime().Equal(prev.mtime) {
		return nil, prev, false
	}
	data, fp, err := readFingerprint(w.path)
	if err != nil {
		slog.Warn("config watcher: cannot read file", "path", w.path, "err", err)
		return nil, prev, false
	}
	if fp.hash == prev.hash {
		return nil, fp, true
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		slog.Warn("config watcher: invalid config kept out", "path", w.path, "err", err)
		return nil, fp, true
	}
	return cfg, fp, true
}

// seedFingerprints fingerprints every seed file of s, reusing prev for files
// whose mtime did not move. Unreadable files get a zero fingerprint so they
// count as changed once they appear.
func seedFingerprints(s SeedConfig, prev map[string]fingerprint) map[string]fingerprint {
	out := make(map[string]fingerprint, len(s.Files))
	for _, f := range s.Files {
		info, err := os.Stat(f.Path)
		if err != nil {
			out[f.Path] = fingerprint{}
			continue
		}
		if p, ok := prev[f.Path]; ok && info.ModTime().Equal(p.mtime) {
			out[f.Path] = p
			continue
		}
		_, fp, err := readFingerprint(f.Path)
		if err != nil {
			out[f.Path] = fingerprint{}
			continue
		}
		out[f.Path] = fp
	}
	return out
}

func sameFingerprints(a, b map[string]fingerprint) bool {
	if len(a) != len(b) {
		return false
	}
	for path, fp := range a {
		if other, ok := b[path]; !ok || other.hash != fp.hash {
			return false
		}
	}
	return true
}

func readFingerprint(path string) ([]byte, fingerprint, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fingerprint{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fingerprint{}, err
	}
	return data, fingerprint{mtime: info.ModTime(), hash: sha256.Sum256(data)}, nil
}
