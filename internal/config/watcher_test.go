package config_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/MrWong99/questweaver/internal/config"
)

const watcherValidYAML = `
server:
  log_level: info
auth:
  jwt_secret: s3cret
resolution:
  similarity_threshold: 0.85
`

const watcherUpdatedYAML = `
server:
  log_level: debug
auth:
  jwt_secret: s3cret
resolution:
  similarity_threshold: 0.9
`

const watcherInvalidYAML = `
server:
  log_level: bananas
auth:
  jwt_secret: s3cret
`

// writeFile writes content and moves the mtime forward by bump so the
// watcher sees a change even on filesystems with coarse timestamps.
func writeFile(t *testing.T, path, content string, bump time.Duration) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %q: unexpected error: %v", path, err)
	}
	if bump > 0 {
		ts := time.Now().Add(bump)
		if err := os.Chtimes(path, ts, ts); err != nil {
			t.Fatalf("chtimes %q: unexpected error: %v", path, err)
		}
	}
}

// startWatcher runs w until the test ends and returns the diffs it reports.
func startWatcher(t *testing.T, path string) (*config.Watcher, <-chan config.ConfigDiff) {
	t.Helper()
	diffs := make(chan config.ConfigDiff, 8)
	w, err := config.NewWatcher(path, func(d config.ConfigDiff) { diffs <- d },
		config.WithInterval(20*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: unexpected error: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return w, diffs
}

func waitDiff(t *testing.T, diffs <-chan config.ConfigDiff) config.ConfigDiff {
	t.Helper()
	select {
	case d := <-diffs:
		return d
	case <-time.After(2 * time.Second):
		t.Fatal("no change reported")
		return config.ConfigDiff{}
	}
}

func expectQuiet(t *testing.T, diffs <-chan config.ConfigDiff) {
	t.Helper()
	select {
	case d := <-diffs:
		t.Fatalf("unexpected change reported: %+v", d)
	case <-time.After(150 * time.Millisecond):
	}
}

func TestWatcher_InitialLoad(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, watcherValidYAML, 0)

	w, err := config.NewWatcher(path, nil)
	if err != nil {
		t.Fatalf("NewWatcher: unexpected error: %v", err)
	}
	cfg := w.Current()
	if cfg.Server.LogLevel != config.LogInfo || cfg.Resolution.SimilarityThreshold != 0.85 {
		t.Errorf("initial config = %+v", cfg.Server)
	}
}

func TestWatcher_InitialLoadFails(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	if _, err := config.NewWatcher(filepath.Join(dir, "missing.yaml"), nil); err == nil {
		t.Error("expected error for a missing file")
	}
	bad := filepath.Join(dir, "bad.yaml")
	writeFile(t, bad, watcherInvalidYAML, 0)
	if _, err := config.NewWatcher(bad, nil); err == nil {
		t.Error("expected error for an invalid file")
	}
}

func TestWatcher_ReportsChange(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, watcherValidYAML, 0)
	w, diffs := startWatcher(t, path)

	writeFile(t, path, watcherUpdatedYAML, time.Second)
	d := waitDiff(t, diffs)
	if !d.LogLevelChanged || d.NewLogLevel != config.LogDebug {
		t.Errorf("log level diff = %v %q, want debug", d.LogLevelChanged, d.NewLogLevel)
	}
	if !d.ResolutionChanged || d.NewResolution.SimilarityThreshold != 0.9 {
		t.Errorf("resolution diff = %v %+v", d.ResolutionChanged, d.NewResolution)
	}
	if d.SeedChanged {
		t.Error("seed reported changed without seed files")
	}
	if got := w.Current().Server.LogLevel; got != config.LogDebug {
		t.Errorf("Current log level = %q, want debug", got)
	}
}

func TestWatcher_InvalidVersionKeepsLastValid(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, watcherValidYAML, 0)
	w, diffs := startWatcher(t, path)

	writeFile(t, path, watcherInvalidYAML, time.Second)
	expectQuiet(t, diffs)
	if got := w.Current().Server.LogLevel; got != config.LogInfo {
		t.Fatalf("Current log level = %q, want the last valid info", got)
	}

	writeFile(t, path, watcherUpdatedYAML, 2*time.Second)
	if d := waitDiff(t, diffs); !d.LogLevelChanged {
		t.Errorf("fixed config not reported: %+v", d)
	}
}

func TestWatcher_TouchWithoutContentChange(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, watcherValidYAML, 0)
	_, diffs := startWatcher(t, path)

	writeFile(t, path, watcherValidYAML, time.Second)
	expectQuiet(t, diffs)
}

func TestWatcher_SeedFileEdited(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	seed := filepath.Join(dir, "lost-mine.yaml")
	writeFile(t, seed, "campaign:\n  name: Lost Mine\nentities: []\n", 0)
	path := filepath.Join(dir, "config.yaml")
	writeFile(t, path, watcherValidYAML+"seed:\n  owner_user_id: gm-1\n  files:\n    - path: "+seed+"\n", 0)
	_, diffs := startWatcher(t, path)

	writeFile(t, seed, "campaign:\n  name: Lost Mine\nentities:\n  - name: Gundren\n    type: npc\n", time.Second)
	d := waitDiff(t, diffs)
	if !d.SeedChanged {
		t.Fatalf("seed edit not reported: %+v", d)
	}
	if len(d.NewSeed.Files) != 1 || d.NewSeed.Files[0].Path != seed || d.NewSeed.OwnerUserID != "gm-1" {
		t.Errorf("NewSeed = %+v", d.NewSeed)
	}
	if d.LogLevelChanged || d.ResolutionChanged {
		t.Errorf("config sections reported changed: %+v", d)
	}

	writeFile(t, seed, "campaign:\n  name: Lost Mine\nentities:\n  - name: Gundren\n    type: npc\n", 2*time.Second)
	expectQuiet(t, diffs)
}
