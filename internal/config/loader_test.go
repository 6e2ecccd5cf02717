package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MrWong99/questweaver/internal/config"
)

func TestLoad_FileNotFound(t *testing.T) {
	t.Parallel()
	_, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("want os.ErrNotExist, got %v", err)
	}
}

func TestLoad_DotEnvNextToConfig(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ".env"), "QW_LOADER_SECRET=from-dotenv\nQW_LOADER_DSN=postgres://db/qw\n", 0)
	writeFile(t, filepath.Join(dir, "config.yaml"), `
auth:
  jwt_secret: ${QW_LOADER_SECRET}
store:
  postgres_dsn: ${QW_LOADER_DSN}
`, 0)
	t.Cleanup(func() {
		os.Unsetenv("QW_LOADER_SECRET")
		os.Unsetenv("QW_LOADER_DSN")
	})

	cfg, err := config.Load(filepath.Join(dir, "config.yaml"))
	if err != nil {
		t.Fatalf("Load: unexpected error: %v", err)
	}
	if cfg.Auth.JWTSecret != "from-dotenv" {
		t.Errorf("jwt_secret: got %q, want from-dotenv", cfg.Auth.JWTSecret)
	}
	if cfg.Vector.Backend != config.VectorPgvector {
		t.Errorf("vector.backend: got %q, want pgvector", cfg.Vector.Backend)
	}
}

func TestLoad_EnvironmentWinsOverDotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("QW_LOADER_PRIORITY", "from-env")
	writeFile(t, filepath.Join(dir, ".env"), "QW_LOADER_PRIORITY=from-dotenv\n", 0)
	writeFile(t, filepath.Join(dir, "config.yaml"), "auth:\n  jwt_secret: ${QW_LOADER_PRIORITY}\n", 0)

	cfg, err := config.Load(filepath.Join(dir, "config.yaml"))
	if err != nil {
		t.Fatalf("Load: unexpected error: %v", err)
	}
	if cfg.Auth.JWTSecret != "from-env" {
		t.Errorf("jwt_secret: got %q, want from-env", cfg.Auth.JWTSecret)
	}
}

func TestLoad_ParseErrorNamesFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "broken.yaml")
	writeFile(t, path, "server: [unclosed\n", 0)

	_, err := config.Load(path)
	if err == nil {
		t.Fatal("expected parse error, got nil")
	}
	if !strings.Contains(err.Error(), "broken.yaml") {
		t.Errorf("error should name the file, got: %v", err)
	}
}
