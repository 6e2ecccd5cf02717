package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Defaults applied by [ApplyDefaults] to empty fields.
const (
	DefaultListenAddr          = ":8080"
	DefaultMCPPath             = "/mcp"
	DefaultEmbeddingDimensions = 1536
	DefaultQdrantPort          = 6334
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm":        {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"embeddings": {"openai", "ollama"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
//
// A .env file next to the config, and one in the working directory, are
// loaded first without overriding variables already set. ${VAR} references
// in the file are then expanded from the environment.
func Load(path string) (*Config, error) {
	loadDotEnv(filepath.Join(filepath.Dir(path), ".env"), ".env")

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader expands environment references in the YAML read from r,
// decodes it strictly, applies defaults and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	cfg := &Config{}
	dec := yaml.NewDecoder(strings.NewReader(os.ExpandEnv(string(raw))))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadDotEnv loads every existing file in paths. Missing files are skipped.
func loadDotEnv(paths ...string) {
	seen := make(map[string]bool, len(paths))
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil || seen[abs] {
			continue
		}
		seen[abs] = true
		if err := godotenv.Load(abs); err != nil && !errors.Is(err, fs.ErrNotExist) {
			slog.Warn("config: cannot load env file", "path", abs, "err", err)
		}
	}
}

// ApplyDefaults fills empty fields that have a process-wide default. Service
// tunables left at zero keep the defaults of the service that reads them.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Store.EmbeddingDimensions == 0 {
		cfg.Store.EmbeddingDimensions = DefaultEmbeddingDimensions
	}
	if cfg.Vector.Backend == "" {
		cfg.Vector.Backend = VectorMemory
		if cfg.Store.PostgresDSN != "" {
			cfg.Vector.Backend = VectorPgvector
		}
	}
	if cfg.Vector.Backend == VectorQdrant && cfg.Vector.Qdrant.Port == 0 {
		cfg.Vector.Qdrant.Port = DefaultQdrantPort
	}
	if cfg.MCP.Path == "" {
		cfg.MCP.Path = DefaultMCPPath
	}
	for i := range cfg.Seed.Files {
		if cfg.Seed.Files[i].Format == "" {
			cfg.Seed.Files[i].Format = SeedYAML
		}
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Providers
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("embeddings", cfg.Providers.Embeddings.Name)
	for i, fb := range cfg.Providers.LLMFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.llm_fallbacks[%d].name is required", i))
		}
		validateProviderName("llm", fb.Name)
	}
	for i, fb := range cfg.Providers.EmbeddingFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.embedding_fallbacks[%d].name is required", i))
		}
		validateProviderName("embeddings", fb.Name)
	}
	if cfg.Providers.LLM.Name == "" && len(cfg.Providers.LLMFallbacks) > 0 {
		errs = append(errs, errors.New("providers.llm_fallbacks requires providers.llm"))
	}
	if cfg.Providers.Embeddings.Name == "" && len(cfg.Providers.EmbeddingFallbacks) > 0 {
		errs = append(errs, errors.New("providers.embedding_fallbacks requires providers.embeddings"))
	}
	if cfg.Providers.LLM.Name == "" {
		slog.Warn("no LLM provider configured; extraction, metadata classification and community summaries are unavailable")
	}
	if cfg.Providers.Embeddings.Name == "" {
		slog.Warn("no embeddings provider configured; semantic duplicate detection and planning coverage are unavailable")
	}

	// Store and vector index
	if cfg.Store.EmbeddingDimensions < 0 {
		errs = append(errs, fmt.Errorf("store.embedding_dimensions must be positive, got %d", cfg.Store.EmbeddingDimensions))
	}
	if cfg.Store.MaxConns < 0 {
		errs = append(errs, fmt.Errorf("store.max_conns must not be negative, got %d", cfg.Store.MaxConns))
	}
	if cfg.Vector.Backend != "" && !cfg.Vector.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("vector.backend %q is invalid; valid values: memory, pgvector, qdrant", cfg.Vector.Backend))
	}
	if cfg.Vector.Backend == VectorPgvector && cfg.Store.PostgresDSN == "" {
		errs = append(errs, errors.New("vector.backend pgvector requires store.postgres_dsn"))
	}
	if cfg.Vector.Backend == VectorQdrant && cfg.Vector.Qdrant.Host == "" {
		errs = append(errs, errors.New("vector.qdrant.host is required when vector.backend is qdrant"))
	}
	if cfg.Store.PostgresDSN == "" {
		slog.Warn("store.postgres_dsn is empty; campaigns and entities are kept in memory only")
	}

	// Auth
	if cfg.Auth.JWTSecret == "" && cfg.Auth.DevToken == "" {
		errs = append(errs, errors.New("auth requires jwt_secret or dev_token"))
	}
	if cfg.Auth.DevToken != "" {
		if cfg.Auth.DevUserID == "" {
			errs = append(errs, errors.New("auth.dev_user_id is required when auth.dev_token is set"))
		}
		slog.Warn("auth.dev_token is set; do not use it in production")
	}

	// Tunables
	errs = append(errs, checkUnit("server.trace_sample_ratio", cfg.Server.TraceSampleRatio)...)
	errs = append(errs, checkUnit("resolution.similarity_threshold", cfg.Resolution.SimilarityThreshold)...)
	errs = append(errs, checkUnit("resolution.fuzzy_threshold", cfg.Resolution.FuzzyThreshold)...)
	errs = append(errs, checkUnit("resolution.phonetic_threshold", cfg.Resolution.PhoneticThreshold)...)
	errs = append(errs, checkUnit("readiness.coverage_threshold", cfg.Readiness.CoverageThreshold)...)
	for name, d := range map[string]int64{
		"resolution.embed_timeout":     int64(cfg.Resolution.EmbedTimeout),
		"readiness.search_timeout":     int64(cfg.Readiness.SearchTimeout),
		"readiness.classifier_timeout": int64(cfg.Readiness.ClassifierTimeout),
		"readiness.provider_timeout":   int64(cfg.Readiness.ProviderTimeout),
		"community.summary_timeout":    int64(cfg.Community.SummaryTimeout),
		"community.refresh_interval":   int64(cfg.Community.RefreshInterval),
	} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative", name))
		}
	}
	if cfg.Community.Resolution < 0 {
		errs = append(errs, fmt.Errorf("community.resolution must be positive, got %v", cfg.Community.Resolution))
	}
	if cfg.Community.MinCommunitySize < 0 {
		errs = append(errs, fmt.Errorf("community.min_community_size must not be negative, got %d", cfg.Community.MinCommunitySize))
	}
	if cfg.Community.MaxLevels < 0 {
		errs = append(errs, fmt.Errorf("community.max_levels must not be negative, got %d", cfg.Community.MaxLevels))
	}

	// MCP
	if cfg.MCP.Enabled && !strings.HasPrefix(cfg.MCP.Path, "/") {
		errs = append(errs, fmt.Errorf("mcp.path %q must start with /", cfg.MCP.Path))
	}
	if cfg.MCP.Enabled && strings.HasPrefix(cfg.MCP.Path, "/api") {
		errs = append(errs, fmt.Errorf("mcp.path %q collides with the /api routes", cfg.MCP.Path))
	}
	if cfg.MCP.ToolWindow < 0 {
		errs = append(errs, fmt.Errorf("mcp.tool_window must not be negative, got %d", cfg.MCP.ToolWindow))
	}

	// Seed files
	if len(cfg.Seed.Files) > 0 && cfg.Seed.OwnerUserID == "" {
		errs = append(errs, errors.New("seed.owner_user_id is required when seed.files is set"))
	}
	for i, f := range cfg.Seed.Files {
		prefix := fmt.Sprintf("seed.files[%d]", i)
		if f.Path == "" {
			errs = append(errs, fmt.Errorf("%s.path is required", prefix))
		}
		if f.Format != "" && !f.Format.IsValid() {
			errs = append(errs, fmt.Errorf("%s.format %q is invalid; valid values: yaml, foundry, roll20", prefix, f.Format))
		}
		if (f.Format == SeedFoundry || f.Format == SeedRoll20) && f.Campaign == "" {
			errs = append(errs, fmt.Errorf("%s.campaign is required for %s exports", prefix, f.Format))
		}
	}

	return errors.Join(errs...)
}

func checkUnit(name string, v float64) []error {
	if v < 0 || v > 1 {
		return []error{fmt.Errorf("%s %.2f is out of range [0, 1]", name, v)}
	}
	return nil
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name; may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
