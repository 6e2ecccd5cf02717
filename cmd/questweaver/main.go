// Command questweaver serves the campaign knowledge graph over HTTP and MCP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/questweaver/internal/app"
	"github.com/MrWong99/questweaver/internal/auth"
	"github.com/MrWong99/questweaver/internal/config"
	"github.com/MrWong99/questweaver/internal/observe"
	"github.com/MrWong99/questweaver/internal/resilience"
	"github.com/MrWong99/questweaver/pkg/provider/embeddings"
	ollamaembed "github.com/MrWong99/questweaver/pkg/provider/embeddings/ollama"
	oaembed "github.com/MrWong99/questweaver/pkg/provider/embeddings/openai"
	"github.com/MrWong99/questweaver/pkg/provider/llm"
	"github.com/MrWong99/questweaver/pkg/provider/llm/anyllm"
	oallm "github.com/MrWong99/questweaver/pkg/provider/llm/openai"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	stdio := flag.Bool("mcp-stdio", false, "serve the tools over MCP on stdin/stdout instead of HTTP")
	issueFor := flag.String("issue-token", "", "print a signed bearer token for this user id and exit")
	tokenTTL := flag.Duration("token-ttl", 24*time.Hour, "lifetime of a token printed by -issue-token")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "questweaver: config file %q not found; copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "questweaver: %v\n", err)
		}
		return 1
	}

	if *issueFor != "" {
		return issueToken(cfg, *issueFor, *tokenTTL)
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	// Logs go to stderr so stdout stays free for the MCP stdio transport.
	var level slog.LevelVar
	level.Set(app.SlogLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &level})))

	slog.Info("questweaver starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:      "questweaver",
		ServiceVersion:   version,
		TraceSampleRatio: cfg.Server.TraceSampleRatio,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, err := buildProviders(cfg, reg, metrics)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(os.Stderr, cfg)

	application, err := app.New(ctx, cfg, providers,
		app.WithMetrics(metrics),
		app.WithLogLevel(&level),
		app.WithVersion(version),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Hot reload ────────────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(d config.ConfigDiff) {
		application.ApplyConfig(ctx, d)
	})
	if err != nil {
		slog.Warn("config hot reload disabled", "err", err)
	} else {
		go watcher.Run(ctx)
	}

	if *stdio {
		slog.Info("serving MCP on stdio")
		err = application.RunStdio(ctx)
	} else {
		slog.Info("server ready; press Ctrl+C to shut down")
		err = application.Run(ctx)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// issueToken prints a bearer token signed with the configured secret.
func issueToken(cfg *config.Config, userID string, ttl time.Duration) int {
	r, err := auth.NewJWTResolver(auth.Config{
		Secret:    cfg.Auth.JWTSecret,
		Issuer:    cfg.Auth.Issuer,
		DevToken:  cfg.Auth.DevToken,
		DevUserID: cfg.Auth.DevUserID,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "questweaver: %v\n", err)
		return 1
	}
	token, err := r.Issue(userID, ttl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "questweaver: %v\n", err)
		return 1
	}
	fmt.Println(token)
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in provider factories into reg.
func registerBuiltinProviders(reg *config.Registry) {
	// ── LLM ───────────────────────────────────────────────────────────────────
	// openai talks to the API directly for native JSON-schema responses.
	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []oallm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oallm.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, oallm.WithOrganization(org))
		}
		if d := optDuration(entry.Options, "timeout"); d > 0 {
			opts = append(opts, oallm.WithTimeout(d))
		}
		return oallm.New(entry.APIKey, entry.Model, opts...)
	})

	// Every other backend goes through any-llm with a prompted schema.
	for _, providerName := range anyllm.Backends {
		if slices.Contains(reg.Names(config.KindLLM), providerName) {
			continue
		}
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// ── Embeddings ────────────────────────────────────────────────────────────

	reg.RegisterEmbeddings("openai", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		var opts []oaembed.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaembed.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, oaembed.WithOrganization(org))
		}
		if dims := optInt(entry.Options, "dimensions"); dims > 0 {
			opts = append(opts, oaembed.WithDimensions(dims))
		}
		if d := optDuration(entry.Options, "timeout"); d > 0 {
			opts = append(opts, oaembed.WithTimeout(d))
		}
		return oaembed.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterEmbeddings("ollama", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		var opts []ollamaembed.Option
		if entry.APIKey != "" {
			opts = append(opts, ollamaembed.WithAPIKey(entry.APIKey))
		}
		if dims := optInt(entry.Options, "dimensions"); dims > 0 {
			opts = append(opts, ollamaembed.WithDimensions(dims))
		}
		if n := optInt(entry.Options, "max_in_flight"); n > 0 {
			opts = append(opts, ollamaembed.WithMaxInFlight(int64(n)))
		}
		if d := optDuration(entry.Options, "timeout"); d > 0 {
			opts = append(opts, ollamaembed.WithTimeout(d))
		}
		return ollamaembed.New(entry.BaseURL, entry.Model, opts...)
	})

	for _, kind := range []string{config.KindLLM, config.KindEmbeddings} {
		slog.Debug("registered providers", "kind", kind, "names", reg.Names(kind))
	}
}

// buildProviders instantiates the configured providers and wraps each
// primary with its fallbacks behind per-provider circuit breakers.
func buildProviders(cfg *config.Config, reg *config.Registry, metrics *observe.Metrics) (*app.Providers, error) {
	ps := &app.Providers{}
	fbCfg := resilience.FallbackConfig{Metrics: metrics}

	if entry := cfg.Providers.LLM; entry.Name != "" {
		p, err := reg.CreateLLM(entry)
		if err != nil {
			return nil, fmt.Errorf("create llm provider %q: %w", entry.Name, err)
		}
		group := resilience.NewLLMFallback(p, entry.Name, fbCfg)
		for _, fb := range cfg.Providers.LLMFallbacks {
			fp, err := reg.CreateLLM(fb)
			if err != nil {
				return nil, fmt.Errorf("create llm fallback %q: %w", fb.Name, err)
			}
			group.AddFallback(fb.Name, fp)
		}
		ps.LLM = group
		slog.Info("provider created", "kind", "llm", "name", entry.Name, "fallbacks", len(cfg.Providers.LLMFallbacks))
	}

	if entry := cfg.Providers.Embeddings; entry.Name != "" {
		p, err := reg.CreateEmbeddings(entry)
		if err != nil {
			return nil, fmt.Errorf("create embeddings provider %q: %w", entry.Name, err)
		}
		group := resilience.NewEmbeddingsFallback(p, entry.Name, fbCfg)
		for _, fb := range cfg.Providers.EmbeddingFallbacks {
			fp, err := reg.CreateEmbeddings(fb)
			if err != nil {
				return nil, fmt.Errorf("create embeddings fallback %q: %w", fb.Name, err)
			}
			if !group.AddFallback(fb.Name, fp) {
				slog.Warn("embeddings fallback skipped: dimension mismatch",
					"name", fb.Name, "dimensions", fp.Dimensions(), "want", p.Dimensions())
			}
		}
		ps.Embeddings = group
		slog.Info("provider created", "kind", "embeddings", "name", entry.Name, "dimensions", p.Dimensions())
	}

	return ps, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(w io.Writer, cfg *config.Config) {
	fmt.Fprintln(w, "╔═══════════════════════════════════════╗")
	fmt.Fprintln(w, "║      questweaver: startup summary     ║")
	fmt.Fprintln(w, "╠═══════════════════════════════════════╣")
	printProvider(w, "LLM", cfg.Providers.LLM.Name, cfg.Providers.LLM.Model)
	printProvider(w, "Embeddings", cfg.Providers.Embeddings.Name, cfg.Providers.Embeddings.Model)
	store := "memory"
	if cfg.Store.PostgresDSN != "" {
		store = "postgres"
	}
	printRow(w, "Store", store)
	printRow(w, "Vector index", string(cfg.Vector.Backend))
	mcp := "(disabled)"
	if cfg.MCP.Enabled {
		mcp = cfg.MCP.Path
	}
	printRow(w, "MCP endpoint", mcp)
	printRow(w, "Seed files", fmt.Sprint(len(cfg.Seed.Files)))
	if cfg.Server.ListenAddr != "" {
		printRow(w, "Listen addr", cfg.Server.ListenAddr)
	}
	fmt.Fprintln(w, "╚═══════════════════════════════════════╝")
}

func printProvider(w io.Writer, kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	printRow(w, kind, value)
}

func printRow(w io.Writer, key, value string) {
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Fprintf(w, "║  %-14s  : %-19s ║\n", key, value)
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// optInt accepts the integer shapes YAML decoding produces.
func optInt(opts map[string]any, key string) int {
	switch v := opts[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

// optDuration parses a Go duration string such as "30s".
func optDuration(opts map[string]any, key string) time.Duration {
	s := optString(opts, key)
	if s == "" {
		return 0
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		slog.Warn("ignoring invalid provider option", "key", key, "value", s, "err", err)
		return 0
	}
	return d
}
