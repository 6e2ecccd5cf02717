// Package app wires all questweaver subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems and imports the configured seed files, Run serves the HTTP API
// and the scheduled community refresh, and Shutdown tears everything down in
// order.
//
// For testing, inject implementations via functional options
// (WithEntityStore, WithVectorIndex, etc.). When an option is not provided,
// New creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/questweaver/internal/api"
	"github.com/MrWong99/questweaver/internal/auth"
	"github.com/MrWong99/questweaver/internal/campaign"
	"github.com/MrWong99/questweaver/internal/community"
	"github.com/MrWong99/questweaver/internal/config"
	"github.com/MrWong99/questweaver/internal/dedupe"
	"github.com/MrWong99/questweaver/internal/entity"
	"github.com/MrWong99/questweaver/internal/extract"
	"github.com/MrWong99/questweaver/internal/graph"
	"github.com/MrWong99/questweaver/internal/health"
	"github.com/MrWong99/questweaver/internal/mcp/mcphost"
	"github.com/MrWong99/questweaver/internal/mcp/mcpserver"
	"github.com/MrWong99/questweaver/internal/mcp/tools/campaigntool"
	"github.com/MrWong99/questweaver/internal/observe"
	"github.com/MrWong99/questweaver/internal/readiness"
	"github.com/MrWong99/questweaver/pkg/memory"
	"github.com/MrWong99/questweaver/pkg/memory/postgres"
	"github.com/MrWong99/questweaver/pkg/memory/qdrant"
	"github.com/MrWong99/questweaver/pkg/provider/embeddings"
	"github.com/MrWong99/questweaver/pkg/provider/llm"
)

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured. Populated by main.go via the config registry.
type Providers struct {
	LLM        llm.Provider
	Embeddings embeddings.Provider
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers
	version   string
	metrics   *observe.Metrics
	logLevel  *slog.LevelVar

	// Subsystems, initialised in New and torn down in Shutdown.
	store       entity.Store
	index       memory.VectorIndex
	resolver    *dedupe.Resolver
	graph       *graph.Service
	communities *community.Detector
	coverage    *readiness.SemanticCoverage
	analyzer    *readiness.Analyzer
	planning    *readiness.PlanningIndex
	campaigns   *campaign.Service
	extractor   *extract.Extractor
	auth        auth.Resolver
	host        *mcphost.Host
	mcp         *mcpserver.Server
	health      *health.Handler
	api         *api.Server

	checkers []health.Checker

	// mu guards communityCfg, which hot reload may replace.
	mu           sync.RWMutex
	communityCfg config.CommunityConfig
	wake         chan struct{}

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithEntityStore injects an entity store instead of creating one from config.
func WithEntityStore(s entity.Store) Option {
	return func(a *App) { a.store = s }
}

// WithVectorIndex injects a vector index instead of creating one from config.
func WithVectorIndex(idx memory.VectorIndex) Option {
	return func(a *App) { a.index = idx }
}

// WithMetrics records on m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogLevel lets [App.ApplyConfig] change the level of the process logger.
func WithLogLevel(lv *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = lv }
}

// WithVersion sets the version reported to MCP clients.
func WithVersion(v string) Option {
	return func(a *App) { a.version = v }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry). Use Option functions
// to inject test doubles for any subsystem.
//
// New performs all initialisation synchronously: store connection, vector
// index selection, service construction, tool registration and seed import.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{
		cfg:          cfg,
		providers:    providers,
		version:      "dev",
		communityCfg: cfg.Community,
		wake:         make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Entity store ──────────────────────────────────────────────────
	pg, err := a.initStore(ctx)
	if err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init store: %w", err)
	}

	// ── 2. Vector index ──────────────────────────────────────────────────
	if err := a.initVectorIndex(pg); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init vector index: %w", err)
	}

	// ── 3. Knowledge graph services ──────────────────────────────────────
	a.initServices()

	// ── 4. Auth, tools and transports ────────────────────────────────────
	if err := a.initSurfaces(); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init surfaces: %w", err)
	}

	// ── 5. Seed files ────────────────────────────────────────────────────
	if err := a.seed(ctx, cfg.Seed); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: seed: %w", err)
	}

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initStore connects PostgreSQL when a DSN is configured and no store was
// injected. The returned store is nil otherwise.
func (a *App) initStore(ctx context.Context) (*postgres.Store, error) {
	if a.store != nil {
		return nil, nil
	}
	dsn := a.cfg.Store.PostgresDSN
	if dsn == "" {
		a.store = entity.NewMemStore()
		return nil, nil
	}

	dims := a.cfg.Store.EmbeddingDimensions
	if dims == 0 {
		dims = config.DefaultEmbeddingDimensions
	}
	if e := a.providers.Embeddings; e != nil {
		if err := embeddings.CheckDimensions(e, dims); err != nil {
			return nil, fmt.Errorf("store: %w", err)
		}
	}

	store, err := postgres.NewStore(ctx, dsn, dims, postgres.WithMaxConns(a.cfg.Store.MaxConns))
	if err != nil {
		return nil, err
	}
	a.store = store
	a.checkers = append(a.checkers, health.Checker{Name: "store", Check: store.Ping})
	a.closers = append(a.closers, func() error {
		store.Close()
		return nil
	})
	return store, nil
}

// initVectorIndex selects the configured backend unless one was injected.
func (a *App) initVectorIndex(pg *postgres.Store) error {
	if a.index != nil {
		return nil
	}
	switch a.cfg.Vector.Backend {
	case config.VectorPgvector:
		if pg == nil {
			return errors.New("vector backend pgvector requires the postgres store")
		}
		a.index = pg.Vectors()

	case config.VectorQdrant:
		q := a.cfg.Vector.Qdrant
		dims := a.cfg.Store.EmbeddingDimensions
		if dims == 0 {
			dims = config.DefaultEmbeddingDimensions
		}
		idx, err := qdrant.New(qdrant.Config{
			Host:             q.Host,
			Port:             q.Port,
			APIKey:           q.APIKey,
			UseTLS:           q.UseTLS,
			CollectionPrefix: q.CollectionPrefix,
			Dimensions:       dims,
		})
		if err != nil {
			return err
		}
		a.index = idx
		a.checkers = append(a.checkers, health.Checker{Name: "vector_index", Check: idx.Ping})
		a.closers = append(a.closers, idx.Close)

	default:
		a.index = memory.NewMemIndex()
	}
	return nil
}

// initServices builds the dedupe chain, the graph, community detection,
// readiness analysis, campaigns and extraction. Services that need a
// missing provider are left out or run without that signal.
func (a *App) initServices() {
	emb := a.providers.Embeddings
	res := a.cfg.Resolution
	rd := a.cfg.Readiness

	a.resolver = dedupe.NewStandard(a.store, a.index, emb, dedupe.Config{
		SimilarityThreshold: res.SimilarityThreshold,
		FuzzyThreshold:      res.FuzzyThreshold,
		Timeout:             res.EmbedTimeout,
		PhoneticThreshold:   res.PhoneticThreshold,
	}, dedupe.WithMetrics(a.metrics))

	graphOpts := []graph.Option{graph.WithResolver(a.resolver)}
	if emb != nil {
		graphOpts = append(graphOpts,
			graph.WithVectorIndex(a.index, emb),
			graph.WithIndexTimeout(res.EmbedTimeout),
		)
	}
	a.graph = graph.New(a.store, graphOpts...)

	communityOpts := []community.Option{community.WithMetrics(a.metrics)}
	if a.providers.LLM != nil {
		communityOpts = append(communityOpts,
			community.WithSummarizer(a.providers.LLM),
			community.WithSummaryTimeout(a.cfg.Community.SummaryTimeout),
		)
	}
	a.communities = community.NewDetector(a.store, communityOpts...)

	signals := []readiness.Provider{readiness.NewStructural(a.store)}
	if emb != nil {
		a.coverage = readiness.NewSemanticCoverage(a.index, emb,
			readiness.WithCoverageThreshold(rd.CoverageThreshold),
			readiness.WithSemanticTimeout(rd.SearchTimeout),
		)
		a.planning = readiness.NewPlanningIndex(a.index, emb, rd.SearchTimeout)
		signals = append(signals, a.coverage)
	}
	metaOpts := []readiness.MetadataOption{readiness.WithClassifierTimeout(rd.ClassifierTimeout)}
	if a.providers.LLM != nil {
		metaOpts = append(metaOpts, readiness.WithClassifier(a.providers.LLM))
	}
	signals = append(signals, readiness.NewMetadataCoverage(metaOpts...))
	a.analyzer = readiness.NewAnalyzer(a.store, signals,
		readiness.WithProviderTimeout(rd.ProviderTimeout),
		readiness.WithMetrics(a.metrics),
	)

	campaignOpts := []campaign.Option{campaign.WithVectorIndex(a.index)}
	if a.planning != nil {
		campaignOpts = append(campaignOpts, campaign.WithPlanner(a.planning))
	}
	a.campaigns = campaign.New(a.store, campaignOpts...)

	if a.providers.LLM != nil {
		a.extractor = extract.New(a.providers.LLM, a.graph)
	}
}

// initSurfaces builds the token resolver, the tool host, the MCP server and
// the HTTP API.
func (a *App) initSurfaces() error {
	resolver, err := auth.NewJWTResolver(auth.Config{
		Secret:    a.cfg.Auth.JWTSecret,
		Issuer:    a.cfg.Auth.Issuer,
		DevToken:  a.cfg.Auth.DevToken,
		DevUserID: a.cfg.Auth.DevUserID,
	})
	if err != nil {
		return err
	}
	a.auth = resolver

	a.host = mcphost.New(
		mcphost.WithMetrics(a.metrics),
		mcphost.WithWindowSize(a.cfg.MCP.ToolWindow),
	)
	deps := campaigntool.Deps{
		Graph:       a.graph,
		Communities: a.communities,
		Readiness:   a.analyzer,
		Planning:    a.planning,
		Extractor:   a.extractor,
		Campaigns:   a.campaigns,
		Auth:        a.auth,
	}
	if err := a.host.RegisterAll(campaigntool.NewTools(deps)); err != nil {
		return fmt.Errorf("register tools: %w", err)
	}

	a.mcp = mcpserver.New(a.host, a.version,
		mcpserver.WithResolver(a.auth),
		mcpserver.WithStdioUser(a.cfg.MCP.StdioUser),
	)

	a.checkers = append(a.checkers, health.Checker{Name: "tools", Check: a.toolsHealthy, Optional: true})
	a.health = health.New(a.checkers...)

	apiCfg := api.Config{
		Addr:        a.cfg.Server.ListenAddr,
		BodyLimit:   a.cfg.Server.BodyLimit,
		CORSOrigins: a.cfg.Server.CORSOrigins,
	}
	if tls := a.cfg.Server.TLS; tls != nil {
		apiCfg.CertFile, apiCfg.KeyFile = tls.CertFile, tls.KeyFile
	}
	apiDeps := api.Deps{
		Campaigns: a.campaigns,
		Tools:     a.host,
		Auth:      a.auth,
		Health:    a.health,
		Metrics:   a.metrics,
	}
	// A typed nil would defeat the handler's nil check.
	if a.planning != nil {
		apiDeps.Planning = a.planning
	}
	if a.cfg.MCP.Enabled {
		apiCfg.MCPPath = a.cfg.MCP.Path
		apiDeps.MCP = a.mcp.Handler()
	}
	a.api = api.New(apiCfg, apiDeps)
	return nil
}

// toolsHealthy fails when any tool's recent error rate marks it degraded.
func (a *App) toolsHealthy(context.Context) error {
	var degraded []string
	for _, h := range a.host.Health() {
		if h.Degraded {
			degraded = append(degraded, h.Name)
		}
	}
	if len(degraded) > 0 {
		return fmt.Errorf("degraded tools: %v", degraded)
	}
	return nil
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves the HTTP API and the scheduled community refresh until ctx is
// cancelled or the server fails.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.refreshLoop(ctx)
		return nil
	})
	g.Go(func() error {
		return a.api.Run(ctx)
	})

	slog.Info("app running",
		"addr", a.cfg.Server.ListenAddr,
		"tools", len(a.host.Tools()),
		"mcp", a.cfg.MCP.Enabled,
	)
	return g.Wait()
}

// RunStdio serves the tools over MCP on stdin/stdout instead of HTTP.
func (a *App) RunStdio(ctx context.Context) error {
	return a.mcp.RunStdio(ctx)
}

// Handler exposes the HTTP API without listening, for tests and embedding.
func (a *App) Handler() *api.Server {
	return a.api
}

// ─── Hot reload ──────────────────────────────────────────────────────────────

// ApplyConfig applies the hot-reloadable part of a config change. Sections
// listed in d.RestartRequired are left alone.
func (a *App) ApplyConfig(ctx context.Context, d config.ConfigDiff) {
	if d.LogLevelChanged && a.logLevel != nil {
		a.logLevel.Set(SlogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.ResolutionChanged {
		a.resolver.SetThresholds(d.NewResolution.SimilarityThreshold, d.NewResolution.FuzzyThreshold)
		a.resolver.SetPhoneticThreshold(d.NewResolution.PhoneticThreshold)
		slog.Info("resolution thresholds changed",
			"similarity", d.NewResolution.SimilarityThreshold,
			"fuzzy", d.NewResolution.FuzzyThreshold,
			"phonetic", d.NewResolution.PhoneticThreshold,
		)
	}
	if d.ReadinessChanged && a.coverage != nil {
		a.coverage.SetThreshold(d.NewReadiness.CoverageThreshold)
		slog.Info("coverage threshold changed", "threshold", d.NewReadiness.CoverageThreshold)
	}
	if d.CommunityChanged {
		a.mu.Lock()
		a.communityCfg = d.NewCommunity
		a.mu.Unlock()
		select {
		case a.wake <- struct{}{}:
		default:
		}
		slog.Info("community settings changed", "refresh_interval", d.NewCommunity.RefreshInterval)
	}
	if d.SeedChanged {
		if err := a.seed(ctx, d.NewSeed); err != nil {
			slog.Warn("seed reload failed", "err", err)
		} else {
			slog.Info("seed files re-imported", "files", len(d.NewSeed.Files))
		}
	}
}

// SlogLevel maps a config log level to its slog equivalent.
func SlogLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in init order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))
		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// closeAll releases whatever New opened before it failed.
func (a *App) closeAll() {
	for _, closer := range a.closers {
		if err := closer(); err != nil {
			slog.Warn("closer error", "err", err)
		}
	}
	a.closers = nil
}
