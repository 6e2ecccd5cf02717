package config

import "slices"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; everything else
// needs a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// ResolutionChanged is true when a duplicate-detection threshold changed.
	ResolutionChanged bool
	NewResolution     ResolutionConfig

	// ReadinessChanged is true when the coverage threshold changed.
	ReadinessChanged bool
	NewReadiness     ReadinessConfig

	// CommunityChanged is true when a detection option used by the scheduled
	// refresh changed.
	CommunityChanged bool
	NewCommunity     CommunityConfig

	// SeedChanged is true when the seed section or the content of a seed
	// file changed. Seed imports are idempotent, so applying it re-imports
	// every file in NewSeed.
	SeedChanged bool
	NewSeed     SeedConfig

	// RestartRequired lists changed sections that are only read at startup.
	RestartRequired []string
}

// Changed reports whether d carries anything to apply or report.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.ResolutionChanged || d.ReadinessChanged ||
		d.CommunityChanged || d.SeedChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Resolution.SimilarityThreshold != new.Resolution.SimilarityThreshold ||
		old.Resolution.FuzzyThreshold != new.Resolution.FuzzyThreshold ||
		old.Resolution.PhoneticThreshold != new.Resolution.PhoneticThreshold {
		d.ResolutionChanged = true
		d.NewResolution = new.Resolution
	}

	if old.Readiness.CoverageThreshold != new.Readiness.CoverageThreshold {
		d.ReadinessChanged = true
		d.NewReadiness = new.Readiness
	}

	if old.Community != new.Community {
		d.CommunityChanged = true
		d.NewCommunity = new.Community
	}

	if old.Seed.OwnerUserID != new.Seed.OwnerUserID || !slices.Equal(old.Seed.Files, new.Seed.Files) {
		d.SeedChanged = true
		d.NewSeed = new.Seed
	}

	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}
	if !sameProvider(old.Providers.LLM, new.Providers.LLM) || !sameProvider(old.Providers.Embeddings, new.Providers.Embeddings) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if old.Store != new.Store {
		d.RestartRequired = append(d.RestartRequired, "store")
	}
	if old.Vector != new.Vector {
		d.RestartRequired = append(d.RestartRequired, "vector")
	}
	if old.Auth != new.Auth {
		d.RestartRequired = append(d.RestartRequired, "auth")
	}
	if old.MCP != new.MCP {
		d.RestartRequired = append(d.RestartRequired, "mcp")
	}

	return d
}

// sameProvider compares the scalar fields of two entries. Options are not
// compared.
func sameProvider(a, b ProviderEntry) bool {
	return a.Name == b.Name && a.Model == b.Model && a.BaseURL == b.BaseURL && a.APIKey == b.APIKey
}
