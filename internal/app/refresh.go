package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/MrWong99/questweaver/internal/community"
	"github.com/MrWong99/questweaver/internal/config"
)

func (a *App) communityConfig() config.CommunityConfig {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.communityCfg
}

// refreshLoop re-runs community detection on the configured interval. A
// zero interval parks the loop until hot reload sets one.
func (a *App) refreshLoop(ctx context.Context) {
	for {
		var (
			timer *time.Timer
			tick  <-chan time.Time
		)
		if d := a.communityConfig().RefreshInterval; d > 0 {
			timer = time.NewTimer(d)
			tick = timer.C
		}
		fired := false
		select {
		case <-ctx.Done():
		case <-a.wake:
		case <-tick:
			fired = true
		}
		if timer != nil {
			timer.Stop()
		}
		if ctx.Err() != nil {
			return
		}
		if !fired {
			continue
		}
		if err := a.RefreshCommunities(ctx); err != nil && ctx.Err() == nil {
			slog.Warn("community refresh finished with errors", "err", err)
		}
	}
}

// RefreshCommunities re-detects the communities of every campaign with the
// current settings and, when enabled, summarizes them. A failing campaign
// does not stop the others; all failures are joined in the result.
func (a *App) RefreshCommunities(ctx context.Context) error {
	cfg := a.communityConfig()
	opts := community.Options{
		Resolution:       cfg.Resolution,
		MinCommunitySize: cfg.MinCommunitySize,
		MaxLevels:        cfg.MaxLevels,
	}

	campaigns, err := a.campaigns.All(ctx)
	if err != nil {
		return err
	}

	var errs []error
	for _, c := range campaigns {
		if err := ctx.Err(); err != nil {
			return err
		}
		var detectErr error
		if opts.MaxLevels == 1 {
			_, detectErr = a.communities.Detect(ctx, c.ID, opts)
		} else {
			_, detectErr = a.communities.DetectMultiLevel(ctx, c.ID, opts)
		}
		if detectErr != nil {
			errs = append(errs, detectErr)
			slog.Warn("community detection failed", "campaign_id", c.ID, "err", detectErr)
			continue
		}
		if cfg.Summarize && a.providers.LLM != nil {
			if _, err := a.communities.Summarize(ctx, c.ID); err != nil {
				errs = append(errs, err)
				slog.Warn("community summary failed", "campaign_id", c.ID, "err", err)
			}
		}
	}
	slog.Debug("community refresh done", "campaigns", len(campaigns), "failed", len(errs))
	return errors.Join(errs...)
}
