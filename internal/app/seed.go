package app

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/MrWong99/questweaver/internal/campaign"
	"github.com/MrWong99/questweaver/internal/config"
	"github.com/MrWong99/questweaver/internal/entity"
)

// seed imports every file of sc. The target campaign is looked up by name
// among the seed owner's campaigns and created when missing, so a restart or
// a reload re-imports into the same campaign.
func (a *App) seed(ctx context.Context, sc config.SeedConfig) error {
	owner := sc.OwnerUserID
	for _, f := range sc.Files {
		meta, defs, err := loadSeedFile(f)
		if err != nil {
			return err
		}
		c, err := a.ensureCampaign(ctx, owner, meta)
		if err != nil {
			return fmt.Errorf("seed %q: %w", f.Path, err)
		}
		res, err := a.graph.ImportDefinitions(ctx, c.ID, defs)
		if err != nil {
			return fmt.Errorf("seed %q: %w", f.Path, err)
		}
		slog.Info("imported seed file",
			"path", f.Path,
			"campaign_id", c.ID,
			"created", res.Created,
			"merged", res.Merged,
			"relationships", res.Relationships,
			"errors", len(res.Errors),
		)
		for _, e := range res.Errors {
			slog.Warn("seed entry skipped", "path", f.Path, "err", e)
		}
	}
	return nil
}

// loadSeedFile parses f in its format. f.Campaign overrides the campaign
// name of a YAML file.
func loadSeedFile(f config.SeedFile) (entity.CampaignMeta, []entity.EntityDefinition, error) {
	if f.Format == config.SeedYAML || f.Format == "" {
		cf, err := entity.LoadCampaignFile(f.Path)
		if err != nil {
			return entity.CampaignMeta{}, nil, err
		}
		meta := cf.Campaign
		meta.Name = cmp.Or(f.Campaign, meta.Name)
		if meta.Name == "" {
			return meta, nil, fmt.Errorf("seed %q: campaign name is missing", f.Path)
		}
		return meta, cf.Entities, nil
	}

	r, err := os.Open(f.Path)
	if err != nil {
		return entity.CampaignMeta{}, nil, fmt.Errorf("seed: open %q: %w", f.Path, err)
	}
	defer r.Close()

	var defs []entity.EntityDefinition
	switch f.Format {
	case config.SeedFoundry:
		defs, err = entity.ParseFoundryVTT(r)
	case config.SeedRoll20:
		defs, err = entity.ParseRoll20(r)
	default:
		err = fmt.Errorf("unknown format %q", f.Format)
	}
	if err != nil {
		return entity.CampaignMeta{}, nil, fmt.Errorf("seed %q: %w", f.Path, err)
	}
	return entity.CampaignMeta{Name: f.Campaign}, defs, nil
}

func (a *App) ensureCampaign(ctx context.Context, owner string, meta entity.CampaignMeta) (entity.Campaign, error) {
	existing, err := a.campaigns.List(ctx, owner)
	if err != nil {
		return entity.Campaign{}, err
	}
	for _, c := range existing {
		if c.Name == meta.Name {
			return c, nil
		}
	}
	return a.campaigns.Create(ctx, owner, campaign.CreateInput{
		Name:        meta.Name,
		Description: meta.Description,
		Metadata:    meta.CampaignMetadata(),
	})
}
