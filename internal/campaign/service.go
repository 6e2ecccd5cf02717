// Package campaign manages campaign records and who may touch them.
//
// Every operation that reads or mutates campaign data goes through
// [Service.Authorize] first: a campaign is visible only to its owner.
// Creating or editing a campaign re-embeds its description as a planning
// note so readiness analysis sees it.
package campaign

import (
	"context"
	"log/slog"

	"github.com/MrWong99/questweaver/internal/entity"
	"github.com/MrWong99/questweaver/internal/observe"
	"github.com/MrWong99/questweaver/pkg/memory"
)

// Planner keeps the campaign's planning vectors in sync.
// [readiness.PlanningIndex] implements it.
type Planner interface {
	IndexCampaign(ctx context.Context, c entity.Campaign) error
	DeleteCampaign(ctx context.Context, campaignID string) error
}

// Option configures a [Service].
type Option func(*Service)

// WithPlanner indexes campaign descriptions on create and update.
func WithPlanner(p Planner) Option {
	return func(s *Service) { s.planner = p }
}

// WithVectorIndex removes the campaign's entity vectors on delete.
func WithVectorIndex(idx memory.VectorIndex) Option {
	return func(s *Service) { s.index = idx }
}

// Service is the campaign API used by the HTTP layer and the tools.
type Service struct {
	store   entity.Store
	planner Planner
	index   memory.VectorIndex
}

// New returns a campaign service.
func New(store entity.Store, opts ...Option) *Service {
	s := &Service{store: store}
	for _, o := range opts {
		o(s)
	}
	return s
}

// CreateInput holds the caller-controlled fields of a new campaign.
type CreateInput struct {
	Name        string          `json:"name" validate:"required,max=200"`
	Description string          `json:"description" validate:"max=20000"`
	Metadata    entity.Metadata `json:"metadata"`
}

// Create stores a campaign owned by ownerID.
func (s *Service) Create(ctx context.Context, ownerID string, in CreateInput) (entity.Campaign, error) {
	if ownerID == "" {
		return entity.Campaign{}, entity.ErrUnauthorized
	}
	c, err := s.store.CreateCampaign(ctx, entity.Campaign{
		OwnerID:     ownerID,
		Name:        in.Name,
		Description: in.Description,
		Metadata:    in.Metadata,
	})
	if err != nil {
		return entity.Campaign{}, entity.Dependency("create campaign", err)
	}
	s.reindex(ctx, c)
	observe.Logger(ctx).Info("campaign: created",
		slog.String("campaign_id", c.ID), slog.String("owner_id", ownerID))
	return c, nil
}

// Authorize returns the campaign when userID owns it. A missing campaign is
// [entity.ErrNotFound]; a foreign one is [entity.ErrUnauthorized].
func (s *Service) Authorize(ctx context.Context, userID, campaignID string) (entity.Campaign, error) {
	if userID == "" {
		return entity.Campaign{}, entity.ErrUnauthorized
	}
	if campaignID == "" {
		return entity.Campaign{}, entity.Validationf("campaign id is required")
	}
	c, err := s.store.GetCampaign(ctx, campaignID)
	if err != nil {
		return entity.Campaign{}, entity.Dependency("get campaign", err)
	}
	if c == nil {
		return entity.Campaign{}, entity.NotFoundf("campaign %q", campaignID)
	}
	if c.OwnerID != userID {
		observe.Logger(ctx).Warn("campaign: access denied",
			slog.String("campaign_id", campaignID), slog.String("user_id", userID))
		return entity.Campaign{}, entity.ErrUnauthorized
	}
	return *c, nil
}

// Get is [Service.Authorize] under a friendlier name for read paths.
func (s *Service) Get(ctx context.Context, userID, campaignID string) (entity.Campaign, error) {
	return s.Authorize(ctx, userID, campaignID)
}

// List returns the user's campaigns, newest first.
func (s *Service) List(ctx context.Context, userID string) ([]entity.Campaign, error) {
	if userID == "" {
		return nil, entity.ErrUnauthorized
	}
	cs, err := s.store.ListCampaigns(ctx, userID)
	if err != nil {
		return nil, entity.Dependency("list campaigns", err)
	}
	return cs, nil
}

// Update applies patch. Metadata is merged over the stored keys.
func (s *Service) Update(ctx context.Context, userID, campaignID string, patch entity.CampaignPatch) (entity.Campaign, error) {
	if _, err := s.Authorize(ctx, userID, campaignID); err != nil {
		return entity.Campaign{}, err
	}
	c, err := s.store.UpdateCampaign(ctx, campaignID, patch)
	if err != nil {
		return entity.Campaign{}, entity.Dependency("update campaign", err)
	}
	if patch.Name != nil || patch.Description != nil {
		s.reindex(ctx, c)
	}
	return c, nil
}

// Delete removes the campaign, everything it owns and its vectors.
func (s *Service) Delete(ctx context.Context, userID, campaignID string) error {
	if _, err := s.Authorize(ctx, userID, campaignID); err != nil {
		return err
	}
	if err := s.store.DeleteCampaign(ctx, campaignID); err != nil {
		return entity.Dependency("delete campaign", err)
	}

	log := observe.Logger(ctx)
	if s.index != nil {
		if err := s.index.DeleteWhere(ctx, memory.CampaignFilter(memory.NamespaceEntities, campaignID, "")); err != nil {
			log.Warn("campaign: entity vector cleanup failed", slog.String("campaign_id", campaignID), slog.Any("err", err))
		}
	}
	if s.planner != nil {
		if err := s.planner.DeleteCampaign(ctx, campaignID); err != nil {
			log.Warn("campaign: planning vector cleanup failed", slog.String("campaign_id", campaignID), slog.Any("err", err))
		}
	}
	log.Info("campaign: deleted", slog.String("campaign_id", campaignID))
	return nil
}

// All lists every campaign regardless of owner, for background jobs.
func (s *Service) All(ctx context.Context) ([]entity.Campaign, error) {
	cs, err := s.store.ListCampaigns(ctx, "")
	if err != nil {
		return nil, entity.Dependency("list campaigns", err)
	}
	return cs, nil
}

func (s *Service) reindex(ctx context.Context, c entity.Campaign) {
	if s.planner == nil {
		return
	}
	if err := s.planner.IndexCampaign(ctx, c); err != nil {
		observe.Logger(ctx).Warn("campaign: description indexing failed",
			slog.String("campaign_id", c.ID), slog.Any("err", err))
	}
}
