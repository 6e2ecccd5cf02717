package graph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/MrWong99/questweaver/internal/entity"
	"github.com/MrWong99/questweaver/internal/observe"
)

// EdgeInput describes a relationship to create or update.
type EdgeInput struct {
	CampaignID string
	FromID     string
	ToID       string

	// Type is parsed with [entity.ParseRelationshipType], so aliases such as
	// "lives_in" are accepted.
	Type string

	// Strength is normalised with [entity.NormalizeStrength].
	Strength *float64

	Metadata entity.Metadata

	// AllowSelfRelation permits FromID == ToID.
	AllowSelfRelation bool
}

// UpsertEdge writes the relationship and, for bidirectional types, its
// reciprocal. The returned slice holds the forward edge first.
//
// Both entities must exist and belong to in.CampaignID; nothing is written
// otherwise. If the reciprocal write fails the forward edge is kept and
// returned together with an error wrapping [ErrPartialWrite].
func (s *Service) UpsertEdge(ctx context.Context, in EdgeInput) ([]entity.Relationship, error) {
	relType, err := entity.ParseRelationshipType(in.Type)
	if err != nil {
		return nil, err
	}
	if in.FromID == in.ToID && !in.AllowSelfRelation {
		return nil, entity.Validationf("self-referential relationships are not permitted")
	}
	if err := s.checkEndpoints(ctx, in.CampaignID, in.FromID, in.ToID); err != nil {
		return nil, err
	}

	strength := entity.NormalizeStrength(in.Strength)
	fwd, err := s.store.UpsertRelationship(ctx, entity.Relationship{
		CampaignID: in.CampaignID,
		FromID:     in.FromID,
		ToID:       in.ToID,
		Type:       relType,
		Strength:   strength,
		Metadata:   in.Metadata.Clone(),
	})
	if err != nil {
		return nil, entity.Dependency("write relationship", err)
	}
	out := []entity.Relationship{fwd}

	recip, ok := relType.Reciprocal()
	if !ok || (recip == relType && in.FromID == in.ToID) {
		return out, nil
	}
	rev, err := s.store.UpsertRelationship(ctx, entity.Relationship{
		CampaignID: in.CampaignID,
		FromID:     in.ToID,
		ToID:       in.FromID,
		Type:       recip,
		Strength:   strength,
		Metadata:   in.Metadata.Clone(),
	})
	if err != nil {
		observe.Logger(ctx).Error("graph: reciprocal write failed",
			slog.String("relationship_id", fwd.ID),
			slog.String("type", string(recip)),
			slog.Any("err", err),
		)
		return out, fmt.Errorf("%w: reciprocal %s edge: %w", ErrPartialWrite, recip, entity.Dependency("write relationship", err))
	}
	return append(out, rev), nil
}

// RemoveEdgeByID deletes a relationship and, for bidirectional types, its
// reciprocal.
func (s *Service) RemoveEdgeByID(ctx context.Context, campaignID, id string) (entity.Relationship, error) {
	r, err := s.store.GetRelationship(ctx, id)
	if err != nil {
		return entity.Relationship{}, entity.Dependency("get relationship", err)
	}
	if r == nil {
		return entity.Relationship{}, entity.NotFoundf("relationship %q", id)
	}
	if r.CampaignID != campaignID {
		return entity.Relationship{}, entity.Validationf("relationship %q does not belong to campaign %q", id, campaignID)
	}
	if err := s.checkEndpoints(ctx, campaignID, r.FromID, r.ToID); err != nil {
		return entity.Relationship{}, err
	}
	if err := s.store.DeleteRelationship(ctx, id); err != nil {
		return entity.Relationship{}, entity.Dependency("delete relationship", err)
	}
	if err := s.removeReciprocal(ctx, *r); err != nil {
		return *r, err
	}
	return *r, nil
}

// RemoveEdgeByKey deletes the edge (from, to, type) and, for bidirectional
// types, its reciprocal.
func (s *Service) RemoveEdgeByKey(ctx context.Context, campaignID, fromID, toID, relType string) error {
	t, err := entity.ParseRelationshipType(relType)
	if err != nil {
		return err
	}
	if err := s.checkEndpoints(ctx, campaignID, fromID, toID); err != nil {
		return err
	}
	if err := s.store.DeleteRelationshipByKey(ctx, campaignID, fromID, toID, t); err != nil {
		return entity.Dependency("delete relationship", err)
	}
	return s.removeReciprocal(ctx, entity.Relationship{CampaignID: campaignID, FromID: fromID, ToID: toID, Type: t})
}

func (s *Service) removeReciprocal(ctx context.Context, r entity.Relationship) error {
	recip, ok := r.Type.Reciprocal()
	if !ok {
		return nil
	}
	err := s.store.DeleteRelationshipByKey(ctx, r.CampaignID, r.ToID, r.FromID, recip)
	if err != nil && !errors.Is(err, entity.ErrNotFound) {
		return fmt.Errorf("%w: reciprocal %s edge: %w", ErrPartialWrite, recip, entity.Dependency("delete relationship", err))
	}
	return nil
}

// RelQuery narrows [Service.RelationshipsFor].
type RelQuery struct {
	Types []entity.RelationshipType
}

// RelationshipsFor returns every edge touching the entity, in both directions.
func (s *Service) RelationshipsFor(ctx context.Context, campaignID, entityID string, q RelQuery) ([]entity.Relationship, error) {
	if _, err := s.Entity(ctx, campaignID, entityID); err != nil {
		return nil, err
	}
	rels, err := s.store.ListRelationships(ctx, campaignID, entity.RelationshipFilter{
		EntityID:  entityID,
		Direction: entity.DirectionBoth,
		Types:     q.Types,
	})
	if err != nil {
		return nil, entity.Dependency("list relationships", err)
	}
	return rels, nil
}

func (s *Service) checkEndpoints(ctx context.Context, campaignID, fromID, toID string) error {
	if campaignID == "" {
		return entity.Validationf("campaign id is required")
	}
	if _, err := s.Entity(ctx, campaignID, fromID); err != nil {
		return fmt.Errorf("source entity: %w", err)
	}
	if _, err := s.Entity(ctx, campaignID, toID); err != nil {
		return fmt.Errorf("target entity: %w", err)
	}
	return nil
}
