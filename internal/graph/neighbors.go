package graph

import (
	"cmp"
	"context"
	"slices"

	"github.com/MrWong99/questweaver/internal/entity"
)

const (
	defaultNeighborDepth = 2
	maxNeighborDepth     = 5
)

// NeighborQuery narrows [Service.Neighbors].
type NeighborQuery struct {
	// MaxDepth defaults to 2 and is capped at 5.
	MaxDepth int

	// RelationshipTypes restricts traversal to these edge types.
	RelationshipTypes []entity.RelationshipType

	// Limit caps the number of records. Zero means no limit.
	Limit int
}

// NeighborRecord is one entity reached by [Service.Neighbors].
type NeighborRecord struct {
	Entity      entity.Entity           `json:"entity"`
	Depth       int                     `json:"depth"`
	ViaType     entity.RelationshipType `json:"viaRelationshipType"`
	ViaEntityID string                  `json:"viaEntityId"`
}

// Neighbors walks outgoing edges breadth first from entityID. Every entity is
// reported at most once, at its shallowest depth; the start entity is never
// reported. Edges of equal depth are followed in (type, target) order.
func (s *Service) Neighbors(ctx context.Context, campaignID, entityID string, q NeighborQuery) ([]NeighborRecord, error) {
	if _, err := s.Entity(ctx, campaignID, entityID); err != nil {
		return nil, err
	}
	depth := q.MaxDepth
	if depth <= 0 {
		depth = defaultNeighborDepth
	}
	depth = min(depth, maxNeighborDepth)

	visited := map[string]bool{entityID: true}
	frontier := []string{entityID}
	out := make([]NeighborRecord, 0)

	for d := 1; d <= depth && len(frontier) > 0; d++ {
		var next []string
		for _, from := range frontier {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			rels, err := s.store.ListRelationships(ctx, campaignID, entity.RelationshipFilter{
				EntityID:  from,
				Direction: entity.DirectionOut,
				Types:     q.RelationshipTypes,
			})
			if err != nil {
				return nil, entity.Dependency("list relationships", err)
			}
			slices.SortFunc(rels, func(a, b entity.Relationship) int {
				return cmp.Or(cmp.Compare(a.Type, b.Type), cmp.Compare(a.ToID, b.ToID))
			})
			for _, r := range rels {
				if visited[r.ToID] {
					continue
				}
				visited[r.ToID] = true
				e, err := s.store.GetEntity(ctx, r.ToID)
				if err != nil {
					return nil, entity.Dependency("get entity", err)
				}
				if e == nil || e.CampaignID != campaignID {
					continue
				}
				out = append(out, NeighborRecord{Entity: *e, Depth: d, ViaType: r.Type, ViaEntityID: from})
				if q.Limit > 0 && len(out) >= q.Limit {
					return out, nil
				}
				next = append(next, r.ToID)
			}
		}
		frontier = next
	}
	return out, nil
}
