package entity

import "context"

// Store persists campaigns, entities, relationships and communities.
//
// Single-record lookups return (nil, nil) when the record does not exist;
// mutations of missing records return an error wrapping [ErrNotFound].
// Deleting an entity removes its relationships and community memberships,
// and drops the communities it leaves with fewer than [MinCommunityMembers]
// members; deleting a campaign removes everything it owns.
//
// All implementations must be safe for concurrent use.
type Store interface {
	// CreateEntity stores e. An empty ID is generated. Returns an error
	// wrapping [ErrConflict] when the ID is already taken and [ErrValidation]
	// when required fields are missing.
	CreateEntity(ctx context.Context, e Entity) (Entity, error)

	// GetEntity returns the entity with the given ID, or nil.
	GetEntity(ctx context.Context, id string) (*Entity, error)

	// UpdateEntity applies patch to the entity. Metadata is merged.
	UpdateEntity(ctx context.Context, id string, patch EntityPatch) (Entity, error)

	// DeleteEntity removes the entity and cascades to its edges.
	DeleteEntity(ctx context.Context, id string) error

	// ListEntities returns the campaign's entities matching opts.
	ListEntities(ctx context.Context, campaignID string, opts ListOptions) ([]Entity, error)

	// CountEntities counts the campaign's entities, optionally by type.
	CountEntities(ctx context.Context, campaignID string, entityType EntityType) (int, error)

	// CountEntitiesByType returns the per-type entity counts of a campaign.
	// Types with no entities are absent from the map.
	CountEntitiesByType(ctx context.Context, campaignID string) (map[EntityType]int, error)

	// UpsertRelationship inserts or updates the edge keyed by
	// (campaign, from, to, type). Strength and metadata are replaced and
	// merged respectively on update. The stored row is returned.
	UpsertRelationship(ctx context.Context, r Relationship) (Relationship, error)

	// GetRelationship returns the relationship with the given ID, or nil.
	GetRelationship(ctx context.Context, id string) (*Relationship, error)

	// DeleteRelationship removes a relationship by ID.
	DeleteRelationship(ctx context.Context, id string) error

	// DeleteRelationshipByKey removes the edge identified by its natural key.
	DeleteRelationshipByKey(ctx context.Context, campaignID, fromID, toID string, relType RelationshipType) error

	// ListRelationships returns the campaign's edges matching filter.
	ListRelationships(ctx context.Context, campaignID string, filter RelationshipFilter) ([]Relationship, error)

	// ReplaceCommunities atomically swaps the campaign's stored communities
	// for the given set.
	ReplaceCommunities(ctx context.Context, campaignID string, communities []Community) error

	// ListCommunities returns stored communities ordered by level then ID.
	// A nil level returns all levels.
	ListCommunities(ctx context.Context, campaignID string, level *int) ([]Community, error)

	// CreateCampaign stores c. An empty ID is generated.
	CreateCampaign(ctx context.Context, c Campaign) (Campaign, error)

	// GetCampaign returns the campaign with the given ID, or nil.
	GetCampaign(ctx context.Context, id string) (*Campaign, error)

	// UpdateCampaign applies patch. Metadata is merged.
	UpdateCampaign(ctx context.Context, id string, patch CampaignPatch) (Campaign, error)

	// DeleteCampaign removes the campaign and everything it owns.
	DeleteCampaign(ctx context.Context, id string) error

	// ListCampaigns returns the campaigns owned by ownerID, newest first.
	// An empty ownerID lists all campaigns.
	ListCampaigns(ctx context.Context, ownerID string) ([]Campaign, error)
}

// Ordering values for [ListOptions.OrderBy].
const (
	OrderByName      = "name"
	OrderByCreatedAt = "created_at"
)

// ListOptions narrows [Store.ListEntities].
// All non-zero fields are applied as AND conditions.
type ListOptions struct {
	// Type restricts results to one entity type.
	Type EntityType

	// Name restricts results to an exact, case-insensitive name match.
	Name string

	// Limit caps the number of results. Zero means no limit.
	Limit int

	// Offset skips the first results.
	Offset int

	// OrderBy is [OrderByName] (default) or [OrderByCreatedAt].
	OrderBy string
}

// Direction selects which edges of an entity a query returns.
type Direction int

const (
	// DirectionBoth matches edges where the entity is either endpoint.
	DirectionBoth Direction = iota

	// DirectionOut matches edges leaving the entity.
	DirectionOut

	// DirectionIn matches edges pointing at the entity.
	DirectionIn
)

// RelationshipFilter narrows [Store.ListRelationships].
type RelationshipFilter struct {
	// EntityID restricts results to edges touching this entity.
	EntityID string

	// Direction applies when EntityID is set.
	Direction Direction

	// Types restricts results to these relationship types.
	Types []RelationshipType
}
