// Package campaigntool exposes the campaign knowledge graph as tools: entity
// extraction and editing, relationship management, community detection and
// readiness assessment.
//
// Every tool takes a campaignId and an optional authToken. The caller is
// taken from the request context when a transport has already authenticated
// it, otherwise the token is resolved. The caller must own the campaign.
package campaigntool

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MrWong99/questweaver/internal/auth"
	"github.com/MrWong99/questweaver/internal/campaign"
	"github.com/MrWong99/questweaver/internal/community"
	"github.com/MrWong99/questweaver/internal/dedupe"
	"github.com/MrWong99/questweaver/internal/entity"
	"github.com/MrWong99/questweaver/internal/extract"
	"github.com/MrWong99/questweaver/internal/graph"
	"github.com/MrWong99/questweaver/internal/mcp/tools"
	"github.com/MrWong99/questweaver/internal/readiness"
)

// Declared latency bounds in milliseconds.
const (
	fastMax     = 2_000
	standardMax = 10_000
	llmMax      = 90_000
)

// Deps holds the services the tools call into. Extractor and Planning may be
// nil when no LLM or embedding provider is configured; the tools that need
// them then fail with DEPENDENCY_ERROR.
type Deps struct {
	Graph       *graph.Service
	Communities *community.Detector
	Readiness   *readiness.Analyzer
	Planning    *readiness.PlanningIndex
	Extractor   *extract.Extractor
	Campaigns   *campaign.Service
	Auth        auth.Resolver
}

// scope is embedded in every argument struct.
type scope struct {
	CampaignID string `json:"campaignId" validate:"required" jsonschema:"description=ID of the campaign to operate on"`
	AuthToken  string `json:"authToken,omitempty" jsonschema:"description=Bearer token of the caller when the transport does not authenticate"`
}

type handler struct {
	Deps
}

// authorize resolves the caller and checks campaign ownership.
func (h handler) authorize(ctx context.Context, s scope) (context.Context, error) {
	user, ok := auth.UserFrom(ctx)
	if !ok {
		if h.Auth == nil || s.AuthToken == "" {
			return ctx, entity.ErrUnauthorized
		}
		var err error
		if user, err = h.Auth.Resolve(ctx, s.AuthToken); err != nil {
			return ctx, err
		}
		ctx = auth.WithUser(ctx, user)
	}
	if _, err := h.Campaigns.Authorize(ctx, user, s.CampaignID); err != nil {
		return ctx, err
	}
	return ctx, nil
}

// NewTools returns the campaign tools bound to d.
func NewTools(d Deps) []tools.Tool {
	h := handler{d}
	return []tools.Tool{
		tools.New("extract_entities_from_content",
			"Extract NPCs, locations, factions and other campaign entities plus their relationships from free text and store them, merging duplicates.",
			llmMax, h.extractEntities),
		tools.New("create_entity",
			"Create a campaign entity, or merge it into an existing duplicate.",
			standardMax, h.createEntity),
		tools.New("list_entities",
			"List the entities of a campaign, optionally filtered by type or exact name.",
			fastMax, h.listEntities),
		tools.New("update_entity_metadata",
			"Merge key/value metadata into an entity.",
			fastMax, h.updateMetadata),
		tools.New("update_entity_type",
			"Change the type of an entity and of every same-named entity in the campaign.",
			fastMax, h.updateType),
		tools.New("delete_entity",
			"Delete an entity together with all relationships touching it.",
			standardMax, h.deleteEntity),
		tools.New("create_entity_relationship",
			"Create or update a typed relationship between two entities. Bidirectional types such as ally_of are stored in both directions.",
			fastMax, h.createRelationship),
		tools.New("remove_entity_relationship",
			"Remove a relationship by ID or by (from, to, type), including its reciprocal.",
			fastMax, h.removeRelationship),
		tools.New("get_entity_neighbors",
			"Walk outgoing relationships from an entity up to a depth.",
			fastMax, h.neighbors),
		tools.New("detect_communities",
			"Cluster the campaign's entity graph into communities and replace the stored ones.",
			llmMax, h.detectCommunities),
		tools.New("get_communities",
			"List stored communities, optionally for a single level (0 is the finest).",
			fastMax, h.getCommunities),
		tools.New("get_community_hierarchy",
			"Return stored communities as a tree from the coarsest level down.",
			fastMax, h.getHierarchy),
		tools.New("get_checklist_status",
			"Report which campaign-readiness checklist items are covered.",
			llmMax, h.checklistStatus),
		tools.New("assess_campaign_readiness",
			"Assess campaign readiness: checklist coverage, entity statistics, community notes, recommendations and a score.",
			llmMax, h.assessReadiness),
		tools.New("index_planning_context",
			"Store a planning note so readiness assessment can find it by meaning.",
			standardMax, h.indexPlanningContext),
	}
}

type extractArgs struct {
	scope
	Content     string   `json:"content" validate:"required" jsonschema:"description=Text to extract entities from"`
	Source      string   `json:"source,omitempty" jsonschema:"description=Where the text came from such as a session name"`
	EntityTypes []string `json:"entityTypes,omitempty" jsonschema:"description=Only extract these entity types"`
}

func (h handler) extractEntities(ctx context.Context, a extractArgs) (string, any, error) {
	ctx, err := h.authorize(ctx, a.scope)
	if err != nil {
		return "", nil, err
	}
	if h.Extractor == nil {
		return "", nil, entity.Dependency("extract entities", errors.New("no llm provider configured"))
	}
	types, err := parseTypes(a.EntityTypes)
	if err != nil {
		return "", nil, err
	}
	res, err := h.Extractor.Extract(ctx, extract.Request{CampaignID: a.CampaignID, Content: a.Content, Source: a.Source, Types: types})
	if err != nil {
		return "", nil, err
	}
	msg := fmt.Sprintf("Extracted %d entities (%d new, %d merged) and %d relationships.",
		len(res.Entities), res.Created, res.Merged, len(res.Relationships))
	if len(res.Degraded) > 0 {
		msg += " Degraded: " + strings.Join(res.Degraded, ", ") + "."
	}
	return msg, res, nil
}

type createEntityArgs struct {
	scope
	Name          string         `json:"name" validate:"required,max=200"`
	EntityType    string         `json:"entityType" validate:"required" jsonschema:"description=npcs\\, pcs\\, locations\\, factions\\, monsters\\, items\\, quests\\, hooks\\, events or lore"`
	Summary       string         `json:"summary,omitempty"`
	Backstory     string         `json:"backstory,omitempty"`
	SourceContext string         `json:"sourceContext,omitempty" jsonschema:"description=Stable origin key; the same key always resolves to the same entity"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

func (h handler) createEntity(ctx context.Context, a createEntityArgs) (string, any, error) {
	ctx, err := h.authorize(ctx, a.scope)
	if err != nil {
		return "", nil, err
	}
	t, err := entity.ParseEntityType(a.EntityType)
	if err != nil {
		return "", nil, err
	}
	res, err := h.Graph.IngestEntity(ctx, dedupe.Candidate{
		CampaignID: a.CampaignID,
		Type:       t,
		Name:       a.Name,
		Content: entity.Content{
			Summary:       a.Summary,
			Backstory:     a.Backstory,
			SourceContext: a.SourceContext,
		},
		Metadata: a.Metadata,
	})
	if err != nil {
		return "", nil, err
	}
	verb := "Created"
	if !res.Created {
		verb = fmt.Sprintf("Merged into existing (%s match)", res.Method)
	}
	return fmt.Sprintf("%s %s %q.", verb, res.Entity.Type, res.Entity.Name), map[string]any{
		"entity":     res.Entity,
		"created":    res.Created,
		"resolution": res.Method,
		"degraded":   nonNil(res.Degraded),
	}, nil
}

type listEntitiesArgs struct {
	scope
	EntityType string `json:"entityType,omitempty"`
	Name       string `json:"name,omitempty" jsonschema:"description=Exact case-insensitive name"`
	Limit      int    `json:"limit,omitempty" validate:"min=0,max=500"`
	Offset     int    `json:"offset,omitempty" validate:"min=0"`
}

func (h handler) listEntities(ctx context.Context, a listEntitiesArgs) (string, any, error) {
	ctx, err := h.authorize(ctx, a.scope)
	if err != nil {
		return "", nil, err
	}
	opts := entity.ListOptions{Name: a.Name, Limit: a.Limit, Offset: a.Offset}
	if a.EntityType != "" {
		if opts.Type, err = entity.ParseEntityType(a.EntityType); err != nil {
			return "", nil, err
		}
	}
	es, err := h.Graph.ListEntities(ctx, a.CampaignID, opts)
	if err != nil {
		return "", nil, err
	}
	return fmt.Sprintf("Found %d entities.", len(es)), map[string]any{"entities": nonNil(es)}, nil
}

type updateMetadataArgs struct {
	scope
	EntityID string         `json:"entityId" validate:"required"`
	Metadata map[string]any `json:"metadata" validate:"required,min=1"`
}

func (h handler) updateMetadata(ctx context.Context, a updateMetadataArgs) (string, any, error) {
	ctx, err := h.authorize(ctx, a.scope)
	if err != nil {
		return "", nil, err
	}
	e, err := h.Graph.UpdateMetadata(ctx, a.CampaignID, a.EntityID, a.Metadata)
	if err != nil {
		return "", nil, err
	}
	return fmt.Sprintf("Updated metadata of %q.", e.Name), map[string]any{"entity": e}, nil
}

type updateTypeArgs struct {
	scope
	EntityID   string `json:"entityId" validate:"required"`
	EntityType string `json:"entityType" validate:"required"`
}

func (h handler) updateType(ctx context.Context, a updateTypeArgs) (string, any, error) {
	ctx, err := h.authorize(ctx, a.scope)
	if err != nil {
		return "", nil, err
	}
	res, err := h.Graph.ReclassifyEntity(ctx, a.CampaignID, a.EntityID, a.EntityType)
	if err != nil {
		return "", nil, err
	}
	return fmt.Sprintf("Changed %q from %s to %s (%d duplicates updated).",
			res.Entity.Name, res.PreviousType, res.Entity.Type, res.UpdatedDuplicates),
		map[string]any{
			"entity":            res.Entity,
			"previousType":      res.PreviousType,
			"updatedDuplicates": res.UpdatedDuplicates,
			"duplicateIds":      nonNil(res.DuplicateIDs),
		}, nil
}

type entityArgs struct {
	scope
	EntityID string `json:"entityId" validate:"required"`
}

func (h handler) deleteEntity(ctx context.Context, a entityArgs) (string, any, error) {
	ctx, err := h.authorize(ctx, a.scope)
	if err != nil {
		return "", nil, err
	}
	e, err := h.Graph.DeleteEntity(ctx, a.CampaignID, a.EntityID)
	if err != nil {
		return "", nil, err
	}
	return fmt.Sprintf("Deleted %s %q.", e.Type, e.Name), map[string]any{"entity": e}, nil
}

type relationshipArgs struct {
	scope
	FromEntityID      string         `json:"fromEntityId" validate:"required"`
	ToEntityID        string         `json:"toEntityId" validate:"required"`
	RelationshipType  string         `json:"relationshipType" validate:"required" jsonschema:"description=For example ally_of\\, enemy_of\\, member_of or located_in"`
	Strength          *float64       `json:"strength,omitempty" jsonschema:"description=Tie strength from 0 to 1 or a percentage up to 100\\, default 0.5"`
	Metadata          map[string]any `json:"metadata,omitempty"`
	AllowSelfRelation bool           `json:"allowSelfRelation,omitempty"`
}

func (h handler) createRelationship(ctx context.Context, a relationshipArgs) (string, any, error) {
	ctx, err := h.authorize(ctx, a.scope)
	if err != nil {
		return "", nil, err
	}
	edges, err := h.Graph.UpsertEdge(ctx, graph.EdgeInput{
		CampaignID:        a.CampaignID,
		FromID:            a.FromEntityID,
		ToID:              a.ToEntityID,
		Type:              a.RelationshipType,
		Strength:          a.Strength,
		Metadata:          a.Metadata,
		AllowSelfRelation: a.AllowSelfRelation,
	})
	if err != nil {
		if len(edges) > 0 {
			return "", map[string]any{"relationships": edges}, err
		}
		return "", nil, err
	}
	return fmt.Sprintf("Stored %s relationship (%d edge(s)).", edges[0].Type, len(edges)),
		map[string]any{"relationships": edges}, nil
}

type removeRelationshipArgs struct {
	scope
	RelationshipID   string `json:"relationshipId,omitempty" validate:"required_without_all=FromEntityID ToEntityID RelationshipType"`
	FromEntityID     string `json:"fromEntityId,omitempty" validate:"required_without=RelationshipID"`
	ToEntityID       string `json:"toEntityId,omitempty" validate:"required_without=RelationshipID"`
	RelationshipType string `json:"relationshipType,omitempty" validate:"required_without=RelationshipID"`
}

func (h handler) removeRelationship(ctx context.Context, a removeRelationshipArgs) (string, any, error) {
	ctx, err := h.authorize(ctx, a.scope)
	if err != nil {
		return "", nil, err
	}
	if a.RelationshipID != "" {
		r, err := h.Graph.RemoveEdgeByID(ctx, a.CampaignID, a.RelationshipID)
		if err != nil {
			return "", nil, err
		}
		return fmt.Sprintf("Removed %s relationship.", r.Type), map[string]any{"relationship": r}, nil
	}
	if err := h.Graph.RemoveEdgeByKey(ctx, a.CampaignID, a.FromEntityID, a.ToEntityID, a.RelationshipType); err != nil {
		return "", nil, err
	}
	return "Removed relationship.", nil, nil
}

type neighborArgs struct {
	scope
	EntityID          string   `json:"entityId" validate:"required"`
	MaxDepth          int      `json:"maxDepth,omitempty" validate:"min=0,max=5" jsonschema:"description=Traversal depth from 1 to 5\\, default 2"`
	RelationshipTypes []string `json:"relationshipTypes,omitempty"`
	Limit             int      `json:"limit,omitempty" validate:"min=0"`
}

func (h handler) neighbors(ctx context.Context, a neighborArgs) (string, any, error) {
	ctx, err := h.authorize(ctx, a.scope)
	if err != nil {
		return "", nil, err
	}
	q := graph.NeighborQuery{MaxDepth: a.MaxDepth, Limit: a.Limit}
	for _, s := range a.RelationshipTypes {
		t, err := entity.ParseRelationshipType(s)
		if err != nil {
			return "", nil, err
		}
		q.RelationshipTypes = append(q.RelationshipTypes, t)
	}
	recs, err := h.Graph.Neighbors(ctx, a.CampaignID, a.EntityID, q)
	if err != nil {
		return "", nil, err
	}
	return fmt.Sprintf("Found %d neighbours.", len(recs)), map[string]any{"neighbors": nonNil(recs)}, nil
}

type detectArgs struct {
	scope
	Resolution       float64 `json:"resolution,omitempty" validate:"min=0" jsonschema:"description=Higher values give smaller communities\\, default 1.0"`
	MinCommunitySize int     `json:"minCommunitySize,omitempty" validate:"min=0"`
	MaxLevels        int     `json:"maxLevels,omitempty" validate:"min=0"`
	MultiLevel       bool    `json:"multiLevel,omitempty" jsonschema:"description=Return the hierarchy instead of the finest level"`
	Summarize        bool    `json:"summarize,omitempty" jsonschema:"description=Generate an LLM summary and keywords per community"`
}

func (h handler) detectCommunities(ctx context.Context, a detectArgs) (string, any, error) {
	ctx, err := h.authorize(ctx, a.scope)
	if err != nil {
		return "", nil, err
	}
	opts := community.Options{Resolution: a.Resolution, MinCommunitySize: a.MinCommunitySize, MaxLevels: a.MaxLevels}
	data := map[string]any{}
	var count int
	if a.MultiLevel {
		tree, err := h.Communities.DetectMultiLevel(ctx, a.CampaignID, opts)
		if err != nil {
			return "", nil, err
		}
		count = len(community.Flatten(tree))
		data["hierarchy"] = nonNil(tree)
	} else {
		cs, err := h.Communities.Detect(ctx, a.CampaignID, opts)
		if err != nil {
			return "", nil, err
		}
		count = len(cs)
		data["communities"] = nonNil(cs)
	}
	msg := fmt.Sprintf("Detected %d communities.", count)
	if a.Summarize {
		cs, err := h.Communities.Summarize(ctx, a.CampaignID)
		if err != nil {
			return "", data, err
		}
		data["summaries"] = nonNil(cs)
		msg += " Summaries updated."
	}
	return msg, data, nil
}

type getCommunitiesArgs struct {
	scope
	Level *int `json:"level,omitempty" validate:"omitempty,min=0" jsonschema:"description=Only this level\\, 0 is the finest"`
}

func (h handler) getCommunities(ctx context.Context, a getCommunitiesArgs) (string, any, error) {
	ctx, err := h.authorize(ctx, a.scope)
	if err != nil {
		return "", nil, err
	}
	cs, err := h.Communities.List(ctx, a.CampaignID, a.Level)
	if err != nil {
		return "", nil, err
	}
	return fmt.Sprintf("Found %d communities.", len(cs)), map[string]any{"communities": nonNil(cs)}, nil
}

func (h handler) getHierarchy(ctx context.Context, a scope) (string, any, error) {
	ctx, err := h.authorize(ctx, a)
	if err != nil {
		return "", nil, err
	}
	cs, err := h.Communities.List(ctx, a.CampaignID, nil)
	if err != nil {
		return "", nil, err
	}
	tree := community.BuildHierarchyTree(cs)
	return fmt.Sprintf("%d root communities.", len(tree)), map[string]any{"hierarchy": nonNil(tree)}, nil
}

func (h handler) checklistStatus(ctx context.Context, a scope) (string, any, error) {
	ctx, err := h.authorize(ctx, a)
	if err != nil {
		return "", nil, err
	}
	st, err := h.Readiness.ChecklistStatus(ctx, a.CampaignID)
	if err != nil {
		return "", nil, err
	}
	return fmt.Sprintf("%d of %d checklist items covered.", st.CoveredItems, st.TotalItems), st, nil
}

func (h handler) assessReadiness(ctx context.Context, a scope) (string, any, error) {
	ctx, err := h.authorize(ctx, a)
	if err != nil {
		return "", nil, err
	}
	r, err := h.Readiness.Analyze(ctx, a.CampaignID)
	if err != nil {
		return "", nil, err
	}
	return fmt.Sprintf("Readiness %d/100 (%s).", r.Score, r.CampaignState), r, nil
}

type planningArgs struct {
	scope
	ID   string `json:"id" validate:"required" jsonschema:"description=Stable note ID; reusing it replaces the note"`
	Text string `json:"text" validate:"required,max=20000"`
}

func (h handler) indexPlanningContext(ctx context.Context, a planningArgs) (string, any, error) {
	ctx, err := h.authorize(ctx, a.scope)
	if err != nil {
		return "", nil, err
	}
	if h.Planning == nil {
		return "", nil, entity.Dependency("index planning context", errors.New("no embedding provider configured"))
	}
	if err := h.Planning.IndexPlanningContext(ctx, a.CampaignID, a.ID, a.Text); err != nil {
		return "", nil, err
	}
	return "Planning note indexed.", map[string]any{"id": a.ID}, nil
}

func parseTypes(ss []string) ([]entity.EntityType, error) {
	out := make([]entity.EntityType, 0, len(ss))
	for _, s := range ss {
		t, err := entity.ParseEntityType(s)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
