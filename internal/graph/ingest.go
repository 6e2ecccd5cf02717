package graph

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/MrWong99/questweaver/internal/dedupe"
	"github.com/MrWong99/questweaver/internal/entity"
	"github.com/MrWong99/questweaver/internal/observe"
)

// IngestResult reports the outcome of [Service.IngestEntity].
type IngestResult struct {
	Entity  entity.Entity
	Created bool
	Method  dedupe.Method

	// Degraded names duplicate signals or the index write that failed.
	Degraded []string
}

// IngestEntity stores c, or merges it into the existing entity it duplicates.
//
// On a match, non-empty content fields of c overwrite the existing ones and
// metadata is merged. On a miss the entity is created and its embedding
// indexed. Submitting the same candidate twice yields the same entity.
func (s *Service) IngestEntity(ctx context.Context, c dedupe.Candidate) (IngestResult, error) {
	if c.CampaignID != "" {
		mu := s.campaignLock(c.CampaignID)
		mu.Lock()
		defer mu.Unlock()
	}

	if c.ID == "" {
		c.ID = dedupe.DeterministicID(c.CampaignID, c.Type, c.Content.SourceContext)
	}
	res, err := s.resolver.Resolve(ctx, c)
	if err != nil {
		return IngestResult{}, err
	}
	out := IngestResult{Method: res.Method, Degraded: res.Degraded}

	if res.Matched {
		existing, err := s.Entity(ctx, c.CampaignID, res.EntityID)
		if err != nil {
			return IngestResult{}, err
		}
		content := existing.Content.Overlay(c.Content)
		patch := entity.EntityPatch{Metadata: c.Metadata}
		if content != existing.Content {
			patch.Content = &content
		}
		if patch.Content == nil && len(patch.Metadata) == 0 {
			out.Entity = existing
			return out, nil
		}
		out.Entity, err = s.store.UpdateEntity(ctx, existing.ID, patch)
		if err != nil {
			return IngestResult{}, entity.Dependency("merge entity", err)
		}
		if patch.Content != nil {
			if err := s.indexEntity(ctx, out.Entity, nil); err != nil {
				s.indexDegraded(ctx, &out, err)
			}
		}
		return out, nil
	}

	e := c.Entity()
	e.EmbeddingID = e.ID
	created, err := s.store.CreateEntity(ctx, e)
	if err != nil {
		return IngestResult{}, entity.Dependency("create entity", err)
	}
	if created.EmbeddingID == "" {
		id := created.ID
		if updated, err := s.store.UpdateEntity(ctx, id, entity.EntityPatch{EmbeddingID: &id}); err == nil {
			created = updated
		}
	}
	out.Entity = created
	out.Created = true
	if err := s.indexEntity(ctx, created, res.Embedding); err != nil {
		s.indexDegraded(ctx, &out, err)
	}
	return out, nil
}

func (s *Service) indexDegraded(ctx context.Context, out *IngestResult, err error) {
	observe.Logger(ctx).Warn("graph: entity not indexed",
		slog.String("entity_id", out.Entity.ID), slog.Any("err", err))
	out.Degraded = append(out.Degraded, "index")
}

// ImportResult summarises [Service.ImportDefinitions].
type ImportResult struct {
	Created       int      `json:"created"`
	Merged        int      `json:"merged"`
	Relationships int      `json:"relationships"`
	Errors        []string `json:"errors,omitempty"`
}

// ImportDefinitions ingests declarative entity definitions (YAML seed files,
// VTT exports) into campaignID, then writes their relationships. Definition
// IDs are scoped to the campaign, so re-importing a file is idempotent.
// Per-entity and per-relationship failures are collected, not returned.
func (s *Service) ImportDefinitions(ctx context.Context, campaignID string, defs []entity.EntityDefinition) (ImportResult, error) {
	var res ImportResult
	byDefID := make(map[string]string, len(defs))
	byName := make(map[string]string, len(defs))

	for _, def := range defs {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		c := dedupe.Candidate{
			CampaignID: campaignID,
			Type:       def.Type,
			Name:       def.Name,
			Content:    entity.Content{Summary: def.Description, Backstory: def.Backstory},
			Metadata:   def.EntityMetadata(),
		}
		if def.ID != "" {
			c.ID = dedupe.DeterministicID(campaignID, def.Type, "import:"+def.ID)
		}
		ing, err := s.IngestEntity(ctx, c)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("entity %q: %v", def.Name, err))
			continue
		}
		if ing.Created {
			res.Created++
		} else {
			res.Merged++
		}
		if def.ID != "" {
			byDefID[def.ID] = ing.Entity.ID
		}
		byName[strings.ToLower(strings.TrimSpace(def.Name))] = ing.Entity.ID
	}

	for _, def := range defs {
		from, ok := byName[strings.ToLower(strings.TrimSpace(def.Name))]
		if def.ID != "" {
			from, ok = byDefID[def.ID]
		}
		if !ok {
			continue
		}
		for _, rd := range def.Relationships {
			to, err := s.resolveTarget(ctx, campaignID, rd, byDefID, byName)
			if err != nil {
				res.Errors = append(res.Errors, fmt.Sprintf("relationship %q -> %s: %v", def.Name, rd.Type, err))
				continue
			}
			if _, err := s.UpsertEdge(ctx, EdgeInput{CampaignID: campaignID, FromID: from, ToID: to, Type: rd.Type, Strength: rd.Strength}); err != nil {
				res.Errors = append(res.Errors, fmt.Sprintf("relationship %q -> %s: %v", def.Name, rd.Type, err))
				continue
			}
			res.Relationships++
		}
	}

	observe.Logger(ctx).Info("graph: definitions imported",
		slog.String("campaign_id", campaignID),
		slog.Int("created", res.Created),
		slog.Int("merged", res.Merged),
		slog.Int("relationships", res.Relationships),
		slog.Int("errors", len(res.Errors)),
	)
	return res, nil
}

func (s *Service) resolveTarget(ctx context.Context, campaignID string, rd entity.RelationshipDef, byDefID, byName map[string]string) (string, error) {
	if rd.TargetID != "" {
		if id, ok := byDefID[rd.TargetID]; ok {
			return id, nil
		}
		if _, err := s.Entity(ctx, campaignID, rd.TargetID); err == nil {
			return rd.TargetID, nil
		}
	}
	name := strings.TrimSpace(rd.TargetName)
	if id, ok := byName[strings.ToLower(name)]; ok {
		return id, nil
	}
	if name != "" {
		found, err := s.store.ListEntities(ctx, campaignID, entity.ListOptions{Name: name, Limit: 1})
		if err != nil {
			return "", entity.Dependency("find target", err)
		}
		if len(found) > 0 {
			return found[0].ID, nil
		}
	}
	return "", entity.NotFoundf("target %q", cmp.Or(rd.TargetID, rd.TargetName))
}
