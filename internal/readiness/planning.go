package readiness

import (
	"context"
	"strings"
	"time"

	"github.com/MrWong99/questweaver/internal/entity"
	"github.com/MrWong99/questweaver/pkg/memory"
	"github.com/MrWong99/questweaver/pkg/provider/embeddings"
)

// Planning note sources.
const (
	SourceNote     = "note"
	SourceCampaign = "campaign"
)

// PlanningIndex embeds planning notes into [memory.NamespacePlanning] where
// [SemanticCoverage] finds them.
type PlanningIndex struct {
	index    memory.VectorIndex
	embedder embeddings.Provider
	timeout  time.Duration
}

// NewPlanningIndex returns a planning index with the given embedding timeout.
func NewPlanningIndex(index memory.VectorIndex, embedder embeddings.Provider, timeout time.Duration) *PlanningIndex {
	if timeout <= 0 {
		timeout = defaultSemanticTimeout
	}
	return &PlanningIndex{index: index, embedder: embedder, timeout: timeout}
}

// IndexPlanningContext embeds text as the note id of the campaign,
// replacing an earlier note with the same id. Note ids are scoped to the
// campaign.
func (p *PlanningIndex) IndexPlanningContext(ctx context.Context, campaignID, id, text string) error {
	if strings.TrimSpace(id) == "" {
		return entity.Validationf("planning note id is required")
	}
	return p.upsert(ctx, campaignID, noteVectorID(campaignID, id), text, SourceNote)
}

// IndexCampaign embeds the campaign's name and description. A campaign
// without a description removes any earlier vector.
func (p *PlanningIndex) IndexCampaign(ctx context.Context, c entity.Campaign) error {
	id := campaignVectorID(c.ID)
	if strings.TrimSpace(c.Description) == "" {
		if err := p.index.Delete(ctx, memory.NamespacePlanning, id); err != nil {
			return entity.Dependency("delete planning vector", err)
		}
		return nil
	}
	return p.upsert(ctx, c.ID, id, c.Name+"\n"+c.Description, SourceCampaign)
}

// DeleteCampaign drops every planning vector of the campaign.
func (p *PlanningIndex) DeleteCampaign(ctx context.Context, campaignID string) error {
	if err := p.index.DeleteWhere(ctx, memory.CampaignFilter(memory.NamespacePlanning, campaignID, "")); err != nil {
		return entity.Dependency("delete planning vectors", err)
	}
	return nil
}

func (p *PlanningIndex) upsert(ctx context.Context, campaignID, id, text, source string) error {
	switch {
	case campaignID == "":
		return entity.Validationf("campaign id is required")
	case strings.TrimSpace(text) == "":
		return entity.Validationf("planning note text is required")
	}

	ectx, cancel := context.WithTimeout(ctx, p.timeout)
	emb, err := p.embedder.Embed(ectx, text)
	cancel()
	if err != nil {
		return entity.Dependency("embed planning note", err)
	}
	err = p.index.Upsert(ctx, memory.Vector{
		ID:        id,
		Namespace: memory.NamespacePlanning,
		Embedding: emb,
		Metadata: map[string]string{
			memory.KeyCampaignID: campaignID,
			memory.KeySource:     source,
		},
	})
	if err != nil {
		return entity.Dependency("index planning note", err)
	}
	return nil
}

func campaignVectorID(campaignID string) string { return "campaign:" + campaignID }

func noteVectorID(campaignID, id string) string { return "note:" + campaignID + ":" + id }
