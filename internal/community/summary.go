package community

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/questweaver/internal/entity"
	"github.com/MrWong99/questweaver/internal/observe"
	"github.com/MrWong99/questweaver/pkg/provider/llm"
)

const (
	maxSummaryMembers     = 40
	summaryConcurrency    = 4
	summarySystemPrompt   = "You summarise groups of tabletop RPG campaign entities for a game master. Be concrete and brief."
	summarySchemaName     = "community_summary"
	summarySchemaDescribe = "A one or two sentence theme for the group plus up to five keywords."

	defaultSummaryTimeout = 30 * time.Second
)

type communitySummary struct {
	Summary  string   `json:"summary" jsonschema:"description=One or two sentences describing what ties the group together" validate:"required"`
	Keywords []string `json:"keywords" jsonschema:"description=Up to five short theme keywords" validate:"max=5"`
}

// Summarize asks the configured LLM to describe each stored community of the
// campaign and stores the summaries. A community whose summary fails keeps an
// empty one. Without a summarizer it returns the stored communities unchanged.
func (d *Detector) Summarize(ctx context.Context, campaignID string) ([]entity.Community, error) {
	cs, err := d.List(ctx, campaignID, nil)
	if err != nil {
		return nil, err
	}
	if d.llm == nil || len(cs) == 0 {
		return cs, nil
	}
	ents, err := d.store.ListEntities(ctx, campaignID, entity.ListOptions{})
	if err != nil {
		return nil, entity.Dependency("list entities", err)
	}
	byID := make(map[string]entity.Entity, len(ents))
	for _, e := range ents {
		byID[e.ID] = e
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(summaryConcurrency)
	for i := range cs {
		g.Go(func() error {
			s, err := d.summarize(gctx, cs[i], byID)
			if err != nil {
				observe.Logger(gctx).Warn("community: summary failed",
					slog.String("community_id", cs[i].ID), slog.Any("err", err))
				return nil
			}
			cs[i].Summary = strings.TrimSpace(s.Summary)
			cs[i].Keywords = s.Keywords
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := d.store.ReplaceCommunities(ctx, campaignID, cs); err != nil {
		return nil, entity.Dependency("store communities", err)
	}
	return cs, nil
}

func (d *Detector) summarize(ctx context.Context, c entity.Community, byID map[string]entity.Entity) (communitySummary, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Community with %d members:\n", c.Size())
	for i, id := range c.MemberIDs {
		if i == maxSummaryMembers {
			fmt.Fprintf(&b, "- ... and %d more\n", c.Size()-maxSummaryMembers)
			break
		}
		e, ok := byID[id]
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "- %s (%s)", e.Name, e.Type)
		if s := strings.TrimSpace(e.Content.Summary); s != "" {
			fmt.Fprintf(&b, ": %s", s)
		}
		b.WriteByte('\n')
	}

	ctx, cancel := context.WithTimeout(ctx, d.summaryTimeout)
	defer cancel()
	return llm.GenerateStructured[communitySummary](ctx, d.llm, llm.CompletionRequest{
		SystemPrompt: summarySystemPrompt,
		Messages:     []llm.Message{llm.UserMessage(b.String())},
		Temperature:  0.3,
		MaxTokens:    300,
	}, summarySchemaName, summarySchemaDescribe)
}
