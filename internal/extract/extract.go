// Package extract pulls campaign entities and their relationships out of free
// text with an LLM and feeds them through duplicate resolution into the
// entity graph.
//
// The model's reply is schema-checked before anything is written. A reply
// that cannot be decoded yields an empty, degraded result instead of an
// error; individual entities or relationships that do not validate are
// skipped and reported.
package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/MrWong99/questweaver/internal/dedupe"
	"github.com/MrWong99/questweaver/internal/entity"
	"github.com/MrWong99/questweaver/internal/graph"
	"github.com/MrWong99/questweaver/internal/observe"
	"github.com/MrWong99/questweaver/pkg/provider/llm"
)

const (
	// MaxContentLength caps the text sent to the model, in bytes.
	MaxContentLength = 32_000

	defaultTimeout = 60 * time.Second
	defaultSource  = "chat"

	schemaName     = "campaign_entities"
	schemaDescribe = "Entities and relationships mentioned in a piece of tabletop RPG campaign text."
)

type extractedEntity struct {
	Name      string         `json:"name" jsonschema:"description=Proper name as written in the text"`
	Type      string         `json:"type" jsonschema:"enum=npcs,enum=pcs,enum=locations,enum=factions,enum=monsters,enum=items,enum=quests,enum=hooks,enum=events,enum=lore"`
	Summary   string         `json:"summary" jsonschema:"description=One or two sentence description"`
	Backstory string         `json:"backstory,omitempty" jsonschema:"description=Longer history when the text provides one"`
	Metadata  map[string]any `json:"metadata,omitempty" jsonschema:"description=Structured facts such as race or alignment"`
}

type extractedRelationship struct {
	From     string   `json:"from" jsonschema:"description=Name of the source entity"`
	To       string   `json:"to" jsonschema:"description=Name of the target entity"`
	Type     string   `json:"type" jsonschema:"description=Relationship type such as ally_of or located_in"`
	Strength *float64 `json:"strength,omitempty" jsonschema:"description=How strong the tie is from 0 to 1"`
}

type extraction struct {
	Entities      []extractedEntity       `json:"entities"`
	Relationships []extractedRelationship `json:"relationships"`
}

// Request is one extraction call.
type Request struct {
	CampaignID string
	Content    string

	// Source identifies where Content came from, such as "chat" or a file
	// name. Entities extracted twice from the same source resolve to the
	// same record.
	Source string

	// Types restricts extraction to these entity types.
	Types []entity.EntityType
}

// ExtractedEntity is one stored entity.
type ExtractedEntity struct {
	Entity  entity.Entity `json:"entity"`
	Created bool          `json:"created"`
	Method  dedupe.Method `json:"resolution"`
}

// Result reports what an extraction wrote.
type Result struct {
	Entities      []ExtractedEntity     `json:"entities"`
	Relationships []entity.Relationship `json:"relationships"`
	Created       int                   `json:"created"`
	Merged        int                   `json:"merged"`

	// Skipped describes model output that was not written.
	Skipped []string `json:"skipped"`

	// Degraded names signal sources that failed along the way.
	Degraded []string `json:"degraded"`
}

// Option configures an [Extractor].
type Option func(*Extractor)

// WithTimeout bounds the model call.
func WithTimeout(d time.Duration) Option {
	return func(e *Extractor) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// Extractor runs extraction against one LLM.
type Extractor struct {
	llm     llm.Provider
	graph   *graph.Service
	timeout time.Duration
}

// New returns an extractor writing through g.
func New(p llm.Provider, g *graph.Service, opts ...Option) *Extractor {
	e := &Extractor{llm: p, graph: g, timeout: defaultTimeout}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Extract runs the model over req.Content and ingests the result.
func (x *Extractor) Extract(ctx context.Context, req Request) (Result, error) {
	res := Result{Entities: []ExtractedEntity{}, Relationships: []entity.Relationship{}, Skipped: []string{}, Degraded: []string{}}
	content := strings.TrimSpace(req.Content)
	switch {
	case req.CampaignID == "":
		return res, entity.Validationf("campaign id is required")
	case content == "":
		return res, entity.Validationf("content must not be empty")
	case len(content) > MaxContentLength:
		return res, entity.Validationf("content exceeds %d bytes", MaxContentLength)
	}
	if x.llm == nil {
		return res, entity.Dependency("extract entities", errors.New("no llm provider configured"))
	}
	source := strings.TrimSpace(req.Source)
	if source == "" {
		source = defaultSource
	}
	log := observe.Logger(ctx).With(slog.String("campaign_id", req.CampaignID), slog.String("source", source))

	out, err := x.generate(ctx, content, req.Types)
	switch {
	case errors.Is(err, llm.ErrInvalidOutput):
		log.Warn("extract: unusable model output", slog.Any("err", err))
		res.Degraded = append(res.Degraded, "llm")
		return res, nil
	case err != nil:
		return res, entity.Dependency("extract entities", err)
	}

	allowed := make(map[entity.EntityType]bool, len(req.Types))
	for _, t := range req.Types {
		allowed[t] = true
	}
	byName := make(map[string]string)
	for _, ee := range out.Entities {
		name := strings.TrimSpace(ee.Name)
		t, err := entity.ParseEntityType(ee.Type)
		switch {
		case name == "":
			res.Skipped = append(res.Skipped, "entity without a name")
			continue
		case err != nil:
			res.Skipped = append(res.Skipped, fmt.Sprintf("entity %q: unknown type %q", name, ee.Type))
			continue
		case len(allowed) > 0 && !allowed[t]:
			res.Skipped = append(res.Skipped, fmt.Sprintf("entity %q: type %s not requested", name, t))
			continue
		}

		ing, err := x.graph.IngestEntity(ctx, dedupe.Candidate{
			CampaignID: req.CampaignID,
			Type:       t,
			Name:       name,
			Content: entity.Content{
				Summary:       strings.TrimSpace(ee.Summary),
				Backstory:     strings.TrimSpace(ee.Backstory),
				SourceContext: source + "#" + dedupe.NormalizeName(name),
			},
			Metadata: ee.Metadata,
		})
		if err != nil {
			if entity.Kind(err) == entity.ErrDependency {
				return res, err
			}
			res.Skipped = append(res.Skipped, fmt.Sprintf("entity %q: %v", name, err))
			continue
		}
		res.Degraded = appendUnique(res.Degraded, ing.Degraded...)
		res.Entities = append(res.Entities, ExtractedEntity{Entity: ing.Entity, Created: ing.Created, Method: ing.Method})
		if ing.Created {
			res.Created++
		} else {
			res.Merged++
		}
		byName[strings.ToLower(name)] = ing.Entity.ID
	}

	for _, er := range out.Relationships {
		from, to := byName[strings.ToLower(strings.TrimSpace(er.From))], byName[strings.ToLower(strings.TrimSpace(er.To))]
		label := fmt.Sprintf("relationship %q -[%s]-> %q", er.From, er.Type, er.To)
		if from == "" || to == "" {
			res.Skipped = append(res.Skipped, label+": endpoint not extracted")
			continue
		}
		edges, err := x.graph.UpsertEdge(ctx, graph.EdgeInput{
			CampaignID: req.CampaignID,
			FromID:     from,
			ToID:       to,
			Type:       er.Type,
			Strength:   er.Strength,
			Metadata:   entity.Metadata{"source": source},
		})
		res.Relationships = append(res.Relationships, edges...)
		if err != nil {
			res.Skipped = append(res.Skipped, fmt.Sprintf("%s: %v", label, err))
		}
	}

	log.Info("extract: content processed",
		slog.Int("created", res.Created),
		slog.Int("merged", res.Merged),
		slog.Int("relationships", len(res.Relationships)),
		slog.Int("skipped", len(res.Skipped)),
	)
	return res, nil
}

func (x *Extractor) generate(ctx context.Context, content string, types []entity.EntityType) (extraction, error) {
	ctx, cancel := context.WithTimeout(ctx, x.timeout)
	defer cancel()

	var b strings.Builder
	b.WriteString("You extract entities from tabletop RPG campaign text for a game master's knowledge base. ")
	b.WriteString("Only include entities that are named or clearly identifiable. ")
	b.WriteString("Use the plural type names from the schema. For relationships refer to entities by the exact names you extracted. ")
	b.WriteString("Known relationship types: ")
	b.WriteString(relationshipVocabulary())
	b.WriteString(".")
	if len(types) > 0 {
		names := make([]string, len(types))
		for i, t := range types {
			names[i] = string(t)
		}
		fmt.Fprintf(&b, " Only extract entities of these types: %s.", strings.Join(names, ", "))
	}

	return llm.GenerateStructured[extraction](ctx, x.llm, llm.CompletionRequest{
		SystemPrompt: b.String(),
		Messages:     []llm.Message{llm.UserMessage(content)},
		Temperature:  0.1,
		MaxTokens:    4000,
	}, schemaName, schemaDescribe)
}

func relationshipVocabulary() string {
	ts := entity.AllRelationshipTypes()
	names := make([]string, len(ts))
	for i, t := range ts {
		names[i] = string(t)
	}
	return strings.Join(names, ", ")
}

func appendUnique(dst []string, src ...string) []string {
	for _, s := range src {
		found := false
		for _, d := range dst {
			if d == s {
				found = true
				break
			}
		}
		if !found {
			dst = append(dst, s)
		}
	}
	return dst
}
