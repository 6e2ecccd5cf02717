// Package dedupe decides whether a proposed entity already exists in a
// campaign's knowledge graph.
//
// A [Resolver] runs an ordered list of [Matcher]s and returns the first hit:
//
//  1. [ExactIDMatcher]: the candidate's ID, or a deterministic ID derived from
//     its source context, names an existing entity of the same campaign and type.
//  2. [SemanticMatcher]: the candidate's embedding is within the similarity
//     threshold of an indexed entity of the same campaign and type.
//  3. [LexicalMatcher]: the candidate's name equals, or nearly equals, the name
//     of an existing entity of the same campaign and type.
//  4. [PhoneticMatcher], when enabled: the names sound alike word by word.
//
// Names are not unique, so the name matchers only run when semantic matching
// is not configured or failed: a clean semantic miss ends the fold. A failing
// matcher degrades the resolution instead of failing it, so an unavailable
// embeddings backend still leaves ID and name matching in place.
package dedupe

import (
	"context"
	"strings"

	"github.com/MrWong99/questweaver/internal/entity"
)

// Method names how a candidate was matched.
type Method string

const (
	MethodExactID  Method = "exact_id"
	MethodSemantic Method = "semantic"
	MethodLexical  Method = "lexical"
	MethodPhonetic Method = "phonetic"
	MethodNone     Method = "none"
)

// Candidate is an entity proposed for insertion.
type Candidate struct {
	// ID is an optional caller-supplied identifier.
	ID string

	CampaignID string
	Type       entity.EntityType
	Name       string
	Content    entity.Content
	Metadata   entity.Metadata

	// Embedding is an optional precomputed vector for Text.
	Embedding []float32
}

// Text is the text embedded for semantic matching. It is identical to
// [entity.Entity.EmbeddingText] for the entity the candidate would create.
func (c Candidate) Text() string {
	return c.Entity().EmbeddingText()
}

// Entity returns the entity the candidate would create.
func (c Candidate) Entity() entity.Entity {
	return entity.Entity{
		ID:         c.ID,
		CampaignID: c.CampaignID,
		Type:       c.Type,
		Name:       strings.TrimSpace(c.Name),
		Content:    c.Content,
		Metadata:   c.Metadata.Clone(),
	}
}

func (c Candidate) validate() error {
	switch {
	case c.CampaignID == "":
		return entity.Validationf("candidate: campaign id is required")
	case !c.Type.IsValid():
		return entity.Validationf("candidate: unknown entity type %q", c.Type)
	case strings.TrimSpace(c.Name) == "":
		return entity.Validationf("candidate: name is required")
	}
	return nil
}

// Match is a positive answer from a [Matcher].
type Match struct {
	EntityID string
	Method   Method
	Score    float64

	// Embedding is the vector the matcher computed for the candidate, if any.
	// It is set on misses too so callers can index a new entity without a
	// second embeddings call.
	Embedding []float32

	// Conclusive marks a miss that later matchers must not overrule.
	Conclusive bool
}

// Matcher is one duplicate signal.
//
// Match reports (m, true, nil) on a hit. A miss may still carry data in m,
// such as a computed embedding. A non-nil error marks the signal unavailable.
type Matcher interface {
	Name() string
	Match(ctx context.Context, c Candidate) (Match, bool, error)
}

// sameScope reports whether e may stand in for c.
func sameScope(e *entity.Entity, c Candidate) bool {
	return e != nil && e.CampaignID == c.CampaignID && e.Type == c.Type
}
