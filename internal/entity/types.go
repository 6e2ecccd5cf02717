// Package entity defines the campaign knowledge graph model for questweaver.
//
// A campaign owns entities (NPCs, factions, locations, hooks, ...), typed
// relationships between them and the communities produced by clustering the
// relationship graph. This package holds those types, the [Store] contract
// every persistence backend implements, an in-memory [MemStore] and the
// declarative import formats (YAML seed files, Foundry VTT and Roll20 exports).
//
// All store operations are safe for concurrent use.
package entity

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"
)

// EntityType classifies an entity within a campaign.
type EntityType string

const (
	// TypeNPC represents a non-player character.
	TypeNPC EntityType = "npcs"

	// TypePC represents a player character.
	TypePC EntityType = "pcs"

	// TypeLocation represents a place in the game world.
	TypeLocation EntityType = "locations"

	// TypeFaction represents an organisation, guild or faction.
	TypeFaction EntityType = "factions"

	// TypeMonster represents a creature or stat block.
	TypeMonster EntityType = "monsters"

	// TypeItem represents a physical object or artifact.
	TypeItem EntityType = "items"

	// TypeQuest represents a quest or mission.
	TypeQuest EntityType = "quests"

	// TypeHook represents an adventure or plot hook.
	TypeHook EntityType = "hooks"

	// TypeEvent represents a historical or scheduled event.
	TypeEvent EntityType = "events"

	// TypeLore represents lore, history or journal entries.
	TypeLore EntityType = "lore"

	// TypeConversationalContext holds facts captured from planning chats.
	TypeConversationalContext EntityType = "conversational_context"
)

var allEntityTypes = []EntityType{
	TypeNPC, TypePC, TypeLocation, TypeFaction, TypeMonster, TypeItem,
	TypeQuest, TypeHook, TypeEvent, TypeLore, TypeConversationalContext,
}

var entityTypeAliases = map[string]EntityType{
	"npc":              TypeNPC,
	"character":        TypeNPC,
	"characters":       TypeNPC,
	"pc":               TypePC,
	"player":           TypePC,
	"players":          TypePC,
	"player_character": TypePC,
	"location":         TypeLocation,
	"place":            TypeLocation,
	"places":           TypeLocation,
	"faction":          TypeFaction,
	"organization":     TypeFaction,
	"organisation":     TypeFaction,
	"guild":            TypeFaction,
	"monster":          TypeMonster,
	"creature":         TypeMonster,
	"creatures":        TypeMonster,
	"item":             TypeItem,
	"artifact":         TypeItem,
	"quest":            TypeQuest,
	"hook":             TypeHook,
	"plot_hook":        TypeHook,
	"plot_hooks":       TypeHook,
	"adventure_hook":   TypeHook,
	"adventure_hooks":  TypeHook,
	"event":            TypeEvent,
	"journal":          TypeLore,
	"context":          TypeConversationalContext,
}

// AllEntityTypes returns every recognised entity type in declaration order.
func AllEntityTypes() []EntityType {
	return slices.Clone(allEntityTypes)
}

// IsValid reports whether t is a recognised entity type.
func (t EntityType) IsValid() bool {
	return slices.Contains(allEntityTypes, t)
}

// ParseEntityType normalises s (case, whitespace, singular forms and common
// aliases) into an [EntityType]. Unknown values wrap [ErrValidation].
func ParseEntityType(s string) (EntityType, error) {
	key := normalizeToken(s)
	if t := EntityType(key); t.IsValid() {
		return t, nil
	}
	if t, ok := entityTypeAliases[key]; ok {
		return t, nil
	}
	return "", fmt.Errorf("%w: unknown entity type %q", ErrValidation, s)
}

// Metadata is an open key/value map attached to entities, relationships and
// campaigns. Updates are applied with [Metadata.Merge], never by replacement.
type Metadata map[string]any

// Merge returns a new map holding m overlaid with patch. Neither input is
// modified. A nil patch returns a copy of m.
func (m Metadata) Merge(patch Metadata) Metadata {
	out := make(Metadata, len(m)+len(patch))
	maps.Copy(out, m)
	maps.Copy(out, patch)
	return out
}

// Clone returns a shallow copy of m. A nil map clones to nil.
func (m Metadata) Clone() Metadata {
	if m == nil {
		return nil
	}
	return maps.Clone(m)
}

// String returns the value at key when it is a non-empty string.
func (m Metadata) String(key string) string {
	s, _ := m[key].(string)
	return strings.TrimSpace(s)
}

// Content is the descriptive body of an entity.
type Content struct {
	// Summary is a short description used for display and embedding.
	Summary string `json:"summary,omitempty" yaml:"summary,omitempty"`

	// Backstory is longer free-form narrative.
	Backstory string `json:"backstory,omitempty" yaml:"backstory,omitempty"`

	// SourceContext records where the entity was extracted from.
	SourceContext string `json:"sourceContext,omitempty" yaml:"source_context,omitempty"`
}

// Text joins the non-empty descriptive fields for embedding.
func (c Content) Text() string {
	parts := make([]string, 0, 2)
	for _, s := range []string{c.Summary, c.Backstory} {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "\n")
}

// Overlay returns c with every non-empty field of o applied on top.
func (c Content) Overlay(o Content) Content {
	if o.Summary != "" {
		c.Summary = o.Summary
	}
	if o.Backstory != "" {
		c.Backstory = o.Backstory
	}
	if o.SourceContext != "" {
		c.SourceContext = o.SourceContext
	}
	return c
}

// Entity is a typed node in a campaign's knowledge graph.
type Entity struct {
	ID          string     `json:"id"`
	CampaignID  string     `json:"campaignId"`
	Type        EntityType `json:"entityType"`
	Name        string     `json:"name"`
	Content     Content    `json:"content"`
	Metadata    Metadata   `json:"metadata,omitempty"`
	EmbeddingID string     `json:"embeddingId,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// EmbeddingText is the text indexed for semantic duplicate detection.
func (e Entity) EmbeddingText() string {
	if body := e.Content.Text(); body != "" {
		return e.Name + "\n" + body
	}
	return e.Name
}

// EntityPatch describes a partial update. Nil pointer fields are left
// untouched; Metadata is merged over the stored map.
type EntityPatch struct {
	Name        *string
	Type        *EntityType
	Content     *Content
	Metadata    Metadata
	EmbeddingID *string
}

// Relationship is a directed, typed edge between two entities of the same
// campaign. Bidirectional types are stored as two rows, one per direction.
type Relationship struct {
	ID         string           `json:"id"`
	CampaignID string           `json:"campaignId"`
	FromID     string           `json:"fromEntityId"`
	ToID       string           `json:"toEntityId"`
	Type       RelationshipType `json:"relationshipType"`
	Strength   float64          `json:"strength"`
	Metadata   Metadata         `json:"metadata,omitempty"`
	CreatedAt  time.Time        `json:"createdAt"`
}

// Community is a cluster of entities produced by community detection.
// Level 0 is the finest partition; higher levels are coarser.
type Community struct {
	ID         string    `json:"id"`
	CampaignID string    `json:"campaignId"`
	Level      int       `json:"level"`
	MemberIDs  []string  `json:"memberEntityIds"`
	ParentID   string    `json:"parentCommunityId,omitempty"`
	Summary    string    `json:"summary,omitempty"`
	Keywords   []string  `json:"keywords,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Size returns the number of member entities.
func (c Community) Size() int { return len(c.MemberIDs) }

// MinCommunityMembers is the smallest community an entity deletion leaves
// in place.
const MinCommunityMembers = 2

// Campaign is the ownership and planning root of a knowledge graph.
type Campaign struct {
	ID          string    `json:"id"`
	OwnerID     string    `json:"ownerUserId"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Metadata    Metadata  `json:"metadata,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// CampaignPatch describes a partial campaign update.
type CampaignPatch struct {
	Name        *string
	Description *string
	Metadata    Metadata
}

// normalizeToken lowercases s, trims it and maps spaces and hyphens to
// underscores.
func normalizeToken(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.Map(func(r rune) rune {
		if r == ' ' || r == '-' {
			return '_'
		}
		return r
	}, s)
}
