package entity

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// EntityDefinition is the declarative format for seeding entities from YAML
// or converting them from VTT exports. Definitions are ingested through the
// graph service so duplicate resolution applies to every imported record.
type EntityDefinition struct {
	// ID is optional. When set it is used as the exact-ID dedupe key.
	ID string `yaml:"id" json:"id"`

	// Name is the entity's display name.
	Name string `yaml:"name" json:"name"`

	// Type is any spelling accepted by [ParseEntityType].
	Type EntityType `yaml:"type" json:"type"`

	// Description becomes the entity's content summary.
	Description string `yaml:"description" json:"description"`

	// Backstory becomes the entity's content backstory.
	Backstory string `yaml:"backstory,omitempty" json:"backstory,omitempty"`

	// Metadata holds arbitrary key-value data.
	Metadata map[string]any `yaml:"metadata,omitempty" json:"metadata,omitempty"`

	// Relationships defines edges leaving this entity.
	Relationships []RelationshipDef `yaml:"relationships,omitempty" json:"relationships,omitempty"`

	// Tags are stored under the "tags" metadata key.
	Tags []string `yaml:"tags,omitempty" json:"tags,omitempty"`
}

// RelationshipDef declares an edge from a definition to another entity.
type RelationshipDef struct {
	// TargetID is the ID of the related entity.
	TargetID string `yaml:"target_id,omitempty" json:"target_id,omitempty"`

	// TargetName is resolved by exact name within the campaign when TargetID
	// is empty.
	TargetName string `yaml:"target_name,omitempty" json:"target_name,omitempty"`

	// Type is any spelling accepted by [ParseRelationshipType].
	Type string `yaml:"type" json:"type"`

	// Strength in [0,1] or as a percentage. Nil uses the default.
	Strength *float64 `yaml:"strength,omitempty" json:"strength,omitempty"`
}

// CampaignFile is the top-level structure of a campaign seed YAML file.
//
// Example:
//
//	campaign:
//	  name: "The Lost Mine of Phandelver"
//	  metadata:
//	    worldName: "Forgotten Realms"
//	entities:
//	  - name: "Gundren Rockseeker"
//	    type: npc
//	    description: "A dwarf merchant hiring adventurers."
//	    relationships:
//	      - target_name: "Phandalin"
//	        type: lives_in
type CampaignFile struct {
	Campaign CampaignMeta       `yaml:"campaign"`
	Entities []EntityDefinition `yaml:"entities"`
}

// CampaignMeta holds top-level metadata for a seeded campaign.
type CampaignMeta struct {
	// Name is the campaign's display name.
	Name string `yaml:"name"`

	// Description is a free-text summary of the campaign.
	Description string `yaml:"description"`

	// System is the game system identifier (e.g., "dnd5e", "pf2e", "custom").
	System string `yaml:"system"`

	// Metadata is merged into the campaign's metadata map.
	Metadata map[string]any `yaml:"metadata,omitempty"`
}

// LoadCampaignFile reads and parses a campaign YAML file from disk.
// Returns a descriptive error if the file cannot be opened or parsed.
func LoadCampaignFile(path string) (*CampaignFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("entity: open campaign file %q: %w", path, err)
	}
	defer f.Close()

	cf, err := LoadCampaignFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("entity: parse campaign file %q: %w", path, err)
	}
	return cf, nil
}

// LoadCampaignFromReader parses campaign YAML from an [io.Reader] and
// validates every definition. The reader is consumed entirely; the caller is
// responsible for closing it.
func LoadCampaignFromReader(r io.Reader) (*CampaignFile, error) {
	var cf CampaignFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cf); err != nil {
		return nil, fmt.Errorf("entity: decode campaign yaml: %w", err)
	}
	for i, def := range cf.Entities {
		if err := ValidateDefinition(def); err != nil {
			return nil, fmt.Errorf("entity: entities[%d] (%q): %w", i, def.Name, err)
		}
	}
	return &cf, nil
}

// CampaignMetadata returns the metadata to store on the campaign record.
func (m CampaignMeta) CampaignMetadata() Metadata {
	md := Metadata(m.Metadata).Clone()
	if m.System != "" {
		md = md.Merge(Metadata{"system": m.System})
	}
	return md
}

// EntityMetadata returns the definition's metadata with tags folded in.
func (def EntityDefinition) EntityMetadata() Metadata {
	md := Metadata(def.Metadata).Clone()
	if len(def.Tags) > 0 {
		md = md.Merge(Metadata{"tags": def.Tags})
	}
	return md
}
