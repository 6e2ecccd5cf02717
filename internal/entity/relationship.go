package entity

import (
	"fmt"
	"maps"
	"math"
	"slices"
)

// RelationshipType is the closed vocabulary of edge labels.
type RelationshipType string

const (
	RelAllyOf     RelationshipType = "ally_of"
	RelEnemyOf    RelationshipType = "enemy_of"
	RelRivalOf    RelationshipType = "rival_of"
	RelKnows      RelationshipType = "knows"
	RelRelatedTo  RelationshipType = "related_to"
	RelSiblingOf  RelationshipType = "sibling_of"
	RelMarriedTo  RelationshipType = "married_to"
	RelTradesWith RelationshipType = "trades_with"
	RelParentOf   RelationshipType = "parent_of"
	RelChildOf    RelationshipType = "child_of"
	RelLeads      RelationshipType = "leads"
	RelLedBy      RelationshipType = "led_by"
	RelEmploys    RelationshipType = "employs"
	RelEmployedBy RelationshipType = "employed_by"
	RelMemberOf   RelationshipType = "member_of"
	RelLocatedIn  RelationshipType = "located_in"
	RelOwns       RelationshipType = "owns"
	RelGuards     RelationshipType = "guards"
	RelSeeks      RelationshipType = "seeks"
	RelWorships   RelationshipType = "worships"
	RelCreated    RelationshipType = "created"
)

// DefaultStrength is applied when a relationship carries no usable strength.
const DefaultStrength = 0.5

// relationshipReciprocals lists every recognised type. A non-empty value marks
// the type as bidirectional and names the edge written in the other direction.
var relationshipReciprocals = map[RelationshipType]RelationshipType{
	RelAllyOf:     RelAllyOf,
	RelEnemyOf:    RelEnemyOf,
	RelRivalOf:    RelRivalOf,
	RelKnows:      RelKnows,
	RelRelatedTo:  RelRelatedTo,
	RelSiblingOf:  RelSiblingOf,
	RelMarriedTo:  RelMarriedTo,
	RelTradesWith: RelTradesWith,
	RelParentOf:   RelChildOf,
	RelChildOf:    RelParentOf,
	RelLeads:      RelLedBy,
	RelLedBy:      RelLeads,
	RelEmploys:    RelEmployedBy,
	RelEmployedBy: RelEmploys,
	RelMemberOf:   "",
	RelLocatedIn:  "",
	RelOwns:       "",
	RelGuards:     "",
	RelSeeks:      "",
	RelWorships:   "",
	RelCreated:    "",
}

var relationshipAliases = map[string]RelationshipType{
	"ally":         RelAllyOf,
	"allies":       RelAllyOf,
	"allies_with":  RelAllyOf,
	"allied_with":  RelAllyOf,
	"friend_of":    RelAllyOf,
	"enemy":        RelEnemyOf,
	"enemies_with": RelEnemyOf,
	"hostile_to":   RelEnemyOf,
	"rival":        RelRivalOf,
	"rivals_with":  RelRivalOf,
	"knows_of":     RelKnows,
	"related":      RelRelatedTo,
	"connected_to": RelRelatedTo,
	"sibling":      RelSiblingOf,
	"brother_of":   RelSiblingOf,
	"sister_of":    RelSiblingOf,
	"spouse_of":    RelMarriedTo,
	"trades":       RelTradesWith,
	"father_of":    RelParentOf,
	"mother_of":    RelParentOf,
	"son_of":       RelChildOf,
	"daughter_of":  RelChildOf,
	"leader_of":    RelLeads,
	"commands":     RelLeads,
	"works_for":    RelEmployedBy,
	"serves":       RelEmployedBy,
	"member":       RelMemberOf,
	"belongs_to":   RelMemberOf,
	"part_of":      RelMemberOf,
	"lives_in":     RelLocatedIn,
	"based_in":     RelLocatedIn,
	"resides_in":   RelLocatedIn,
	"found_in":     RelLocatedIn,
	"located_at":   RelLocatedIn,
	"possesses":    RelOwns,
	"protects":     RelGuards,
	"searches_for": RelSeeks,
	"hunts":        RelSeeks,
	"worship":      RelWorships,
	"creator_of":   RelCreated,
}

// AllRelationshipTypes returns the vocabulary in lexical order.
func AllRelationshipTypes() []RelationshipType {
	return slices.Sorted(maps.Keys(relationshipReciprocals))
}

// IsValid reports whether t is in the vocabulary.
func (t RelationshipType) IsValid() bool {
	_, ok := relationshipReciprocals[t]
	return ok
}

// IsBidirectional reports whether writing t also writes a reciprocal edge.
func (t RelationshipType) IsBidirectional() bool {
	return relationshipReciprocals[t] != ""
}

// Reciprocal returns the type written in the reverse direction. The boolean
// is false for unidirectional types.
func (t RelationshipType) Reciprocal() (RelationshipType, bool) {
	r := relationshipReciprocals[t]
	return r, r != ""
}

// ParseRelationshipType normalises s into the vocabulary. Unknown values wrap
// [ErrValidation].
func ParseRelationshipType(s string) (RelationshipType, error) {
	key := normalizeToken(s)
	if t := RelationshipType(key); t.IsValid() {
		return t, nil
	}
	if t, ok := relationshipAliases[key]; ok {
		return t, nil
	}
	return "", fmt.Errorf("%w: unknown relationship type %q", ErrValidation, s)
}

// NormalizeStrength maps a caller-supplied strength into [0,1].
// A nil or NaN value yields [DefaultStrength]; values in (1,100] are treated
// as percentages.
func NormalizeStrength(v *float64) float64 {
	if v == nil || math.IsNaN(*v) {
		return DefaultStrength
	}
	s := *v
	if s > 1 && s <= 100 {
		s /= 100
	}
	return min(max(s, 0), 1)
}
