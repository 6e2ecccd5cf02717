package readiness

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/MrWong99/questweaver/internal/entity"
)

// Connectivity limits.
const (
	MinRelationships       = 3
	MaxLowConnectivityList = 5
)

// EntityStats summarises the knowledge graph of a campaign.
type EntityStats struct {
	TotalEntities      int            `json:"totalEntities"`
	EntityTypeCounts   map[string]int `json:"entityTypeCounts"`
	TotalRelationships int            `json:"totalRelationships"`
	Communities        int            `json:"communities"`

	// LowConnectivityEntities lists at most [MaxLowConnectivityList] entities
	// with fewer than [MinRelationships] relationships, least connected first.
	LowConnectivityEntities []LowConnectivity `json:"lowConnectivityEntities"`

	// LowConnectivityTotal counts every such entity, listed or not.
	LowConnectivityTotal int `json:"lowConnectivityTotal"`

	// Underpopulated names the categories below their minimum.
	Underpopulated []string `json:"underpopulatedCategories"`
}

// LowConnectivity is an entity that is barely tied into the world.
type LowConnectivity struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Type          string `json:"entityType"`
	Relationships int    `json:"relationships"`
}

func newEntityStats() *EntityStats {
	return &EntityStats{
		EntityTypeCounts:        map[string]int{},
		LowConnectivityEntities: []LowConnectivity{},
		Underpopulated:          []string{},
	}
}

// Structural derives coverage from entity counts, relationships and stored
// communities.
type Structural struct {
	store entity.Store
}

// NewStructural returns the structural provider.
func NewStructural(store entity.Store) *Structural {
	return &Structural{store: store}
}

// Name implements [Provider].
func (s *Structural) Name() string { return "structural" }

// Signal implements [Provider].
func (s *Structural) Signal(ctx context.Context, in Input) (Signal, error) {
	campaignID := in.Campaign.ID
	ents, err := s.store.ListEntities(ctx, campaignID, entity.ListOptions{})
	if err != nil {
		return Signal{}, entity.Dependency("list entities", err)
	}
	rels, err := s.store.ListRelationships(ctx, campaignID, entity.RelationshipFilter{})
	if err != nil {
		return Signal{}, entity.Dependency("list relationships", err)
	}
	level := 0
	comms, err := s.store.ListCommunities(ctx, campaignID, &level)
	if err != nil {
		return Signal{}, entity.Dependency("list communities", err)
	}

	stats := newEntityStats()
	stats.TotalEntities = len(ents)
	stats.TotalRelationships = len(rels)
	stats.Communities = len(comms)
	counts := make(map[entity.EntityType]int)
	for _, e := range ents {
		counts[e.Type]++
		stats.EntityTypeCounts[string(e.Type)]++
	}

	sig := Signal{Stats: stats}
	for _, c := range categories {
		have := 0
		for _, t := range c.Types {
			have += counts[t]
		}
		if have >= c.Minimum {
			sig.cover(c.Item)
			continue
		}
		stats.Underpopulated = append(stats.Underpopulated, c.Name)
		sig.Recommendations = append(sig.Recommendations,
			fmt.Sprintf("Add %d more %s (have %d, recommended at least %d).", c.Minimum-have, c.Label, have, c.Minimum))
	}

	lowConnectivity(stats, ents, rels)
	for _, lc := range stats.LowConnectivityEntities {
		sig.Recommendations = append(sig.Recommendations,
			fmt.Sprintf("Connect %s (%s) to more of the world; it has only %d relationship(s).", lc.Name, lc.Type, lc.Relationships))
	}

	byID := make(map[string]entity.Entity, len(ents))
	for _, e := range ents {
		byID[e.ID] = e
	}
	for _, c := range comms {
		communityNotes(&sig, c, byID)
	}
	return sig, nil
}

// lowConnectivity counts distinct neighbours per entity, so a reciprocal
// pair counts once.
func lowConnectivity(stats *EntityStats, ents []entity.Entity, rels []entity.Relationship) {
	neighbours := make(map[string]map[string]bool)
	add := func(a, b string) {
		if neighbours[a] == nil {
			neighbours[a] = make(map[string]bool)
		}
		neighbours[a][b] = true
	}
	for _, r := range rels {
		add(r.FromID, r.ToID)
		add(r.ToID, r.FromID)
	}

	var low []LowConnectivity
	for _, e := range ents {
		if !connectivityTypes[e.Type] {
			continue
		}
		if n := len(neighbours[e.ID]); n < MinRelationships {
			low = append(low, LowConnectivity{ID: e.ID, Name: e.Name, Type: string(e.Type), Relationships: n})
		}
	}
	slices.SortFunc(low, func(a, b LowConnectivity) int {
		return cmp.Or(
			cmp.Compare(a.Relationships, b.Relationships),
			strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name)),
			strings.Compare(a.ID, b.ID),
		)
	})
	stats.LowConnectivityTotal = len(low)
	if len(low) > MaxLowConnectivityList {
		low = low[:MaxLowConnectivityList]
	}
	stats.LowConnectivityEntities = append(stats.LowConnectivityEntities, low...)
}

var noteLabels = map[entity.EntityType]string{
	entity.TypeFaction:  "Factions",
	entity.TypeNPC:      "NPCs",
	entity.TypeLocation: "Locations",
	entity.TypeHook:     "Hooks",
}

// communityNotes notes every type with at least two members in c.
func communityNotes(sig *Signal, c entity.Community, byID map[string]entity.Entity) {
	names := make(map[entity.EntityType][]string)
	for _, id := range c.MemberIDs {
		e, ok := byID[id]
		if !ok {
			continue
		}
		if _, ok := noteItems[e.Type]; ok {
			names[e.Type] = append(names[e.Type], e.Name)
		}
	}
	for _, t := range []entity.EntityType{entity.TypeFaction, entity.TypeNPC, entity.TypeLocation, entity.TypeHook} {
		ns := names[t]
		if len(ns) < 2 {
			continue
		}
		slices.Sort(ns)
		sig.note(noteItems[t], fmt.Sprintf("%s %s appear integrated (community %s)", noteLabels[t], joinNames(ns), c.ID))
	}
}

func joinNames(ns []string) string {
	if len(ns) == 1 {
		return ns[0]
	}
	return strings.Join(ns[:len(ns)-1], ", ") + " and " + ns[len(ns)-1]
}
