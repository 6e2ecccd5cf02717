// Package readiness answers "what is this campaign still missing?".
//
// An [Analyzer] gathers coverage signals for a fixed planning checklist from
// independent [Provider]s (campaign metadata, semantic search over planning
// notes, graph structure) and folds them in a fixed order. Coverage only ever
// grows while folding: a provider that fails or finds nothing never clears an
// item another provider covered. The merged coverage drives recommendations,
// a 0-100 score and a qualitative campaign state.
package readiness

import "github.com/MrWong99/questweaver/internal/entity"

// Item is one campaign-planning fact the checklist tracks.
type Item struct {
	Key         string `json:"key"`
	Description string `json:"description"`

	// Recommendation is shown when the item is not covered.
	Recommendation string `json:"-"`
}

// Checklist item keys.
const (
	ItemWorldName        = "world_name"
	ItemTone             = "tone"
	ItemSettingOverview  = "setting_overview"
	ItemStartingLocation = "starting_location"
	ItemMainVillain      = "main_villain"
	ItemCentralConflict  = "central_conflict"
	ItemFactions         = "factions"
	ItemKeyNPCs          = "key_npcs"
	ItemAdventureHooks   = "adventure_hooks"
	ItemPlayerCharacters = "player_characters"
	ItemSessionZero      = "session_zero"
	ItemMagicTechnology  = "magic_and_technology"
)

var checklist = []Item{
	{ItemWorldName, "The name of the world or setting the campaign takes place in",
		"Give your world a name so players have something to anchor to."},
	{ItemTone, "The tone and mood of the campaign, such as grimdark, heroic or comedic",
		"Decide on the campaign's tone (grim, heroic, lighthearted) and share it with your players."},
	{ItemSettingOverview, "An overview of the setting: geography, history and what daily life looks like",
		"Write a short overview of the setting: its geography, history and everyday life."},
	{ItemStartingLocation, "The town, city or place where the adventure begins",
		"Pick and describe the location where the first session starts."},
	{ItemMainVillain, "The main antagonist or villain and their goals",
		"Define the main villain and what they want."},
	{ItemCentralConflict, "The central conflict or threat driving the campaign's story",
		"Outline the central conflict that drives the story forward."},
	{ItemFactions, "Factions, guilds or organisations with their own agendas",
		"Create factions with competing agendas to give the world some politics."},
	{ItemKeyNPCs, "Important non-player characters the party will meet",
		"Flesh out the key NPCs the party will meet early on."},
	{ItemAdventureHooks, "Adventure hooks or quests that pull the party into the story",
		"Prepare a few adventure hooks to pull the party into the story."},
	{ItemPlayerCharacters, "The player characters, their backgrounds and how they connect to the world",
		"Record the player characters and tie their backstories to the world."},
	{ItemSessionZero, "Session zero: table expectations, safety tools and house rules",
		"Plan a session zero to agree on expectations, safety tools and house rules."},
	{ItemMagicTechnology, "How magic and technology work and how common they are",
		"Decide how magic and technology work and how common they are."},
}

// Checklist returns the fixed checklist in display order.
func Checklist() []Item {
	out := make([]Item, len(checklist))
	copy(out, checklist)
	return out
}

// category is an entity type group with a minimum count.
type category struct {
	Name    string
	Label   string
	Types   []entity.EntityType
	Minimum int

	// Item is the checklist item the category covers when the minimum holds.
	Item string
}

var categories = []category{
	{Name: "npcs", Label: "NPCs", Types: []entity.EntityType{entity.TypeNPC}, Minimum: 3, Item: ItemKeyNPCs},
	{Name: "factions", Label: "factions", Types: []entity.EntityType{entity.TypeFaction}, Minimum: 2, Item: ItemFactions},
	{Name: "locations", Label: "locations", Types: []entity.EntityType{entity.TypeLocation}, Minimum: 1, Item: ItemStartingLocation},
	{Name: "hooks", Label: "adventure hooks or quests", Types: []entity.EntityType{entity.TypeHook, entity.TypeQuest}, Minimum: 1, Item: ItemAdventureHooks},
	{Name: "pcs", Label: "player characters", Types: []entity.EntityType{entity.TypePC}, Minimum: 1, Item: ItemPlayerCharacters},
}

// connectivityTypes are the entity types expected to be well connected.
var connectivityTypes = map[entity.EntityType]bool{
	entity.TypeNPC:      true,
	entity.TypeFaction:  true,
	entity.TypeLocation: true,
	entity.TypeHook:     true,
}

// noteItems maps entity types whose co-membership in one community is worth
// noting to the checklist item the note is attached to.
var noteItems = map[entity.EntityType]string{
	entity.TypeFaction:  ItemFactions,
	entity.TypeNPC:      ItemKeyNPCs,
	entity.TypeLocation: ItemStartingLocation,
	entity.TypeHook:     ItemAdventureHooks,
}

// Campaign states, lowest first.
const (
	StateNotStarted    = "not_started"
	StateEarlyPlanning = "early_planning"
	StateDeveloping    = "developing"
	StateNearlyReady   = "nearly_ready"
	StateReady         = "ready"
)

// StateFor maps a score to the campaign state. It is monotonic in score.
func StateFor(score int) string {
	switch {
	case score < 20:
		return StateNotStarted
	case score < 40:
		return StateEarlyPlanning
	case score < 70:
		return StateDeveloping
	case score < 90:
		return StateNearlyReady
	default:
		return StateReady
	}
}

// Score is the count-based readiness score, capped at 100.
func Score(counts map[entity.EntityType]int, coveredItems int) int {
	hooks := counts[entity.TypeHook] + counts[entity.TypeQuest]
	s := 10*min(counts[entity.TypeNPC], 3) +
		10*min(counts[entity.TypeFaction], 2) +
		10*min(counts[entity.TypeLocation], 2) +
		10*min(hooks, 2) +
		5*min(counts[entity.TypePC], 2) +
		3*coveredItems
	return min(s, 100)
}
