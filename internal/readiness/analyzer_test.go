package readiness_test

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"

	"github.com/MrWong99/questweaver/internal/community"
	"github.com/MrWong99/questweaver/internal/entity"
	"github.com/MrWong99/questweaver/internal/readiness"
	"github.com/MrWong99/questweaver/pkg/memory"
	memorymock "github.com/MrWong99/questweaver/pkg/memory/mock"
	embmock "github.com/MrWong99/questweaver/pkg/provider/embeddings/mock"
	"github.com/MrWong99/questweaver/pkg/provider/llm"
	llmmock "github.com/MrWong99/questweaver/pkg/provider/llm/mock"
)

const campaignID = "camp-1"

func newCampaign(t *testing.T, meta entity.Metadata, description string) *entity.MemStore {
	t.Helper()
	s := entity.NewMemStore()
	_, err := s.CreateCampaign(context.Background(), entity.Campaign{
		ID: campaignID, OwnerID: "user-1", Name: "Curse of the Crows", Description: description, Metadata: meta,
	})
	if err != nil {
		t.Fatalf("CreateCampaign: unexpected error: %v", err)
	}
	return s
}

func addEntity(t *testing.T, s entity.Store, id string, typ entity.EntityType, name string) {
	t.Helper()
	if _, err := s.CreateEntity(context.Background(), entity.Entity{ID: id, CampaignID: campaignID, Type: typ, Name: name}); err != nil {
		t.Fatalf("CreateEntity(%s): unexpected error: %v", id, err)
	}
}

func relate(t *testing.T, s entity.Store, from, to string) {
	t.Helper()
	for _, p := range [][2]string{{from, to}, {to, from}} {
		_, err := s.UpsertRelationship(context.Background(), entity.Relationship{
			CampaignID: campaignID, FromID: p[0], ToID: p[1], Type: entity.RelAllyOf, Strength: 0.9,
		})
		if err != nil {
			t.Fatalf("UpsertRelationship: unexpected error: %v", err)
		}
	}
}

func item(r readiness.Report, key string) readiness.ItemStatus {
	for _, it := range r.Items {
		if it.Key == key {
			return it
		}
	}
	return readiness.ItemStatus{}
}

type fakeProvider struct {
	name string
	sig  readiness.Signal
	err  error
}

func (f fakeProvider) Name() string { return f.name }

func (f fakeProvider) Signal(context.Context, readiness.Input) (readiness.Signal, error) {
	return f.sig, f.err
}

func TestAnalyze_EmptyCampaign(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s := newCampaign(t, nil, "")
	a := readiness.NewAnalyzer(s, []readiness.Provider{
		readiness.NewMetadataCoverage(),
		readiness.NewStructural(s),
	})

	r, err := a.Analyze(ctx, campaignID)
	if err != nil {
		t.Fatalf("Analyze: unexpected error: %v", err)
	}
	if len(r.Items) != len(readiness.Checklist()) {
		t.Fatalf("expected %d items, got %d", len(readiness.Checklist()), len(r.Items))
	}
	for _, it := range r.Items {
		if it.Covered {
			t.Errorf("%s: expected uncovered", it.Key)
		}
		if it.Recommendation == "" || !slices.Contains(r.Recommendations, it.Recommendation) {
			t.Errorf("%s: expected a recommendation, got %q", it.Key, it.Recommendation)
		}
	}
	if r.EntityStats.EntityTypeCounts == nil || len(r.EntityStats.EntityTypeCounts) != 0 {
		t.Errorf("expected empty non-nil type counts, got %#v", r.EntityStats.EntityTypeCounts)
	}
	if r.Score != 0 || r.CampaignState != readiness.StateNotStarted {
		t.Errorf("expected score 0 and %s, got %d and %s", readiness.StateNotStarted, r.Score, r.CampaignState)
	}
	if len(r.SourceErrors) != 0 {
		t.Errorf("expected no source errors, got %v", r.SourceErrors)
	}
}

func TestAnalyze_CommunityNotes(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s := newCampaign(t, nil, "")
	addEntity(t, s, "f1", entity.TypeFaction, "Thieves")
	addEntity(t, s, "f2", entity.TypeFaction, "Crown")
	relate(t, s, "f1", "f2")
	if _, err := community.NewDetector(s).Detect(ctx, campaignID, community.Options{}); err != nil {
		t.Fatalf("Detect: unexpected error: %v", err)
	}

	a := readiness.NewAnalyzer(s, []readiness.Provider{readiness.NewStructural(s)})
	r, err := a.Analyze(ctx, campaignID)
	if err != nil {
		t.Fatalf("Analyze: unexpected error: %v", err)
	}

	factions := item(r, readiness.ItemFactions)
	if !factions.Covered {
		t.Error("expected factions covered by two factions")
	}
	if len(factions.Notes) != 1 || !strings.HasPrefix(factions.Notes[0], "Factions Crown and Thieves appear integrated (community ") {
		t.Fatalf("expected co-membership note, got %v", factions.Notes)
	}
	if !slices.Equal(r.CommunityNotes, factions.Notes) {
		t.Errorf("expected community notes %v, got %v", factions.Notes, r.CommunityNotes)
	}
}

func TestAnalyze_StructuralStats(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s := newCampaign(t, nil, "")
	for _, n := range []string{"Ada", "Bo", "Cy", "Di", "Ed", "Fi", "Gus"} {
		addEntity(t, s, "npc-"+n, entity.TypeNPC, n)
	}
	addEntity(t, s, "loc", entity.TypeLocation, "Vallaki")
	addEntity(t, s, "quest", entity.TypeQuest, "Find the Icon")
	addEntity(t, s, "pc", entity.TypePC, "Kess")
	for _, n := range []string{"Bo", "Cy", "Di", "Ed", "Fi", "Gus"} {
		relate(t, s, "npc-Ada", "npc-"+n)
	}
	relate(t, s, "npc-Bo", "npc-Cy")
	relate(t, s, "npc-Bo", "npc-Di")

	a := readiness.NewAnalyzer(s, []readiness.Provider{readiness.NewStructural(s)})
	r, err := a.Analyze(ctx, campaignID)
	if err != nil {
		t.Fatalf("Analyze: unexpected error: %v", err)
	}

	st := r.EntityStats
	if st.TotalEntities != 10 || st.EntityTypeCounts["npcs"] != 7 || st.EntityTypeCounts["quests"] != 1 {
		t.Errorf("unexpected stats %+v", st)
	}
	for _, key := range []string{readiness.ItemKeyNPCs, readiness.ItemStartingLocation, readiness.ItemAdventureHooks, readiness.ItemPlayerCharacters} {
		if !item(r, key).Covered {
			t.Errorf("%s: expected covered", key)
		}
	}
	if item(r, readiness.ItemFactions).Covered {
		t.Error("factions: expected uncovered with no factions")
	}
	if !slices.Equal(st.Underpopulated, []string{"factions"}) {
		t.Errorf("expected only factions underpopulated, got %v", st.Underpopulated)
	}

	// Ada has 6 neighbours, Bo 3; Cy and Di have 2; Ed, Fi and Gus have 1.
	// Vallaki has 0.
	if st.LowConnectivityTotal != 6 || len(st.LowConnectivityEntities) != readiness.MaxLowConnectivityList {
		t.Fatalf("expected 6 low-connectivity entities with 5 listed, got %d/%d", st.LowConnectivityTotal, len(st.LowConnectivityEntities))
	}
	var names []string
	for _, lc := range st.LowConnectivityEntities {
		names = append(names, lc.Name)
	}
	if want := []string{"Vallaki", "Ed", "Fi", "Gus", "Cy"}; !slices.Equal(names, want) {
		t.Errorf("low connectivity order: got %v, want %v", names, want)
	}
	connect := 0
	for _, rec := range r.Recommendations {
		if strings.HasPrefix(rec, "Connect ") {
			connect++
		}
	}
	if connect != 5 {
		t.Errorf("expected 5 connectivity recommendations, got %d", connect)
	}

	// 30 npcs + 0 factions + 10 locations + 10 hooks + 5 pcs + 3*4 items.
	if r.Score != 67 || r.CampaignState != readiness.StateDeveloping {
		t.Errorf("expected score 67 (developing), got %d (%s)", r.Score, r.CampaignState)
	}
}

func TestAnalyze_CoverageOnlyGrows(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s := newCampaign(t, nil, "")
	a := readiness.NewAnalyzer(s, []readiness.Provider{
		fakeProvider{name: "first", sig: readiness.Signal{Coverage: map[string]bool{readiness.ItemTone: true}}},
		fakeProvider{name: "second", sig: readiness.Signal{Coverage: map[string]bool{readiness.ItemTone: false, readiness.ItemWorldName: true}}},
		fakeProvider{name: "third", sig: readiness.Signal{Coverage: map[string]bool{"not_an_item": true}}},
	})

	r, err := a.Analyze(ctx, campaignID)
	if err != nil {
		t.Fatalf("Analyze: unexpected error: %v", err)
	}
	if !r.Coverage[readiness.ItemTone] || !r.Coverage[readiness.ItemWorldName] {
		t.Errorf("expected tone and world_name covered, got %v", r.Coverage)
	}
	if _, ok := r.Coverage["not_an_item"]; ok {
		t.Error("expected unknown keys to be ignored")
	}
	if r.CoveredItems != 2 {
		t.Errorf("expected 2 covered items, got %d", r.CoveredItems)
	}
	if got := item(r, readiness.ItemTone).Sources; !slices.Equal(got, []string{"first"}) {
		t.Errorf("expected tone sourced from first only, got %v", got)
	}
}

func TestAnalyze_DegradedSources(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s := newCampaign(t, entity.Metadata{"worldName": "Barovia"}, "Gothic horror in a cursed valley.")
	emb := &embmock.Provider{EmbedBatchErr: errors.New("embeddings down")}
	classifier := &llmmock.Provider{CompleteErr: errors.New("llm down")}

	a := readiness.NewAnalyzer(s, []readiness.Provider{
		readiness.NewMetadataCoverage(readiness.WithClassifier(classifier)),
		readiness.NewSemanticCoverage(memory.NewMemIndex(), emb),
		readiness.NewStructural(s),
	})
	r, err := a.Analyze(ctx, campaignID)
	if err != nil {
		t.Fatalf("Analyze: unexpected error: %v", err)
	}
	if want := []string{"metadata_llm", "semantic"}; !slices.Equal(r.SourceErrors, want) {
		t.Errorf("source errors: got %v, want %v", r.SourceErrors, want)
	}
	if !r.Coverage[readiness.ItemWorldName] {
		t.Error("expected metadata key mapping to survive a classifier failure")
	}
	if r.EntityStats.EntityTypeCounts == nil {
		t.Error("expected structural stats despite other failures")
	}
}

func TestAnalyze_MissingCampaign(t *testing.T) {
	t.Parallel()

	a := readiness.NewAnalyzer(entity.NewMemStore(), nil)
	if _, err := a.Analyze(context.Background(), "nope"); !errors.Is(err, entity.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := a.Analyze(context.Background(), ""); !errors.Is(err, entity.ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}
}

func TestMetadataCoverage(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	in := readiness.Input{
		Campaign: entity.Campaign{
			ID:          campaignID,
			Name:        "Curse of the Crows",
			Description: "Strahd rules the valley. Session zero is planned for Friday.",
			Metadata: entity.Metadata{
				"world_name": "Barovia",
				"Tone":       "gothic horror",
				"villain":    "",
				"unrelated":  "x",
			},
		},
		Items: readiness.Checklist(),
	}

	t.Run("key mapping", func(t *testing.T) {
		t.Parallel()
		sig, err := readiness.NewMetadataCoverage().Signal(ctx, in)
		if err != nil {
			t.Fatalf("Signal: unexpected error: %v", err)
		}
		if len(sig.Coverage) != 2 || !sig.Coverage[readiness.ItemWorldName] || !sig.Coverage[readiness.ItemTone] {
			t.Errorf("expected world_name and tone, got %v", sig.Coverage)
		}
	})

	t.Run("classifier", func(t *testing.T) {
		t.Parallel()
		p := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{
			Content: `{"items":[{"key":"main_villain","covered":true},{"key":"session_zero","covered":true},{"key":"tone","covered":false},{"key":"bogus","covered":true}]}`,
		}}
		sig, err := readiness.NewMetadataCoverage(readiness.WithClassifier(p)).Signal(ctx, in)
		if err != nil {
			t.Fatalf("Signal: unexpected error: %v", err)
		}
		for _, key := range []string{readiness.ItemWorldName, readiness.ItemTone, readiness.ItemMainVillain, readiness.ItemSessionZero} {
			if !sig.Coverage[key] {
				t.Errorf("%s: expected covered", key)
			}
		}
		if sig.Coverage["bogus"] {
			t.Error("expected unknown classifier keys to be dropped")
		}
		if len(p.CompleteCalls) != 1 || !strings.Contains(p.CompleteCalls[0].Req.Messages[0].Content, "Strahd rules the valley") {
			t.Error("expected the description in the classifier prompt")
		}
	})
}

func TestSemanticCoverage(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	emb := &embmock.Provider{EmbedFunc: func(text string) []float32 {
		if strings.Contains(strings.ToLower(text), "villain") {
			return []float32{1, 0}
		}
		return []float32{0, 1}
	}}
	idx := memorymock.NewVectorIndex()
	planning := readiness.NewPlanningIndex(idx, emb, 0)
	if err := planning.IndexPlanningContext(ctx, campaignID, "bbeg", "The villain is Strahd, a vampire lord."); err != nil {
		t.Fatalf("IndexPlanningContext: unexpected error: %v", err)
	}
	// The same note in another campaign must not leak.
	if err := planning.IndexPlanningContext(ctx, "camp-2", "bbeg", "villain"); err != nil {
		t.Fatalf("IndexPlanningContext: unexpected error: %v", err)
	}

	sem := readiness.NewSemanticCoverage(idx, emb)
	sig, err := sem.Signal(ctx, readiness.Input{Campaign: entity.Campaign{ID: campaignID}, Items: readiness.Checklist()})
	if err != nil {
		t.Fatalf("Signal: unexpected error: %v", err)
	}
	if len(sig.Coverage) != 1 || !sig.Coverage[readiness.ItemMainVillain] {
		t.Errorf("expected only main_villain covered, got %v", sig.Coverage)
	}

	other, err := sem.Signal(ctx, readiness.Input{Campaign: entity.Campaign{ID: "camp-3"}, Items: readiness.Checklist()})
	if err != nil {
		t.Fatalf("Signal: unexpected error: %v", err)
	}
	if len(other.Coverage) != 0 {
		t.Errorf("expected no coverage for a campaign without notes, got %v", other.Coverage)
	}

	t.Run("index failure", func(t *testing.T) {
		t.Parallel()
		bad := memorymock.NewVectorIndex()
		bad.QueryErr = errors.New("index down")
		if _, err := readiness.NewSemanticCoverage(bad, emb).Signal(ctx, readiness.Input{Campaign: entity.Campaign{ID: campaignID}, Items: readiness.Checklist()}); !errors.Is(err, entity.ErrDependency) {
			t.Errorf("expected ErrDependency, got %v", err)
		}
	})
}

func TestPlanningIndex(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	idx := memory.NewMemIndex()
	p := readiness.NewPlanningIndex(idx, &embmock.Provider{EmbedResult: []float32{1, 0}}, 0)

	if err := p.IndexPlanningContext(ctx, campaignID, "", "text"); !errors.Is(err, entity.ErrValidation) {
		t.Errorf("empty id: expected ErrValidation, got %v", err)
	}
	if err := p.IndexPlanningContext(ctx, campaignID, "n1", "  "); !errors.Is(err, entity.ErrValidation) {
		t.Errorf("empty text: expected ErrValidation, got %v", err)
	}

	c := entity.Campaign{ID: campaignID, Name: "Curse", Description: "A cursed valley."}
	if err := p.IndexCampaign(ctx, c); err != nil {
		t.Fatalf("IndexCampaign: unexpected error: %v", err)
	}
	if err := p.IndexPlanningContext(ctx, campaignID, "n1", "Notes"); err != nil {
		t.Fatalf("IndexPlanningContext: unexpected error: %v", err)
	}
	if got := idx.Len(memory.NamespacePlanning); got != 2 {
		t.Fatalf("expected 2 planning vectors, got %d", got)
	}

	c.Description = ""
	if err := p.IndexCampaign(ctx, c); err != nil {
		t.Fatalf("IndexCampaign (clear): unexpected error: %v", err)
	}
	if got := idx.Len(memory.NamespacePlanning); got != 1 {
		t.Errorf("expected description vector removed, got %d vectors", got)
	}
	if err := p.DeleteCampaign(ctx, campaignID); err != nil {
		t.Fatalf("DeleteCampaign: unexpected error: %v", err)
	}
	if got := idx.Len(memory.NamespacePlanning); got != 0 {
		t.Errorf("expected no planning vectors, got %d", got)
	}
}

func TestScoreAndState(t *testing.T) {
	t.Parallel()

	full := map[entity.EntityType]int{
		entity.TypeNPC: 10, entity.TypeFaction: 5, entity.TypeLocation: 5, entity.TypeHook: 1, entity.TypeQuest: 4, entity.TypePC: 4,
	}
	tests := []struct {
		name    string
		counts  map[entity.EntityType]int
		covered int
		score   int
		state   string
	}{
		{"empty", nil, 0, 0, readiness.StateNotStarted},
		{"few items", nil, 6, 18, readiness.StateNotStarted},
		{"early", map[entity.EntityType]int{entity.TypeNPC: 2}, 1, 23, readiness.StateEarlyPlanning},
		{"developing", map[entity.EntityType]int{entity.TypeNPC: 3, entity.TypeFaction: 1}, 3, 49, readiness.StateDeveloping},
		{"nearly", map[entity.EntityType]int{entity.TypeNPC: 3, entity.TypeFaction: 2, entity.TypeLocation: 2}, 5, 85, readiness.StateNearlyReady},
		{"capped", full, 12, 100, readiness.StateReady},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := readiness.Score(tt.counts, tt.covered)
			if got != tt.score {
				t.Fatalf("Score: got %d, want %d", got, tt.score)
			}
			if st := readiness.StateFor(got); st != tt.state {
				t.Errorf("StateFor(%d): got %s, want %s", got, st, tt.state)
			}
		})
	}

	prev := readiness.StateFor(0)
	order := []string{readiness.StateNotStarted, readiness.StateEarlyPlanning, readiness.StateDeveloping, readiness.StateNearlyReady, readiness.StateReady}
	for s := 1; s <= 100; s++ {
		cur := readiness.StateFor(s)
		if slices.Index(order, cur) < slices.Index(order, prev) {
			t.Fatalf("state regressed at score %d: %s after %s", s, cur, prev)
		}
		prev = cur
	}
}
