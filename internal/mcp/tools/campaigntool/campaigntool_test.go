package campaigntool_test

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/questweaver/internal/auth"
	"github.com/MrWong99/questweaver/internal/campaign"
	"github.com/MrWong99/questweaver/internal/community"
	"github.com/MrWong99/questweaver/internal/dedupe"
	"github.com/MrWong99/questweaver/internal/entity"
	"github.com/MrWong99/questweaver/internal/graph"
	"github.com/MrWong99/questweaver/internal/mcp/tools"
	"github.com/MrWong99/questweaver/internal/mcp/tools/campaigntool"
	"github.com/MrWong99/questweaver/internal/readiness"
	"github.com/MrWong99/questweaver/pkg/memory"
	embmock "github.com/MrWong99/questweaver/pkg/provider/embeddings/mock"
)

const (
	gm       = "gm-1"
	devToken = "dev-token"
	dims     = 16
)

type fixture struct {
	tools    map[string]tools.Tool
	store    *entity.MemStore
	campaign string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	store := entity.NewMemStore()
	index := memory.NewMemIndex()
	// Each distinct name gets its own axis, so only descriptions of the
	// same old sailor look alike.
	axes := map[string]int{}
	emb := &embmock.Provider{
		EmbedFunc: func(text string) []float32 {
			v := make([]float32, dims)
			name, _, _ := strings.Cut(text, "\n")
			if strings.Contains(strings.ToLower(name), "tom") {
				v[0] = 1
				return v
			}
			if _, ok := axes[name]; !ok {
				axes[name] = 1 + len(axes)%(dims-1)
			}
			v[axes[name]] = 1
			return v
		},
		DimensionsValue: dims,
	}
	resolver, err := auth.NewJWTResolver(auth.Config{Secret: "s3cret", DevToken: devToken, DevUserID: gm})
	if err != nil {
		t.Fatalf("NewJWTResolver: unexpected error: %v", err)
	}
	planning := readiness.NewPlanningIndex(index, emb, 0)
	campaigns := campaign.New(store, campaign.WithPlanner(planning), campaign.WithVectorIndex(index))
	c, err := campaigns.Create(ctx, gm, campaign.CreateInput{Name: "Curse of Strahd"})
	if err != nil {
		t.Fatalf("Create: unexpected error: %v", err)
	}

	list := campaigntool.NewTools(campaigntool.Deps{
		Graph:       graph.New(store, graph.WithVectorIndex(index, emb)),
		Communities: community.NewDetector(store),
		Readiness:   readiness.NewAnalyzer(store, []readiness.Provider{readiness.NewStructural(store)}),
		Planning:    planning,
		Campaigns:   campaigns,
		Auth:        resolver,
	})
	f := &fixture{tools: make(map[string]tools.Tool, len(list)), store: store, campaign: c.ID}
	for _, tool := range list {
		f.tools[tool.Name] = tool
	}
	return f
}

// call runs a tool as the dev user and returns the envelope with its data
// decoded into a generic map.
func (f *fixture) call(t *testing.T, name string, args map[string]any) (tools.Envelope, map[string]any) {
	t.Helper()
	tool, ok := f.tools[name]
	if !ok {
		t.Fatalf("tool %q not registered", name)
	}
	if _, set := args["campaignId"]; !set {
		args["campaignId"] = f.campaign
	}
	if _, set := args["authToken"]; !set {
		args["authToken"] = devToken
	}
	raw, err := json.Marshal(args)
	if err != nil {
		t.Fatalf("Marshal: unexpected error: %v", err)
	}
	env := tool.Call(context.Background(), raw)

	var data map[string]any
	if env.Data != nil {
		b, err := json.Marshal(env.Data)
		if err != nil {
			t.Fatalf("Marshal data: unexpected error: %v", err)
		}
		if err := json.Unmarshal(b, &data); err != nil {
			t.Fatalf("Unmarshal data: unexpected error: %v", err)
		}
	}
	return env, data
}

func (f *fixture) mustCall(t *testing.T, name string, args map[string]any) map[string]any {
	t.Helper()
	env, data := f.call(t, name, args)
	if !env.Success {
		t.Fatalf("%s: expected success, got %s: %s", name, env.Code, env.Message)
	}
	return data
}

func (f *fixture) createEntity(t *testing.T, typ, name string) string {
	t.Helper()
	data := f.mustCall(t, "create_entity", map[string]any{"name": name, "entityType": typ})
	return data["entity"].(map[string]any)["id"].(string)
}

func neighborNames(data map[string]any) []string {
	var names []string
	for _, n := range data["neighbors"].([]any) {
		names = append(names, n.(map[string]any)["entity"].(map[string]any)["name"].(string))
	}
	return names
}

func TestNewTools(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	want := []string{
		"extract_entities_from_content", "create_entity_relationship", "update_entity_metadata",
		"update_entity_type", "delete_entity", "detect_communities", "get_communities",
		"get_community_hierarchy", "get_checklist_status", "assess_campaign_readiness",
		"create_entity", "list_entities", "get_entity_neighbors", "remove_entity_relationship",
		"index_planning_context",
	}
	if len(f.tools) != len(want) {
		t.Errorf("expected %d tools, got %d", len(want), len(f.tools))
	}
	for _, name := range want {
		tool, ok := f.tools[name]
		if !ok {
			t.Errorf("missing tool %q", name)
			continue
		}
		props, _ := tool.InputSchema["properties"].(map[string]any)
		if _, ok := props["campaignId"]; !ok {
			t.Errorf("%s: schema lacks campaignId", name)
		}
		if tool.DeclaredMax <= 0 {
			t.Errorf("%s: expected a declared max", name)
		}
	}
}

func TestNewTools_ArgumentDescriptions(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	tests := []struct {
		tool, arg, want string
	}{
		{tool: "create_entity_relationship", arg: "strength", want: "default 0.5"},
		{tool: "create_entity_relationship", arg: "relationshipType", want: "member_of or located_in"},
		{tool: "create_entity", arg: "entityType", want: "events or lore"},
		{tool: "get_entity_neighbors", arg: "maxDepth", want: "default 2"},
		{tool: "detect_communities", arg: "resolution", want: "default 1.0"},
	}
	for _, tc := range tests {
		t.Run(tc.tool+"/"+tc.arg, func(t *testing.T) {
			t.Parallel()
			props, _ := f.tools[tc.tool].InputSchema["properties"].(map[string]any)
			prop, _ := props[tc.arg].(map[string]any)
			desc, _ := prop["description"].(string)
			if !strings.Contains(desc, tc.want) {
				t.Errorf("description = %q, want it to contain %q", desc, tc.want)
			}
		})
	}
}

func TestUnidirectionalEdge(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	mira := f.createEntity(t, "npcs", "Mira")
	mill := f.createEntity(t, "locations", "Mill")

	data := f.mustCall(t, "create_entity_relationship", map[string]any{
		"fromEntityId": mira, "toEntityId": mill, "relationshipType": "located_in",
	})
	if n := len(data["relationships"].([]any)); n != 1 {
		t.Fatalf("expected exactly one relationship row, got %d", n)
	}

	got := neighborNames(f.mustCall(t, "get_entity_neighbors", map[string]any{"entityId": mira}))
	if len(got) != 1 || got[0] != "Mill" {
		t.Errorf("expected Mira's neighbours [Mill], got %v", got)
	}
	if got := neighborNames(f.mustCall(t, "get_entity_neighbors", map[string]any{"entityId": mill})); len(got) != 0 {
		t.Errorf("expected Mill to have no outgoing neighbours, got %v", got)
	}

	t.Run("self relation refused", func(t *testing.T) {
		env, _ := f.call(t, "create_entity_relationship", map[string]any{
			"fromEntityId": mira, "toEntityId": mira, "relationshipType": "ally_of",
		})
		if env.Code != tools.CodeValidation {
			t.Errorf("expected VALIDATION_ERROR, got %s", env.Code)
		}
	})

	t.Run("remove by key", func(t *testing.T) {
		f.mustCall(t, "remove_entity_relationship", map[string]any{
			"fromEntityId": mira, "toEntityId": mill, "relationshipType": "located_in",
		})
		if got := neighborNames(f.mustCall(t, "get_entity_neighbors", map[string]any{"entityId": mira})); len(got) != 0 {
			t.Errorf("expected no neighbours after removal, got %v", got)
		}
	})
}

func TestCommunitiesAndReadiness(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	thieves := f.createEntity(t, "factions", "Thieves")
	crown := f.createEntity(t, "factions", "Crown")
	f.mustCall(t, "create_entity_relationship", map[string]any{
		"fromEntityId": thieves, "toEntityId": crown, "relationshipType": "ally_of",
	})

	data := f.mustCall(t, "detect_communities", map[string]any{"minCommunitySize": 2})
	cs := data["communities"].([]any)
	found := false
	for _, c := range cs {
		members := c.(map[string]any)["memberEntityIds"].([]any)
		var hasThieves, hasCrown bool
		for _, m := range members {
			hasThieves = hasThieves || m == thieves
			hasCrown = hasCrown || m == crown
		}
		found = found || (hasThieves && hasCrown)
	}
	if !found {
		t.Fatalf("expected Thieves and Crown in one community, got %v", cs)
	}

	listed := f.mustCall(t, "get_communities", map[string]any{"level": 0})
	if len(listed["communities"].([]any)) == 0 {
		t.Error("expected stored level-0 communities")
	}
	tree := f.mustCall(t, "get_community_hierarchy", map[string]any{})
	if len(tree["hierarchy"].([]any)) == 0 {
		t.Error("expected a non-empty hierarchy")
	}

	report := f.mustCall(t, "assess_campaign_readiness", map[string]any{})
	notes := report["communityNotes"].([]any)
	if len(notes) == 0 || !strings.HasPrefix(notes[0].(string), "Factions Crown and Thieves appear integrated") {
		t.Errorf("expected a faction co-membership note, got %v", notes)
	}
}

func TestCreateEntity_SemanticDuplicate(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	args := func(backstory string) map[string]any {
		return map[string]any{"name": "Old Man Tom", "entityType": "npcs", "backstory": backstory}
	}
	first := f.mustCall(t, "create_entity", args("A retired sailor who tends the lighthouse."))
	second := f.mustCall(t, "create_entity", args("A retired sailor tending the lighthouse."))

	firstID := first["entity"].(map[string]any)["id"]
	if second["created"] != false || second["entity"].(map[string]any)["id"] != firstID {
		t.Fatalf("expected the second submission to resolve to %v, got %v", firstID, second)
	}
	if second["resolution"] != string(dedupe.MethodSemantic) {
		t.Errorf("expected semantic resolution, got %v", second["resolution"])
	}
	list := f.mustCall(t, "list_entities", map[string]any{})
	if n := len(list["entities"].([]any)); n != 1 {
		t.Errorf("expected 1 entity, got %d", n)
	}
}

func TestUpdateEntityType_Duplicates(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	f := newFixture(t)
	var ids []string
	for range 2 {
		e, err := f.store.CreateEntity(ctx, entity.Entity{CampaignID: f.campaign, Type: entity.TypeNPC, Name: "Kess"})
		if err != nil {
			t.Fatalf("CreateEntity: unexpected error: %v", err)
		}
		ids = append(ids, e.ID)
	}

	data := f.mustCall(t, "update_entity_type", map[string]any{"entityId": ids[0], "entityType": "pcs"})
	if data["updatedDuplicates"] != float64(1) {
		t.Errorf("expected updatedDuplicates 1, got %v", data["updatedDuplicates"])
	}
	for _, id := range ids {
		e, err := f.store.GetEntity(ctx, id)
		if err != nil || e == nil {
			t.Fatalf("GetEntity(%s): unexpected result %v, %v", id, e, err)
		}
		if e.Type != entity.TypePC {
			t.Errorf("%s: expected pcs, got %s", id, e.Type)
		}
	}
}

func TestReadiness_EmptyCampaign(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	report := f.mustCall(t, "assess_campaign_readiness", map[string]any{})
	if report["campaignState"] != readiness.StateNotStarted {
		t.Errorf("expected %s, got %v", readiness.StateNotStarted, report["campaignState"])
	}
	counts := report["entityStats"].(map[string]any)["entityTypeCounts"].(map[string]any)
	if len(counts) != 0 {
		t.Errorf("expected empty type counts, got %v", counts)
	}
	if len(report["recommendations"].([]any)) < len(readiness.Checklist()) {
		t.Errorf("expected a recommendation per item, got %v", report["recommendations"])
	}

	status := f.mustCall(t, "get_checklist_status", map[string]any{})
	if status["coveredItems"] != float64(0) {
		t.Errorf("expected no covered items, got %v", status["coveredItems"])
	}
}

func TestEntityLifecycle(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	id := f.createEntity(t, "npcs", "Ismark")

	data := f.mustCall(t, "update_entity_metadata", map[string]any{"entityId": id, "metadata": map[string]any{"title": "the Lesser"}})
	md := data["entity"].(map[string]any)["metadata"].(map[string]any)
	if md["title"] != "the Lesser" {
		t.Errorf("expected merged metadata, got %v", md)
	}

	list := f.mustCall(t, "list_entities", map[string]any{"entityType": "npcs"})
	if len(list["entities"].([]any)) != 1 {
		t.Errorf("expected one npc, got %v", list["entities"])
	}

	f.mustCall(t, "delete_entity", map[string]any{"entityId": id})
	env, _ := f.call(t, "delete_entity", map[string]any{"entityId": id})
	if env.Code != tools.CodeNotFound {
		t.Errorf("expected NOT_FOUND on second delete, got %s", env.Code)
	}
}

func TestIndexPlanningContext(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.mustCall(t, "index_planning_context", map[string]any{"id": "villain", "text": "Strahd wants Ireena."})

	env, _ := f.call(t, "index_planning_context", map[string]any{"id": "villain"})
	if env.Code != tools.CodeValidation {
		t.Errorf("expected VALIDATION_ERROR for missing text, got %s", env.Code)
	}
}

func TestAuthorization(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	other, err := auth.NewJWTResolver(auth.Config{Secret: "s3cret"})
	if err != nil {
		t.Fatalf("NewJWTResolver: unexpected error: %v", err)
	}
	foreign, err := other.Issue("someone-else", time.Hour)
	if err != nil {
		t.Fatalf("Issue: unexpected error: %v", err)
	}

	tests := []struct {
		name string
		args map[string]any
		want tools.Code
	}{
		{name: "missing token", args: map[string]any{"authToken": ""}, want: tools.CodeUnauthorized},
		{name: "bad token", args: map[string]any{"authToken": "nope"}, want: tools.CodeUnauthorized},
		{name: "foreign user", args: map[string]any{"authToken": foreign}, want: tools.CodeUnauthorized},
		{name: "unknown campaign", args: map[string]any{"campaignId": "missing"}, want: tools.CodeNotFound},
		{name: "missing campaign id", args: map[string]any{"campaignId": ""}, want: tools.CodeValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, _ := f.call(t, "list_entities", tt.args)
			if env.Success || env.Code != tt.want {
				t.Errorf("expected %s, got success=%v code=%s (%s)", tt.want, env.Success, env.Code, env.Message)
			}
		})
	}

	t.Run("context user", func(t *testing.T) {
		raw, _ := json.Marshal(map[string]any{"campaignId": f.campaign})
		env := f.tools["list_entities"].Call(auth.WithUser(context.Background(), gm), raw)
		if !env.Success {
			t.Errorf("expected success for the authenticated owner, got %s: %s", env.Code, env.Message)
		}
	})
}

func TestMissingProviders(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	env, _ := f.call(t, "extract_entities_from_content", map[string]any{"content": "Ireena lives in Barovia."})
	if env.Code != tools.CodeDependency {
		t.Errorf("expected DEPENDENCY_ERROR without an extractor, got %s", env.Code)
	}
	env, _ = f.call(t, "remove_entity_relationship", map[string]any{})
	if env.Code != tools.CodeValidation {
		t.Errorf("expected VALIDATION_ERROR without id or key, got %s", env.Code)
	}
}
