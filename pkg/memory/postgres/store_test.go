package postgres_test

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/MrWong99/questweaver/internal/entity"
	"github.com/MrWong99/questweaver/pkg/memory"
	"github.com/MrWong99/questweaver/pkg/memory/postgres"
)

const testEmbeddingDim = 4

// testDSN returns the test database DSN from the environment, or skips the
// test if QUESTWEAVER_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("QUESTWEAVER_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("QUESTWEAVER_TEST_POSTGRES_DSN not set, skipping PostgreSQL integration tests")
	}
	return dsn
}

// newTestStore creates a fresh [postgres.Store] with a clean schema.
// It calls t.Cleanup to close the store when the test finishes.
func newTestStore(t *testing.T) *postgres.Store {
	t.Helper()
	dsn := testDSN(t)
	ctx := context.Background()

	cleanPool := mustPool(t, ctx, dsn)
	t.Cleanup(cleanPool.Close)
	dropSchema(t, ctx, cleanPool)

	store, err := postgres.NewStore(ctx, dsn, testEmbeddingDim)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(store.Close)
	return store
}

// mustPool opens a pgxpool with pgvector types registered when available.
func mustPool(t *testing.T, ctx context.Context, dsn string) *pgxpool.Pool {
	t.Helper()
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		// best-effort: pgvector may not be installed yet on a fresh DB
		_ = pgxvec.RegisterTypes(ctx, conn)
		return nil
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	return pool
}

// dropSchema removes all tables created by Migrate in reverse dependency order.
func dropSchema(t *testing.T, ctx context.Context, pool *pgxpool.Pool) {
	t.Helper()
	for _, stmt := range []string{
		"DROP TABLE IF EXISTS communities CASCADE",
		"DROP TABLE IF EXISTS relationships CASCADE",
		"DROP TABLE IF EXISTS entities CASCADE",
		"DROP TABLE IF EXISTS campaigns CASCADE",
		"DROP TABLE IF EXISTS vectors CASCADE",
	} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			t.Fatalf("dropSchema %q: %v", stmt, err)
		}
	}
}

func TestEntityCRUD(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	e, err := store.CreateEntity(ctx, entity.Entity{
		CampaignID: "c1",
		Type:       entity.TypeNPC,
		Name:       "Grimjaw",
		Content:    entity.Content{Summary: "A gruff blacksmith."},
		Metadata:   entity.Metadata{"race": "dwarf"},
	})
	if err != nil {
		t.Fatalf("CreateEntity: %v", err)
	}
	if e.ID == "" || e.CreatedAt.IsZero() {
		t.Fatalf("CreateEntity: expected generated id and timestamps, got %+v", e)
	}

	if _, err := store.CreateEntity(ctx, e); !errors.Is(err, entity.ErrConflict) {
		t.Fatalf("CreateEntity duplicate: expected ErrConflict, got %v", err)
	}

	pc := entity.TypePC
	updated, err := store.UpdateEntity(ctx, e.ID, entity.EntityPatch{Type: &pc, Metadata: entity.Metadata{"mood": "grumpy"}})
	if err != nil {
		t.Fatalf("UpdateEntity: %v", err)
	}
	if updated.Type != entity.TypePC || updated.Metadata["race"] != "dwarf" || updated.Metadata["mood"] != "grumpy" {
		t.Fatalf("UpdateEntity: expected type change and merged metadata, got %+v", updated)
	}

	got, err := store.GetEntity(ctx, "missing")
	if err != nil || got != nil {
		t.Fatalf("GetEntity missing: expected (nil, nil), got (%+v, %v)", got, err)
	}

	if _, err := store.UpdateEntity(ctx, "missing", entity.EntityPatch{}); !errors.Is(err, entity.ErrNotFound) {
		t.Fatalf("UpdateEntity missing: expected ErrNotFound, got %v", err)
	}

	counts, err := store.CountEntitiesByType(ctx, "c1")
	if err != nil || counts[entity.TypePC] != 1 {
		t.Fatalf("CountEntitiesByType: got %v (err %v)", counts, err)
	}

	list, err := store.ListEntities(ctx, "c1", entity.ListOptions{Name: "grimjaw"})
	if err != nil || len(list) != 1 {
		t.Fatalf("ListEntities by name: got %d (err %v)", len(list), err)
	}
}

func TestRelationshipsAndCascade(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	a, _ := store.CreateEntity(ctx, entity.Entity{CampaignID: "c1", Type: entity.TypeFaction, Name: "Thieves"})
	b, _ := store.CreateEntity(ctx, entity.Entity{CampaignID: "c1", Type: entity.TypeFaction, Name: "Crown"})

	first, err := store.UpsertRelationship(ctx, entity.Relationship{CampaignID: "c1", FromID: a.ID, ToID: b.ID, Type: entity.RelEnemyOf, Strength: 0.3, Metadata: entity.Metadata{"since": "riots"}})
	if err != nil {
		t.Fatalf("UpsertRelationship: %v", err)
	}
	second, err := store.UpsertRelationship(ctx, entity.Relationship{CampaignID: "c1", FromID: a.ID, ToID: b.ID, Type: entity.RelEnemyOf, Strength: 0.9})
	if err != nil {
		t.Fatalf("UpsertRelationship again: %v", err)
	}
	if second.ID != first.ID || second.Strength != 0.9 || second.Metadata["since"] != "riots" {
		t.Fatalf("UpsertRelationship: expected in-place update, got %+v", second)
	}

	out, err := store.ListRelationships(ctx, "c1", entity.RelationshipFilter{EntityID: a.ID, Direction: entity.DirectionOut})
	if err != nil || len(out) != 1 {
		t.Fatalf("ListRelationships out: got %d (err %v)", len(out), err)
	}

	c, _ := store.CreateEntity(ctx, entity.Entity{CampaignID: "c1", Type: entity.TypeFaction, Name: "Zhentarim"})
	err = store.ReplaceCommunities(ctx, "c1", []entity.Community{
		{ID: "l0-trio", Level: 0, MemberIDs: []string{a.ID, b.ID, c.ID}, ParentID: "l1-pair"},
		{ID: "l1-pair", Level: 1, MemberIDs: []string{a.ID, c.ID}},
	})
	if err != nil {
		t.Fatalf("ReplaceCommunities: %v", err)
	}

	if err := store.DeleteEntity(ctx, a.ID); err != nil {
		t.Fatalf("DeleteEntity: %v", err)
	}
	rels, _ := store.ListRelationships(ctx, "c1", entity.RelationshipFilter{})
	if len(rels) != 0 {
		t.Fatalf("expected cascade delete of relationships, %d remain", len(rels))
	}
	comms, _ := store.ListCommunities(ctx, "c1", nil)
	if len(comms) != 1 || comms[0].ID != "l0-trio" || comms[0].Size() != 2 {
		t.Fatalf("expected l0-trio pruned and l1-pair dropped, got %+v", comms)
	}
	if comms[0].ParentID != "" {
		t.Errorf("expected l0-trio detached from its dropped parent, got parent %q", comms[0].ParentID)
	}
}

func TestCampaignLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	c, err := store.CreateCampaign(ctx, entity.Campaign{OwnerID: "u1", Name: "Shattered Crown", Metadata: entity.Metadata{"tone": "grim"}})
	if err != nil {
		t.Fatalf("CreateCampaign: %v", err)
	}
	if _, err := store.CreateEntity(ctx, entity.Entity{CampaignID: c.ID, Type: entity.TypeNPC, Name: "Kess"}); err != nil {
		t.Fatalf("CreateEntity: %v", err)
	}
	owned, err := store.ListCampaigns(ctx, "u1")
	if err != nil || len(owned) != 1 {
		t.Fatalf("ListCampaigns: got %d (err %v)", len(owned), err)
	}
	if err := store.DeleteCampaign(ctx, c.ID); err != nil {
		t.Fatalf("DeleteCampaign: %v", err)
	}
	if n, _ := store.CountEntities(ctx, c.ID, ""); n != 0 {
		t.Fatalf("DeleteCampaign: expected entities removed, %d remain", n)
	}
}

func TestVectorIndex(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	idx := store.Vectors()

	seed := []memory.Vector{
		{ID: "a", Namespace: memory.NamespaceEntities, Embedding: []float32{1, 0, 0, 0}, Metadata: map[string]string{memory.KeyCampaignID: "c1", memory.KeyEntityType: "npcs"}},
		{ID: "b", Namespace: memory.NamespaceEntities, Embedding: []float32{0, 1, 0, 0}, Metadata: map[string]string{memory.KeyCampaignID: "c1", memory.KeyEntityType: "npcs"}},
		{ID: "c", Namespace: memory.NamespaceEntities, Embedding: []float32{1, 0, 0, 0}, Metadata: map[string]string{memory.KeyCampaignID: "c2", memory.KeyEntityType: "npcs"}},
	}
	for _, v := range seed {
		if err := idx.Upsert(ctx, v); err != nil {
			t.Fatalf("Upsert(%s): %v", v.ID, err)
		}
	}

	hits, err := idx.Query(ctx, []float32{1, 0, 0, 0}, memory.CampaignFilter(memory.NamespaceEntities, "c1", "npcs"), 5)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(hits) != 2 || hits[0].ID != "a" || hits[0].Score < 0.99 {
		t.Fatalf("Query: expected a first with score ~1, got %+v", hits)
	}

	if err := idx.DeleteWhere(ctx, memory.CampaignFilter(memory.NamespaceEntities, "c1", "")); err != nil {
		t.Fatalf("DeleteWhere: %v", err)
	}
	hits, _ = idx.Query(ctx, []float32{1, 0, 0, 0}, memory.Filter{Namespace: memory.NamespaceEntities}, 5)
	if len(hits) != 1 || hits[0].ID != "c" {
		t.Fatalf("Query after DeleteWhere: expected only c, got %+v", hits)
	}
}
