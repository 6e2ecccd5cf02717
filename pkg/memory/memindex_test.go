package memory_test

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/MrWong99/questweaver/pkg/memory"
)

func TestCosineSimilarity(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"length mismatch", []float32{1, 0}, []float32{1}, 0},
		{"zero vector", []float32{0, 0}, []float32{1, 1}, 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := memory.CosineSimilarity(tc.a, tc.b); math.Abs(got-tc.want) > 1e-9 {
				t.Fatalf("CosineSimilarity: expected %v, got %v", tc.want, got)
			}
		})
	}
}

func TestMemIndex_QueryFiltersAndOrders(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	idx := memory.NewMemIndex()
	seed := []memory.Vector{
		{ID: "a", Namespace: memory.NamespaceEntities, Embedding: []float32{1, 0}, Metadata: map[string]string{memory.KeyCampaignID: "c1", memory.KeyEntityType: "npcs"}},
		{ID: "b", Namespace: memory.NamespaceEntities, Embedding: []float32{0.8, 0.6}, Metadata: map[string]string{memory.KeyCampaignID: "c1", memory.KeyEntityType: "npcs"}},
		{ID: "c", Namespace: memory.NamespaceEntities, Embedding: []float32{1, 0}, Metadata: map[string]string{memory.KeyCampaignID: "c2", memory.KeyEntityType: "npcs"}},
		{ID: "d", Namespace: memory.NamespaceEntities, Embedding: []float32{1, 0}, Metadata: map[string]string{memory.KeyCampaignID: "c1", memory.KeyEntityType: "locations"}},
		{ID: "p", Namespace: memory.NamespacePlanning, Embedding: []float32{1, 0}, Metadata: map[string]string{memory.KeyCampaignID: "c1"}},
	}
	for _, v := range seed {
		if err := idx.Upsert(ctx, v); err != nil {
			t.Fatalf("Upsert(%s): %v", v.ID, err)
		}
	}

	hits, err := idx.Query(ctx, []float32{1, 0}, memory.CampaignFilter(memory.NamespaceEntities, "c1", "npcs"), 5)
	if err != nil {
		t.Fatalf("Query: unexpected error: %v", err)
	}
	if len(hits) != 2 || hits[0].ID != "a" || hits[1].ID != "b" {
		t.Fatalf("Query: expected [a b], got %+v", hits)
	}
	if hits[0].Score < hits[1].Score {
		t.Fatalf("Query: expected descending scores, got %v then %v", hits[0].Score, hits[1].Score)
	}

	hits, _ = idx.Query(ctx, []float32{1, 0}, memory.CampaignFilter(memory.NamespaceEntities, "c1", ""), 1)
	if len(hits) != 1 {
		t.Fatalf("Query topK=1: expected 1 hit, got %d", len(hits))
	}
}

func TestMemIndex_Delete(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	idx := memory.NewMemIndex()
	for _, id := range []string{"a", "b"} {
		_ = idx.Upsert(ctx, memory.Vector{ID: id, Namespace: memory.NamespacePlanning, Embedding: []float32{1}, Metadata: map[string]string{memory.KeyCampaignID: "c1"}})
	}

	if err := idx.Delete(ctx, memory.NamespacePlanning, "a"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := idx.Delete(ctx, memory.NamespacePlanning, "missing"); err != nil {
		t.Fatalf("Delete missing: expected nil, got %v", err)
	}
	if idx.Len(memory.NamespacePlanning) != 1 {
		t.Fatalf("Len: expected 1, got %d", idx.Len(memory.NamespacePlanning))
	}

	if err := idx.DeleteWhere(ctx, memory.Filter{Namespace: memory.NamespacePlanning}); !errors.Is(err, memory.ErrEmptyFilter) {
		t.Fatalf("DeleteWhere empty: expected ErrEmptyFilter, got %v", err)
	}
	if err := idx.DeleteWhere(ctx, memory.CampaignFilter(memory.NamespacePlanning, "c1", "")); err != nil {
		t.Fatalf("DeleteWhere: %v", err)
	}
	if idx.Len(memory.NamespacePlanning) != 0 {
		t.Fatalf("Len after DeleteWhere: expected 0, got %d", idx.Len(memory.NamespacePlanning))
	}
}
