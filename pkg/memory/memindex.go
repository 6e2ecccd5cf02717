package memory

import (
	"cmp"
	"context"
	"maps"
	"slices"
	"sync"
)

var _ VectorIndex = (*MemIndex)(nil)

// MemIndex is a brute-force, in-memory [VectorIndex].
// The zero value is not usable; call [NewMemIndex].
type MemIndex struct {
	mu      sync.RWMutex
	vectors map[Namespace]map[string]Vector
}

// NewMemIndex returns an empty [MemIndex].
func NewMemIndex() *MemIndex {
	return &MemIndex{vectors: make(map[Namespace]map[string]Vector)}
}

// Upsert implements [VectorIndex.Upsert].
func (m *MemIndex) Upsert(_ context.Context, v Vector) error {
	v.Embedding = slices.Clone(v.Embedding)
	v.Metadata = maps.Clone(v.Metadata)

	m.mu.Lock()
	defer m.mu.Unlock()

	ns, ok := m.vectors[v.Namespace]
	if !ok {
		ns = make(map[string]Vector)
		m.vectors[v.Namespace] = ns
	}
	ns[v.ID] = v
	return nil
}

// Query implements [VectorIndex.Query].
func (m *MemIndex) Query(ctx context.Context, embedding []float32, filter Filter, topK int) ([]Hit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	hits := make([]Hit, 0)
	for _, v := range m.vectors[filter.Namespace] {
		if !filter.Matches(v.Metadata) {
			continue
		}
		hits = append(hits, Hit{
			ID:       v.ID,
			Score:    CosineSimilarity(embedding, v.Embedding),
			Metadata: maps.Clone(v.Metadata),
		})
	}
	m.mu.RUnlock()

	slices.SortFunc(hits, func(a, b Hit) int {
		return cmp.Or(cmp.Compare(b.Score, a.Score), cmp.Compare(a.ID, b.ID))
	})
	if topK > 0 && len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

// Delete implements [VectorIndex.Delete].
func (m *MemIndex) Delete(_ context.Context, ns Namespace, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.vectors[ns], id)
	return nil
}

// DeleteWhere implements [VectorIndex.DeleteWhere].
func (m *MemIndex) DeleteWhere(_ context.Context, filter Filter) error {
	if len(filter.Match) == 0 {
		return ErrEmptyFilter
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for id, v := range m.vectors[filter.Namespace] {
		if filter.Matches(v.Metadata) {
			delete(m.vectors[filter.Namespace], id)
		}
	}
	return nil
}

// Len returns the number of vectors stored in ns.
func (m *MemIndex) Len(ns Namespace) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.vectors[ns])
}
