// Package memory defines the vector index used by questweaver for semantic
// duplicate detection and planning-context coverage.
//
// Vectors are grouped into namespaces: [NamespaceEntities] holds one vector per
// knowledge-graph entity, [NamespacePlanning] holds embedded planning notes and
// campaign descriptions. Every vector carries a flat string metadata map used
// for equality filtering (campaign, entity type).
//
// Implementations:
//   - [MemIndex]: brute-force in-memory cosine search, for tests and single
//     process deployments.
//   - pkg/memory/postgres: pgvector HNSW index sharing the entity store's pool.
//   - pkg/memory/qdrant: Qdrant collection per namespace.
//
// Every implementation must be safe for concurrent use.
package memory

import "context"

// VectorIndex stores embeddings and answers nearest-neighbour queries.
//
// Scores returned by [VectorIndex.Query] are cosine similarities in [-1,1];
// higher is more similar. Results are ordered by descending score.
type VectorIndex interface {
	// Upsert stores v, replacing any vector with the same namespace and ID.
	Upsert(ctx context.Context, v Vector) error

	// Query returns up to topK vectors in filter.Namespace closest to
	// embedding whose metadata matches every key in filter.Match.
	Query(ctx context.Context, embedding []float32, filter Filter, topK int) ([]Hit, error)

	// Delete removes one vector. Deleting a missing vector is not an error.
	Delete(ctx context.Context, ns Namespace, id string) error

	// DeleteWhere removes every vector in filter.Namespace matching
	// filter.Match. An empty Match is rejected to avoid wiping a namespace.
	DeleteWhere(ctx context.Context, filter Filter) error
}
