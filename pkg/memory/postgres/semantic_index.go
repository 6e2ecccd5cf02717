package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/MrWong99/questweaver/pkg/memory"
)

// VectorIndex is a [memory.VectorIndex] backed by the vectors table with a
// pgvector HNSW index for approximate nearest-neighbour search. Metadata
// filters use jsonb containment.
//
// Obtain one via [Store.Vectors] rather than constructing directly.
// All methods are safe for concurrent use.
type VectorIndex struct {
	pool *pgxpool.Pool
}

// Upsert implements [memory.VectorIndex].
func (s *VectorIndex) Upsert(ctx context.Context, v memory.Vector) error {
	mdJSON, err := json.Marshal(stringMap(v.Metadata))
	if err != nil {
		return fmt.Errorf("vector index: marshal metadata: %w", err)
	}

	const q = `
		INSERT INTO vectors (namespace, id, embedding, metadata, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (namespace, id) DO UPDATE SET
		    embedding  = EXCLUDED.embedding,
		    metadata   = EXCLUDED.metadata,
		    updated_at = now()`

	if _, err := s.pool.Exec(ctx, q, string(v.Namespace), v.ID, pgvector.NewVector(v.Embedding), mdJSON); err != nil {
		return fmt.Errorf("vector index: upsert: %w", err)
	}
	return nil
}

// Query implements [memory.VectorIndex]. Score is 1 - cosine distance.
func (s *VectorIndex) Query(ctx context.Context, embedding []float32, filter memory.Filter, topK int) ([]memory.Hit, error) {
	if topK <= 0 {
		topK = 10
	}
	matchJSON, err := json.Marshal(stringMap(filter.Match))
	if err != nil {
		return nil, fmt.Errorf("vector index: marshal filter: %w", err)
	}

	const q = `
		SELECT id, metadata, 1 - (embedding <=> $1) AS score
		FROM   vectors
		WHERE  namespace = $2
		  AND  metadata @> $3::jsonb
		ORDER  BY embedding <=> $1
		LIMIT  $4`

	rows, err := s.pool.Query(ctx, q, pgvector.NewVector(embedding), string(filter.Namespace), matchJSON, topK)
	if err != nil {
		return nil, fmt.Errorf("vector index: query: %w", err)
	}

	hits, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (memory.Hit, error) {
		var (
			h      memory.Hit
			mdJSON []byte
		)
		if err := row.Scan(&h.ID, &mdJSON, &h.Score); err != nil {
			return memory.Hit{}, err
		}
		if len(mdJSON) > 0 {
			if err := json.Unmarshal(mdJSON, &h.Metadata); err != nil {
				return memory.Hit{}, fmt.Errorf("unmarshal vector metadata: %w", err)
			}
		}
		return h, nil
	})
	if err != nil {
		return nil, fmt.Errorf("vector index: scan rows: %w", err)
	}
	if hits == nil {
		hits = []memory.Hit{}
	}
	return hits, nil
}

// Delete implements [memory.VectorIndex].
func (s *VectorIndex) Delete(ctx context.Context, ns memory.Namespace, id string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM vectors WHERE namespace = $1 AND id = $2`, string(ns), id); err != nil {
		return fmt.Errorf("vector index: delete: %w", err)
	}
	return nil
}

// DeleteWhere implements [memory.VectorIndex].
func (s *VectorIndex) DeleteWhere(ctx context.Context, filter memory.Filter) error {
	if len(filter.Match) == 0 {
		return memory.ErrEmptyFilter
	}
	matchJSON, err := json.Marshal(filter.Match)
	if err != nil {
		return fmt.Errorf("vector index: marshal filter: %w", err)
	}
	const q = `DELETE FROM vectors WHERE namespace = $1 AND metadata @> $2::jsonb`
	if _, err := s.pool.Exec(ctx, q, string(filter.Namespace), matchJSON); err != nil {
		return fmt.Errorf("vector index: delete where: %w", err)
	}
	return nil
}

func stringMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
