// Package postgres provides the PostgreSQL-backed persistence layer for
// questweaver: an [entity.Store] over campaign, entity, relationship and
// community tables, and a pgvector [memory.VectorIndex] sharing the same pool.
//
// The pgvector extension must be available in the target database; [Migrate]
// installs it automatically via CREATE EXTENSION IF NOT EXISTS.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn, 1536)
//	if err != nil { … }
//	defer store.Close()
//
//	// entity.Store
//	e, _ := store.CreateEntity(ctx, entity.Entity{…})
//
//	// memory.VectorIndex
//	_ = store.Vectors().Upsert(ctx, memory.Vector{…})
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ─────────────────────────────────────────────────────────────────────────────
// Knowledge graph DDL
// ─────────────────────────────────────────────────────────────────────────────

const ddlCampaigns = `
CREATE TABLE IF NOT EXISTS campaigns (
    id           TEXT         PRIMARY KEY,
    owner_id     TEXT         NOT NULL,
    name         TEXT         NOT NULL,
    description  TEXT         NOT NULL DEFAULT '',
    metadata     JSONB        NOT NULL DEFAULT '{}',
    created_at   TIMESTAMPTZ  NOT NULL DEFAULT now(),
    updated_at   TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_campaigns_owner ON campaigns (owner_id);
`

const ddlKnowledgeGraph = `
CREATE TABLE IF NOT EXISTS entities (
    id              TEXT         PRIMARY KEY,
    campaign_id     TEXT         NOT NULL,
    entity_type     TEXT         NOT NULL,
    name            TEXT         NOT NULL,
    summary         TEXT         NOT NULL DEFAULT '',
    backstory       TEXT         NOT NULL DEFAULT '',
    source_context  TEXT         NOT NULL DEFAULT '',
    metadata        JSONB        NOT NULL DEFAULT '{}',
    embedding_id    TEXT         NOT NULL DEFAULT '',
    created_at      TIMESTAMPTZ  NOT NULL DEFAULT now(),
    updated_at      TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_entities_campaign_type
    ON entities (campaign_id, entity_type);

CREATE INDEX IF NOT EXISTS idx_entities_campaign_name
    ON entities (campaign_id, lower(name));

CREATE TABLE IF NOT EXISTS relationships (
    id           TEXT         PRIMARY KEY,
    campaign_id  TEXT         NOT NULL,
    from_id      TEXT         NOT NULL REFERENCES entities (id) ON DELETE CASCADE,
    to_id        TEXT         NOT NULL REFERENCES entities (id) ON DELETE CASCADE,
    rel_type     TEXT         NOT NULL,
    strength     DOUBLE PRECISION NOT NULL DEFAULT 0.5,
    metadata     JSONB        NOT NULL DEFAULT '{}',
    created_at   TIMESTAMPTZ  NOT NULL DEFAULT now(),
    UNIQUE (campaign_id, from_id, to_id, rel_type)
);

CREATE INDEX IF NOT EXISTS idx_rel_campaign ON relationships (campaign_id);
CREATE INDEX IF NOT EXISTS idx_rel_from ON relationships (from_id);
CREATE INDEX IF NOT EXISTS idx_rel_to ON relationships (to_id);

CREATE TABLE IF NOT EXISTS communities (
    id           TEXT         PRIMARY KEY,
    campaign_id  TEXT         NOT NULL,
    level        INTEGER      NOT NULL,
    member_ids   TEXT[]       NOT NULL DEFAULT '{}',
    parent_id    TEXT         NOT NULL DEFAULT '',
    summary      TEXT         NOT NULL DEFAULT '',
    keywords     TEXT[]       NOT NULL DEFAULT '{}',
    created_at   TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_communities_campaign_level
    ON communities (campaign_id, level);
`

// ddlVectors returns the vector table DDL with the embedding dimension
// substituted. The dimension is baked into the column type at creation time.
func ddlVectors(embeddingDimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS vectors (
    namespace   TEXT         NOT NULL,
    id          TEXT         NOT NULL,
    embedding   vector(%d)   NOT NULL,
    metadata    JSONB        NOT NULL DEFAULT '{}',
    updated_at  TIMESTAMPTZ  NOT NULL DEFAULT now(),
    PRIMARY KEY (namespace, id)
);

CREATE INDEX IF NOT EXISTS idx_vectors_metadata
    ON vectors USING GIN (metadata);

CREATE INDEX IF NOT EXISTS idx_vectors_embedding
    ON vectors USING hnsw (embedding vector_cosine_ops);
`, embeddingDimensions)
}

// Migrate creates or ensures all required database tables and extensions exist.
// It is idempotent (CREATE TABLE IF NOT EXISTS / CREATE INDEX IF NOT EXISTS) and
// safe to call on every application start.
//
// embeddingDimensions must match the embedding model configured for your
// deployment (e.g., 1536 for OpenAI text-embedding-3-small, 768 for
// nomic-embed-text). Changing it after the first migration requires a manual
// schema update.
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) error {
	if embeddingDimensions <= 0 {
		return fmt.Errorf("postgres migrate: embedding dimensions must be positive, got %d", embeddingDimensions)
	}
	statements := []string{
		ddlCampaigns,
		ddlKnowledgeGraph,
		ddlVectors(embeddingDimensions),
	}

	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}
