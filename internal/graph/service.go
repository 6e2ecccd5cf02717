// Package graph maintains a campaign's entity relationship graph on top of an
// [entity.Store].
//
// The [Service] enforces the graph rules the store does not: both endpoints of
// an edge belong to the caller's campaign, bidirectional relationship types
// are written as a reciprocal pair, reclassification cascades to same-named
// duplicates, and entity writes keep the vector index in step.
package graph

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/questweaver/internal/dedupe"
	"github.com/MrWong99/questweaver/internal/entity"
	"github.com/MrWong99/questweaver/internal/observe"
	"github.com/MrWong99/questweaver/pkg/memory"
	"github.com/MrWong99/questweaver/pkg/provider/embeddings"
)

// ErrPartialWrite is returned when the forward edge of a bidirectional pair
// was stored but the reciprocal edge was not.
var ErrPartialWrite = errors.New("partial write")

const defaultIndexTimeout = 5 * time.Second

// Option configures a [Service].
type Option func(*Service)

// WithVectorIndex keeps entity embeddings in index, computed with embedder.
func WithVectorIndex(index memory.VectorIndex, embedder embeddings.Provider) Option {
	return func(s *Service) {
		s.index = index
		s.embedder = embedder
	}
}

// WithResolver sets the duplicate resolver used by [Service.IngestEntity].
// Without one a lexical-only resolver over the store is used.
func WithResolver(r *dedupe.Resolver) Option {
	return func(s *Service) { s.resolver = r }
}

// WithIndexTimeout bounds each embeddings or index call. Default: 5s.
func WithIndexTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.indexTimeout = d
		}
	}
}

// Service is the entry point for entity and relationship mutations.
// It is safe for concurrent use.
type Service struct {
	store    entity.Store
	index    memory.VectorIndex
	embedder embeddings.Provider
	resolver *dedupe.Resolver

	indexTimeout time.Duration

	// ingestMu serialises ingestion per campaign so concurrent submissions of
	// the same candidate resolve to one entity.
	ingestMu sync.Map // campaign ID -> *sync.Mutex
}

// New returns a [Service] over store.
func New(store entity.Store, opts ...Option) *Service {
	s := &Service{store: store, indexTimeout: defaultIndexTimeout}
	for _, o := range opts {
		o(s)
	}
	if s.resolver == nil {
		s.resolver = dedupe.NewStandard(store, s.index, s.embedder, dedupe.Config{})
	}
	return s
}

// Store returns the underlying entity store.
func (s *Service) Store() entity.Store { return s.store }

// Entity returns the entity id of campaignID. A missing entity wraps
// [entity.ErrNotFound]; an entity of another campaign wraps
// [entity.ErrValidation].
func (s *Service) Entity(ctx context.Context, campaignID, id string) (entity.Entity, error) {
	if id == "" {
		return entity.Entity{}, entity.Validationf("entity id is required")
	}
	e, err := s.store.GetEntity(ctx, id)
	if err != nil {
		return entity.Entity{}, entity.Dependency("get entity", err)
	}
	if e == nil {
		return entity.Entity{}, entity.NotFoundf("entity %q", id)
	}
	if e.CampaignID != campaignID {
		return entity.Entity{}, entity.Validationf("entity %q does not belong to campaign %q", id, campaignID)
	}
	return *e, nil
}

// ListEntities returns the campaign's entities.
func (s *Service) ListEntities(ctx context.Context, campaignID string, opts entity.ListOptions) ([]entity.Entity, error) {
	es, err := s.store.ListEntities(ctx, campaignID, opts)
	if err != nil {
		return nil, entity.Dependency("list entities", err)
	}
	return es, nil
}

// UpdateMetadata merges md into the entity's metadata.
func (s *Service) UpdateMetadata(ctx context.Context, campaignID, id string, md entity.Metadata) (entity.Entity, error) {
	if _, err := s.Entity(ctx, campaignID, id); err != nil {
		return entity.Entity{}, err
	}
	if len(md) == 0 {
		return entity.Entity{}, entity.Validationf("metadata must not be empty")
	}
	e, err := s.store.UpdateEntity(ctx, id, entity.EntityPatch{Metadata: md})
	if err != nil {
		return entity.Entity{}, entity.Dependency("update metadata", err)
	}
	return e, nil
}

// ReclassifyResult reports the outcome of [Service.ReclassifyEntity].
type ReclassifyResult struct {
	Entity       entity.Entity
	PreviousType entity.EntityType

	// UpdatedDuplicates counts other entities of the campaign with exactly
	// the same name that were moved to the new type.
	UpdatedDuplicates int
	DuplicateIDs      []string
}

// ReclassifyEntity changes the type of an entity and of every other entity in
// the campaign with exactly the same name.
func (s *Service) ReclassifyEntity(ctx context.Context, campaignID, id, newType string) (ReclassifyResult, error) {
	t, err := entity.ParseEntityType(newType)
	if err != nil {
		return ReclassifyResult{}, err
	}
	target, err := s.Entity(ctx, campaignID, id)
	if err != nil {
		return ReclassifyResult{}, err
	}

	res := ReclassifyResult{PreviousType: target.Type}
	res.Entity, err = s.setType(ctx, target, t)
	if err != nil {
		return ReclassifyResult{}, err
	}

	// ListOptions.Name is case-insensitive; the cascade wants exact names.
	same, err := s.store.ListEntities(ctx, campaignID, entity.ListOptions{Name: target.Name})
	if err != nil {
		return res, entity.Dependency("list duplicates", err)
	}
	for _, dup := range same {
		if dup.ID == target.ID || dup.Name != target.Name || dup.Type == t {
			continue
		}
		if _, err := s.setType(ctx, dup, t); err != nil {
			return res, err
		}
		res.UpdatedDuplicates++
		res.DuplicateIDs = append(res.DuplicateIDs, dup.ID)
	}

	observe.Logger(ctx).Info("graph: entity reclassified",
		slog.String("entity_id", id),
		slog.String("from", string(res.PreviousType)),
		slog.String("to", string(t)),
		slog.Int("duplicates", res.UpdatedDuplicates),
	)
	return res, nil
}

func (s *Service) setType(ctx context.Context, e entity.Entity, t entity.EntityType) (entity.Entity, error) {
	if e.Type == t {
		return e, nil
	}
	updated, err := s.store.UpdateEntity(ctx, e.ID, entity.EntityPatch{Type: &t})
	if err != nil {
		return entity.Entity{}, entity.Dependency("update entity type", err)
	}
	// The vector carries the type as a filter key.
	if err := s.indexEntity(ctx, updated, nil); err != nil {
		observe.Logger(ctx).Warn("graph: reindex after reclassify failed",
			slog.String("entity_id", e.ID), slog.Any("err", err))
	}
	return updated, nil
}

// DeleteEntity removes the entity with its relationships and community
// memberships, then its vector. A vector deletion failure is logged only.
func (s *Service) DeleteEntity(ctx context.Context, campaignID, id string) (entity.Entity, error) {
	e, err := s.Entity(ctx, campaignID, id)
	if err != nil {
		return entity.Entity{}, err
	}
	if err := s.store.DeleteEntity(ctx, id); err != nil {
		return entity.Entity{}, entity.Dependency("delete entity", err)
	}
	if s.index != nil {
		ictx, cancel := context.WithTimeout(ctx, s.indexTimeout)
		defer cancel()
		if err := s.index.Delete(ictx, memory.NamespaceEntities, id); err != nil {
			observe.Logger(ctx).Warn("graph: vector delete failed",
				slog.String("entity_id", id), slog.Any("err", err))
		}
	}
	return e, nil
}

// indexEntity upserts the entity's vector. A nil emb is computed.
// It is a no-op without a configured index.
func (s *Service) indexEntity(ctx context.Context, e entity.Entity, emb []float32) error {
	if s.index == nil || s.embedder == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.indexTimeout)
	defer cancel()
	if len(emb) == 0 {
		v, err := s.embedder.Embed(ctx, e.EmbeddingText())
		if err != nil {
			return entity.Dependency("embed entity", err)
		}
		emb = v
	}
	err := s.index.Upsert(ctx, memory.Vector{
		ID:        e.ID,
		Namespace: memory.NamespaceEntities,
		Embedding: emb,
		Metadata: map[string]string{
			memory.KeyCampaignID: e.CampaignID,
			memory.KeyEntityType: string(e.Type),
			memory.KeyEntityID:   e.ID,
		},
	})
	if err != nil {
		return entity.Dependency("index entity", err)
	}
	return nil
}

func (s *Service) campaignLock(campaignID string) *sync.Mutex {
	mu, _ := s.ingestMu.LoadOrStore(campaignID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}
