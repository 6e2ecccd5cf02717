package entity

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// Compile-time assertion that MemStore satisfies the Store interface.
var _ Store = (*MemStore)(nil)

// MemStore is a thread-safe, in-memory implementation of [Store].
// It is suitable for single-process use and testing.
type MemStore struct {
	mu            sync.RWMutex
	campaigns     map[string]Campaign
	entities      map[string]Entity
	relationships map[string]Relationship
	relKeys       map[relKey]string
	communities   map[string][]Community
	now           func() time.Time
}

type relKey struct {
	campaignID, fromID, toID string
	relType                  RelationshipType
}

// NewMemStore returns an initialised [MemStore].
func NewMemStore() *MemStore {
	return &MemStore{
		campaigns:     make(map[string]Campaign),
		entities:      make(map[string]Entity),
		relationships: make(map[string]Relationship),
		relKeys:       make(map[relKey]string),
		communities:   make(map[string][]Community),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// CreateEntity implements [Store.CreateEntity].
func (s *MemStore) CreateEntity(_ context.Context, e Entity) (Entity, error) {
	if err := ValidateEntity(e); err != nil {
		return Entity{}, err
	}
	if e.ID == "" {
		id, err := NewID()
		if err != nil {
			return Entity{}, err
		}
		e.ID = id
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entities[e.ID]; exists {
		return Entity{}, fmt.Errorf("entity: create %q: %w", e.ID, ErrConflict)
	}
	now := s.now()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.UpdatedAt = now
	e.Metadata = e.Metadata.Clone()
	s.entities[e.ID] = e
	return e, nil
}

// GetEntity implements [Store.GetEntity].
func (s *MemStore) GetEntity(_ context.Context, id string) (*Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entities[id]
	if !ok {
		return nil, nil
	}
	e.Metadata = e.Metadata.Clone()
	return &e, nil
}

// UpdateEntity implements [Store.UpdateEntity].
func (s *MemStore) UpdateEntity(_ context.Context, id string, patch EntityPatch) (Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entities[id]
	if !ok {
		return Entity{}, NotFoundf("entity %q", id)
	}
	if patch.Name != nil {
		e.Name = *patch.Name
	}
	if patch.Type != nil {
		e.Type = *patch.Type
	}
	if patch.Content != nil {
		e.Content = *patch.Content
	}
	if patch.EmbeddingID != nil {
		e.EmbeddingID = *patch.EmbeddingID
	}
	if patch.Metadata != nil {
		e.Metadata = e.Metadata.Merge(patch.Metadata)
	}
	if err := ValidateEntity(e); err != nil {
		return Entity{}, err
	}
	e.UpdatedAt = s.now()
	s.entities[id] = e
	e.Metadata = e.Metadata.Clone()
	return e, nil
}

// DeleteEntity implements [Store.DeleteEntity].
func (s *MemStore) DeleteEntity(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entities[id]
	if !ok {
		return NotFoundf("entity %q", id)
	}
	delete(s.entities, id)
	for rid, r := range s.relationships {
		if r.FromID == id || r.ToID == id {
			s.removeRelLocked(rid, r)
		}
	}
	s.pruneCommunitiesLocked(e.CampaignID, id)
	return nil
}

// pruneCommunitiesLocked removes id from the campaign's communities. Those it
// leaves below [MinCommunityMembers] are dropped and their children detached.
func (s *MemStore) pruneCommunitiesLocked(campaignID, id string) {
	dropped := make(map[string]bool)
	kept := s.communities[campaignID][:0]
	for _, c := range s.communities[campaignID] {
		n := len(c.MemberIDs)
		c.MemberIDs = slices.DeleteFunc(c.MemberIDs, func(m string) bool { return m == id })
		if len(c.MemberIDs) < n && len(c.MemberIDs) < MinCommunityMembers {
			dropped[c.ID] = true
			continue
		}
		kept = append(kept, c)
	}
	if len(kept) == 0 {
		delete(s.communities, campaignID)
		return
	}
	for i := range kept {
		if dropped[kept[i].ParentID] {
			kept[i].ParentID = ""
		}
	}
	s.communities[campaignID] = kept
}

// ListEntities implements [Store.ListEntities].
func (s *MemStore) ListEntities(_ context.Context, campaignID string, opts ListOptions) ([]Entity, error) {
	s.mu.RLock()
	result := make([]Entity, 0)
	for _, e := range s.entities {
		if e.CampaignID != campaignID || !matchesOpts(e, opts) {
			continue
		}
		e.Metadata = e.Metadata.Clone()
		result = append(result, e)
	}
	s.mu.RUnlock()

	slices.SortFunc(result, func(a, b Entity) int {
		if opts.OrderBy == OrderByCreatedAt {
			if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
				return c
			}
		} else if c := cmp.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name)); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return paginate(result, opts.Offset, opts.Limit), nil
}

// CountEntities implements [Store.CountEntities].
func (s *MemStore) CountEntities(_ context.Context, campaignID string, entityType EntityType) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, e := range s.entities {
		if e.CampaignID == campaignID && (entityType == "" || e.Type == entityType) {
			n++
		}
	}
	return n, nil
}

// CountEntitiesByType implements [Store.CountEntitiesByType].
func (s *MemStore) CountEntitiesByType(_ context.Context, campaignID string) (map[EntityType]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[EntityType]int)
	for _, e := range s.entities {
		if e.CampaignID == campaignID {
			counts[e.Type]++
		}
	}
	return counts, nil
}

// UpsertRelationship implements [Store.UpsertRelationship].
func (s *MemStore) UpsertRelationship(_ context.Context, r Relationship) (Relationship, error) {
	if err := ValidateRelationship(r); err != nil {
		return Relationship{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := relKey{r.CampaignID, r.FromID, r.ToID, r.Type}
	if id, ok := s.relKeys[key]; ok {
		existing := s.relationships[id]
		existing.Strength = r.Strength
		if r.Metadata != nil {
			existing.Metadata = existing.Metadata.Merge(r.Metadata)
		}
		s.relationships[id] = existing
		existing.Metadata = existing.Metadata.Clone()
		return existing, nil
	}

	if r.ID == "" {
		id, err := NewID()
		if err != nil {
			return Relationship{}, err
		}
		r.ID = id
	}
	if _, exists := s.relationships[r.ID]; exists {
		return Relationship{}, fmt.Errorf("entity: upsert relationship %q: %w", r.ID, ErrConflict)
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.now()
	}
	r.Metadata = r.Metadata.Clone()
	s.relationships[r.ID] = r
	s.relKeys[key] = r.ID
	return r, nil
}

// GetRelationship implements [Store.GetRelationship].
func (s *MemStore) GetRelationship(_ context.Context, id string) (*Relationship, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.relationships[id]
	if !ok {
		return nil, nil
	}
	r.Metadata = r.Metadata.Clone()
	return &r, nil
}

// DeleteRelationship implements [Store.DeleteRelationship].
func (s *MemStore) DeleteRelationship(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.relationships[id]
	if !ok {
		return NotFoundf("relationship %q", id)
	}
	s.removeRelLocked(id, r)
	return nil
}

// DeleteRelationshipByKey implements [Store.DeleteRelationshipByKey].
func (s *MemStore) DeleteRelationshipByKey(_ context.Context, campaignID, fromID, toID string, relType RelationshipType) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.relKeys[relKey{campaignID, fromID, toID, relType}]
	if !ok {
		return NotFoundf("relationship %s -[%s]-> %s", fromID, relType, toID)
	}
	s.removeRelLocked(id, s.relationships[id])
	return nil
}

// ListRelationships implements [Store.ListRelationships].
func (s *MemStore) ListRelationships(_ context.Context, campaignID string, filter RelationshipFilter) ([]Relationship, error) {
	s.mu.RLock()
	result := make([]Relationship, 0)
	for _, r := range s.relationships {
		if r.CampaignID != campaignID || !matchesFilter(r, filter) {
			continue
		}
		r.Metadata = r.Metadata.Clone()
		result = append(result, r)
	}
	s.mu.RUnlock()

	slices.SortFunc(result, func(a, b Relationship) int {
		return cmp.Or(
			cmp.Compare(a.FromID, b.FromID),
			cmp.Compare(a.ToID, b.ToID),
			cmp.Compare(a.Type, b.Type),
		)
	})
	return result, nil
}

// ReplaceCommunities implements [Store.ReplaceCommunities].
func (s *MemStore) ReplaceCommunities(_ context.Context, campaignID string, communities []Community) error {
	stored := make([]Community, 0, len(communities))
	now := s.now()
	for _, c := range communities {
		if c.ID == "" {
			id, err := NewID()
			if err != nil {
				return err
			}
			c.ID = id
		}
		c.CampaignID = campaignID
		c.MemberIDs = slices.Clone(c.MemberIDs)
		c.Keywords = slices.Clone(c.Keywords)
		if c.CreatedAt.IsZero() {
			c.CreatedAt = now
		}
		stored = append(stored, c)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(stored) == 0 {
		delete(s.communities, campaignID)
		return nil
	}
	s.communities[campaignID] = stored
	return nil
}

// ListCommunities implements [Store.ListCommunities].
func (s *MemStore) ListCommunities(_ context.Context, campaignID string, level *int) ([]Community, error) {
	s.mu.RLock()
	result := make([]Community, 0)
	for _, c := range s.communities[campaignID] {
		if level != nil && c.Level != *level {
			continue
		}
		c.MemberIDs = slices.Clone(c.MemberIDs)
		c.Keywords = slices.Clone(c.Keywords)
		result = append(result, c)
	}
	s.mu.RUnlock()

	slices.SortFunc(result, func(a, b Community) int {
		return cmp.Or(cmp.Compare(a.Level, b.Level), cmp.Compare(a.ID, b.ID))
	})
	return result, nil
}

// CreateCampaign implements [Store.CreateCampaign].
func (s *MemStore) CreateCampaign(_ context.Context, c Campaign) (Campaign, error) {
	if err := ValidateCampaign(c); err != nil {
		return Campaign{}, err
	}
	if c.ID == "" {
		id, err := NewID()
		if err != nil {
			return Campaign{}, err
		}
		c.ID = id
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.campaigns[c.ID]; exists {
		return Campaign{}, fmt.Errorf("entity: create campaign %q: %w", c.ID, ErrConflict)
	}
	now := s.now()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	c.Metadata = c.Metadata.Clone()
	s.campaigns[c.ID] = c
	return c, nil
}

// GetCampaign implements [Store.GetCampaign].
func (s *MemStore) GetCampaign(_ context.Context, id string) (*Campaign, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.campaigns[id]
	if !ok {
		return nil, nil
	}
	c.Metadata = c.Metadata.Clone()
	return &c, nil
}

// UpdateCampaign implements [Store.UpdateCampaign].
func (s *MemStore) UpdateCampaign(_ context.Context, id string, patch CampaignPatch) (Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.campaigns[id]
	if !ok {
		return Campaign{}, NotFoundf("campaign %q", id)
	}
	if patch.Name != nil {
		c.Name = *patch.Name
	}
	if patch.Description != nil {
		c.Description = *patch.Description
	}
	if patch.Metadata != nil {
		c.Metadata = c.Metadata.Merge(patch.Metadata)
	}
	if err := ValidateCampaign(c); err != nil {
		return Campaign{}, err
	}
	c.UpdatedAt = s.now()
	s.campaigns[id] = c
	c.Metadata = c.Metadata.Clone()
	return c, nil
}

// DeleteCampaign implements [Store.DeleteCampaign].
func (s *MemStore) DeleteCampaign(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.campaigns[id]; !ok {
		return NotFoundf("campaign %q", id)
	}
	delete(s.campaigns, id)
	delete(s.communities, id)
	for eid, e := range s.entities {
		if e.CampaignID == id {
			delete(s.entities, eid)
		}
	}
	for rid, r := range s.relationships {
		if r.CampaignID == id {
			s.removeRelLocked(rid, r)
		}
	}
	return nil
}

// ListCampaigns implements [Store.ListCampaigns].
func (s *MemStore) ListCampaigns(_ context.Context, ownerID string) ([]Campaign, error) {
	s.mu.RLock()
	result := make([]Campaign, 0)
	for _, c := range s.campaigns {
		if ownerID != "" && c.OwnerID != ownerID {
			continue
		}
		c.Metadata = c.Metadata.Clone()
		result = append(result, c)
	}
	s.mu.RUnlock()

	slices.SortFunc(result, func(a, b Campaign) int {
		return cmp.Or(b.CreatedAt.Compare(a.CreatedAt), cmp.Compare(a.ID, b.ID))
	})
	return result, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────────────────────────────────────

// NewID returns a fresh random identifier.
func NewID() (string, error) {
	id, err := gonanoid.New()
	if err != nil {
		return "", fmt.Errorf("entity: generate id: %w", err)
	}
	return id, nil
}

// removeRelLocked deletes a relationship and its key index entry.
// The caller must hold s.mu for writing.
func (s *MemStore) removeRelLocked(id string, r Relationship) {
	delete(s.relationships, id)
	delete(s.relKeys, relKey{r.CampaignID, r.FromID, r.ToID, r.Type})
}

// matchesOpts reports whether e satisfies all conditions in opts.
func matchesOpts(e Entity, opts ListOptions) bool {
	if opts.Type != "" && e.Type != opts.Type {
		return false
	}
	if opts.Name != "" && !strings.EqualFold(strings.TrimSpace(e.Name), strings.TrimSpace(opts.Name)) {
		return false
	}
	return true
}

// matchesFilter reports whether r satisfies all conditions in f.
func matchesFilter(r Relationship, f RelationshipFilter) bool {
	if len(f.Types) > 0 && !slices.Contains(f.Types, r.Type) {
		return false
	}
	if f.EntityID == "" {
		return true
	}
	switch f.Direction {
	case DirectionOut:
		return r.FromID == f.EntityID
	case DirectionIn:
		return r.ToID == f.EntityID
	default:
		return r.FromID == f.EntityID || r.ToID == f.EntityID
	}
}

func paginate[T any](items []T, offset, limit int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return items[:0]
		}
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
