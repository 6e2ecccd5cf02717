package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/MrWong99/questweaver/internal/entity"
)

const entityColumns = `id, campaign_id, entity_type, name, summary, backstory, source_context,
		       metadata, embedding_id, created_at, updated_at`

const relationshipColumns = `id, campaign_id, from_id, to_id, rel_type, strength, metadata, created_at`

// ─────────────────────────────────────────────────────────────────────────────
// Entities
// ─────────────────────────────────────────────────────────────────────────────

// CreateEntity implements [entity.Store].
func (s *Store) CreateEntity(ctx context.Context, e entity.Entity) (entity.Entity, error) {
	if err := entity.ValidateEntity(e); err != nil {
		return entity.Entity{}, err
	}
	if e.ID == "" {
		id, err := entity.NewID()
		if err != nil {
			return entity.Entity{}, err
		}
		e.ID = id
	}
	mdJSON, err := marshalMetadata(e.Metadata)
	if err != nil {
		return entity.Entity{}, fmt.Errorf("knowledge graph: marshal metadata: %w", err)
	}

	q := `
		INSERT INTO entities
		    (id, campaign_id, entity_type, name, summary, backstory, source_context,
		     metadata, embedding_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now(), now())
		RETURNING ` + entityColumns

	rows, err := s.pool.Query(ctx, q,
		e.ID,
		e.CampaignID,
		string(e.Type),
		e.Name,
		e.Content.Summary,
		e.Content.Backstory,
		e.Content.SourceContext,
		mdJSON,
		e.EmbeddingID,
	)
	if err != nil {
		return entity.Entity{}, fmt.Errorf("knowledge graph: create entity: %w", err)
	}
	created, err := collectEntities(rows)
	if err != nil {
		if isUniqueViolation(err) {
			return entity.Entity{}, fmt.Errorf("knowledge graph: create entity %q: %w", e.ID, entity.ErrConflict)
		}
		return entity.Entity{}, fmt.Errorf("knowledge graph: create entity: %w", err)
	}
	return created[0], nil
}

// GetEntity implements [entity.Store]. Returns (nil, nil) when the entity
// does not exist.
func (s *Store) GetEntity(ctx context.Context, id string) (*entity.Entity, error) {
	q := `SELECT ` + entityColumns + ` FROM entities WHERE id = $1`

	rows, err := s.pool.Query(ctx, q, id)
	if err != nil {
		return nil, fmt.Errorf("knowledge graph: get entity: %w", err)
	}
	entities, err := collectEntities(rows)
	if err != nil {
		return nil, fmt.Errorf("knowledge graph: get entity: %w", err)
	}
	if len(entities) == 0 {
		return nil, nil
	}
	return &entities[0], nil
}

// UpdateEntity implements [entity.Store]. Metadata is merged with the jsonb
// || operator; the other patch fields overwrite.
func (s *Store) UpdateEntity(ctx context.Context, id string, patch entity.EntityPatch) (entity.Entity, error) {
	args := []any{id} // $1 = id
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	sets := []string{"updated_at = now()"}
	if patch.Name != nil {
		if strings.TrimSpace(*patch.Name) == "" {
			return entity.Entity{}, entity.Validationf("name must not be empty")
		}
		sets = append(sets, "name = "+next(*patch.Name))
	}
	if patch.Type != nil {
		if !patch.Type.IsValid() {
			return entity.Entity{}, entity.Validationf("type %q is not a recognised entity type", *patch.Type)
		}
		sets = append(sets, "entity_type = "+next(string(*patch.Type)))
	}
	if patch.Content != nil {
		sets = append(sets,
			"summary = "+next(patch.Content.Summary),
			"backstory = "+next(patch.Content.Backstory),
			"source_context = "+next(patch.Content.SourceContext),
		)
	}
	if patch.EmbeddingID != nil {
		sets = append(sets, "embedding_id = "+next(*patch.EmbeddingID))
	}
	if patch.Metadata != nil {
		mdJSON, err := marshalMetadata(patch.Metadata)
		if err != nil {
			return entity.Entity{}, fmt.Errorf("knowledge graph: marshal metadata: %w", err)
		}
		sets = append(sets, "metadata = metadata || "+next(mdJSON)+"::jsonb")
	}

	q := fmt.Sprintf(`
		UPDATE entities
		SET    %s
		WHERE  id = $1
		RETURNING %s`, strings.Join(sets, ",\n\t\t       "), entityColumns)

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return entity.Entity{}, fmt.Errorf("knowledge graph: update entity: %w", err)
	}
	updated, err := collectEntities(rows)
	if err != nil {
		return entity.Entity{}, fmt.Errorf("knowledge graph: update entity: %w", err)
	}
	if len(updated) == 0 {
		return entity.Entity{}, fmt.Errorf("knowledge graph: update entity: %w", entity.NotFoundf("entity %q", id))
	}
	return updated[0], nil
}

// DeleteEntity implements [entity.Store]. Relationships are removed by
// ON DELETE CASCADE; community membership is pruned in the same transaction.
func (s *Store) DeleteEntity(ctx context.Context, id string) error {
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var campaignID string
		err := tx.QueryRow(ctx, `DELETE FROM entities WHERE id = $1 RETURNING campaign_id`, id).Scan(&campaignID)
		if isNoRows(err) {
			return entity.NotFoundf("entity %q", id)
		}
		if err != nil {
			return err
		}
		return pruneCommunities(ctx, tx, campaignID, id)
	})
	if err != nil {
		return fmt.Errorf("knowledge graph: delete entity: %w", err)
	}
	return nil
}

// pruneCommunities removes id from the campaign's communities, drops those it
// leaves below [entity.MinCommunityMembers] and detaches their children.
func pruneCommunities(ctx context.Context, tx pgx.Tx, campaignID, id string) error {
	const prune = `
		UPDATE communities
		SET    member_ids = array_remove(member_ids, $2)
		WHERE  campaign_id = $1 AND $2 = ANY(member_ids)
		RETURNING id, cardinality(member_ids)`
	rows, err := tx.Query(ctx, prune, campaignID, id)
	if err != nil {
		return err
	}
	type pruned struct {
		id   string
		size int
	}
	affected, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (pruned, error) {
		var p pruned
		err := row.Scan(&p.id, &p.size)
		return p, err
	})
	if err != nil {
		return err
	}

	var drop []string
	for _, p := range affected {
		if p.size < entity.MinCommunityMembers {
			drop = append(drop, p.id)
		}
	}
	if len(drop) == 0 {
		return nil
	}
	if _, err := tx.Exec(ctx, `DELETE FROM communities WHERE id = ANY($1)`, drop); err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		UPDATE communities
		SET    parent_id = ''
		WHERE  campaign_id = $1 AND parent_id = ANY($2)`, campaignID, drop)
	return err
}

// ListEntities implements [entity.Store].
func (s *Store) ListEntities(ctx context.Context, campaignID string, opts entity.ListOptions) ([]entity.Entity, error) {
	args := []any{campaignID}
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	conditions := []string{"campaign_id = $1"}
	if opts.Type != "" {
		conditions = append(conditions, "entity_type = "+next(string(opts.Type)))
	}
	if opts.Name != "" {
		conditions = append(conditions, "lower(name) = lower("+next(strings.TrimSpace(opts.Name))+")")
	}

	order := "lower(name), id"
	if opts.OrderBy == entity.OrderByCreatedAt {
		order = "created_at, id"
	}

	q := "SELECT " + entityColumns + "\nFROM   entities\nWHERE  " +
		strings.Join(conditions, "\n  AND ") + "\nORDER BY " + order
	if opts.Limit > 0 {
		q += "\nLIMIT " + next(opts.Limit)
	}
	if opts.Offset > 0 {
		q += "\nOFFSET " + next(opts.Offset)
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("knowledge graph: list entities: %w", err)
	}
	result, err := collectEntities(rows)
	if err != nil {
		return nil, fmt.Errorf("knowledge graph: list entities: %w", err)
	}
	return result, nil
}

// CountEntities implements [entity.Store].
func (s *Store) CountEntities(ctx context.Context, campaignID string, entityType entity.EntityType) (int, error) {
	const q = `
		SELECT count(*)
		FROM   entities
		WHERE  campaign_id = $1 AND ($2 = '' OR entity_type = $2)`

	var n int
	if err := s.pool.QueryRow(ctx, q, campaignID, string(entityType)).Scan(&n); err != nil {
		return 0, fmt.Errorf("knowledge graph: count entities: %w", err)
	}
	return n, nil
}

// CountEntitiesByType implements [entity.Store].
func (s *Store) CountEntitiesByType(ctx context.Context, campaignID string) (map[entity.EntityType]int, error) {
	const q = `
		SELECT entity_type, count(*)
		FROM   entities
		WHERE  campaign_id = $1
		GROUP  BY entity_type`

	rows, err := s.pool.Query(ctx, q, campaignID)
	if err != nil {
		return nil, fmt.Errorf("knowledge graph: count by type: %w", err)
	}
	defer rows.Close()

	counts := make(map[entity.EntityType]int)
	for rows.Next() {
		var (
			t string
			n int
		)
		if err := rows.Scan(&t, &n); err != nil {
			return nil, fmt.Errorf("knowledge graph: count by type: %w", err)
		}
		counts[entity.EntityType(t)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("knowledge graph: count by type: %w", err)
	}
	return counts, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Relationships
// ─────────────────────────────────────────────────────────────────────────────

// UpsertRelationship implements [entity.Store]. The natural key is
// (campaign_id, from_id, to_id, rel_type); on conflict strength is replaced
// and metadata merged.
func (s *Store) UpsertRelationship(ctx context.Context, r entity.Relationship) (entity.Relationship, error) {
	if err := entity.ValidateRelationship(r); err != nil {
		return entity.Relationship{}, err
	}
	if r.ID == "" {
		id, err := entity.NewID()
		if err != nil {
			return entity.Relationship{}, err
		}
		r.ID = id
	}
	mdJSON, err := marshalMetadata(r.Metadata)
	if err != nil {
		return entity.Relationship{}, fmt.Errorf("knowledge graph: marshal relationship metadata: %w", err)
	}

	q := `
		INSERT INTO relationships
		    (id, campaign_id, from_id, to_id, rel_type, strength, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		ON CONFLICT (campaign_id, from_id, to_id, rel_type) DO UPDATE SET
		    strength = EXCLUDED.strength,
		    metadata = relationships.metadata || EXCLUDED.metadata
		RETURNING ` + relationshipColumns

	rows, err := s.pool.Query(ctx, q,
		r.ID,
		r.CampaignID,
		r.FromID,
		r.ToID,
		string(r.Type),
		r.Strength,
		mdJSON,
	)
	if err != nil {
		return entity.Relationship{}, fmt.Errorf("knowledge graph: upsert relationship: %w", err)
	}
	rels, err := collectRelationships(rows)
	if err != nil {
		return entity.Relationship{}, fmt.Errorf("knowledge graph: upsert relationship: %w", err)
	}
	return rels[0], nil
}

// GetRelationship implements [entity.Store].
func (s *Store) GetRelationship(ctx context.Context, id string) (*entity.Relationship, error) {
	q := `SELECT ` + relationshipColumns + ` FROM relationships WHERE id = $1`

	rows, err := s.pool.Query(ctx, q, id)
	if err != nil {
		return nil, fmt.Errorf("knowledge graph: get relationship: %w", err)
	}
	rels, err := collectRelationships(rows)
	if err != nil {
		return nil, fmt.Errorf("knowledge graph: get relationship: %w", err)
	}
	if len(rels) == 0 {
		return nil, nil
	}
	return &rels[0], nil
}

// DeleteRelationship implements [entity.Store].
func (s *Store) DeleteRelationship(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM relationships WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("knowledge graph: delete relationship: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("knowledge graph: delete relationship: %w", entity.NotFoundf("relationship %q", id))
	}
	return nil
}

// DeleteRelationshipByKey implements [entity.Store].
func (s *Store) DeleteRelationshipByKey(ctx context.Context, campaignID, fromID, toID string, relType entity.RelationshipType) error {
	const q = `
		DELETE FROM relationships
		WHERE  campaign_id = $1 AND from_id = $2 AND to_id = $3 AND rel_type = $4`

	tag, err := s.pool.Exec(ctx, q, campaignID, fromID, toID, string(relType))
	if err != nil {
		return fmt.Errorf("knowledge graph: delete relationship: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("knowledge graph: delete relationship: %w",
			entity.NotFoundf("relationship %s -[%s]-> %s", fromID, relType, toID))
	}
	return nil
}

// ListRelationships implements [entity.Store].
func (s *Store) ListRelationships(ctx context.Context, campaignID string, filter entity.RelationshipFilter) ([]entity.Relationship, error) {
	args := []any{campaignID}
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	conditions := []string{"campaign_id = $1"}
	if filter.EntityID != "" {
		p := next(filter.EntityID)
		switch filter.Direction {
		case entity.DirectionOut:
			conditions = append(conditions, "from_id = "+p)
		case entity.DirectionIn:
			conditions = append(conditions, "to_id = "+p)
		default:
			conditions = append(conditions, "(from_id = "+p+" OR to_id = "+p+")")
		}
	}
	if len(filter.Types) > 0 {
		types := make([]string, len(filter.Types))
		for i, t := range filter.Types {
			types[i] = string(t)
		}
		conditions = append(conditions, "rel_type = ANY("+next(types)+"::text[])")
	}

	q := "SELECT " + relationshipColumns + "\nFROM   relationships\nWHERE  " +
		strings.Join(conditions, "\n  AND ") + "\nORDER BY from_id, to_id, rel_type"

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("knowledge graph: list relationships: %w", err)
	}
	rels, err := collectRelationships(rows)
	if err != nil {
		return nil, fmt.Errorf("knowledge graph: list relationships: %w", err)
	}
	return rels, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Communities
// ─────────────────────────────────────────────────────────────────────────────

// ReplaceCommunities implements [entity.Store]. The delete and the inserts
// run in one transaction.
func (s *Store) ReplaceCommunities(ctx context.Context, campaignID string, communities []entity.Community) error {
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM communities WHERE campaign_id = $1`, campaignID); err != nil {
			return err
		}
		if len(communities) == 0 {
			return nil
		}

		const ins = `
			INSERT INTO communities
			    (id, campaign_id, level, member_ids, parent_id, summary, keywords, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, now())`

		batch := &pgx.Batch{}
		for _, c := range communities {
			id := c.ID
			if id == "" {
				var err error
				if id, err = entity.NewID(); err != nil {
					return err
				}
			}
			batch.Queue(ins, id, campaignID, c.Level, nonNil(c.MemberIDs), c.ParentID, c.Summary, nonNil(c.Keywords))
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		return fmt.Errorf("knowledge graph: replace communities: %w", err)
	}
	return nil
}

// ListCommunities implements [entity.Store].
func (s *Store) ListCommunities(ctx context.Context, campaignID string, level *int) ([]entity.Community, error) {
	const q = `
		SELECT id, campaign_id, level, member_ids, parent_id, summary, keywords, created_at
		FROM   communities
		WHERE  campaign_id = $1 AND ($2::int IS NULL OR level = $2)
		ORDER  BY level, id`

	rows, err := s.pool.Query(ctx, q, campaignID, level)
	if err != nil {
		return nil, fmt.Errorf("knowledge graph: list communities: %w", err)
	}
	comms, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (entity.Community, error) {
		var c entity.Community
		err := row.Scan(&c.ID, &c.CampaignID, &c.Level, &c.MemberIDs, &c.ParentID, &c.Summary, &c.Keywords, &c.CreatedAt)
		return c, err
	})
	if err != nil {
		return nil, fmt.Errorf("knowledge graph: list communities: %w", err)
	}
	if comms == nil {
		comms = []entity.Community{}
	}
	return comms, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Private scan helpers
// ─────────────────────────────────────────────────────────────────────────────

// collectEntities scans pgx rows into a slice of Entity values.
func collectEntities(rows pgx.Rows) ([]entity.Entity, error) {
	entities, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (entity.Entity, error) {
		var (
			e      entity.Entity
			typ    string
			mdJSON []byte
		)
		if err := row.Scan(
			&e.ID,
			&e.CampaignID,
			&typ,
			&e.Name,
			&e.Content.Summary,
			&e.Content.Backstory,
			&e.Content.SourceContext,
			&mdJSON,
			&e.EmbeddingID,
			&e.CreatedAt,
			&e.UpdatedAt,
		); err != nil {
			return entity.Entity{}, err
		}
		e.Type = entity.EntityType(typ)
		md, err := unmarshalMetadata(mdJSON)
		if err != nil {
			return entity.Entity{}, fmt.Errorf("unmarshal entity metadata: %w", err)
		}
		e.Metadata = md
		return e, nil
	})
	if err != nil {
		return nil, err
	}
	if entities == nil {
		entities = []entity.Entity{}
	}
	return entities, nil
}

// collectRelationships scans pgx rows into a slice of Relationship values.
func collectRelationships(rows pgx.Rows) ([]entity.Relationship, error) {
	rels, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (entity.Relationship, error) {
		var (
			r      entity.Relationship
			typ    string
			mdJSON []byte
		)
		if err := row.Scan(
			&r.ID,
			&r.CampaignID,
			&r.FromID,
			&r.ToID,
			&typ,
			&r.Strength,
			&mdJSON,
			&r.CreatedAt,
		); err != nil {
			return entity.Relationship{}, err
		}
		r.Type = entity.RelationshipType(typ)
		md, err := unmarshalMetadata(mdJSON)
		if err != nil {
			return entity.Relationship{}, fmt.Errorf("unmarshal relationship metadata: %w", err)
		}
		r.Metadata = md
		return r, nil
	})
	if err != nil {
		return nil, err
	}
	if rels == nil {
		rels = []entity.Relationship{}
	}
	return rels, nil
}

func marshalMetadata(md entity.Metadata) ([]byte, error) {
	if md == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(md)
}

func unmarshalMetadata(data []byte) (entity.Metadata, error) {
	md := entity.Metadata{}
	if len(data) == 0 {
		return md, nil
	}
	if err := json.Unmarshal(data, &md); err != nil {
		return nil, err
	}
	return md, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
