package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/MrWong99/questweaver/internal/entity"
)

const campaignColumns = `id, owner_id, name, description, metadata, created_at, updated_at`

// CreateCampaign implements [entity.Store].
func (s *Store) CreateCampaign(ctx context.Context, c entity.Campaign) (entity.Campaign, error) {
	if err := entity.ValidateCampaign(c); err != nil {
		return entity.Campaign{}, err
	}
	if c.ID == "" {
		id, err := entity.NewID()
		if err != nil {
			return entity.Campaign{}, err
		}
		c.ID = id
	}
	mdJSON, err := marshalMetadata(c.Metadata)
	if err != nil {
		return entity.Campaign{}, fmt.Errorf("campaigns: marshal metadata: %w", err)
	}

	q := `
		INSERT INTO campaigns (id, owner_id, name, description, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, now(), now())
		RETURNING ` + campaignColumns

	rows, err := s.pool.Query(ctx, q, c.ID, c.OwnerID, c.Name, c.Description, mdJSON)
	if err != nil {
		return entity.Campaign{}, fmt.Errorf("campaigns: create: %w", err)
	}
	created, err := collectCampaigns(rows)
	if err != nil {
		if isUniqueViolation(err) {
			return entity.Campaign{}, fmt.Errorf("campaigns: create %q: %w", c.ID, entity.ErrConflict)
		}
		return entity.Campaign{}, fmt.Errorf("campaigns: create: %w", err)
	}
	return created[0], nil
}

// GetCampaign implements [entity.Store].
func (s *Store) GetCampaign(ctx context.Context, id string) (*entity.Campaign, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+campaignColumns+` FROM campaigns WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("campaigns: get: %w", err)
	}
	found, err := collectCampaigns(rows)
	if err != nil {
		return nil, fmt.Errorf("campaigns: get: %w", err)
	}
	if len(found) == 0 {
		return nil, nil
	}
	return &found[0], nil
}

// UpdateCampaign implements [entity.Store].
func (s *Store) UpdateCampaign(ctx context.Context, id string, patch entity.CampaignPatch) (entity.Campaign, error) {
	args := []any{id}
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	sets := []string{"updated_at = now()"}
	if patch.Name != nil {
		if strings.TrimSpace(*patch.Name) == "" {
			return entity.Campaign{}, entity.Validationf("name must not be empty")
		}
		sets = append(sets, "name = "+next(*patch.Name))
	}
	if patch.Description != nil {
		sets = append(sets, "description = "+next(*patch.Description))
	}
	if patch.Metadata != nil {
		mdJSON, err := marshalMetadata(patch.Metadata)
		if err != nil {
			return entity.Campaign{}, fmt.Errorf("campaigns: marshal metadata: %w", err)
		}
		sets = append(sets, "metadata = metadata || "+next(mdJSON)+"::jsonb")
	}

	q := fmt.Sprintf(`UPDATE campaigns SET %s WHERE id = $1 RETURNING %s`, strings.Join(sets, ", "), campaignColumns)
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return entity.Campaign{}, fmt.Errorf("campaigns: update: %w", err)
	}
	updated, err := collectCampaigns(rows)
	if err != nil {
		return entity.Campaign{}, fmt.Errorf("campaigns: update: %w", err)
	}
	if len(updated) == 0 {
		return entity.Campaign{}, fmt.Errorf("campaigns: update: %w", entity.NotFoundf("campaign %q", id))
	}
	return updated[0], nil
}

// DeleteCampaign implements [entity.Store]. Entities (and through them,
// relationships) and communities are removed in the same transaction.
func (s *Store) DeleteCampaign(ctx context.Context, id string) error {
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM campaigns WHERE id = $1`, id)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return entity.NotFoundf("campaign %q", id)
		}
		for _, stmt := range []string{
			`DELETE FROM communities WHERE campaign_id = $1`,
			`DELETE FROM relationships WHERE campaign_id = $1`,
			`DELETE FROM entities WHERE campaign_id = $1`,
		} {
			if _, err := tx.Exec(ctx, stmt, id); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("campaigns: delete: %w", err)
	}
	return nil
}

// ListCampaigns implements [entity.Store].
func (s *Store) ListCampaigns(ctx context.Context, ownerID string) ([]entity.Campaign, error) {
	q := `
		SELECT ` + campaignColumns + `
		FROM   campaigns
		WHERE  ($1 = '' OR owner_id = $1)
		ORDER  BY created_at DESC, id`

	rows, err := s.pool.Query(ctx, q, ownerID)
	if err != nil {
		return nil, fmt.Errorf("campaigns: list: %w", err)
	}
	found, err := collectCampaigns(rows)
	if err != nil {
		return nil, fmt.Errorf("campaigns: list: %w", err)
	}
	return found, nil
}

func collectCampaigns(rows pgx.Rows) ([]entity.Campaign, error) {
	found, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (entity.Campaign, error) {
		var (
			c      entity.Campaign
			mdJSON []byte
		)
		if err := row.Scan(&c.ID, &c.OwnerID, &c.Name, &c.Description, &mdJSON, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return entity.Campaign{}, err
		}
		md, err := unmarshalMetadata(mdJSON)
		if err != nil {
			return entity.Campaign{}, fmt.Errorf("unmarshal campaign metadata: %w", err)
		}
		c.Metadata = md
		return c, nil
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		found = []entity.Campaign{}
	}
	return found, nil
}
