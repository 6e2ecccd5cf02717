package entity

import (
	"errors"
	"fmt"
	"strings"
)

// ValidateEntity checks an [Entity] for required fields and valid types.
//
// Rules:
//   - CampaignID must be non-empty.
//   - Name must be non-empty.
//   - Type must be a recognised [EntityType].
func ValidateEntity(e Entity) error {
	var errs []error

	if e.CampaignID == "" {
		errs = append(errs, errors.New("campaign id must not be empty"))
	}
	if strings.TrimSpace(e.Name) == "" {
		errs = append(errs, errors.New("name must not be empty"))
	}
	if !e.Type.IsValid() {
		errs = append(errs, fmt.Errorf("type %q is not a recognised entity type", e.Type))
	}
	return joinValidation(errs)
}

// ValidateRelationship checks a [Relationship] before it is stored.
//
// Rules:
//   - CampaignID, FromID and ToID must be non-empty.
//   - Type must be in the vocabulary.
//   - Strength must lie in [0,1].
func ValidateRelationship(r Relationship) error {
	var errs []error

	if r.CampaignID == "" {
		errs = append(errs, errors.New("campaign id must not be empty"))
	}
	if r.FromID == "" || r.ToID == "" {
		errs = append(errs, errors.New("both endpoint ids must be set"))
	}
	if !r.Type.IsValid() {
		errs = append(errs, fmt.Errorf("relationship type %q is not recognised", r.Type))
	}
	if r.Strength < 0 || r.Strength > 1 {
		errs = append(errs, fmt.Errorf("strength %v outside [0,1]", r.Strength))
	}
	return joinValidation(errs)
}

// ValidateCampaign checks a [Campaign] for required fields.
func ValidateCampaign(c Campaign) error {
	var errs []error

	if strings.TrimSpace(c.Name) == "" {
		errs = append(errs, errors.New("name must not be empty"))
	}
	if c.OwnerID == "" {
		errs = append(errs, errors.New("owner user id must not be empty"))
	}
	return joinValidation(errs)
}

// ValidateDefinition checks an [EntityDefinition] from an import file.
func ValidateDefinition(def EntityDefinition) error {
	var errs []error

	if strings.TrimSpace(def.Name) == "" {
		errs = append(errs, errors.New("name must not be empty"))
	}
	if _, err := ParseEntityType(string(def.Type)); err != nil {
		errs = append(errs, fmt.Errorf("type %q is not a recognised entity type", def.Type))
	}
	for i, rel := range def.Relationships {
		if rel.Type == "" {
			errs = append(errs, fmt.Errorf("relationship[%d]: type must not be empty", i))
		}
		if rel.TargetID == "" && rel.TargetName == "" {
			errs = append(errs, fmt.Errorf("relationship[%d]: target_id or target_name required", i))
		}
	}
	return joinValidation(errs)
}

func joinValidation(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrValidation, errors.Join(errs...))
}
