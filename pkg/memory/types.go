package memory

import (
	"errors"
	"math"
)

// Namespace partitions the vector index.
type Namespace string

const (
	// NamespaceEntities holds one vector per knowledge-graph entity.
	NamespaceEntities Namespace = "entities"

	// NamespacePlanning holds planning notes and campaign descriptions.
	NamespacePlanning Namespace = "planning"
)

// Well-known metadata keys.
const (
	KeyCampaignID = "campaign_id"
	KeyEntityType = "entity_type"
	KeyEntityID   = "entity_id"
	KeySource     = "source"
)

// ErrEmptyFilter is returned by DeleteWhere when no metadata condition is set.
var ErrEmptyFilter = errors.New("memory: delete filter must not be empty")

// Vector is one embedded record.
type Vector struct {
	// ID is unique within the namespace.
	ID string

	// Namespace selects the partition the vector lives in.
	Namespace Namespace

	// Embedding is the vector representation. Its dimension must match the
	// index configuration.
	Embedding []float32

	// Metadata holds filterable string attributes.
	Metadata map[string]string
}

// Filter narrows a query or bulk delete.
type Filter struct {
	// Namespace is required.
	Namespace Namespace

	// Match holds metadata equality conditions, applied as AND.
	Match map[string]string
}

// Matches reports whether metadata satisfies every condition in f.Match.
func (f Filter) Matches(metadata map[string]string) bool {
	for k, want := range f.Match {
		if metadata[k] != want {
			return false
		}
	}
	return true
}

// Hit is one query result.
type Hit struct {
	ID       string
	Score    float64
	Metadata map[string]string
}

// CampaignFilter returns a filter for ns restricted to one campaign and,
// when entityType is non-empty, one entity type.
func CampaignFilter(ns Namespace, campaignID, entityType string) Filter {
	match := map[string]string{KeyCampaignID: campaignID}
	if entityType != "" {
		match[KeyEntityType] = entityType
	}
	return Filter{Namespace: ns, Match: match}
}

// CosineSimilarity returns the cosine of the angle between a and b.
// Mismatched lengths or zero vectors yield 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
