package readiness

import (
	"context"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/MrWong99/questweaver/internal/entity"
	"github.com/MrWong99/questweaver/pkg/memory"
	"github.com/MrWong99/questweaver/pkg/provider/embeddings"
)

// DefaultCoverageThreshold is the minimum similarity between an item
// description and a planning note for the item to count as covered.
const DefaultCoverageThreshold = 0.6

const defaultSemanticTimeout = 10 * time.Second

// SemanticCoverage covers items whose description is close to an indexed
// planning note of the campaign.
type SemanticCoverage struct {
	index     memory.VectorIndex
	embedder  embeddings.Provider
	threshold atomic.Uint64 // float64 bits
	timeout   time.Duration
}

// SemanticOption configures a [SemanticCoverage].
type SemanticOption func(*SemanticCoverage)

// WithCoverageThreshold overrides [DefaultCoverageThreshold].
func WithCoverageThreshold(t float64) SemanticOption {
	return func(s *SemanticCoverage) {
		if t > 0 && t <= 1 {
			s.threshold.Store(math.Float64bits(t))
		}
	}
}

// WithSemanticTimeout bounds the embedding call and the queries together.
func WithSemanticTimeout(d time.Duration) SemanticOption {
	return func(s *SemanticCoverage) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// NewSemanticCoverage returns the semantic provider.
func NewSemanticCoverage(index memory.VectorIndex, embedder embeddings.Provider, opts ...SemanticOption) *SemanticCoverage {
	s := &SemanticCoverage{
		index:    index,
		embedder: embedder,
		timeout:  defaultSemanticTimeout,
	}
	s.threshold.Store(math.Float64bits(DefaultCoverageThreshold))
	for _, o := range opts {
		o(s)
	}
	return s
}

// SetThreshold changes the coverage threshold for subsequent analyses.
// Values outside (0, 1] are ignored.
func (s *SemanticCoverage) SetThreshold(t float64) {
	if t > 0 && t <= 1 {
		s.threshold.Store(math.Float64bits(t))
	}
}

// Name implements [Provider].
func (s *SemanticCoverage) Name() string { return "semantic" }

// Signal implements [Provider].
func (s *SemanticCoverage) Signal(ctx context.Context, in Input) (Signal, error) {
	var sig Signal
	if len(in.Items) == 0 {
		return sig, nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	texts := make([]string, len(in.Items))
	for i, it := range in.Items {
		texts[i] = it.Description
	}
	vecs, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return sig, entity.Dependency("embed checklist", err)
	}
	if len(vecs) != len(in.Items) {
		return sig, entity.Dependency("embed checklist", fmt.Errorf("got %d vectors for %d items", len(vecs), len(in.Items)))
	}

	threshold := math.Float64frombits(s.threshold.Load())
	filter := memory.CampaignFilter(memory.NamespacePlanning, in.Campaign.ID, "")
	for i, it := range in.Items {
		hits, err := s.index.Query(ctx, vecs[i], filter, 1)
		if err != nil {
			return Signal{}, entity.Dependency("query planning notes", err)
		}
		if len(hits) > 0 && hits[0].Score >= threshold {
			sig.cover(it.Key)
		}
	}
	return sig, nil
}
