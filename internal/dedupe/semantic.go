package dedupe

import (
	"context"
	"time"

	"github.com/MrWong99/questweaver/internal/entity"
	"github.com/MrWong99/questweaver/pkg/memory"
	"github.com/MrWong99/questweaver/pkg/provider/embeddings"
)

const (
	// DefaultSimilarityThreshold is the minimum cosine similarity for a
	// semantic duplicate.
	DefaultSimilarityThreshold = 0.85

	defaultSemanticTimeout = 5 * time.Second
	defaultSemanticTopK    = 5
)

// SemanticOption configures a [SemanticMatcher].
type SemanticOption func(*SemanticMatcher)

// WithSimilarityThreshold sets the minimum cosine similarity. Default: 0.85.
func WithSimilarityThreshold(threshold float64) SemanticOption {
	return func(m *SemanticMatcher) {
		if threshold > 0 {
			m.threshold.Store(threshold)
		}
	}
}

// WithSemanticTimeout bounds each embeddings and index call. Default: 5s.
func WithSemanticTimeout(d time.Duration) SemanticOption {
	return func(m *SemanticMatcher) {
		if d > 0 {
			m.timeout = d
		}
	}
}

var _ Matcher = (*SemanticMatcher)(nil)

// SemanticMatcher matches candidates by embedding similarity against the
// entities namespace of a [memory.VectorIndex].
type SemanticMatcher struct {
	store    entity.Store
	index    memory.VectorIndex
	embedder embeddings.Provider

	threshold tunable
	timeout   time.Duration
	topK      int
}

// NewSemanticMatcher returns a [SemanticMatcher].
func NewSemanticMatcher(store entity.Store, index memory.VectorIndex, embedder embeddings.Provider, opts ...SemanticOption) *SemanticMatcher {
	m := &SemanticMatcher{
		store:    store,
		index:    index,
		embedder: embedder,
		timeout:  defaultSemanticTimeout,
		topK:     defaultSemanticTopK,
	}
	m.threshold.Store(DefaultSimilarityThreshold)
	for _, o := range opts {
		o(m)
	}
	return m
}

// SetThreshold changes the similarity threshold for subsequent matches.
// Values outside (0, 1] are ignored.
func (m *SemanticMatcher) SetThreshold(t float64) {
	if t > 0 && t <= 1 {
		m.threshold.Store(t)
	}
}

// Name implements [Matcher].
func (m *SemanticMatcher) Name() string { return string(MethodSemantic) }

// Match implements [Matcher].
func (m *SemanticMatcher) Match(ctx context.Context, c Candidate) (Match, bool, error) {
	emb := c.Embedding
	if len(emb) == 0 {
		ectx, cancel := context.WithTimeout(ctx, m.timeout)
		v, err := m.embedder.Embed(ectx, c.Text())
		cancel()
		if err != nil {
			return Match{}, false, entity.Dependency("embed candidate", err)
		}
		emb = v
	}
	miss := Match{Embedding: emb}

	qctx, cancel := context.WithTimeout(ctx, m.timeout)
	hits, err := m.index.Query(qctx, emb, memory.CampaignFilter(memory.NamespaceEntities, c.CampaignID, string(c.Type)), m.topK)
	cancel()
	if err != nil {
		return miss, false, entity.Dependency("query entity vectors", err)
	}

	threshold := m.threshold.Load()
	for _, h := range hits {
		if h.Score < threshold {
			break
		}
		id := h.Metadata[memory.KeyEntityID]
		if id == "" {
			id = h.ID
		}
		// The index may lag behind the store; trust only live entities.
		e, err := m.store.GetEntity(ctx, id)
		if err != nil {
			return miss, false, entity.Dependency("semantic re-check", err)
		}
		if !sameScope(e, c) {
			continue
		}
		return Match{EntityID: e.ID, Method: MethodSemantic, Score: h.Score, Embedding: emb}, true, nil
	}
	miss.Conclusive = true
	return miss, false, nil
}
