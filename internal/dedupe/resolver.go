package dedupe

import (
	"context"
	"log/slog"
	"time"

	"github.com/MrWong99/questweaver/internal/entity"
	"github.com/MrWong99/questweaver/internal/observe"
	"github.com/MrWong99/questweaver/pkg/memory"
	"github.com/MrWong99/questweaver/pkg/provider/embeddings"
)

// Resolution is the outcome of [Resolver.Resolve].
type Resolution struct {
	// EntityID is the matched entity, empty on a miss.
	EntityID string
	Matched  bool
	Method   Method
	Score    float64

	// Embedding is the candidate's vector when any matcher computed one.
	Embedding []float32

	// Degraded names the matchers that failed and were skipped.
	Degraded []string
}

// Option configures a [Resolver].
type Option func(*Resolver)

// WithMetrics records resolutions and degradations on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(r *Resolver) { r.metrics = m }
}

// Resolver folds an ordered list of matchers into one [Resolution]; the first
// hit or conclusive miss wins. Safe for concurrent use when its matchers are.
type Resolver struct {
	matchers []Matcher
	metrics  *observe.Metrics
}

// NewResolver returns a resolver running matchers in order.
func NewResolver(matchers []Matcher, opts ...Option) *Resolver {
	r := &Resolver{matchers: matchers}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Config holds the tunables of the standard matcher chain.
type Config struct {
	// SimilarityThreshold defaults to [DefaultSimilarityThreshold].
	SimilarityThreshold float64

	// FuzzyThreshold defaults to 0.95.
	FuzzyThreshold float64

	// Timeout bounds each embeddings or vector index call. Default: 5s.
	Timeout time.Duration

	// PhoneticThreshold enables the [PhoneticMatcher] when positive.
	PhoneticThreshold float64
}

// NewStandard builds the exact ID, semantic and lexical chain, followed by
// the phonetic matcher when cfg enables it. When embedder or index is nil the
// semantic matcher is left out and name matching decides alone; otherwise
// the name matchers only run when the semantic matcher fails.
func NewStandard(store entity.Store, index memory.VectorIndex, embedder embeddings.Provider, cfg Config, opts ...Option) *Resolver {
	matchers := []Matcher{NewExactIDMatcher(store)}
	if index != nil && embedder != nil {
		matchers = append(matchers, NewSemanticMatcher(store, index, embedder,
			WithSimilarityThreshold(cfg.SimilarityThreshold),
			WithSemanticTimeout(cfg.Timeout),
		))
	}
	matchers = append(matchers, NewLexicalMatcher(store, WithFuzzyThreshold(cfg.FuzzyThreshold)))
	if cfg.PhoneticThreshold > 0 {
		matchers = append(matchers, NewPhoneticMatcher(store, cfg.PhoneticThreshold))
	}
	return NewResolver(matchers, opts...)
}

// SetPhoneticThreshold retunes the phonetic matcher, if the chain has one.
func (r *Resolver) SetPhoneticThreshold(t float64) {
	for _, m := range r.matchers {
		if m, ok := m.(*PhoneticMatcher); ok {
			m.SetThreshold(t)
		}
	}
}

// SetThresholds retunes the semantic and lexical matchers of the chain.
// Zero leaves the corresponding threshold unchanged.
func (r *Resolver) SetThresholds(similarity, fuzzy float64) {
	for _, m := range r.matchers {
		switch m := m.(type) {
		case *SemanticMatcher:
			if similarity > 0 {
				m.SetThreshold(similarity)
			}
		case *LexicalMatcher:
			if fuzzy > 0 {
				m.SetThreshold(fuzzy)
			}
		}
	}
}

// Resolve returns the existing entity c duplicates, if any. Only an invalid
// candidate or a cancelled context is an error; matcher failures are
// reported in [Resolution.Degraded].
func (r *Resolver) Resolve(ctx context.Context, c Candidate) (Resolution, error) {
	if err := c.validate(); err != nil {
		return Resolution{}, err
	}
	res := Resolution{Method: MethodNone, Embedding: c.Embedding}

	for _, m := range r.matchers {
		if err := ctx.Err(); err != nil {
			return Resolution{}, err
		}
		hit, ok, err := m.Match(ctx, c)
		if len(res.Embedding) == 0 && len(hit.Embedding) > 0 {
			res.Embedding = hit.Embedding
		}
		if err != nil {
			observe.Logger(ctx).Warn("dedupe: matcher unavailable, skipping",
				slog.String("matcher", m.Name()),
				slog.String("campaign_id", c.CampaignID),
				slog.Any("err", err),
			)
			res.Degraded = append(res.Degraded, m.Name())
			if r.metrics != nil {
				r.metrics.RecordDegradation(ctx, "dedupe", m.Name())
			}
			continue
		}
		if ok {
			res.EntityID = hit.EntityID
			res.Matched = true
			res.Method = hit.Method
			res.Score = hit.Score
			break
		}
		if hit.Conclusive {
			break
		}
	}

	if r.metrics != nil {
		r.metrics.RecordDedupe(ctx, string(res.Method))
	}
	observe.Logger(ctx).Debug("dedupe: resolved",
		slog.String("name", c.Name),
		slog.String("method", string(res.Method)),
		slog.String("entity_id", res.EntityID),
	)
	return res, nil
}
