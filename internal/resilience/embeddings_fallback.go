package resilience

import (
	"context"

	"github.com/MrWong99/questweaver/pkg/provider/embeddings"
)

// EmbeddingsFallback implements [embeddings.Provider] over a [FallbackGroup].
//
// Vectors from different models are not comparable, so every fallback must
// produce the primary's dimensionality and should embed into the same space
// (typically the same model behind another endpoint). [EmbeddingsFallback.AddFallback]
// rejects a dimension mismatch.
type EmbeddingsFallback struct {
	group *FallbackGroup[embeddings.Provider]
}

var _ embeddings.Provider = (*EmbeddingsFallback)(nil)

// NewEmbeddingsFallback creates an [EmbeddingsFallback] with primary as the
// preferred backend.
func NewEmbeddingsFallback(primary embeddings.Provider, primaryName string, cfg FallbackConfig) *EmbeddingsFallback {
	return &EmbeddingsFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers provider as a fallback. It returns false and skips the
// provider when its dimensions differ from the primary's.
func (f *EmbeddingsFallback) AddFallback(name string, provider embeddings.Provider) bool {
	if embeddings.CheckDimensions(provider, f.Dimensions()) != nil {
		return false
	}
	f.group.AddFallback(name, provider)
	return true
}

// Embed embeds text with the first healthy provider.
func (f *EmbeddingsFallback) Embed(ctx context.Context, text string) ([]float32, error) {
	return executeCtx(ctx, f.group, kindEmbeddings, func(p embeddings.Provider) ([]float32, error) {
		return p.Embed(ctx, text)
	})
}

// EmbedBatch embeds texts with the first healthy provider. The whole batch
// moves to the next provider on failure.
func (f *EmbeddingsFallback) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return executeCtx(ctx, f.group, kindEmbeddings, func(p embeddings.Provider) ([][]float32, error) {
		return p.EmbedBatch(ctx, texts)
	})
}

// Dimensions returns the primary's vector size.
func (f *EmbeddingsFallback) Dimensions() int {
	return f.group.entries[0].value.Dimensions()
}

// ModelID returns the primary's model identifier.
func (f *EmbeddingsFallback) ModelID() string {
	return f.group.entries[0].value.ModelID()
}
