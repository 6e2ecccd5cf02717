// Package embeddings defines the text embedding backend used for semantic
// duplicate detection and checklist coverage scoring.
package embeddings

import (
	"context"
	"errors"
	"fmt"
)

// ErrDimensionMismatch reports a provider whose vectors do not fit the
// vector column or collection they are meant for.
var ErrDimensionMismatch = errors.New("embeddings: dimension mismatch")

// Provider maps text to dense vectors. Every vector from one Provider has
// length Dimensions(). Implementations must be safe for concurrent use.
type Provider interface {
	// Embed returns the vector for text. Text is sent verbatim.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch returns one vector per text, in order. On error no partial
	// result is returned.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions is the fixed vector length.
	Dimensions() int

	// ModelID names the backend model, e.g. "text-embedding-3-small".
	ModelID() string
}

// CheckDimensions returns an error wrapping [ErrDimensionMismatch] when p
// does not produce vectors of length want.
func CheckDimensions(p Provider, want int) error {
	if got := p.Dimensions(); got != want {
		return fmt.Errorf("%w: %s produces %d, want %d", ErrDimensionMismatch, p.ModelID(), got, want)
	}
	return nil
}
