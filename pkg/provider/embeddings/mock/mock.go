// Package mock is a configurable [embeddings.Provider] for tests.
//
// EmbedFunc lets descriptions that should count as duplicates share a vector:
//
//	p := &mock.Provider{
//	    EmbedFunc: func(text string) []float32 {
//	        if strings.Contains(text, "smith") { return []float32{1, 0} }
//	        return []float32{0, 1}
//	    },
//	    DimensionsValue: 2,
//	}
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/questweaver/pkg/provider/embeddings"
)

// Provider returns EmbedFunc(text) when set and EmbedResult otherwise.
type Provider struct {
	EmbedFunc   func(text string) []float32
	EmbedResult []float32

	// EmbedErr fails Embed; EmbedBatchErr fails EmbedBatch.
	EmbedErr      error
	EmbedBatchErr error

	DimensionsValue int
	ModelIDValue    string

	mu         sync.Mutex
	embedCalls int
	batchCalls int
	texts      []string
}

var _ embeddings.Provider = (*Provider)(nil)

func (p *Provider) vector(text string) []float32 {
	if p.EmbedFunc != nil {
		return p.EmbedFunc(text)
	}
	return p.EmbedResult
}

// Embed implements [embeddings.Provider].
func (p *Provider) Embed(_ context.Context, text string) ([]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.embedCalls++
	p.texts = append(p.texts, text)
	if p.EmbedErr != nil {
		return nil, p.EmbedErr
	}
	return p.vector(text), nil
}

// EmbedBatch implements [embeddings.Provider].
func (p *Provider) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.batchCalls++
	p.texts = append(p.texts, texts...)
	if p.EmbedBatchErr != nil {
		return nil, p.EmbedBatchErr
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = p.vector(t)
	}
	return out, nil
}

// Dimensions implements [embeddings.Provider].
func (p *Provider) Dimensions() int { return p.DimensionsValue }

// ModelID implements [embeddings.Provider].
func (p *Provider) ModelID() string { return p.ModelIDValue }

// EmbedCallCount is the number of Embed calls so far.
func (p *Provider) EmbedCallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.embedCalls
}

// BatchCallCount is the number of EmbedBatch calls so far.
func (p *Provider) BatchCallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.batchCalls
}

// Texts returns every text embedded so far, in call order.
func (p *Provider) Texts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.texts...)
}
