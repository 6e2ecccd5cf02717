// Package openai implements [embeddings.Provider] on the OpenAI embeddings
// endpoint or one compatible with it.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/MrWong99/questweaver/pkg/provider/embeddings"
)

// DefaultModel is used when New gets an empty model.
const DefaultModel = oai.EmbeddingModelTextEmbedding3Small

// maxInputs is the endpoint's per-request input limit. Larger batches are
// split.
const maxInputs = 2048

// Provider implements [embeddings.Provider].
type Provider struct {
	client     oai.Client
	model      string
	dimensions int
	batch      int
}

var _ embeddings.Provider = (*Provider)(nil)

// Option configures a Provider.
type Option func(*Provider, *[]option.RequestOption)

// WithBaseURL points the client at an OpenAI-compatible endpoint.
func WithBaseURL(url string) Option {
	return func(_ *Provider, o *[]option.RequestOption) { *o = append(*o, option.WithBaseURL(url)) }
}

// WithOrganization sends the organization header on every request.
func WithOrganization(org string) Option {
	return func(_ *Provider, o *[]option.RequestOption) { *o = append(*o, option.WithOrganization(org)) }
}

// WithTimeout bounds each HTTP request. Zero keeps the client default.
func WithTimeout(d time.Duration) Option {
	return func(_ *Provider, o *[]option.RequestOption) {
		if d > 0 {
			*o = append(*o, option.WithHTTPClient(&http.Client{Timeout: d}))
		}
	}
}

// WithDimensions asks text-embedding-3 models for shortened vectors that fit
// the vector column.
func WithDimensions(dims int) Option {
	return func(p *Provider, _ *[]option.RequestOption) { p.dimensions = dims }
}

// New returns a Provider for model, or [DefaultModel] when model is empty.
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai embeddings: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}
	p := &Provider{model: model, batch: maxInputs}
	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	for _, o := range opts {
		o(p, &reqOpts)
	}
	if p.dimensions < 0 {
		return nil, fmt.Errorf("openai embeddings: dimensions must not be negative, got %d", p.dimensions)
	}
	p.client = oai.NewClient(reqOpts...)
	return p, nil
}

// Embed implements [embeddings.Provider].
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.request(ctx, oai.EmbeddingNewParamsInputUnion{OfString: param.NewOpt(text)}, 1)
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch implements [embeddings.Provider].
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += p.batch {
		chunk := texts[start:min(start+p.batch, len(texts))]
		vecs, err := p.request(ctx, oai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: chunk}, len(chunk))
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

// request embeds n inputs in one call and orders the vectors by their
// reported index.
func (p *Provider) request(ctx context.Context, input oai.EmbeddingNewParamsInputUnion, n int) ([][]float32, error) {
	params := oai.EmbeddingNewParams{Model: p.model, Input: input}
	if p.dimensions > 0 {
		params.Dimensions = param.NewOpt(int64(p.dimensions))
	}
	resp, err := p.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: %s: %w", p.model, err)
	}
	if len(resp.Data) != n {
		return nil, fmt.Errorf("openai embeddings: asked for %d vectors, got %d", n, len(resp.Data))
	}
	out := make([][]float32, n)
	for _, d := range resp.Data {
		i := int(d.Index)
		if i < 0 || i >= n || out[i] != nil {
			return nil, fmt.Errorf("openai embeddings: bad vector index %d", d.Index)
		}
		vec := make([]float32, len(d.Embedding))
		for j, v := range d.Embedding {
			vec[j] = float32(v)
		}
		out[i] = vec
	}
	return out, nil
}

// Dimensions implements [embeddings.Provider].
func (p *Provider) Dimensions() int {
	switch {
	case p.dimensions > 0:
		return p.dimensions
	case strings.Contains(strings.ToLower(p.model), "text-embedding-3-large"):
		return 3072
	}
	return 1536
}

// ModelID implements [embeddings.Provider].
func (p *Provider) ModelID() string { return p.model }
