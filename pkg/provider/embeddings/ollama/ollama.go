// Package ollama provides an embeddings provider backed by an Ollama server,
// using the official github.com/ollama/ollama/api client.
//
//	p, err := ollama.New("", "nomic-embed-text") // http://localhost:11434
//	vec, err := p.Embed(ctx, "Grimjaw, dwarf blacksmith of Emberfall")
package ollama

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/ollama/ollama/api"
	"golang.org/x/sync/semaphore"

	"github.com/MrWong99/questweaver/pkg/provider/embeddings"
)

// DefaultBaseURL is the default base URL for a locally running Ollama instance.
const DefaultBaseURL = "http://localhost:11434"

var _ embeddings.Provider = (*Provider)(nil)

// Provider implements embeddings.Provider using an Ollama server.
//
// Dimensions resolve from WithDimensions, then a table of well-known models,
// then a one-off probe request whose result is cached.
type Provider struct {
	client *api.Client
	model  string
	sem    *semaphore.Weighted

	mu         sync.Mutex
	dimensions int
}

type config struct {
	timeout     time.Duration
	dimensions  int
	apiKey      string
	maxInFlight int64
}

// Option is a functional option for Provider.
type Option func(*config)

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithDimensions pre-sets the embedding dimension and skips the probe request.
func WithDimensions(dims int) Option {
	return func(c *config) { c.dimensions = dims }
}

// WithAPIKey sends a bearer token, for Ollama instances behind an auth proxy.
func WithAPIKey(key string) Option {
	return func(c *config) { c.apiKey = key }
}

// WithMaxInFlight caps concurrent embed requests against the server.
func WithMaxInFlight(n int64) Option {
	return func(c *config) { c.maxInFlight = n }
}

// New constructs a new Ollama Provider. An empty baseURL selects DefaultBaseURL.
func New(baseURL string, model string, opts ...Option) (*Provider, error) {
	if model == "" {
		return nil, fmt.Errorf("ollama embeddings: model must not be empty")
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("ollama embeddings: parse base url: %w", err)
	}

	cfg := &config{maxInFlight: 4}
	for _, o := range opts {
		o(cfg)
	}
	if cfg.maxInFlight <= 0 {
		cfg.maxInFlight = 1
	}

	httpClient := &http.Client{Timeout: cfg.timeout}
	if cfg.apiKey != "" {
		httpClient.Transport = &bearerTransport{token: cfg.apiKey, rt: http.DefaultTransport}
	}

	dims := cfg.dimensions
	if dims == 0 {
		dims = knownDimensions(model)
	}
	return &Provider{
		client:     api.NewClient(u, httpClient),
		model:      model,
		sem:        semaphore.NewWeighted(cfg.maxInFlight),
		dimensions: dims,
	}, nil
}

// Embed implements embeddings.Provider.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.callEmbed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("ollama embeddings: embed: %w", err)
	}
	return vecs[0], nil
}

// EmbedBatch implements embeddings.Provider with a single /api/embed call.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	vecs, err := p.callEmbed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("ollama embeddings: embed batch: %w", err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("ollama embeddings: embed batch: expected %d embeddings, got %d", len(texts), len(vecs))
	}
	return vecs, nil
}

// Dimensions implements embeddings.Provider. Returns 0 when the probe fails.
func (p *Provider) Dimensions() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.dimensions != 0 {
		return p.dimensions
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	vecs, err := p.callEmbed(ctx, "probe")
	if err == nil {
		p.dimensions = len(vecs[0])
	}
	return p.dimensions
}

// ModelID implements embeddings.Provider.
func (p *Provider) ModelID() string {
	return p.model
}

// callEmbed accepts a string or []string as input.
func (p *Provider) callEmbed(ctx context.Context, input any) ([][]float32, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer p.sem.Release(1)

	resp, err := p.client.Embed(ctx, &api.EmbedRequest{Model: p.model, Input: input})
	if err != nil {
		return nil, err
	}
	if len(resp.Embeddings) == 0 {
		return nil, fmt.Errorf("empty embeddings in response")
	}
	return resp.Embeddings, nil
}

type bearerTransport struct {
	token string
	rt    http.RoundTripper
}

func (t *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	if r.Header.Get("Authorization") == "" {
		r.Header.Set("Authorization", "Bearer "+t.token)
	}
	return t.rt.RoundTrip(r)
}

// knownDimensions returns the output dimension of well-known Ollama embedding
// models, or 0 to trigger probing.
func knownDimensions(model string) int {
	lower := strings.ToLower(model)
	switch {
	case strings.Contains(lower, "nomic-embed-text"):
		return 768
	case strings.Contains(lower, "mxbai-embed-large"), strings.Contains(lower, "bge-large"):
		return 1024
	case strings.Contains(lower, "all-minilm"):
		return 384
	case strings.Contains(lower, "snowflake-arctic-embed"):
		return 1024
	default:
		return 0
	}
}
