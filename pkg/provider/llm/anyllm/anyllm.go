// Package anyllm serves [llm.Provider] from any backend supported by
// github.com/mozilla-ai/any-llm-go: Anthropic, Gemini, Ollama, DeepSeek,
// Mistral, Groq, llama.cpp, llamafile and OpenAI.
//
// These backends do not share a way to enforce a JSON schema, so a
// structured request carries its schema in the system prompt and runs at
// temperature zero unless the caller chose one. Replies are repaired and
// validated by [llm.GenerateStructured].
package anyllm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/llamafile"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/MrWong99/questweaver/pkg/provider/llm"
)

// Backends lists the backend names accepted by [New], in registration order.
var Backends = []string{"anthropic", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile", "ollama", "openai"}

var constructors = map[string]func(...anyllmlib.Option) (anyllmlib.Provider, error){
	"anthropic": func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return anthropic.New(o...) },
	"gemini":    func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return gemini.New(o...) },
	"deepseek":  func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return deepseek.New(o...) },
	"mistral":   func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return mistral.New(o...) },
	"groq":      func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return groq.New(o...) },
	"llamacpp":  func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return llamacpp.New(o...) },
	"llamafile": func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return llamafile.New(o...) },
	"ollama":    func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return ollama.New(o...) },
	"openai":    func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return anyllmoai.New(o...) },
}

// Provider implements [llm.Provider] over an any-llm-go backend.
type Provider struct {
	backend anyllmlib.Provider
	name    string
	model   string
}

var _ llm.Provider = (*Provider)(nil)

// New creates a Provider for backend (one of [Backends]) and model. Without
// an API key option the backend reads its usual environment variable, such
// as ANTHROPIC_API_KEY.
func New(backend, model string, opts ...anyllmlib.Option) (*Provider, error) {
	if model == "" {
		return nil, errors.New("anyllm: model must not be empty")
	}
	name := strings.ToLower(backend)
	ctor, ok := constructors[name]
	if !ok {
		return nil, fmt.Errorf("anyllm: unsupported backend %q; supported: %s", backend, strings.Join(Backends, ", "))
	}
	b, err := ctor(opts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: create %s backend: %w", name, err)
	}
	return &Provider{backend: b, name: name, model: model}, nil
}

// Complete implements [llm.Provider].
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	resp, err := p.backend.Completion(ctx, p.buildParams(req))
	if err != nil {
		return nil, fmt.Errorf("anyllm: %s completion: %w", p.name, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("anyllm: %s returned no choices", p.name)
	}

	choice := resp.Choices[0]
	out := &llm.CompletionResponse{
		Content:      choice.Message.ContentString(),
		FinishReason: choice.FinishReason,
	}
	if resp.Usage != nil {
		out.Usage = llm.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}
	}
	return out, nil
}

// Capabilities implements [llm.Provider]. Schemas are never enforced
// natively through this package.
func (p *Provider) Capabilities() llm.ModelCapabilities {
	return modelCapabilities(p.model)
}

func (p *Provider) buildParams(req llm.CompletionRequest) anyllmlib.CompletionParams {
	system := req.SystemPrompt
	if req.ResponseSchema != nil {
		system = strings.TrimSpace(system + "\n\n" + llm.SchemaInstruction(req.ResponseSchema))
	}

	messages := make([]anyllmlib.Message, 0, len(req.Messages)+1)
	if system != "" {
		messages = append(messages, anyllmlib.Message{Role: anyllmlib.RoleSystem, Content: system})
	}
	for _, m := range req.Messages {
		messages = append(messages, anyllmlib.Message{Role: m.Role, Content: m.Content})
	}

	params := anyllmlib.CompletionParams{Model: p.model, Messages: messages}
	switch {
	case req.Temperature != 0:
		t := req.Temperature
		params.Temperature = &t
	case req.ResponseSchema != nil:
		t := 0.0
		params.Temperature = &t
	}
	if req.MaxTokens > 0 {
		mt := req.MaxTokens
		params.MaxTokens = &mt
	}
	return params
}

// family is one row of the capability table. The first row whose marker
// occurs in the lowercased model name wins.
type family struct {
	marker        string
	prefix        bool
	contextWindow int
	maxOutput     int
}

var families = []family{
	{marker: "gpt-4o", prefix: true, contextWindow: 128_000, maxOutput: 16_384},
	{marker: "gpt-4.1", prefix: true, contextWindow: 1_047_576, maxOutput: 32_768},
	{marker: "gpt-3.5", prefix: true, contextWindow: 16_385, maxOutput: 4_096},
	{marker: "o1", prefix: true, contextWindow: 200_000, maxOutput: 100_000},
	{marker: "o3", prefix: true, contextWindow: 200_000, maxOutput: 100_000},
	{marker: "o4", prefix: true, contextWindow: 200_000, maxOutput: 100_000},
	{marker: "claude-3-opus", contextWindow: 200_000, maxOutput: 4_096},
	{marker: "claude", contextWindow: 200_000, maxOutput: 8_192},
	{marker: "gemini-1.5-pro", contextWindow: 2_097_152, maxOutput: 8_192},
	{marker: "gemini", contextWindow: 1_048_576, maxOutput: 8_192},
	{marker: "deepseek", contextWindow: 64_000, maxOutput: 8_192},
	{marker: "llama", contextWindow: 32_768, maxOutput: 4_096},
	{marker: "mistral", contextWindow: 32_768, maxOutput: 4_096},
	{marker: "qwen", contextWindow: 32_768, maxOutput: 4_096},
}

// modelCapabilities looks model up in the family table. Unknown models get
// conservative defaults.
func modelCapabilities(model string) llm.ModelCapabilities {
	lower := strings.ToLower(model)
	for _, f := range families {
		if (f.prefix && strings.HasPrefix(lower, f.marker)) || (!f.prefix && strings.Contains(lower, f.marker)) {
			return llm.ModelCapabilities{ContextWindow: f.contextWindow, MaxOutputTokens: f.maxOutput}
		}
	}
	return llm.ModelCapabilities{ContextWindow: 128_000, MaxOutputTokens: 4_096}
}
