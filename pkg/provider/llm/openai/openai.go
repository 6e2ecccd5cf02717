// Package openai implements [llm.Provider] on the OpenAI chat completions
// API or any endpoint compatible with it. Models that support json_schema
// response formats get the schema enforced server side; older ones get it in
// the system prompt with json_object mode.
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
	"github.com/openai/openai-go/shared"

	"github.com/MrWong99/questweaver/pkg/provider/llm"
)

// ErrRefused is returned when the model declines to answer.
var ErrRefused = errors.New("openai: model refused")

// Provider implements [llm.Provider].
type Provider struct {
	client oai.Client
	model  string
	caps   llm.ModelCapabilities
}

var _ llm.Provider = (*Provider)(nil)

// Option adds a request option to the underlying client.
type Option func(*[]option.RequestOption)

// WithBaseURL points the client at an OpenAI-compatible endpoint.
func WithBaseURL(url string) Option {
	return func(o *[]option.RequestOption) { *o = append(*o, option.WithBaseURL(url)) }
}

// WithOrganization sends the organization header on every request.
func WithOrganization(org string) Option {
	return func(o *[]option.RequestOption) { *o = append(*o, option.WithOrganization(org)) }
}

// WithTimeout bounds each HTTP request. Zero keeps the client default.
func WithTimeout(d time.Duration) Option {
	return func(o *[]option.RequestOption) {
		if d > 0 {
			*o = append(*o, option.WithHTTPClient(&http.Client{Timeout: d}))
		}
	}
}

// New returns a Provider for model.
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	switch {
	case apiKey == "":
		return nil, errors.New("openai: apiKey must not be empty")
	case model == "":
		return nil, errors.New("openai: model must not be empty")
	}
	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	for _, o := range opts {
		o(&reqOpts)
	}
	return &Provider{
		client: oai.NewClient(reqOpts...),
		model:  model,
		caps:   modelCapabilities(model),
	}, nil
}

// Complete implements [llm.Provider].
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai: chat completion with %s: %w", p.model, err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("openai: response has no choices")
	}
	msg := resp.Choices[0].Message
	if msg.Refusal != "" {
		return nil, fmt.Errorf("%w: %s", ErrRefused, msg.Refusal)
	}
	return &llm.CompletionResponse{
		Content:      msg.Content,
		FinishReason: resp.Choices[0].FinishReason,
		Usage: llm.Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
	}, nil
}

// Capabilities implements [llm.Provider].
func (p *Provider) Capabilities() llm.ModelCapabilities { return p.caps }

// modelFamily overrides the defaults for model names with prefix. Rows are
// matched in order, so longer prefixes come first.
type modelFamily struct {
	prefix        string
	contextWindow int
	maxOutput     int
	prompted      bool
}

var modelFamilies = []modelFamily{
	{prefix: "gpt-4.1", contextWindow: 1_047_576, maxOutput: 32_768},
	{prefix: "gpt-4o", maxOutput: 16_384},
	{prefix: "gpt-4-turbo", prompted: true},
	{prefix: "gpt-4", contextWindow: 8_192, prompted: true},
	{prefix: "gpt-3.5-turbo", contextWindow: 16_385, prompted: true},
	{prefix: "o1-mini", maxOutput: 65_536, prompted: true},
	{prefix: "o1", contextWindow: 200_000, maxOutput: 100_000},
	{prefix: "o3", contextWindow: 200_000, maxOutput: 100_000},
	{prefix: "o4", contextWindow: 200_000, maxOutput: 100_000},
}

func modelCapabilities(model string) llm.ModelCapabilities {
	caps := llm.ModelCapabilities{ContextWindow: 128_000, MaxOutputTokens: 4_096, SupportsStructuredOutput: true}
	lower := strings.ToLower(model)
	for _, f := range modelFamilies {
		if !strings.HasPrefix(lower, f.prefix) {
			continue
		}
		if f.contextWindow > 0 {
			caps.ContextWindow = f.contextWindow
		}
		if f.maxOutput > 0 {
			caps.MaxOutputTokens = f.maxOutput
		}
		caps.SupportsStructuredOutput = !f.prompted
		break
	}
	return caps
}

func (p *Provider) buildParams(req llm.CompletionRequest) (oai.ChatCompletionNewParams, error) {
	native := p.caps.SupportsStructuredOutput

	system := req.SystemPrompt
	if req.ResponseSchema != nil && !native {
		system = strings.TrimSpace(system + "\n\n" + llm.SchemaInstruction(req.ResponseSchema))
	}
	messages := make([]oai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if system != "" {
		messages = append(messages, oai.SystemMessage(system))
	}
	for _, m := range req.Messages {
		msg, err := convertMessage(m)
		if err != nil {
			return oai.ChatCompletionNewParams{}, err
		}
		messages = append(messages, msg)
	}

	params := oai.ChatCompletionNewParams{Model: shared.ChatModel(p.model), Messages: messages}
	if req.Temperature != 0 {
		params.Temperature = param.NewOpt(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(req.MaxTokens))
	}
	if req.ResponseSchema != nil {
		params.ResponseFormat = responseFormat(req.ResponseSchema, native)
	}
	return params, nil
}

// responseFormat requests json_schema output when the model enforces schemas
// and plain json_object output otherwise.
func responseFormat(rs *llm.ResponseSchema, native bool) oai.ChatCompletionNewParamsResponseFormatUnion {
	if !native {
		return oai.ChatCompletionNewParamsResponseFormatUnion{OfJSONObject: &shared.ResponseFormatJSONObjectParam{}}
	}
	js := oai.ResponseFormatJSONSchemaJSONSchemaParam{Name: rs.Name, Schema: rs.Schema}
	if rs.Description != "" {
		js.Description = oai.String(rs.Description)
	}
	if rs.Strict {
		js.Strict = oai.Bool(true)
	}
	return oai.ChatCompletionNewParamsResponseFormatUnion{
		OfJSONSchema: &oai.ResponseFormatJSONSchemaParam{JSONSchema: js},
	}
}

func convertMessage(m llm.Message) (oai.ChatCompletionMessageParamUnion, error) {
	switch m.Role {
	case llm.RoleSystem:
		return oai.SystemMessage(m.Content), nil
	case llm.RoleUser:
		return oai.UserMessage(m.Content), nil
	case llm.RoleAssistant:
		return oai.AssistantMessage(m.Content), nil
	}
	return oai.ChatCompletionMessageParamUnion{}, fmt.Errorf("openai: unknown message role %q", m.Role)
}
