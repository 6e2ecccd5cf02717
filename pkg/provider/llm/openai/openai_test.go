package openai

import (
	"strings"
	"testing"

	"github.com/MrWong99/questweaver/pkg/provider/llm"
)

func TestConvertMessage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		role  string
		check func(t *testing.T, msg llm.Message)
	}{
		{llm.RoleSystem, func(t *testing.T, msg llm.Message) {
			p, err := convertMessage(msg)
			if err != nil || p.OfSystem == nil {
				t.Fatalf("expected OfSystem, got %+v (err %v)", p, err)
			}
		}},
		{llm.RoleUser, func(t *testing.T, msg llm.Message) {
			p, err := convertMessage(msg)
			if err != nil || p.OfUser == nil {
				t.Fatalf("expected OfUser, got %+v (err %v)", p, err)
			}
		}},
		{llm.RoleAssistant, func(t *testing.T, msg llm.Message) {
			p, err := convertMessage(msg)
			if err != nil || p.OfAssistant == nil {
				t.Fatalf("expected OfAssistant, got %+v (err %v)", p, err)
			}
		}},
	}
	for _, tc := range tests {
		t.Run(tc.role, func(t *testing.T) {
			t.Parallel()
			tc.check(t, llm.Message{Role: tc.role, Content: "hello"})
		})
	}

	t.Run("unknown", func(t *testing.T) {
		t.Parallel()
		if _, err := convertMessage(llm.Message{Role: "narrator"}); err == nil {
			t.Fatal("expected error for unknown role")
		}
	})
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	if _, err := New("", "gpt-4o"); err == nil {
		t.Error("expected error for empty apiKey")
	}
	if _, err := New("sk-test", ""); err == nil {
		t.Error("expected error for empty model")
	}
	if _, err := New("sk-test", "gpt-4o", WithBaseURL("http://localhost:1234/v1"), WithTimeout(0)); err != nil {
		t.Fatalf("New: unexpected error: %v", err)
	}
}

func TestBuildParams_ResponseSchema(t *testing.T) {
	t.Parallel()

	schema := &llm.ResponseSchema{
		Name:        "entities",
		Description: "extracted campaign entities",
		Schema:      map[string]any{"type": "object"},
		Strict:      true,
	}

	t.Run("native", func(t *testing.T) {
		t.Parallel()
		p, _ := New("sk-test", "gpt-4o-mini")
		params, err := p.buildParams(llm.CompletionRequest{
			SystemPrompt:   "extract",
			Messages:       []llm.Message{llm.UserMessage("text")},
			ResponseSchema: schema,
		})
		if err != nil {
			t.Fatalf("buildParams: unexpected error: %v", err)
		}
		js := params.ResponseFormat.OfJSONSchema
		if js == nil {
			t.Fatal("expected json_schema response format")
		}
		if js.JSONSchema.Name != "entities" || !js.JSONSchema.Strict.Value {
			t.Errorf("unexpected schema param: %+v", js.JSONSchema)
		}
		if len(params.Messages) != 2 {
			t.Errorf("expected system + user message, got %d", len(params.Messages))
		}
	})

	t.Run("prompted", func(t *testing.T) {
		t.Parallel()
		p, _ := New("sk-test", "gpt-3.5-turbo")
		params, err := p.buildParams(llm.CompletionRequest{
			Messages:       []llm.Message{llm.UserMessage("text")},
			ResponseSchema: schema,
		})
		if err != nil {
			t.Fatalf("buildParams: unexpected error: %v", err)
		}
		if params.ResponseFormat.OfJSONObject == nil {
			t.Fatal("expected json_object response format")
		}
		sys := params.Messages[0].OfSystem
		if sys == nil || !strings.Contains(sys.Content.OfString.Value, "JSON Schema") {
			t.Fatalf("expected schema instruction in system prompt, got %+v", params.Messages[0])
		}
	})
}

func TestModelCapabilities(t *testing.T) {
	t.Parallel()

	tests := []struct {
		model     string
		ctxWindow int
		maxOut    int
		native    bool
	}{
		{"gpt-4o-mini", 128_000, 16_384, true},
		{"gpt-4.1-nano", 1_047_576, 32_768, true},
		{"gpt-4-turbo", 128_000, 4_096, false},
		{"gpt-4-0613", 8_192, 4_096, false},
		{"GPT-3.5-turbo", 16_385, 4_096, false},
		{"o1-mini", 128_000, 65_536, false},
		{"o3-mini", 200_000, 100_000, true},
		{"local-qwen", 128_000, 4_096, true},
	}
	for _, tc := range tests {
		t.Run(tc.model, func(t *testing.T) {
			t.Parallel()
			caps := modelCapabilities(tc.model)
			if caps.ContextWindow != tc.ctxWindow || caps.MaxOutputTokens != tc.maxOut || caps.SupportsStructuredOutput != tc.native {
				t.Errorf("modelCapabilities(%q) = %+v", tc.model, caps)
			}
		})
	}
}

func TestResponseFormat_OmitsEmptyDescription(t *testing.T) {
	t.Parallel()

	rf := responseFormat(&llm.ResponseSchema{Name: "checklist", Schema: map[string]any{"type": "object"}}, true)
	if rf.OfJSONSchema == nil {
		t.Fatal("expected json_schema response format")
	}
	if rf.OfJSONSchema.JSONSchema.Description.Value != "" || rf.OfJSONSchema.JSONSchema.Strict.Value {
		t.Errorf("unset fields were sent: %+v", rf.OfJSONSchema.JSONSchema)
	}
}
