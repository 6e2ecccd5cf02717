package llm_test

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/questweaver/pkg/provider/llm"
	"github.com/MrWong99/questweaver/pkg/provider/llm/mock"
)

type extraction struct {
	Entities []struct {
		Name string `json:"name" validate:"required"`
		Type string `json:"type"`
	} `json:"entities"`
	Note string `json:"note" validate:"required"`
}

func TestSchemaFor(t *testing.T) {
	t.Parallel()

	schema, err := llm.SchemaFor[extraction]()
	if err != nil {
		t.Fatalf("SchemaFor: unexpected error: %v", err)
	}
	if schema["type"] != "object" {
		t.Errorf("expected object schema, got %v", schema["type"])
	}
	if _, ok := schema["$schema"]; ok {
		t.Error("expected $schema to be stripped")
	}
	props, ok := schema["properties"].(map[string]any)
	if !ok || props["entities"] == nil || props["note"] == nil {
		t.Fatalf("expected entities and note properties, got %v", schema["properties"])
	}
	if schema["additionalProperties"] != false {
		t.Errorf("expected additionalProperties=false, got %v", schema["additionalProperties"])
	}
}

func TestGenerateStructured(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		wantErr bool
		want    string
	}{
		{name: "plain", content: `{"entities":[{"name":"Kess","type":"npcs"}],"note":"ok"}`, want: "Kess"},
		{name: "fenced", content: "```json\n{\"entities\":[{\"name\":\"Vhal\"}],\"note\":\"ok\"}\n```", want: "Vhal"},
		{name: "double encoded", content: `"{\"entities\":[{\"name\":\"Orin\"}],\"note\":\"ok\"}"`, want: "Orin"},
		{name: "trailing comma", content: `{"entities":[{"name":"Mira",}],"note":"ok",}`, want: "Mira"},
		{name: "fails validation", content: `{"entities":[],"note":""}`, wantErr: true},
		{name: "empty", content: "   ", wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			p := &mock.Provider{CompleteResponse: &llm.CompletionResponse{Content: tc.content}}
			got, err := llm.GenerateStructured[extraction](context.Background(), p, llm.CompletionRequest{
				Messages: []llm.Message{llm.UserMessage("text")},
			}, "extraction", "entities mentioned in text")
			if tc.wantErr {
				if !errors.Is(err, llm.ErrInvalidOutput) {
					t.Fatalf("expected ErrInvalidOutput, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("GenerateStructured: unexpected error: %v", err)
			}
			if len(got.Entities) != 1 || got.Entities[0].Name != tc.want {
				t.Fatalf("expected entity %q, got %+v", tc.want, got.Entities)
			}
			rs := p.CompleteCalls[0].Req.ResponseSchema
			if rs == nil || rs.Name != "extraction" || rs.Schema == nil {
				t.Fatalf("expected response schema on request, got %+v", rs)
			}
		})
	}
}

func TestGenerateStructured_ProviderError(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	p := &mock.Provider{CompleteErr: boom}
	_, err := llm.GenerateStructured[extraction](context.Background(), p, llm.CompletionRequest{}, "x", "")
	if !errors.Is(err, boom) {
		t.Fatalf("expected provider error, got %v", err)
	}
}

func TestSchemaInstruction(t *testing.T) {
	t.Parallel()

	if llm.SchemaInstruction(nil) != "" {
		t.Error("expected empty instruction for nil schema")
	}
	got := llm.SchemaInstruction(&llm.ResponseSchema{Description: "a list", Schema: map[string]any{"type": "array"}})
	if got == "" {
		t.Fatal("expected instruction")
	}
}

func TestCompletionResponse_Truncated(t *testing.T) {
	t.Parallel()

	var nilResp *llm.CompletionResponse
	if nilResp.Truncated() {
		t.Error("nil response reported truncated")
	}
	if (&llm.CompletionResponse{FinishReason: llm.FinishStop}).Truncated() {
		t.Error("stop reported truncated")
	}
	if !(&llm.CompletionResponse{FinishReason: llm.FinishLength}).Truncated() {
		t.Error("length not reported truncated")
	}
}
