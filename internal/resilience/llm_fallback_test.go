package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/questweaver/pkg/provider/llm"
	llmmock "github.com/MrWong99/questweaver/pkg/provider/llm/mock"
)

func TestLLMFallback_StructuredRequestFailsOver(t *testing.T) {
	t.Parallel()

	primary := &llmmock.Provider{CompleteErr: errors.New("rate limited")}
	secondary := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: `{"summary":"The Redbrands hold Tresendar Manor."}`},
	}
	fb := NewLLMFallback(primary, "openai", FallbackConfig{})
	fb.AddFallback("anthropic", secondary)

	type summary struct {
		Summary string `json:"summary" validate:"required"`
	}
	got, err := llm.GenerateStructured[summary](context.Background(), fb, llm.CompletionRequest{
		Messages: []llm.Message{llm.UserMessage("Summarize the Redbrand community.")},
	}, "community_summary", "")
	if err != nil {
		t.Fatalf("GenerateStructured: unexpected error: %v", err)
	}
	if got.Summary == "" {
		t.Error("summary is empty")
	}
	if primary.CallCount() != 1 || secondary.CallCount() != 1 {
		t.Errorf("calls primary=%d secondary=%d, want 1 and 1", primary.CallCount(), secondary.CallCount())
	}
	if rs := secondary.CompleteCalls[0].Req.ResponseSchema; rs == nil || rs.Name != "community_summary" {
		t.Errorf("fallback did not receive the response schema: %+v", rs)
	}
}

func TestLLMFallback_ClampsMaxTokens(t *testing.T) {
	t.Parallel()

	primary := &llmmock.Provider{
		CompleteErr:       errors.New("down"),
		ModelCapabilities: llm.ModelCapabilities{MaxOutputTokens: 8192},
	}
	secondary := &llmmock.Provider{
		CompleteResponse:  &llm.CompletionResponse{Content: "ok"},
		ModelCapabilities: llm.ModelCapabilities{MaxOutputTokens: 2048},
	}
	fb := NewLLMFallback(primary, "openai", FallbackConfig{})
	fb.AddFallback("llamacpp", secondary)

	if _, err := fb.Complete(context.Background(), llm.CompletionRequest{MaxTokens: 4000}); err != nil {
		t.Fatalf("Complete: unexpected error: %v", err)
	}
	if got := primary.CompleteCalls[0].Req.MaxTokens; got != 4000 {
		t.Errorf("primary MaxTokens = %d, want 4000", got)
	}
	if got := secondary.CompleteCalls[0].Req.MaxTokens; got != 2048 {
		t.Errorf("fallback MaxTokens = %d, want 2048", got)
	}
}

func TestLLMFallback_AllFail(t *testing.T) {
	t.Parallel()

	fb := NewLLMFallback(&llmmock.Provider{CompleteErr: errors.New("primary down")}, "openai", FallbackConfig{})
	fb.AddFallback("ollama", &llmmock.Provider{CompleteErr: errors.New("secondary down")})

	_, err := fb.Complete(context.Background(), llm.CompletionRequest{})
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}

func TestLLMFallback_Cancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	primary := &llmmock.Provider{CompleteErr: context.Canceled}
	secondary := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "late"}}
	fb := NewLLMFallback(primary, "openai", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 1},
	})
	fb.AddFallback("ollama", secondary)

	_, err := fb.Complete(ctx, llm.CompletionRequest{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if secondary.CallCount() != 0 {
		t.Errorf("fallback called %d times after cancellation, want 0", secondary.CallCount())
	}
	if _, err := fb.Complete(context.Background(), llm.CompletionRequest{}); err != nil {
		t.Fatalf("Complete: unexpected error: %v", err)
	}
	if primary.CallCount() != 2 {
		t.Errorf("primary calls = %d, want 2 (breaker must stay closed)", primary.CallCount())
	}
}

func TestLLMFallback_Capabilities(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		fallbacks []llm.ModelCapabilities
		want      llm.ModelCapabilities
	}{
		{
			name: "primary only",
			want: llm.ModelCapabilities{ContextWindow: 128_000, MaxOutputTokens: 4096, SupportsStructuredOutput: true},
		},
		{
			name:      "fallback narrows limits and structured output",
			fallbacks: []llm.ModelCapabilities{{ContextWindow: 32_000, MaxOutputTokens: 8192}},
			want:      llm.ModelCapabilities{ContextWindow: 32_000, MaxOutputTokens: 4096},
		},
		{
			name:      "unknown limits are ignored",
			fallbacks: []llm.ModelCapabilities{{SupportsStructuredOutput: true}},
			want:      llm.ModelCapabilities{ContextWindow: 128_000, MaxOutputTokens: 4096, SupportsStructuredOutput: true},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			fb := NewLLMFallback(&llmmock.Provider{ModelCapabilities: llm.ModelCapabilities{
				ContextWindow: 128_000, MaxOutputTokens: 4096, SupportsStructuredOutput: true,
			}}, "openai", FallbackConfig{})
			for i, c := range tt.fallbacks {
				fb.AddFallback(string(rune('a'+i)), &llmmock.Provider{ModelCapabilities: c})
			}
			if got := fb.Capabilities(); got != tt.want {
				t.Errorf("Capabilities() = %+v, want %+v", got, tt.want)
			}
		})
	}
}
