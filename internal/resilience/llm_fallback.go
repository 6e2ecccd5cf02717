package resilience

import (
	"context"

	"github.com/MrWong99/questweaver/pkg/provider/llm"
)

// LLMFallback implements [llm.Provider] over a [FallbackGroup] of LLM
// backends. Extraction, metadata classification and community summaries keep
// working on a fallback while the primary's breaker is open.
type LLMFallback struct {
	group *FallbackGroup[llm.Provider]
}

var _ llm.Provider = (*LLMFallback)(nil)

// NewLLMFallback creates an [LLMFallback] with primary as the preferred backend.
func NewLLMFallback(primary llm.Provider, primaryName string, cfg FallbackConfig) *LLMFallback {
	return &LLMFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers provider after the backends already added.
func (f *LLMFallback) AddFallback(name string, provider llm.Provider) {
	f.group.AddFallback(name, provider)
}

// Complete sends req to the first healthy backend. MaxTokens is clamped to
// each backend's output limit. A cancelled ctx is returned as is and does not
// trip any breaker.
func (f *LLMFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return executeCtx(ctx, f.group, kindLLM, func(p llm.Provider) (*llm.CompletionResponse, error) {
		r := req
		if limit := p.Capabilities().MaxOutputTokens; limit > 0 && r.MaxTokens > limit {
			r.MaxTokens = limit
		}
		return p.Complete(ctx, r)
	})
}

// Capabilities reports what every backend in the group supports, since any
// of them may serve a call: the smallest known limits, and native structured
// output only when all backends enforce schemas.
func (f *LLMFallback) Capabilities() llm.ModelCapabilities {
	caps := f.group.entries[0].value.Capabilities()
	for _, e := range f.group.entries[1:] {
		c := e.value.Capabilities()
		caps.ContextWindow = minKnown(caps.ContextWindow, c.ContextWindow)
		caps.MaxOutputTokens = minKnown(caps.MaxOutputTokens, c.MaxOutputTokens)
		caps.SupportsStructuredOutput = caps.SupportsStructuredOutput && c.SupportsStructuredOutput
	}
	return caps
}

// minKnown returns the smaller of two limits where zero means unknown.
func minKnown(a, b int) int {
	switch {
	case a == 0:
		return b
	case b == 0:
		return a
	}
	return min(a, b)
}
