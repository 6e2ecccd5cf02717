// Package mock is a scripted [llm.Provider] for tests.
//
//	p := &mock.Provider{
//	    CompleteResponse: &llm.CompletionResponse{Content: `{"items":[]}`},
//	}
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/questweaver/pkg/provider/llm"
)

// Call is one recorded Complete invocation.
type Call struct {
	Ctx context.Context
	Req llm.CompletionRequest
}

// Provider answers Complete from, in order of precedence: CompleteFunc,
// CompleteErr, the Responses queue, then CompleteResponse.
type Provider struct {
	CompleteFunc     func(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error)
	CompleteErr      error
	Responses        []*llm.CompletionResponse
	CompleteResponse *llm.CompletionResponse

	ModelCapabilities llm.ModelCapabilities

	// CompleteCalls is appended to on every call. Read it after the calls
	// under test have returned.
	CompleteCalls []Call

	mu sync.Mutex
}

var _ llm.Provider = (*Provider)(nil)

// Complete implements [llm.Provider].
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	resp, fn, err := p.next(ctx, req)
	if fn != nil {
		return fn(ctx, req)
	}
	return resp, err
}

func (p *Provider) next(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, func(context.Context, llm.CompletionRequest) (*llm.CompletionResponse, error), error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CompleteCalls = append(p.CompleteCalls, Call{Ctx: ctx, Req: req})
	switch {
	case p.CompleteFunc != nil:
		return nil, p.CompleteFunc, nil
	case p.CompleteErr != nil:
		return nil, nil, p.CompleteErr
	case len(p.Responses) > 0:
		resp := p.Responses[0]
		p.Responses = p.Responses[1:]
		return resp, nil, nil
	}
	return p.CompleteResponse, nil, nil
}

// Capabilities implements [llm.Provider].
func (p *Provider) Capabilities() llm.ModelCapabilities { return p.ModelCapabilities }

// CallCount is the number of Complete calls so far.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.CompleteCalls)
}
