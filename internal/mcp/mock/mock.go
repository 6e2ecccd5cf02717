// Package mock is a scripted [mcp.Host] for transport tests.
//
//	h := &mock.Host{ExecuteResult: tools.OK("ok", nil)}
//	// ... drive the HTTP API or MCP server ...
//	if ex := h.Executions(); len(ex) != 1 || ex[0].Tool != "search_entities" { ... }
package mock

import (
	"context"
	"encoding/json"
	"slices"
	"sync"

	"github.com/MrWong99/questweaver/internal/mcp"
	"github.com/MrWong99/questweaver/internal/mcp/tools"
)

// Execution is one recorded Execute call.
type Execution struct {
	Tool string
	Args string
}

// Host answers Execute with ExecuteFunc when set, otherwise with ExecuteErr
// or ExecuteResult. Registered tools are listed by Tools unless ToolsResult
// is set.
type Host struct {
	ExecuteFunc   func(ctx context.Context, name string, args json.RawMessage) (tools.Envelope, error)
	ExecuteResult tools.Envelope
	ExecuteErr    error
	RegisterErr   error
	ToolsResult   []mcp.ToolInfo
	HealthResult  []mcp.ToolHealth

	mu         sync.Mutex
	registered []string
	executions []Execution
}

var _ mcp.Host = (*Host)(nil)

// Register implements [mcp.Host].
func (h *Host) Register(t tools.Tool) error {
	if h.RegisterErr != nil {
		return h.RegisterErr
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if !slices.Contains(h.registered, t.Name) {
		h.registered = append(h.registered, t.Name)
		slices.Sort(h.registered)
	}
	return nil
}

// Tools implements [mcp.Host].
func (h *Host) Tools() []mcp.ToolInfo {
	if h.ToolsResult != nil {
		return slices.Clone(h.ToolsResult)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]mcp.ToolInfo, len(h.registered))
	for i, name := range h.registered {
		out[i] = mcp.ToolInfo{Name: name}
	}
	return out
}

// Execute implements [mcp.Host].
func (h *Host) Execute(ctx context.Context, name string, args json.RawMessage) (tools.Envelope, error) {
	h.mu.Lock()
	h.executions = append(h.executions, Execution{Tool: name, Args: string(args)})
	h.mu.Unlock()

	switch {
	case h.ExecuteFunc != nil:
		return h.ExecuteFunc(ctx, name, args)
	case h.ExecuteErr != nil:
		return tools.Envelope{}, h.ExecuteErr
	}
	return h.ExecuteResult, nil
}

// Health implements [mcp.Host].
func (h *Host) Health() []mcp.ToolHealth { return slices.Clone(h.HealthResult) }

// Executions returns the Execute calls so far, in order.
func (h *Host) Executions() []Execution {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.executions)
}
