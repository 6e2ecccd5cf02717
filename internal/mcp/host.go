// Package mcp defines the tool host that sits between transports (the MCP
// server, the HTTP API) and the campaign tools.
//
// A [Host] keeps a registry of in-process tools, runs calls under each tool's
// declared latency bound and tracks per-tool health over a rolling window of
// recent calls.
//
// All methods must be safe for concurrent use.
package mcp

import (
	"context"
	"encoding/json"

	"github.com/MrWong99/questweaver/internal/mcp/tools"
)

// Host routes tool calls and tracks per-tool health.
type Host interface {
	// Register adds t to the registry, replacing any tool of the same name.
	Register(t tools.Tool) error

	// Tools lists the registered tools sorted by name.
	Tools() []ToolInfo

	// Execute runs the named tool. An unknown name is an error wrapping
	// [entity.ErrNotFound]; every other failure is reported in the envelope.
	Execute(ctx context.Context, name string, args json.RawMessage) (tools.Envelope, error)

	// Health reports the measured performance of every registered tool.
	Health() []ToolHealth
}
