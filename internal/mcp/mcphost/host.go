// Package mcphost implements [mcp.Host] for in-process tools.
//
// Typical usage:
//
//	h := mcphost.New(mcphost.WithMetrics(observe.DefaultMetrics()))
//	for _, t := range campaigntool.NewTools(deps) {
//	    if err := h.Register(t); err != nil { ... }
//	}
//	env, err := h.Execute(ctx, "assess_campaign_readiness", args)
//
// Each call runs under the tool's DeclaredMax (or the host default) and is
// recorded in a per-tool rolling window used by [Host.Health].
package mcphost

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/questweaver/internal/entity"
	"github.com/MrWong99/questweaver/internal/mcp"
	"github.com/MrWong99/questweaver/internal/mcp/tools"
	"github.com/MrWong99/questweaver/internal/observe"
)

const (
	defaultWindowSize = 100
	defaultTimeout    = 30 * time.Second
)

type toolEntry struct {
	tool    tools.Tool
	window  *rollingWindow
	timeout time.Duration
}

// Option configures a [Host].
type Option func(*Host)

// WithMetrics records tool calls and durations on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(h *Host) { h.metrics = m }
}

// WithWindowSize sets how many recent calls per tool feed [Host.Health].
func WithWindowSize(n int) Option {
	return func(h *Host) {
		if n > 0 {
			h.windowSize = n
		}
	}
}

// WithDefaultTimeout bounds calls to tools without a DeclaredMax.
func WithDefaultTimeout(d time.Duration) Option {
	return func(h *Host) {
		if d > 0 {
			h.defaultTimeout = d
		}
	}
}

// Host is the in-process [mcp.Host]. The zero value is not usable; create
// instances with [New].
type Host struct {
	mu    sync.RWMutex
	tools map[string]toolEntry

	metrics        *observe.Metrics
	windowSize     int
	defaultTimeout time.Duration
}

var _ mcp.Host = (*Host)(nil)

// New returns an empty host.
func New(opts ...Option) *Host {
	h := &Host{
		tools:          make(map[string]toolEntry),
		windowSize:     defaultWindowSize,
		defaultTimeout: defaultTimeout,
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Register implements [mcp.Host]. Replacing a tool resets its health window.
func (h *Host) Register(t tools.Tool) error {
	if t.Name == "" {
		return errors.New("mcp host: tool must have a non-empty name")
	}
	if t.Handler == nil {
		return errors.New("mcp host: tool " + t.Name + " must have a non-nil handler")
	}
	timeout := h.defaultTimeout
	if t.DeclaredMax > 0 {
		timeout = time.Duration(t.DeclaredMax) * time.Millisecond
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.tools[t.Name] = toolEntry{tool: t, window: newRollingWindow(h.windowSize), timeout: timeout}
	return nil
}

// RegisterAll registers every tool in ts, stopping at the first error.
func (h *Host) RegisterAll(ts []tools.Tool) error {
	for _, t := range ts {
		if err := h.Register(t); err != nil {
			return err
		}
	}
	return nil
}

// Tools implements [mcp.Host].
func (h *Host) Tools() []mcp.ToolInfo {
	h.mu.RLock()
	out := make([]mcp.ToolInfo, 0, len(h.tools))
	for _, e := range h.tools {
		out = append(out, mcp.ToolInfo{
			Name:          e.tool.Name,
			Description:   e.tool.Description,
			InputSchema:   e.tool.InputSchema,
			DeclaredMaxMs: e.tool.DeclaredMax,
		})
	}
	h.mu.RUnlock()

	slices.SortFunc(out, func(a, b mcp.ToolInfo) int { return cmp.Compare(a.Name, b.Name) })
	return out
}

// Execute implements [mcp.Host].
func (h *Host) Execute(ctx context.Context, name string, args json.RawMessage) (tools.Envelope, error) {
	h.mu.RLock()
	e, ok := h.tools[name]
	h.mu.RUnlock()
	if !ok {
		return tools.Envelope{}, entity.NotFoundf("tool %q", name)
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	start := time.Now()
	env := e.tool.Call(ctx, args)
	elapsed := time.Since(start)

	failed := !env.Success && (env.Code == tools.CodeInternal || env.Code == tools.CodeDependency)
	e.window.Record(elapsed.Milliseconds(), failed)

	status := "ok"
	if !env.Success {
		status = string(env.Code)
	}
	if h.metrics != nil {
		h.metrics.RecordToolCall(ctx, name, status)
		h.metrics.ToolDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(observe.Attr("tool", name)))
	}
	observe.Logger(ctx).Debug("mcp host: tool executed",
		slog.String("tool", name),
		slog.String("status", status),
		slog.Duration("duration", elapsed),
	)
	return env, nil
}

// Health implements [mcp.Host]. Results are sorted by name.
func (h *Host) Health() []mcp.ToolHealth {
	h.mu.RLock()
	out := make([]mcp.ToolHealth, 0, len(h.tools))
	for name, e := range h.tools {
		p50, p99, count, errRate := e.window.Stats()
		out = append(out, mcp.ToolHealth{
			Name:      name,
			P50Ms:     p50,
			P99Ms:     p99,
			CallCount: count,
			ErrorRate: errRate,
			Degraded:  errRate > mcp.DegradedErrorRate,
		})
	}
	h.mu.RUnlock()

	slices.SortFunc(out, func(a, b mcp.ToolHealth) int { return cmp.Compare(a.Name, b.Name) })
	return out
}
