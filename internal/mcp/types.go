package mcp

// ToolInfo describes a registered tool to transports.
type ToolInfo struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`

	// DeclaredMaxMs is the call timeout in milliseconds; zero means the
	// host default.
	DeclaredMaxMs int64 `json:"declaredMaxMs,omitempty"`
}

// ToolHealth captures the runtime performance of one tool over the host's
// rolling window.
type ToolHealth struct {
	Name string `json:"name"`

	P50Ms int64 `json:"p50Ms"`
	P99Ms int64 `json:"p99Ms"`

	// CallCount is the number of calls since the host was created.
	CallCount int `json:"callCount"`

	// ErrorRate is the fraction of failed calls in the window (0.0–1.0).
	// Failures are envelopes with success=false and INTERNAL_ERROR or
	// DEPENDENCY_ERROR codes; caller mistakes do not count.
	ErrorRate float64 `json:"errorRate"`

	// Degraded is set once ErrorRate exceeds [DegradedErrorRate].
	Degraded bool `json:"degraded"`
}

// DegradedErrorRate is the window error rate above which a tool is reported
// as degraded.
const DegradedErrorRate = 0.3
