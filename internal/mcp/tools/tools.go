// Package tools defines the [Tool] type shared by every questweaver tool
// package and the response envelope all tools return.
//
// A tool handler never returns a Go error to its caller: failures are folded
// into an [Envelope] with success=false and a machine-checkable [Code]. That
// keeps the contract identical whether a tool is invoked over MCP, over the
// HTTP API or in-process.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"

	"github.com/go-playground/validator"

	"github.com/MrWong99/questweaver/internal/observe"
	"github.com/MrWong99/questweaver/pkg/provider/llm"
)

// Tool is one callable operation.
type Tool struct {
	// Name is the unique tool name, such as "delete_entity".
	Name string

	// Description is shown to the model choosing tools.
	Description string

	// InputSchema is the JSON Schema of the arguments object.
	InputSchema map[string]any

	// Handler runs the tool with JSON-encoded args. It must be safe for
	// concurrent use and respect context cancellation.
	Handler func(ctx context.Context, args json.RawMessage) Envelope

	// DeclaredMax is the author's upper bound on latency in milliseconds.
	// Hosts use it as the call timeout; zero means no tool-specific bound.
	DeclaredMax int64
}

// Call runs the handler and turns a panic into an internal error envelope.
func (t Tool) Call(ctx context.Context, args json.RawMessage) (env Envelope) {
	defer func() {
		if r := recover(); r != nil {
			observe.Logger(ctx).Error("tools: handler panicked",
				slog.String("tool", t.Name),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
			env = Internal()
		}
	}()
	return t.Handler(ctx, args)
}

var validate = validator.New()

// Func is the typed body of a tool built with [New].
type Func[A any] func(ctx context.Context, args A) (message string, data any, err error)

// New builds a tool whose arguments decode into A. The input schema is
// derived from A's json and jsonschema tags and the decoded value is checked
// against its validate tags before fn runs.
func New[A any](name, description string, declaredMax int64, fn Func[A]) Tool {
	schema, err := llm.SchemaFor[A]()
	if err != nil {
		panic(fmt.Sprintf("tools: schema for %s: %v", name, err))
	}
	return Tool{
		Name:        name,
		Description: description,
		InputSchema: schema,
		DeclaredMax: declaredMax,
		Handler: func(ctx context.Context, raw json.RawMessage) Envelope {
			var args A
			if len(strings.TrimSpace(string(raw))) > 0 {
				if err := json.Unmarshal(raw, &args); err != nil {
					return Envelope{Message: "invalid arguments: " + err.Error(), Code: CodeValidation}
				}
			}
			if err := validate.Struct(args); err != nil {
				return Envelope{Message: "invalid arguments: " + describeValidation(err), Code: CodeValidation}
			}
			msg, data, err := fn(ctx, args)
			if err != nil {
				return FailWith(ctx, name, err, data)
			}
			return OK(msg, data)
		},
	}
}

func describeValidation(err error) string {
	ves, ok := err.(validator.ValidationErrors)
	if !ok {
		return err.Error()
	}
	parts := make([]string, 0, len(ves))
	for _, fe := range ves {
		parts = append(parts, fmt.Sprintf("%s failed %q", fe.Field(), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}
