package tools

import (
	"context"
	"errors"
	"log/slog"

	"github.com/MrWong99/questweaver/internal/entity"
	"github.com/MrWong99/questweaver/internal/observe"
)

// Code classifies a failed tool call.
type Code string

// Error codes.
const (
	CodeValidation   Code = "VALIDATION_ERROR"
	CodeNotFound     Code = "NOT_FOUND"
	CodeUnauthorized Code = "UNAUTHORIZED"
	CodeDependency   Code = "DEPENDENCY_ERROR"
	CodeConflict     Code = "CONFLICT"
	CodeInternal     Code = "INTERNAL_ERROR"
)

// Envelope is the result of every tool call.
type Envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
	Code    Code   `json:"code,omitempty"`
}

// OK returns a successful envelope.
func OK(message string, data any) Envelope {
	return Envelope{Success: true, Message: message, Data: data}
}

// Internal returns the envelope for unexpected failures. The message is
// deliberately generic.
func Internal() Envelope {
	return Envelope{Message: "internal error", Code: CodeInternal}
}

// CodeFor maps an error to its code.
func CodeFor(err error) Code {
	switch entity.Kind(err) {
	case entity.ErrValidation:
		return CodeValidation
	case entity.ErrNotFound:
		return CodeNotFound
	case entity.ErrUnauthorized:
		return CodeUnauthorized
	case entity.ErrConflict:
		return CodeConflict
	case entity.ErrDependency:
		return CodeDependency
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return CodeDependency
	}
	return CodeInternal
}

// FailWith converts err into a failed envelope carrying data, which holds
// whatever was written before the failure. Internal errors are logged and
// their text withheld from the caller.
func FailWith(ctx context.Context, tool string, err error, data any) Envelope {
	code := CodeFor(err)
	env := Envelope{Message: err.Error(), Data: data, Code: code}
	switch code {
	case CodeInternal:
		observe.Logger(ctx).Error("tools: call failed", slog.String("tool", tool), slog.Any("err", err))
		env.Message = "internal error"
	case CodeUnauthorized:
		env.Message = "not authorized for this campaign"
	case CodeDependency:
		observe.Logger(ctx).Warn("tools: dependency failed", slog.String("tool", tool), slog.Any("err", err))
	}
	return env
}
