package entity

import (
	"errors"
	"fmt"
)

// Error kinds shared by every layer. Callers wrap them with context using
// fmt.Errorf and test with errors.Is; the tool boundary maps them to codes.
var (
	// ErrValidation marks malformed input or a graph rule violation.
	ErrValidation = errors.New("validation error")

	// ErrNotFound marks a missing entity, relationship or campaign.
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized marks a missing token or a campaign the user cannot access.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrDependency marks a failing store, LLM, embeddings or vector backend.
	ErrDependency = errors.New("dependency unavailable")

	// ErrConflict marks a create with an ID that already exists.
	ErrConflict = errors.New("already exists")
)

// Validationf returns an error wrapping [ErrValidation].
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// NotFoundf returns an error wrapping [ErrNotFound].
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

// Dependency wraps err from an external collaborator with [ErrDependency].
// Errors that already carry a kind are returned wrapped but unchanged in kind.
func Dependency(op string, err error) error {
	if err == nil {
		return nil
	}
	if Kind(err) != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrDependency, err)
}

// Kind returns the error kind sentinel err wraps, or nil.
func Kind(err error) error {
	for _, k := range []error{ErrValidation, ErrNotFound, ErrUnauthorized, ErrConflict, ErrDependency} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}
