package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/questweaver/internal/observe"
)

// ErrAllFailed is returned when every entry in a [FallbackGroup] fails or has an
// open circuit breaker.
var ErrAllFailed = errors.New("all providers failed")

// FallbackConfig configures the per-entry circuit breaker created for each
// provider in a [FallbackGroup].
type FallbackConfig struct {
	CircuitBreaker CircuitBreakerConfig

	// Metrics, when set, receives one request record per attempted entry.
	Metrics *observe.Metrics
}

// fallbackEntry pairs a provider value with its dedicated circuit breaker.
type fallbackEntry[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// FallbackGroup wraps a primary and zero or more fallback instances of the same
// provider type. When the primary fails (or its circuit breaker is open), the
// next healthy fallback is tried in registration order.
//
// Entries must be added before the group is shared; after that it is safe for
// concurrent use.
type FallbackGroup[T any] struct {
	entries []fallbackEntry[T]
	cfg     FallbackConfig
}

// NewFallbackGroup creates a [FallbackGroup] with primary as the first entry.
// Additional fallbacks are registered via [FallbackGroup.AddFallback].
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	fg := &FallbackGroup[T]{cfg: cfg}
	fg.AddFallback(primaryName, primary)
	return fg
}

// AddFallback appends a fallback provider. Fallbacks are tried in the order they
// are added, after the primary.
func (fg *FallbackGroup[T]) AddFallback(name string, fallback T) {
	cbCfg := fg.cfg.CircuitBreaker
	cbCfg.Name = name
	if m := fg.cfg.Metrics; m != nil && cbCfg.OnStateChange == nil {
		cbCfg.OnStateChange = func(name string, _, to State) {
			m.RecordBreakerTransition(context.Background(), name, to.String())
		}
	}
	fg.entries = append(fg.entries, fallbackEntry[T]{
		name:    name,
		value:   fallback,
		breaker: NewCircuitBreaker(cbCfg),
	})
}

// Names returns the entry names in the order they are tried.
func (fg *FallbackGroup[T]) Names() []string {
	out := make([]string, len(fg.entries))
	for i, e := range fg.entries {
		out[i] = e.name
	}
	return out
}

// Execute tries fn against each entry in order until one succeeds.
// Circuit-breaker-open entries are skipped. Returns [ErrAllFailed] wrapped with
// the last error if every entry fails.
func (fg *FallbackGroup[T]) Execute(fn func(T) error) error {
	_, err := ExecuteWithResult(fg, func(v T) (struct{}, error) {
		return struct{}{}, fn(v)
	})
	return err
}

// ExecuteWithResult tries fn against each entry in the group until one succeeds,
// returning both the result value and error. This is a package-level function
// because Go does not support method-level type parameters.
func ExecuteWithResult[T any, R any](fg *FallbackGroup[T], fn func(T) (R, error)) (R, error) {
	return executeCtx(context.Background(), fg, "", fn)
}

// executeCtx is [ExecuteWithResult] with cancellation and metrics. A done ctx
// stops the walk and returns ctx.Err(); the breakers do not count it. kind
// labels the metric records.
func executeCtx[T any, R any](ctx context.Context, fg *FallbackGroup[T], kind string, fn func(T) (R, error)) (R, error) {
	var (
		lastErr error
		zero    R
	)
	for i := range fg.entries {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		entry := &fg.entries[i]
		var result R
		start := time.Now()
		err := entry.breaker.Execute(ctx, func(context.Context) error {
			var innerErr error
			result, innerErr = fn(entry.value)
			return innerErr
		})
		if cerr := ctx.Err(); cerr != nil {
			return zero, cerr
		}
		fg.record(ctx, kind, entry.name, time.Since(start), err)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("skipping provider (circuit open)", "provider", entry.name)
		} else {
			observe.Logger(ctx).Warn("provider failed, trying next",
				"provider", entry.name, "kind", kind, "err", err)
		}
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}

func (fg *FallbackGroup[T]) record(ctx context.Context, kind, name string, elapsed time.Duration, err error) {
	m := fg.cfg.Metrics
	if m == nil || kind == "" || errors.Is(err, ErrCircuitOpen) {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
		m.RecordProviderError(ctx, name, kind)
	}
	m.RecordProviderRequest(ctx, name, kind, status)
	switch kind {
	case kindLLM:
		m.LLMDuration.Record(ctx, elapsed.Seconds())
	case kindEmbeddings:
		m.EmbeddingsDuration.Record(ctx, elapsed.Seconds())
	}
}

const (
	kindLLM        = "llm"
	kindEmbeddings = "embeddings"
)
