// Package observe wires OpenTelemetry metrics and traces, context-aware
// slog logging and the echo request middleware. Metrics reach Prometheus
// through the exporter installed by [InitProvider].
package observe

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/MrWong99/questweaver"

// Metrics holds the application's instruments. Attribute keys are listed per
// instrument; the Record helpers below set them consistently.
type Metrics struct {
	// Latency in seconds. ToolDuration carries "tool".
	LLMDuration                metric.Float64Histogram
	EmbeddingsDuration         metric.Float64Histogram
	ToolDuration               metric.Float64Histogram
	CommunityDetectionDuration metric.Float64Histogram

	// HTTPRequestDuration carries "method", "route" and "status".
	HTTPRequestDuration metric.Float64Histogram

	// ReadinessScore is a 0-100 distribution carrying "state".
	ReadinessScore metric.Float64Histogram

	ProviderRequests   metric.Int64Counter // provider, kind, status
	ProviderErrors     metric.Int64Counter // provider, kind
	ToolCalls          metric.Int64Counter // tool, status
	DedupeResolutions  metric.Int64Counter // method
	SignalDegradations metric.Int64Counter // component, source
	BreakerTransitions metric.Int64Counter // provider, state
}

// latencyBuckets are in seconds. LLM calls dominate the upper end.
var latencyBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}

var scoreBuckets = []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100}

// NewMetrics creates every instrument on mp. Tests pass their own provider
// so runs do not share state.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter(meterName)
	var errs []error
	hist := func(dst *metric.Float64Histogram, name, desc, unit string, buckets []float64) {
		opts := []metric.Float64HistogramOption{
			metric.WithDescription(desc),
			metric.WithExplicitBucketBoundaries(buckets...),
		}
		if unit != "" {
			opts = append(opts, metric.WithUnit(unit))
		}
		var err error
		*dst, err = meter.Float64Histogram(name, opts...)
		errs = append(errs, err)
	}
	counter := func(dst *metric.Int64Counter, name, desc string) {
		var err error
		*dst, err = meter.Int64Counter(name, metric.WithDescription(desc))
		errs = append(errs, err)
	}

	m := &Metrics{}
	hist(&m.LLMDuration, "questweaver.llm.duration", "Latency of LLM completions.", "s", latencyBuckets)
	hist(&m.EmbeddingsDuration, "questweaver.embeddings.duration", "Latency of embedding requests.", "s", latencyBuckets)
	hist(&m.ToolDuration, "questweaver.tool.duration", "Latency of tool execution.", "s", latencyBuckets)
	hist(&m.CommunityDetectionDuration, "questweaver.community.detection.duration", "Duration of community detection runs.", "s", latencyBuckets)
	hist(&m.HTTPRequestDuration, "questweaver.http.request.duration", "HTTP request latency by method, route and status.", "s", latencyBuckets)
	hist(&m.ReadinessScore, "questweaver.readiness.score", "Campaign readiness scores by resulting state.", "", scoreBuckets)

	counter(&m.ProviderRequests, "questweaver.provider.requests", "Provider API requests by provider, kind and status.")
	counter(&m.ProviderErrors, "questweaver.provider.errors", "Provider errors by provider and kind.")
	counter(&m.ToolCalls, "questweaver.tool.calls", "Tool invocations by tool name and status.")
	counter(&m.DedupeResolutions, "questweaver.dedupe.resolutions", "Duplicate-resolution outcomes by method.")
	counter(&m.SignalDegradations, "questweaver.signal.degradations", "Signal sources that failed and were dropped, by component and source.")
	counter(&m.BreakerTransitions, "questweaver.provider.breaker.transitions", "Circuit breaker state changes by provider and new state.")

	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("observe: create instruments: %w", err)
	}
	return m, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns a process-wide [Metrics] on the global meter
// provider, created on first use.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic(err)
		}
	})
	return defaultMetrics
}

// Attr is shorthand for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordProviderRequest counts one provider call.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordToolCall counts one tool invocation.
func (m *Metrics) RecordToolCall(ctx context.Context, tool, status string) {
	m.ToolCalls.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("tool", tool),
			attribute.String("status", status),
		),
	)
}

// RecordDedupe records one duplicate-resolution outcome.
func (m *Metrics) RecordDedupe(ctx context.Context, method string) {
	m.DedupeResolutions.Add(ctx, 1,
		metric.WithAttributes(attribute.String("method", method)),
	)
}

// RecordDegradation records a signal source that failed and was dropped.
func (m *Metrics) RecordDegradation(ctx context.Context, component, source string) {
	m.SignalDegradations.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("component", component),
			attribute.String("source", source),
		),
	)
}

// RecordReadiness records a readiness score with its resulting state.
func (m *Metrics) RecordReadiness(ctx context.Context, score int, state string) {
	m.ReadinessScore.Record(ctx, float64(score),
		metric.WithAttributes(attribute.String("state", state)),
	)
}

// RecordProviderError is a convenience method that records a provider error
// counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordBreakerTransition records a provider's circuit breaker entering state.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, provider, state string) {
	m.BreakerTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("state", state),
		),
	)
}
