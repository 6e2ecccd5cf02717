package observe

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func TestHistograms(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.LLMDuration.Record(ctx, 1.2)
	m.EmbeddingsDuration.Record(ctx, 0.03)
	m.ToolDuration.Record(ctx, 0.2, metric.WithAttributes(attribute.String("tool", "detect_communities")))
	m.CommunityDetectionDuration.Record(ctx, 0.01)
	m.RecordReadiness(ctx, 45, "developing")

	rm := collect(t, reader)
	tests := []struct {
		name string
		sum  float64
	}{
		{"questweaver.llm.duration", 1.2},
		{"questweaver.embeddings.duration", 0.03},
		{"questweaver.tool.duration", 0.2},
		{"questweaver.community.detection.duration", 0.01},
		{"questweaver.readiness.score", 45},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			met := findMetric(rm, tc.name)
			if met == nil {
				t.Fatalf("metric %q not found", tc.name)
			}
			hist, ok := met.Data.(metricdata.Histogram[float64])
			if !ok {
				t.Fatalf("metric %q is not a histogram", tc.name)
			}
			if len(hist.DataPoints) != 1 || hist.DataPoints[0].Count != 1 || hist.DataPoints[0].Sum != tc.sum {
				t.Errorf("metric %q: data points %+v, want one sample of %v", tc.name, hist.DataPoints, tc.sum)
			}
		})
	}
}

// sumFor returns the counter value of the data point carrying key=value.
func sumFor(t *testing.T, rm metricdata.ResourceMetrics, name, key, value string) int64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is not a sum", name)
	}
	for _, dp := range sum.DataPoints {
		if v, ok := dp.Attributes.Value(attribute.Key(key)); ok && v.AsString() == value {
			return dp.Value
		}
	}
	t.Fatalf("metric %q: no data point with %s=%s", name, key, value)
	return 0
}

func TestCounters(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordProviderRequest(ctx, "openai", "llm", "ok")
	m.RecordProviderRequest(ctx, "openai", "llm", "ok")
	m.RecordProviderRequest(ctx, "openai", "llm", "error")
	m.RecordProviderError(ctx, "ollama", "embeddings")
	m.RecordToolCall(ctx, "create_entity_relationship", "ok")
	m.RecordToolCall(ctx, "create_entity_relationship", "error")
	m.RecordDedupe(ctx, "semantic")
	m.RecordDedupe(ctx, "semantic")
	m.RecordDedupe(ctx, "none")
	m.RecordDegradation(ctx, "readiness", "semantic")
	m.RecordBreakerTransition(ctx, "openai", "open")
	m.RecordBreakerTransition(ctx, "openai", "half-open")

	rm := collect(t, reader)
	tests := []struct {
		name, key, value string
		want             int64
	}{
		{"questweaver.provider.requests", "status", "ok", 2},
		{"questweaver.provider.errors", "provider", "ollama", 1},
		{"questweaver.tool.calls", "status", "error", 1},
		{"questweaver.dedupe.resolutions", "method", "semantic", 2},
		{"questweaver.signal.degradations", "source", "semantic", 1},
		{"questweaver.provider.breaker.transitions", "state", "open", 1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := sumFor(t, rm, tc.name, tc.key, tc.value); got != tc.want {
				t.Errorf("counter value = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Error("DefaultMetrics returned different pointers")
	}
}
