package mcphost

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/questweaver/internal/entity"
	"github.com/MrWong99/questweaver/internal/mcp/tools"
	"github.com/MrWong99/questweaver/internal/observe"
)

type pingArgs struct {
	CampaignID string `json:"campaignId" validate:"required"`
	Fail       string `json:"fail,omitempty"`
}

// pingTool succeeds unless args.fail names an error kind.
func pingTool(name string) tools.Tool {
	return tools.New(name, "answers pong", 50, func(_ context.Context, a pingArgs) (string, any, error) {
		switch a.Fail {
		case "dependency":
			return "", nil, entity.Dependency("ping", errors.New("backend down"))
		case "internal":
			return "", nil, errors.New("boom")
		}
		return "pong", nil, nil
	})
}

// slowTool blocks until its context ends.
func slowTool(name string, declaredMax int64) tools.Tool {
	return tools.Tool{
		Name:        name,
		InputSchema: map[string]any{"type": "object"},
		DeclaredMax: declaredMax,
		Handler: func(ctx context.Context, _ json.RawMessage) tools.Envelope {
			<-ctx.Done()
			return tools.FailWith(ctx, name, ctx.Err(), nil)
		},
	}
}

func exec(t *testing.T, h *Host, name, args string) tools.Envelope {
	t.Helper()
	env, err := h.Execute(context.Background(), name, json.RawMessage(args))
	if err != nil {
		t.Fatalf("Execute(%s): unexpected error: %v", name, err)
	}
	return env
}

func TestRegister(t *testing.T) {
	t.Parallel()

	h := New()
	if err := h.Register(tools.Tool{}); err == nil {
		t.Error("expected error for unnamed tool")
	}
	if err := h.Register(tools.Tool{Name: "x"}); err == nil {
		t.Error("expected error for nil handler")
	}
	if err := h.RegisterAll([]tools.Tool{pingTool("b_ping"), pingTool("a_ping")}); err != nil {
		t.Fatalf("RegisterAll: unexpected error: %v", err)
	}

	got := h.Tools()
	if len(got) != 2 || got[0].Name != "a_ping" || got[1].Name != "b_ping" {
		t.Fatalf("expected tools sorted by name, got %+v", got)
	}
	if got[0].DeclaredMaxMs != 50 || got[0].InputSchema["type"] != "object" {
		t.Errorf("unexpected tool info %+v", got[0])
	}
}

func TestExecute(t *testing.T) {
	t.Parallel()

	h := New()
	if err := h.Register(pingTool("ping")); err != nil {
		t.Fatalf("Register: unexpected error: %v", err)
	}

	t.Run("unknown tool", func(t *testing.T) {
		t.Parallel()
		_, err := h.Execute(context.Background(), "nope", nil)
		if !errors.Is(err, entity.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("success", func(t *testing.T) {
		t.Parallel()
		env := exec(t, h, "ping", `{"campaignId":"c1"}`)
		if !env.Success || env.Message != "pong" {
			t.Errorf("unexpected envelope %+v", env)
		}
	})

	t.Run("failure stays in envelope", func(t *testing.T) {
		t.Parallel()
		env := exec(t, h, "ping", `{"campaignId":"c1","fail":"dependency"}`)
		if env.Success || env.Code != tools.CodeDependency {
			t.Errorf("unexpected envelope %+v", env)
		}
	})
}

func TestExecute_Timeout(t *testing.T) {
	t.Parallel()

	h := New(WithDefaultTimeout(20 * time.Millisecond))
	if err := h.RegisterAll([]tools.Tool{slowTool("declared", 20), slowTool("default", 0)}); err != nil {
		t.Fatalf("RegisterAll: unexpected error: %v", err)
	}
	for _, name := range []string{"declared", "default"} {
		start := time.Now()
		env := exec(t, h, name, `{}`)
		if env.Code != tools.CodeDependency {
			t.Errorf("%s: expected DEPENDENCY_ERROR, got %+v", name, env)
		}
		if d := time.Since(start); d > time.Second {
			t.Errorf("%s: timeout not applied, took %s", name, d)
		}
	}
}

func TestHealth(t *testing.T) {
	t.Parallel()

	h := New(WithWindowSize(4))
	if err := h.Register(pingTool("ping")); err != nil {
		t.Fatalf("Register: unexpected error: %v", err)
	}

	// Caller mistakes do not count as failures.
	exec(t, h, "ping", `{}`)
	exec(t, h, "ping", `{"campaignId":"c1"}`)
	exec(t, h, "ping", `{"campaignId":"c1","fail":"internal"}`)
	exec(t, h, "ping", `{"campaignId":"c1","fail":"dependency"}`)

	hs := h.Health()
	if len(hs) != 1 {
		t.Fatalf("expected one health record, got %d", len(hs))
	}
	got := hs[0]
	if got.CallCount != 4 || got.ErrorRate != 0.5 || !got.Degraded {
		t.Errorf("unexpected health %+v", got)
	}

	// The window forgets the failures once they are evicted.
	for range 4 {
		exec(t, h, "ping", `{"campaignId":"c1"}`)
	}
	if got := h.Health()[0]; got.ErrorRate != 0 || got.Degraded || got.CallCount != 8 {
		t.Errorf("expected a recovered tool, got %+v", got)
	}
}

func TestExecute_Metrics(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	m, err := observe.NewMetrics(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	if err != nil {
		t.Fatalf("NewMetrics: unexpected error: %v", err)
	}
	h := New(WithMetrics(m))
	if err := h.Register(pingTool("ping")); err != nil {
		t.Fatalf("Register: unexpected error: %v", err)
	}
	exec(t, h, "ping", `{"campaignId":"c1"}`)

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: unexpected error: %v", err)
	}
	seen := map[string]bool{}
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			seen[md.Name] = true
		}
	}
	for _, name := range []string{"questweaver.tool.calls", "questweaver.tool.duration"} {
		if !seen[name] {
			t.Errorf("expected metric %s to be recorded", name)
		}
	}
}
