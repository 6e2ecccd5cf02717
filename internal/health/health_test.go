package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

func probe(t *testing.T, h *Handler, path string) (int, Result) {
	t.Helper()
	e := echo.New()
	h.Register(e)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

	var body Result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: unexpected error: %v", err)
	}
	return rec.Code, body
}

func pass(context.Context) error { return nil }

func TestHealthz(t *testing.T) {
	t.Parallel()

	code, body := probe(t, New(Checker{Name: "store", Check: func(context.Context) error { return errors.New("down") }}), "/healthz")
	if code != http.StatusOK || body.Status != StatusOK {
		t.Errorf("got %d %q, want 200 ok", code, body.Status)
	}
}

func TestReadyz(t *testing.T) {
	t.Parallel()

	down := func(context.Context) error { return errors.New("connection refused") }
	tests := []struct {
		name     string
		checkers []Checker
		code     int
		status   string
	}{
		{name: "no checkers", code: http.StatusOK, status: StatusOK},
		{
			name:     "all pass",
			checkers: []Checker{{Name: "store", Check: pass}, {Name: "vectors", Check: pass}},
			code:     http.StatusOK,
			status:   StatusOK,
		},
		{
			name:     "optional fails",
			checkers: []Checker{{Name: "store", Check: pass}, {Name: "tools", Check: down, Optional: true}},
			code:     http.StatusOK,
			status:   StatusDegraded,
		},
		{
			name:     "required fails",
			checkers: []Checker{{Name: "store", Check: down}, {Name: "tools", Check: down, Optional: true}},
			code:     http.StatusServiceUnavailable,
			status:   StatusFail,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			code, body := probe(t, New(tt.checkers...), "/readyz")
			if code != tt.code || body.Status != tt.status {
				t.Errorf("got %d %q, want %d %q", code, body.Status, tt.code, tt.status)
			}
			if len(body.Checks) != len(tt.checkers) {
				t.Errorf("expected %d check results, got %v", len(tt.checkers), body.Checks)
			}
		})
	}
}

func TestReadyz_Timeout(t *testing.T) {
	t.Parallel()

	h := New(Checker{Name: "slow", Check: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := h.Evaluate(ctx)
	if res.Status != StatusFail || !strings.Contains(res.Checks["slow"], "context canceled") {
		t.Errorf("unexpected result %+v", res)
	}
}
