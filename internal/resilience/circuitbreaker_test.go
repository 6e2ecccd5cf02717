package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

var errTest = errors.New("test error")

// fakeClock drives a breaker's notion of time in tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestBreaker(cfg CircuitBreakerConfig) (*CircuitBreaker, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	cb := NewCircuitBreaker(cfg)
	cb.now = clock.Now
	return cb, clock
}

func fail(context.Context) error    { return errTest }
func succeed(context.Context) error { return nil }

func TestNewCircuitBreaker_Defaults(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "openai"})
	if cb.cfg.MaxFailures != 5 || cb.cfg.ResetTimeout != 30*time.Second || cb.cfg.HalfOpenMax != 3 {
		t.Errorf("defaults = %+v", cb.cfg)
	}
	if got := cb.State(); got != StateClosed {
		t.Errorf("initial state = %v, want closed", got)
	}
}

func TestCircuitBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cb, _ := newTestBreaker(CircuitBreakerConfig{Name: "ollama", MaxFailures: 3})

	_ = cb.Execute(ctx, fail)
	_ = cb.Execute(ctx, fail)
	_ = cb.Execute(ctx, succeed)
	_ = cb.Execute(ctx, fail)
	_ = cb.Execute(ctx, fail)
	if got := cb.State(); got != StateClosed {
		t.Fatalf("state after interrupted failures = %v, want closed", got)
	}

	_ = cb.Execute(ctx, fail)
	if got := cb.State(); got != StateOpen {
		t.Fatalf("state = %v, want open", got)
	}

	called := false
	err := cb.Execute(ctx, func(context.Context) error {
		called = true
		return nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if called {
		t.Error("fn called while open")
	}
}

func TestCircuitBreaker_HalfOpen(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		probes []func(context.Context) error
		want   State
	}{
		{
			name:   "enough successful probes close",
			probes: []func(context.Context) error{succeed, succeed},
			want:   StateClosed,
		},
		{
			name:   "one failed probe re-opens",
			probes: []func(context.Context) error{succeed, fail},
			want:   StateOpen,
		},
		{
			name:   "too few probes stay half-open",
			probes: []func(context.Context) error{succeed},
			want:   StateHalfOpen,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ctx := context.Background()
			cb, clock := newTestBreaker(CircuitBreakerConfig{
				Name:         "gemini",
				MaxFailures:  1,
				ResetTimeout: time.Minute,
				HalfOpenMax:  2,
			})
			_ = cb.Execute(ctx, fail)
			clock.Advance(time.Minute)
			if got := cb.State(); got != StateHalfOpen {
				t.Fatalf("state after timeout = %v, want half-open", got)
			}
			for _, p := range tt.probes {
				_ = cb.Execute(ctx, p)
			}
			if got := cb.State(); got != tt.want {
				t.Errorf("state = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCircuitBreaker_HalfOpenLimitsConcurrentProbes(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cb, clock := newTestBreaker(CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Second, HalfOpenMax: 1})
	_ = cb.Execute(ctx, fail)
	clock.Advance(time.Second)

	release := make(chan struct{})
	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- cb.Execute(ctx, func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	if err := cb.Execute(ctx, succeed); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("second probe err = %v, want ErrCircuitOpen", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("probe: unexpected error: %v", err)
	}
	if got := cb.State(); got != StateClosed {
		t.Errorf("state = %v, want closed", got)
	}
}

func TestCircuitBreaker_CancelledCallsAreNotCounted(t *testing.T) {
	t.Parallel()

	cb, clock := newTestBreaker(CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Second, HalfOpenMax: 1})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := cb.Execute(ctx, func(ctx context.Context) error { return ctx.Err() })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if got := cb.State(); got != StateClosed {
		t.Fatalf("state after cancelled call = %v, want closed", got)
	}

	_ = cb.Execute(context.Background(), fail)
	clock.Advance(time.Second)
	_ = cb.Execute(ctx, func(ctx context.Context) error { return ctx.Err() })
	if got := cb.State(); got != StateHalfOpen {
		t.Fatalf("state after cancelled probe = %v, want half-open", got)
	}
	if err := cb.Execute(context.Background(), succeed); err != nil {
		t.Fatalf("probe slot not released: %v", err)
	}
}

func TestCircuitBreaker_OnStateChange(t *testing.T) {
	t.Parallel()

	var (
		mu   sync.Mutex
		seen []string
	)
	ctx := context.Background()
	cb, clock := newTestBreaker(CircuitBreakerConfig{
		Name:         "anthropic",
		MaxFailures:  1,
		ResetTimeout: time.Second,
		HalfOpenMax:  1,
		OnStateChange: func(name string, from, to State) {
			mu.Lock()
			defer mu.Unlock()
			seen = append(seen, name+":"+from.String()+">"+to.String())
		},
	})

	_ = cb.Execute(ctx, fail)
	clock.Advance(time.Second)
	_ = cb.Execute(ctx, succeed)
	_ = cb.Execute(ctx, fail)
	cb.Reset()

	want := []string{
		"anthropic:closed>open",
		"anthropic:open>half-open",
		"anthropic:half-open>closed",
		"anthropic:closed>open",
		"anthropic:open>closed",
	}
	mu.Lock()
	defer mu.Unlock()
	if len(seen) != len(want) {
		t.Fatalf("transitions = %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("transition %d = %q, want %q", i, seen[i], want[i])
		}
	}
}

func TestState_String(t *testing.T) {
	t.Parallel()

	tests := []struct {
		state State
		want  string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half-open"},
		{State(42), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
