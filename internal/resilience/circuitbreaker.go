// Package resilience keeps model providers usable when one of them misbehaves.
//
// A [CircuitBreaker] stops calling a provider after repeated failures and
// probes it again once a cool-down has passed. A [FallbackGroup] puts one
// breaker in front of each configured provider and walks them in order, so
// extraction, classification and embedding keep working on a secondary
// backend while the primary recovers. [LLMFallback] and [EmbeddingsFallback]
// adapt the group to the provider interfaces.
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [CircuitBreaker.Execute] while the breaker
// rejects calls.
var ErrCircuitOpen = errors.New("resilience: circuit open")

// State is the operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls until the reset timeout has passed.
	StateOpen

	// StateHalfOpen admits up to HalfOpenMax probes. One failed probe
	// re-opens the breaker; HalfOpenMax successful probes close it.
	StateHalfOpen
)

// String returns the state name used in logs and metric attributes.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig tunes a [CircuitBreaker]. Zero fields take defaults.
type CircuitBreakerConfig struct {
	// Name identifies the protected provider in logs and callbacks.
	Name string

	// MaxFailures is the number of consecutive failures that opens a closed
	// breaker. Default: 5.
	MaxFailures int

	// ResetTimeout is how long an open breaker waits before probing.
	// Default: 30s.
	ResetTimeout time.Duration

	// HalfOpenMax caps concurrent probes and is the number of successful
	// probes that closes the breaker. Default: 3.
	HalfOpenMax int

	// OnStateChange, when set, is called after every transition. It runs
	// outside the breaker's lock.
	OnStateChange func(name string, from, to State)
}

// CircuitBreaker is a three-state breaker. A call that fails because its
// context was cancelled or timed out says nothing about the provider and is
// not counted.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig
	now func() time.Time

	mu        sync.Mutex
	state     State
	failures  int
	openedAt  time.Time
	probes    int
	successes int
}

// transition is a state change waiting to be reported once the lock is
// released.
type transition struct {
	from, to State
}

// NewCircuitBreaker returns a closed breaker configured by cfg.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 3
	}
	return &CircuitBreaker{cfg: cfg, now: time.Now}
}

// Execute calls fn with ctx when the breaker admits the call and records the
// outcome. A rejected call returns an error wrapping [ErrCircuitOpen] without
// calling fn.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	probe, err := cb.admit()
	if err != nil {
		return err
	}

	err = fn(ctx)
	if err != nil && ctx.Err() != nil {
		cb.release(probe)
		return err
	}
	cb.settle(probe, err)
	return err
}

// admit decides whether a call may proceed. probe reports whether the call
// occupies a half-open probe slot.
func (cb *CircuitBreaker) admit() (probe bool, err error) {
	cb.mu.Lock()
	var t *transition
	if cb.state == StateOpen && cb.now().Sub(cb.openedAt) >= cb.cfg.ResetTimeout {
		t = cb.moveLocked(StateHalfOpen)
	}
	switch {
	case cb.state == StateOpen:
		err = fmt.Errorf("%w: %s", ErrCircuitOpen, cb.cfg.Name)
	case cb.state == StateHalfOpen && cb.probes >= cb.cfg.HalfOpenMax:
		err = fmt.Errorf("%w: %s probing", ErrCircuitOpen, cb.cfg.Name)
	case cb.state == StateHalfOpen:
		cb.probes++
		probe = true
	}
	cb.mu.Unlock()
	cb.notify(t)
	return probe, err
}

// release gives back a probe slot of a call that ended without a verdict.
func (cb *CircuitBreaker) release(probe bool) {
	if !probe {
		return
	}
	cb.mu.Lock()
	if cb.state == StateHalfOpen && cb.probes > 0 {
		cb.probes--
	}
	cb.mu.Unlock()
}

func (cb *CircuitBreaker) settle(probe bool, err error) {
	cb.mu.Lock()
	var t *transition
	switch {
	case err != nil && probe:
		t = cb.moveLocked(StateOpen)
	case err != nil:
		cb.failures++
		if cb.state == StateClosed && cb.failures >= cb.cfg.MaxFailures {
			t = cb.moveLocked(StateOpen)
		}
	case probe && cb.state == StateHalfOpen:
		cb.successes++
		if cb.successes >= cb.cfg.HalfOpenMax {
			t = cb.moveLocked(StateClosed)
		}
	default:
		cb.failures = 0
	}
	cb.mu.Unlock()
	cb.notify(t)
}

// moveLocked switches to state to and resets the counters that belong to the
// new state. It returns nil when the breaker already is in state to.
func (cb *CircuitBreaker) moveLocked(to State) *transition {
	if cb.state == to {
		return nil
	}
	t := &transition{from: cb.state, to: to}
	cb.state = to
	switch to {
	case StateOpen:
		cb.openedAt = cb.now()
	case StateHalfOpen:
		cb.probes, cb.successes = 0, 0
	case StateClosed:
		cb.failures, cb.probes, cb.successes = 0, 0, 0
	}
	return t
}

func (cb *CircuitBreaker) notify(t *transition) {
	if t == nil {
		return
	}
	level := slog.LevelInfo
	if t.to == StateOpen {
		level = slog.LevelWarn
	}
	slog.Log(context.Background(), level, "circuit breaker state changed",
		"name", cb.cfg.Name, "from", t.from.String(), "to", t.to.String())
	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(cb.cfg.Name, t.from, t.to)
	}
}

// State returns the current state. An open breaker whose reset timeout has
// passed reports [StateHalfOpen]; the switch itself happens on the next call.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateOpen && cb.now().Sub(cb.openedAt) >= cb.cfg.ResetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Reset closes the breaker and clears its counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	t := cb.moveLocked(StateClosed)
	cb.failures = 0
	cb.mu.Unlock()
	cb.notify(t)
}
