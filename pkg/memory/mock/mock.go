// Package mock provides a test double for [memory.VectorIndex].
//
// The mock records every method call for assertion in tests and exposes
// exported fields that control what it returns. When no canned query result
// is set it delegates to an embedded [memory.MemIndex], so tests can seed real
// vectors and still inject failures. It is safe for concurrent use.
//
// Typical usage:
//
//	idx := mock.NewVectorIndex()
//	idx.QueryErr = errors.New("index down")
//
//	// inject idx into the system under test …
//
//	if got := idx.CallCount("Query"); got != 1 {
//	    t.Errorf("expected 1 Query call, got %d", got)
//	}
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/questweaver/pkg/memory"
)

// Call records the name and arguments of a single method invocation.
type Call struct {
	// Method is the name of the interface method that was called.
	Method string

	// Args holds the non-context arguments passed to the method, in order.
	Args []any
}

// VectorIndex is a configurable test double for [memory.VectorIndex].
type VectorIndex struct {
	mu sync.Mutex

	calls []Call
	inner *memory.MemIndex

	// UpsertErr is returned by [VectorIndex.Upsert] when non-nil.
	UpsertErr error

	// QueryResult is returned by [VectorIndex.Query] when non-nil instead of
	// searching the embedded index.
	QueryResult []memory.Hit

	// QueryErr is returned by [VectorIndex.Query] when non-nil.
	QueryErr error

	// DeleteErr is returned by [VectorIndex.Delete] and
	// [VectorIndex.DeleteWhere] when non-nil.
	DeleteErr error
}

var _ memory.VectorIndex = (*VectorIndex)(nil)

// NewVectorIndex returns a mock backed by an empty [memory.MemIndex].
func NewVectorIndex() *VectorIndex {
	return &VectorIndex{inner: memory.NewMemIndex()}
}

// Calls returns a copy of all recorded method invocations.
func (m *VectorIndex) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns how many times the named method was invoked.
func (m *VectorIndex) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// Reset clears all recorded calls without altering response configuration.
func (m *VectorIndex) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

// Len returns the number of vectors stored in ns.
func (m *VectorIndex) Len(ns memory.Namespace) int {
	return m.index().Len(ns)
}

// Upsert implements [memory.VectorIndex].
func (m *VectorIndex) Upsert(ctx context.Context, v memory.Vector) error {
	m.mu.Lock()
	m.calls = append(m.calls, Call{Method: "Upsert", Args: []any{v}})
	err := m.UpsertErr
	m.mu.Unlock()
	if err != nil {
		return err
	}
	return m.index().Upsert(ctx, v)
}

// Query implements [memory.VectorIndex].
func (m *VectorIndex) Query(ctx context.Context, embedding []float32, filter memory.Filter, topK int) ([]memory.Hit, error) {
	m.mu.Lock()
	m.calls = append(m.calls, Call{Method: "Query", Args: []any{embedding, filter, topK}})
	result, err := m.QueryResult, m.QueryErr
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if result != nil {
		out := make([]memory.Hit, len(result))
		copy(out, result)
		return out, nil
	}
	return m.index().Query(ctx, embedding, filter, topK)
}

// Delete implements [memory.VectorIndex].
func (m *VectorIndex) Delete(ctx context.Context, ns memory.Namespace, id string) error {
	m.mu.Lock()
	m.calls = append(m.calls, Call{Method: "Delete", Args: []any{ns, id}})
	err := m.DeleteErr
	m.mu.Unlock()
	if err != nil {
		return err
	}
	return m.index().Delete(ctx, ns, id)
}

// DeleteWhere implements [memory.VectorIndex].
func (m *VectorIndex) DeleteWhere(ctx context.Context, filter memory.Filter) error {
	m.mu.Lock()
	m.calls = append(m.calls, Call{Method: "DeleteWhere", Args: []any{filter}})
	err := m.DeleteErr
	m.mu.Unlock()
	if err != nil {
		return err
	}
	return m.index().DeleteWhere(ctx, filter)
}

func (m *VectorIndex) index() *memory.MemIndex {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.inner == nil {
		m.inner = memory.NewMemIndex()
	}
	return m.inner
}
