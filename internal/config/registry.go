package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/MrWong99/questweaver/pkg/provider/embeddings"
	"github.com/MrWong99/questweaver/pkg/provider/llm"
)

// ErrProviderNotRegistered is returned when a config names a provider that
// has no registered factory.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Provider kinds accepted by [Registry.Names].
const (
	KindLLM        = "llm"
	KindEmbeddings = "embeddings"
)

// Registry maps the provider names used in [ProvidersConfig] to
// constructors. It is safe for concurrent use.
type Registry struct {
	llm        factories[llm.Provider]
	embeddings factories[embeddings.Provider]
}

// factories is the constructor table of one provider kind.
type factories[T any] struct {
	kind string
	mu   sync.RWMutex
	m    map[string]func(ProviderEntry) (T, error)
}

func (f *factories[T]) register(name string, fn func(ProviderEntry) (T, error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.m == nil {
		f.m = make(map[string]func(ProviderEntry) (T, error))
	}
	f.m[name] = fn
}

func (f *factories[T]) create(entry ProviderEntry) (T, error) {
	f.mu.RLock()
	fn, ok := f.m[entry.Name]
	f.mu.RUnlock()
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s %q (registered: %s)",
			ErrProviderNotRegistered, f.kind, entry.Name, strings.Join(f.names(), ", "))
	}
	p, err := fn(entry)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("config: create %s %q: %w", f.kind, entry.Name, err)
	}
	return p, nil
}

func (f *factories[T]) names() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]string, 0, len(f.m))
	for name := range f.m {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}

// NewRegistry returns an empty [Registry].
func NewRegistry() *Registry {
	return &Registry{
		llm:        factories[llm.Provider]{kind: KindLLM},
		embeddings: factories[embeddings.Provider]{kind: KindEmbeddings},
	}
}

// RegisterLLM registers an LLM constructor under name, replacing any earlier one.
func (r *Registry) RegisterLLM(name string, factory func(ProviderEntry) (llm.Provider, error)) {
	r.llm.register(name, factory)
}

// RegisterEmbeddings registers an embeddings constructor under name.
func (r *Registry) RegisterEmbeddings(name string, factory func(ProviderEntry) (embeddings.Provider, error)) {
	r.embeddings.register(name, factory)
}

// CreateLLM builds the LLM provider named by entry.Name.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	return r.llm.create(entry)
}

// CreateEmbeddings builds the embeddings provider named by entry.Name.
func (r *Registry) CreateEmbeddings(entry ProviderEntry) (embeddings.Provider, error) {
	return r.embeddings.create(entry)
}

// Names returns the sorted provider names registered for kind, [KindLLM] or
// [KindEmbeddings].
func (r *Registry) Names(kind string) []string {
	switch kind {
	case KindLLM:
		return r.llm.names()
	case KindEmbeddings:
		return r.embeddings.names()
	}
	return nil
}
