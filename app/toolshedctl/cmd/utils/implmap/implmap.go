// Package implmap keeps an explicit registry of pluggable implementations,
// looked up by a configured name (for example the environment backend).
package implmap

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Factory constructs an implementation.
type Factory[T any] func() (T, error)

// UnknownError is returned when a name is missing or not registered.
type UnknownError struct {
	Kind  string
	Key   string
	Known []string
}

// Error implements the error interface.
func (e *UnknownError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("no %s type configured", e.Kind)
	}
	return fmt.Sprintf("unknown %s type '%s' (known: %s)", e.Kind, e.Key, strings.Join(e.Known, ", "))
}

// Map maintains the known factories of one kind.
type Map[T any] struct {
	kind      string
	mu        sync.RWMutex
	factories map[string]Factory[T]
}

// New returns an empty map. kind names the implementations in error messages.
func New[T any](kind string) *Map[T] {
	return &Map[T]{kind: kind, factories: map[string]Factory[T]{}}
}

// Kind returns the name given to New.
func (m *Map[T]) Kind() string {
	return m.kind
}

// Register installs a factory. Returns an error if the key already exists.
func (m *Map[T]) Register(key string, factory Factory[T]) error {
	key = normalize(key)
	if key == "" {
		return fmt.Errorf("%s: key is required", m.kind)
	}
	if factory == nil {
		return fmt.Errorf("%s: factory is required for %s", m.kind, key)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.factories[key]; exists {
		return fmt.Errorf("%s: %s already registered", m.kind, key)
	}
	m.factories[key] = factory
	return nil
}

// MustRegister panics if registration fails.
func (m *Map[T]) MustRegister(key string, factory Factory[T]) *Map[T] {
	if err := m.Register(key, factory); err != nil {
		panic(err)
	}
	return m
}

// Resolve constructs the implementation registered under key.
func (m *Map[T]) Resolve(key string) (T, error) {
	var zero T
	key = normalize(key)
	if key == "" {
		return zero, &UnknownError{Kind: m.kind}
	}
	m.mu.RLock()
	factory, ok := m.factories[key]
	m.mu.RUnlock()
	if !ok {
		return zero, &UnknownError{Kind: m.kind, Key: key, Known: m.Names()}
	}
	return factory()
}

// Names returns the sorted registered keys.
func (m *Map[T]) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.factories))
	for name := range m.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func normalize(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}
