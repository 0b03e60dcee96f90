package runner

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// MockRunner replays scripted responses keyed by the full command line.
type MockRunner struct {
	mu    sync.Mutex
	Calls []string
	// Map: "cmd arg1 arg2" -> response
	Script map[string]MockResponse
}

// MockResponse is the scripted output of one command line.
type MockResponse struct {
	Out string
	Err error
}

// Run implements Runner.
func (m *MockRunner) Run(_ context.Context, name string, args ...string) (string, error) {
	key := strings.TrimSpace(name + " " + strings.Join(args, " "))
	m.mu.Lock()
	m.Calls = append(m.Calls, key)
	m.mu.Unlock()
	if r, ok := m.Script[key]; ok {
		return r.Out, r.Err
	}
	return "", fmt.Errorf("unexpected command: %s", key)
}

// Called reports how many times key was run.
func (m *MockRunner) Called(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.Calls {
		if c == key {
			n++
		}
	}
	return n
}
