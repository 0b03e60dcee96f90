package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/toolshed/toolshed/app/toolshedctl/cmd/utils/abort"
	"github.com/toolshed/toolshed/app/toolshedctl/cmd/utils/fileops"
	"github.com/toolshed/toolshed/app/toolshedctl/cmd/utils/runner"
	"github.com/toolshed/toolshed/app/toolshedctl/cmd/utils/settings"
)

// testApp returns an app rooted in a temporary folder that runs r instead of
// real programs.
func testApp(t *testing.T, r runner.Runner, dryRun bool) *app {
	t.Helper()
	s := settings.Defaults()
	s.Root = t.TempDir()
	s.LockTimeout = 2 * time.Second
	s.DryRun = dryRun
	require.NoError(t, s.Validate())

	mode := fileops.Execute
	if dryRun {
		mode = fileops.DryRun
	}
	logger := slog.New(slog.DiscardHandler)
	return &app{
		settings: s,
		logger:   logger,
		fops:     fileops.New(fileops.Options{Mode: mode, Logger: logger, Aborter: abort.NewPanicking()}),
		runner:   r,
		lookPath: func(string) string { return "/opt/tools/virtualenv" },
	}
}

// stubTools plays virtualenv and pip: created environments get a python,
// installs drop an entry point and show up in the next freeze.
type stubTools struct {
	mu       sync.Mutex
	versions map[string]string
	frozen   map[string][]string
	calls    []string
}

func newStubTools(versions map[string]string) *stubTools {
	return &stubTools{versions: versions, frozen: map[string][]string{}}
}

func (s *stubTools) Run(_ context.Context, name string, args ...string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, strings.TrimSpace(name+" "+strings.Join(args, " ")))

	switch {
	case filepath.Base(name) == "virtualenv":
		base := args[len(args)-1]
		return "", writeExecutable(filepath.Join(base, "bin", "python"), "#!/bin/sh\n")
	case filepath.Base(name) == "pip" && args[0] == "freeze":
		base := filepath.Dir(filepath.Dir(name))
		return strings.Join(s.frozen[base], "\n"), nil
	case filepath.Base(name) == "pip" && args[0] == "install":
		base := filepath.Dir(filepath.Dir(name))
		module := args[len(args)-1]
		version, ok := s.versions[module]
		if !ok {
			return "", &runner.CmdError{Program: "pip", ExitCode: 1, Stderr: "No matching distribution found for " + module}
		}
		s.frozen[base] = append(s.frozen[base], module+"=="+version)
		return "", writeExecutable(filepath.Join(base, "bin", module), fmt.Sprintf("#!%s/bin/python\n", base))
	}
	return "", fmt.Errorf("unexpected command: %s %v", name, args)
}

func writeExecutable(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(content), 0o755)
}

// seedEnv lays out an environment with a python and the given entry points.
func seedEnv(t *testing.T, base string, entryPoints ...string) {
	t.Helper()
	for _, name := range append([]string{"python"}, entryPoints...) {
		require.NoError(t, writeExecutable(filepath.Join(base, "bin", name), "#!/bin/sh\n"))
	}
}
