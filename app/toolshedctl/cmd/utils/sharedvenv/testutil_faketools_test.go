package sharedvenv

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/toolshed/toolshed/app/toolshedctl/cmd/utils/abort"
	"github.com/toolshed/toolshed/app/toolshedctl/cmd/utils/fileops"
	"github.com/toolshed/toolshed/app/toolshedctl/cmd/utils/softlock"
)

// fakeTools emulates virtualenv and an environment's pip on disk. The
// manifest of each environment is kept in <base>/freeze.txt.
type fakeTools struct {
	mu sync.Mutex
	// available is the version pip installs for an unpinned module.
	available   map[string]string
	failInstall error
	calls       []string
}

func newFakeTools(available map[string]string) *fakeTools {
	return &fakeTools{available: available}
}

func (f *fakeTools) Run(_ context.Context, name string, args ...string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, commandLine(name, args))

	switch filepath.Base(name) {
	case "virtualenv":
		base := args[len(args)-1]
		if err := os.MkdirAll(filepath.Join(base, BinDir), 0o755); err != nil {
			return "", err
		}
		if err := os.WriteFile(filepath.Join(base, BinDir, "python"), []byte("#!/bin/sh\n"), 0o755); err != nil {
			return "", err
		}
		return "", os.WriteFile(filepath.Join(base, BinDir, "pip"), []byte("#!"+base+"/bin/python\n"), 0o755)

	case "pip":
		base := filepath.Dir(filepath.Dir(name))
		switch args[0] {
		case "freeze":
			data, err := os.ReadFile(filepath.Join(base, "freeze.txt"))
			if os.IsNotExist(err) {
				return "", nil
			}
			return string(data), err
		case "install":
			if f.failInstall != nil {
				return "", f.failInstall
			}
			ms, err := ParseSpec(args[len(args)-1])
			if err != nil {
				return "", err
			}
			version := f.available[ms.Name]
			if ms.Pin != "" {
				version = ms.Pin
			}
			script := fmt.Sprintf("#!%s/bin/python\n# %s %s\nimport sys\n", base, ms.Name, version)
			if err := os.WriteFile(filepath.Join(base, BinDir, ms.Name), []byte(script), 0o755); err != nil {
				return "", err
			}
			if version == "" {
				return "", nil
			}
			return "", setManifest(base, ms.Name, version)
		}
	}
	return "", fmt.Errorf("unexpected command: %s", commandLine(name, args))
}

func (f *fakeTools) count(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

func setManifest(base, name, version string) error {
	path := filepath.Join(base, "freeze.txt")
	data, _ := os.ReadFile(path)
	var lines []string
	replaced := false
	for line := range strings.Lines(string(data)) {
		if n, _, ok := strings.Cut(strings.TrimSpace(line), "=="); ok && strings.EqualFold(n, name) {
			line = name + "==" + version + "\n"
			replaced = true
		}
		lines = append(lines, line)
	}
	if !replaced {
		lines = append(lines, name+"=="+version+"\n")
	}
	return os.WriteFile(path, []byte(strings.Join(lines, "")), 0o644)
}

// lockedBase returns a fresh environment folder and its held lock.
func lockedBase(t *testing.T) (string, *softlock.Lock) {
	t.Helper()
	base := filepath.Join(t.TempDir(), "venv")
	lock, err := softlock.Acquire(context.Background(), base, 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = lock.Release() })
	return base, lock
}

// seedEnv creates bin/python so that New does not create the environment.
func seedEnv(t *testing.T, base string, entryPoints ...string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Join(base, BinDir), 0o755))
	for _, name := range append([]string{"python"}, entryPoints...) {
		require.NoError(t, os.WriteFile(filepath.Join(base, BinDir, name), []byte("#!"+base+"/bin/python\n"), 0o755))
	}
}

func testFileOps(mode fileops.Mode) fileops.FileOps {
	return fileops.New(fileops.Options{Mode: mode, Aborter: abort.NewPanicking()})
}

func lookPathFake(string) string { return "/opt/tools/virtualenv" }
