package sharedvenv

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/toolshed/toolshed/app/toolshedctl/cmd/utils/fileops"
	"github.com/toolshed/toolshed/app/toolshedctl/cmd/utils/runner"
)

func rebuildOptions(tools runner.Runner, mode fileops.Mode) Options {
	return Options{
		BackendName: "pip",
		Runner:      tools,
		FileOps:     testFileOps(mode),
		LookPath:    lookPathFake,
	}
}

func siblings(t *testing.T, base string) []string {
	t.Helper()
	entries, err := os.ReadDir(filepath.Dir(base))
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestRebuild(t *testing.T) {
	ctx := context.Background()
	base, lock := lockedBase(t)
	tools := newFakeTools(map[string]string{"pex": "1.0"})

	v, err := New(ctx, lock, rebuildOptions(tools, fileops.Execute))
	require.NoError(t, err)
	res, err := v.EnsureInstalled(ctx, "pex")
	require.NoError(t, err)
	require.Equal(t, Installed, res)
	require.NoError(t, os.WriteFile(filepath.Join(base, "marker"), nil, 0o644))

	tools.available["pex"] = "2.0"
	res, err = Rebuild(ctx, lock, rebuildOptions(tools, fileops.Execute), "pex")
	require.NoError(t, err)
	assert.Equal(t, Installed, res)

	script := readFile(t, filepath.Join(base, BinDir, "pex"))
	assert.True(t, strings.HasPrefix(script, "#!"+base+"/bin/python\n"), script)
	assert.NotContains(t, script, ".tmp-")
	assert.NoFileExists(t, filepath.Join(base, "marker"), "old environment replaced")
	assert.ElementsMatch(t, []string{"venv", "venv.lock"}, siblings(t, base))

	v, err = New(ctx, lock, rebuildOptions(tools, fileops.Execute))
	require.NoError(t, err)
	inst, err := v.InstalledModule(ctx, "pex")
	require.NoError(t, err)
	assert.Equal(t, "2.0", inst.Version)
}

func TestRebuildWithoutLiveEnvironment(t *testing.T) {
	ctx := context.Background()
	base, lock := lockedBase(t)
	tools := newFakeTools(map[string]string{"pex": "1.0"})

	res, err := Rebuild(ctx, lock, rebuildOptions(tools, fileops.Execute), "pex")
	require.NoError(t, err)
	assert.Equal(t, Installed, res)
	assert.FileExists(t, filepath.Join(base, BinDir, "pex"))
}

func TestRebuildFailureKeepsLiveEnvironment(t *testing.T) {
	ctx := context.Background()
	base, lock := lockedBase(t)
	tools := newFakeTools(map[string]string{"pex": "1.0"})

	v, err := New(ctx, lock, rebuildOptions(tools, fileops.Execute))
	require.NoError(t, err)
	_, err = v.EnsureInstalled(ctx, "pex")
	require.NoError(t, err)

	tools.failInstall = &runner.CmdError{Program: "pip", ExitCode: 1, Stderr: "index unreachable"}
	res, err := Rebuild(ctx, lock, rebuildOptions(tools, fileops.Execute), "pex")
	assert.Equal(t, Failed, res)
	assert.ErrorContains(t, err, "index unreachable")

	assert.FileExists(t, filepath.Join(base, BinDir, "pex"))
	assert.ElementsMatch(t, []string{"venv", "venv.lock"}, siblings(t, base))
}

func TestRebuildPreconditions(t *testing.T) {
	ctx := context.Background()
	base, lock := lockedBase(t)
	tools := newFakeTools(map[string]string{"pex": "1.0"})

	res, err := Rebuild(ctx, lock, rebuildOptions(tools, fileops.DryRun), "pex")
	require.NoError(t, err)
	assert.Equal(t, Installed, res)
	assert.Empty(t, tools.calls)
	assert.NoDirExists(t, base)

	_, err = Rebuild(ctx, lock, rebuildOptions(tools, fileops.Execute), "")
	var specErr *SpecError
	assert.ErrorAs(t, err, &specErr)

	require.NoError(t, lock.Release())
	_, err = Rebuild(ctx, lock, rebuildOptions(tools, fileops.Execute), "pex")
	assert.ErrorIs(t, err, ErrLockNotHeld)
}
