package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/toolshed/toolshed/app/toolshedctl/cmd/utils/runner"
	"github.com/toolshed/toolshed/app/toolshedctl/cmd/utils/sharedvenv"
	"github.com/toolshed/toolshed/app/toolshedctl/cmd/utils/softlock"
)

func TestRelocateCommand(t *testing.T) {
	env := filepath.Join(t.TempDir(), "pex")
	script := filepath.Join(env, "bin", "pex")
	require.NoError(t, writeExecutable(script, "#!/build/pex/bin/python\nimport sys\n"))

	t.Run("dry run leaves the script alone", func(t *testing.T) {
		a := testApp(t, &runner.MockRunner{}, true)
		var out bytes.Buffer
		require.NoError(t, runRelocate(context.Background(), a, &out, env, "/build/pex", env))
		assert.Contains(t, out.String(), "would rewrite 1 line(s)")

		data, err := os.ReadFile(script)
		require.NoError(t, err)
		assert.Equal(t, "#!/build/pex/bin/python\nimport sys\n", string(data))
	})

	t.Run("rewrites", func(t *testing.T) {
		a := testApp(t, &runner.MockRunner{}, false)
		var out bytes.Buffer
		require.NoError(t, runRelocate(context.Background(), a, &out, env, "/build/pex", env))
		assert.Contains(t, out.String(), "rewrote 1 line(s) in "+env)

		data, err := os.ReadFile(script)
		require.NoError(t, err)
		assert.Equal(t, "#!"+env+"/bin/python\nimport sys\n", string(data))
	})

	t.Run("nothing left", func(t *testing.T) {
		a := testApp(t, &runner.MockRunner{}, false)
		var out bytes.Buffer
		require.NoError(t, runRelocate(context.Background(), a, &out, env, "/build/pex", env))
		assert.Contains(t, out.String(), "nothing to relocate")
	})

	t.Run("waits for the environment lock", func(t *testing.T) {
		require.NoError(t, writeExecutable(script, "#!/build/pex/bin/python\n"))
		held, err := softlock.Acquire(context.Background(), env, 0)
		require.NoError(t, err)
		defer held.Release()

		a := testApp(t, &runner.MockRunner{}, false)
		a.settings.LockTimeout = 0
		for _, target := range []string{env, filepath.Join(env, "bin"), script} {
			err = runRelocate(context.Background(), a, &bytes.Buffer{}, target, "/build/pex", env)
			assert.ErrorIs(t, err, softlock.ErrLockTimeout, target)
		}

		data, err := os.ReadFile(script)
		require.NoError(t, err)
		assert.Equal(t, "#!/build/pex/bin/python\n", string(data))
	})

	t.Run("missing path", func(t *testing.T) {
		a := testApp(t, &runner.MockRunner{}, false)
		err := runRelocate(context.Background(), a, &bytes.Buffer{}, filepath.Join(env, "nope"), "/a", "/b")
		var relocErr *sharedvenv.RelocationError
		assert.ErrorAs(t, err, &relocErr)
	})
}

func TestRelocationBase(t *testing.T) {
	env := filepath.Join(t.TempDir(), "pex")
	script := filepath.Join(env, "bin", "pex")
	require.NoError(t, writeExecutable(script, "#!/x\n"))
	loose := filepath.Join(env, "setup.cfg")
	require.NoError(t, os.WriteFile(loose, []byte("x"), 0o644))

	for _, path := range []string{env, filepath.Join(env, "bin"), script, env + "/bin/../bin/pex"} {
		base, err := relocationBase(path)
		require.NoError(t, err)
		assert.Equal(t, env, base, path)
	}
	base, err := relocationBase(loose)
	require.NoError(t, err)
	assert.Equal(t, env, base)

	_, err = relocationBase(filepath.Join(env, "nope"))
	assert.Error(t, err)
}
