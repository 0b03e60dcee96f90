package sharedvenv

import (
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindVenvs(t *testing.T) {
	root := t.TempDir()
	for _, dir := range []string{
		"a/bin/bin",
		"b/c/bin",
		"d/lib",
		"e/binaries",
	} {
		require.NoError(t, os.MkdirAll(filepath.Join(root, dir), 0o755))
	}
	require.NoError(t, os.WriteFile(filepath.Join(root, "d", "bin"), nil, 0o644))

	found := slices.Collect(FindVenvs(root))
	slices.Sort(found)
	assert.Equal(t, []string{filepath.Join(root, "a", "bin"), filepath.Join(root, "b", "c", "bin")}, found)
	for _, dir := range found {
		assert.Equal(t, "bin", filepath.Base(dir))
	}

	again := slices.Collect(FindVenvs(root))
	slices.Sort(again)
	assert.Equal(t, found, again, "restartable")

	var first []string
	for dir := range FindVenvs(root) {
		first = append(first, dir)
		break
	}
	assert.Len(t, first, 1)
}

func TestFindVenvsMissingRoot(t *testing.T) {
	assert.Empty(t, slices.Collect(FindVenvs(filepath.Join(t.TempDir(), "missing"))))
}
