package panichandler

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/toolshed/toolshed/app/paniclogger"
)

func withPanicLog(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	paniclogger.Reset()
	require.NoError(t, paniclogger.Init(dir))
	t.Cleanup(paniclogger.Reset)
	return filepath.Join(dir, "panic.log")
}

func TestRecoverError(t *testing.T) {
	logPath := withPanicLog(t)

	run := func() (err error) {
		defer RecoverError("worker", &err)
		panic("boom")
	}
	err := run()
	require.Error(t, err)
	assert.Equal(t, "panic in worker: boom", err.Error())

	content, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(content), "worker"))
}

func TestRecoverErrorWithoutPanic(t *testing.T) {
	withPanicLog(t)
	sentinel := errors.New("kept")

	run := func() (err error) {
		defer RecoverError("worker", &err)
		return sentinel
	}
	assert.ErrorIs(t, run(), sentinel)
}

func TestRecoverRepanics(t *testing.T) {
	logPath := withPanicLog(t)

	assert.PanicsWithValue(t, "fatal", func() {
		defer Recover("main")
		panic("fatal")
	})

	content, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Contains(t, string(content), "fatal")
}
