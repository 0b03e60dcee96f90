package cmd

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/toolshed/toolshed/app/toolshedctl/cmd/utils/abort"
	"github.com/toolshed/toolshed/app/toolshedctl/cmd/utils/fileops"
	"github.com/toolshed/toolshed/app/toolshedctl/cmd/utils/runner"
	"github.com/toolshed/toolshed/app/toolshedctl/cmd/utils/sharedvenv"
	"github.com/toolshed/toolshed/app/toolshedctl/cmd/utils/softlock"
	"github.com/toolshed/toolshed/app/toolshedctl/cmd/utils/settings"
)

// app carries what every command needs once configuration is resolved.
type app struct {
	settings settings.Settings
	logger   *slog.Logger
	fops     fileops.FileOps
	runner   runner.Runner
	lookPath func(string) string

	// progress is where spinners are drawn; spinners are off when nil.
	progress io.Writer
}

// newApp wires the runtime from s. Log records go to logOut.
func newApp(s settings.Settings, logOut io.Writer) *app {
	logger := newLogger(logOut, s.LogLevel)
	mode := fileops.Execute
	if s.DryRun {
		mode = fileops.DryRun
	}
	// Fatal failures panic with *abort.Error so that held locks are released
	// on the way out; Execute turns them into the exit status.
	a := &app{
		settings: s,
		logger:   logger,
		fops:     fileops.New(fileops.Options{Mode: mode, Logger: logger, Aborter: abort.NewPanicking()}),
		runner:   runner.New(logger),
		lookPath: runner.Which,
	}
	if isTerminal(os.Stderr) {
		a.progress = os.Stderr
	}
	return a
}

func newLogger(w io.Writer, level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}))
}

func (a *app) venvOptions() sharedvenv.Options {
	return sharedvenv.Options{
		BackendName:     a.settings.Backend,
		Python:          a.settings.Python,
		Index:           a.settings.Index,
		StalenessWindow: a.settings.StalenessWindow,
		Runner:          a.runner,
		FileOps:         a.fops,
		Logger:          a.logger,
		LookPath:        a.lookPath,
		Aborter:         abort.NewPanicking(),
	}
}

func (a *app) lockOptions() []softlock.Option {
	return []softlock.Option{softlock.WithLogger(a.logger)}
}

// envPath maps a command argument to an environment folder: anything that
// looks like a path is used as is, a bare name is a tool under the root.
func (a *app) envPath(arg string) string {
	if filepath.IsAbs(arg) || strings.ContainsRune(arg, filepath.Separator) || strings.HasPrefix(arg, ".") {
		return filepath.Clean(arg)
	}
	return a.settings.VenvPath(arg)
}

func (a *app) spin(description string, fn func() error) error {
	return withSpinner(a.progress, a.progress != nil, description, fn)
}
