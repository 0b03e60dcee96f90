// Package runner executes the external programs toolshedctl depends on
// (environment creation tools, package managers) and reports failures as
// *CmdError values carrying the exit code and stderr.
package runner

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	"github.com/toolshed/toolshed/app/toolshedctl/cmd/utils/abort"
)

// Runner runs a program and returns its standard output.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (string, error)
}

// execRunner implements Runner with os/exec.
type execRunner struct {
	logger *slog.Logger
}

// New returns a Runner backed by os/exec.
func New(logger *slog.Logger) Runner {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &execRunner{logger: logger}
}

// Run implements Runner. There is no internal timeout: the subprocess runs
// until it exits or ctx is cancelled by the caller.
func (r *execRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	r.logger.DebugContext(ctx, "Running program", "program", name, "args", args)
	err := cmd.Run()
	if err == nil {
		return stdout.String(), nil
	}

	cmdErr := &CmdError{Program: name, Args: args, Stderr: stderr.String(), Err: err}
	var exitErr *exec.ExitError
	switch {
	case errors.As(err, &exitErr):
		cmdErr.ExitCode = exitErr.ExitCode()
	case errors.Is(err, exec.ErrNotFound), errors.Is(err, os.ErrNotExist):
		cmdErr.Err = ErrNotInstalled
	}
	r.logger.DebugContext(ctx, "Program failed", "program", name, "error", cmdErr)
	return stdout.String(), cmdErr
}

// Program couples a Runner with the abort strategy used in fatal mode.
type Program struct {
	Runner  Runner
	Aborter abort.Aborter
}

// Run executes name with args. In fatal mode any failure aborts with a single
// line ("<name> is not installed", "<name> exited with code N: ...",
// "<name> failed: ..."); otherwise the *CmdError is returned.
func (p Program) Run(ctx context.Context, fatal bool, name string, args ...string) (string, error) {
	out, err := p.Runner.Run(ctx, name, args...)
	if err == nil {
		return out, nil
	}
	if fatal {
		aborter := p.Aborter
		if aborter == nil {
			aborter = abort.NewExit()
		}
		aborter.Abort(err.Error())
	}
	return "", err
}

// Which returns the full path of program found on PATH, or "".
func Which(program string) string {
	if strings.TrimSpace(program) == "" {
		return ""
	}
	path, err := exec.LookPath(program)
	if err != nil {
		return ""
	}
	return path
}
